package broker

import "github.com/bmatcuk/doublestar/v4"

// ScopeGate decides whether this scheduler instance is configured to act
// on a task graph's declared scopes. It is a lightweight, operational
// partition on top of the full credential/scope validation system named
// as out-of-scope by the core spec (§1): that system decides who may
// submit or extend a graph; this gate only decides whether a *already
// admitted* graph's scopes fall within the subset this scheduler
// instance was configured to serve, so a misconfigured deployment fails
// closed (skipping the publish, not the state transition) instead of
// notifying the wrong downstream consumers.
type ScopeGate struct {
	patterns []string
}

// NewScopeGate builds a gate from the configured allowlist. A nil or
// empty allowlist permits every scope.
func NewScopeGate(patterns []string) ScopeGate {
	return ScopeGate{patterns: patterns}
}

// Allows reports whether any of the graph's scopes matches an allowlist
// pattern. Patterns use doublestar glob syntax ("team-a.*", "org.**"),
// matched against each scope independently; the graph is allowed if any
// scope matches any pattern.
func (g ScopeGate) Allows(scopes []string) bool {
	if len(g.patterns) == 0 {
		return true
	}
	for _, scope := range scopes {
		for _, pattern := range g.patterns {
			if ok, err := doublestar.Match(pattern, scope); err == nil && ok {
				return true
			}
		}
	}
	return false
}
