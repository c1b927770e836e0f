// Package metrics exposes the scheduler's prometheus counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters the progression engine and entity store
// increment as they react to events.
type Metrics struct {
	GraphsFinished       prometheus.Counter
	GraphsBlocked        prometheus.Counter
	RerunsIssued         prometheus.Counter
	DependentsScheduled  prometheus.Counter
	CASRetries           prometheus.Counter
}

// New creates a fresh set of counters registered under a private
// registry, suitable for tests. Use NewWithRegisterer to attach to the
// process-wide default registry, or NewRegistry to get the private
// registry back for exposition.
func New() *Metrics {
	return NewWithRegisterer(prometheus.NewRegistry())
}

// NewRegistry is New plus the backing *prometheus.Registry, for callers
// that need to serve it over HTTP themselves (e.g. via promhttp).
func NewRegistry() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewWithRegisterer(reg), reg
}

// NewWithRegisterer creates the counters and registers them with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GraphsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_task_graphs_finished_total",
			Help: "Total number of task graphs that transitioned to finished.",
		}),
		GraphsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_task_graphs_blocked_total",
			Help: "Total number of running-to-blocked task graph transitions.",
		}),
		RerunsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_task_reruns_issued_total",
			Help: "Total number of rerun requests issued to the execution queue.",
		}),
		DependentsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_dependent_tasks_scheduled_total",
			Help: "Total number of dependent-task schedule requests issued to the execution queue.",
		}),
		CASRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_entity_store_cas_retries_total",
			Help: "Total number of compare-and-swap conflicts the entity store retried.",
		}),
	}
	reg.MustRegister(m.GraphsFinished, m.GraphsBlocked, m.RerunsIssued, m.DependentsScheduled, m.CASRetries)
	return m
}
