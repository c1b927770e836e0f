// Package broker adapts the scheduler's event ingress and event
// publisher components onto NATS JetStream.
package broker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/semstreams/message"
)

// TaskStatus is the nested status object carried by both completion
// events. Routing is a dotted string whose second token (index 1) is
// the taskGraphId, a trusted-input contract owned by the submission API
// and the execution queue, not guessed at here.
type TaskStatus struct {
	TaskID  string `json:"taskId"`
	Routing string `json:"routing"`
}

// TaskGraphID extracts the taskGraphId from a dotted routing string.
// A malformed routing key (too few tokens) is a protocol violation and
// is surfaced as an error, never silently defaulted.
func (s TaskStatus) TaskGraphID() (string, error) {
	parts := strings.Split(s.Routing, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("malformed routing key %q: expected at least 2 dotted tokens", s.Routing)
	}
	return parts[1], nil
}

var (
	completedType = message.Type{Domain: "task", Category: "completed", Version: "v1"}
	failedType    = message.Type{Domain: "task", Category: "failed", Version: "v1"}
	blockedType   = message.Type{Domain: "task-graph", Category: "blocked", Version: "v1"}
	finishedType  = message.Type{Domain: "task-graph", Category: "finished", Version: "v1"}
)

// CompletedPayload is the inbound task-completed event.
type CompletedPayload struct {
	Status    TaskStatus `json:"status"`
	Success   bool       `json:"success"`
	ResultURL string     `json:"resultUrl,omitempty"`
	LogsURL   string     `json:"logsUrl,omitempty"`
}

func (p *CompletedPayload) Schema() message.Type { return completedType }

func (p *CompletedPayload) Validate() error {
	if p.Status.TaskID == "" {
		return fmt.Errorf("status.taskId is required")
	}
	if p.Status.Routing == "" {
		return fmt.Errorf("status.routing is required")
	}
	return nil
}

func (p *CompletedPayload) MarshalJSON() ([]byte, error) {
	type Alias CompletedPayload
	return json.Marshal((*Alias)(p))
}

func (p *CompletedPayload) UnmarshalJSON(data []byte) error {
	type Alias CompletedPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// FailedPayload is the inbound task-failed event: the execution queue has
// exhausted its own retries for this task.
type FailedPayload struct {
	Status TaskStatus `json:"status"`
}

func (p *FailedPayload) Schema() message.Type { return failedType }

func (p *FailedPayload) Validate() error {
	if p.Status.TaskID == "" {
		return fmt.Errorf("status.taskId is required")
	}
	if p.Status.Routing == "" {
		return fmt.Errorf("status.routing is required")
	}
	return nil
}

func (p *FailedPayload) MarshalJSON() ([]byte, error) {
	type Alias FailedPayload
	return json.Marshal((*Alias)(p))
}

func (p *FailedPayload) UnmarshalJSON(data []byte) error {
	type Alias FailedPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// GraphStatus is the status snapshot embedded in both outbound events.
type GraphStatus struct {
	TaskGraphID string `json:"taskGraphId"`
	State       string `json:"state"`
}

// BlockedPayload is the outbound task-graph-blocked event.
type BlockedPayload struct {
	Status GraphStatus `json:"status"`
	TaskID string      `json:"taskId"`
}

func (p *BlockedPayload) Schema() message.Type { return blockedType }
func (p *BlockedPayload) Validate() error {
	if p.Status.TaskGraphID == "" {
		return fmt.Errorf("status.taskGraphId is required")
	}
	if p.TaskID == "" {
		return fmt.Errorf("taskId is required")
	}
	return nil
}

func (p *BlockedPayload) MarshalJSON() ([]byte, error) {
	type Alias BlockedPayload
	return json.Marshal((*Alias)(p))
}

func (p *BlockedPayload) UnmarshalJSON(data []byte) error {
	type Alias BlockedPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// FinishedPayload is the outbound task-graph-finished event.
type FinishedPayload struct {
	Status GraphStatus `json:"status"`
}

func (p *FinishedPayload) Schema() message.Type { return finishedType }
func (p *FinishedPayload) Validate() error {
	if p.Status.TaskGraphID == "" {
		return fmt.Errorf("status.taskGraphId is required")
	}
	return nil
}

func (p *FinishedPayload) MarshalJSON() ([]byte, error) {
	type Alias FinishedPayload
	return json.Marshal((*Alias)(p))
}

func (p *FinishedPayload) UnmarshalJSON(data []byte) error {
	type Alias FinishedPayload
	return json.Unmarshal(data, (*Alias)(p))
}
