// Package task defines the durable entities the scheduler reacts to:
// tasks and the task graphs that own them.
package task

import (
	"encoding/json"
	"time"
)

// GraphState is the lifecycle state of a TaskGraph.
type GraphState string

const (
	GraphRunning  GraphState = "running"
	GraphBlocked  GraphState = "blocked"
	GraphFinished GraphState = "finished"
)

// TaskGraph tracks the submission-time shape and live progression state of
// one task graph. Created by the (out-of-scope) submission API, mutated
// only through entity.Store.Modify, never destroyed.
type TaskGraph struct {
	TaskGraphID string `json:"task_graph_id"`
	State       GraphState `json:"state"`

	// RequiresLeft holds the taskIds of leaf tasks still needing a
	// successful resolution before the graph can finish. It shrinks
	// monotonically and is always a subset of the graph's leaf tasks.
	RequiresLeft []string `json:"requires_left"`

	// Routing is opaque to the core and immutable after creation. It is
	// carried into every lifecycle event this graph publishes.
	Routing string `json:"routing"`

	Scopes   []string          `json:"scopes,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContainsRequired reports whether taskID is still in RequiresLeft.
func (g *TaskGraph) ContainsRequired(taskID string) bool {
	for _, id := range g.RequiresLeft {
		if id == taskID {
			return true
		}
	}
	return false
}

// RemoveRequired removes taskID from RequiresLeft, if present.
func (g *TaskGraph) RemoveRequired(taskID string) {
	out := g.RequiresLeft[:0]
	for _, id := range g.RequiresLeft {
		if id != taskID {
			out = append(out, id)
		}
	}
	g.RequiresLeft = out
}

// Resolution is the terminal marker for a Task. Its presence on a Task
// means the task is no longer live; it is set exactly once and never
// unset or overwritten with different values.
type Resolution struct {
	Completed bool   `json:"completed"`
	Success   bool   `json:"success"`
	ResultURL string `json:"result_url,omitempty"`
	LogsURL   string `json:"logs_url,omitempty"`
}

// Task tracks one node of a task graph. The composite key (TaskGraphID,
// TaskID) addresses it in the entity store. Created at submission,
// mutated on completion/failure/rerun, never destroyed.
type Task struct {
	TaskGraphID string `json:"task_graph_id"`
	TaskID      string `json:"task_id"`

	// RerunsLeft is decremented only when the task had no prior
	// Resolution and a rerun is actually requested. Never negative.
	RerunsLeft int `json:"reruns_left"`

	// Dependents and Requires are immutable after submission.
	Dependents []string `json:"dependents,omitempty"`
	Requires   []string `json:"requires,omitempty"`

	// Resolution is absent while the task is live.
	Resolution *Resolution `json:"resolution,omitempty"`

	// Definition is an opaque payload the submission API populates and
	// the core passes through untouched to the execution queue.
	Definition json.RawMessage `json:"definition,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsLive reports whether the task has not yet reached a terminal
// resolution.
func (t *Task) IsLive() bool {
	return t.Resolution == nil
}

// Key returns the composite entity-store key for this task.
func Key(taskGraphID, taskID string) string {
	return taskGraphID + "." + taskID
}
