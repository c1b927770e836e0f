// Package queue provides the scheduler's client to the downstream
// execution queue: requesting reruns and scheduling newly-eligible
// tasks. Both operations are idempotent by taskId on the queue side; the
// core may call them more than once for the same task without
// consequence.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Client is the downstream execution queue's surface as seen by the
// progression engine.
type Client interface {
	// RerunTask asks the execution queue to run taskID again.
	RerunTask(ctx context.Context, taskGraphID, taskID string) error
	// ScheduleTask asks the execution queue to run a task for the first
	// time, carrying its opaque definition.
	ScheduleTask(ctx context.Context, taskGraphID, taskID string, definition json.RawMessage) error
}

// Config names the subject prefixes the two RPCs are published under.
type Config struct {
	RerunSubjectPrefix    string
	ScheduleSubjectPrefix string
}

// natsClient is the JetStream-backed Client implementation.
type natsClient struct {
	js  jetstream.JetStream
	cfg Config
}

func NewClient(js jetstream.JetStream, cfg Config) Client {
	return &natsClient{js: js, cfg: cfg}
}

type rerunRequest struct {
	TaskGraphID string `json:"task_graph_id"`
	TaskID      string `json:"task_id"`
}

type scheduleRequest struct {
	TaskGraphID string          `json:"task_graph_id"`
	TaskID      string          `json:"task_id"`
	Definition  json.RawMessage `json:"definition,omitempty"`
}

func (c *natsClient) RerunTask(ctx context.Context, taskGraphID, taskID string) error {
	data, err := json.Marshal(rerunRequest{TaskGraphID: taskGraphID, TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal rerun request: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", c.cfg.RerunSubjectPrefix, taskGraphID)
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("rerun task %s/%s: %w", taskGraphID, taskID, err)
	}
	return nil
}

func (c *natsClient) ScheduleTask(ctx context.Context, taskGraphID, taskID string, definition json.RawMessage) error {
	data, err := json.Marshal(scheduleRequest{TaskGraphID: taskGraphID, TaskID: taskID, Definition: definition})
	if err != nil {
		return fmt.Errorf("marshal schedule request: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", c.cfg.ScheduleSubjectPrefix, taskGraphID)
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("schedule task %s/%s: %w", taskGraphID, taskID, err)
	}
	return nil
}
