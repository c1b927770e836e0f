// Package dispatcher routes decoded broker events to the progression
// engine and enforces per-(taskGraphId,taskId) serialization across
// concurrently in-flight handlers.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/petemoore/task-graph-scheduler/broker"
)

// Engine is the subset of the progression engine the dispatcher routes
// to. Defined here (rather than imported from package progression) to
// keep dispatcher free of a dependency on progression's entity-store
// wiring; progression.Engine satisfies it.
type Engine interface {
	Succeed(ctx context.Context, graphID, taskID string, p *broker.CompletedPayload) error
	SoftFail(ctx context.Context, graphID, taskID string, p *broker.CompletedPayload) error
	HardFail(ctx context.Context, graphID, taskID string, p *broker.FailedPayload) error
}

// Dispatcher implements the routing step: completed(success=true) goes
// to the success path, completed(success=false) and failed both go to
// the block-or-rerun paths.
type Dispatcher struct {
	engine Engine
	locks  *keyedLocks
	logger *slog.Logger
}

func New(engine Engine) *Dispatcher {
	return NewWithLogger(engine, nil)
}

// NewWithLogger is New with an explicit logger; the dispatcher's log line
// for each dispatched event carries a fresh attempt id, so separate
// redeliveries of the same message can be told apart in the logs. The id
// is not passed on to the engine or the entity store.
func NewWithLogger(engine Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{engine: engine, locks: newKeyedLocks(), logger: logger}
}

// HandleCompleted implements broker.CompletedHandler.
func (d *Dispatcher) HandleCompleted(ctx context.Context, graphID, taskID string, p *broker.CompletedPayload) error {
	attemptID := uuid.New().String()
	key := lockKey(graphID, taskID)
	return d.locks.withLock(key, func() error {
		if p.Success {
			d.logger.Debug("dispatching success path", "attempt_id", attemptID, "task_graph_id", graphID, "task_id", taskID)
			return d.engine.Succeed(ctx, graphID, taskID, p)
		}
		d.logger.Debug("dispatching soft-fail path", "attempt_id", attemptID, "task_graph_id", graphID, "task_id", taskID)
		return d.engine.SoftFail(ctx, graphID, taskID, p)
	})
}

// HandleFailed implements broker.FailedHandler.
func (d *Dispatcher) HandleFailed(ctx context.Context, graphID, taskID string, p *broker.FailedPayload) error {
	attemptID := uuid.New().String()
	key := lockKey(graphID, taskID)
	return d.locks.withLock(key, func() error {
		d.logger.Debug("dispatching hard-fail path", "attempt_id", attemptID, "task_graph_id", graphID, "task_id", taskID)
		return d.engine.HardFail(ctx, graphID, taskID, p)
	})
}

func lockKey(graphID, taskID string) string {
	return fmt.Sprintf("%s.%s", graphID, taskID)
}
