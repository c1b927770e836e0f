// Package progression implements the graph progression engine: the
// rerun-vs-block decision on failure, scheduling of unblocked dependents
// on success, and graph-finish/graph-block transitions.
package progression

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petemoore/task-graph-scheduler/broker"
	"github.com/petemoore/task-graph-scheduler/entity"
	"github.com/petemoore/task-graph-scheduler/metrics"
	"github.com/petemoore/task-graph-scheduler/queue"
	"github.com/petemoore/task-graph-scheduler/task"
)

// Publisher is the subset of broker.Publisher the engine needs. Defined
// as an interface so tests can substitute a recorder.
type Publisher interface {
	PublishBlocked(ctx context.Context, graphID, state, blockingTaskID, routing string) error
	PublishFinished(ctx context.Context, graphID, state, routing string) error
}

// Engine is the graph progression engine. It owns no transport and no
// serialization of its own: the dispatcher guarantees at most one
// in-flight call per (taskGraphId,taskId) pair before calling in.
type Engine struct {
	tasks     *entity.Store[task.Task]
	graphs    *entity.Store[task.TaskGraph]
	queue     queue.Client
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	scopes    broker.ScopeGate
}

func New(tasks *entity.Store[task.Task], graphs *entity.Store[task.TaskGraph], q queue.Client, pub Publisher, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return NewWithScopeGate(tasks, graphs, q, pub, logger, m, broker.NewScopeGate(nil))
}

// NewWithScopeGate is New plus an explicit scope allowlist: graphs whose
// scopes don't match are still transitioned, but their lifecycle events
// are not published by this instance (see broker.ScopeGate).
func NewWithScopeGate(tasks *entity.Store[task.Task], graphs *entity.Store[task.TaskGraph], q queue.Client, pub Publisher, logger *slog.Logger, m *metrics.Metrics, scopes broker.ScopeGate) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Engine{tasks: tasks, graphs: graphs, queue: q, publisher: pub, logger: logger, metrics: m, scopes: scopes}
}

// Succeed implements §4.4: record the task's successful resolution, then
// either schedule its dependents or, for a leaf task, check whether the
// owning graph has finished.
func (e *Engine) Succeed(ctx context.Context, graphID, taskID string, p *broker.CompletedPayload) error {
	key := task.Key(graphID, taskID)

	updated, err := e.tasks.Modify(ctx, key, func(t *task.Task) error {
		if t.Resolution != nil {
			return entity.ErrNoop
		}
		t.Resolution = &task.Resolution{
			Completed: true,
			Success:   true,
			ResultURL: p.ResultURL,
			LogsURL:   p.LogsURL,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record success for %s: %w", key, err)
	}

	if len(updated.Dependents) > 0 {
		return e.scheduleDependents(ctx, graphID, updated.Dependents)
	}
	return e.graphFinishCheck(ctx, graphID, taskID)
}

// scheduleDependents implements §4.4(2) and the §9 resolution of
// scheduleDependentTasks: for each dependent, load it fresh and check
// every task named in its own Requires set against that task's
// currently committed resolution.success value, never trusting the
// triggering task's event alone. A dependent whose prerequisites are all
// satisfied is submitted to the execution queue; the core may attempt
// this even if another handler already did, since scheduleTask is
// idempotent by taskId.
func (e *Engine) scheduleDependents(ctx context.Context, graphID string, dependentIDs []string) error {
	for _, depID := range dependentIDs {
		dep, err := e.tasks.Load(ctx, task.Key(graphID, depID))
		if err != nil {
			return fmt.Errorf("load dependent %s/%s: %w", graphID, depID, err)
		}

		ready, err := e.allRequirementsSatisfied(ctx, graphID, dep.Requires)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}

		if err := e.queue.ScheduleTask(ctx, graphID, depID, dep.Definition); err != nil {
			return fmt.Errorf("schedule dependent %s/%s: %w", graphID, depID, err)
		}
		e.metrics.DependentsScheduled.Inc()
	}
	return nil
}

func (e *Engine) allRequirementsSatisfied(ctx context.Context, graphID string, requires []string) (bool, error) {
	for _, reqID := range requires {
		req, err := e.tasks.Load(ctx, task.Key(graphID, reqID))
		if err != nil {
			return false, fmt.Errorf("load prerequisite %s/%s: %w", graphID, reqID, err)
		}
		if req.Resolution == nil || !req.Resolution.Success {
			return false, nil
		}
	}
	return true, nil
}

// HardFail implements §4.5: the execution queue has exhausted its own
// retries. The core never requests a rerun in this path.
func (e *Engine) HardFail(ctx context.Context, graphID, taskID string, _ *broker.FailedPayload) error {
	key := task.Key(graphID, taskID)

	_, err := e.tasks.Modify(ctx, key, func(t *task.Task) error {
		if t.Resolution != nil {
			return entity.ErrNoop
		}
		t.Resolution = &task.Resolution{Completed: false, Success: false}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record hard failure for %s: %w", key, err)
	}

	return e.blockGraph(ctx, graphID, taskID)
}

// SoftFail implements §4.6: the task completed but signalled failure,
// and the core owns the rerun budget.
func (e *Engine) SoftFail(ctx context.Context, graphID, taskID string, p *broker.CompletedPayload) error {
	key := task.Key(graphID, taskID)

	var hasRerunAvailable bool
	_, err := e.tasks.Modify(ctx, key, func(t *task.Task) error {
		// Re-initialized on every attempt: a replay against a freshly
		// reloaded task must not carry over a decision made against a
		// stale one.
		hasRerunAvailable = false

		// An already-resolved task keeps its resolution and its rerun
		// budget.
		if t.Resolution != nil {
			return entity.ErrNoop
		}

		if t.RerunsLeft > 0 {
			t.RerunsLeft--
			hasRerunAvailable = true
			return nil
		}

		t.Resolution = &task.Resolution{
			Completed: true,
			Success:   false,
			ResultURL: p.ResultURL,
			LogsURL:   p.LogsURL,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record soft failure for %s: %w", key, err)
	}

	if hasRerunAvailable {
		if err := e.queue.RerunTask(ctx, graphID, taskID); err != nil {
			return fmt.Errorf("rerun task %s: %w", key, err)
		}
		e.metrics.RerunsIssued.Inc()
		return nil
	}

	return e.blockGraph(ctx, graphID, taskID)
}

// graphFinishCheck implements §4.7. taskID is the just-succeeded leaf
// task. If the graph's requiresLeft no longer contains it, the check is
// a no-op (a redelivered or duplicate event for an already-satisfied
// requirement). Otherwise it is removed, and if that empties
// requiresLeft the graph transitions to finished and the event is
// published after the commit lands.
func (e *Engine) graphFinishCheck(ctx context.Context, graphID, taskID string) error {
	var finishedNow bool

	updated, err := e.graphs.Modify(ctx, graphID, func(g *task.TaskGraph) error {
		finishedNow = false

		if !g.ContainsRequired(taskID) {
			return entity.ErrNoop
		}

		g.RemoveRequired(taskID)
		if len(g.RequiresLeft) == 0 {
			g.State = task.GraphFinished
			finishedNow = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("graph finish check for %s: %w", graphID, err)
	}

	if !finishedNow {
		return nil
	}

	if !e.scopes.Allows(updated.Scopes) {
		e.logger.Warn("skipping taskGraphFinished publish: graph scope not in this instance's allowlist", "task_graph_id", graphID, "scopes", updated.Scopes)
		return nil
	}

	if err := e.publisher.PublishFinished(ctx, graphID, string(updated.State), updated.Routing); err != nil {
		return fmt.Errorf("publish finished for %s: %w", graphID, err)
	}
	e.metrics.GraphsFinished.Inc()
	return nil
}

// blockGraph implements §4.8. If the graph was running, it transitions
// to blocked and the event is published after the commit lands.
// Otherwise the graph is already blocked or already terminal, and this
// is a no-op: a later failure on an already-blocked graph never emits a
// second taskGraphBlocked.
func (e *Engine) blockGraph(ctx context.Context, graphID, blockingTaskID string) error {
	var wasRunning bool

	updated, err := e.graphs.Modify(ctx, graphID, func(g *task.TaskGraph) error {
		wasRunning = false
		wasRunning = g.State == task.GraphRunning
		if !wasRunning {
			return entity.ErrNoop
		}
		g.State = task.GraphBlocked
		return nil
	})
	if err != nil {
		return fmt.Errorf("block graph %s: %w", graphID, err)
	}

	if !wasRunning {
		return nil
	}

	if !e.scopes.Allows(updated.Scopes) {
		e.logger.Warn("skipping taskGraphBlocked publish: graph scope not in this instance's allowlist", "task_graph_id", graphID, "scopes", updated.Scopes)
		return nil
	}

	if err := e.publisher.PublishBlocked(ctx, graphID, string(updated.State), blockingTaskID, updated.Routing); err != nil {
		return fmt.Errorf("publish blocked for %s: %w", graphID, err)
	}
	e.metrics.GraphsBlocked.Inc()
	return nil
}
