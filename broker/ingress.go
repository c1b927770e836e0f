package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// CompletedHandler is invoked for every task-completed event once it has
// been decoded. A returned error causes the delivering message to be
// nacked for redelivery; success acks it.
type CompletedHandler func(ctx context.Context, graphID string, taskID string, p *CompletedPayload) error

// FailedHandler is invoked for every task-failed event.
type FailedHandler func(ctx context.Context, graphID string, taskID string, p *FailedPayload) error

// IngressConfig names the two exchange-equivalent JetStream streams and
// consumer durable names the ingress binds to.
type IngressConfig struct {
	SchedulerID string

	CompletedStreamName   string
	CompletedConsumerName string

	FailedStreamName   string
	FailedConsumerName string

	// AckWait bounds how long the broker waits for an ack before
	// considering a delivery lost and redelivering.
	AckWait time.Duration
	// MaxDeliver bounds how many times the broker will redeliver a
	// message whose handler keeps failing.
	MaxDeliver int
}

// Ingress subscribes to the task-completed and task-failed exchanges,
// filtered to this scheduler's identifier, and dispatches decoded events
// to the supplied handlers. Messages on either exchange that fail to
// decode, or whose routing key is malformed, are programming errors:
// they are logged and nacked, never silently dropped.
type Ingress struct {
	js     jetstream.JetStream
	cfg    IngressConfig
	logger *slog.Logger

	onCompleted CompletedHandler
	onFailed    FailedHandler

	mu        sync.Mutex
	cancelFns []context.CancelFunc
	wg        sync.WaitGroup
}

// NewIngress constructs an Ingress bound to js. Call Start to begin
// consuming.
func NewIngress(js jetstream.JetStream, cfg IngressConfig, logger *slog.Logger, onCompleted CompletedHandler, onFailed FailedHandler) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{js: js, cfg: cfg, logger: logger, onCompleted: onCompleted, onFailed: onFailed}
}

// Start creates (or attaches to) the two durable consumers and begins
// two consume loops, one per exchange. It returns once both consumers
// exist; the loops continue running in background goroutines until ctx
// is cancelled or Stop is called.
func (in *Ingress) Start(ctx context.Context) error {
	completedSubject := fmt.Sprintf("%s.>", in.cfg.SchedulerID)
	failedSubject := fmt.Sprintf("%s.>", in.cfg.SchedulerID)

	completedConsumer, err := in.bindConsumer(ctx, in.cfg.CompletedStreamName, in.cfg.CompletedConsumerName, completedSubject)
	if err != nil {
		return fmt.Errorf("bind task-completed consumer: %w", err)
	}
	failedConsumer, err := in.bindConsumer(ctx, in.cfg.FailedStreamName, in.cfg.FailedConsumerName, failedSubject)
	if err != nil {
		return fmt.Errorf("bind task-failed consumer: %w", err)
	}

	in.runLoop(ctx, completedConsumer, in.handleCompletedMsg)
	in.runLoop(ctx, failedConsumer, in.handleFailedMsg)

	return nil
}

func (in *Ingress) bindConsumer(ctx context.Context, streamName, consumerName, filterSubject string) (jetstream.Consumer, error) {
	stream, err := in.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", streamName, err)
	}
	ackWait := in.cfg.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	maxDeliver := in.cfg.MaxDeliver
	if maxDeliver <= 0 {
		maxDeliver = 3
	}
	return stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
	})
}

func (in *Ingress) runLoop(ctx context.Context, consumer jetstream.Consumer, handle func(context.Context, jetstream.Msg)) {
	loopCtx, cancel := context.WithCancel(ctx)
	in.mu.Lock()
	in.cancelFns = append(in.cancelFns, cancel)
	in.mu.Unlock()

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		for {
			select {
			case <-loopCtx.Done():
				return
			default:
			}
			msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if loopCtx.Err() != nil {
					return
				}
				continue
			}
			for msg := range msgs.Messages() {
				handle(loopCtx, msg)
			}
		}
	}()
}

func (in *Ingress) handleCompletedMsg(ctx context.Context, msg jetstream.Msg) {
	var p CompletedPayload
	if err := json.Unmarshal(msg.Data(), &p); err != nil {
		in.logger.Error("failed to decode task-completed payload", "error", err)
		in.nak(msg)
		return
	}
	if err := p.Validate(); err != nil {
		in.logger.Error("invalid task-completed payload", "error", err)
		in.nak(msg)
		return
	}
	graphID, err := p.Status.TaskGraphID()
	if err != nil {
		in.logger.Error("malformed routing key on task-completed event", "error", err, "task_id", p.Status.TaskID)
		in.nak(msg)
		return
	}

	if err := in.onCompleted(ctx, graphID, p.Status.TaskID, &p); err != nil {
		in.logger.Error("task-completed handler failed", "error", err, "task_graph_id", graphID, "task_id", p.Status.TaskID)
		in.nak(msg)
		return
	}
	in.ack(msg)
}

func (in *Ingress) handleFailedMsg(ctx context.Context, msg jetstream.Msg) {
	var p FailedPayload
	if err := json.Unmarshal(msg.Data(), &p); err != nil {
		in.logger.Error("failed to decode task-failed payload", "error", err)
		in.nak(msg)
		return
	}
	if err := p.Validate(); err != nil {
		in.logger.Error("invalid task-failed payload", "error", err)
		in.nak(msg)
		return
	}
	graphID, err := p.Status.TaskGraphID()
	if err != nil {
		in.logger.Error("malformed routing key on task-failed event", "error", err, "task_id", p.Status.TaskID)
		in.nak(msg)
		return
	}

	if err := in.onFailed(ctx, graphID, p.Status.TaskID, &p); err != nil {
		in.logger.Error("task-failed handler failed", "error", err, "task_graph_id", graphID, "task_id", p.Status.TaskID)
		in.nak(msg)
		return
	}
	in.ack(msg)
}

func (in *Ingress) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		in.logger.Warn("failed to ack message", "error", err)
	}
}

func (in *Ingress) nak(msg jetstream.Msg) {
	if err := msg.Nak(); err != nil {
		in.logger.Warn("failed to nak message", "error", err)
	}
}

// Stop cancels all running consume loops and waits for them to return.
func (in *Ingress) Stop() {
	in.mu.Lock()
	fns := in.cancelFns
	in.cancelFns = nil
	in.mu.Unlock()

	for _, cancel := range fns {
		cancel()
	}
	in.wg.Wait()
}
