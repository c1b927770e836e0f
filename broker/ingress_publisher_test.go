package broker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func startEmbeddedNATS(t *testing.T) *nats.Conn {
	t.Helper()

	dir := t.TempDir()
	opts := &server.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  dir,
		NoLog:     true,
		NoSigs:    true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded nats not ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect to embedded nats: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

// TestIngressDispatchesCompletedEvent drives a real JetStream stream
// end-to-end: publish a task-completed event, let Ingress fetch and
// decode it, and assert the registered handler observes it.
func TestIngressDispatchesCompletedEvent(t *testing.T) {
	nc := startEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	ctx := context.Background()

	if _, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "COMPLETED",
		Subjects: []string{"sched1.>"},
	}); err != nil {
		t.Fatalf("create completed stream: %v", err)
	}
	if _, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "FAILED",
		Subjects: []string{"sched1-failed.>"},
	}); err != nil {
		t.Fatalf("create failed stream: %v", err)
	}

	var mu sync.Mutex
	var gotGraphID, gotTaskID string
	var gotSuccess bool
	done := make(chan struct{})

	onCompleted := func(_ context.Context, graphID, taskID string, p *CompletedPayload) error {
		mu.Lock()
		defer mu.Unlock()
		gotGraphID, gotTaskID, gotSuccess = graphID, taskID, p.Success
		close(done)
		return nil
	}
	onFailed := func(_ context.Context, _, _ string, _ *FailedPayload) error {
		return nil
	}

	ingress := NewIngress(js, IngressConfig{
		SchedulerID:           "sched1",
		CompletedStreamName:   "COMPLETED",
		CompletedConsumerName: "completed-consumer",
		FailedStreamName:      "FAILED",
		FailedConsumerName:    "failed-consumer",
		AckWait:               5 * time.Second,
		MaxDeliver:            3,
	}, slog.Default(), onCompleted, onFailed)

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := ingress.Start(startCtx); err != nil {
		t.Fatalf("start ingress: %v", err)
	}
	defer ingress.Stop()

	payload := &CompletedPayload{
		Status:  TaskStatus{TaskID: "task-1", Routing: "sched1.graph-1"},
		Success: true,
	}
	data, err := payload.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if _, err := js.Publish(ctx, "sched1.task.completed.graph-1", data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler to run")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotGraphID != "graph-1" || gotTaskID != "task-1" || !gotSuccess {
		t.Fatalf("unexpected dispatch: graphID=%s taskID=%s success=%v", gotGraphID, gotTaskID, gotSuccess)
	}
}

// TestPublisherPublishBlockedRoutesByGraphRouting verifies PublishBlocked
// appends the graph's routing value to the configured subject prefix and
// that the event arrives on that subject.
func TestPublisherPublishBlockedRoutesByGraphRouting(t *testing.T) {
	nc := startEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	ctx := context.Background()

	if _, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "EVENTS",
		Subjects: []string{"EVENTS.>"},
	}); err != nil {
		t.Fatalf("create events stream: %v", err)
	}

	sub, err := nc.SubscribeSync("EVENTS.task-graph-blocked.team.payments")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	publisher := NewPublisher(js, PublisherConfig{
		BlockedSubjectPrefix:  "EVENTS.task-graph-blocked",
		FinishedSubjectPrefix: "EVENTS.task-graph-finished",
		Source:                "test-scheduler",
	})

	if err := publisher.PublishBlocked(ctx, "graph-1", "blocked", "task-3", "team.payments"); err != nil {
		t.Fatalf("publish blocked: %v", err)
	}

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("expected message on blocked subject: %v", err)
	}
	if msg.Subject != "EVENTS.task-graph-blocked.team.payments" {
		t.Fatalf("unexpected subject: %s", msg.Subject)
	}
}
