package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petemoore/task-graph-scheduler/broker"
)

type fakeEngine struct {
	succeedCalls  atomic.Int64
	softFailCalls atomic.Int64
	hardFailCalls atomic.Int64
	hold          chan struct{}
	inFlight      atomic.Int64
	maxInFlight   atomic.Int64
}

func (f *fakeEngine) Succeed(ctx context.Context, graphID, taskID string, p *broker.CompletedPayload) error {
	f.enter()
	defer f.leave()
	f.succeedCalls.Add(1)
	if f.hold != nil {
		<-f.hold
	}
	return nil
}

func (f *fakeEngine) SoftFail(ctx context.Context, graphID, taskID string, p *broker.CompletedPayload) error {
	f.softFailCalls.Add(1)
	return nil
}

func (f *fakeEngine) HardFail(ctx context.Context, graphID, taskID string, p *broker.FailedPayload) error {
	f.hardFailCalls.Add(1)
	return nil
}

func (f *fakeEngine) enter() {
	n := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
}

func (f *fakeEngine) leave() {
	f.inFlight.Add(-1)
}

func TestDispatcherRoutesBySuccessFlag(t *testing.T) {
	engine := &fakeEngine{}
	d := New(engine)

	if err := d.HandleCompleted(context.Background(), "g1", "t1", &broker.CompletedPayload{Success: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.HandleCompleted(context.Background(), "g1", "t2", &broker.CompletedPayload{Success: false}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.HandleFailed(context.Background(), "g1", "t3", &broker.FailedPayload{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if engine.succeedCalls.Load() != 1 {
		t.Fatalf("expected 1 Succeed call, got %d", engine.succeedCalls.Load())
	}
	if engine.softFailCalls.Load() != 1 {
		t.Fatalf("expected 1 SoftFail call, got %d", engine.softFailCalls.Load())
	}
	if engine.hardFailCalls.Load() != 1 {
		t.Fatalf("expected 1 HardFail call, got %d", engine.hardFailCalls.Load())
	}
}

// TestDispatcherSerializesSameKey asserts concurrent events for the same
// (taskGraphId,taskId) pair never run the engine concurrently.
func TestDispatcherSerializesSameKey(t *testing.T) {
	engine := &fakeEngine{hold: make(chan struct{})}
	d := New(engine)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.HandleCompleted(context.Background(), "g1", "same", &broker.CompletedPayload{Success: true})
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(engine.hold)
	wg.Wait()

	if got := engine.maxInFlight.Load(); got != 1 {
		t.Fatalf("expected at most 1 concurrent handler for the same key, observed %d", got)
	}
	if engine.succeedCalls.Load() != 3 {
		t.Fatalf("expected all 3 calls to eventually run, got %d", engine.succeedCalls.Load())
	}
}

// TestDispatcherAllowsDifferentKeysConcurrently asserts unrelated keys
// are not serialized against each other.
func TestDispatcherAllowsDifferentKeysConcurrently(t *testing.T) {
	hold := make(chan struct{})
	engine := &fakeEngine{hold: hold}
	d := New(engine)

	done := make(chan struct{}, 2)
	go func() {
		_ = d.HandleCompleted(context.Background(), "g1", "a", &broker.CompletedPayload{Success: true})
		done <- struct{}{}
	}()
	go func() {
		_ = d.HandleCompleted(context.Background(), "g1", "b", &broker.CompletedPayload{Success: true})
		done <- struct{}{}
	}()

	// Both should be able to start (block on hold) without either being
	// serialized behind the other, since they key on different taskIds.
	time.Sleep(20 * time.Millisecond)
	close(hold)
	<-done
	<-done

	if got := engine.maxInFlight.Load(); got != 2 {
		t.Fatalf("expected both handlers for different keys to run concurrently, observed %d", got)
	}
}
