package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

func testEvent(id string) Event {
	ev := model.NewCheatingEvent(model.CellPhone, "phone", "", time.Now(), "exam-1", "cand-1")
	ev.ID = id
	return ev
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, testEvent("event1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	event := <-q.Dequeue(ctx)
	if event.ID != "event1" {
		t.Errorf("expected event1, got %v", event.ID)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_FullQueueDropsWithoutBlocking(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	q.Enqueue(ctx, testEvent("event1"))
	q.Enqueue(ctx, testEvent("event2"))

	done := make(chan bool, 1)
	go func() { done <- q.Enqueue(ctx, testEvent("event3")) }()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected enqueue to fail when full")
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}

	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, testEvent("event1")) {
		t.Error("expected enqueue to fail on a cancelled context")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1000))
	ctx := context.Background()
	const producers, perProducer = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(ctx, testEvent("e"))
			}
		}()
	}
	wg.Wait()

	if l := q.Len(ctx); l != producers*perProducer {
		t.Errorf("expected %d events, got %d", producers*perProducer, l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	q.Enqueue(ctx, testEvent("event1"))
	q.Enqueue(ctx, testEvent("event2"))

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if q.Enqueue(ctx, testEvent("event3")) {
		t.Error("expected enqueue to fail after close")
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	var drained []string
	for ev := range q.Dequeue(ctx) {
		drained = append(drained, ev.ID)
	}
	if len(drained) != 2 || drained[0] != "event1" || drained[1] != "event2" {
		t.Errorf("expected queued events to drain in order, got %v", drained)
	}
}
