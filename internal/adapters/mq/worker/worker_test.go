package worker_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/proctor/internal/adapters/mq/queue"
	worker "github.com/okian/proctor/internal/adapters/mq/worker"
	model "github.com/okian/proctor/internal/domain/model"
	logging "github.com/okian/proctor/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockSender struct {
	mu    sync.Mutex
	sent  []string
	fail  map[string]error
	delay time.Duration
}

func newMockSender() *mockSender {
	return &mockSender{fail: make(map[string]error)}
}

func (m *mockSender) PostEvent(ctx context.Context, ev worker.Event) error { //nolint:gocritic // hugeParam
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[ev.ID]; ok {
		return err
	}
	m.sent = append(m.sent, ev.ID)
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func event(id string) queue.Event {
	ev := model.NewCheatingEvent(model.NoFace, "No face detected", "", time.Now(), "exam-1", "cand-1")
	ev.ID = id
	return ev
}

func TestPool(t *testing.T) {
	convey.Convey("Given a worker pool over the outbox", t, func() {
		convey.So(logging.Init(logging.WithWriter(io.Discard)), convey.ShouldBeNil)
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		sender := newMockSender()
		pool := worker.NewPool(3, q, sender)
		ctx := context.Background()
		pool.Start(ctx)

		convey.Convey("When events are enqueued and the pool shuts down", func() {
			for _, id := range []string{"a", "b", "c", "d"} {
				convey.So(q.Enqueue(ctx, event(id)), convey.ShouldBeTrue)
			}
			err := pool.Shutdown(ctx)

			convey.Convey("Then every queued event is delivered before workers stop", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(sender.count(), convey.ShouldEqual, 4)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When one delivery fails", func() {
			sender.fail["bad"] = errors.New("backend unavailable")
			q.Enqueue(ctx, event("bad"))
			q.Enqueue(ctx, event("good"))
			_ = pool.Shutdown(ctx)

			convey.Convey("Then the failure is swallowed and not retried", func() {
				convey.So(sender.sent, convey.ShouldResemble, []string{"good"})
			})
		})

		convey.Convey("When the drain deadline expires", func() {
			slow := newMockSender()
			slow.delay = time.Hour
			q2 := queue.NewInMemoryQueue()
			p2 := worker.NewPool(1, q2, slow)
			p2.Start(ctx)
			q2.Enqueue(ctx, event("stuck"))
			short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			err := p2.Shutdown(short)
			_ = pool.Shutdown(ctx)

			convey.Convey("Then in-flight work is cancelled and the timeout reported", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(slow.count(), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestWorkerSendTimeout(t *testing.T) {
	convey.Convey("Given a worker with a short send timeout", t, func() {
		convey.So(logging.Init(logging.WithWriter(io.Discard)), convey.ShouldBeNil)
		q := queue.NewInMemoryQueue()
		slow := newMockSender()
		slow.delay = time.Hour
		w := worker.NewInMemoryWorker(q, slow, worker.WithSendTimeout(20*time.Millisecond), worker.WithLogger(logging.Nop()))
		ctx := context.Background()
		go w.Run(ctx)

		q.Enqueue(ctx, event("x"))
		_ = q.Close()

		convey.Convey("Then a stuck delivery does not hold the worker", func() {
			done, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			convey.So(w.Shutdown(done), convey.ShouldBeNil)
			convey.So(slow.count(), convey.ShouldEqual, 0)
		})
	})
}
