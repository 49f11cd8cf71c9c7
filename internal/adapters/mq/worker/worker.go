// Package worker drains the outbox and delivers each event to the backend.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultSendTimeout  = 10 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = queue.Event

// Sender delivers one event. Failures are reported, never retried.
type Sender interface {
	PostEvent(ctx context.Context, ev Event) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events until its queue closes.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue drains.
	Run(ctx context.Context)

	// Shutdown waits for the worker to finish.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue       Queue
	sender      Sender
	name        string
	sendTimeout time.Duration

	done chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, sender Sender, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       queue,
		sender:      sender,
		name:        "worker",
		sendTimeout: defaultSendTimeout,
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			if err := w.processEvent(ctx, event); err != nil {
				// Per-event delivery is best effort; the final log is the record.
				w.logger.Warn(ctx, "event delivery failed",
					logger.String("event_id", event.ID),
					logger.String("type", event.Type.String()),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown waits for the worker to stop.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent delivers a single event.
func (w *InMemoryWorker) processEvent(ctx context.Context, event Event) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	if err := w.sender.PostEvent(sendCtx, event); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "delivery_error")
		metrics.RecordErrorByType("delivery_error", "low")
		return fmt.Errorf("deliver event %s: %w", event.ID, err)
	}
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// NewPool creates a new worker pool. A non-positive count uses one worker per CPU.
func NewPool(workerCount int, queue Queue, sender Sender, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(queue, sender, wopts...)
	}

	metrics.UpdateWorkerActiveCount(0)

	return pool
}

// Start starts all workers in the pool. Calling it twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
}

// Stop cancels in-flight deliveries and waits for every worker.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	started := p.started
	p.mu.Unlock()
	if !started {
		return
	}

	for _, worker := range p.workers {
		<-worker.done
	}
	metrics.UpdateWorkerActiveCount(0)
}

// Shutdown closes the queue and lets workers drain what is already queued.
// Deliveries still running when ctx expires are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, worker := range p.workers {
		if err := worker.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			timedOut = true
			break
		}
	}
	p.Stop()
	if timedOut {
		return fmt.Errorf("outbox drain: %w", shutdownCtx.Err())
	}
	return nil
}
