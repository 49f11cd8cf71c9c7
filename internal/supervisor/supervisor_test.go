package supervisor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/proctor/internal/supervisor"
)

type flaky struct {
	runs  atomic.Int32
	fails int32
}

func (f *flaky) Serve(ctx context.Context) error {
	if f.runs.Add(1) <= f.fails {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeServer struct {
	mu       sync.Mutex
	stop     chan struct{}
	shutdown bool
}

func (s *fakeServer) ListenAndServe() error {
	<-s.stop
	return nil
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	close(s.stop)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTree(t *testing.T) {
	Convey("Given a tree with a service that fails twice", t, func() {
		tree := supervisor.NewTree(quietLogger(), supervisor.TreeConfig{FailureBackoff: 10 * time.Millisecond})
		svc := &flaky{fails: 2}
		tree.AddLive(supervisor.Named("flaky", svc))

		ctx, cancel := context.WithCancel(context.Background())
		done := tree.ServeBackground(ctx)

		Convey("It is restarted until it stays up", func() {
			deadline := time.Now().Add(2 * time.Second)
			for svc.runs.Load() < 3 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(svc.runs.Load(), ShouldBeGreaterThanOrEqualTo, int32(3))
			cancel()
			<-done
		})
	})
}

func TestHTTPService(t *testing.T) {
	Convey("Cancelling the context shuts the server down", t, func() {
		srv := &fakeServer{stop: make(chan struct{})}
		svc := supervisor.NewHTTPService(srv, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()
		cancel()

		err := <-errCh
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
		srv.mu.Lock()
		So(srv.shutdown, ShouldBeTrue)
		srv.mu.Unlock()
		So(svc.String(), ShouldEqual, "http-server")
	})
}
