package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/okian/proctor/internal/domain/classify"
	"github.com/okian/proctor/internal/domain/model"
	logging "github.com/okian/proctor/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeStream struct {
	mu       sync.Mutex
	frameErr error
	spectrum []uint8
	closed   int
}

func (f *fakeStream) Frame(context.Context) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frameErr != nil {
		return nil, f.frameErr
	}
	return image.NewRGBA(image.Rect(0, 0, 640, 480)), nil
}

func (f *fakeStream) Spectrum(context.Context) ([]uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spectrum, nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStream) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDetector struct {
	mu      sync.Mutex
	objects []classify.Detection
}

func (d *fakeDetector) set(objs ...classify.Detection) {
	d.mu.Lock()
	d.objects = objs
	d.mu.Unlock()
}

func (d *fakeDetector) Detect(context.Context, image.Image) ([]classify.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]classify.Detection(nil), d.objects...), nil
}

type fakeLandmarks struct{ faces []classify.Face }

func (m fakeLandmarks) EstimateFaces(context.Context, image.Image) ([]classify.Face, error) {
	return m.faces, nil
}

type fakeBackend struct {
	mu        sync.Mutex
	posted    []model.CheatingEvent
	chunks    int
	submitted []model.CheatingLog
	uploadErr error
	submitErr error
}

func (b *fakeBackend) PostEvent(_ context.Context, ev model.CheatingEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.posted = append(b.posted, ev)
	return nil
}

func (b *fakeBackend) Upload(_ context.Context, name, _ string, r io.Reader) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return "", b.uploadErr
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "http://evidence.test/" + name, nil
}

func (b *fakeBackend) SubmitLog(_ context.Context, l model.CheatingLog) (model.CheatingLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, l)
	if b.submitErr != nil {
		return model.CheatingLog{}, b.submitErr
	}
	l.ID = fmt.Sprintf("log-%d", len(b.submitted))
	return l, nil
}

func (b *fakeBackend) UploadChunk(_ context.Context, r io.Reader) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	b.mu.Lock()
	b.chunks++
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) postedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.posted)
}

func (b *fakeBackend) submitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submitted)
}

func (b *fakeBackend) chunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunks
}

func (b *fakeBackend) setSubmitErr(err error) {
	b.mu.Lock()
	b.submitErr = err
	b.mu.Unlock()
}

type chunkFeed struct{}

func (chunkFeed) NextChunk(context.Context) (io.Reader, error) {
	return bytes.NewReader([]byte("webm-bytes")), nil
}

var (
	centred = classify.Detection{Class: "person", Score: 0.9, Box: classify.Box{X: 270, Y: 140, Width: 100, Height: 200}}
	edge    = classify.Detection{Class: "person", Score: 0.9, Box: classify.Box{X: 10, Y: 140, Width: 100, Height: 200}}
	phone   = classify.Detection{Class: "cell phone", Score: 0.8, Box: classify.Box{X: 10, Y: 10, Width: 40, Height: 80}}
)

// passes drives src deterministically, waiting for each capture before the
// clock moves on.
func passes(s *Session, clk *clock, src classify.Source, n int, every time.Duration) {
	for i := 0; i < n; i++ {
		s.step(context.Background(), src)
		s.inflight.Wait()
		clk.Advance(every)
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSessionDetection(t *testing.T) {
	convey.Convey("Given a session driven pass by pass", t, func() {
		convey.So(logging.Init(logging.WithWriter(io.Discard)), convey.ShouldBeNil)

		clk := newClock()
		start := clk.Now()
		stream := &fakeStream{}
		det := &fakeDetector{}
		backend := &fakeBackend{}
		s, err := NewSession(Config{ExamID: "exam-1", CandidateID: "cand-1", Username: "Ada"}, stream, backend,
			WithObjectDetector(det), WithClock(clk.Now))
		convey.So(err, convey.ShouldBeNil)
		defer s.Stop()

		convey.Convey("An empty frame for 12 seconds yields one noFace event at 10 seconds", func() {
			passes(s, clk, classify.SourceObjects, 13, time.Second)

			log := s.Snapshot()
			convey.So(log.Counts.NoFace, convey.ShouldEqual, 1)
			convey.So(log.Events, convey.ShouldHaveLength, 1)
			convey.So(log.Events[0].Type, convey.ShouldEqual, model.NoFace)
			convey.So(log.Events[0].DetectedAt.Equal(start.Add(10*time.Second)), convey.ShouldBeTrue)
			convey.So(log.Screenshots, convey.ShouldHaveLength, 1)
			convey.So(log.Username, convey.ShouldEqual, "Ada")
		})

		convey.Convey("A phone in every pass is admitted once per rate-limit window", func() {
			det.set(centred, phone)
			passes(s, clk, classify.SourceObjects, 5, time.Second)

			log := s.Snapshot()
			convey.So(log.Counts.CellPhone, convey.ShouldEqual, 2)
			convey.So(log.Events[1].DetectedAt.Sub(log.Events[0].DetectedAt), convey.ShouldEqual, 3*time.Second)
		})

		convey.Convey("An unavailable camera skips the pass", func() {
			stream.frameErr = errors.New("camera busy")
			passes(s, clk, classify.SourceObjects, 15, time.Second)
			convey.So(s.Snapshot().Events, convey.ShouldBeEmpty)
		})

		convey.Convey("A failed evidence upload discards the event", func() {
			backend.uploadErr = errors.New("bucket down")
			det.set(centred, phone)
			passes(s, clk, classify.SourceObjects, 1, time.Second)
			convey.So(s.Snapshot().Events, convey.ShouldBeEmpty)
		})

		convey.Convey("Looking away then back records focusLost and refocused", func() {
			det.set(edge)
			passes(s, clk, classify.SourceObjects, 6, time.Second)
			det.set(centred)
			passes(s, clk, classify.SourceObjects, 1, time.Second)

			log := s.Snapshot()
			convey.So(log.Events, convey.ShouldHaveLength, 2)
			convey.So(log.Events[0].Type, convey.ShouldEqual, model.FocusLost)
			convey.So(log.Events[1].Type, convey.ShouldEqual, model.Refocused)
		})

		convey.Convey("A focusLost lost to a failed upload is not followed by refocused", func() {
			backend.uploadErr = errors.New("bucket down")
			det.set(edge)
			passes(s, clk, classify.SourceObjects, 6, time.Second)
			backend.uploadErr = nil
			det.set(centred)
			passes(s, clk, classify.SourceObjects, 1, time.Second)
			convey.So(s.Snapshot().Events, convey.ShouldBeEmpty)
		})

		convey.Convey("Loud audio fires from the spectrum pass", func() {
			stream.spectrum = bytes.Repeat([]byte{200}, 64)
			passes(s, clk, classify.SourceAudio, 1, 2*time.Second)
			convey.So(s.Snapshot().Counts.AudioAlert, convey.ShouldEqual, 1)
		})

		convey.Convey("Advancing the phase zeroes the running log", func() {
			det.set(centred, phone)
			passes(s, clk, classify.SourceObjects, 1, time.Second)
			convey.So(s.Snapshot().Counts.Total(), convey.ShouldEqual, 1)

			fresh, err := s.AdvancePhase()
			convey.So(err, convey.ShouldBeNil)
			convey.So(fresh.Counts.Total(), convey.ShouldEqual, 0)
			convey.So(fresh.ExamID, convey.ShouldEqual, "exam-1")
			convey.So(fresh.Username, convey.ShouldEqual, "Ada")
			convey.So(s.Snapshot().Events, convey.ShouldBeEmpty)
		})
	})
}

func TestLandmarkOnlySession(t *testing.T) {
	convey.Convey("Given a session with only a landmark model", t, func() {
		convey.So(logging.Init(logging.WithWriter(io.Discard)), convey.ShouldBeNil)

		clk := newClock()
		start := clk.Now()
		s, err := NewSession(Config{ExamID: "exam-1", CandidateID: "cand-1"}, &fakeStream{}, &fakeBackend{},
			WithLandmarkModel(fakeLandmarks{}), WithClock(clk.Now))
		convey.So(err, convey.ShouldBeNil)
		defer s.Stop()

		convey.Convey("An empty mesh for 12 seconds yields one noFace event at 10 seconds", func() {
			passes(s, clk, classify.SourceLandmarks, 25, 500*time.Millisecond)

			log := s.Snapshot()
			convey.So(log.Counts.NoFace, convey.ShouldEqual, 1)
			convey.So(log.Events, convey.ShouldHaveLength, 1)
			convey.So(log.Events[0].DetectedAt.Equal(start.Add(10*time.Second)), convey.ShouldBeTrue)
		})
	})
}

func TestSessionLifecycle(t *testing.T) {
	convey.Convey("Given a running session with real loops", t, func() {
		convey.So(logging.Init(logging.WithWriter(io.Discard)), convey.ShouldBeNil)

		stream := &fakeStream{spectrum: bytes.Repeat([]byte{220}, 32)}
		det := &fakeDetector{}
		det.set(centred)
		backend := &fakeBackend{}
		cfg := Config{
			ExamID:         "exam-2",
			CandidateID:    "cand-2",
			ObjectInterval: 10 * time.Millisecond,
			AudioInterval:  10 * time.Millisecond,
			ChunkInterval:  10 * time.Millisecond,
			RateLimit:      20 * time.Millisecond,
		}

		convey.Convey("Submit drains the outbox and sends the final log exactly once", func() {
			s, err := NewSession(cfg, stream, backend, WithObjectDetector(det), WithChunkSource(chunkFeed{}))
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.Start(context.Background()), convey.ShouldBeNil)
			convey.So(s.Start(context.Background()), convey.ShouldEqual, ErrAlreadyStarted)

			convey.So(eventually(func() bool { return backend.postedCount() >= 2 && backend.chunkCount() >= 1 }), convey.ShouldBeTrue)

			stored, err := s.Submit(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(stored.ID, convey.ShouldEqual, "log-1")
			convey.So(stored.Counts.AudioAlert, convey.ShouldBeGreaterThanOrEqualTo, 2)
			convey.So(backend.postedCount(), convey.ShouldEqual, len(stored.Events))
			convey.So(stream.closeCount(), convey.ShouldEqual, 1)
			convey.So(s.State(), convey.ShouldEqual, StateSubmitted)

			again, err := s.Submit(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(again.ID, convey.ShouldEqual, stored.ID)
			convey.So(backend.submitCount(), convey.ShouldEqual, 1)
			convey.So(s.Snapshot().Events, convey.ShouldBeEmpty)
		})

		convey.Convey("A failed submission is surfaced and can be retried", func() {
			backend.setSubmitErr(errors.New("503"))
			s, err := NewSession(cfg, stream, backend)
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.Start(context.Background()), convey.ShouldBeNil)

			_, err = s.Submit(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(s.State(), convey.ShouldEqual, StateStopped)

			backend.setSubmitErr(nil)
			_, err = s.Submit(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(backend.submitCount(), convey.ShouldEqual, 2)
			convey.So(stream.closeCount(), convey.ShouldEqual, 1)
		})

		convey.Convey("The deadline submits on its own", func() {
			cfg.Deadline = 30 * time.Millisecond
			s, err := NewSession(cfg, stream, backend)
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.Start(context.Background()), convey.ShouldBeNil)

			select {
			case <-s.Done():
			case <-time.After(2 * time.Second):
			}
			convey.So(s.State(), convey.ShouldEqual, StateSubmitted)
			convey.So(s.Err(), convey.ShouldBeNil)
			convey.So(backend.submitCount(), convey.ShouldEqual, 1)
			convey.So(stream.closeCount(), convey.ShouldEqual, 1)
		})

		convey.Convey("Abandoning stops without submitting", func() {
			s, err := NewSession(cfg, stream, backend)
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.Start(context.Background()), convey.ShouldBeNil)

			convey.So(s.Abandon(), convey.ShouldBeNil)
			convey.So(s.State(), convey.ShouldEqual, StateAbandoned)
			convey.So(backend.submitCount(), convey.ShouldEqual, 0)

			_, err = s.Submit(context.Background())
			convey.So(err, convey.ShouldEqual, ErrFinished)
			_, err = s.AdvancePhase()
			convey.So(err, convey.ShouldEqual, ErrFinished)
		})
	})
}

func TestNewSession(t *testing.T) {
	convey.Convey("NewSession rejects incomplete input", t, func() {
		convey.So(logging.Init(logging.WithWriter(io.Discard)), convey.ShouldBeNil)

		_, err := NewSession(Config{}, &fakeStream{}, &fakeBackend{})
		convey.So(errors.Is(err, ErrInvalidConfig), convey.ShouldBeTrue)
		_, err = NewSession(Config{ExamID: "e"}, nil, &fakeBackend{})
		convey.So(errors.Is(err, ErrInvalidConfig), convey.ShouldBeTrue)
		_, err = NewSession(Config{ExamID: "e"}, &fakeStream{}, nil)
		convey.So(errors.Is(err, ErrInvalidConfig), convey.ShouldBeTrue)
	})
}
