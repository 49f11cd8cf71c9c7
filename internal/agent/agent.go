// Package agent runs the candidate-side proctoring session.
//
// A Session owns one sampling loop per signal source, the evidence recorder,
// the running CheatingLog and the outbox that ships individual events. Loops
// never wait on the network: evidence capture and delivery happen on their
// own goroutines. Submission tears everything down exactly once, drains the
// outbox and then delivers the final log.
package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/adapters/mq/worker"
	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/internal/domain/classify"
	"github.com/okian/proctor/internal/domain/debounce"
	"github.com/okian/proctor/internal/domain/evidence"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/session"
	"github.com/okian/proctor/pkg/logger"
)

var (
	// ErrInvalidConfig is returned by NewSession for unusable input.
	ErrInvalidConfig = errors.New("agent: invalid session config")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("agent: session already started")
	// ErrFinished is returned once the session was submitted or abandoned.
	ErrFinished = errors.New("agent: session finished")
)

// FrameSource yields the current video frame.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

// AudioAnalyser yields the current microphone frequency spectrum, one byte per bin.
type AudioAnalyser interface {
	Spectrum(ctx context.Context) ([]uint8, error)
}

// MediaStream is the live camera and microphone handle. Close releases it.
type MediaStream interface {
	FrameSource
	AudioAnalyser
	Close() error
}

// ObjectDetector runs the object model over a frame.
type ObjectDetector interface {
	Detect(ctx context.Context, frame image.Image) ([]classify.Detection, error)
}

// LandmarkModel runs the face mesh model over a frame.
type LandmarkModel interface {
	EstimateFaces(ctx context.Context, frame image.Image) ([]classify.Face, error)
}

// ChunkSource hands out recorded video since the previous call. A nil reader
// means nothing new was recorded.
type ChunkSource interface {
	NextChunk(ctx context.Context) (io.Reader, error)
}

// Backend is everything the session needs from the server.
type Backend interface {
	worker.Sender
	evidence.Uploader
	SubmitLog(ctx context.Context, l model.CheatingLog) (model.CheatingLog, error)
	UploadChunk(ctx context.Context, r io.Reader) error
}

// State is the session lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	// StateStopped means sampling ended but the final log is not yet stored.
	StateStopped
	StateSubmitted
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateSubmitted:
		return "submitted"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Config describes one exam attempt.
type Config struct {
	ExamID      string
	CandidateID string
	Username    string
	Email       string

	ObjectInterval   time.Duration
	LandmarkInterval time.Duration
	AudioInterval    time.Duration
	// ChunkInterval paces video uploads; zero disables them.
	ChunkInterval time.Duration
	// Deadline auto-submits after this long; zero means no deadline.
	Deadline time.Duration

	OutboxSize  int
	Workers     int
	SendTimeout time.Duration
	// RateLimit is the per-type re-fire interval; zero keeps the gate default.
	RateLimit time.Duration
	Detection classify.Overrides
}

// ConfigFrom maps process configuration onto an attempt.
func ConfigFrom(c *config.Config, examID, candidateID string) Config {
	return Config{
		ExamID:           examID,
		CandidateID:      candidateID,
		ObjectInterval:   c.Agent.VisualInterval,
		LandmarkInterval: c.Agent.LandmarkInterval,
		AudioInterval:    c.Agent.AudioInterval,
		ChunkInterval:    c.Agent.ChunkInterval,
		Deadline:         c.Agent.ExamDuration,
		OutboxSize:       c.Agent.OutboxSize,
		Workers:          c.Agent.Workers,
		SendTimeout:      c.Agent.RequestTimeout,
		RateLimit:        c.Detection.RateLimit,
		Detection: classify.Overrides{
			FaceAbsentDwell: c.Detection.FaceAbsentDwell,
			GazeDwell:       c.Detection.GazeDwell,
			DrowsyDwell:     c.Detection.DrowsyDwell,
			EARThreshold:    c.Detection.EARThreshold,
			AudioThreshold:  c.Detection.AudioThreshold,
			GazeMargin:      c.Detection.GazeMargin,
		},
	}
}

// Default sampling periods.
const (
	defaultObjectInterval   = time.Second
	defaultLandmarkInterval = 500 * time.Millisecond
	defaultAudioInterval    = 2 * time.Second
	defaultWorkers          = 2
)

// Session is one proctored exam attempt.
type Session struct {
	cfg     Config
	stream  MediaStream
	backend Backend

	objects   ObjectDetector
	landmarks LandmarkModel
	chunks    ChunkSource
	onEvent   func(model.CheatingEvent)
	now       func() time.Time
	log       logger.Logger

	detectors map[classify.Source][]*classify.Detector
	recorder  *evidence.Recorder
	agg       *session.Aggregator
	outbox    *queue.InMemoryQueue
	pool      *worker.Pool

	mu          sync.Mutex
	state       State
	cancelLoops context.CancelFunc
	cancelWork  context.CancelFunc
	workCtx     context.Context
	deadline    *time.Timer
	final       model.CheatingLog
	err         error
	done        chan struct{}

	loops    sync.WaitGroup
	inflight sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
	// submitMu keeps the deadline and the candidate from submitting twice.
	submitMu sync.Mutex
}

// NewSession prepares an attempt. Nothing runs until Start.
func NewSession(cfg Config, stream MediaStream, backend Backend, opts ...Option) (*Session, error) {
	switch {
	case cfg.ExamID == "":
		return nil, fmt.Errorf("%w: exam id is required", ErrInvalidConfig)
	case stream == nil:
		return nil, fmt.Errorf("%w: media stream is required", ErrInvalidConfig)
	case backend == nil:
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if cfg.ObjectInterval <= 0 {
		cfg.ObjectInterval = defaultObjectInterval
	}
	if cfg.LandmarkInterval <= 0 {
		cfg.LandmarkInterval = defaultLandmarkInterval
	}
	if cfg.AudioInterval <= 0 {
		cfg.AudioInterval = defaultAudioInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	s := &Session{
		cfg:     cfg,
		stream:  stream,
		backend: backend,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("agent")
	}

	set := classify.Standard(cfg.Detection)
	if s.landmarks == nil {
		set = classify.WithBoxGaze(set, cfg.Detection)
	}
	if s.objects == nil {
		set = classify.WithMeshPresence(set, cfg.Detection)
	}
	s.detectors = classify.BySource(set)

	var gateOpts []debounce.Option
	if cfg.RateLimit > 0 {
		gateOpts = append(gateOpts, debounce.WithInterval(cfg.RateLimit))
	}
	s.recorder = evidence.NewRecorder(stream, backend, cfg.ExamID, cfg.CandidateID,
		evidence.WithGate(debounce.NewGate(gateOpts...)),
		evidence.WithClock(s.now),
		evidence.WithLogger(s.log.Named("evidence")),
	)

	s.agg = session.NewAggregator(cfg.ExamID, cfg.CandidateID)
	s.agg.SetIdentity(cfg.Username, cfg.Email)

	var qopts []queue.Option
	if cfg.OutboxSize > 0 {
		qopts = append(qopts, queue.WithCapacity(cfg.OutboxSize))
	}
	s.outbox = queue.NewInMemoryQueue(qopts...)
	s.pool = worker.NewPool(cfg.Workers, s.outbox, backend,
		worker.WithSendTimeout(cfg.SendTimeout),
		worker.WithLogger(s.log.Named("outbox")),
	)

	s.workCtx, s.cancelWork = context.WithCancel(context.Background())
	return s, nil
}

// Start launches the sampling loops, the outbox workers and the deadline.
// The loops stop when ctx is cancelled or the session is stopped.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
	case StateRunning:
		return ErrAlreadyStarted
	default:
		return ErrFinished
	}
	s.state = StateRunning

	// Deliveries and evidence uploads outlive the loops so Submit can drain them.
	s.pool.Start(s.workCtx)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoops = cancel

	if s.objects != nil {
		s.spawn(loopCtx, s.cfg.ObjectInterval, func(c context.Context) { s.step(c, classify.SourceObjects) })
	}
	if s.landmarks != nil {
		s.spawn(loopCtx, s.cfg.LandmarkInterval, func(c context.Context) { s.step(c, classify.SourceLandmarks) })
	}
	s.spawn(loopCtx, s.cfg.AudioInterval, func(c context.Context) { s.step(c, classify.SourceAudio) })
	if s.chunks != nil && s.cfg.ChunkInterval > 0 {
		s.spawn(loopCtx, s.cfg.ChunkInterval, s.shipChunk)
	}

	if s.cfg.Deadline > 0 {
		s.deadline = time.AfterFunc(s.cfg.Deadline, s.expire)
	}

	s.log.Info(ctx, "proctoring session started",
		logger.String("exam_id", s.cfg.ExamID),
		logger.String("candidate_id", s.cfg.CandidateID),
		logger.Bool("object_model", s.objects != nil),
		logger.Bool("landmark_model", s.landmarks != nil),
		logger.Duration("deadline", s.cfg.Deadline),
	)
	return nil
}

func (s *Session) spawn(ctx context.Context, every time.Duration, tick func(context.Context)) {
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				tick(ctx)
			}
		}
	}()
}

// step runs one sampling pass for src and dispatches every firing.
func (s *Session) step(ctx context.Context, src classify.Source) {
	obs, ok := s.sample(ctx, src)
	if !ok {
		return
	}
	for _, d := range s.detectors[src] {
		if f, fired := d.Observe(obs); fired {
			s.dispatch(d, f)
		}
	}
}

// sample reads the sensors of one pass. A missing frame or a model error
// skips the pass without touching any dwell state.
func (s *Session) sample(ctx context.Context, src classify.Source) (classify.Observation, bool) {
	obs := classify.Observation{At: s.now()}

	if src == classify.SourceAudio {
		bins, err := s.stream.Spectrum(ctx)
		if err != nil || len(bins) == 0 {
			return obs, false
		}
		obs.Spectrum = bins
		return obs, true
	}

	frame, err := s.stream.Frame(ctx)
	if err != nil || frame == nil || frame.Bounds().Empty() {
		s.log.Debug(ctx, "frame unavailable, pass skipped", logger.String("source", src.String()), logger.Error(err))
		return obs, false
	}
	b := frame.Bounds()
	obs.Width, obs.Height = float64(b.Dx()), float64(b.Dy())

	switch src {
	case classify.SourceObjects:
		objs, err := s.objects.Detect(ctx, frame)
		if err != nil {
			s.log.Debug(ctx, "object model failed, pass skipped", logger.Error(err))
			return obs, false
		}
		obs.Objects = objs
	case classify.SourceLandmarks:
		faces, err := s.landmarks.EstimateFaces(ctx, frame)
		if err != nil {
			s.log.Debug(ctx, "landmark model failed, pass skipped", logger.Error(err))
			return obs, false
		}
		obs.Faces = faces
	default:
		return obs, false
	}
	return obs, true
}

// dispatch captures evidence and records the event off the loop goroutine.
// Only loop goroutines call it, so the inflight group never grows after the
// loops are joined.
func (s *Session) dispatch(d *classify.Detector, f classify.Firing) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx := s.workCtx

		ev, err := s.recorder.Record(ctx, f.Type, f.Message)
		switch {
		case errors.Is(err, evidence.ErrSuppressed):
			return
		case err != nil:
			s.log.Warn(ctx, "event discarded", logger.String("type", f.Type.String()), logger.Error(err))
			return
		}

		if _, err := s.agg.Append(ev); err != nil {
			s.log.Error(ctx, "append to cheating log", logger.String("event_id", ev.ID), logger.Error(err))
			return
		}
		d.Confirm(f)
		if !s.outbox.Enqueue(ctx, ev) {
			s.log.Warn(ctx, "outbox rejected event, final log still carries it",
				logger.String("event_id", ev.ID), logger.String("type", ev.Type.String()))
		}
		if s.onEvent != nil {
			s.onEvent(ev)
		}
	}()
}

func (s *Session) shipChunk(ctx context.Context) {
	r, err := s.chunks.NextChunk(ctx)
	if err != nil {
		s.log.Warn(ctx, "video chunk unavailable", logger.Error(err))
		return
	}
	if r == nil {
		return
	}
	if err := s.backend.UploadChunk(ctx, r); err != nil {
		s.log.Warn(ctx, "video chunk upload failed", logger.Error(err))
	}
}

// AdvancePhase starts a new graded phase of the same attempt. The running
// log is replaced by a zeroed one; detection keeps running.
func (s *Session) AdvancePhase() (model.CheatingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateRunning {
		return model.CheatingLog{}, ErrFinished
	}
	return s.agg.Reset(s.cfg.ExamID), nil
}

// Snapshot returns the running log.
func (s *Session) Snapshot() model.CheatingLog { return s.agg.Snapshot() }

// Stop cancels every loop and timer, waits for in-flight evidence, drains the
// outbox and releases the media stream. It is idempotent; the first error
// from closing the stream is returned on every call.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.deadline != nil {
			s.deadline.Stop()
		}
		if s.cancelLoops != nil {
			s.cancelLoops()
		}
		if s.state == StateIdle || s.state == StateRunning {
			s.state = StateStopped
		}
		s.mu.Unlock()

		s.loops.Wait()
		s.inflight.Wait()

		ctx := context.Background()
		if err := s.pool.Shutdown(ctx); err != nil {
			s.log.Warn(ctx, "outbox not fully drained", logger.Error(err))
		}
		s.cancelWork()

		if err := s.stream.Close(); err != nil {
			s.stopErr = fmt.Errorf("release media stream: %w", err)
		}
	})
	return s.stopErr
}

// Submit ends the attempt and delivers the final log. A delivery error leaves
// the session stopped but unsubmitted; calling Submit again retries. Once
// stored, further calls return the stored log without re-sending it.
func (s *Session) Submit(ctx context.Context) (model.CheatingLog, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateSubmitted:
		final := s.final
		s.mu.Unlock()
		return final, nil
	case StateAbandoned:
		s.mu.Unlock()
		return model.CheatingLog{}, ErrFinished
	}
	s.mu.Unlock()

	if err := s.Stop(); err != nil {
		s.log.Warn(ctx, "teardown", logger.Error(err))
	}

	snapshot := s.agg.Snapshot()
	stored, err := s.backend.SubmitLog(ctx, snapshot)
	if err != nil {
		s.log.Error(ctx, "final cheating log not stored",
			logger.String("exam_id", snapshot.ExamID), logger.Int("events", len(snapshot.Events)), logger.Error(err))
		return model.CheatingLog{}, err
	}

	s.mu.Lock()
	s.state = StateSubmitted
	s.final = stored
	s.mu.Unlock()
	s.agg.Reset(snapshot.ExamID)
	close(s.done)

	s.log.Info(ctx, "cheating log submitted",
		logger.String("exam_id", stored.ExamID),
		logger.String("log_id", stored.ID),
		logger.Int("total", stored.Counts.Total()),
	)
	return stored, nil
}

// Abandon ends the attempt without submitting. The running log is discarded.
func (s *Session) Abandon() error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateSubmitted, StateAbandoned:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.Stop()

	s.mu.Lock()
	s.state = StateAbandoned
	s.mu.Unlock()
	s.agg.Reset(s.cfg.ExamID)
	close(s.done)
	return err
}

func (s *Session) expire() {
	ctx := context.Background()
	s.log.Info(ctx, "exam deadline reached, submitting", logger.String("exam_id", s.cfg.ExamID))
	if _, err := s.Submit(ctx); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
}

// State reports the lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the deadline-triggered submission, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the attempt is submitted or abandoned.
func (s *Session) Done() <-chan struct{} { return s.done }
