// Package service provides the backend business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/proctor/internal/adapters/live"
	"github.com/okian/proctor/internal/adapters/objectstore"
	"github.com/okian/proctor/internal/adapters/recording"
	repository "github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/auth"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/scoring"
	"github.com/okian/proctor/internal/domain/session"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrNotStarted = errors.New("service not started")
	ErrInvalid    = errors.New("invalid request")
	ErrNotFound   = errors.New("not found")
)

// Service implements the API dependencies for the proctoring backend.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.Store
	scorer      *scoring.Scorer
	broadcaster *live.Broadcaster
	evidence    *objectstore.DirStore
	recordings  *recording.Appender

	// Configuration
	dataDir       string
	inMemory      bool
	evidenceDir   string
	recordingsDir string
	publicURL     string
	maxUpload     int64
	liveBuffer    int

	// State
	started    bool
	ownsStore  bool
	ownsBroker bool
	now        func() time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects a store. The service does not close injected stores.
func WithStore(s repository.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithDataDir sets where the badger store lives.
func WithDataDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.dataDir = dir
		}
	}
}

// WithInMemory keeps the store in memory.
func WithInMemory(v bool) Option {
	return func(s *Service) { s.inMemory = v }
}

// WithEvidenceDir sets where uploaded screenshots are written.
func WithEvidenceDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.evidenceDir = dir
		}
	}
}

// WithRecordingsDir sets where video chunks are appended.
func WithRecordingsDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.recordingsDir = dir
		}
	}
}

// WithPublicURL sets the prefix of evidence URLs.
func WithPublicURL(u string) Option {
	return func(s *Service) {
		if u != "" {
			s.publicURL = strings.TrimRight(u, "/")
		}
	}
}

// WithMaxUpload caps one evidence object.
func WithMaxUpload(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithLiveBuffer sets the alert subscriber buffer.
func WithLiveBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.liveBuffer = n
		}
	}
}

// WithScorer replaces the default integrity scorer.
func WithScorer(sc *scoring.Scorer) Option {
	return func(s *Service) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// WithBroadcaster injects an alert broadcaster.
func WithBroadcaster(b *live.Broadcaster) Option {
	return func(s *Service) { s.broadcaster = b }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		scorer:        scoring.NewScorer(),
		dataDir:       "data",
		evidenceDir:   "evidence",
		recordingsDir: "recordings",
		publicURL:     "http://localhost:9080",
		maxUpload:     32 << 20,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and the file-backed adapters.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	s.logger.Info(ctx, "starting proctoring service...")

	if s.store == nil {
		opts := []repository.Option{repository.WithLogger(s.logger.Named("badger"))}
		if s.inMemory {
			opts = append(opts, repository.WithInMemory())
		} else {
			opts = append(opts, repository.WithDir(s.dataDir))
		}
		st, err := repository.NewBadgerStore(opts...)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = st
		s.ownsStore = true
	}

	ev, err := objectstore.NewDirStore(s.evidenceDir, s.publicURL, objectstore.WithMaxBytes(s.maxUpload))
	if err != nil {
		s.closeOwned()
		return err
	}
	s.evidence = ev

	rec, err := recording.NewAppender(s.recordingsDir)
	if err != nil {
		s.closeOwned()
		return err
	}
	s.recordings = rec

	if s.broadcaster == nil {
		s.broadcaster = live.NewBroadcaster(s.liveBuffer)
		s.ownsBroker = true
	}

	s.started = true
	s.logger.Info(ctx, "proctoring service started",
		logger.Bool("in_memory", s.inMemory),
		logger.String("evidence_dir", s.evidenceDir),
		logger.String("recordings_dir", s.recordingsDir),
	)
	return nil
}

func (s *Service) closeOwned() {
	if s.ownsStore && s.store != nil {
		_ = s.store.Close()
		s.store = nil
		s.ownsStore = false
	}
	if s.ownsBroker && s.broadcaster != nil {
		_ = s.broadcaster.Close()
		s.broadcaster = nil
		s.ownsBroker = false
	}
}

// Stop releases what Start opened.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(context.Background(), "stopping proctoring service...")
	s.closeOwned()
	s.started = false
	s.logger.Info(context.Background(), "proctoring service stopped")
}

// Broadcaster returns the alert broadcaster, nil before Start.
func (s *Service) Broadcaster() *live.Broadcaster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broadcaster
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, objectstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrInvalid), errors.Is(err, objectstore.ErrInvalidName),
		errors.Is(err, model.ErrUnknownEventType), errors.Is(err, recording.ErrInvalidCandidate):
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return err
}

// RecordEvent stores one live event as its own log entry and broadcasts it.
// A repeated event ID is acknowledged with created=false and not broadcast.
func (s *Service) RecordEvent(ctx context.Context, p auth.Principal, ev model.CheatingEvent) (model.CheatingEvent, bool, error) {
	if err := s.ready(); err != nil {
		return model.CheatingEvent{}, false, err
	}
	if strings.TrimSpace(ev.ExamID) == "" {
		return model.CheatingEvent{}, false, fmt.Errorf("%w: missing examId", ErrInvalid)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CandidateID == "" || p.Role == auth.RoleCandidate {
		ev.CandidateID = p.ID
	}
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = s.now()
	}

	agg := session.NewAggregator(ev.ExamID, ev.CandidateID)
	agg.SetIdentity(p.Name, p.Email)
	entry, err := agg.Append(ev)
	if err != nil {
		return model.CheatingEvent{}, false, translate(err)
	}
	entry.ID = ev.ID
	entry.SubmittedAt = s.now()

	saved, created, err := s.store.SaveLog(ctx, entry)
	if err != nil {
		return model.CheatingEvent{}, false, translate(err)
	}
	if !created {
		metrics.RecordEventDuplicate()
		if len(saved.Events) > 0 {
			return saved.Events[0], false, nil
		}
		return ev, false, nil
	}

	metrics.RecordEventReceived(string(ev.Type))
	if err := s.broadcaster.Publish(ctx, live.AlertFrom(ev)); err != nil {
		// The event is stored; dashboards just miss it.
		s.logger.Warn(ctx, "broadcast failed", logger.Error(err), logger.String("event_id", ev.ID))
	}
	return ev, true, nil
}

// SubmitLog stores a final cheating log in one atomic insert.
func (s *Service) SubmitLog(ctx context.Context, p auth.Principal, l model.CheatingLog) (model.CheatingLog, error) {
	if err := s.ready(); err != nil {
		return model.CheatingLog{}, err
	}
	if strings.TrimSpace(l.ExamID) == "" {
		return model.CheatingLog{}, fmt.Errorf("%w: missing examId", ErrInvalid)
	}
	for _, ev := range l.Events {
		if !ev.Type.Valid() {
			return model.CheatingLog{}, fmt.Errorf("%w: %w: %q", ErrInvalid, model.ErrUnknownEventType, string(ev.Type))
		}
	}
	l.ID = uuid.NewString()
	if l.CandidateID == "" || p.Role == auth.RoleCandidate {
		l.CandidateID = p.ID
	}
	if l.Username == "" {
		l.Username = p.Name
	}
	if l.Email == "" {
		l.Email = p.Email
	}
	if l.Screenshots == nil {
		l.Screenshots = []model.Screenshot{}
	}
	if l.Events == nil {
		l.Events = []model.CheatingEvent{}
	}
	l.SubmittedAt = s.now()

	saved, _, err := s.store.SaveLog(ctx, l)
	if err != nil {
		return model.CheatingLog{}, translate(err)
	}
	metrics.RecordLogSubmitted()
	s.logger.Info(ctx, "cheating log submitted",
		logger.String("exam_id", saved.ExamID),
		logger.String("candidate_id", saved.CandidateID),
		logger.Int("events", saved.Counts.Total()),
	)
	return saved, nil
}

// LogsByExam lists the log entries of one exam.
func (s *Service) LogsByExam(ctx context.Context, examID string) ([]model.CheatingLog, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	logs, err := s.store.LogsByExam(ctx, examID)
	return logs, translate(err)
}

// SubmitResult grades answers against the exam's questions and stores the
// result hidden from the candidate.
func (s *Service) SubmitResult(ctx context.Context, p auth.Principal, examID string, answers []model.Answer) (model.Result, error) {
	if err := s.ready(); err != nil {
		return model.Result{}, err
	}
	if strings.TrimSpace(examID) == "" {
		return model.Result{}, fmt.Errorf("%w: missing examId", ErrInvalid)
	}
	qs, err := s.store.Questions(ctx, examID)
	if err != nil {
		return model.Result{}, translate(err)
	}
	total, pct := scoring.Grade(qs, answers)
	if answers == nil {
		answers = []model.Answer{}
	}
	r := model.Result{
		ID:             uuid.NewString(),
		ExamID:         examID,
		CandidateID:    p.ID,
		CandidateName:  p.Name,
		CandidateEmail: p.Email,
		Answers:        answers,
		TotalMarks:     total,
		Percentage:     pct,
		ShowToStudent:  false,
		SubmittedAt:    s.now(),
	}
	saved, err := s.store.SaveResult(ctx, r)
	if err != nil {
		return model.Result{}, translate(err)
	}
	metrics.RecordResultSubmitted()
	return saved, nil
}

func (s *Service) reports(ctx context.Context, results []model.Result, subs []model.CodeSubmission, logs []model.CheatingLog) []model.Report {
	start := time.Now()
	out := s.scorer.Reports(results, subs, logs)
	metrics.RecordReportLatency(float64(time.Since(start).Microseconds()) / 1000)
	return out
}

// ResultsByExam returns the reports of one exam.
func (s *Service) ResultsByExam(ctx context.Context, examID string) ([]model.Report, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	results, err := s.store.ResultsByExam(ctx, examID)
	if err != nil {
		return nil, translate(err)
	}
	subs, err := s.store.SubmissionsByExam(ctx, examID)
	if err != nil {
		return nil, translate(err)
	}
	logs, err := s.store.LogsByExam(ctx, examID)
	if err != nil {
		return nil, translate(err)
	}
	return s.reports(ctx, results, subs, logs), nil
}

// UserResults returns the caller's reports that an examiner made visible.
func (s *Service) UserResults(ctx context.Context, p auth.Principal) ([]model.Report, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	all, err := s.store.ResultsByCandidate(ctx, p.ID)
	if err != nil {
		return nil, translate(err)
	}
	visible := make([]model.Result, 0, len(all))
	for _, r := range all {
		if r.ShowToStudent {
			visible = append(visible, r)
		}
	}

	out := make([]model.Report, 0, len(visible))
	byExam := make(map[string][]model.Result)
	var order []string
	for _, r := range visible {
		if _, ok := byExam[r.ExamID]; !ok {
			order = append(order, r.ExamID)
		}
		byExam[r.ExamID] = append(byExam[r.ExamID], r)
	}
	for _, examID := range order {
		subs, err := s.store.SubmissionsByExam(ctx, examID)
		if err != nil {
			return nil, translate(err)
		}
		logs, err := s.store.LogsByExam(ctx, examID)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, s.reports(ctx, byExam[examID], subs, logs)...)
	}
	return out, nil
}

// AllResults returns every report.
func (s *Service) AllResults(ctx context.Context) ([]model.Report, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	results, err := s.store.Results(ctx)
	if err != nil {
		return nil, translate(err)
	}
	subs, err := s.store.Submissions(ctx)
	if err != nil {
		return nil, translate(err)
	}
	logs, err := s.store.Logs(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return s.reports(ctx, results, subs, logs), nil
}

// ToggleVisibility flips showToStudent on one result.
func (s *Service) ToggleVisibility(ctx context.Context, resultID string) (model.Result, error) {
	if err := s.ready(); err != nil {
		return model.Result{}, err
	}
	r, err := s.store.ToggleVisibility(ctx, resultID)
	return r, translate(err)
}

// SeedQuestions replaces an exam's question set.
func (s *Service) SeedQuestions(ctx context.Context, examID string, qs []model.Question) ([]model.Question, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	out, err := s.store.SaveQuestions(ctx, examID, qs)
	return out, translate(err)
}

// SubmitCode stores a coding-phase answer for the caller.
func (s *Service) SubmitCode(ctx context.Context, p auth.Principal, sub model.CodeSubmission) (model.CodeSubmission, error) {
	if err := s.ready(); err != nil {
		return model.CodeSubmission{}, err
	}
	sub.ID = uuid.NewString()
	sub.CandidateID = p.ID
	sub.SubmittedAt = s.now()
	out, err := s.store.SaveSubmission(ctx, sub)
	return out, translate(err)
}

// AppendChunk appends a video chunk to the caller's recording.
func (s *Service) AppendChunk(ctx context.Context, p auth.Principal, r io.Reader) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	n, err := s.recordings.Append(p.ID, r)
	if err != nil {
		return 0, translate(err)
	}
	metrics.RecordVideoChunk(n)
	return n, nil
}

// StoreEvidence keeps an uploaded frame and returns its public URL.
func (s *Service) StoreEvidence(ctx context.Context, contentType string, r io.Reader) (string, string, error) {
	if err := s.ready(); err != nil {
		return "", "", err
	}
	name, err := s.evidence.Put(ctx, contentType, r)
	if err != nil {
		metrics.RecordEvidenceUpload("error")
		if errors.Is(err, objectstore.ErrTooLarge) {
			return "", "", fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return "", "", translate(err)
	}
	metrics.RecordEvidenceUpload("stored")
	return name, s.evidence.URL(name), nil
}

// OpenEvidence opens a stored frame for reading.
func (s *Service) OpenEvidence(name string) (*os.File, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	f, err := s.evidence.Open(name)
	return f, translate(err)
}

// Timeline returns the ordered event history of one attempt.
func (s *Service) Timeline(ctx context.Context, examID, candidateID string) (model.Timeline, error) {
	if err := s.ready(); err != nil {
		return model.Timeline{}, err
	}
	logs, err := s.store.LogsByExam(ctx, examID)
	if err != nil {
		return model.Timeline{}, translate(err)
	}
	return s.scorer.Timeline(examID, candidateID, logs), nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":  s.started,
		"inMemory": s.inMemory,
	}
	if s.started {
		st, err := s.store.Stats(context.Background())
		if err == nil {
			stats["logs"] = st.Logs
			stats["results"] = st.Results
			stats["submissions"] = st.Submissions
			stats["questions"] = st.Questions
		}
	}
	return stats
}
