package simulate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/okian/proctor/internal/adapters/transport"
	"github.com/okian/proctor/internal/agent"
	"github.com/okian/proctor/internal/auth"
	"github.com/okian/proctor/internal/domain/classify"
	"github.com/okian/proctor/internal/domain/debounce"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
)

// Runner configuration constants.
const (
	directoryPermission = 0750
	submitAttempts      = 3
	submitBackoff       = 500 * time.Millisecond
	deadlineGrace       = 2 * time.Second
	chunkInterval       = 5 * time.Second
)

// Run executes the complete simulation.
func Run(ctx context.Context, cfg *Config) error {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("simulate")

	if cfg.ExamID == "" {
		cfg.ExamID = "sim-" + uuid.NewString()[:8]
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}

	log.Info(ctx, "starting proctoring simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("examId", cfg.ExamID),
		logger.String("scenario", cfg.Scenario),
		logger.Int("candidates", cfg.Candidates),
		logger.Int("workers", cfg.Workers),
		logger.Float64("speed", cfg.Speed))

	tokens, err := auth.NewTokenManager(cfg.Secret)
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}
	examiner, err := newClient(cfg, tokens, auth.Principal{ID: "sim-examiner", Name: "Simulator", Role: auth.RoleExaminer})
	if err != nil {
		return err
	}

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, cfg); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Seed the quiz so submitted answers are graded
	questions, err := examiner.SeedQuestions(ctx, cfg.ExamID, quiz())
	if err != nil {
		return fmt.Errorf("seed questions: %w", err)
	}

	// Step 3: Plan and run the sessions
	plan, err := planSessions(cfg)
	if err != nil {
		return err
	}
	outcomes := runSessions(ctx, cfg, tokens, questions, plan, stats)

	// Step 4: Fetch what the server recorded and verify it
	for i := range outcomes {
		o := &outcomes[i]
		if o.Err != "" {
			continue
		}
		path := fmt.Sprintf("/api/reports/%s/%s", cfg.ExamID, o.CandidateID)
		if err := examiner.GetJSON(ctx, path, &o.Timeline); err != nil {
			o.Err = fmt.Sprintf("fetch timeline: %v", err)
			continue
		}
		o.Problems = verifyOutcome(plan[i], cfg.MaxScore, *o)
	}

	var reports []model.Report
	if err := examiner.GetJSON(ctx, "/api/results/exam/"+cfg.ExamID, &reports); err != nil {
		log.Warn(ctx, "failed to fetch result reports", logger.Error(err))
	} else {
		for _, p := range verifyReports(outcomes, reports) {
			log.Warn(ctx, "report mismatch", logger.String("problem", p))
			stats.Mismatches++
		}
	}

	for _, o := range outcomes {
		switch {
		case o.Err != "":
			stats.Failed++
			log.Error(ctx, "session failed", logger.String("candidate", o.CandidateID),
				logger.String("scenario", o.Scenario), logger.String("error", o.Err))
		case len(o.Problems) > 0:
			stats.Mismatches++
			log.Warn(ctx, "session verification failed", logger.String("candidate", o.CandidateID),
				logger.String("scenario", o.Scenario), logger.Any("problems", o.Problems))
		default:
			stats.Verified++
			if cfg.Verbose {
				log.Info(ctx, "session verified", logger.String("candidate", o.CandidateID),
					logger.String("scenario", o.Scenario),
					logger.Int("events", len(o.Timeline.Events)),
					logger.Int("integrity", o.Timeline.IntegrityScore))
			}
		}
	}

	// Step 5: Save outcomes to file
	if err := saveOutcomesToFile(ctx, cfg, outcomes); err != nil {
		log.Warn(ctx, "failed to save outcomes to file", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	if stats.Failed > 0 || stats.Mismatches > 0 {
		return fmt.Errorf("%d sessions failed, %d mismatches", stats.Failed, stats.Mismatches)
	}
	log.Info(ctx, "simulation completed successfully")
	return nil
}

func newClient(cfg *Config, tokens *auth.TokenManager, p auth.Principal) (*transport.Client, error) {
	tok, err := tokens.Issue(p)
	if err != nil {
		return nil, fmt.Errorf("issue token for %s: %w", p.ID, err)
	}
	return transport.New(cfg.BaseURL, transport.WithToken(tok), transport.WithTimeout(cfg.Timeout))
}

// planSessions picks the scenario of every candidate.
func planSessions(cfg *Config) ([]Scenario, error) {
	names := Names()
	plan := make([]Scenario, cfg.Candidates)
	for i := range plan {
		name := cfg.Scenario
		if name == "" || name == "all" {
			name = names[i%len(names)]
		}
		sc, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		plan[i] = sc
	}
	return plan, nil
}

// runSessions runs the plan with at most cfg.Workers sessions at once.
func runSessions(ctx context.Context, cfg *Config, tokens *auth.TokenManager, questions []model.Question, plan []Scenario, stats *Stats) []Outcome {
	outcomes := make([]Outcome, len(plan))
	workers := cfg.Workers
	if workers < 1 || workers > len(plan) {
		workers = len(plan)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, max(workers, 1))
	)
	for i, sc := range plan {
		wg.Add(1)
		go func(i int, sc Scenario) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i] = Outcome{Scenario: sc.Name, Err: ctx.Err().Error()}
				return
			}
			defer func() { <-sem }()

			mu.Lock()
			stats.SessionsStarted++
			mu.Unlock()

			o := runSession(ctx, cfg, tokens, questions, sc, i)
			outcomes[i] = o

			mu.Lock()
			if o.Err == "" {
				stats.Submitted++
				stats.EventsRecorded += len(o.Submitted.Events)
			}
			mu.Unlock()
		}(i, sc)
	}
	wg.Wait()
	return outcomes
}

// wall converts exam time to wall time at the configured speed.
func wall(cfg *Config, d time.Duration) time.Duration {
	return time.Duration(float64(d) / cfg.Speed)
}

func sessionConfig(cfg *Config, sc Scenario, candidateID string, n int) agent.Config {
	return agent.Config{
		ExamID:           cfg.ExamID,
		CandidateID:      candidateID,
		Username:         fmt.Sprintf("Candidate %d", n+1),
		Email:            fmt.Sprintf("candidate%d@sim.local", n+1),
		ObjectInterval:   wall(cfg, time.Second),
		LandmarkInterval: wall(cfg, 500*time.Millisecond),
		AudioInterval:    wall(cfg, 2*time.Second),
		ChunkInterval:    wall(cfg, chunkInterval),
		Deadline:         wall(cfg, sc.Length()+deadlineGrace),
		Workers:          2,
		SendTimeout:      cfg.Timeout,
		RateLimit:        wall(cfg, debounce.DefaultInterval),
		Detection: classify.Overrides{
			FaceAbsentDwell: wall(cfg, classify.DefaultFaceAbsentDwell),
			GazeDwell:       wall(cfg, classify.DefaultGazeDwell),
			DrowsyDwell:     wall(cfg, classify.DefaultDrowsyDwell),
		},
	}
}

// runSession sits one candidate through the scenario, then the quiz.
func runSession(ctx context.Context, cfg *Config, tokens *auth.TokenManager, questions []model.Question, sc Scenario, n int) Outcome {
	candidateID := uuid.NewString()
	out := Outcome{CandidateID: candidateID, Scenario: sc.Name}
	log := logger.Named("simulate").Named(sc.Name)

	client, err := newClient(cfg, tokens, auth.Principal{
		ID:    candidateID,
		Name:  fmt.Sprintf("Candidate %d", n+1),
		Email: fmt.Sprintf("candidate%d@sim.local", n+1),
		Role:  auth.RoleCandidate,
	})
	if err != nil {
		out.Err = err.Error()
		return out
	}

	sensors := NewSensors(sc, cfg.Speed)
	session, err := agent.NewSession(sessionConfig(cfg, sc, candidateID, n), sensors, client,
		agent.WithObjectDetector(sensors),
		agent.WithLandmarkModel(sensors),
		agent.WithChunkSource(sensors),
		agent.WithLogger(log),
	)
	if err != nil {
		out.Err = err.Error()
		return out
	}

	sensors.Begin()
	if err := session.Start(ctx); err != nil {
		out.Err = err.Error()
		return out
	}

	// The deadline ends the attempt on its own. A failed deadline submission
	// leaves Done open, so the wait is bounded and Submit below retries.
	select {
	case <-session.Done():
	case <-time.After(wall(cfg, sc.Length()+deadlineGrace) + cfg.Timeout):
	case <-ctx.Done():
		_ = session.Abandon()
		out.Err = ctx.Err().Error()
		return out
	}

	var stored model.CheatingLog
	for attempt := 1; ; attempt++ {
		stored, err = session.Submit(ctx)
		if err == nil || attempt == submitAttempts || errors.Is(err, agent.ErrFinished) {
			break
		}
		time.Sleep(submitBackoff)
	}
	if err != nil {
		out.Err = fmt.Sprintf("submit cheating log: %v", err)
		return out
	}
	out.Submitted = stored

	res, err := client.SubmitResult(ctx, cfg.ExamID, answers(questions, n))
	if err != nil {
		out.Err = fmt.Sprintf("submit result: %v", err)
		return out
	}
	out.Result = res

	if _, err := client.SubmitCode(ctx, model.CodeSubmission{
		ExamID:     cfg.ExamID,
		QuestionID: "coding-1",
		Question:   "Reverse a string",
		Code:       "func reverse(s string) string { r := []rune(s); for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 { r[i], r[j] = r[j], r[i] }; return string(r) }",
		Language:   "go",
		Status:     "passed",
	}); err != nil {
		out.Err = fmt.Sprintf("submit code: %v", err)
	}
	return out
}

func quiz() []model.Question {
	return []model.Question{
		{
			Question: "Which signal confirms a candidate's eyes are closed?",
			Options: []model.Option{
				{ID: "a", Text: "Low eye aspect ratio", IsCorrect: true},
				{ID: "b", Text: "High audio level"},
			},
			Marks: 2,
		},
		{
			Question: "How many people should be in frame?",
			Options: []model.Option{
				{ID: "a", Text: "One", IsCorrect: true},
				{ID: "b", Text: "Two"},
			},
		},
	}
}

// answers alternates between a perfect and a half-right sheet.
func answers(qs []model.Question, n int) []model.Answer {
	out := make([]model.Answer, 0, len(qs))
	for i, q := range qs {
		choice := "a"
		if n%2 == 1 && i == 0 {
			choice = "b"
		}
		out = append(out, model.Answer{QuestionID: q.ID, SelectedOption: choice})
	}
	return out
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, cfg *Config) error {
	log := logger.Named("simulate")
	log.Info(ctx, "checking service health")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Error(context.Background(), "failed to close response body", logger.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	log.Info(ctx, "service is healthy")
	return nil
}

// saveOutcomesToFile writes every outcome as one JSON document.
func saveOutcomesToFile(ctx context.Context, cfg *Config, outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return errors.New("no outcomes to save")
	}

	filename := cfg.OutputFile
	if filename == "" {
		filename = "simulation_" + time.Now().Format("20060102_150405") + ".json"
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	logger.Named("simulate").Info(ctx, "outcomes saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(stats *Stats) {
	logger.Named("simulate").Info(context.Background(), "final statistics",
		logger.Int("sessionsStarted", stats.SessionsStarted),
		logger.Int("submitted", stats.Submitted),
		logger.Int("failed", stats.Failed),
		logger.Int("eventsRecorded", stats.EventsRecorded),
		logger.Int("verified", stats.Verified),
		logger.Int("mismatches", stats.Mismatches),
		logger.String("duration", stats.Duration.String()))
}
