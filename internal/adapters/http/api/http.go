// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/proctor/internal/auth"
	"github.com/okian/proctor/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RecordEvent(ctx context.Context, p auth.Principal, ev model.CheatingEvent) (model.CheatingEvent, bool, error)
	SubmitLog(ctx context.Context, p auth.Principal, l model.CheatingLog) (model.CheatingLog, error)
	LogsByExam(ctx context.Context, examID string) ([]model.CheatingLog, error)

	SubmitResult(ctx context.Context, p auth.Principal, examID string, answers []model.Answer) (model.Result, error)
	ResultsByExam(ctx context.Context, examID string) ([]model.Report, error)
	UserResults(ctx context.Context, p auth.Principal) ([]model.Report, error)
	AllResults(ctx context.Context) ([]model.Report, error)
	ToggleVisibility(ctx context.Context, resultID string) (model.Result, error)

	SeedQuestions(ctx context.Context, examID string, qs []model.Question) ([]model.Question, error)
	SubmitCode(ctx context.Context, p auth.Principal, sub model.CodeSubmission) (model.CodeSubmission, error)

	AppendChunk(ctx context.Context, p auth.Principal, r io.Reader) (int64, error)
	StoreEvidence(ctx context.Context, contentType string, r io.Reader) (name, url string, err error)
	OpenEvidence(name string) (*os.File, error)

	Timeline(ctx context.Context, examID, candidateID string) (model.Timeline, error)
}

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(raw string) (auth.Principal, error)
}

// Authorizer decides role permissions.
type Authorizer interface {
	Allow(role auth.Role, obj, act string) bool
}

// Server wires HTTP routes for the business API.
type Server struct {
	opsHandler     *OpsHandler
	logsHandler    *CheatingLogsHandler
	resultsHandler *ResultsHandler
	examsHandler   *ExamsHandler
	mediaHandler   *MediaHandler
	reportsHandler *ReportsHandler
	live           http.Handler
	tokens         TokenVerifier
	authz          Authorizer
	corsOrigins    []string
	rateLimit      int
	rateWindow     time.Duration
	maxUploadBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithLive mounts the dashboard websocket at /api/live.
func WithLive(h http.Handler) Option {
	return func(s *Server) { s.live = h }
}

// WithCORSOrigins sets the allowed dashboard origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRateLimit caps ingest requests per window per client IP. Zero disables it.
func WithRateLimit(n int, window time.Duration) Option {
	return func(s *Server) {
		s.rateLimit = n
		if window > 0 {
			s.rateWindow = window
		}
	}
}

// WithMaxUploadBytes caps multipart uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, tokens TokenVerifier, authz Authorizer, opts ...Option) *Server {
	s := &Server{
		opsHandler:     NewOpsHandler(statsProvider),
		tokens:         tokens,
		authz:          authz,
		rateWindow:     time.Minute,
		maxUploadBytes: 32 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logsHandler = NewCheatingLogsHandler(deps)
	s.resultsHandler = NewResultsHandler(deps)
	s.examsHandler = NewExamsHandler(deps)
	s.mediaHandler = NewMediaHandler(deps, s.maxUploadBytes)
	s.reportsHandler = NewReportsHandler(deps)
	return s
}

// Routes builds the router. Every business route lives under /api.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", MetricsMiddleware(s.opsHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.opsHandler.HandleStats, "stats"))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/cheatingLogs", func(r chi.Router) {
			r.With(s.require(auth.ObjCheatingLogs, auth.ActWrite), s.limit()).
				Post("/", MetricsMiddleware(s.logsHandler.HandleSubmitLog, "cheating_logs"))
			r.With(s.require(auth.ObjCheatingLogs, auth.ActWrite), s.limit()).
				Post("/events", MetricsMiddleware(s.logsHandler.HandlePostEvent, "cheating_events"))
			r.With(s.require(auth.ObjCheatingLogs, auth.ActRead)).
				Get("/{examId}", MetricsMiddleware(s.logsHandler.HandleLogsByExam, "cheating_logs_by_exam"))
		})

		r.Route("/results", func(r chi.Router) {
			r.With(s.require(auth.ObjResults, auth.ActWrite)).
				Post("/", MetricsMiddleware(s.resultsHandler.HandleSubmit, "results_submit"))
			r.With(s.require(auth.ObjOwnResults, auth.ActRead)).
				Get("/user", MetricsMiddleware(s.resultsHandler.HandleUser, "results_user"))
			r.With(s.require(auth.ObjResults, auth.ActRead)).
				Get("/all", MetricsMiddleware(s.resultsHandler.HandleAll, "results_all"))
			r.With(s.require(auth.ObjResults, auth.ActRead)).
				Get("/exam/{examId}", MetricsMiddleware(s.resultsHandler.HandleByExam, "results_by_exam"))
			r.With(s.require(auth.ObjVisibility, auth.ActWrite)).
				Put("/{resultId}/toggle-visibility", MetricsMiddleware(s.resultsHandler.HandleToggle, "results_toggle"))
		})

		r.With(s.require(auth.ObjExams, auth.ActWrite)).
			Put("/exams/{examId}/questions", MetricsMiddleware(s.examsHandler.HandleSeedQuestions, "exam_questions"))
		r.With(s.require(auth.ObjSubmissions, auth.ActWrite)).
			Post("/coding/submissions", MetricsMiddleware(s.examsHandler.HandleSubmitCode, "coding_submissions"))

		r.With(s.require(auth.ObjVideo, auth.ActWrite), s.limit()).
			Post("/video/upload-chunk", MetricsMiddleware(s.mediaHandler.HandleUploadChunk, "video_chunk"))
		r.With(s.require(auth.ObjEvidence, auth.ActWrite), s.limit()).
			Post("/evidence", MetricsMiddleware(s.mediaHandler.HandleUploadEvidence, "evidence_upload"))
		r.With(s.require(auth.ObjEvidence, auth.ActRead)).
			Get("/evidence/{name}", MetricsMiddleware(s.mediaHandler.HandleGetEvidence, "evidence_get"))

		r.With(s.require(auth.ObjReports, auth.ActRead)).
			Get("/reports/{examId}/{candidateId}", MetricsMiddleware(s.reportsHandler.HandleTimeline, "reports_timeline"))

		if s.live != nil {
			r.With(s.require(auth.ObjLive, auth.ActRead)).
				Get("/live", MetricsMiddleware(s.live.ServeHTTP, "live"))
		}
	})
	return r
}

func (s *Server) limit() func(http.Handler) http.Handler {
	if s.rateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(s.rateLimit, s.rateWindow)
}

// envelope is the success body of every business route.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure picks the status from err.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		writeError(w, status, code, nil)
		return
	}
	writeError(w, status, code, err)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names so messages match the request body.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %w", ErrBadRequest, err)
	}
	return check(v)
}

func check(v any) error {
	if err := validatorInstance().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s is %s", ErrBadRequest, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
