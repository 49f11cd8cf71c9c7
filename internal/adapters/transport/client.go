// Package transport is the HTTP client for the proctoring backend.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultTimeout          = 10 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerOpenTime  = 15 * time.Second
	defaultBreakerInterval  = 60 * time.Second
	defaultBreakerHalfOpen  = 1
	maxErrorBodyBytes       = 4 << 10
	evidenceFormField       = "file"
	videoChunkFormField     = "videoChunk"
	breakerName             = "event-feed"
	contentTypeJSON         = "application/json"
	authorizationHeaderName = "Authorization"
)

// ErrBreakerOpen is returned while per-event delivery is short-circuited.
var ErrBreakerOpen = errors.New("transport: event feed circuit open")

// StatusError is a non-2xx backend response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// envelope mirrors the backend success body.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client talks to the backend on behalf of one candidate.
type Client struct {
	base    *url.URL
	http    *http.Client
	token   string
	breaker *gobreaker.CircuitBreaker[struct{}]
	log     logger.Logger

	failures uint32
	openTime time.Duration
}

// New builds a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	c := &Client{
		base:     u,
		http:     &http.Client{Timeout: defaultTimeout},
		failures: defaultBreakerFailures,
		openTime: defaultBreakerOpenTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named("transport")
	}

	log := c.log
	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: defaultBreakerHalfOpen,
		Interval:    defaultBreakerInterval,
		Timeout:     c.openTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.failures
		},
		IsSuccessful: func(err error) bool {
			// Rejections are the caller's fault, not backend unavailability.
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.Status < http.StatusInternalServerError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateBreakerState(int(to))
			log.Warn(context.Background(), "circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	metrics.UpdateBreakerState(int(gobreaker.StateClosed))
	return c, nil
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) { c.token = token }

// BreakerState reports the per-event breaker state.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if c.token != "" {
		req.Header.Set(authorizationHeaderName, "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and decodes the envelope data into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			se.Code, se.Message = eb.Code, eb.Message
		}
		return se
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(body), contentTypeJSON)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// PostEvent ships one event to the live feed. It goes through the circuit
// breaker so an unreachable backend is not hammered by every detection.
func (c *Client) PostEvent(ctx context.Context, ev model.CheatingEvent) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.sendJSON(ctx, http.MethodPost, "/api/cheatingLogs/events", ev, nil)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordTransportFailure("event_short_circuit")
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	if err != nil {
		metrics.RecordTransportFailure("event")
		return err
	}
	return nil
}

// SubmitLog sends the authoritative final log. It bypasses the breaker: the
// caller must see the real outcome.
func (c *Client) SubmitLog(ctx context.Context, l model.CheatingLog) (model.CheatingLog, error) {
	var saved model.CheatingLog
	if err := c.sendJSON(ctx, http.MethodPost, "/api/cheatingLogs", l, &saved); err != nil {
		metrics.RecordTransportFailure("final_log")
		return model.CheatingLog{}, fmt.Errorf("submit cheating log: %w", err)
	}
	return saved, nil
}

type uploadResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

func (c *Client) multipart(ctx context.Context, path, field, name, contentType string, r io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("copy form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Upload stores an evidence frame and returns its public URL.
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	var out uploadResponse
	if err := c.multipart(ctx, "/api/evidence", evidenceFormField, name, contentType, r, &out); err != nil {
		metrics.RecordTransportFailure("evidence")
		return "", fmt.Errorf("upload evidence: %w", err)
	}
	if out.URL == "" {
		return "", errors.New("upload evidence: empty url in response")
	}
	return out.URL, nil
}

// UploadChunk appends a recorded video chunk to the candidate's recording.
func (c *Client) UploadChunk(ctx context.Context, r io.Reader) error {
	if err := c.multipart(ctx, "/api/video/upload-chunk", videoChunkFormField, "chunk.webm", "video/webm", r, nil); err != nil {
		metrics.RecordTransportFailure("video_chunk")
		return fmt.Errorf("upload chunk: %w", err)
	}
	return nil
}

// ResultRequest is the body of POST /results.
type ResultRequest struct {
	ExamID  string         `json:"examId"`
	Answers []model.Answer `json:"answers"`
}

// SubmitResult sends quiz answers for server-side grading.
func (c *Client) SubmitResult(ctx context.Context, examID string, answers []model.Answer) (model.Result, error) {
	var r model.Result
	if err := c.sendJSON(ctx, http.MethodPost, "/api/results", ResultRequest{ExamID: examID, Answers: answers}, &r); err != nil {
		return model.Result{}, fmt.Errorf("submit result: %w", err)
	}
	return r, nil
}

// SubmitCode records a coding-phase answer.
func (c *Client) SubmitCode(ctx context.Context, sub model.CodeSubmission) (model.CodeSubmission, error) {
	var out model.CodeSubmission
	if err := c.sendJSON(ctx, http.MethodPost, "/api/coding/submissions", sub, &out); err != nil {
		return model.CodeSubmission{}, fmt.Errorf("submit code: %w", err)
	}
	return out, nil
}

// SeedQuestions replaces an exam's question set. Examiner only.
func (c *Client) SeedQuestions(ctx context.Context, examID string, qs []model.Question) ([]model.Question, error) {
	var out []model.Question
	path := "/api/exams/" + url.PathEscape(examID) + "/questions"
	if err := c.sendJSON(ctx, http.MethodPut, path, qs, &out); err != nil {
		return nil, fmt.Errorf("seed questions: %w", err)
	}
	return out, nil
}

// ToggleVisibility flips a result's showToStudent flag. Examiner only.
func (c *Client) ToggleVisibility(ctx context.Context, resultID string) (model.Result, error) {
	var out model.Result
	path := "/api/results/" + url.PathEscape(resultID) + "/toggle-visibility"
	req, err := c.newRequest(ctx, http.MethodPut, path, nil, "")
	if err != nil {
		return model.Result{}, err
	}
	if err := c.do(req, &out); err != nil {
		return model.Result{}, fmt.Errorf("toggle visibility: %w", err)
	}
	return out, nil
}

// GetJSON fetches path and decodes the envelope data into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	return c.do(req, out)
}
