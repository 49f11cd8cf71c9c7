// Package evidence turns gated firings into CheatingEvents with an attached
// still frame.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"time"

	"github.com/okian/proctor/internal/domain/debounce"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

var (
	// ErrSuppressed is returned when the firing fell inside the re-fire interval.
	ErrSuppressed = errors.New("evidence: suppressed by rate limit")
	// ErrSourceNotReady is returned when no usable frame could be captured.
	ErrSourceNotReady = errors.New("evidence: video source not ready")
	// ErrUpload is returned when the object store rejected the frame.
	ErrUpload = errors.New("evidence: upload failed")
)

// FrameSource yields the current video frame.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// Recorder gates, captures and uploads. It is safe for concurrent use; calls
// for different types proceed independently.
type Recorder struct {
	gate        debounce.Gate
	frames      FrameSource
	uploader    Uploader
	examID      string
	candidateID string
	quality     int
	now         func() time.Time
	log         logger.Logger
}

// NewRecorder builds a recorder for one attempt.
func NewRecorder(frames FrameSource, uploader Uploader, examID, candidateID string, opts ...Option) *Recorder {
	r := &Recorder{
		frames:      frames,
		uploader:    uploader,
		examID:      examID,
		candidateID: candidateID,
		quality:     80,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.gate == nil {
		r.gate = debounce.NewGate()
	}
	if r.log == nil {
		r.log = logger.Named("evidence")
	}
	return r
}

// Gate exposes the recorder's rate limiter.
func (r *Recorder) Gate() debounce.Gate { return r.gate }

// Record converts one firing into a CheatingEvent. Non-nil errors mean no
// event was produced; none of them are fatal to detection.
//
// The re-fire window is consumed before capture, so a failed capture still
// suppresses the next firing of the same type for one interval.
func (r *Recorder) Record(ctx context.Context, t model.EventType, msg string) (model.CheatingEvent, error) {
	now := r.now()
	if !r.gate.Allow(t, now) {
		metrics.RecordDetectionSuppressed(t.String())
		return model.CheatingEvent{}, ErrSuppressed
	}

	// Informational events carry no evidence.
	if !t.Counted() {
		metrics.RecordDetectionFired(t.String())
		return model.NewCheatingEvent(t, msg, "", now, r.examID, r.candidateID), nil
	}

	img, err := r.frames.Frame(ctx)
	if err != nil || img == nil || img.Bounds().Empty() {
		metrics.RecordCaptureFailure("not_ready")
		r.log.Debug(ctx, "frame unavailable", logger.String("type", t.String()), logger.Error(err))
		return model.CheatingEvent{}, ErrSourceNotReady
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		metrics.RecordCaptureFailure("encode")
		return model.CheatingEvent{}, fmt.Errorf("encode frame: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%d.jpg", r.candidateOrGuest(), t, now.UnixMilli())
	url, err := r.uploader.Upload(ctx, name, "image/jpeg", &buf)
	if err != nil {
		metrics.RecordEvidenceUpload("error")
		r.log.Warn(ctx, "evidence upload failed, event discarded",
			logger.String("type", t.String()), logger.Error(err))
		return model.CheatingEvent{}, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	metrics.RecordEvidenceUpload("ok")
	metrics.RecordDetectionFired(t.String())

	return model.NewCheatingEvent(t, msg, url, now, r.examID, r.candidateID), nil
}

// Reset clears the rate-limit windows for a new attempt.
func (r *Recorder) Reset() { r.gate.Reset() }

func (r *Recorder) candidateOrGuest() string {
	if r.candidateID == "" {
		return "guest"
	}
	return r.candidateID
}
