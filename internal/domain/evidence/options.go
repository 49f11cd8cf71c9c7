package evidence

import (
	"time"

	"github.com/okian/proctor/internal/domain/debounce"
	"github.com/okian/proctor/pkg/logger"
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithGate replaces the default 3s gate.
func WithGate(g debounce.Gate) Option {
	return func(r *Recorder) { r.gate = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(r *Recorder) {
		if q >= 1 && q <= 100 {
			r.quality = q
		}
	}
}

// WithLogger sets the recorder logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Recorder) { r.log = l }
}
