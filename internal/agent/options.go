package agent

import (
	"time"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
)

// Option configures a Session.
type Option func(*Session)

// WithObjectDetector enables the object pass (presence, multiple faces,
// phones, prohibited items).
func WithObjectDetector(d ObjectDetector) Option {
	return func(s *Session) { s.objects = d }
}

// WithLandmarkModel enables the landmark pass (gaze, drowsiness). Without it
// gaze falls back to the object detector's person box; without an object
// detector the landmark pass also reports an absent face.
func WithLandmarkModel(m LandmarkModel) Option {
	return func(s *Session) { s.landmarks = m }
}

// WithChunkSource enables periodic video chunk uploads.
func WithChunkSource(c ChunkSource) Option {
	return func(s *Session) { s.chunks = c }
}

// WithOnEvent registers a callback for every recorded event. It runs on the
// capture goroutine and may be called concurrently.
func WithOnEvent(fn func(model.CheatingEvent)) Option {
	return func(s *Session) { s.onEvent = fn }
}

// WithClock overrides the time source used for dwell and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}
