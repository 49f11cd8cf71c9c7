package debounce

import (
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Option applies a configuration option to the gate.
type Option func(*memoryGate)

// WithInterval sets the re-fire interval for every type.
// Non-positive values disable rate limiting.
func WithInterval(d time.Duration) Option {
	return func(g *memoryGate) {
		if d < 0 {
			d = 0
		}
		g.interval = d
	}
}

// WithTypeInterval overrides the interval for a single event type.
func WithTypeInterval(t model.EventType, d time.Duration) Option {
	return func(g *memoryGate) {
		if d < 0 {
			d = 0
		}
		g.overrides[t] = d
	}
}
