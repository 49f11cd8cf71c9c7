// Package debounce rate-limits discrete detections per event type.
package debounce

import (
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// DefaultInterval is the minimum re-fire interval shared by all event types.
const DefaultInterval = 3 * time.Second

// Gate admits at most one firing per event type within its interval.
type Gate interface {
	// Allow atomically checks the interval for t and, when admitted, records
	// now as the latest firing. A rejected call has no side effects.
	Allow(t model.EventType, now time.Time) bool

	// LastFired returns the latest admitted firing for t.
	LastFired(t model.EventType) (time.Time, bool)

	// Reset forgets every recorded firing.
	Reset()

	Size() int
}

type memoryGate struct {
	mu        sync.Mutex
	interval  time.Duration
	overrides map[model.EventType]time.Duration
	last      map[model.EventType]time.Time
}

// NewGate creates an in-memory gate.
func NewGate(opts ...Option) Gate {
	g := &memoryGate{
		interval:  DefaultInterval,
		overrides: make(map[model.EventType]time.Duration),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.last = make(map[model.EventType]time.Time)
	return g
}

func (g *memoryGate) intervalFor(t model.EventType) time.Duration {
	if d, ok := g.overrides[t]; ok {
		return d
	}
	return g.interval
}

func (g *memoryGate) Allow(t model.EventType, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[t]; ok {
		// Clock skew backwards counts as inside the interval.
		if now.Sub(prev) < g.intervalFor(t) {
			return false
		}
	}
	g.last[t] = now
	return true
}

func (g *memoryGate) LastFired(t model.EventType) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.last[t]
	return at, ok
}

func (g *memoryGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[model.EventType]time.Time)
}

func (g *memoryGate) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}
