package classify

import (
	"sync/atomic"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Firing is a confirmed condition ready for debounce and evidence capture.
type Firing struct {
	Type    model.EventType
	Message string
	At      time.Time
}

// Detector pairs a classifier with its dwell state. One Detector serves one
// sampling loop; only Confirm may be called from other goroutines.
type Detector struct {
	classifier Classifier
	state      SuspicionState
	reason     string
	// since is when the current stretch of the condition began.
	since time.Time
	// confirmed is the UnixNano of the latest recorded firing.
	confirmed atomic.Int64
}

// NewDetector wraps c with fresh state.
func NewDetector(c Classifier) *Detector {
	return &Detector{classifier: c}
}

// Classifier returns the wrapped classifier.
func (d *Detector) Classifier() Classifier { return d.classifier }

// State returns a copy of the current dwell state.
func (d *Detector) State() SuspicionState { return d.state }

// Observe evaluates obs and returns the firing it produced, if any.
func (d *Detector) Observe(obs Observation) (Firing, bool) {
	cond, reason := d.classifier.Evaluate(obs)
	if cond {
		d.reason = reason
		if !d.state.Active {
			d.since = obs.At
		}
	}

	switch d.state.Step(cond, obs.At, d.classifier.Dwell()) {
	case Fired:
		return Firing{Type: d.classifier.Type(), Message: d.reason, At: obs.At}, true
	case Recovered:
		r, ok := d.classifier.(Recoverer)
		if !ok || !d.recorded() {
			return Firing{}, false
		}
		t, msg := r.Recovery()
		return Firing{Type: t, Message: msg, At: obs.At}, true
	}
	return Firing{}, false
}

// Confirm marks f as recorded. Recovery is only announced for a stretch
// whose firing was confirmed, so a dropped alert is never followed by its
// all-clear.
func (d *Detector) Confirm(f Firing) {
	if f.Type != d.classifier.Type() {
		return
	}
	at := f.At.UnixNano()
	for {
		cur := d.confirmed.Load()
		if at <= cur || d.confirmed.CompareAndSwap(cur, at) {
			return
		}
	}
}

func (d *Detector) recorded() bool {
	return !d.since.IsZero() && d.confirmed.Load() >= d.since.UnixNano()
}

// Reset drops any in-progress dwell.
func (d *Detector) Reset() {
	d.state.Reset()
	d.reason = ""
	d.since = time.Time{}
}
