package classify

import "time"

// Transition is the outcome of one state-machine step.
type Transition int

const (
	// None means nothing observable happened.
	None Transition = iota
	// Fired means the condition held for the full dwell.
	Fired
	// Recovered means a condition that had fired has cleared.
	Recovered
)

// SuspicionState is the per-type dwell state owned by a classifier instance.
// ActiveSince is non-zero iff Active; LastFiredAt never moves backwards.
type SuspicionState struct {
	Active      bool
	ActiveSince time.Time
	LastFiredAt time.Time
	fired       bool
}

// Step advances the state machine with the condition observed at now.
//
// A true condition starts the dwell; holding it for hold fires and re-arms
// the dwell from now, so a condition held for a long time fires once per
// hold period. A false condition resets everything, and reports Recovered
// when the stretch that just ended had fired.
func (s *SuspicionState) Step(cond bool, now time.Time, hold time.Duration) Transition {
	if !cond {
		if !s.Active {
			return None
		}
		wasFired := s.fired
		s.Active = false
		s.ActiveSince = time.Time{}
		s.fired = false
		if wasFired {
			return Recovered
		}
		return None
	}

	if !s.Active {
		s.Active = true
		s.ActiveSince = now
	}
	if now.Sub(s.ActiveSince) < hold {
		return None
	}
	if now.After(s.LastFiredAt) {
		s.LastFiredAt = now
	}
	s.ActiveSince = now
	s.fired = true
	return Fired
}

// Reset clears the dwell without touching LastFiredAt.
func (s *SuspicionState) Reset() {
	s.Active = false
	s.ActiveSince = time.Time{}
	s.fired = false
}
