// Package session holds the running CheatingLog of one exam attempt.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/okian/proctor/internal/domain/model"
)

// ErrExamMismatch is returned when an event belongs to a different exam than
// the current log.
var ErrExamMismatch = errors.New("session: event exam does not match log")

// Aggregator accumulates events for the active attempt. Detection loops run on
// separate goroutines, so all access is serialised.
type Aggregator struct {
	mu  sync.Mutex
	log model.CheatingLog
}

// NewAggregator starts an attempt with a zeroed log.
func NewAggregator(examID, candidateID string) *Aggregator {
	return &Aggregator{log: model.NewCheatingLog(examID, candidateID)}
}

// SetIdentity attaches display identity to the log.
func (a *Aggregator) SetIdentity(username, email string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log.Username = username
	a.log.Email = email
}

// Append merges ev into the log and returns a snapshot. Merging only adds:
// the type's count goes up by one, the event is appended, and a screenshot
// entry is appended when the event carries one.
func (a *Aggregator) Append(ev model.CheatingEvent) (model.CheatingLog, error) {
	if !ev.Type.Valid() {
		return model.CheatingLog{}, fmt.Errorf("%w: %q", model.ErrUnknownEventType, string(ev.Type))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.ExamID != "" && ev.ExamID != a.log.ExamID {
		return model.CheatingLog{}, fmt.Errorf("%w: %s != %s", ErrExamMismatch, ev.ExamID, a.log.ExamID)
	}

	a.log.Counts.Inc(ev.Type)
	a.log.Events = append(a.log.Events, ev)
	if ev.ScreenshotURL != "" {
		a.log.Screenshots = append(a.log.Screenshots, model.Screenshot{
			URL:        ev.ScreenshotURL,
			Type:       ev.Type,
			DetectedAt: ev.DetectedAt,
		})
	}
	return a.log.Clone(), nil
}

// Reset replaces the log with a fresh one scoped to examID. Identity carries
// over since the candidate has not changed.
func (a *Aggregator) Reset(examID string) model.CheatingLog {
	a.mu.Lock()
	defer a.mu.Unlock()

	fresh := model.NewCheatingLog(examID, a.log.CandidateID)
	fresh.Username, fresh.Email = a.log.Username, a.log.Email
	a.log = fresh
	return a.log.Clone()
}

// Snapshot returns a copy of the current log.
func (a *Aggregator) Snapshot() model.CheatingLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.log.Clone()
}
