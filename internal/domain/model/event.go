package model

import (
	"time"

	"github.com/google/uuid"
)

// CheatingEvent is one discrete, rate-limited detection. It is never mutated
// after creation.
type CheatingEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"eventType" validate:"required"`
	Message       string    `json:"message"`
	ScreenshotURL string    `json:"screenshot,omitempty"`
	DetectedAt    time.Time `json:"timestamp"`
	ExamID        string    `json:"examId" validate:"required"`
	CandidateID   string    `json:"candidateId,omitempty"`
}

// NewCheatingEvent stamps a fresh event with a random ID.
func NewCheatingEvent(t EventType, msg, screenshotURL string, at time.Time, examID, candidateID string) CheatingEvent {
	return CheatingEvent{
		ID:            uuid.NewString(),
		Type:          t,
		Message:       msg,
		ScreenshotURL: screenshotURL,
		DetectedAt:    at,
		ExamID:        examID,
		CandidateID:   candidateID,
	}
}

// Screenshot references captured evidence.
type Screenshot struct {
	URL        string    `json:"url"`
	Type       EventType `json:"type"`
	DetectedAt time.Time `json:"detectedAt"`
}

// CheatingLog is the per-attempt aggregate for one (exam, candidate) pair.
type CheatingLog struct {
	ID          string `json:"id,omitempty"`
	ExamID      string `json:"examId" validate:"required"`
	CandidateID string `json:"candidateId,omitempty"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	Counts
	Screenshots []Screenshot    `json:"screenshots"`
	Events      []CheatingEvent `json:"events"`
	SubmittedAt time.Time       `json:"submittedAt,omitempty"`
}

// NewCheatingLog returns a zeroed log scoped to examID.
func NewCheatingLog(examID, candidateID string) CheatingLog {
	return CheatingLog{
		ExamID:      examID,
		CandidateID: candidateID,
		Screenshots: []Screenshot{},
		Events:      []CheatingEvent{},
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (l CheatingLog) Clone() CheatingLog {
	out := l
	out.Screenshots = append(make([]Screenshot, 0, len(l.Screenshots)), l.Screenshots...)
	out.Events = append(make([]CheatingEvent, 0, len(l.Events)), l.Events...)
	return out
}
