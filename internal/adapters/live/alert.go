// Package live fans recorded cheating events out to monitoring dashboards.
package live

import (
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// MessageTypeCheatingEvent is the websocket message type of an alert.
const MessageTypeCheatingEvent = "cheating-event"

// Alert is the live payload for one event.
type Alert struct {
	Event       model.EventType `json:"event"`
	ExamID      string          `json:"examId"`
	Time        time.Time       `json:"time"`
	CandidateID string          `json:"candidateId,omitempty"`
	Message     string          `json:"message,omitempty"`
	Screenshot  string          `json:"screenshot,omitempty"`
	EventID     string          `json:"eventId,omitempty"`
}

// AlertFrom builds the alert for ev.
func AlertFrom(ev model.CheatingEvent) Alert {
	return Alert{
		Event:       ev.Type,
		ExamID:      ev.ExamID,
		Time:        ev.DetectedAt,
		CandidateID: ev.CandidateID,
		Message:     ev.Message,
		Screenshot:  ev.ScreenshotURL,
		EventID:     ev.ID,
	}
}

// Message is the websocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
