// Package simulate drives scripted proctoring sessions through real agent
// sessions against a running server, then checks what the server recorded.
package simulate

import (
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Secret     string        // JWT secret shared with the server
	ExamID     string        // Exam all candidates sit; generated when empty
	Scenario   string        // Scenario name, "mixed", or "all" to rotate through every one
	Candidates int           // Number of concurrent candidates
	Workers    int           // Sessions running at once
	Timeout    time.Duration // HTTP request timeout
	Speed      float64       // Exam seconds per wall-clock second
	MaxScore   int           // Integrity score of a clean attempt on the server
	OutputFile string        // Output file for session outcomes
	Verbose    bool          // Enable verbose logging
}

// Outcome is what one simulated candidate produced and what the server kept.
type Outcome struct {
	CandidateID string            `json:"candidateId"`
	Scenario    string            `json:"scenario"`
	Submitted   model.CheatingLog `json:"submitted"`
	Timeline    model.Timeline    `json:"timeline"`
	Result      model.Result      `json:"result"`
	Problems    []string          `json:"problems,omitempty"`
	Err         string            `json:"error,omitempty"`
}

// OK reports whether the session ran and verified cleanly.
func (o Outcome) OK() bool { return o.Err == "" && len(o.Problems) == 0 }

// Stats holds run statistics.
type Stats struct {
	SessionsStarted int
	Submitted       int
	Failed          int
	EventsRecorded  int
	Verified        int
	Mismatches      int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
