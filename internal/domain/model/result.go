package model

import "time"

// Option is one choice of a multiple-choice question.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"optionText"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question is a graded multiple-choice question.
type Question struct {
	ID       string   `json:"id"`
	ExamID   string   `json:"examId"`
	Question string   `json:"question" validate:"required"`
	Options  []Option `json:"options" validate:"min=1"`
	Marks    int      `json:"ansmarks,omitempty"`
}

// Answer is a candidate's selection for one question.
type Answer struct {
	QuestionID     string `json:"questionId" validate:"required"`
	SelectedOption string `json:"selectedOption"`
}

// Result is a graded quiz outcome.
type Result struct {
	ID             string    `json:"id"`
	ExamID         string    `json:"examId"`
	CandidateID    string    `json:"candidateId"`
	CandidateName  string    `json:"candidateName,omitempty"`
	CandidateEmail string    `json:"candidateEmail,omitempty"`
	Answers        []Answer  `json:"answers"`
	TotalMarks     int       `json:"totalMarks"`
	Percentage     float64   `json:"percentage"`
	ShowToStudent  bool      `json:"showToStudent"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// CodeSubmission is a coding-phase answer with its sandbox outcome.
type CodeSubmission struct {
	ID            string    `json:"id"`
	ExamID        string    `json:"examId" validate:"required"`
	CandidateID   string    `json:"candidateId"`
	QuestionID    string    `json:"questionId" validate:"required"`
	Question      string    `json:"question,omitempty"`
	Code          string    `json:"code" validate:"required"`
	Language      string    `json:"language" validate:"required"`
	Status        string    `json:"status,omitempty"`
	ExecutionTime float64   `json:"executionTime,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Report joins a Result with the candidate's code submissions and cheating logs.
type Report struct {
	Result
	CodingSubmissions []CodeSubmission `json:"codingSubmissions"`
	CheatingLogs      []CheatingLog    `json:"cheatingLogs"`
	Events            []CheatingEvent  `json:"events"`
	IntegrityScore    int              `json:"integrityScore"`
}

// Timeline is the ordered event history of one attempt.
type Timeline struct {
	ExamID         string          `json:"examId"`
	CandidateID    string          `json:"candidateId"`
	Events         []CheatingEvent `json:"events"`
	Counts         Counts          `json:"counts"`
	StartedAt      time.Time       `json:"startedAt,omitempty"`
	EndedAt        time.Time       `json:"endedAt,omitempty"`
	Duration       string          `json:"duration"`
	IntegrityScore int             `json:"integrityScore"`
}
