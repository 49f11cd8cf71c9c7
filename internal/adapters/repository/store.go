// Package repository persists cheating logs, results, code submissions and
// questions.
package repository

import (
	"context"

	"github.com/okian/proctor/internal/domain/model"
)

// Stats summarises what the store holds.
type Stats struct {
	Logs        int `json:"logs"`
	Results     int `json:"results"`
	Submissions int `json:"submissions"`
	Questions   int `json:"questions"`
}

// Store provides read/write access to the proctoring records.
type Store interface {
	// SaveLog inserts a cheating-log entry atomically. An entry whose ID is
	// already stored is left untouched and reported with created=false.
	SaveLog(ctx context.Context, l model.CheatingLog) (saved model.CheatingLog, created bool, err error)
	// LogsByExam returns the entries of one exam in insertion order.
	LogsByExam(ctx context.Context, examID string) ([]model.CheatingLog, error)
	// Logs returns every entry.
	Logs(ctx context.Context) ([]model.CheatingLog, error)

	SaveResult(ctx context.Context, r model.Result) (model.Result, error)
	// Result returns ErrNotFound for unknown IDs.
	Result(ctx context.Context, id string) (model.Result, error)
	// ToggleVisibility flips showToStudent in a single transaction.
	ToggleVisibility(ctx context.Context, id string) (model.Result, error)
	ResultsByExam(ctx context.Context, examID string) ([]model.Result, error)
	ResultsByCandidate(ctx context.Context, candidateID string) ([]model.Result, error)
	Results(ctx context.Context) ([]model.Result, error)

	SaveSubmission(ctx context.Context, s model.CodeSubmission) (model.CodeSubmission, error)
	SubmissionsByExam(ctx context.Context, examID string) ([]model.CodeSubmission, error)
	Submissions(ctx context.Context) ([]model.CodeSubmission, error)

	// SaveQuestions replaces the question set of an exam.
	SaveQuestions(ctx context.Context, examID string, qs []model.Question) ([]model.Question, error)
	Questions(ctx context.Context, examID string) ([]model.Question, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
