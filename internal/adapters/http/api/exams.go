package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/okian/proctor/internal/domain/model"
)

// ExamsHandler serves question seeding and coding submissions.
type ExamsHandler struct {
	deps Dependencies
}

// NewExamsHandler creates a new exams handler.
func NewExamsHandler(deps Dependencies) *ExamsHandler {
	return &ExamsHandler{deps: deps}
}

// HandleSeedQuestions handles PUT /api/exams/{examId}/questions.
func (h *ExamsHandler) HandleSeedQuestions(w http.ResponseWriter, r *http.Request) {
	var qs []model.Question
	if err := json.NewDecoder(r.Body).Decode(&qs); err != nil {
		writeFailure(w, fmt.Errorf("%w: malformed body: %w", ErrBadRequest, err))
		return
	}
	for i := range qs {
		if err := check(&qs[i]); err != nil {
			writeFailure(w, fmt.Errorf("question %d: %w", i, err))
			return
		}
	}
	out, err := h.deps.SeedQuestions(r.Context(), chi.URLParam(r, "examId"), qs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

// HandleSubmitCode handles POST /api/coding/submissions.
func (h *ExamsHandler) HandleSubmitCode(w http.ResponseWriter, r *http.Request) {
	var req model.CodeSubmission
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	out, err := h.deps.SubmitCode(r.Context(), principal(r), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, out)
}
