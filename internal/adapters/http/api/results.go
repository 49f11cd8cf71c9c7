package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/proctor/internal/domain/model"
)

// ResultsHandler serves graded results and reports.
type ResultsHandler struct {
	deps Dependencies
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps Dependencies) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

type resultRequest struct {
	ExamID  string         `json:"examId" validate:"required"`
	Answers []model.Answer `json:"answers" validate:"required,dive"`
}

// HandleSubmit handles POST /api/results.
func (h *ResultsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	res, err := h.deps.SubmitResult(r.Context(), principal(r), req.ExamID, req.Answers)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func writeReports(w http.ResponseWriter, reports []model.Report, err error) {
	if err != nil {
		writeFailure(w, err)
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeData(w, http.StatusOK, reports)
}

// HandleByExam handles GET /api/results/exam/{examId}.
func (h *ResultsHandler) HandleByExam(w http.ResponseWriter, r *http.Request) {
	reports, err := h.deps.ResultsByExam(r.Context(), chi.URLParam(r, "examId"))
	writeReports(w, reports, err)
}

// HandleUser handles GET /api/results/user: the caller's visible results.
func (h *ResultsHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	reports, err := h.deps.UserResults(r.Context(), principal(r))
	writeReports(w, reports, err)
}

// HandleAll handles GET /api/results/all.
func (h *ResultsHandler) HandleAll(w http.ResponseWriter, r *http.Request) {
	reports, err := h.deps.AllResults(r.Context())
	writeReports(w, reports, err)
}

// HandleToggle handles PUT /api/results/{resultId}/toggle-visibility.
func (h *ResultsHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.ToggleVisibility(r.Context(), chi.URLParam(r, "resultId"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
