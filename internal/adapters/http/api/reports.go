package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ReportsHandler serves per-candidate timelines.
type ReportsHandler struct {
	deps Dependencies
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(deps Dependencies) *ReportsHandler {
	return &ReportsHandler{deps: deps}
}

// HandleTimeline handles GET /api/reports/{examId}/{candidateId}.
func (h *ReportsHandler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := h.deps.Timeline(r.Context(), chi.URLParam(r, "examId"), chi.URLParam(r, "candidateId"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, tl)
}
