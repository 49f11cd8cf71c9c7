package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/proctor/internal/domain/model"
)

// CheatingLogsHandler serves the cheating-log ingest and listing routes.
type CheatingLogsHandler struct {
	deps Dependencies
}

// NewCheatingLogsHandler creates a new cheating-log handler.
func NewCheatingLogsHandler(deps Dependencies) *CheatingLogsHandler {
	return &CheatingLogsHandler{deps: deps}
}

type ackResponse struct {
	Status    string              `json:"status"`
	Duplicate bool                `json:"duplicate"`
	Event     model.CheatingEvent `json:"event"`
}

// HandleSubmitLog handles POST /api/cheatingLogs.
func (h *CheatingLogsHandler) HandleSubmitLog(w http.ResponseWriter, r *http.Request) {
	var req model.CheatingLog
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	saved, err := h.deps.SubmitLog(r.Context(), principal(r), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, saved)
}

// HandlePostEvent handles POST /api/cheatingLogs/events. A repeated event ID
// is acknowledged with 200 instead of 201.
func (h *CheatingLogsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CheatingEvent
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	ev, created, err := h.deps.RecordEvent(r.Context(), principal(r), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !created {
		writeData(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true, Event: ev})
		return
	}
	writeData(w, http.StatusCreated, ackResponse{Status: "accepted", Event: ev})
}

// HandleLogsByExam handles GET /api/cheatingLogs/{examId}.
func (h *CheatingLogsHandler) HandleLogsByExam(w http.ResponseWriter, r *http.Request) {
	logs, err := h.deps.LogsByExam(r.Context(), chi.URLParam(r, "examId"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if logs == nil {
		logs = []model.CheatingLog{}
	}
	writeData(w, http.StatusOK, logs)
}
