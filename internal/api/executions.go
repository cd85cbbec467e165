package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nidhogg/taskcrew/internal/task"
)

type logRequest struct {
	Level    task.LogLevel  `json:"level" validate:"required,oneof=debug info warn error"`
	Message  string         `json:"message" validate:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.ExecutionFilter{
		TaskID:  q.Get("taskId"),
		AgentID: q.Get("agentId"),
		CrewID:  q.Get("crewId"),
		Status:  task.Status(q.Get("status")),
	}
	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		h.fail(w, r, err)
		return
	}
	execs, err := h.tasks.ListExecutions(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func (h *Handler) activeExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.executor.ListActive())
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	e, err := h.tasks.Execution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) executionReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.tracker.GenerateExecutionReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) cancelExecution(w http.ResponseWriter, r *http.Request) {
	e, err := h.executor.CancelExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "execution": e})
}

func (h *Handler) retryExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := h.executor.RetryExecution(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"originalExecutionId": id,
		"executionId":         e.ID,
		"attempts":            e.Attempts,
		"status":              e.Status,
	})
}

func (h *Handler) addExecutionLog(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.tracker.AddExecutionLog(r.Context(), chi.URLParam(r, "id"), req.Level, req.Message, req.Metadata); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}
