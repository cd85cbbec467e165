package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nidhogg/taskcrew/internal/execution"
	"github.com/nidhogg/taskcrew/internal/task"
)

type priorityRequest struct {
	Priority task.Priority `json:"priority" validate:"required,oneof=low medium high critical"`
}

type assignRequest struct {
	AgentID string `json:"agentId" validate:"required_without=CrewID,excluded_with=CrewID"`
	CrewID  string `json:"crewId"`
}

type analyzeRequest struct {
	Description string         `json:"description" validate:"required"`
	Context     map[string]any `json:"context,omitempty"`
}

type batchDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var in task.CreateTask
	if err := h.decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.tasks.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) batchCreateTasks(w http.ResponseWriter, r *http.Request) {
	var items []task.CreateTask
	if err := h.decode(r, &items); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tasks.BatchCreate(r.Context(), items))
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.Filter{
		Priority:        task.Priority(q.Get("priority")),
		AssignedAgentID: q.Get("assignedAgentId"),
		AssignedCrewID:  q.Get("assignedCrewId"),
		TemplateID:      q.Get("templateId"),
		Tag:             q.Get("tag"),
		Search:          q.Get("search"),
		SortBy:          q.Get("sortBy"),
		SortOrder:       q.Get("sortOrder"),
	}
	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.CreatedFrom, err = queryTime(r, "createdFrom"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.CreatedTo, err = queryTime(r, "createdTo"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.DeadlineFrom, err = queryTime(r, "deadlineFrom"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.DeadlineTo, err = queryTime(r, "deadlineTo"); err != nil {
		h.fail(w, r, err)
		return
	}

	tasks, err := h.tasks.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	var upd task.Update
	if err := h.decode(r, &upd); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.tasks.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.tasks.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (h *Handler) batchDeleteTasks(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tasks.BatchDelete(r.Context(), req.IDs))
}

func (h *Handler) updatePriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.tasks.UpdatePriority(r.Context(), chi.URLParam(r, "id"), req.Priority)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) assignTask(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	var (
		t   *task.Task
		err error
	)
	if req.AgentID != "" {
		t, err = h.tasks.AssignToAgent(r.Context(), id, req.AgentID)
	} else {
		t, err = h.tasks.AssignToCrew(r.Context(), id, req.CrewID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) analyzeTask(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.tasks.Analyze(r.Context(), req.Description, req.Context)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) executeTask(w http.ResponseWriter, r *http.Request) {
	var req execution.Request
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, err)
		return
	}
	req.TaskID = chi.URLParam(r, "id")
	if err := h.check(&req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.AgentID != "" && req.CrewID != "" {
		h.fail(w, r, fmt.Errorf("%w: agentId and crewId are mutually exclusive", task.ErrValidation))
		return
	}
	res, err := h.executor.Execute(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) taskExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := h.tasks.Executions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func (h *Handler) taskSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.tracker.GenerateTaskExecutionSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
