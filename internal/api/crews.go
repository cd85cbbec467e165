package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nidhogg/taskcrew/internal/crew"
)

type runCrewTaskRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var cfg crew.AgentConfig
	if err := h.decode(r, &cfg); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.crews.CreateAgent(cfg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.crews.ListAgents())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.crews.GetAgent(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) createCrew(w http.ResponseWriter, r *http.Request) {
	var cfg crew.CrewConfig
	if err := h.decode(r, &cfg); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.crews.CreateCrew(cfg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) createPresetCrew(w http.ResponseWriter, r *http.Request) {
	c, err := h.crews.CreatePreset(chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) listCrews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.crews.ListCrews())
}

func (h *Handler) getCrew(w http.ResponseWriter, r *http.Request) {
	c, err := h.crews.GetCrew(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) runCrewTask(w http.ResponseWriter, r *http.Request) {
	var req runCrewTaskRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, err)
		return
	}
	res, err := h.crews.RunTask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskId"), req.Input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
