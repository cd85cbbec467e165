package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nidhogg/taskcrew/internal/task"
)

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var in task.CreateTemplate
	if err := h.decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.tasks.CreateTemplate(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.tasks.ListTemplates(r.Context(), task.TemplateFilter{
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
		Search:   q.Get("search"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) replaceTemplate(w http.ResponseWriter, r *http.Request) {
	var in task.CreateTemplate
	if err := h.decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.tasks.ReplaceTemplate(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.tasks.DeleteTemplate(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}
