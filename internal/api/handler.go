package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/crew"
	"github.com/nidhogg/taskcrew/internal/execution"
	"github.com/nidhogg/taskcrew/internal/provider"
	"github.com/nidhogg/taskcrew/internal/task"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	tasks    *task.Service
	executor *execution.Executor
	tracker  *execution.Tracker
	crews    *crew.Manager
	models   *provider.Router
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a new API handler. models may be nil.
func NewHandler(
	tasks *task.Service,
	executor *execution.Executor,
	tracker *execution.Tracker,
	crews *crew.Manager,
	models *provider.Router,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		tasks:    tasks,
		executor: executor,
		tracker:  tracker,
		crews:    crews,
		models:   models,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/models", h.listModels)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.createTask)
			r.Get("/", h.listTasks)
			r.Post("/batch", h.batchCreateTasks)
			r.Post("/batch-delete", h.batchDeleteTasks)
			r.Post("/analyze", h.analyzeTask)
			r.Get("/{id}", h.getTask)
			r.Put("/{id}", h.updateTask)
			r.Delete("/{id}", h.deleteTask)
			r.Put("/{id}/priority", h.updatePriority)
			r.Put("/{id}/assign", h.assignTask)
			r.Post("/{id}/execute", h.executeTask)
			r.Get("/{id}/executions", h.taskExecutions)
			r.Get("/{id}/summary", h.taskSummary)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", h.listExecutions)
			r.Get("/active", h.activeExecutions)
			r.Get("/{id}", h.getExecution)
			r.Get("/{id}/report", h.executionReport)
			r.Post("/{id}/cancel", h.cancelExecution)
			r.Post("/{id}/retry", h.retryExecution)
			r.Post("/{id}/logs", h.addExecutionLog)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", h.createTemplate)
			r.Get("/", h.listTemplates)
			r.Get("/{id}", h.getTemplate)
			r.Put("/{id}", h.replaceTemplate)
			r.Delete("/{id}", h.deleteTemplate)
		})

		r.Post("/agents", h.createAgent)
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Post("/crews", h.createCrew)
		r.Get("/crews", h.listCrews)
		r.Post("/crews/presets/{name}", h.createPresetCrew)
		r.Get("/crews/{id}", h.getCrew)
		r.Post("/crews/{id}/tasks/{taskId}/run", h.runCrewTask)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"activeExecutions": len(h.executor.ListActive()),
		"timestamp":        time.Now().UTC(),
	})
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no model router configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default": h.models.DefaultModel(),
		"models":  h.models.ListModels(),
	})
}

// decode reads a JSON body into v and validates its struct tags.
func (h *Handler) decode(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	return h.check(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", task.ErrValidation, err)
	}
	return nil
}

// check validates struct tags. Non-struct values pass.
func (h *Handler) check(v any) error {
	if err := h.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return fmt.Errorf("%w: %v", task.ErrValidation, err)
	}
	return nil
}

// fail maps the error taxonomy onto HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, task.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, task.ErrProviderFailure):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", task.ErrValidation, key)
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", task.ErrValidation, key)
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
