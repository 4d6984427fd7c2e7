package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/podushkina/taskflow/internal/service"
	"github.com/podushkina/taskflow/internal/store"
	"github.com/podushkina/taskflow/internal/task"
)

type TaskService interface {
	ListTasks(ctx context.Context) ([]task.Task, service.Source, error)
	CreateTask(ctx context.Context, in task.NewTask) (task.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status task.Status) (*task.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	Stats(ctx context.Context) ([]task.StatusCount, error)
	Health(ctx context.Context) service.Health
}

type Handler struct {
	log      *slog.Logger
	tasks    TaskService
	validate *validator.Validate
	timeout  time.Duration
}

func NewHandler(log *slog.Logger, tasks TaskService, timeout time.Duration) *Handler {
	return &Handler{
		log:      log,
		tasks:    tasks,
		validate: validator.New(),
		timeout:  timeout,
	}
}

type CreateTaskRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description"`
	Priority    string `json:"priority" validate:"omitempty,max=20"`
}

type UpdateTaskRequest struct {
	Status string `json:"status" validate:"required,max=50"`
}

type TaskResponse struct {
	Task    *task.Task `json:"task"`
	Message string     `json:"message"`
}

type ListTasksResponse struct {
	Tasks  []task.Task    `json:"tasks"`
	Source service.Source `json:"source"`
}

type StatsResponse struct {
	Stats []task.StatusCount `json:"stats"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	tasks, source, err := h.tasks.ListTasks(ctx)
	if err != nil {
		h.storeError(w, r, "list tasks", err)
		return
	}

	respondJSON(w, http.StatusOK, ListTasksResponse{Tasks: tasks, Source: source})
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Priority = strings.TrimSpace(req.Priority)
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	t, err := h.tasks.CreateTask(ctx, task.NewTask{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
	})
	if err != nil {
		h.storeError(w, r, "create task", err)
		return
	}

	respondJSON(w, http.StatusCreated, TaskResponse{Task: &t, Message: "Task created successfully"})
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Status = strings.TrimSpace(req.Status)
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	t, err := h.tasks.UpdateTaskStatus(ctx, id, task.Status(req.Status))
	if err != nil {
		h.storeError(w, r, "update task", err)
		return
	}

	respondJSON(w, http.StatusOK, TaskResponse{Task: t, Message: "Task updated successfully"})
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	if err := h.tasks.DeleteTask(ctx, id); err != nil {
		h.storeError(w, r, "delete task", err)
		return
	}

	respondJSON(w, http.StatusOK, MessageResponse{Message: "Task deleted successfully"})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	stats, err := h.tasks.Stats(ctx)
	if err != nil {
		h.storeError(w, r, "task stats", err)
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{Stats: stats})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	respondJSON(w, http.StatusOK, h.tasks.Health(ctx))
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, store.ErrInvalidEntity) {
		respondError(w, http.StatusBadRequest, "invalid task")
		return
	}

	h.log.Error("request failed",
		"op", op,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	default:
		return field + " is invalid"
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
