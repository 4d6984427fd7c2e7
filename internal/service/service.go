package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/podushkina/taskflow/internal/cache"
	"github.com/podushkina/taskflow/internal/queue"
	"github.com/podushkina/taskflow/internal/task"
)

type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
)

const (
	healthy   = "healthy"
	unhealthy = "unhealthy"
)

type Store interface {
	Ping(ctx context.Context) error
	ListTasks(ctx context.Context) ([]task.Task, error)
	CreateTask(ctx context.Context, in task.NewTask) (task.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status task.Status) (*task.Task, error)
	DeleteTask(ctx context.Context, id int64) (bool, error)
	Stats(ctx context.Context) ([]task.StatusCount, error)
}

type Cache interface {
	Load(ctx context.Context) (cache.Snapshot, error)
	Store(ctx context.Context, version string, tasks []task.Task) (bool, error)
	Invalidate(ctx context.Context) error
	Ping(ctx context.Context) error
}

type Health struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Tasks owns the consistency rules between the store, the list cache and the
// dispatch queue. Only store errors are returned to callers.
type Tasks struct {
	log       *slog.Logger
	store     Store
	cache     Cache
	publisher queue.Publisher
}

func NewTasks(log *slog.Logger, store Store, c Cache, publisher queue.Publisher) *Tasks {
	return &Tasks{
		log:       log,
		store:     store,
		cache:     c,
		publisher: publisher,
	}
}

// ListTasks serves the cached snapshot when present and repopulates it from the
// store otherwise.
func (s *Tasks) ListTasks(ctx context.Context) ([]task.Task, Source, error) {
	snap, err := s.cache.Load(ctx)
	switch {
	case errors.Is(err, cache.ErrCorrupt):
		s.log.Warn("discarding corrupt task list cache entry", "error", err)
	case err != nil:
		s.log.Warn("task list cache read failed, reading from store", "error", err)
	case snap.Hit:
		return snap.Tasks, SourceCache, nil
	}

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, "", err
	}
	if tasks == nil {
		tasks = []task.Task{}
	}

	stored, err := s.cache.Store(ctx, snap.Version, tasks)
	switch {
	case err != nil:
		s.log.Warn("task list cache write failed", "error", err)
	case !stored:
		s.log.Debug("task list changed during read, cache not populated")
	}

	return tasks, SourceStore, nil
}

// CreateTask inserts the task, invalidates the list cache and publishes exactly one
// dispatch message. Publishing is best-effort.
func (s *Tasks) CreateTask(ctx context.Context, in task.NewTask) (task.Task, error) {
	t, err := s.store.CreateTask(ctx, in)
	if err != nil {
		return task.Task{}, err
	}

	s.invalidate(ctx, "create", t.ID)

	if err := s.publisher.Publish(ctx, task.NewCreatedMessage(t.ID)); err != nil {
		s.log.Error("dispatch publish failed, task stays created", "task_id", t.ID, "error", err)
	}

	return t, nil
}

// UpdateTaskStatus returns a nil task when id does not exist; the cache is
// invalidated either way.
func (s *Tasks) UpdateTaskStatus(ctx context.Context, id int64, status task.Status) (*task.Task, error) {
	t, err := s.store.UpdateTaskStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, "update", id)
	return t, nil
}

func (s *Tasks) DeleteTask(ctx context.Context, id int64) error {
	deleted, err := s.store.DeleteTask(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		s.log.Debug("delete matched no task", "task_id", id)
	}

	s.invalidate(ctx, "delete", id)
	return nil
}

func (s *Tasks) Stats(ctx context.Context) ([]task.StatusCount, error) {
	return s.store.Stats(ctx)
}

// Health checks the store and the cache independently.
func (s *Tasks) Health(ctx context.Context) Health {
	h := Health{Status: healthy, Database: healthy, Redis: healthy}

	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("database health check failed", "error", err)
		h.Database = unhealthy
	}
	if err := s.cache.Ping(ctx); err != nil {
		s.log.Warn("redis health check failed", "error", err)
		h.Redis = unhealthy
	}
	return h
}

func (s *Tasks) invalidate(ctx context.Context, op string, id int64) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Error("task list cache invalidation failed", "op", op, "task_id", id, "error", err)
	}
}
