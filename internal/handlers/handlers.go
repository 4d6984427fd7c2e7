package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/podushkina/taskflow/internal/store"
	"github.com/podushkina/taskflow/internal/task"
)

type TaskGetter interface {
	GetTask(ctx context.Context, id int64) (task.Task, error)
}

// Created simulates the post-create side effect by waiting for delay. The wait ends
// early only if ctx is cancelled; the worker never cancels a handler mid-flight.
func Created(log *slog.Logger, delay time.Duration) func(context.Context, task.DispatchMessage) error {
	return func(ctx context.Context, msg task.DispatchMessage) error {
		log.Info("processing created task", "task_id", msg.TaskID)

		if err := simulate(ctx, delay); err != nil {
			return err
		}

		log.Info("created task processed", "task_id", msg.TaskID)
		return nil
	}
}

// CreatedWithLookup resolves the task first. A task deleted since the message was
// published is skipped, not failed.
func CreatedWithLookup(log *slog.Logger, tasks TaskGetter, delay time.Duration) func(context.Context, task.DispatchMessage) error {
	return func(ctx context.Context, msg task.DispatchMessage) error {
		t, err := tasks.GetTask(ctx, msg.TaskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Info("task no longer exists, skipping", "task_id", msg.TaskID)
				return nil
			}
			return fmt.Errorf("look up task %d: %w", msg.TaskID, err)
		}

		log.Info("processing created task",
			"task_id", t.ID,
			"title", t.Title,
			"priority", t.Priority,
			"status", t.Status)

		if err := simulate(ctx, delay); err != nil {
			return err
		}

		log.Info("created task processed", "task_id", t.ID)
		return nil
	}
}

func simulate(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
