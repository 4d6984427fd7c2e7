package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/podushkina/taskflow/internal/queue"
	"github.com/podushkina/taskflow/internal/task"
)

// ErrRetriesExhausted is fatal: the process should exit and let its supervisor restart it.
var ErrRetriesExhausted = errors.New("queue connect retries exhausted")

type Handler func(ctx context.Context, msg task.DispatchMessage) error

// Worker consumes one message at a time. A message is acked only after its handler
// succeeds; a failed message is requeued once and dropped if it fails again.
type Worker struct {
	log      *slog.Logger
	dialer   queue.Dialer
	attempts int
	delay    time.Duration
	handlers map[task.Action]Handler
	mu       sync.RWMutex
}

func New(log *slog.Logger, dialer queue.Dialer, attempts int, delay time.Duration) *Worker {
	if attempts <= 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &Worker{
		log:      log,
		dialer:   dialer,
		attempts: attempts,
		delay:    delay,
		handlers: make(map[task.Action]Handler),
	}
}

func (w *Worker) Register(action task.Action, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[action] = handler
}

// Run connects and consumes until ctx is cancelled (returns nil) or reconnecting
// fails for good (returns an error wrapping ErrRetriesExhausted).
func (w *Worker) Run(ctx context.Context) error {
	for {
		consumer, err := w.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		w.log.Info("worker started, waiting for messages")
		err = w.consume(ctx, consumer)

		if cerr := consumer.Close(); cerr != nil {
			w.log.Debug("close consumer", "error", cerr)
		}

		if ctx.Err() != nil {
			w.log.Info("worker shutting down")
			return nil
		}
		if !errors.Is(err, queue.ErrConnectionLost) {
			return err
		}
		w.log.Warn("queue connection lost, reconnecting", "error", err)
	}
}

func (w *Worker) connect(ctx context.Context) (queue.Consumer, error) {
	var (
		consumer queue.Consumer
		attempt  int
	)

	backoff := retry.WithMaxRetries(uint64(w.attempts-1), retry.NewConstant(w.delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c, err := w.dialer.Dial(ctx)
		if err != nil {
			w.log.Warn("queue connection attempt failed",
				"attempt", attempt,
				"max_attempts", w.attempts,
				"error", err)
			return retry.RetryableError(err)
		}
		consumer = c
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
	}
	return consumer, nil
}

func (w *Worker) consume(ctx context.Context, consumer queue.Consumer) error {
	for {
		d, err := consumer.Next(ctx)
		if err != nil {
			return err
		}

		if err := w.handle(ctx, d); err != nil {
			return fmt.Errorf("%w: settle delivery: %v", queue.ErrConnectionLost, err)
		}
	}
}

// handle settles d before returning, so the next Next never overlaps it.
func (w *Worker) handle(ctx context.Context, d queue.Delivery) error {
	msg, err := task.DecodeMessage(d.Body())
	if err != nil {
		w.log.Error("dropping malformed message", "error", err)
		return d.Nack(false)
	}

	w.mu.RLock()
	handler, ok := w.handlers[msg.Action]
	w.mu.RUnlock()

	if !ok {
		w.log.Error("dropping message with unknown action", "task_id", msg.TaskID, "action", msg.Action)
		return d.Nack(false)
	}

	w.log.Info("processing task", "task_id", msg.TaskID, "action", msg.Action, "redelivered", d.Redelivered())

	// processing is not interrupted by shutdown; the loop stops after settling
	if err := process(context.WithoutCancel(ctx), handler, msg); err != nil {
		if d.Redelivered() {
			w.log.Error("task failed again after redelivery, dropping",
				"task_id", msg.TaskID, "error", err)
			return d.Nack(false)
		}
		w.log.Warn("task failed, requeueing", "task_id", msg.TaskID, "error", err)
		return d.Nack(true)
	}

	w.log.Info("task processed", "task_id", msg.TaskID)
	return d.Ack()
}

func process(ctx context.Context, handler Handler, msg task.DispatchMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, msg)
}
