// Package queue carries dispatch messages from the API to workers over a durable,
// named queue with at-least-once delivery and explicit consumer acknowledgment.
package queue

import (
	"context"
	"errors"

	"github.com/podushkina/taskflow/internal/task"
)

var (
	// ErrPublishFailed wraps any producer-side failure.
	ErrPublishFailed = errors.New("queue publish failed")
	// ErrConnectionLost means the consumer must reconnect before receiving again.
	ErrConnectionLost = errors.New("queue connection lost")
)

type Publisher interface {
	Publish(ctx context.Context, msg task.DispatchMessage) error
}

// Delivery is one unacknowledged message. Exactly one of Ack or Nack must be called.
type Delivery interface {
	Body() []byte
	// Redelivered reports whether the broker has handed this message out before.
	Redelivered() bool
	Ack() error
	Nack(requeue bool) error
}

// Consumer hands out deliveries one at a time; with prefetch 1 the broker holds back
// the next message until the current one is settled.
type Consumer interface {
	// Next blocks until a delivery is available. It returns ctx.Err() when ctx ends
	// and an error wrapping ErrConnectionLost when the broker goes away.
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// Dialer connects, declares the durable queue and sets prefetch to 1.
type Dialer interface {
	Dial(ctx context.Context) (Consumer, error)
}
