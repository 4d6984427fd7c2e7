package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/podushkina/taskflow/internal/task"
)

const (
	keyPrefix    = "taskflow:queue:"
	pollInterval = 2 * time.Second
)

// envelope is what sits in the Redis lists; Attempts > 0 marks a redelivery.
type envelope struct {
	ID       string          `json:"id"`
	Attempts int             `json:"attempts"`
	Body     json.RawMessage `json:"body"`
}

// Redis is a reliable list queue. A consumer atomically moves a message from the
// pending list into its own processing list and only removes it on Ack, so a crashed
// worker's message is handed out again the next time that worker connects.
type Redis struct {
	log          *slog.Logger
	client       *redis.Client
	pending      string
	processing   string
	pollInterval time.Duration
}

func NewRedis(log *slog.Logger, client *redis.Client, queue, consumerName string) *Redis {
	pending := keyPrefix + queue
	return &Redis{
		log:          log,
		client:       client,
		pending:      pending,
		processing:   pending + ":processing:" + consumerName,
		pollInterval: pollInterval,
	}
}

func (q *Redis) Publish(ctx context.Context, msg task.DispatchMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	data, err := json.Marshal(envelope{ID: uuid.New().String(), Body: body})
	if err != nil {
		return fmt.Errorf("%w: marshal envelope: %v", ErrPublishFailed, err)
	}

	if err := q.client.RPush(ctx, q.pending, data).Err(); err != nil {
		return fmt.Errorf("%w: push: %v", ErrPublishFailed, err)
	}

	q.log.Debug("message published", "queue", q.pending, "task_id", msg.TaskID, "action", msg.Action)
	return nil
}

func (q *Redis) Dial(ctx context.Context) (Consumer, error) {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	n, err := q.recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover in-flight messages: %w", err)
	}
	if n > 0 {
		q.log.Warn("requeued unacknowledged messages", "queue", q.pending, "count", n)
	}

	return &redisConsumer{q: q}, nil
}

// recover puts everything left in this consumer's processing list back at the head
// of the pending list, flagged as redelivered.
func (q *Redis) recover(ctx context.Context) (int, error) {
	items, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := len(items) - 1; i >= 0; i-- {
			pipe.LPush(ctx, q.pending, redeliver(items[i]))
		}
		pipe.Del(ctx, q.processing)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func redeliver(raw string) []byte {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return []byte(raw)
	}
	env.Attempts++
	data, err := json.Marshal(env)
	if err != nil {
		return []byte(raw)
	}
	return data
}

type redisConsumer struct {
	q *Redis
}

func (c *redisConsumer) Next(ctx context.Context) (Delivery, error) {
	q := c.q
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := q.client.BLMove(ctx, q.pending, q.processing, "LEFT", "RIGHT", q.pollInterval).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}

		d := &redisDelivery{q: q, raw: raw}
		if err := json.Unmarshal([]byte(raw), &d.env); err != nil {
			// foreign items cannot carry an attempt count, so they get no second try
			d.env = envelope{Attempts: 1, Body: json.RawMessage(raw)}
		}
		return d, nil
	}
}

func (c *redisConsumer) Close() error {
	return nil
}

type redisDelivery struct {
	q   *Redis
	raw string
	env envelope
}

func (d *redisDelivery) Body() []byte      { return d.env.Body }
func (d *redisDelivery) Redelivered() bool { return d.env.Attempts > 0 }

func (d *redisDelivery) Ack() error {
	if err := d.q.client.LRem(context.Background(), d.q.processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

func (d *redisDelivery) Nack(requeue bool) error {
	ctx := context.Background()
	if !requeue {
		if err := d.q.client.LRem(ctx, d.q.processing, 1, d.raw).Err(); err != nil {
			return fmt.Errorf("nack: %w", err)
		}
		return nil
	}

	_, err := d.q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, d.q.processing, 1, d.raw)
		pipe.RPush(ctx, d.q.pending, redeliver(d.raw))
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}
