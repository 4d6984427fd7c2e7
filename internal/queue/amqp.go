package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/podushkina/taskflow/internal/task"
)

const (
	prefetchCount = 1
	dialTimeout   = 5 * time.Second
)

// AMQP talks to RabbitMQ. Publishing opens and closes its own connection every time;
// a consumer keeps one connection for its lifetime.
type AMQP struct {
	log          *slog.Logger
	url          string
	queue        string
	consumerName string
}

func NewAMQP(log *slog.Logger, url, queue, consumerName string) *AMQP {
	return &AMQP{
		log:          log,
		url:          url,
		queue:        queue,
		consumerName: consumerName,
	}
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

func newPublishing(body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
}

// dialBudget caps the connect and handshake time at the time left on ctx.
func dialBudget(ctx context.Context, limit time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return limit, nil
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0, context.DeadlineExceeded
	}
	return min(left, limit), nil
}

func (a *AMQP) Publish(ctx context.Context, msg task.DispatchMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	timeout, err := dialBudget(ctx, dialTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrPublishFailed, err)
	}

	conn, err := amqp.DialConfig(a.url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrPublishFailed, err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: open channel: %v", ErrPublishFailed, err)
	}
	defer ch.Close()

	if err := declare(ch, a.queue); err != nil {
		return fmt.Errorf("%w: declare %s: %v", ErrPublishFailed, a.queue, err)
	}

	if err := ch.PublishWithContext(ctx, "", a.queue, false, false, newPublishing(body)); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrPublishFailed, err)
	}

	a.log.Debug("message published", "queue", a.queue, "task_id", msg.TaskID, "action", msg.Action)
	return nil
}

func (a *AMQP) Dial(ctx context.Context) (Consumer, error) {
	timeout, err := dialBudget(ctx, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	conn, err := amqp.DialConfig(a.url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, a.queue); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare %s: %w", a.queue, err)
	}

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(a.queue, a.consumerName, false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume %s: %w", a.queue, err)
	}

	a.log.Info("connected to broker", "queue", a.queue, "consumer", a.consumerName)

	return &amqpConsumer{
		conn:       conn,
		deliveries: deliveries,
		closed:     conn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

type amqpConsumer struct {
	conn       *amqp.Connection
	deliveries <-chan amqp.Delivery
	closed     <-chan *amqp.Error
}

func (c *amqpConsumer) Next(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.closed:
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		return nil, ErrConnectionLost
	case d, ok := <-c.deliveries:
		if !ok {
			return nil, fmt.Errorf("%w: delivery channel closed", ErrConnectionLost)
		}
		return amqpDelivery{d: d}, nil
	}
}

func (c *amqpConsumer) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (d amqpDelivery) Body() []byte      { return d.d.Body }
func (d amqpDelivery) Redelivered() bool { return d.d.Redelivered }
func (d amqpDelivery) Ack() error        { return d.d.Ack(false) }

func (d amqpDelivery) Nack(requeue bool) error {
	return d.d.Nack(false, requeue)
}
