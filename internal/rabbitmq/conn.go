package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/epalmerini/burrow/internal/randutil"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultHeartbeat = 10 * time.Second

// AMQPDialer dials binders over AMQP 0-9-1.
type AMQPDialer struct {
	// AppName prefixes the connection name shown in the management UI.
	AppName string
}

func (d AMQPDialer) Dial(ctx context.Context, b Binder) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(b.URL) == "" {
		return nil, fmt.Errorf("binder %q has no url", b.Name)
	}

	appName := d.AppName
	if appName == "" {
		appName = "burrow"
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(randutil.Name(appName, b.Name))

	conn, err := amqp.DialConfig(b.URL, amqp.Config{
		Heartbeat:  defaultHeartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ binder %q: %w", b.Name, err)
	}

	return &amqpConn{conn: conn, binder: b}, nil
}

type amqpConn struct {
	conn   *amqp.Connection
	binder Binder
}

func (c *amqpConn) Admin(ctx context.Context) (Admin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.binder.Admin == AdminManagement {
		client, err := NewManagementClient(c.binder.URL, c.binder.ManagementURL)
		if err != nil {
			return nil, err
		}
		return &managementAdmin{client: client, vhost: VHostFromURL(c.binder.URL)}, nil
	}

	return &amqpAdmin{conn: c.conn}, nil
}

func (c *amqpConn) Channel(ctx context.Context) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConn) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// amqpAdmin reads queue depth with a passive declare. A passive declare of a
// missing queue closes the channel, so a fresh one is opened on demand.
type amqpAdmin struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (a *amqpAdmin) QueueDepth(ctx context.Context, queue string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	if a.ch == nil || a.ch.IsClosed() {
		ch, err := a.conn.Channel()
		if err != nil {
			return 0, false, fmt.Errorf("failed to open admin channel: %w", err)
		}
		a.ch = ch
	}

	q, err := a.ch.QueueDeclarePassive(
		queue,
		false, // durable (ignored for passive)
		false, // auto-delete (ignored for passive)
		false, // exclusive (ignored for passive)
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			a.ch = nil
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to inspect queue %q: %w", queue, err)
	}

	return q.Messages, true, nil
}

func (a *amqpAdmin) Close() error {
	if a.ch == nil || a.ch.IsClosed() {
		return nil
	}
	return a.ch.Close()
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) Get(ctx context.Context, queue string) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	d, ok, err := c.ch.Get(queue, false)
	if err != nil {
		return Message{}, false, fmt.Errorf("failed to get from %q: %w", queue, err)
	}
	if !ok {
		return Message{}, false, nil
	}
	return fromDelivery(d), true, nil
}

func (c *amqpChannel) Ack(deliveryTag uint64) error {
	if err := c.ch.Ack(deliveryTag, false); err != nil {
		return fmt.Errorf("failed to ack delivery %d: %w", deliveryTag, err)
	}
	return nil
}

func (c *amqpChannel) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	err := c.ch.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		toPublishing(msg),
	)
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %q with key %q: %w", exchange, routingKey, err)
	}
	return nil
}

func (c *amqpChannel) Purge(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.ch.QueuePurge(queue, false)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %q: %w", queue, err)
	}
	return n, nil
}

func (c *amqpChannel) Close() error {
	if c.ch == nil || c.ch.IsClosed() {
		return nil
	}
	return c.ch.Close()
}
