package rabbitmq

import "context"

// Binder is a named broker connection target.
type Binder struct {
	Name          string
	URL           string
	ManagementURL string
	// Admin selects how queue depth is read: "amqp" (passive declare, the
	// default) or "management" (HTTP management API).
	Admin string
}

const (
	AdminAMQP       = "amqp"
	AdminManagement = "management"
)

// Dialer opens connections to a binder.
type Dialer interface {
	Dial(ctx context.Context, b Binder) (Conn, error)
}

// Conn is one broker connection. Closing it returns every message fetched
// but not acknowledged on its channels to the ready state.
type Conn interface {
	Admin(ctx context.Context) (Admin, error)
	Channel(ctx context.Context) (Channel, error)
	Close() error
}

// Admin answers queue metadata questions.
type Admin interface {
	// QueueDepth returns the number of ready messages. ok is false when the
	// queue does not exist.
	QueueDepth(ctx context.Context, queue string) (depth int, ok bool, err error)
	Close() error
}

// Channel fetches, acknowledges and publishes messages.
type Channel interface {
	// Get fetches the next ready message without auto-ack. ok is false when
	// the queue is empty.
	Get(ctx context.Context, queue string) (msg Message, ok bool, err error)
	Ack(deliveryTag uint64) error
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
	Purge(ctx context.Context, queue string) (int, error)
	Close() error
}
