// Package rabbitmqtest provides an in-memory broker implementing the
// rabbitmq transport interfaces. Messages fetched on a channel and not
// acknowledged go back to the head of their queue when the channel or its
// connection closes, like RabbitMQ does.
package rabbitmqtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/epalmerini/burrow/internal/rabbitmq"
)

// ErrInjected is returned by operations configured to fail.
var ErrInjected = errors.New("rabbitmqtest: injected fault")

// Broker is safe for concurrent use.
type Broker struct {
	mu       sync.Mutex
	queues   map[string][]rabbitmq.Message
	bindings map[string]string
	nextTag  uint64

	// FailGetAt makes the n-th Get (1-based, counted across all channels)
	// return ErrInjected. Zero disables it.
	FailGetAt int
	// FailPublish makes every Publish return ErrInjected.
	FailPublish bool
	// Binders restricts Dial to the named binders when non-empty.
	Binders map[string]bool

	stats     Stats
	published []Published
}

// Published records one publish call.
type Published struct {
	Exchange   string
	RoutingKey string
	Message    rabbitmq.Message
}

func New() *Broker {
	return &Broker{
		queues:   make(map[string][]rabbitmq.Message),
		bindings: make(map[string]string),
	}
}

// DeclareQueue creates an empty queue if it does not exist.
func (b *Broker) DeclareQueue(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = nil
	}
}

// Bind routes every publish on exchange to queue.
func (b *Broker) Bind(exchange, queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[exchange] = queue
	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = nil
	}
}

// Enqueue appends messages to the tail of queue, declaring it if needed.
func (b *Broker) Enqueue(queue string, msgs ...rabbitmq.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.queues[queue] = append(b.queues[queue], cleanMessage(m))
	}
	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = nil
	}
}

// Ready returns a copy of the ready messages in queue.
func (b *Broker) Ready(queue string) []rabbitmq.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]rabbitmq.Message(nil), b.queues[queue]...)
}

// Stats is a snapshot of the call counters.
type Stats struct {
	Dials, Gets, Acks, Publishes, Purges, ConnCloses, DepthChecks int
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Published returns every publish seen so far.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

func (b *Broker) Dial(ctx context.Context, binder rabbitmq.Binder) (rabbitmq.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Binders) > 0 && !b.Binders[binder.Name] {
		return nil, fmt.Errorf("rabbitmqtest: unknown binder %q", binder.Name)
	}
	b.stats.Dials++
	return &conn{broker: b}, nil
}

func cleanMessage(m rabbitmq.Message) rabbitmq.Message {
	m.DeliveryTag = 0
	return m
}

type conn struct {
	broker   *Broker
	channels []*channel
	closed   bool
}

func (c *conn) Admin(ctx context.Context) (rabbitmq.Admin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &admin{broker: c.broker}, nil
}

func (c *conn) Channel(ctx context.Context) (rabbitmq.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, errors.New("rabbitmqtest: connection closed")
	}
	ch := &channel{broker: c.broker, unacked: make(map[uint64]unacked)}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *conn) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.broker.stats.ConnCloses++
	for _, ch := range c.channels {
		ch.requeueLocked()
	}
	return nil
}

type admin struct {
	broker *Broker
}

func (a *admin) QueueDepth(ctx context.Context, queue string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	a.broker.mu.Lock()
	defer a.broker.mu.Unlock()
	a.broker.stats.DepthChecks++
	msgs, ok := a.broker.queues[queue]
	if !ok {
		return 0, false, nil
	}
	return len(msgs), true, nil
}

func (a *admin) Close() error { return nil }

type unacked struct {
	queue string
	msg   rabbitmq.Message
}

type channel struct {
	broker  *Broker
	unacked map[uint64]unacked
	closed  bool
}

func (ch *channel) Get(ctx context.Context, queue string) (rabbitmq.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return rabbitmq.Message{}, false, err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Gets++
	if b.FailGetAt > 0 && b.stats.Gets == b.FailGetAt {
		return rabbitmq.Message{}, false, ErrInjected
	}
	if ch.closed {
		return rabbitmq.Message{}, false, errors.New("rabbitmqtest: channel closed")
	}

	msgs := b.queues[queue]
	if len(msgs) == 0 {
		return rabbitmq.Message{}, false, nil
	}
	msg := msgs[0]
	b.queues[queue] = msgs[1:]

	b.nextTag++
	ch.unacked[b.nextTag] = unacked{queue: queue, msg: msg}

	out := msg
	out.DeliveryTag = b.nextTag
	return out, true, nil
}

func (ch *channel) Ack(deliveryTag uint64) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := ch.unacked[deliveryTag]; !ok {
		return fmt.Errorf("rabbitmqtest: unknown delivery tag %d", deliveryTag)
	}
	delete(ch.unacked, deliveryTag)
	b.stats.Acks++
	return nil
}

func (ch *channel) Publish(ctx context.Context, exchange, routingKey string, msg rabbitmq.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailPublish {
		return ErrInjected
	}
	b.stats.Publishes++
	b.published = append(b.published, Published{Exchange: exchange, RoutingKey: routingKey, Message: msg})

	target := routingKey
	if exchange != "" {
		q, ok := b.bindings[exchange]
		if !ok {
			return nil
		}
		target = q
	}
	if _, ok := b.queues[target]; ok {
		b.queues[target] = append(b.queues[target], cleanMessage(msg))
	}
	return nil
}

func (ch *channel) Purge(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Purges++
	n := len(b.queues[queue])
	if _, ok := b.queues[queue]; ok {
		b.queues[queue] = nil
	}
	return n, nil
}

func (ch *channel) Close() error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.requeueLocked()
	return nil
}

// requeueLocked puts unacked messages back at the head of their queues in
// delivery order. Caller holds broker.mu.
func (ch *channel) requeueLocked() {
	if ch.closed {
		return
	}
	ch.closed = true

	tags := make([]uint64, 0, len(ch.unacked))
	for tag := range ch.unacked {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })

	for _, tag := range tags {
		u := ch.unacked[tag]
		ch.broker.queues[u.queue] = append([]rabbitmq.Message{u.msg}, ch.broker.queues[u.queue]...)
	}
	ch.unacked = nil
}
