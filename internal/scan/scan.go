// Package scan implements selective operations on dead-letter queues: list
// messages without consuming them, drop or republish a single message by
// identity, and purge a queue.
//
// Every scan peeks messages with basic.get and no auto-ack. Messages that are
// not acted upon stay unacknowledged until the scan tears down its read
// connection, which hands them back to the broker in their original order.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/epalmerini/burrow/internal/conncache"
	"github.com/epalmerini/burrow/internal/db"
	"github.com/epalmerini/burrow/internal/message"
	"github.com/epalmerini/burrow/internal/metrics"
	"github.com/epalmerini/burrow/internal/rabbitmq"
	"github.com/epalmerini/burrow/internal/registry"
)

// Auditor records destructive operations. *db.AsyncWriter implements it.
type Auditor interface {
	Record(rec *db.ActionRecord) bool
}

// DropResult is the outcome of Drop. Matched is set only on success.
type DropResult struct {
	Success bool          `json:"success"`
	Matched *message.View `json:"matched,omitempty"`
}

// RepublishResult is the outcome of Republish. Republished counts every
// message that matched, which is more than one only when several messages in
// the queue share an identity.
type RepublishResult struct {
	Success     bool `json:"success"`
	Republished int  `json:"republished"`
}

type Engine struct {
	registry  *registry.Registry
	converter *message.Converter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	audit     Auditor
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.audit = a }
}

func New(reg *registry.Registry, converter *message.Converter, opts ...Option) *Engine {
	e := &Engine{
		registry:  reg,
		converter: converter,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// QueueIDs lists the configured queue ids in configuration order.
func (e *Engine) QueueIDs() []string {
	return e.registry.QueueIDs()
}

// DefaultQueueID returns the first configured queue id.
func (e *Engine) DefaultQueueID() (string, bool) {
	d, ok := e.registry.Default()
	return d.ID, ok
}

// QueueSize returns the number of ready messages in the read queue of
// queueID. ok is false when the queue id is unknown or the broker does not
// know the queue.
func (e *Engine) QueueSize(ctx context.Context, c *conncache.Cache, queueID string) (size int, ok bool, err error) {
	start := time.Now()
	defer func() { e.observe("size", start, ok, err) }()

	dest, found := e.resolve(queueID)
	if !found {
		return 0, false, nil
	}
	return e.size(ctx, c, dest)
}

// Messages peeks up to limit messages (the current depth when limit <= 0)
// and returns their views. Nothing is consumed.
func (e *Engine) Messages(ctx context.Context, c *conncache.Cache, queueID string, limit int) (views []message.View, err error) {
	start := time.Now()
	defer func() { e.observe("list", start, true, err) }()

	views = []message.View{}
	dest, found := e.resolve(queueID)
	if !found {
		return views, nil
	}
	size, ok, err := e.size(ctx, c, dest)
	if err != nil || !ok {
		return views, err
	}

	n := size
	if limit > 0 {
		n = limit
	}

	err = e.scan(ctx, c, dest, n, func(_ rabbitmq.Channel, _ rabbitmq.Message, v message.View) (bool, error) {
		views = append(views, v)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// DropAll purges the read queue of queueID.
func (e *Engine) DropAll(ctx context.Context, c *conncache.Cache, queueID string) (ok bool, err error) {
	start := time.Now()
	defer func() { e.observe("drop-all", start, ok, err) }()

	dest, found := e.resolve(queueID)
	if !found {
		return false, nil
	}
	if _, known, err := e.size(ctx, c, dest); err != nil || !known {
		return false, err
	}

	defer func() { e.record(db.ActionDropAll, dest, "", ok, err) }()

	ch, err := c.Channel(ctx, dest.ReadBinder)
	if err != nil {
		return false, fmt.Errorf("open channel: %w", err)
	}
	purged, err := ch.Purge(ctx, dest.ReadQueue)
	if err != nil {
		return false, fmt.Errorf("purge %s: %w", dest.ReadQueue, err)
	}

	e.metrics.Purge(dest.ID)
	e.logger.Info("queue purged", "queue_id", dest.ID, "queue", dest.ReadQueue, "messages", purged)
	return true, nil
}

// Drop acknowledges the first message whose identity is id. Messages peeked
// before it go back to the queue.
func (e *Engine) Drop(ctx context.Context, c *conncache.Cache, queueID, id string) (res DropResult, err error) {
	start := time.Now()
	defer func() { e.observe("drop", start, res.Success, err) }()

	if id == "" {
		e.logger.Warn("drop without message id", "queue_id", queueID)
		return DropResult{}, nil
	}
	dest, found := e.resolve(queueID)
	if !found {
		return DropResult{}, nil
	}
	size, known, err := e.size(ctx, c, dest)
	if err != nil || !known {
		return DropResult{}, err
	}

	defer func() { e.record(db.ActionDrop, dest, id, res.Success, err) }()

	err = e.scan(ctx, c, dest, size, func(ch rabbitmq.Channel, raw rabbitmq.Message, v message.View) (bool, error) {
		if v.ID != id {
			return true, nil
		}
		if err := ch.Ack(raw.DeliveryTag); err != nil {
			return false, fmt.Errorf("ack %s: %w", id, err)
		}
		e.metrics.Ack(dest.ID)
		res = DropResult{Success: true, Matched: &v}
		return false, nil
	})
	if err != nil {
		return DropResult{}, err
	}

	if res.Success {
		e.logger.Info("message dropped", "queue_id", dest.ID, "queue", dest.ReadQueue, "message_id", id)
	} else {
		e.logger.Warn("message not found", "queue_id", dest.ID, "queue", dest.ReadQueue, "message_id", id)
	}
	return res, nil
}

// Republish moves every message whose identity is id from the read queue to
// the republish target. A match is acknowledged before it is published, so a
// crash in between loses the message rather than duplicating it. The scan
// does not stop at the first match.
func (e *Engine) Republish(ctx context.Context, c *conncache.Cache, queueID, id string) (res RepublishResult, err error) {
	start := time.Now()
	defer func() { e.observe("republish", start, res.Success, err) }()

	if id == "" {
		e.logger.Warn("republish without message id", "queue_id", queueID)
		return RepublishResult{}, nil
	}
	dest, found := e.resolve(queueID)
	if !found {
		return RepublishResult{}, nil
	}
	size, known, err := e.size(ctx, c, dest)
	if err != nil || !known {
		return RepublishResult{}, err
	}

	defer func() { e.record(db.ActionRepublish, dest, id, res.Success, err) }()
	if dest.RepublishBinder != dest.ReadBinder {
		defer e.teardown(c, dest.RepublishBinder)
	}

	// The destination channel must be usable before anything is acked.
	out, err := c.Channel(ctx, dest.RepublishBinder)
	if err != nil {
		e.teardown(c, dest.ReadBinder)
		return RepublishResult{}, fmt.Errorf("open republish channel: %w", err)
	}
	exchange, routingKey := dest.RepublishTarget()

	err = e.scan(ctx, c, dest, size, func(ch rabbitmq.Channel, raw rabbitmq.Message, v message.View) (bool, error) {
		if v.ID != id {
			return true, nil
		}
		if err := ch.Ack(raw.DeliveryTag); err != nil {
			return false, fmt.Errorf("ack %s: %w", id, err)
		}
		e.metrics.Ack(dest.ID)

		if err := out.Publish(ctx, exchange, routingKey, raw); err != nil {
			return false, fmt.Errorf("republish %s: %w", id, err)
		}
		e.metrics.Republish(dest.ID)
		res.Republished++
		return true, nil
	})
	if err != nil {
		return RepublishResult{Republished: res.Republished}, err
	}

	res.Success = res.Republished > 0
	if res.Success {
		e.logger.Info("message republished",
			"queue_id", dest.ID, "queue", dest.ReadQueue, "message_id", id,
			"exchange", exchange, "routing_key", routingKey, "count", res.Republished)
	} else {
		e.logger.Warn("message not found", "queue_id", dest.ID, "queue", dest.ReadQueue, "message_id", id)
	}
	return res, nil
}

// visitFunc sees each peeked message; returning false ends the scan.
type visitFunc func(ch rabbitmq.Channel, raw rabbitmq.Message, v message.View) (more bool, err error)

// scan peeks up to n messages from the read queue of dest and stops early
// when the queue runs dry. The read binder is torn down on every exit path.
func (e *Engine) scan(ctx context.Context, c *conncache.Cache, dest registry.Destination, n int, visit visitFunc) error {
	defer e.teardown(c, dest.ReadBinder)

	ch, err := c.Channel(ctx, dest.ReadBinder)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	for range n {
		raw, ok, err := ch.Get(ctx, dest.ReadQueue)
		if err != nil {
			return fmt.Errorf("peek %s: %w", dest.ReadQueue, err)
		}
		if !ok {
			return nil
		}
		e.metrics.Peek(dest.ID)

		more, err := visit(ch, raw, e.converter.Convert(raw))
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func (e *Engine) teardown(c *conncache.Cache, binder string) {
	if !c.Cached(binder) {
		return
	}
	if err := c.Teardown(binder); err != nil {
		e.logger.Warn("teardown failed", "binder", binder, "error", err)
	}
	e.metrics.Teardown()
}

func (e *Engine) resolve(queueID string) (registry.Destination, bool) {
	dest, ok := e.registry.Resolve(queueID)
	if !ok {
		e.logger.Warn("unknown queue id", "queue_id", queueID)
	}
	return dest, ok
}

func (e *Engine) size(ctx context.Context, c *conncache.Cache, dest registry.Destination) (int, bool, error) {
	admin, err := c.Admin(ctx, dest.ReadBinder)
	if errors.Is(err, conncache.ErrUnknownBinder) {
		e.logger.Warn("unknown binder", "queue_id", dest.ID, "binder", dest.ReadBinder)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("open admin: %w", err)
	}

	depth, ok, err := admin.QueueDepth(ctx, dest.ReadQueue)
	if err != nil {
		return 0, false, fmt.Errorf("queue depth %s: %w", dest.ReadQueue, err)
	}
	if !ok {
		e.logger.Warn("queue not found", "queue_id", dest.ID, "queue", dest.ReadQueue)
		return 0, false, nil
	}
	return depth, true, nil
}

func (e *Engine) record(action string, dest registry.Destination, messageID string, success bool, err error) {
	if e.audit == nil {
		return
	}
	rec := &db.ActionRecord{
		Action:    action,
		QueueID:   dest.ID,
		ReadQueue: dest.ReadQueue,
		MessageID: messageID,
		Success:   success,
	}
	if b, ok := e.registry.Binder(dest.ReadBinder); ok {
		rec.BrokerURL = b.URL
	}
	if err != nil {
		rec.Error = err.Error()
	}
	e.audit.Record(rec)
}

func (e *Engine) observe(op string, start time.Time, ok bool, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !ok:
		outcome = "miss"
	}
	e.metrics.Observe(op, outcome, start)
}
