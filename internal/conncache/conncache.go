// Package conncache caches broker handles per binder for the duration of one
// task. A Cache must not be shared between goroutines: closing the
// connection that fetched a message is what hands unacknowledged messages
// back to the broker, so the goroutine that fetched is the one that tears
// down.
package conncache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/epalmerini/burrow/internal/rabbitmq"
)

// ErrUnknownBinder is returned when a binder has no connection parameters.
var ErrUnknownBinder = errors.New("unknown binder")

// Binders resolves binder names to connection parameters.
type Binders interface {
	Binder(name string) (rabbitmq.Binder, bool)
}

type entry struct {
	conn    rabbitmq.Conn
	admin   rabbitmq.Admin
	channel rabbitmq.Channel
}

type Cache struct {
	dialer  rabbitmq.Dialer
	binders Binders
	entries map[string]*entry
}

func New(dialer rabbitmq.Dialer, binders Binders) *Cache {
	return &Cache{
		dialer:  dialer,
		binders: binders,
		entries: make(map[string]*entry),
	}
}

func (c *Cache) entry(ctx context.Context, name string) (*entry, error) {
	if e, ok := c.entries[name]; ok {
		return e, nil
	}

	b, ok := c.binders.Binder(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBinder, name)
	}

	conn, err := c.dialer.Dial(ctx, b)
	if err != nil {
		return nil, err
	}

	e := &entry{conn: conn}
	c.entries[name] = e
	return e, nil
}

// Admin returns the cached admin handle for a binder, connecting on first use.
func (c *Cache) Admin(ctx context.Context, name string) (rabbitmq.Admin, error) {
	e, err := c.entry(ctx, name)
	if err != nil {
		return nil, err
	}
	if e.admin == nil {
		admin, err := e.conn.Admin(ctx)
		if err != nil {
			return nil, err
		}
		e.admin = admin
	}
	return e.admin, nil
}

// Channel returns the cached channel for a binder. It shares the connection
// with the admin handle.
func (c *Cache) Channel(ctx context.Context, name string) (rabbitmq.Channel, error) {
	e, err := c.entry(ctx, name)
	if err != nil {
		return nil, err
	}
	if e.channel == nil {
		ch, err := e.conn.Channel(ctx)
		if err != nil {
			return nil, err
		}
		e.channel = ch
	}
	return e.channel, nil
}

// Cached reports whether a binder currently has a live connection.
func (c *Cache) Cached(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Teardown closes and forgets the admin handle, channel and connection of a
// binder, in that order. Calling it for a binder with nothing cached is a
// no-op.
func (c *Cache) Teardown(name string) error {
	e, ok := c.entries[name]
	if !ok {
		return nil
	}
	delete(c.entries, name)

	var errs []error
	if e.admin != nil {
		if err := e.admin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close admin: %w", err))
		}
	}
	if e.channel != nil {
		if err := e.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if err := e.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("teardown %q: %w", name, err)
	}
	return nil
}

// Close tears down every cached binder.
func (c *Cache) Close() error {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		errs = append(errs, c.Teardown(name))
	}
	return errors.Join(errs...)
}
