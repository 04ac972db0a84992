// Package registry resolves logical queue ids to their broker destinations.
// It is built once from config and read-only afterwards, so it can be shared
// freely between goroutines.
package registry

import (
	"github.com/epalmerini/burrow/internal/config"
	"github.com/epalmerini/burrow/internal/rabbitmq"
)

// Destination is where a logical queue is read from and republished to.
type Destination struct {
	ID                  string
	ReadQueue           string
	ReadBinder          string
	RepublishQueue      string
	RepublishExchange   string
	RepublishRoutingKey string
	RepublishBinder     string
}

// RepublishTarget returns the exchange and routing key to publish to. Without
// an exchange, messages go through the default exchange straight to the
// republish queue.
func (d Destination) RepublishTarget() (exchange, routingKey string) {
	if d.RepublishExchange == "" {
		return "", d.RepublishQueue
	}
	return d.RepublishExchange, d.RepublishRoutingKey
}

type Registry struct {
	ids          []string
	destinations map[string]Destination
	binders      map[string]rabbitmq.Binder
}

// New builds a Registry from a resolved config.
func New(cfg config.Config) *Registry {
	r := &Registry{
		ids:          append([]string(nil), cfg.QueueIDs...),
		destinations: make(map[string]Destination, len(cfg.Queues)),
		binders:      make(map[string]rabbitmq.Binder, len(cfg.Binders)),
	}

	for id, q := range cfg.Queues {
		r.destinations[id] = Destination{
			ID:                  id,
			ReadQueue:           q.ReadName,
			ReadBinder:          q.ReadBinder,
			RepublishQueue:      q.RepublishName,
			RepublishExchange:   q.RepublishExchange,
			RepublishRoutingKey: q.RepublishRoutingKey,
			RepublishBinder:     q.RepublishBinder,
		}
	}
	for name, b := range cfg.Binders {
		r.binders[name] = rabbitmq.Binder{
			Name:          name,
			URL:           b.URL,
			ManagementURL: b.ManagementURL,
			Admin:         b.Admin,
		}
	}
	return r
}

// Resolve looks up a queue id.
func (r *Registry) Resolve(queueID string) (Destination, bool) {
	d, ok := r.destinations[queueID]
	return d, ok
}

// QueueIDs returns the configured queue ids in configuration order.
func (r *Registry) QueueIDs() []string {
	return append([]string(nil), r.ids...)
}

// Default returns the first configured destination.
func (r *Registry) Default() (Destination, bool) {
	if len(r.ids) == 0 {
		return Destination{}, false
	}
	return r.Resolve(r.ids[0])
}

// Binder returns the connection parameters of a binder.
func (r *Registry) Binder(name string) (rabbitmq.Binder, bool) {
	b, ok := r.binders[name]
	return b, ok
}
