package registry

import (
	"reflect"
	"testing"

	"github.com/epalmerini/burrow/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		Binders: map[string]config.Binder{
			"main": {URL: "amqp://localhost/", Admin: "amqp"},
		},
		Queues: map[string]config.Queue{
			"orders": {
				ReadName:            "orders.dlq",
				ReadBinder:          "main",
				RepublishName:       "orders",
				RepublishRoutingKey: "#",
				RepublishBinder:     "main",
			},
			"payments": {
				ReadName:            "payments.dlq",
				ReadBinder:          "main",
				RepublishExchange:   "payments",
				RepublishRoutingKey: "payments.retry",
				RepublishBinder:     "main",
			},
		},
		QueueIDs: []string{"payments", "orders"},
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := New(testConfig())

	d, ok := r.Resolve("orders")
	if !ok {
		t.Fatal("Resolve(orders) not found")
	}
	if d.ReadQueue != "orders.dlq" || d.ReadBinder != "main" || d.ID != "orders" {
		t.Errorf("Resolve(orders) = %+v", d)
	}

	if _, ok := r.Resolve("missing"); ok {
		t.Error("Resolve(missing) found")
	}
}

func TestRegistry_DefaultIsFirstConfigured(t *testing.T) {
	r := New(testConfig())
	d, ok := r.Default()
	if !ok || d.ID != "payments" {
		t.Errorf("Default() = %+v, %v; want payments", d, ok)
	}

	if _, ok := New(config.Config{}).Default(); ok {
		t.Error("Default() on empty registry should report absence")
	}
}

func TestRegistry_QueueIDsIsCopy(t *testing.T) {
	r := New(testConfig())
	ids := r.QueueIDs()
	ids[0] = "mutated"
	if got := r.QueueIDs(); !reflect.DeepEqual(got, []string{"payments", "orders"}) {
		t.Errorf("QueueIDs() = %v", got)
	}
}

func TestRegistry_Binder(t *testing.T) {
	r := New(testConfig())
	b, ok := r.Binder("main")
	if !ok || b.Name != "main" || b.URL != "amqp://localhost/" {
		t.Errorf("Binder(main) = %+v, %v", b, ok)
	}
	if _, ok := r.Binder("ghost"); ok {
		t.Error("Binder(ghost) found")
	}
}

func TestDestination_RepublishTarget(t *testing.T) {
	r := New(testConfig())

	orders, _ := r.Resolve("orders")
	if ex, key := orders.RepublishTarget(); ex != "" || key != "orders" {
		t.Errorf("orders target = %q %q, want default exchange to queue", ex, key)
	}

	payments, _ := r.Resolve("payments")
	if ex, key := payments.RepublishTarget(); ex != "payments" || key != "payments.retry" {
		t.Errorf("payments target = %q %q", ex, key)
	}
}
