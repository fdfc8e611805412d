package bus

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"hedgeline/core/events"
	"hedgeline/observability"
)

// Publisher is the subset of *nats.Conn used to forward events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials NATS with unbounded reconnects.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// Subject returns the subject an event type is published on.
func Subject(prefix, eventType string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// NATSEmitter publishes each ledger event as JSON on <prefix>.<event type>.
// Publish failures are logged and never block the ledger.
type NATSEmitter struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// NewNATSEmitter wraps pub.
func NewNATSEmitter(pub Publisher, prefix string, logger *slog.Logger) *NATSEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSEmitter{pub: pub, prefix: prefix, logger: logger}
}

// Emit implements events.Emitter.
func (e *NATSEmitter) Emit(evt events.Event) {
	if e == nil || e.pub == nil {
		return
	}
	flat := events.Flatten(evt)
	if flat == nil {
		return
	}
	data, err := json.Marshal(flat)
	if err != nil {
		e.logger.Warn("encode event", "type", flat.Type, "error", err)
		return
	}
	subject := Subject(e.prefix, flat.Type)
	if err := e.pub.Publish(subject, data); err != nil {
		e.logger.Warn("publish event", "subject", subject, "error", err)
	}
}

// MetricsEmitter counts events by type.
type MetricsEmitter struct{}

// Emit implements events.Emitter.
func (MetricsEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
}
