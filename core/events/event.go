package events

import (
	"sync"

	"hedgeline/core/types"
)

// Event represents a structured state change emitted by a ledger module.
type Event interface {
	EventType() string
}

// Broadcastable events expose a flattened attribute payload for transport.
type Broadcastable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. NATS, websocket clients).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans an event out to every wrapped emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	evts := r.Events()
	out := make([]string, len(evts))
	for i, evt := range evts {
		out[i] = evt.EventType()
	}
	return out
}

// Flatten converts evt into its transport form. Events that do not implement
// Broadcastable are reduced to their type.
func Flatten(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if b, ok := evt.(Broadcastable); ok {
		if out := b.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
