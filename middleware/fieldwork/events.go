package fieldwork

import (
	"sync"

	"fieldproof-backend/core/fieldwork"
)

// EventBus fans committed lifecycle events out to sinks and keeps a
// bounded ring of recent events for polling clients.
type EventBus struct {
	mu    sync.Mutex
	ring  []fieldwork.Event
	next  int
	full  bool
	sinks []func(fieldwork.Event)
}

// NewEventBus keeps the last capacity events.
func NewEventBus(capacity int) *EventBus {
	if capacity < 1 {
		capacity = 1024
	}
	return &EventBus{ring: make([]fieldwork.Event, capacity)}
}

// Subscribe adds a callback to receive events. Sinks run synchronously on
// the publishing goroutine.
func (b *EventBus) Subscribe(sink func(fieldwork.Event)) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Publish records evt and forwards it to every sink.
func (b *EventBus) Publish(evt fieldwork.Event) {
	b.mu.Lock()
	b.ring[b.next] = evt
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	sinks := append([]func(fieldwork.Event){}, b.sinks...)
	b.mu.Unlock()
	for _, sink := range sinks {
		sink(evt)
	}
}

// Recent returns buffered events oldest first, optionally for one task,
// capped at limit when limit > 0.
func (b *EventBus) Recent(taskID string, limit int) []fieldwork.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ordered []fieldwork.Event
	if b.full {
		ordered = append(ordered, b.ring[b.next:]...)
	}
	ordered = append(ordered, b.ring[:b.next]...)

	out := make([]fieldwork.Event, 0, len(ordered))
	for _, evt := range ordered {
		if taskID == "" || evt.TaskID == taskID {
			out = append(out, evt)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
