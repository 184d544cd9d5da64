// Package events provides the in-process event bus used to fan out
// engine notifications (rule fired, scene activated, state changed) to
// interested subscribers.
package events

import (
	"sync"
)

// Handler receives broadcast events. Handlers run in their own
// goroutine per event and must not assume ordering across events.
type Handler func(channel string, payload any)

// Logger is the minimal logging interface the bus needs.
type Logger interface {
	Error(msg string, args ...any)
}

// Bus is a lightweight publish/subscribe fan-out for engine events.
//
// Broadcast never blocks the caller: each handler is invoked in its own
// goroutine with panic recovery. Delivery is best-effort; subscribers
// needing durability should read the execution history instead.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   Logger
}

// NewBus creates an empty event bus. Logger may be nil.
func NewBus(logger Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a handler for all broadcast events.
// Handlers cannot be removed; subscribe once at startup.
func (b *Bus) Subscribe(handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

// Broadcast delivers an event to all subscribers asynchronously.
//
// Parameters:
//   - channel: Event channel name (e.g., "rule_fired", "scene_activated")
//   - payload: Event payload, typically a map or struct
func (b *Bus) Broadcast(channel string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		go b.deliver(handler, channel, payload)
	}
}

// deliver invokes a single handler with panic recovery.
func (b *Bus) deliver(handler Handler, channel string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error("event handler panic recovered",
					"channel", channel,
					"panic", r,
				)
			}
		}
	}()
	handler(channel, payload)
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
