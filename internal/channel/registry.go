package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Listener is a subscribed callback. Identity is the pointer: the same
// *Listener may be subscribed several times, and Unsubscribe removes every
// entry that is that pointer.
type Listener struct {
	id uuid.UUID
	fn func(payload json.RawMessage)
}

// NewListener wraps fn. The payload is nil for lifecycle events.
func NewListener(fn func(payload json.RawMessage)) *Listener {
	return &Listener{id: uuid.New(), fn: fn}
}

// ID identifies the listener in logs.
func (l *Listener) ID() uuid.UUID {
	return l.id
}

// ListenerPanicError is reported when a listener panics during dispatch.
type ListenerPanicError struct {
	Event    Event
	Listener uuid.UUID
	Value    any
}

func (e *ListenerPanicError) Error() string {
	return fmt.Sprintf("listener %s panicked on %q: %v", e.Listener, e.Event, e.Value)
}

// Registry maps event names to ordered listener sequences.
type Registry struct {
	logger *slog.Logger
	report func(error)

	mu        sync.RWMutex
	listeners map[Event][]*Listener

	panics atomic.Int64
}

// NewRegistry creates an empty registry. report, if non-nil, receives a
// *ListenerPanicError for every recovered listener panic.
func NewRegistry(logger *slog.Logger, report func(error)) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		report:    report,
		listeners: make(map[Event][]*Listener),
	}
}

// Subscribe appends l to the sequence for event.
func (r *Registry) Subscribe(event Event, l *Listener) {
	if l == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners[event] = append(r.listeners[event], l)
}

// Unsubscribe removes every entry for event that is l. Order of the
// remaining entries is kept. Unknown events or listeners are a no-op.
func (r *Registry) Unsubscribe(event Event, l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.listeners[event]
	if !ok {
		return
	}

	// Build a fresh slice; a dispatch in flight may hold the old one.
	kept := make([]*Listener, 0, len(current))
	for _, existing := range current {
		if existing != l {
			kept = append(kept, existing)
		}
	}

	if len(kept) == 0 {
		delete(r.listeners, event)
		return
	}
	r.listeners[event] = kept
}

// Len returns the number of entries subscribed to event.
func (r *Registry) Len(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[event])
}

// Dispatch calls every listener currently subscribed to event, in order, on
// the calling goroutine. Listeners added or removed during the dispatch take
// effect on the next one. A panicking listener is recovered and reported;
// the remaining listeners still run.
func (r *Registry) Dispatch(event Event, payload json.RawMessage) {
	r.mu.RLock()
	listeners := r.listeners[event]
	r.mu.RUnlock()

	for _, l := range listeners {
		r.invoke(event, l, payload)
	}
}

// Panics returns the number of recovered listener panics.
func (r *Registry) Panics() int64 {
	return r.panics.Load()
}

func (r *Registry) invoke(event Event, l *Listener, payload json.RawMessage) {
	defer func() {
		if v := recover(); v != nil {
			r.panics.Add(1)
			err := &ListenerPanicError{Event: event, Listener: l.id, Value: v}
			r.logger.Error("listener panicked",
				"event", event,
				"listener", l.id,
				"panic", v,
			)
			if r.report != nil {
				r.report(err)
			}
		}
	}()

	l.fn(payload)
}
