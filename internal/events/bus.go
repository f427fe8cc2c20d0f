package events

import (
	"log"
	"runtime/debug"
	"sync"
)

// Emitter is the single output surface the engine writes events to.
type Emitter interface {
	Emit(Event)
}

// Bus delivers each event synchronously to every subscribed handler,
// in subscription order, on the emitting goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers []subscription
	nextID   uint64
}

type subscription struct {
	id      uint64
	handler Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.handlers {
			if sub.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches the event to every handler before returning.
// A panicking handler is logged and does not stop delivery to the rest.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers))
	copy(subs, b.handlers)
	b.mu.RUnlock()

	for _, sub := range subs {
		safeDispatch(sub.handler, e)
	}
}

// Len returns the number of subscribed handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func safeDispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[events] ERROR: handler panicked for event %s: %v\n%s", kindOf(e), r, debug.Stack())
		}
	}()
	Dispatch(h, e)
}

// Recorder is a Handler that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handler returns the recorder as a bus handler.
func (r *Recorder) Handler() Handler {
	return Func(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	evs := r.Events()
	kinds := make([]Kind, len(evs))
	for i, e := range evs {
		kinds[i] = e.Kind()
	}
	return kinds
}

// Count returns how many events of the given kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}
