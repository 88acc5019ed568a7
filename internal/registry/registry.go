// Package registry implements the shared event registry: a mapping from
// event name to an ordered set of subscriber callbacks. The registry is the
// single dispatch point for every inbound gateway event, shared by all chat
// surfaces on one connection.
package registry

import (
	"encoding/json"
	"log"
	"sync"
	"unsafe"
)

// Handler is the callback signature for a subscribed event. The raw JSON
// payload is passed through so each subscriber decodes only the struct it
// cares about.
type Handler func(data json.RawMessage)

// Subscription is the stable handle returned by On and consumed by Off.
// Holding the handle removes any reliance on closure identity across
// mount/unmount cycles.
type Subscription struct {
	event string
	id    uint64
}

// Event returns the event name this subscription is attached to.
func (s Subscription) Event() string { return s.event }

type entry struct {
	id  uint64
	key uintptr // handler identity, see handlerKey
	fn  Handler
}

// Registry maps event names to ordered callback sets. It is safe for
// concurrent use. Dispatch iterates over a snapshot of the callback set, so
// a callback that subscribes or unsubscribes during dispatch does not affect
// the current pass.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	events map[string][]entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{events: make(map[string][]entry)}
}

// handlerKey returns the identity of a handler value: the address of its
// underlying funcval. Passing the same handler value twice yields the same
// key, while two closures created separately get distinct keys even when
// they originate from the same source literal. This mirrors the reference
// equality the registry's set semantics are defined in terms of.
func handlerKey(fn Handler) uintptr {
	return uintptr(*(*unsafe.Pointer)(unsafe.Pointer(&fn)))
}

// On registers a callback for an event and returns its subscription handle.
// Registering the same handler value twice for the same event stores it
// once: the existing subscription is returned and no duplicate invocation
// will occur on dispatch.
func (r *Registry) On(event string, fn Handler) Subscription {
	key := handlerKey(fn)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events[event] {
		if e.key == key {
			return Subscription{event: event, id: e.id}
		}
	}

	r.nextID++
	r.events[event] = append(r.events[event], entry{id: r.nextID, key: key, fn: fn})
	return Subscription{event: event, id: r.nextID}
}

// Off removes the subscription. Removing an unknown or already-removed
// subscription is a no-op, never an error.
func (r *Registry) Off(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.events[sub.event]
	for i, e := range entries {
		if e.id == sub.id {
			r.events[sub.event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(r.events[sub.event]) == 0 {
		delete(r.events, sub.event)
	}
}

// OffHandler removes a callback by handler value, for callers that kept the
// function rather than the subscription handle. Unknown callbacks are a no-op.
func (r *Registry) OffHandler(event string, fn Handler) {
	key := handlerKey(fn)

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.events[event]
	for i, e := range entries {
		if e.key == key {
			r.events[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(r.events[event]) == 0 {
		delete(r.events, event)
	}
}

// Dispatch invokes every callback registered for the event, in registration
// order, with the raw payload. Each invocation is isolated: a panicking
// callback is logged and the remaining callbacks still run.
func (r *Registry) Dispatch(event string, data json.RawMessage) {
	r.mu.Lock()
	entries := r.events[event]
	snapshot := make([]entry, len(entries))
	copy(snapshot, entries)
	r.mu.Unlock()

	for _, e := range snapshot {
		invoke(event, e.fn, data)
	}
}

// Count returns the number of callbacks currently registered for an event.
func (r *Registry) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[event])
}

func invoke(event string, fn Handler, data json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[registry] callback panic event=%s: %v", event, rec)
		}
	}()
	fn(data)
}
