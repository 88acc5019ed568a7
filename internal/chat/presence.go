package chat

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/servify/chat-client/internal/protocol"
	"github.com/servify/chat-client/internal/registry"
)

// Presence is the last known state of one user.
type Presence struct {
	Online   bool
	LastSeen string
}

// PresenceTracker folds user_presence events from the shared connection into
// a per-user online/last-seen map for the chat headers.
type PresenceTracker struct {
	gw Gateway

	mounted atomic.Bool
	handler registry.Handler
	sub     registry.Subscription

	mu    sync.Mutex
	users map[string]Presence
}

// NewPresenceTracker creates a tracker on the shared gateway.
func NewPresenceTracker(gw Gateway) *PresenceTracker {
	t := &PresenceTracker{gw: gw, users: make(map[string]Presence)}
	t.handler = t.handle
	return t
}

// Mount retains the gateway and starts tracking. Idempotent.
func (t *PresenceTracker) Mount() {
	if !t.mounted.CompareAndSwap(false, true) {
		return
	}
	t.gw.Retain()
	t.gw.Connect()
	t.sub = t.gw.On(protocol.EventUserPresence, t.handler)
}

// Unmount stops tracking and releases the gateway. Idempotent.
func (t *PresenceTracker) Unmount() {
	if !t.mounted.CompareAndSwap(true, false) {
		return
	}
	t.gw.Off(t.sub)
	t.gw.Release()
}

// Lookup returns the last known presence of a user. The second return is
// false when no presence event has been observed for them yet.
func (t *PresenceTracker) Lookup(userID string) (Presence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.users[userID]
	return p, ok
}

// Online reports whether the user was last seen online.
func (t *PresenceTracker) Online(userID string) bool {
	p, ok := t.Lookup(userID)
	return ok && p.Online
}

func (t *PresenceTracker) handle(data json.RawMessage) {
	var ev protocol.PresenceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	t.mu.Lock()
	t.users[ev.UserID] = Presence{Online: ev.IsOnline, LastSeen: ev.LastSeen}
	t.mu.Unlock()
}
