package chat

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/servify/chat-client/internal/protocol"
	"github.com/servify/chat-client/internal/registry"
)

// NotificationFeed collects user-scoped notifications from the shared
// connection and tracks an unseen counter for the badge. It joins no room;
// the gateway scopes notification delivery by the authenticated user.
type NotificationFeed struct {
	gw Gateway

	mounted atomic.Bool
	handler registry.Handler
	sub     registry.Subscription

	mu     sync.Mutex
	items  []protocol.NotificationEvent
	unseen int
}

// NewNotificationFeed creates a feed on the shared gateway.
func NewNotificationFeed(gw Gateway) *NotificationFeed {
	f := &NotificationFeed{gw: gw}
	f.handler = f.handle
	return f
}

// Mount retains the gateway and starts collecting. Idempotent.
func (f *NotificationFeed) Mount() {
	if !f.mounted.CompareAndSwap(false, true) {
		return
	}
	f.gw.Retain()
	f.gw.Connect()
	f.sub = f.gw.On(protocol.EventNotification, f.handler)
}

// Unmount stops collecting and releases the gateway. Collected items are
// kept so a remount does not lose history. Idempotent.
func (f *NotificationFeed) Unmount() {
	if !f.mounted.CompareAndSwap(true, false) {
		return
	}
	f.gw.Off(f.sub)
	f.gw.Release()
}

// Unseen returns the badge counter.
func (f *NotificationFeed) Unseen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unseen
}

// MarkAllSeen clears the badge counter without discarding the items.
func (f *NotificationFeed) MarkAllSeen() {
	f.mu.Lock()
	f.unseen = 0
	f.mu.Unlock()
}

// Items returns the collected notifications, newest last.
func (f *NotificationFeed) Items() []protocol.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.NotificationEvent, len(f.items))
	copy(out, f.items)
	return out
}

func (f *NotificationFeed) handle(data json.RawMessage) {
	var ev protocol.NotificationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	f.mu.Lock()
	f.items = append(f.items, ev)
	f.unseen++
	f.mu.Unlock()
}
