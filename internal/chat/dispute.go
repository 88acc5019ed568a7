package chat

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/servify/chat-client/internal/protocol"
	"github.com/servify/chat-client/internal/registry"
	"github.com/servify/chat-client/internal/rest"
	"github.com/servify/chat-client/internal/typing"
)

// DisputeChat is the consumer adapter for one dispute's chat surface.
// Dispute messages travel over the realtime channel in both directions (no
// REST collaborator, no attachments); the local view is built from the
// room's event stream, own echoes included, deduplicated by message id.
type DisputeChat struct {
	disputeID string
	userID    string

	gw       Gateway
	debounce *typing.Debouncer
	view     *View

	mounted atomic.Bool

	onMessage registry.Handler
	onTyping  registry.Handler
	onStatus  registry.Handler
	subs      []registry.Subscription

	mu           sync.Mutex
	status       string
	remoteTyping map[string]bool
}

// NewDisputeChat creates an adapter for one dispute on the shared gateway.
func NewDisputeChat(disputeID, localUserID string, gw Gateway) *DisputeChat {
	d := &DisputeChat{
		disputeID:    disputeID,
		userID:       localUserID,
		gw:           gw,
		view:         NewView(),
		remoteTyping: make(map[string]bool),
	}
	d.debounce = typing.New(typing.DefaultQuiet, d.sendTyping)
	d.onMessage = d.handleMessage
	d.onTyping = d.handleTyping
	d.onStatus = d.handleStatus
	return d
}

// Mount retains the gateway, joins the dispute room, and registers the
// event callbacks. Idempotent.
func (d *DisputeChat) Mount() {
	if !d.mounted.CompareAndSwap(false, true) {
		return
	}

	d.gw.Retain()
	d.gw.Connect()
	d.subs = []registry.Subscription{
		d.gw.On(protocol.EventDisputeMessage, d.onMessage),
		d.gw.On(protocol.EventDisputeTyping, d.onTyping),
		d.gw.On(protocol.EventDisputeStatusUpdate, d.onStatus),
	}
	d.gw.JoinDisputeChat(d.disputeID)
}

// Unmount removes the mount-time callbacks, drops the pending typing timer
// without emitting, leaves the room, and releases the gateway. Idempotent.
func (d *DisputeChat) Unmount() {
	if !d.mounted.CompareAndSwap(true, false) {
		return
	}

	for _, sub := range d.subs {
		d.gw.Off(sub)
	}
	d.subs = nil
	d.debounce.Cancel(d.disputeID)
	d.gw.LeaveDisputeChat(d.disputeID)
	d.gw.Release()
}

// InputChanged reports a local input change and drives the typing debouncer.
func (d *DisputeChat) InputChanged(value string) {
	d.debounce.InputChanged(d.disputeID, value)
}

// Send stops the typing indicator synchronously and emits the message over
// the realtime channel. The local view is updated by the room echo, not
// here; a send while disconnected surfaces the transport error.
func (d *DisputeChat) Send(content string) error {
	d.debounce.Submit(d.disputeID)
	return d.gw.Emit(protocol.EventSendDisputeMessage, protocol.DisputeMessageMsg{
		DisputeID: d.disputeID,
		Content:   content,
	})
}

// Messages returns the local history in display order.
func (d *DisputeChat) Messages() []rest.Message { return d.view.Messages() }

// Connected reports the shared transport state.
func (d *DisputeChat) Connected() bool { return d.gw.IsConnected() }

// PeerTyping reports whether any other participant is currently typing.
func (d *DisputeChat) PeerTyping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.remoteTyping {
		if t {
			return true
		}
	}
	return false
}

// Status returns the last observed dispute status, empty before any update.
func (d *DisputeChat) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *DisputeChat) handleMessage(data json.RawMessage) {
	var ev protocol.DisputeMessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[chat] dispute %s: bad message payload: %v", d.disputeID, err)
		return
	}
	if ev.DisputeID != d.disputeID {
		return
	}
	d.view.Append(rest.Message{
		ID:        ev.MessageID,
		SenderID:  ev.SenderID,
		Content:   ev.Content,
		CreatedAt: ev.CreatedAt,
	})
}

func (d *DisputeChat) handleTyping(data json.RawMessage) {
	var ev protocol.DisputeTypingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.DisputeID != d.disputeID || ev.UserID == d.userID {
		return
	}
	d.mu.Lock()
	d.remoteTyping[ev.UserID] = ev.IsTyping
	d.mu.Unlock()
}

func (d *DisputeChat) handleStatus(data json.RawMessage) {
	var ev protocol.DisputeStatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.DisputeID != d.disputeID {
		return
	}
	d.mu.Lock()
	d.status = ev.Status
	d.mu.Unlock()
}

func (d *DisputeChat) sendTyping(roomID string, isTyping bool) {
	if err := d.gw.Emit(protocol.EventSendDisputeTyping, protocol.DisputeTypingMsg{DisputeID: roomID, IsTyping: isTyping}); err != nil {
		log.Printf("[chat] dispute %s: typing signal dropped: %v", roomID, err)
	}
}
