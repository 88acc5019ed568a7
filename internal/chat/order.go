package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/servify/chat-client/internal/files"
	"github.com/servify/chat-client/internal/protocol"
	"github.com/servify/chat-client/internal/ratelimit"
	"github.com/servify/chat-client/internal/registry"
	"github.com/servify/chat-client/internal/rest"
	"github.com/servify/chat-client/internal/typing"
)

// ErrCooldown is returned by Send while the rate-limit cooldown is active.
// Callers read the remaining window from CooldownRemaining.
var ErrCooldown = errors.New("chat: sends suppressed by rate limit cooldown")

// ErrEmptyMessage is returned by Send when there is neither content nor a
// valid attachment to deliver.
var ErrEmptyMessage = errors.New("chat: nothing to send")

// Gateway is the slice of the shared connection manager the chat surfaces
// consume. *realtime.Client satisfies it.
type Gateway interface {
	Connect()
	Retain()
	Release()
	IsConnected() bool
	On(event string, fn registry.Handler) registry.Subscription
	Off(sub registry.Subscription)
	Emit(event string, payload interface{}) error
	JoinOrderChat(orderID string)
	LeaveOrderChat(orderID string)
	JoinDisputeChat(disputeID string)
	LeaveDisputeChat(disputeID string)
}

// API is the REST collaborator contract the order chat depends on.
// *rest.Client satisfies it.
type API interface {
	FetchMessages(ctx context.Context, orderID string) ([]rest.Message, error)
	SendMessage(ctx context.Context, orderID, content string, attachments []protocol.Attachment) (rest.Message, error)
	EditMessage(ctx context.Context, orderID, messageID, content string) (rest.Message, error)
	DeleteMessage(ctx context.Context, orderID, messageID string) error
	UploadAttachment(ctx context.Context, orderID, fileName string, content io.Reader) (protocol.Attachment, error)
}

// Upload is one local file offered as a message attachment.
type Upload struct {
	Name    string
	Size    int64
	Content io.Reader
}

// SendResult reports the outcome of one Send: the stored message plus any
// attachments rejected by the file policy. Rejected files never block the
// valid ones in the same batch.
type SendResult struct {
	Message  rest.Message
	Rejected []*files.ValidationError
}

// OrderChat is the consumer adapter for one order's chat surface. It holds
// the shared gateway while mounted, filters inbound events down to its order
// id, keeps a deduplicated local history, and drives typing signals, the
// send/edit/delete flow, and the rate-limit cooldown.
type OrderChat struct {
	orderID string
	userID  string

	gw       Gateway
	api      API
	policy   *files.Policy
	debounce *typing.Debouncer
	cooldown *ratelimit.Cooldown
	view     *View

	mounted atomic.Bool

	// Handlers are created once and stored so the identity used at mount
	// time is the identity removed at unmount time.
	onMessage registry.Handler
	onTyping  registry.Handler
	onRead    registry.Handler
	onStatus  registry.Handler
	subs      []registry.Subscription

	mu           sync.Mutex
	status       string
	remoteTyping map[string]bool
}

// NewOrderChat creates an adapter for one order. The gateway is shared with
// other surfaces; nothing is joined or subscribed until Mount.
func NewOrderChat(orderID, localUserID string, gw Gateway, api API, policy *files.Policy) *OrderChat {
	o := &OrderChat{
		orderID:      orderID,
		userID:       localUserID,
		gw:           gw,
		api:          api,
		policy:       policy,
		cooldown:     ratelimit.NewCooldown(),
		view:         NewView(),
		remoteTyping: make(map[string]bool),
	}
	o.debounce = typing.New(typing.DefaultQuiet, o.sendTyping)
	o.onMessage = o.handleMessage
	o.onTyping = o.handleTyping
	o.onRead = o.handleRead
	o.onStatus = o.handleStatus
	return o
}

// SetTypingQuiet overrides the typing quiet window. Call before Mount.
func (o *OrderChat) SetTypingQuiet(quiet time.Duration) {
	o.debounce = typing.New(quiet, o.sendTyping)
}

// Mount attaches the surface to the shared connection: retains the gateway,
// connects if needed, joins the order room, registers the event callbacks,
// and loads the message history. A history fetch failure leaves the surface
// mounted and live; the error is returned so the caller can surface it and
// retry via Refresh.
func (o *OrderChat) Mount(ctx context.Context) error {
	if !o.mounted.CompareAndSwap(false, true) {
		return nil
	}

	o.gw.Retain()
	o.gw.Connect()
	o.subs = []registry.Subscription{
		o.gw.On(protocol.EventOrderMessage, o.onMessage),
		o.gw.On(protocol.EventOrderTyping, o.onTyping),
		o.gw.On(protocol.EventMessagesRead, o.onRead),
		o.gw.On(protocol.EventOrderStatusUpdate, o.onStatus),
	}
	o.gw.JoinOrderChat(o.orderID)

	return o.Refresh(ctx)
}

// Unmount detaches the surface: removes exactly the callbacks registered at
// mount time, discards the pending typing timer without emitting, leaves the
// room, and releases the gateway hold. Idempotent.
func (o *OrderChat) Unmount() {
	if !o.mounted.CompareAndSwap(true, false) {
		return
	}

	for _, sub := range o.subs {
		o.gw.Off(sub)
	}
	o.subs = nil
	o.debounce.Cancel(o.orderID)
	o.gw.LeaveOrderChat(o.orderID)
	o.gw.Release()
}

// Refresh re-fetches the order's history and merges it into the local view.
func (o *OrderChat) Refresh(ctx context.Context) error {
	msgs, err := o.api.FetchMessages(ctx, o.orderID)
	if err != nil {
		return fmt.Errorf("chat: refresh order %s: %w", o.orderID, err)
	}
	o.view.Merge(msgs)
	return nil
}

// InputChanged reports a local input change and drives the typing debouncer.
func (o *OrderChat) InputChanged(value string) {
	o.debounce.InputChanged(o.orderID, value)
}

// Send validates the attachments, uploads the valid ones, creates the
// message via the REST collaborator, and appends the stored record to the
// local view. The typing indicator is stopped synchronously before anything
// reaches the wire. Returns ErrCooldown while the rate-limit window is
// active; a 429 response starts that window and is returned unwrapped inside
// the error chain for inspection via errors.As.
func (o *OrderChat) Send(ctx context.Context, content string, uploads []Upload) (SendResult, error) {
	if o.cooldown.Active() {
		return SendResult{}, ErrCooldown
	}

	o.debounce.Submit(o.orderID)

	candidates := make([]files.Candidate, len(uploads))
	byName := make(map[string]Upload, len(uploads))
	for i, u := range uploads {
		candidates[i] = files.Candidate{Name: u.Name, Size: u.Size}
		byName[u.Name] = u
	}
	valid, rejected := o.policy.ValidateBatch(ctx, candidates)

	if content == "" && len(valid) == 0 {
		return SendResult{Rejected: rejected}, ErrEmptyMessage
	}

	var attachments []protocol.Attachment
	for _, c := range valid {
		att, err := o.api.UploadAttachment(ctx, o.orderID, c.Name, byName[c.Name].Content)
		if err != nil {
			return SendResult{Rejected: rejected}, fmt.Errorf("chat: upload %s: %w", c.Name, err)
		}
		attachments = append(attachments, att)
	}

	msg, err := o.api.SendMessage(ctx, o.orderID, content, attachments)
	if err != nil {
		var rl *rest.RateLimitError
		if errors.As(err, &rl) {
			o.cooldown.Start(rl.RetryAfter)
		}
		return SendResult{Rejected: rejected}, err
	}

	// Optimistic append, guarded: a send completing after unmount must not
	// touch the local view.
	if o.mounted.Load() {
		o.view.Append(msg)
	}
	return SendResult{Message: msg, Rejected: rejected}, nil
}

// Edit replaces a message's content via the REST collaborator and reflects
// the change locally.
func (o *OrderChat) Edit(ctx context.Context, messageID, content string) error {
	msg, err := o.api.EditMessage(ctx, o.orderID, messageID, content)
	if err != nil {
		return err
	}
	if o.mounted.Load() {
		o.view.ApplyEdit(msg.ID, msg.Content, msg.UpdatedAt)
	}
	return nil
}

// Delete soft-deletes a message via the REST collaborator and reflects the
// placeholder locally.
func (o *OrderChat) Delete(ctx context.Context, messageID string) error {
	if err := o.api.DeleteMessage(ctx, o.orderID, messageID); err != nil {
		return err
	}
	if o.mounted.Load() {
		o.view.ApplySoftDelete(messageID)
	}
	return nil
}

// Messages returns the local history in display order.
func (o *OrderChat) Messages() []rest.Message { return o.view.Messages() }

// UnreadCount returns how many inbound messages are unread.
func (o *OrderChat) UnreadCount() int { return o.view.UnreadCount(o.userID) }

// Connected reports the shared transport state.
func (o *OrderChat) Connected() bool { return o.gw.IsConnected() }

// CooldownRemaining returns the time left in the rate-limit window, zero
// when sends are allowed.
func (o *OrderChat) CooldownRemaining() time.Duration { return o.cooldown.Remaining() }

// PeerTyping reports whether any other participant is currently typing.
func (o *OrderChat) PeerTyping() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.remoteTyping {
		if t {
			return true
		}
	}
	return false
}

// Status returns the last observed order status, empty before any update.
func (o *OrderChat) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// ---------------------------------------------------------------------------
// Event callbacks
// ---------------------------------------------------------------------------

func (o *OrderChat) handleMessage(data json.RawMessage) {
	var ev protocol.OrderMessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[chat] order %s: bad message payload: %v", o.orderID, err)
		return
	}
	if ev.OrderID != o.orderID {
		return
	}

	appended := o.view.Append(rest.Message{
		ID:          ev.MessageID,
		SenderID:    ev.SenderID,
		ReceiverID:  ev.ReceiverID,
		Content:     ev.Content,
		Attachments: ev.Attachments,
		CreatedAt:   ev.CreatedAt,
	})

	// Receiving a message while the surface is open means the user saw it.
	if appended && ev.ReceiverID == o.userID && o.mounted.Load() {
		if err := o.gw.Emit(protocol.EventMarkMessagesRead, protocol.MarkMessagesReadMsg{OrderID: o.orderID}); err != nil {
			log.Printf("[chat] order %s: mark read not signaled: %v", o.orderID, err)
		}
	}
}

func (o *OrderChat) handleTyping(data json.RawMessage) {
	var ev protocol.OrderTypingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.OrderID != o.orderID || ev.UserID == o.userID {
		return
	}
	o.mu.Lock()
	o.remoteTyping[ev.UserID] = ev.IsTyping
	o.mu.Unlock()
}

func (o *OrderChat) handleRead(data json.RawMessage) {
	var ev protocol.MessagesReadEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.OrderID != o.orderID {
		return
	}
	o.view.MarkRead(ev.ReadBy, ev.MessageID)
}

func (o *OrderChat) handleStatus(data json.RawMessage) {
	var ev protocol.OrderStatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.OrderID != o.orderID {
		return
	}
	o.mu.Lock()
	o.status = ev.Status
	o.mu.Unlock()
}

func (o *OrderChat) sendTyping(roomID string, isTyping bool) {
	if err := o.gw.Emit(protocol.EventSendOrderTyping, protocol.OrderTypingMsg{OrderID: roomID, IsTyping: isTyping}); err != nil {
		log.Printf("[chat] order %s: typing signal dropped: %v", roomID, err)
	}
}
