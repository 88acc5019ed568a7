// Package protocol defines the realtime event vocabulary and payload
// structures exchanged with the marketplace event gateway. All frames are
// serialized as JSON and follow a consistent envelope format with an event
// name discriminator and a deferred-decoded payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Server -> Client event names.
const (
	EventOrderMessage        = "order_message"
	EventOrderTyping         = "order_typing"
	EventDisputeMessage      = "dispute_message"
	EventDisputeTyping       = "dispute_typing"
	EventOrderStatusUpdate   = "order_status_update"
	EventDisputeStatusUpdate = "dispute_status_update"
	EventUserPresence        = "user_presence"
	EventNotification        = "notification"
	EventMessagesRead        = "messages_read"
	EventError               = "error"
)

// Transport-level lifecycle events, dispatched locally by the connection
// manager rather than decoded from the wire.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Client -> Server event names.
const (
	EventJoinOrderChat    = "join_order_chat"
	EventLeaveOrderChat   = "leave_order_chat"
	EventSendOrderMessage = "order_message"
	EventSendOrderTyping  = "order_typing"
	EventMarkMessagesRead = "mark_messages_read"

	EventJoinDisputeChat    = "join_dispute_chat"
	EventLeaveDisputeChat   = "leave_dispute_chat"
	EventSendDisputeMessage = "dispute_message"
	EventSendDisputeTyping  = "dispute_typing"
)

// ---------------------------------------------------------------------------
// Envelope, used for initial JSON parsing to extract the event name.
// ---------------------------------------------------------------------------

// Envelope is the wire format for every frame: an event name plus the raw
// JSON payload for deferred parsing into a concrete struct.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseServerEvent parses raw frame bytes into an event name and its raw
// payload. The payload is left undecoded so that the dispatch layer can hand
// it to subscribers that decode into the concrete struct they care about.
func ParseServerEvent(data []byte) (string, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}
	if env.Event == "" {
		return "", nil, fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	return env.Event, env.Data, nil
}

// NewClientEvent creates a JSON-encoded frame for a client-to-server event.
// The payload should be one of the outbound structs below; it is embedded
// under the "data" key alongside the event name.
func NewClientEvent(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q payload: %w", event, err)
	}
	out, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q frame: %w", event, err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Shared payload structures
// ---------------------------------------------------------------------------

// Attachment describes a single file attached to a chat message.
type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ---------------------------------------------------------------------------
// Server -> Client payload structs
// ---------------------------------------------------------------------------

// OrderMessageEvent is a new message delivered to an order chat room.
type OrderMessageEvent struct {
	OrderID     string       `json:"orderId"`
	MessageID   string       `json:"messageId"`
	SenderID    string       `json:"senderId"`
	ReceiverID  string       `json:"receiverId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   string       `json:"createdAt"`
}

// OrderTypingEvent relays a participant's typing indicator in an order chat.
type OrderTypingEvent struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// DisputeMessageEvent is a new message delivered to a dispute chat room.
type DisputeMessageEvent struct {
	DisputeID string `json:"disputeId"`
	OrderID   string `json:"orderId"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// DisputeTypingEvent relays a participant's typing indicator in a dispute chat.
type DisputeTypingEvent struct {
	DisputeID string `json:"disputeId"`
	UserID    string `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
}

// OrderStatusEvent announces an order status transition.
type OrderStatusEvent struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updatedBy"`
	UpdatedAt string `json:"updatedAt"`
}

// DisputeStatusEvent announces a dispute status transition.
type DisputeStatusEvent struct {
	DisputeID string `json:"disputeId"`
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updatedBy"`
	UpdatedAt string `json:"updatedAt"`
}

// PresenceEvent announces a user coming online or going offline.
type PresenceEvent struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// NotificationEvent is a user-scoped notification (new order, new message,
// dispute opened, etc.).
type NotificationEvent struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	RelatedID string `json:"relatedId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// MessagesReadEvent reports that a participant has read messages in an order
// chat up to and including the referenced message.
type MessagesReadEvent struct {
	OrderID   string `json:"orderId"`
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
	ReadAt    string `json:"readAt"`
}

// ErrorEvent is sent by the gateway to report a request-level error
// (unknown room, access denied, malformed frame).
type ErrorEvent struct {
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Client -> Server payload structs
// ---------------------------------------------------------------------------

// JoinOrderChatMsg asks the gateway to add this connection to an order room.
type JoinOrderChatMsg struct {
	OrderID string `json:"orderId"`
}

// LeaveOrderChatMsg asks the gateway to remove this connection from an order room.
type LeaveOrderChatMsg struct {
	OrderID string `json:"orderId"`
}

// OrderMessageMsg sends a chat message into an order room.
type OrderMessageMsg struct {
	OrderID     string       `json:"orderId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// OrderTypingMsg signals the local user's typing state in an order room.
type OrderTypingMsg struct {
	OrderID  string `json:"orderId"`
	IsTyping bool   `json:"isTyping"`
}

// MarkMessagesReadMsg reports that the local user has read the order chat.
type MarkMessagesReadMsg struct {
	OrderID string `json:"orderId"`
}

// JoinDisputeChatMsg asks the gateway to add this connection to a dispute room.
type JoinDisputeChatMsg struct {
	DisputeID string `json:"disputeId"`
}

// LeaveDisputeChatMsg asks the gateway to remove this connection from a dispute room.
type LeaveDisputeChatMsg struct {
	DisputeID string `json:"disputeId"`
}

// DisputeMessageMsg sends a chat message into a dispute room.
type DisputeMessageMsg struct {
	DisputeID string `json:"disputeId"`
	Content   string `json:"content"`
}

// DisputeTypingMsg signals the local user's typing state in a dispute room.
type DisputeTypingMsg struct {
	DisputeID string `json:"disputeId"`
	IsTyping  bool   `json:"isTyping"`
}
