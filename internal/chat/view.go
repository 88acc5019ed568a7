// Package chat implements the consumer adapters built on the shared gateway
// connection: the order chat surface, the dispute chat surface, the
// notification feed, and the presence tracker. Each adapter joins its room,
// registers stable callbacks, filters inbound events by entity id, and
// cleanly detaches on unmount without disturbing other consumers of the same
// connection.
package chat

import (
	"sync"

	"github.com/servify/chat-client/internal/rest"
)

// DeletedPlaceholder replaces the content of a soft-deleted message. The
// record itself stays in the view for the rest of the session.
const DeletedPlaceholder = "This message was deleted"

// View is the ordered local message history of one chat surface. Inserts are
// deduplicated by message id, so the realtime echo of a message already
// appended optimistically never produces a second visible entry.
type View struct {
	mu       sync.Mutex
	messages []rest.Message
	index    map[string]int
}

// NewView creates an empty view.
func NewView() *View {
	return &View{index: make(map[string]int)}
}

// Append adds a message to the end of the view. Returns false without
// modifying the view when a message with the same id is already present.
func (v *View) Append(msg rest.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.appendLocked(msg)
}

func (v *View) appendLocked(msg rest.Message) bool {
	if _, ok := v.index[msg.ID]; ok {
		return false
	}
	v.index[msg.ID] = len(v.messages)
	v.messages = append(v.messages, msg)
	return true
}

// Merge folds a freshly fetched history into the view: known ids are updated
// in place (keeping their position), unknown ids are appended in order.
func (v *View) Merge(msgs []rest.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, msg := range msgs {
		if i, ok := v.index[msg.ID]; ok {
			v.messages[i] = msg
			continue
		}
		v.appendLocked(msg)
	}
}

// ApplyEdit replaces a message's content and marks it edited. Unknown ids are
// ignored.
func (v *View) ApplyEdit(messageID, content, updatedAt string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i, ok := v.index[messageID]
	if !ok {
		return
	}
	v.messages[i].Content = content
	v.messages[i].Edited = true
	v.messages[i].UpdatedAt = updatedAt
}

// ApplySoftDelete marks a message deleted: the id and sender survive, the
// content becomes the placeholder, and attachments are suppressed. Unknown
// ids are ignored.
func (v *View) ApplySoftDelete(messageID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i, ok := v.index[messageID]
	if !ok {
		return
	}
	v.messages[i].Deleted = true
	v.messages[i].Content = DeletedPlaceholder
	v.messages[i].Attachments = nil
}

// MarkRead flags as read every message addressed to the reader, up to and
// including messageID. An empty messageID marks the whole history.
func (v *View) MarkRead(readBy, messageID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.messages {
		if v.messages[i].SenderID != readBy {
			v.messages[i].Read = true
		}
		if messageID != "" && v.messages[i].ID == messageID {
			return
		}
	}
}

// UnreadCount returns how many messages from other participants the local
// user has not read yet.
func (v *View) UnreadCount(localUserID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for i := range v.messages {
		if !v.messages[i].Read && v.messages[i].SenderID != localUserID {
			n++
		}
	}
	return n
}

// Messages returns a copy of the current history in display order.
func (v *View) Messages() []rest.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]rest.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Len returns the number of messages in the view.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.messages)
}
