package realtime

import (
	"log"
	"sort"
	"sync"

	"github.com/servify/chat-client/internal/protocol"
)

// RoomKind distinguishes the two room families the gateway scopes delivery by.
type RoomKind string

const (
	KindOrder   RoomKind = "order"
	KindDispute RoomKind = "dispute"
)

// memberships is the durable join-intent set. A join recorded here is
// replayed on every disconnected-to-connected transition, so a join issued
// before the handshake completes (or lost to a reconnect) is never silently
// dropped. Leave removes the intent and always sends the wire signal; the
// gateway treats leave as idempotent and other holders of the same room are
// its bookkeeping, not ours.
type memberships struct {
	mu    sync.Mutex
	rooms map[string]RoomKind
}

func newMemberships() *memberships {
	return &memberships{rooms: make(map[string]RoomKind)}
}

// add records a join intent. Re-adding an existing room is idempotent on
// local state; the caller still re-sends the wire signal.
func (m *memberships) add(roomID string, kind RoomKind) {
	m.mu.Lock()
	m.rooms[roomID] = kind
	m.mu.Unlock()
}

// remove drops the intent regardless of prior state.
func (m *memberships) remove(roomID string) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()
}

// snapshot returns the joined room ids in a stable order.
func (m *memberships) snapshot() []joinedRoom {
	m.mu.Lock()
	out := make([]joinedRoom, 0, len(m.rooms))
	for id, kind := range m.rooms {
		out = append(out, joinedRoom{ID: id, Kind: kind})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type joinedRoom struct {
	ID   string
	Kind RoomKind
}

// replay re-sends the join signal for every recorded intent on a fresh
// transport.
func (m *memberships) replay(c *Client) {
	for _, room := range m.snapshot() {
		if err := c.emitJoin(room.ID, room.Kind); err != nil {
			log.Printf("[realtime] join replay %s/%s failed: %v", room.Kind, room.ID, err)
		}
	}
}

// JoinOrderChat records and signals membership in an order chat room. Safe
// to call while disconnected: the intent is replayed on the next connect.
func (c *Client) JoinOrderChat(orderID string) {
	c.joinRoom(orderID, KindOrder)
}

// LeaveOrderChat drops membership in an order chat room and sends the leave
// signal if a transport is up.
func (c *Client) LeaveOrderChat(orderID string) {
	c.leaveRoom(orderID, KindOrder)
}

// JoinDisputeChat records and signals membership in a dispute chat room.
func (c *Client) JoinDisputeChat(disputeID string) {
	c.joinRoom(disputeID, KindDispute)
}

// LeaveDisputeChat drops membership in a dispute chat room and sends the
// leave signal if a transport is up.
func (c *Client) LeaveDisputeChat(disputeID string) {
	c.leaveRoom(disputeID, KindDispute)
}

// JoinedRooms returns the ids currently in the join-intent set, for
// diagnostics and tests.
func (c *Client) JoinedRooms() []string {
	rooms := c.rooms.snapshot()
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	return ids
}

func (c *Client) joinRoom(roomID string, kind RoomKind) {
	c.rooms.add(roomID, kind)
	if err := c.emitJoin(roomID, kind); err != nil {
		// Not an error for the caller: the intent is durable and the join
		// will be replayed once a transport comes up.
		log.Printf("[realtime] join %s/%s deferred: %v", kind, roomID, err)
	}
}

func (c *Client) leaveRoom(roomID string, kind RoomKind) {
	c.rooms.remove(roomID)
	if err := c.emitLeave(roomID, kind); err != nil {
		log.Printf("[realtime] leave %s/%s not signaled: %v", kind, roomID, err)
	}
}

func (c *Client) emitJoin(roomID string, kind RoomKind) error {
	if kind == KindDispute {
		return c.Emit(protocol.EventJoinDisputeChat, protocol.JoinDisputeChatMsg{DisputeID: roomID})
	}
	return c.Emit(protocol.EventJoinOrderChat, protocol.JoinOrderChatMsg{OrderID: roomID})
}

func (c *Client) emitLeave(roomID string, kind RoomKind) error {
	if kind == KindDispute {
		return c.Emit(protocol.EventLeaveDisputeChat, protocol.LeaveDisputeChatMsg{DisputeID: roomID})
	}
	return c.Emit(protocol.EventLeaveOrderChat, protocol.LeaveOrderChatMsg{OrderID: roomID})
}
