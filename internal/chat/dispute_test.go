package chat

import (
	"testing"

	"github.com/servify/chat-client/internal/protocol"
)

func mountedDisputeChat(t *testing.T, gw *fakeGateway) *DisputeChat {
	t.Helper()
	d := NewDisputeChat("dispute-1", "me", gw)
	d.Mount()
	t.Cleanup(d.Unmount)
	return d
}

func TestDisputeMountJoinsRoom(t *testing.T) {
	gw := newFakeGateway()
	mountedDisputeChat(t, gw)

	if len(gw.joins) != 1 || gw.joins[0] != "dispute:dispute-1" {
		t.Fatalf("expected one dispute join, got %v", gw.joins)
	}
}

func TestDisputeSendGoesOverTransport(t *testing.T) {
	gw := newFakeGateway()
	d := mountedDisputeChat(t, gw)

	if err := d.Send("evidence attached below"); err != nil {
		t.Fatalf("send: %v", err)
	}

	sent := gw.emittedFor(protocol.EventSendDisputeMessage)
	if len(sent) != 1 {
		t.Fatalf("expected one dispute message frame, got %d", len(sent))
	}
	msg := sent[0].payload.(protocol.DisputeMessageMsg)
	if msg.DisputeID != "dispute-1" || msg.Content != "evidence attached below" {
		t.Fatalf("unexpected payload %+v", msg)
	}
}

func TestDisputeSendWhileDisconnectedSurfacesError(t *testing.T) {
	gw := newFakeGateway()
	d := mountedDisputeChat(t, gw)
	gw.mu.Lock()
	gw.connected = false
	gw.mu.Unlock()

	if err := d.Send("into the void"); err == nil {
		t.Fatal("expected transport error while disconnected")
	}
}

func TestDisputeEchoBuildsViewDeduped(t *testing.T) {
	gw := newFakeGateway()
	d := mountedDisputeChat(t, gw)

	ev := protocol.DisputeMessageEvent{
		DisputeID: "dispute-1", MessageID: "dm-1", SenderID: "me", Content: "own echo",
	}
	gw.deliver(t, protocol.EventDisputeMessage, ev)
	gw.deliver(t, protocol.EventDisputeMessage, ev)
	gw.deliver(t, protocol.EventDisputeMessage, protocol.DisputeMessageEvent{
		DisputeID: "dispute-other", MessageID: "dm-2", SenderID: "them", Content: "elsewhere",
	})

	if d.view.Len() != 1 {
		t.Fatalf("expected 1 message after dedupe and filtering, got %d", d.view.Len())
	}
}

func TestDisputeTypingSelfEchoSuppressed(t *testing.T) {
	gw := newFakeGateway()
	d := mountedDisputeChat(t, gw)

	gw.deliver(t, protocol.EventDisputeTyping, protocol.DisputeTypingEvent{
		DisputeID: "dispute-1", UserID: "me", IsTyping: true,
	})
	if d.PeerTyping() {
		t.Fatal("own typing echo must be suppressed")
	}

	gw.deliver(t, protocol.EventDisputeTyping, protocol.DisputeTypingEvent{
		DisputeID: "dispute-1", UserID: "them", IsTyping: true,
	})
	if !d.PeerTyping() {
		t.Fatal("peer typing must be reflected")
	}
}

func TestDisputeStatusUpdate(t *testing.T) {
	gw := newFakeGateway()
	d := mountedDisputeChat(t, gw)

	gw.deliver(t, protocol.EventDisputeStatusUpdate, protocol.DisputeStatusEvent{
		DisputeID: "dispute-1", Status: "resolved",
	})
	if d.Status() != "resolved" {
		t.Fatalf("expected resolved, got %q", d.Status())
	}
}

func TestDisputeUnmountLeavesRoom(t *testing.T) {
	gw := newFakeGateway()
	d := NewDisputeChat("dispute-1", "me", gw)
	d.Mount()
	d.Unmount()

	if len(gw.leaves) != 1 || gw.leaves[0] != "dispute:dispute-1" {
		t.Fatalf("expected one dispute leave, got %v", gw.leaves)
	}
	if gw.reg.Count(protocol.EventDisputeMessage) != 0 {
		t.Fatal("callbacks must be removed on unmount")
	}
}
