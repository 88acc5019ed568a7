package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/servify/chat-client/internal/protocol"
)

// frame is a decoded client-to-server envelope captured by the fake gateway.
type frame struct {
	Event string
	Data  json.RawMessage
}

// fakeGateway is an in-process websocket endpoint standing in for the event
// gateway. It records handshake headers and inbound frames, and lets tests
// push server events or drop connections.
type fakeGateway struct {
	srv      *httptest.Server
	upgrades int32 // total upgrade attempts, including rejected ones
	reject   int32 // number of upgrades to reject before accepting

	mu     sync.Mutex
	conns  []net.Conn
	auths  []string
	frames []frame
	connCh chan net.Conn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{connCh: make(chan net.Conn, 8)}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.upgrades, 1)
		if atomic.AddInt32(&g.reject, -1) >= 0 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.auths = append(g.auths, r.Header.Get("Authorization"))
		g.mu.Unlock()
		g.connCh <- conn
		go g.readFrames(conn)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) readFrames(conn net.Conn) {
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		event, payload, err := protocol.ParseServerEvent(data)
		if err != nil {
			continue
		}
		g.mu.Lock()
		g.frames = append(g.frames, frame{Event: event, Data: payload})
		g.mu.Unlock()
	}
}

func (g *fakeGateway) send(t *testing.T, conn net.Conn, event string, payload interface{}) {
	t.Helper()
	data, err := protocol.NewClientEvent(event, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

func (g *fakeGateway) waitConn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-g.connCh:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("gateway saw no connection")
		return nil
	}
}

// waitFrames polls until the gateway has captured at least n frames.
func (g *fakeGateway) waitFrames(t *testing.T, n int) []frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		if len(g.frames) >= n {
			out := make([]frame, len(g.frames))
			copy(out, g.frames)
			g.mu.Unlock()
			return out
		}
		g.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t.Fatalf("expected %d frames, gateway captured %d: %v", n, len(g.frames), g.frames)
	return nil
}

func testClient(g *fakeGateway, token string) *Client {
	return New(Config{
		URL:               g.url(),
		Token:             token,
		ReconnectAttempts: 3,
		ReconnectDelay:    20 * time.Millisecond,
	})
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitConnected(ctx); err != nil {
		t.Fatalf("client never connected: %v", err)
	}
}

func TestConnectWithoutCredentialStaysOffline(t *testing.T) {
	g := newFakeGateway(t)
	c := testClient(g, "")

	c.Connect()
	time.Sleep(50 * time.Millisecond)

	if c.IsConnected() {
		t.Fatal("client must not connect without a credential")
	}
	if atomic.LoadInt32(&g.upgrades) != 0 {
		t.Fatal("client must not even dial without a credential")
	}
}

func TestConnectSendsBearerCredential(t *testing.T) {
	g := newFakeGateway(t)
	c := testClient(g, "tok-123")
	defer c.Disconnect()

	c.Connect()
	g.waitConn(t)
	waitConnected(t, c)

	g.mu.Lock()
	auth := g.auths[0]
	g.mu.Unlock()
	if auth != "Bearer tok-123" {
		t.Fatalf("expected bearer handshake header, got %q", auth)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	c := testClient(g, "tok")
	defer c.Disconnect()

	c.Connect()
	g.waitConn(t)
	waitConnected(t, c)
	c.Connect()
	c.Connect()

	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&g.upgrades); n != 1 {
		t.Fatalf("expected a single transport, gateway saw %d dials", n)
	}
}

func TestInboundEventsReachSubscribers(t *testing.T) {
	g := newFakeGateway(t)
	c := testClient(g, "tok")
	defer c.Disconnect()

	got := make(chan protocol.OrderMessageEvent, 1)
	c.On(protocol.EventOrderMessage, func(data json.RawMessage) {
		var msg protocol.OrderMessageEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		got <- msg
	})

	c.Connect()
	conn := g.waitConn(t)
	waitConnected(t, c)

	g.send(t, conn, protocol.EventOrderMessage, protocol.OrderMessageEvent{
		OrderID: "o-1", MessageID: "m-1", SenderID: "u-2", Content: "hello",
	})

	select {
	case msg := <-got:
		if msg.OrderID != "o-1" || msg.Content != "hello" {
			t.Fatalf("unexpected payload: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestJoinBeforeConnectIsReplayed(t *testing.T) {
	g := newFakeGateway(t)
	c := testClient(g, "tok")
	defer c.Disconnect()

	c.JoinOrderChat("o-77")
	c.Connect()
	g.waitConn(t)

	frames := g.waitFrames(t, 1)
	if frames[0].Event != protocol.EventJoinOrderChat {
		t.Fatalf("expected join replay, got %v", frames)
	}
	var join protocol.JoinOrderChatMsg
	if err := json.Unmarshal(frames[0].Data, &join); err != nil || join.OrderID != "o-77" {
		t.Fatalf("unexpected join payload: %s", frames[0].Data)
	}
}

func TestJoinReplayedAfterReconnect(t *testing.T) {
	g := newFakeGateway(t)
	c := testClient(g, "tok")
	defer c.Disconnect()

	var transitions int32
	c.On(protocol.EventDisconnect, func(json.RawMessage) { atomic.AddInt32(&transitions, 1) })

	c.Connect()
	first := g.waitConn(t)
	waitConnected(t, c)
	c.JoinDisputeChat("d-9")
	g.waitFrames(t, 1)

	// Unexpected close: the manager, not the consumer, drives the retry.
	first.Close()
	g.waitConn(t)

	frames := g.waitFrames(t, 2)
	last := frames[len(frames)-1]
	if last.Event != protocol.EventJoinDisputeChat {
		t.Fatalf("expected dispute join replay after reconnect, got %v", frames)
	}
	if atomic.LoadInt32(&transitions) == 0 {
		t.Error("consumers should observe the disconnect transition")
	}
}

func TestBoundedReconnectSettlesDisconnected(t *testing.T) {
	g := newFakeGateway(t)
	atomic.StoreInt32(&g.reject, 1<<30) // reject everything
	c := testClient(g, "tok")

	c.Connect()
	time.Sleep(250 * time.Millisecond)

	if c.IsConnected() {
		t.Fatal("client must settle disconnected")
	}
	if n := atomic.LoadInt32(&g.upgrades); n != 3 {
		t.Fatalf("expected exactly 3 bounded attempts, got %d", n)
	}

	// Explicit re-invocation restarts the cycle.
	c.Connect()
	time.Sleep(250 * time.Millisecond)
	if n := atomic.LoadInt32(&g.upgrades); n != 6 {
		t.Fatalf("expected a fresh attempt budget on Connect, got %d total dials", n)
	}
}

func TestDisconnectIsIdempotentAndKeepsRegistry(t *testing.T) {
	g := newFakeGateway(t)
	c := testClient(g, "tok")

	c.On(protocol.EventNotification, func(json.RawMessage) {})

	c.Connect()
	g.waitConn(t)
	waitConnected(t, c)

	c.Disconnect()
	c.Disconnect()

	if c.IsConnected() {
		t.Fatal("expected disconnected state")
	}
	if c.Registry().Count(protocol.EventNotification) != 1 {
		t.Fatal("disconnect must not clear the event registry")
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	g := newFakeGateway(t)
	c := testClient(g, "tok")

	err := c.Emit(protocol.EventSendOrderTyping, protocol.OrderTypingMsg{OrderID: "o-1", IsTyping: true})
	if err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRetainReleaseLifecycle(t *testing.T) {
	g := newFakeGateway(t)
	c := testClient(g, "tok")

	c.Retain()
	c.Retain()
	c.Connect()
	g.waitConn(t)
	waitConnected(t, c)

	c.Release()
	if !c.IsConnected() {
		t.Fatal("transport must survive while other consumers hold it")
	}

	c.Release()
	if c.IsConnected() {
		t.Fatal("last release must tear the transport down")
	}
}
