// Package realtime owns the single multiplexed connection to the marketplace
// event gateway. It handles the connect/disconnect lifecycle, the bearer
// credential handshake, bounded automatic reconnection, room membership
// replay, and routing of every inbound frame through the shared event
// registry.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/servify/chat-client/internal/metrics"
	"github.com/servify/chat-client/internal/protocol"
	"github.com/servify/chat-client/internal/registry"
)

// ErrNotConnected is returned by Emit when no transport is available. Room
// join intents survive this; other signals are fire-and-forget by contract.
var ErrNotConnected = errors.New("realtime: not connected")

const dialTimeout = 10 * time.Second

// Config holds gateway connection settings.
type Config struct {
	URL               string        // ws://host/ws
	Token             string        // bearer credential for the handshake
	ReconnectAttempts int           // bounded dial attempts per outage
	ReconnectDelay    time.Duration // fixed delay between attempts
}

// DefaultConfig returns the connection policy the UI surfaces ship with.
func DefaultConfig() Config {
	return Config{
		ReconnectAttempts: 5,
		ReconnectDelay:    1 * time.Second,
	}
}

// Client is the shared connection manager. One Client serves every chat
// surface in a session; consumers acquire it with Retain and drop it with
// Release, and only the lifecycle owner (or the last Release) tears the
// transport down. The event registry survives disconnects, so reconnecting
// restores listening without consumers re-subscribing.
type Client struct {
	cfg        Config
	instanceID string
	reg        *registry.Registry
	rooms      *memberships
	refs       int32

	mu        sync.Mutex
	conn      net.Conn
	writeMu   sync.Mutex
	connected bool
	running   bool
	gen       uint64
}

// New creates a Client for the given gateway. No connection is made until
// Connect is called.
func New(cfg Config) *Client {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultConfig().ReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultConfig().ReconnectDelay
	}
	return &Client{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		reg:        registry.New(),
		rooms:      newMemberships(),
	}
}

// Registry returns the shared event registry.
func (c *Client) Registry() *registry.Registry { return c.reg }

// On registers a callback for an inbound event name.
func (c *Client) On(event string, fn registry.Handler) registry.Subscription {
	return c.reg.On(event, fn)
}

// Off removes a subscription previously returned by On.
func (c *Client) Off(sub registry.Subscription) { c.reg.Off(sub) }

// IsConnected reports whether the transport is currently connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Retain records a consumer holding the shared connection.
func (c *Client) Retain() {
	atomic.AddInt32(&c.refs, 1)
}

// Release drops a consumer's hold. When the last consumer detaches the
// transport is torn down; the registry is left intact.
func (c *Client) Release() {
	if atomic.AddInt32(&c.refs, -1) <= 0 {
		c.Disconnect()
	}
}

// Connect starts the connection manager. It is a no-op while a transport is
// connected or a reconnection cycle is in flight. Without a credential it
// logs and returns without connecting: consumers observe IsConnected staying
// false, never an error. Dial failures are retried by the manager itself,
// bounded by the configured attempt count.
func (c *Client) Connect() {
	if c.cfg.Token == "" {
		log.Printf("[realtime] no auth credential available, not connecting")
		return
	}

	c.mu.Lock()
	if c.connected || c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.run(gen)
}

// Disconnect tears down the transport and stops any reconnection cycle. It
// is idempotent. The event registry and the room intent set are preserved so
// a later Connect restores delivery without consumers re-subscribing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++ // invalidates the running manager goroutine
	conn := c.conn
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.running = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		metrics.Connected.Set(0)
		c.reg.Dispatch(protocol.EventDisconnect, nil)
	}
}

// WaitConnected blocks until the transport reports connected or the context
// is cancelled.
func (c *Client) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.IsConnected() {
				return nil
			}
		}
	}
}

// Emit sends a client event over the active transport. Returns
// ErrNotConnected when no transport is available.
func (c *Client) Emit(event string, payload interface{}) error {
	frame, err := protocol.NewClientEvent(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	err = wsutil.WriteClientMessage(conn, ws.OpText, frame)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("realtime: write %s: %w", event, err)
	}
	metrics.EventsSent.WithLabelValues(event).Inc()
	return nil
}

// run is the connection manager loop for one Connect call. It dials with the
// bounded retry policy, then reads frames until the transport fails or the
// generation is invalidated by Disconnect. An unexpected close re-enters the
// dial phase with a fresh attempt budget; exhausting the budget settles into
// the disconnected terminal state until Connect is invoked again.
func (c *Client) run(gen uint64) {
	defer func() {
		c.mu.Lock()
		if c.gen == gen {
			c.running = false
		}
		c.mu.Unlock()
	}()

	for {
		conn, ok := c.dialBounded(gen)
		if !ok {
			return
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.connected = true
		c.mu.Unlock()

		metrics.Connected.Set(1)
		log.Printf("[realtime] connected to %s", c.cfg.URL)
		c.reg.Dispatch(protocol.EventConnect, nil)
		c.rooms.replay(c)

		c.readLoop(conn)

		c.mu.Lock()
		stale := c.gen != gen
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		conn.Close()

		if stale {
			// Disconnect already reported the transition.
			return
		}

		metrics.Connected.Set(0)
		c.reg.Dispatch(protocol.EventDisconnect, nil)
		log.Printf("[realtime] connection lost, reconnecting")
	}
}

// dialBounded attempts up to cfg.ReconnectAttempts dials with a fixed delay
// between attempts. Returns ok=false when the budget is exhausted or the
// generation was invalidated.
func (c *Client) dialBounded(gen uint64) (net.Conn, bool) {
	for attempt := 1; ; attempt++ {
		if c.stale(gen) {
			return nil, false
		}

		conn, err := c.dial()
		if err == nil {
			return conn, true
		}

		metrics.ReconnectAttempts.Inc()
		log.Printf("[realtime] dial attempt %d/%d failed: %v", attempt, c.cfg.ReconnectAttempts, err)
		c.reg.Dispatch(protocol.EventConnectError, nil)

		if attempt >= c.cfg.ReconnectAttempts {
			log.Printf("[realtime] giving up after %d attempts; call Connect to retry", attempt)
			return nil, false
		}
		time.Sleep(c.cfg.ReconnectDelay)
	}
}

func (c *Client) dial() (net.Conn, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+c.cfg.Token)
	hdr.Set("X-Client-Id", c.instanceID)

	dialer := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(hdr),
		Timeout: dialTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, _, _, err := dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// readLoop reads frames until the transport fails, dispatching each decoded
// event to the registry in arrival order.
func (c *Client) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return
		}

		event, payload, err := protocol.ParseServerEvent(data)
		if err != nil {
			log.Printf("[realtime] dropping malformed frame: %v", err)
			continue
		}

		if event == protocol.EventError {
			log.Printf("[realtime] gateway error event: %s", payload)
		}

		metrics.EventsDispatched.WithLabelValues(event).Inc()
		c.reg.Dispatch(event, payload)
	}
}

func (c *Client) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}
