package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/servify/chat-client/internal/files"
	"github.com/servify/chat-client/internal/protocol"
	"github.com/servify/chat-client/internal/registry"
	"github.com/servify/chat-client/internal/rest"
)

// fakeGateway records room and emit traffic and dispatches inbound events
// through a real registry, standing in for the shared connection manager.
type fakeGateway struct {
	reg *registry.Registry

	mu        sync.Mutex
	connected bool
	retains   int
	releases  int
	joins     []string
	leaves    []string
	emits     []emitted
}

type emitted struct {
	event   string
	payload interface{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{reg: registry.New()}
}

func (g *fakeGateway) Connect() {
	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
}

func (g *fakeGateway) Retain() {
	g.mu.Lock()
	g.retains++
	g.mu.Unlock()
}

func (g *fakeGateway) Release() {
	g.mu.Lock()
	g.releases++
	g.mu.Unlock()
}

func (g *fakeGateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGateway) On(event string, fn registry.Handler) registry.Subscription {
	return g.reg.On(event, fn)
}

func (g *fakeGateway) Off(sub registry.Subscription) { g.reg.Off(sub) }

func (g *fakeGateway) Emit(event string, payload interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return errors.New("fake gateway: not connected")
	}
	g.emits = append(g.emits, emitted{event: event, payload: payload})
	return nil
}

func (g *fakeGateway) JoinOrderChat(orderID string) {
	g.mu.Lock()
	g.joins = append(g.joins, "order:"+orderID)
	g.mu.Unlock()
}

func (g *fakeGateway) LeaveOrderChat(orderID string) {
	g.mu.Lock()
	g.leaves = append(g.leaves, "order:"+orderID)
	g.mu.Unlock()
}

func (g *fakeGateway) JoinDisputeChat(disputeID string) {
	g.mu.Lock()
	g.joins = append(g.joins, "dispute:"+disputeID)
	g.mu.Unlock()
}

func (g *fakeGateway) LeaveDisputeChat(disputeID string) {
	g.mu.Lock()
	g.leaves = append(g.leaves, "dispute:"+disputeID)
	g.mu.Unlock()
}

// deliver pushes a server event payload through the registry the way the
// read loop would.
func (g *fakeGateway) deliver(t *testing.T, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	g.reg.Dispatch(event, raw)
}

// emitted returns the emitted frames for one event name.
func (g *fakeGateway) emittedFor(event string) []emitted {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []emitted
	for _, e := range g.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeAPI is an in-memory REST collaborator.
type fakeAPI struct {
	mu       sync.Mutex
	history  []rest.Message
	fetchErr error
	sendErr  error
	nextID   int
	uploads  []string
	deleted  []string
}

func (a *fakeAPI) FetchMessages(ctx context.Context, orderID string) ([]rest.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	out := make([]rest.Message, len(a.history))
	copy(out, a.history)
	return out, nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, orderID, content string, attachments []protocol.Attachment) (rest.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return rest.Message{}, a.sendErr
	}
	a.nextID++
	msg := rest.Message{
		ID:          fmt.Sprintf("m-%d", a.nextID),
		SenderID:    "me",
		Content:     content,
		Attachments: attachments,
		CreatedAt:   "2026-08-29T12:00:00Z",
	}
	a.history = append(a.history, msg)
	return msg, nil
}

func (a *fakeAPI) EditMessage(ctx context.Context, orderID, messageID, content string) (rest.Message, error) {
	return rest.Message{
		ID:        messageID,
		Content:   content,
		Edited:    true,
		UpdatedAt: "2026-08-29T12:05:00Z",
	}, nil
}

func (a *fakeAPI) DeleteMessage(ctx context.Context, orderID, messageID string) error {
	a.mu.Lock()
	a.deleted = append(a.deleted, messageID)
	a.mu.Unlock()
	return nil
}

func (a *fakeAPI) UploadAttachment(ctx context.Context, orderID, fileName string, content io.Reader) (protocol.Attachment, error) {
	if content != nil {
		io.Copy(io.Discard, content)
	}
	a.mu.Lock()
	a.uploads = append(a.uploads, fileName)
	a.mu.Unlock()
	return protocol.Attachment{
		ID:       "att-" + fileName,
		FileName: fileName,
		FileURL:  "/files/" + fileName,
	}, nil
}

func imagesOnlyPolicy() *files.Policy {
	return files.NewPolicy(func(context.Context) ([]files.FileType, error) {
		return []files.FileType{
			{ID: "images", Name: "Images", Extensions: []string{"png", "jpg"}, MaxSizeMB: 10},
		}, nil
	})
}

func upload(name, body string) Upload {
	return Upload{Name: name, Size: int64(len(body)), Content: strings.NewReader(body)}
}
