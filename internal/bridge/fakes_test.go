package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/locale"
	"github.com/memohai/wxbridge/internal/puppet"
	"github.com/memohai/wxbridge/internal/state"
)

const testChat int64 = 42

var en = locale.Get(locale.EnUS)

type sentRecord struct {
	id  int
	msg channel.OutboundMessage
}

type fakeController struct {
	mu     sync.Mutex
	nextID int
	sent   []sentRecord
	unsent []int
	files  map[string][]byte
}

func newFakeController() *fakeController {
	return &fakeController{nextID: 100, files: map[string][]byte{}}
}

func (c *fakeController) Send(_ context.Context, msg channel.OutboundMessage) (channel.SentMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.sent = append(c.sent, sentRecord{id: c.nextID, msg: msg})
	return channel.SentMessage{ChatID: msg.ChatID, MessageID: c.nextID}, nil
}

func (c *fakeController) Unsend(_ context.Context, _ int64, messageID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsent = append(c.unsent, messageID)
	return nil
}

func (c *fakeController) ResolveAttachment(_ context.Context, att channel.Attachment) (channel.AttachmentPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[att.PlatformKey]
	if !ok {
		return channel.AttachmentPayload{}, errors.New("file not found")
	}
	return channel.AttachmentPayload{
		Reader: io.NopCloser(bytes.NewReader(data)),
		Mime:   att.Mime,
		Name:   att.Name,
		Size:   int64(len(data)),
	}, nil
}

func (c *fakeController) records() []sentRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentRecord(nil), c.sent...)
}

func (c *fakeController) unsentIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.unsent...)
}

func messageText(m channel.Message) string {
	if m.Text != "" {
		return m.Text
	}
	for _, att := range m.Attachments {
		if att.Caption != "" {
			return att.Caption
		}
	}
	return ""
}

// find returns the first sent message whose text contains substr.
func (c *fakeController) find(substr string) (sentRecord, bool) {
	for _, r := range c.records() {
		if strings.Contains(messageText(r.msg.Message), substr) {
			return r, true
		}
	}
	return sentRecord{}, false
}

func (c *fakeController) photos() []sentRecord {
	var out []sentRecord
	for _, r := range c.records() {
		for _, att := range r.msg.Message.Attachments {
			if att.Type == channel.AttachmentImage && att.Name == "qrcode.png" {
				out = append(out, r)
			}
		}
	}
	return out
}

func (c *fakeController) waitFor(t *testing.T, substr string) sentRecord {
	t.Helper()
	var found sentRecord
	require.Eventually(t, func() bool {
		var ok bool
		found, ok = c.find(substr)
		return ok
	}, 2*time.Second, 5*time.Millisecond, "no message containing %q", substr)
	return found
}

type said struct {
	to      puppet.Peer
	payload puppet.Payload
}

type fakeClient struct {
	mu        sync.Mutex
	events    chan puppet.Event
	closed    bool
	contacts  []puppet.Contact
	rooms     []puppet.Room
	files     map[string]puppet.FileBox
	sayFails  int
	said      []said
	forwarded []string
	friends   []string
	roomsIn   []string
	quit      []string
	started   int
	stopped   int
	loggedOut int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events: make(chan puppet.Event, 16),
		contacts: []puppet.Contact{
			{ID: "c-alice", Name: "Alice", Alias: "ally"},
			{ID: "c-bob", Name: "Bob"},
			{ID: "c-carol", Name: "Carol"},
		},
		rooms: []puppet.Room{{ID: "r-family", Topic: "family"}},
		files: map[string]puppet.FileBox{},
	}
}

func (c *fakeClient) emit(ev puppet.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *fakeClient) Contacts(context.Context) ([]puppet.Contact, error) { return c.contacts, nil }
func (c *fakeClient) Rooms(context.Context) ([]puppet.Room, error)       { return c.rooms, nil }
func (c *fakeClient) Events() <-chan puppet.Event                        { return c.events }

func (c *fakeClient) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	return nil
}

func (c *fakeClient) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *fakeClient) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut++
	return nil
}

func (c *fakeClient) Say(_ context.Context, to puppet.Peer, payload puppet.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sayFails > 0 {
		c.sayFails--
		return errors.New("say failed")
	}
	c.said = append(c.said, said{to: to, payload: payload})
	return nil
}

func (c *fakeClient) Forward(_ context.Context, messageID string, _ puppet.Peer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forwarded = append(c.forwarded, messageID)
	return nil
}

func (c *fakeClient) MessageFile(_ context.Context, messageID string) (puppet.FileBox, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.files[messageID]
	if !ok {
		return puppet.FileBox{}, puppet.ErrNotFound
	}
	return f, nil
}

func (c *fakeClient) AcceptFriend(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.friends = append(c.friends, id)
	return nil
}

func (c *fakeClient) AcceptRoom(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomsIn = append(c.roomsIn, id)
	return nil
}

func (c *fakeClient) QuitRoom(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quit = append(c.quit, id)
	return nil
}

func (c *fakeClient) saidSnapshot() []said {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]said(nil), c.said...)
}

type fakeConnector struct {
	mu      sync.Mutex
	keys    []string
	clients []*fakeClient
	prepare func(*fakeClient)
}

func (c *fakeConnector) Connect(_ context.Context, key string) (puppet.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client := newFakeClient()
	if c.prepare != nil {
		c.prepare(client)
	}
	c.keys = append(c.keys, key)
	c.clients = append(c.clients, client)
	return client, nil
}

func (c *fakeConnector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func (c *fakeConnector) client(t *testing.T, i int) *fakeClient {
	t.Helper()
	require.Eventually(t, func() bool { return c.count() > i }, 2*time.Second, 5*time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[i]
}

type harness struct {
	next  int
	svc   *Service
	ctrl  *fakeController
	conn  *fakeConnector
	store *state.Store
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	if opts.Lang == "" {
		opts.Lang = locale.EnUS
	}
	h := &harness{
		ctrl:  newFakeController(),
		conn:  &fakeConnector{},
		store: state.NewStore(t.TempDir(), state.BotID("test-token"), nil),
	}
	svc, err := NewService(Deps{Controller: h.ctrl, Connector: h.conn, Store: h.store}, opts)
	require.NoError(t, err)
	h.svc = svc
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return h
}

func (h *harness) text(t *testing.T, text string) {
	t.Helper()
	h.message(t, channel.InboundMessage{Text: text})
}

func (h *harness) message(t *testing.T, msg channel.InboundMessage) {
	t.Helper()
	msg.ChatID = testChat
	if msg.MessageID == 0 {
		h.next++
		msg.MessageID = h.next
	}
	require.NoError(t, h.svc.HandleInbound(context.Background(), msg))
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, h.svc.Flush(context.Background(), testChat))
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.svc.Session(testChat)
		return err == nil && s.Info().State == want
	}, 2*time.Second, 5*time.Millisecond, "session never reached %s", want)
}

func (h *harness) waitGone(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := h.svc.Session(testChat)
		return errors.Is(err, ErrNoSession)
	}, 2*time.Second, 5*time.Millisecond)
}

var me = puppet.Contact{ID: "c-me", Name: "Me"}

// login drives /login through to an authenticated session.
func (h *harness) login(t *testing.T) *fakeClient {
	t.Helper()
	h.text(t, "/login")
	client := h.conn.client(t, 0)
	client.emit(puppet.Event{Type: puppet.EventLogin, User: &me})
	h.waitState(t, StateAuthenticated)
	return client
}

// inbound emits a content-source message and waits until it has been handled.
func (h *harness) inbound(t *testing.T, client *fakeClient, msg puppet.Message) {
	t.Helper()
	client.emit(puppet.Event{Type: puppet.EventMessage, Message: &msg})
	h.drain(t, client)
}

// drain waits until every emitted event has been taken and handled.
func (h *harness) drain(t *testing.T, client *fakeClient) {
	t.Helper()
	require.Eventually(t, func() bool {
		if len(client.events) != 0 {
			return false
		}
		return h.svc.Flush(context.Background(), testChat) == nil
	}, 2*time.Second, 5*time.Millisecond)
}
