// Package gateway implements puppet.Connector against a puppet gateway sidecar.
// Each session holds one websocket carrying JSON requests, responses and events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/memohai/wxbridge/internal/puppet"
)

// ErrClosed is returned by requests on a client whose socket is gone.
var ErrClosed = errors.New("gateway: connection closed")

const eventBuffer = 64

// Options configures the gateway connection.
type Options struct {
	URL            string
	Token          string
	RequestTimeout time.Duration
}

// Connector dials one websocket per session.
type Connector struct {
	opts   Options
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewConnector creates a Connector.
func NewConnector(opts Options, log *slog.Logger) *Connector {
	if log == nil {
		log = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	dialer := *websocket.DefaultDialer
	return &Connector{
		opts:   opts,
		dialer: &dialer,
		logger: log.With(slog.String("component", "puppet_gateway")),
	}
}

// Connect dials the gateway for sessionKey. The returned client is idle until Start.
func (c *Connector) Connect(ctx context.Context, sessionKey string) (puppet.Client, error) {
	target, err := sessionURL(c.opts.URL, sessionKey)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token := strings.TrimSpace(c.opts.Token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	client := newClient(conn, c.opts.RequestTimeout, c.logger.With(slog.String("session", sessionKey)))
	go client.readLoop()
	go client.deliverLoop()
	return client, nil
}

func sessionURL(raw, sessionKey string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("session", sessionKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is a puppet.Client backed by one websocket.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	stopped bool
	closed  bool

	// queue holds decoded events until deliverLoop hands them to the
	// consumer, so the socket is read even while the consumer is busy.
	qmu      sync.Mutex
	queue    []puppet.Event
	readDone bool
	wake     chan struct{}

	events      chan puppet.Event
	done        chan struct{}
	abandon     chan struct{}
	closeOnce   sync.Once
	abandonOnce sync.Once
}

func newClient(conn *websocket.Conn, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		conn:    conn,
		timeout: timeout,
		logger:  log,
		pending: map[string]chan frame{},
		wake:    make(chan struct{}, 1),
		events:  make(chan puppet.Event, eventBuffer),
		done:    make(chan struct{}),
		abandon: make(chan struct{}),
	}
}

// Events returns the ordered event stream. It is closed when the socket ends.
func (c *Client) Events() <-chan puppet.Event { return c.events }

func (c *Client) readLoop() {
	defer c.finishReading()
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			stopped := c.stopped
			c.mu.Unlock()
			c.shutdown()
			if !stopped {
				c.logger.Warn("gateway read failed", slog.Any("error", err))
				c.emit(puppet.Event{Type: puppet.EventError, Err: fmt.Errorf("gateway read: %w", err)})
			}
			return
		}
		if f.Event != "" {
			ev, err := decodeEvent(f)
			if err != nil {
				c.logger.Warn("drop gateway event", slog.String("event", f.Event), slog.Any("error", err))
				continue
			}
			c.emit(ev)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

// emit queues ev for delivery and never waits on the consumer.
func (c *Client) emit(ev puppet.Event) {
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()
	c.signal()
}

func (c *Client) finishReading() {
	c.qmu.Lock()
	c.readDone = true
	c.qmu.Unlock()
	c.signal()
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// deliverLoop forwards queued events in arrival order and closes the stream
// once the socket is done and the queue is empty. Stop abandons the rest.
func (c *Client) deliverLoop() {
	defer close(c.events)
	for {
		c.qmu.Lock()
		if len(c.queue) == 0 {
			finished := c.readDone
			c.qmu.Unlock()
			if finished {
				return
			}
			select {
			case <-c.wake:
			case <-c.abandon:
				return
			}
			continue
		}
		ev := c.queue[0]
		c.queue[0] = puppet.Event{}
		c.queue = c.queue[1:]
		c.qmu.Unlock()

		select {
		case c.events <- ev:
		case <-c.abandon:
			return
		}
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
	})
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := uuid.NewString()
	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(request{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("gateway %s: write: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-timer.C:
		c.forget(id)
		return fmt.Errorf("gateway %s: %w", method, context.DeadlineExceeded)
	case f, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if f.Error != nil {
			return &RemoteError{Method: method, Code: f.Error.Code, Message: f.Error.Message}
		}
		if out != nil && len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, out); err != nil {
				return fmt.Errorf("gateway %s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Start asks the gateway to begin the login flow; scan or login events follow.
func (c *Client) Start(ctx context.Context) error {
	return c.call(ctx, "start", nil, nil)
}

// Stop ends the session on the gateway and closes the socket.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.abandonOnce.Do(func() { close(c.abandon) })
	err := c.call(ctx, "stop", nil, nil)
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "logout", nil, nil)
}

func (c *Client) Contacts(ctx context.Context) ([]puppet.Contact, error) {
	var out struct {
		Contacts []puppet.Contact `json:"contacts"`
	}
	if err := c.call(ctx, "contact.list", nil, &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

func (c *Client) Rooms(ctx context.Context) ([]puppet.Room, error) {
	var out struct {
		Rooms []puppet.Room `json:"rooms"`
	}
	if err := c.call(ctx, "room.list", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (c *Client) Say(ctx context.Context, to puppet.Peer, payload puppet.Payload) error {
	if to.IsZero() {
		return fmt.Errorf("gateway say: empty peer")
	}
	params := sayParams{To: toPeerRef(to), Kind: "text", Text: payload.Text}
	if payload.File != nil {
		params.Kind = "file"
		params.Text = ""
		params.File = payload.File
	}
	return c.call(ctx, "say", params, nil)
}

func (c *Client) Forward(ctx context.Context, messageID string, to puppet.Peer) error {
	return c.call(ctx, "message.forward", forwardParams{ID: messageID, To: toPeerRef(to)}, nil)
}

func (c *Client) MessageFile(ctx context.Context, messageID string) (puppet.FileBox, error) {
	var out puppet.FileBox
	if err := c.call(ctx, "message.file", idParams{ID: messageID}, &out); err != nil {
		return puppet.FileBox{}, err
	}
	return out, nil
}

func (c *Client) AcceptFriend(ctx context.Context, requestID string) error {
	return c.call(ctx, "friendship.accept", idParams{ID: requestID}, nil)
}

func (c *Client) AcceptRoom(ctx context.Context, invitationID string) error {
	return c.call(ctx, "room.accept", idParams{ID: invitationID}, nil)
}

func (c *Client) QuitRoom(ctx context.Context, roomID string) error {
	return c.call(ctx, "room.quit", idParams{ID: roomID}, nil)
}
