package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/puppet"
)

// State is a session's lifecycle state.
type State string

const (
	StateAbsent        State = "absent"
	StateAwaitingQR    State = "awaiting_qr"
	StateAuthenticated State = "authenticated"
	StateLoggedOut     State = "logged_out"
	StateFaulted       State = "faulted"
	StateTimedOut      State = "timed_out"
	StateStopped       State = "stopped"
)

const sessionQueueSize = 256

// SessionInfo is a point-in-time snapshot of a session, safe to read from any goroutine.
type SessionInfo struct {
	ChatID     int64     `json:"chat_id"`
	State      State     `json:"state"`
	Identity   string    `json:"identity,omitempty"`
	Current    string    `json:"current_contact,omitempty"`
	Locked     bool      `json:"locked"`
	Links      int       `json:"links"`
	Recovering bool      `json:"recovering"`
	CreatedAt  time.Time `json:"created_at"`
	LoggedInAt time.Time `json:"logged_in_at,omitzero"`
}

type pendingFriend struct {
	seq     int
	request puppet.FriendRequest
}

type recoveryOutcome struct {
	restored bool
}

// sessionTask is one unit of loop work. dropped runs instead of run when the
// loop closes before reaching the task.
type sessionTask struct {
	run     func(ctx context.Context)
	dropped func()
}

// Session is one tenant's bridge. All fields below the queue are owned by the
// run goroutine; other goroutines read them through Info.
type Session struct {
	chatID int64
	svc    *Service
	logger *slog.Logger

	tasks    chan sessionTask
	gate     sync.RWMutex
	stopping chan struct{}
	done     chan struct{}
	cancel context.CancelFunc
	info   atomic.Pointer[SessionInfo]

	state       State
	initialized bool
	closing     bool
	client      puppet.Client
	events      <-chan puppet.Event
	resolver    puppet.ContactResolver
	identity    *puppet.Contact
	policy      Policy
	links       *MessageBridge
	createdAt   time.Time
	loggedInAt  time.Time

	loginTimer  *time.Timer
	lastQR      string
	qrMessageID int

	friendSeq      int
	pendingFriends map[string]pendingFriend
	lastInvitation *puppet.RoomInvitation

	recovery chan recoveryOutcome
}

func newSession(ctx context.Context, svc *Service, chatID int64) *Session {
	loopCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		chatID:         chatID,
		svc:            svc,
		logger:         svc.logger.With(slog.Int64("chat_id", chatID)),
		tasks:          make(chan sessionTask, sessionQueueSize),
		stopping:       make(chan struct{}),
		done:           make(chan struct{}),
		cancel:         cancel,
		state:          StateAbsent,
		policy:         DefaultPolicy(),
		links:          NewMessageBridge(svc.opts.KeepMsgs),
		createdAt:      svc.now(),
		pendingFriends: map[string]pendingFriend{},
	}
	s.publish()
	go s.run(loopCtx)
	return s
}

// ChatID returns the tenant chat id.
func (s *Session) ChatID() int64 { return s.chatID }

// Info returns the latest published snapshot.
func (s *Session) Info() SessionInfo {
	if info := s.info.Load(); info != nil {
		return *info
	}
	return SessionInfo{ChatID: s.chatID, State: StateAbsent}
}

// Done is closed when the session loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) enqueue(task func(ctx context.Context)) bool {
	return s.submit(sessionTask{run: task})
}

// submit queues t unless the loop has started closing. A task accepted here
// either runs or has its dropped hook called.
func (s *Session) submit(t sessionTask) bool {
	s.gate.RLock()
	defer s.gate.RUnlock()
	select {
	case <-s.stopping:
		return false
	default:
	}
	select {
	case s.tasks <- t:
		return true
	case <-s.stopping:
		return false
	}
}

// seal refuses new tasks and hands queued ones to their dropped hooks.
func (s *Session) seal(ctx context.Context) {
	close(s.stopping)
	s.gate.Lock()
	s.gate.Unlock()
	for {
		select {
		case t := <-s.tasks:
			if t.dropped != nil && ctx.Err() == nil {
				t.dropped()
			}
		default:
			return
		}
	}
}

// call runs fn on the session loop and waits for it to finish.
func (s *Session) call(ctx context.Context, fn func(ctx context.Context)) error {
	finished := make(chan struct{})
	if !s.enqueue(func(loopCtx context.Context) {
		defer close(finished)
		fn(loopCtx)
	}) {
		return ErrSessionClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()
	defer s.seal(ctx)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session loop panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			s.svc.registry.Remove(s.chatID, s)
			s.stopClient(context.WithoutCancel(ctx), false)
			s.svc.fatal(fmt.Errorf("session %d: panic: %v", s.chatID, r))
		}
	}()
	for !s.closing {
		var timerC <-chan time.Time
		if s.loginTimer != nil {
			timerC = s.loginTimer.C
		}
		select {
		case <-ctx.Done():
			s.stopClient(context.WithoutCancel(ctx), false)
			return
		case task := <-s.tasks:
			task.run(ctx)
		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				s.onEventsClosed(ctx)
				break
			}
			s.handleEvent(ctx, ev)
		case <-timerC:
			s.loginTimer = nil
			s.onLoginTimeout(ctx)
		}
		s.publish()
	}
}

func (s *Session) publish() {
	info := SessionInfo{
		ChatID:     s.chatID,
		State:      s.state,
		Locked:     s.links.Locked(),
		Links:      s.links.Len(),
		Recovering: s.recovery != nil,
		CreatedAt:  s.createdAt,
		LoggedInAt: s.loggedInAt,
	}
	if s.identity != nil {
		info.Identity = puppet.DisplayName(*s.identity)
	}
	if current := s.links.Current(); !current.IsZero() {
		info.Current = current.DisplayName()
	}
	s.info.Store(&info)
}

func (s *Session) send(ctx context.Context, msg channel.Message) (channel.SentMessage, error) {
	sent, err := s.svc.controller.Send(ctx, channel.OutboundMessage{ChatID: s.chatID, Message: msg})
	if err != nil {
		s.logger.Warn("send to tenant failed", slog.Any("error", err))
	}
	return sent, err
}

func (s *Session) reply(ctx context.Context, text string) (channel.SentMessage, error) {
	return s.send(ctx, channel.Message{Format: channel.MessageFormatPlain, Text: text})
}

func (s *Session) replyTo(ctx context.Context, text string, replyTo int) (channel.SentMessage, error) {
	return s.send(ctx, channel.Message{Format: channel.MessageFormatPlain, Text: text, ReplyTo: replyTo})
}

func (s *Session) replyHTML(ctx context.Context, text string, replyTo int) (channel.SentMessage, error) {
	return s.send(ctx, channel.Message{Format: channel.MessageFormatHTML, Text: text, ReplyTo: replyTo})
}

func (s *Session) unsend(ctx context.Context, messageID int) {
	if messageID <= 0 {
		return
	}
	if err := s.svc.controller.Unsend(ctx, s.chatID, messageID); err != nil {
		s.logger.Debug("unsend failed", slog.Int("message_id", messageID), slog.Any("error", err))
	}
}

func (s *Session) authenticated() bool {
	return s.client != nil && s.identity != nil
}

func (s *Session) lockedSuffix() string {
	if !s.links.Locked() {
		return ""
	}
	return " [" + s.svc.catalog.LockedMark + "]"
}

func friendKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
