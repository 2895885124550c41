package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/media"
	"github.com/memohai/wxbridge/internal/metrics"
	"github.com/memohai/wxbridge/internal/puppet"
	"github.com/memohai/wxbridge/internal/state"
)

var errEventsClosed = errors.New("puppet event stream closed")

// login handles /login. A second /login on an initialized session only
// reports progress.
func (s *Session) login(ctx context.Context) {
	cat := s.svc.catalog
	if s.initialized {
		if s.identity != nil {
			_, _ = s.reply(ctx, fmt.Sprintf(cat.Logined, puppet.DisplayName(*s.identity)))
		} else {
			_, _ = s.reply(ctx, cat.Retry)
		}
		return
	}
	if err := s.attach(ctx); err != nil {
		s.logger.Error("attach login handle failed", slog.Any("error", err))
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		_, _ = s.reply(ctx, cat.LoginError)
		s.teardown(ctx, false, false, StateFaulted)
		return
	}
	_, _ = s.reply(ctx, cat.LoginRequest)
}

// attach connects and starts the login handle. It is the only place a handle
// is created, so a session owns at most one.
func (s *Session) attach(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	client, err := s.svc.connector.Connect(ctx, s.svc.sessionKey(s.chatID))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.client = client
	s.events = client.Events()
	s.resolver = puppet.NewContactResolver(client)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	s.initialized = true
	s.state = StateAwaitingQR
	return nil
}

func (s *Session) handleEvent(ctx context.Context, ev puppet.Event) {
	switch ev.Type {
	case puppet.EventScan:
		s.onScan(ctx, ev.QRCode)
	case puppet.EventLogin:
		if ev.User != nil {
			s.onLogin(ctx, *ev.User)
		}
	case puppet.EventLogout:
		s.onLogout(ctx)
	case puppet.EventError:
		s.onError(ctx, ev.Err)
	case puppet.EventMessage:
		if ev.Message != nil && s.authenticated() && s.recovery == nil {
			s.relayInbound(ctx, *ev.Message)
		}
	case puppet.EventFriendship:
		if ev.Friendship != nil {
			s.onFriendship(ctx, *ev.Friendship)
		}
	case puppet.EventRoomInvite:
		if ev.Invitation != nil {
			s.onRoomInvite(ctx, *ev.Invitation)
		}
	default:
		s.logger.Debug("ignoring puppet event", slog.String("type", string(ev.Type)))
	}
}

func (s *Session) onScan(ctx context.Context, code string) {
	if s.recovery != nil {
		s.failRecovery(ctx)
		return
	}
	if code == "" || code == s.lastQR || s.identity != nil {
		return
	}
	s.lastQR = code
	if s.loginTimer == nil && s.svc.opts.LoginTimeout > 0 {
		s.loginTimer = time.NewTimer(s.svc.opts.LoginTimeout)
	}
	png, err := media.QRCodePNG(code)
	if err != nil {
		s.logger.Error("render login challenge failed", slog.Any("error", err))
		return
	}
	s.removeQR(ctx)
	sent, err := s.send(ctx, channel.Message{
		Attachments: []channel.Attachment{{
			Type: channel.AttachmentImage,
			Name: "qrcode.png",
			Mime: "image/png",
			Size: int64(len(png)),
			Data: png,
		}},
	})
	if err != nil {
		return
	}
	s.qrMessageID = sent.MessageID
}

func (s *Session) onLogin(ctx context.Context, user puppet.Contact) {
	if s.identity != nil && s.identity.ID == user.ID {
		return
	}
	if s.recovery != nil {
		s.completeRecovery(ctx, user)
		return
	}
	s.authenticate(user)
	s.removeQR(ctx)
	_, _ = s.reply(ctx, fmt.Sprintf(s.svc.catalog.Logined, puppet.DisplayName(user)))
}

// authenticate records the identity and creates the tenant file.
func (s *Session) authenticate(user puppet.Contact) {
	s.cancelTimer()
	s.identity = &user
	s.initialized = true
	s.state = StateAuthenticated
	s.loggedInAt = s.svc.now()
	s.persist(state.Patch{})
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.logger.Info("logged in", slog.String("identity", puppet.DisplayName(user)))
}

func (s *Session) onLogout(ctx context.Context) {
	name := ""
	if s.identity != nil {
		name = puppet.DisplayName(*s.identity)
	}
	s.teardown(ctx, false, true, StateLoggedOut)
	_, _ = s.reply(ctx, fmt.Sprintf(s.svc.catalog.Logouted, name))
}

func (s *Session) onError(ctx context.Context, err error) {
	if err == nil {
		err = errors.New("unknown puppet error")
	}
	s.logger.Error("login handle fault", slog.Any("error", err))
	if s.recovery != nil {
		s.failRecovery(ctx)
		return
	}
	metrics.LoginsTotal.WithLabelValues("fault").Inc()
	_, _ = s.reply(ctx, s.svc.catalog.LoginError)
	s.teardown(ctx, false, false, StateFaulted)
	s.svc.onFault(ctx, s.chatID, err)
}

func (s *Session) onEventsClosed(ctx context.Context) {
	if s.client == nil {
		return
	}
	s.onError(ctx, errEventsClosed)
}

func (s *Session) onLoginTimeout(ctx context.Context) {
	if s.identity != nil {
		return
	}
	s.logger.Info("login challenge timed out")
	metrics.LoginsTotal.WithLabelValues("timeout").Inc()
	s.teardown(ctx, false, true, StateTimedOut)
	_, _ = s.reply(ctx, s.svc.catalog.LoginTimeout)
}

func (s *Session) onFriendship(ctx context.Context, req puppet.FriendRequest) {
	cat := s.svc.catalog
	s.friendSeq++
	s.pendingFriends[friendKey(req.Contact.Name)] = pendingFriend{seq: s.friendSeq, request: req}
	text := fmt.Sprintf("[%s]\n\n%s: %s", cat.FriendRequest, puppet.DisplayName(req.Contact), req.Hello)
	_, _ = s.send(ctx, channel.Message{
		Format: channel.MessageFormatPlain,
		Text:   text,
		Actions: []channel.Action{
			{Label: cat.AgreeButton, Value: fmt.Sprintf("agree:%d", s.friendSeq)},
			{Label: cat.IgnoreButton, Value: fmt.Sprintf("disagree:%d", s.friendSeq)},
		},
	})
}

func (s *Session) onRoomInvite(ctx context.Context, inv puppet.RoomInvitation) {
	s.lastInvitation = &inv
	text := fmt.Sprintf(s.svc.catalog.InviteRoom, puppet.DisplayName(inv.Inviter), inv.Topic) + " /acceptroom"
	_, _ = s.reply(ctx, text)
}

// teardown releases the login handle, unregisters the session and ends its
// loop once the current task returns.
func (s *Session) teardown(ctx context.Context, logout, deleteState bool, final State) {
	s.cancelTimer()
	s.removeQR(ctx)
	s.stopClient(ctx, logout)
	s.svc.registry.Remove(s.chatID, s)
	if deleteState {
		if err := s.svc.store.Delete(s.chatID); err != nil {
			s.logger.Warn("delete session state failed", slog.Any("error", err))
		}
	}
	s.finishRecovery(recoveryOutcome{})
	s.state = final
	s.identity = nil
	s.initialized = false
	s.closing = true
	s.logger.Info("session closed", slog.String("state", string(final)))
}

func (s *Session) stopClient(ctx context.Context, logout bool) {
	if s.client == nil {
		return
	}
	if logout {
		if err := s.client.Logout(ctx); err != nil {
			s.logger.Warn("logout failed", slog.Any("error", err))
		}
	}
	if err := s.client.Stop(ctx); err != nil {
		s.logger.Warn("stop login handle failed", slog.Any("error", err))
	}
	s.client = nil
	s.events = nil
}

func (s *Session) cancelTimer() {
	if s.loginTimer != nil {
		s.loginTimer.Stop()
		s.loginTimer = nil
	}
}

func (s *Session) removeQR(ctx context.Context) {
	if s.qrMessageID > 0 {
		s.unsend(ctx, s.qrMessageID)
		s.qrMessageID = 0
	}
}

func (s *Session) persist(patch state.Patch) {
	if err := s.svc.store.Merge(s.chatID, patch); err != nil {
		s.logger.Warn("persist session state failed", slog.Any("error", err))
	}
}

func (s *Session) persistRecent() {
	current := s.links.Current()
	if current.IsZero() {
		return
	}
	s.persist(state.Patch{RecentContact: &state.RecentContact{
		Name:   current.StoreName(),
		Locked: s.links.Locked(),
	}})
}
