// Package bridge relays messages between a tenant's controller chat and the
// content-source account it logged in, one session per tenant.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/locale"
	"github.com/memohai/wxbridge/internal/media"
	"github.com/memohai/wxbridge/internal/puppet"
	"github.com/memohai/wxbridge/internal/render"
	"github.com/memohai/wxbridge/internal/state"
)

// Fault policies applied when a login handle reports a transport error.
const (
	FaultHalt    = "halt"
	FaultRelogin = "relogin"
)

const (
	defaultLoginTimeout    = 3 * time.Minute
	defaultRecoveryTimeout = time.Minute
	defaultSendRetries     = 3
)

// Controller is the tenant-facing chat platform.
type Controller interface {
	channel.Sender
	channel.MessageEditor
	channel.AttachmentResolver
}

// Options tunes session behavior.
type Options struct {
	KeepMsgs        int
	LoginTimeout    time.Duration
	RecoveryTimeout time.Duration
	FaultPolicy     string
	Lang            string
	Silent          bool
	SendRetries     int
	MaxFileBytes    int64
	// AwaitRecovery refuses new /login sessions until Recover returns.
	AwaitRecovery bool
}

// Deps are the collaborators a Service needs. Cache and Transcoder are optional.
type Deps struct {
	Controller Controller
	Connector  puppet.Connector
	Store      *state.Store
	Cache      *media.Cache
	Transcoder *media.Transcoder
	Logger     *slog.Logger
	// Halt stops the process after a fatal fault.
	Halt func()
}

// Service owns the session registry and routes tenant messages to sessions.
type Service struct {
	opts       Options
	controller Controller
	connector  puppet.Connector
	store      *state.Store
	cache      *media.Cache
	transcoder *media.Transcoder
	catalog    *locale.Catalog
	logger     *slog.Logger
	registry   *Registry
	halt       func()
	haltOnce   sync.Once
	alerted    atomic.Bool
	recovered  atomic.Bool
	startedAt  time.Time
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService validates deps and applies option defaults.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Controller == nil {
		return nil, errors.New("bridge: controller is required")
	}
	if deps.Connector == nil {
		return nil, errors.New("bridge: connector is required")
	}
	if deps.Store == nil {
		return nil, errors.New("bridge: state store is required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = defaultLoginTimeout
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = defaultRecoveryTimeout
	}
	if opts.SendRetries <= 0 {
		opts.SendRetries = defaultSendRetries
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = media.MaxAssetBytes
	}
	if opts.FaultPolicy == "" {
		opts.FaultPolicy = FaultHalt
	}
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		opts:       opts,
		controller: deps.Controller,
		connector:  deps.Connector,
		store:      deps.Store,
		cache:      deps.Cache,
		transcoder: deps.Transcoder,
		catalog:    locale.Get(opts.Lang),
		logger:     log.With(slog.String("component", "bridge")),
		registry:   NewRegistry(),
		halt:       deps.Halt,
		startedAt:  time.Now(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
	svc.recovered.Store(!opts.AwaitRecovery)
	return svc, nil
}

func (svc *Service) sessionKey(chatID int64) string {
	return fmt.Sprintf("%s%d", svc.store.Prefix(), chatID)
}

func (svc *Service) maxFileBytes() int64 { return svc.opts.MaxFileBytes }

func (svc *Service) newSession(chatID int64) func() *Session {
	return func() *Session { return newSession(svc.ctx, svc, chatID) }
}

// HandleInbound routes one tenant message. It only enqueues work on the
// tenant's session, so it never blocks on the content source.
func (svc *Service) HandleInbound(ctx context.Context, msg channel.InboundMessage) error {
	if msg.ChatID == 0 {
		return nil
	}
	for range 2 {
		s, ok := svc.route(ctx, msg)
		if !ok {
			return nil
		}
		task := sessionTask{
			run:     func(ctx context.Context) { s.handleMessage(ctx, msg) },
			dropped: func() { svc.reroute(msg) },
		}
		if s.submit(task) {
			return nil
		}
	}
	return ErrSessionClosed
}

// reroute routes a message again after the session it was queued on closed.
func (svc *Service) reroute(msg channel.InboundMessage) {
	if err := svc.HandleInbound(svc.ctx, msg); err != nil {
		svc.logger.Warn("reroute tenant message failed", slog.Int64("chat_id", msg.ChatID), slog.Any("error", err))
	}
}

// route finds or creates the session for msg. It answers messages that need
// no session itself and then reports false.
func (svc *Service) route(ctx context.Context, msg channel.InboundMessage) (*Session, bool) {
	if s, ok := svc.registry.Get(msg.ChatID); ok {
		return s, true
	}
	name, _, isCommand := msg.Command()
	if msg.Callback != nil {
		isCommand = false
	}
	switch {
	case isCommand && name == "login" && !svc.recovered.Load():
		svc.notify(ctx, msg.ChatID, svc.catalog.Recovering)
	case isCommand && name == "login":
		s, _ := svc.registry.CreateOrGet(msg.ChatID, svc.newSession(msg.ChatID))
		return s, true
	case isCommand && name == "start":
		svc.notify(ctx, msg.ChatID, svc.catalog.Welcome)
	case isCommand && name == "help":
		svc.notify(ctx, msg.ChatID, svc.catalog.Help)
	default:
		svc.notify(ctx, msg.ChatID, svc.catalog.NoSession)
	}
	return nil, false
}

func (svc *Service) notify(ctx context.Context, chatID int64, text string) {
	_, err := svc.controller.Send(ctx, channel.OutboundMessage{
		ChatID:  chatID,
		Message: channel.Message{Format: channel.MessageFormatPlain, Text: text},
	})
	if err != nil {
		svc.logger.Warn("notify tenant failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

// Login starts the login flow for chatID as if the tenant sent /login.
func (svc *Service) Login(chatID int64) error {
	s, _ := svc.registry.CreateOrGet(chatID, svc.newSession(chatID))
	if !s.enqueue(func(ctx context.Context) { s.login(ctx) }) {
		return ErrSessionClosed
	}
	return nil
}

func (svc *Service) onFault(_ context.Context, chatID int64, err error) {
	if svc.opts.FaultPolicy == FaultRelogin {
		svc.logger.Info("re-entering login after fault", slog.Int64("chat_id", chatID))
		if loginErr := svc.Login(chatID); loginErr != nil {
			svc.logger.Error("relogin failed", slog.Int64("chat_id", chatID), slog.Any("error", loginErr))
		}
		return
	}
	svc.fatal(fmt.Errorf("session %d: %w", chatID, err))
}

// fatal alerts every tenant and asks the process to stop.
func (svc *Service) fatal(err error) {
	svc.logger.Error("fatal bridge fault", slog.Any("error", err))
	svc.haltOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.alertStopping(ctx)
		if svc.halt != nil {
			svc.halt()
		}
	})
}

// Broadcast sends a bot alert to every live tenant unless silenced.
func (svc *Service) Broadcast(ctx context.Context, text string) error {
	if svc.opts.Silent {
		return nil
	}
	body := render.Message(svc.catalog.BotAlert, html.EscapeString(text))
	var errs []error
	for _, s := range svc.registry.List() {
		_, err := svc.controller.Send(ctx, channel.OutboundMessage{
			ChatID:  s.chatID,
			Message: channel.Message{Format: channel.MessageFormatHTML, Text: body},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", s.chatID, err))
		}
	}
	return errors.Join(errs...)
}

// alertStopping broadcasts the stopping alert at most once per process.
func (svc *Service) alertStopping(ctx context.Context) {
	if !svc.alerted.CompareAndSwap(false, true) {
		return
	}
	if err := svc.Broadcast(ctx, svc.catalog.BotStopping); err != nil {
		svc.logger.Warn("stopping broadcast incomplete", slog.Any("error", err))
	}
}

// Shutdown alerts tenants and stops every session loop. Login handles are
// stopped without logging out and state files are kept for recovery.
func (svc *Service) Shutdown(ctx context.Context) error {
	svc.alertStopping(ctx)
	sessions := svc.registry.List()
	svc.cancel()
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Session returns the live session for chatID.
func (svc *Service) Session(chatID int64) (*Session, error) {
	s, ok := svc.registry.Get(chatID)
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Flush waits until every task queued on chatID's session before the call has run.
func (svc *Service) Flush(ctx context.Context, chatID int64) error {
	s, err := svc.Session(chatID)
	if err != nil {
		return err
	}
	return s.call(ctx, func(context.Context) {})
}

// Sessions returns snapshots of every live session ordered by chat id.
func (svc *Service) Sessions() []SessionInfo {
	sessions := svc.registry.List()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// StateCounts counts live sessions per lifecycle state.
func (svc *Service) StateCounts() map[string]int {
	counts := map[string]int{}
	for _, info := range svc.Sessions() {
		counts[string(info.State)]++
	}
	return counts
}

// StartedAt returns the service start time.
func (svc *Service) StartedAt() time.Time { return svc.startedAt }
