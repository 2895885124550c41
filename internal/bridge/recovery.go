package bridge

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memohai/wxbridge/internal/metrics"
	"github.com/memohai/wxbridge/internal/puppet"
	"github.com/memohai/wxbridge/internal/state"
)

// RecoveryResult summarizes one startup recovery pass.
type RecoveryResult struct {
	Restored []int64
	Lost     []int64
}

// Recover re-attaches a login handle for every persisted tenant and waits for
// each to either re-authenticate, lose its credential or time out. Tenants
// are recovered concurrently and independently. New logins are accepted once
// it returns.
func (svc *Service) Recover(ctx context.Context) (RecoveryResult, error) {
	defer svc.recovered.Store(true)
	ids, err := svc.store.List()
	if err != nil {
		return RecoveryResult{}, fmt.Errorf("list persisted sessions: %w", err)
	}
	if len(ids) == 0 {
		return RecoveryResult{}, nil
	}
	svc.logger.Info("recovering sessions", slog.Int("count", len(ids)))

	restored := make([]bool, len(ids))
	var g errgroup.Group
	for i, chatID := range ids {
		g.Go(func() error {
			restored[i] = svc.recoverOne(ctx, chatID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RecoveryResult{}, err
	}

	var result RecoveryResult
	for i, chatID := range ids {
		if restored[i] {
			result.Restored = append(result.Restored, chatID)
		} else {
			result.Lost = append(result.Lost, chatID)
		}
	}
	svc.logger.Info("recovery finished",
		slog.Int("restored", len(result.Restored)),
		slog.Int("lost", len(result.Lost)),
	)
	return result, nil
}

func (svc *Service) recoverOne(ctx context.Context, chatID int64) bool {
	s, created := svc.registry.CreateOrGet(chatID, svc.newSession(chatID))
	if !created {
		return s.Info().State == StateAuthenticated
	}
	outcome := make(chan recoveryOutcome, 1)
	if !s.enqueue(func(ctx context.Context) { s.beginRecovery(ctx, outcome) }) {
		return false
	}

	timeout := svc.opts.RecoveryTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-outcome:
		if out.restored {
			metrics.RecoveriesTotal.WithLabelValues("restored").Inc()
			return true
		}
		metrics.RecoveriesTotal.WithLabelValues("lost").Inc()
		return false
	case <-timer.C:
		s.logger.Warn("session recovery timed out", slog.Duration("timeout", timeout))
		metrics.RecoveriesTotal.WithLabelValues("timeout").Inc()
		s.enqueue(func(ctx context.Context) {
			if s.recovery == nil {
				return
			}
			s.teardown(ctx, false, false, StateFaulted)
		})
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Session) beginRecovery(ctx context.Context, outcome chan recoveryOutcome) {
	s.recovery = outcome
	if err := s.attach(ctx); err != nil {
		s.logger.Warn("re-attach login handle failed", slog.Any("error", err))
		s.teardown(ctx, false, false, StateFaulted)
	}
}

// completeRecovery resurrects the tenant from its persisted record.
func (s *Session) completeRecovery(ctx context.Context, user puppet.Contact) {
	cat := s.svc.catalog
	s.authenticate(user)
	record, _, err := s.svc.store.Load(s.chatID)
	if err != nil {
		s.logger.Warn("load session state failed", slog.Any("error", err))
	}
	s.restore(ctx, record)
	s.finishRecovery(recoveryOutcome{restored: true})

	_, _ = s.replyHTML(ctx, "<code>"+html.EscapeString(cat.SessionOK)+"</code>", 0)
	if current := s.links.Current(); !current.IsZero() {
		_, _ = s.reply(ctx, fmt.Sprintf(cat.ContactFound, current.DisplayName())+s.lockedSuffix())
	}
}

func (s *Session) restore(ctx context.Context, record state.Record) {
	s.policy.Mutes = cloneList(record.MuteList)
	s.policy.SoundOnly = cloneList(record.SoundOnly)
	s.policy.NameOnly = cloneNameOnly(record.NamesOnly)
	if record.RecentContact == nil || record.RecentContact.Name == "" {
		return
	}
	peer, ok, err := s.resolver.Resolve(ctx, record.RecentContact.Name)
	if err != nil {
		s.logger.Warn("resolve recent contact failed", slog.Any("error", err))
	}
	if !ok {
		return
	}
	s.links.SetCurrent(peer)
	if record.RecentContact.Locked {
		s.links.Lock()
	}
}

// failRecovery discards a tenant whose credential is no longer valid.
func (s *Session) failRecovery(ctx context.Context) {
	s.logger.Warn("persisted session lost")
	s.teardown(ctx, false, true, StateFaulted)
	_, _ = s.reply(ctx, s.svc.catalog.SessionLost)
}

func (s *Session) finishRecovery(out recoveryOutcome) {
	if s.recovery == nil {
		return
	}
	s.recovery <- out
	s.recovery = nil
}
