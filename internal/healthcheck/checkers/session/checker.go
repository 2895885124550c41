package sessionchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/memohai/wxbridge/internal/bridge"
	"github.com/memohai/wxbridge/internal/healthcheck"
)

const checkTypeSessionLogin = "session.login"

// SessionSource lists live bridge sessions.
type SessionSource interface {
	Sessions() []bridge.SessionInfo
}

// Checker reports the login state of every live session.
type Checker struct {
	logger *slog.Logger
	source SessionSource
}

// NewChecker creates a session health checker.
func NewChecker(log *slog.Logger, source SessionSource) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_session")),
		source: source,
	}
}

// ListChecks evaluates one item per live session.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.source == nil {
		c.logger.Warn("session healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{{
			ID:      checkTypeSessionLogin + ".service",
			Type:    checkTypeSessionLogin,
			Status:  healthcheck.StatusWarn,
			Summary: "Session checker service is not available.",
			Detail:  "session source is nil",
		}}
	}

	sessions := c.source.Sessions()
	checks := make([]healthcheck.CheckResult, 0, len(sessions))
	for _, info := range sessions {
		chatID := strconv.FormatInt(info.ChatID, 10)
		item := healthcheck.CheckResult{
			ID:       checkTypeSessionLogin + "." + chatID,
			Type:     checkTypeSessionLogin,
			Subtitle: chatID,
			Metadata: map[string]any{
				"state":  string(info.State),
				"links":  info.Links,
				"locked": info.Locked,
			},
		}
		if info.Identity != "" {
			item.Metadata["identity"] = info.Identity
		}
		if !info.LoggedInAt.IsZero() {
			item.Metadata["logged_in_at"] = info.LoggedInAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		switch {
		case info.Recovering:
			item.Status = healthcheck.StatusWarn
			item.Summary = "Session is being recovered."
		case info.State == bridge.StateAuthenticated:
			item.Status = healthcheck.StatusOK
			item.Summary = fmt.Sprintf("Logged in as %s.", info.Identity)
		case info.State == bridge.StateAwaitingQR || info.State == bridge.StateAbsent:
			item.Status = healthcheck.StatusWarn
			item.Summary = "Waiting for the login QR code to be scanned."
		default:
			item.Status = healthcheck.StatusError
			item.Summary = fmt.Sprintf("Session is %s.", info.State)
		}
		checks = append(checks, item)
	}
	return checks
}
