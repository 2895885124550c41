package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/healthcheck"
)

const checkTypeChannelConnection = "channel.connection"

// ConnectionObserver exposes the controller connection, nil until connected.
type ConnectionObserver interface {
	Connection() channel.Connection
}

// Checker evaluates the controller connection.
type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
}

// NewChecker creates a channel health checker.
func NewChecker(log *slog.Logger, observer ConnectionObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		observer: observer,
	}
}

// ListChecks reports whether the controller connection is receiving updates.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		c.logger.Warn("channel healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{{
			ID:      checkTypeChannelConnection + ".service",
			Type:    checkTypeChannelConnection,
			Status:  healthcheck.StatusWarn,
			Summary: "Channel checker service is not available.",
			Detail:  "connection observer is nil",
		}}
	}

	conn := c.observer.Connection()
	if conn == nil {
		return []healthcheck.CheckResult{{
			ID:      checkTypeChannelConnection + ".pending",
			Type:    checkTypeChannelConnection,
			Status:  healthcheck.StatusUnknown,
			Summary: "Controller connection has not been established yet.",
		}}
	}

	channelType := strings.TrimSpace(conn.ChannelType().String())
	if channelType == "" {
		channelType = "unknown"
	}
	item := healthcheck.CheckResult{
		ID:       checkTypeChannelConnection + "." + channelType,
		Type:     checkTypeChannelConnection,
		Subtitle: channelType,
		Status:   healthcheck.StatusError,
		Summary:  fmt.Sprintf("Channel %s connection is down.", channelType),
		Metadata: map[string]any{
			"channel_type": channelType,
			"running":      conn.Running(),
		},
	}
	if conn.Running() {
		item.Status = healthcheck.StatusOK
		item.Summary = fmt.Sprintf("Channel %s is connected.", channelType)
	}
	return []healthcheck.CheckResult{item}
}
