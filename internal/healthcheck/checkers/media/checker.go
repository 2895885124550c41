package mediachecker

import (
	"context"

	"github.com/memohai/wxbridge/internal/healthcheck"
)

const checkTypeTranscoder = "media.transcoder"

// Transcoder reports whether voice conversion is possible.
type Transcoder interface {
	Available() bool
}

// Checker warns when voice notes will be relayed without conversion.
type Checker struct {
	transcoder Transcoder
}

// NewChecker creates a media health checker.
func NewChecker(transcoder Transcoder) *Checker {
	return &Checker{transcoder: transcoder}
}

// ListChecks reports ffmpeg availability.
func (c *Checker) ListChecks(_ context.Context) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:      checkTypeTranscoder,
		Type:    checkTypeTranscoder,
		Status:  healthcheck.StatusOK,
		Summary: "ffmpeg is available for voice conversion.",
	}
	if c.transcoder == nil || !c.transcoder.Available() {
		item.Status = healthcheck.StatusWarn
		item.Summary = "ffmpeg not found; voice notes are relayed unconverted."
	}
	return []healthcheck.CheckResult{item}
}
