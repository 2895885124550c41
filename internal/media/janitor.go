package media

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically prunes the media cache.
type Janitor struct {
	cache  *Cache
	maxAge time.Duration
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

// NewJanitor schedules cache cleanup with a cron spec such as "@every 30m".
func NewJanitor(cache *Cache, spec string, maxAge time.Duration, log *slog.Logger) (*Janitor, error) {
	if log == nil {
		log = slog.Default()
	}
	j := &Janitor{
		cache:  cache,
		maxAge: maxAge,
		cron:   cron.New(),
		logger: log.With(slog.String("component", "media_janitor")),
		now:    time.Now,
	}
	if _, err := j.cron.AddFunc(spec, j.RunOnce); err != nil {
		return nil, fmt.Errorf("schedule media cleanup %q: %w", spec, err)
	}
	return j, nil
}

// Start begins the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running cleanup to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce prunes the cache immediately.
func (j *Janitor) RunOnce() {
	removed, err := j.cache.Cleanup(j.now(), j.maxAge)
	if err != nil {
		j.logger.Warn("media cleanup failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		j.logger.Info("media cleanup", slog.Int("removed", removed))
	}
}
