package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/ghostkellz/zeke/cache"
)

// DefaultJanitorSchedule runs maintenance once a minute.
const DefaultJanitorSchedule = "@every 1m"

// Janitor periodically purges stale terminal tasks from the orchestrator
// and expired entries from the response cache. Manual invocation of
// CleanupCompletedTasks and cache.Maintain stays available alongside it.
type Janitor struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewJanitor schedules maintenance for the orchestrator and, when non-nil,
// the cache. An empty schedule uses DefaultJanitorSchedule.
func NewJanitor(o *Orchestrator, c *cache.ResponseCache, schedule string, logger *slog.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}

	cr := cron.New()
	_, err := cr.AddFunc(schedule, func() {
		removed := o.CleanupCompletedTasks()
		c.Maintain()
		logger.Debug("janitor sweep", "purged_tasks", removed)
	})
	if err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return &Janitor{cron: cr, logger: logger}, nil
}

// Start begins the schedule.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
