package receiver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically sweeps out_dir for orphaned ".part" temp files
// left behind by a crashed session or a receiver restart mid-transfer.
type Janitor struct {
	cron *cron.Cron
}

// NewJanitor registers a single cron entry that removes part files
// older than maxAge under root.
func NewJanitor(schedule, root string, maxAge time.Duration, logger *slog.Logger) (*Janitor, error) {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	_, err := c.AddFunc(schedule, func() {
		removed, err := SweepOrphanedPartFiles(root, maxAge)
		if err != nil {
			logger.Warn("orphaned part-file sweep failed", "error", err)
			return
		}
		if removed > 0 {
			logger.Info("orphaned part-file sweep removed stale files", "count", removed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling part-file sweep %q: %w", schedule, err)
	}

	return &Janitor{cron: c}, nil
}

// Start begins running the schedule.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for any sweep in progress.
func (j *Janitor) Stop() { <-j.cron.Stop().Done() }
