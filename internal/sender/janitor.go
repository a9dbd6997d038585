package sender

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically sweeps srcDir for stale ".part" files on a cron
// schedule, independent of the once-at-start cleanup_part_files pass.
type Janitor struct {
	cron *cron.Cron
}

// NewJanitor registers a single cron entry running the sweep. schedule
// is a standard 5-field cron expression.
func NewJanitor(schedule, srcDir string, maxAge time.Duration, logger *slog.Logger) (*Janitor, error) {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	_, err := c.AddFunc(schedule, func() {
		removed, err := CleanStalePartFiles(srcDir, maxAge)
		if err != nil {
			logger.Warn("scheduled part-file sweep failed", "error", err)
			return
		}
		if removed > 0 {
			logger.Info("scheduled part-file sweep removed stale files", "count", removed)
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
