package receiver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

const statsInterval = 5 * time.Minute

// Stats accumulates process-wide receiver counters across every
// session and listener goroutine.
type Stats struct {
	filesReceived int64
	filesFailed   int64
	bytesReceived int64
	startedAt     time.Time
}

// NewStats starts the uptime clock.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now()}
}

func (s *Stats) recordSuccess(bytes int64) {
	atomic.AddInt64(&s.filesReceived, 1)
	atomic.AddInt64(&s.bytesReceived, bytes)
}

func (s *Stats) recordFailure() {
	atomic.AddInt64(&s.filesFailed, 1)
}

type statsSnapshot struct {
	FilesReceived int64 `json:"files_received"`
	FilesFailed   int64 `json:"files_failed"`
	Bytes         int64 `json:"bytes"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// runStatsReporter logs a JSON snapshot of the counters every
// statsInterval until ctx is cancelled.
func (s *Stats) runStatsReporter(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := statsSnapshot{
				FilesReceived: atomic.LoadInt64(&s.filesReceived),
				FilesFailed:   atomic.LoadInt64(&s.filesFailed),
				Bytes:         atomic.LoadInt64(&s.bytesReceived),
				UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
			}
			b, _ := json.Marshal(snap)
			logger.Info("receiver stats", "stats", json.RawMessage(b))
		}
	}
}
