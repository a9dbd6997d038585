package sender

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/camstream/camstream/internal/config"
)

// terminalDrainGrace is how long the scan loop waits, in once mode,
// with an unchanging directory listing before concluding the producer
// has stopped and the lookahead signal will never satisfy for the
// remaining backlog. See DESIGN.md for the lookahead-starvation policy
// rationale: this implementation chooses a time-based terminal drain.
const terminalDrainGrace = 500 * time.Millisecond

// Run drives one camsender pass: scan, probe, dispatch, until the
// backlog drains (once mode), max_files is reached, or ctx is
// cancelled. It returns the run's Stats and a non-nil error only for
// a fatal startup condition (missing src_dir, unparseable
// cleanup_schedule or dscp). Connection failures are retried per file
// and reported in Stats, not returned as an error.
func Run(ctx context.Context, cfg *config.SenderConfig, logger *slog.Logger) (*Stats, error) {
	if _, err := os.Stat(cfg.SrcDir); err != nil {
		return nil, fmt.Errorf("checking src_dir: %w", err)
	}

	if cfg.CleanupPartFiles {
		removed, err := CleanStalePartFiles(cfg.SrcDir, time.Hour)
		if err != nil {
			logger.Warn("startup part-file cleanup failed", "error", err)
		} else if removed > 0 {
			logger.Info("startup part-file cleanup removed stale files", "count", removed)
		}
	}

	var janitor *Janitor
	if cfg.CleanupSchedule != "" {
		var err error
		janitor, err = NewJanitor(cfg.CleanupSchedule, cfg.SrcDir, time.Hour, logger)
		if err != nil {
			return nil, fmt.Errorf("starting cleanup janitor: %w", err)
		}
		janitor.Start()
		defer janitor.Stop()
	}

	dscp, err := ParseDSCP(cfg.DSCP)
	if err != nil {
		return nil, fmt.Errorf("parsing dscp: %w", err)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dispatcher := NewDispatcher(cfg.Conns, cfg.Conns*2, func(id int) WorkerConfig {
		return WorkerConfig{
			ID:                id,
			Addr:              addr,
			DestPrefix:        cfg.DestPath,
			SrcDir:            cfg.SrcDir,
			PreserveStructure: cfg.PreserveStructure,
			ChunkBytes:        cfg.ChunkBytesRaw,
			ConnectTimeout:    cfg.Timeout.Connect,
			ChunkTimeout:      cfg.Timeout.ChunkWrite,
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialBackoff:    cfg.Retry.InitialBackoff,
			MaxBackoff:        cfg.Retry.MaxBackoff,
			MaxBytesPerSec:    cfg.MaxBytesPerSecRaw,
			DSCP:              dscp,
		}
	}, logger)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	dispatcher.Start(runCtx)

	scanner := NewScanner(cfg.SrcDir, cfg.Pattern, cfg.StartAfter)
	probe := NewReadinessProbe(cfg.SrcDir, cfg.Pattern, cfg.Lookahead,
		time.Duration(cfg.StableMs)*time.Millisecond, time.Duration(cfg.FileWaitMs)*time.Millisecond)

	stats := NewStats()
	resultsDone := make(chan struct{})
	go func() {
		defer close(resultsDone)
		for r := range dispatcher.Results() {
			stats.Record(r)
			if r.Err != nil {
				scanner.MarkFailed(r.Task.Name)
				logger.Warn("file transfer failed terminally", "file", r.Task.Name, "error", r.Err)
			} else {
				scanner.MarkCompleted(r.Task.Name)
				if cfg.Verbose {
					logger.Info("file transferred", "file", r.Task.Name, "bytes", r.Bytes)
				}
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(cfg.PollMs) * time.Millisecond)
	defer ticker.Stop()

	var lastCandidateCount = -1
	var stableSince time.Time

scanLoop:
	for {
		select {
		case <-ctx.Done():
			break scanLoop
		case <-ticker.C:
		}

		if cfg.MaxFiles > 0 && scanner.CompletedCount() >= cfg.MaxFiles {
			break scanLoop
		}

		names, err := scanner.Poll()
		if err != nil {
			logger.Error("scan failed", "error", err)
			continue
		}

		if len(names) == lastCandidateCount && scanner.InFlightCount() == 0 {
			if stableSince.IsZero() {
				stableSince = time.Now()
			}
		} else {
			stableSince = time.Time{}
		}
		lastCandidateCount = len(names)

		terminalDrain := cfg.Once && !stableSince.IsZero() && time.Since(stableSince) >= terminalDrainGrace

		for _, name := range names {
			if cfg.MaxFiles > 0 && scanner.CompletedCount()+scanner.InFlightCount() >= cfg.MaxFiles {
				break
			}

			readiness, size, err := probe.Probe(name)
			if err != nil {
				logger.Warn("probe error", "file", name, "error", err)
				continue
			}

			if readiness == Missing {
				logger.Warn("file vanished before it became ready", "file", name, "event", "file_missing")
				continue
			}

			if readiness != Ready && terminalDrain {
				// End-of-stream terminal drain (once mode): the
				// lookahead signal can never satisfy for the tail of
				// a finished producer, so fall back to size-stability
				// alone for the files still sitting in the backlog.
				size2, stable, serr := probe.sizeStable(filepath.Join(cfg.SrcDir, name))
				if serr == nil && stable {
					readiness, size = Ready, size2
				}
			}

			if readiness != Ready {
				continue
			}

			scanner.MarkInFlight(name)
			rel, _ := filepath.Rel(cfg.SrcDir, filepath.Join(cfg.SrcDir, name))
			task := Task{
				Name:         name,
				AbsolutePath: filepath.Join(cfg.SrcDir, name),
				RelativePath: rel,
				Size:         size,
			}
			if cfg.Verbose {
				logger.Info("dispatching file", "file", name, "size", size)
			}
			if !dispatcher.Dispatch(runCtx, task) {
				scanner.MarkFailed(name)
			}
		}

		if cfg.Once && len(names) == 0 && scanner.InFlightCount() == 0 {
			break scanLoop
		}
	}

	dispatcher.Close()
	<-resultsDone

	stats.Finalize()
	return stats, nil
}
