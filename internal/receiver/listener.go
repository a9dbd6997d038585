package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/camstream/camstream/internal/config"
	"golang.org/x/sys/unix"
)

// Run binds the receiver's listen address and serves incoming
// sessions until ctx is cancelled. When ReusePort is set, Workers
// independent listeners all bind the same address with SO_REUSEPORT
// so the kernel load-balances accepts across them. A goroutine per
// listener gives the same accept distribution a process-per-worker
// model would, without forking separate processes.
func Run(ctx context.Context, cfg *config.ReceiverConfig, logger *slog.Logger) error {
	backend, err := resolveBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("resolving storage backend: %w", err)
	}

	addr := net.JoinHostPort(cfg.ListenIP, strconv.Itoa(cfg.Port))

	stats := NewStats()
	if cfg.JSONStats {
		go stats.runStatsReporter(ctx, logger)
	}

	var janitor *Janitor
	if cfg.CleanupSchedule != "" {
		maxAge, perr := time.ParseDuration(cfg.PartFileMaxAge)
		if perr != nil {
			return fmt.Errorf("parsing part_file_max_age: %w", perr)
		}
		janitor, err = NewJanitor(cfg.CleanupSchedule, cfg.OutDir, maxAge, logger)
		if err != nil {
			return fmt.Errorf("starting janitor: %w", err)
		}
		janitor.Start()
		defer janitor.Stop()
	}

	listenerCount := 1
	if cfg.ReusePort {
		listenerCount = cfg.Workers
	}

	var wg sync.WaitGroup
	errCh := make(chan error, listenerCount)

	for i := 0; i < listenerCount; i++ {
		lc := net.ListenConfig{}
		if cfg.ReusePort {
			lc.Control = reusePortControl
		}

		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}

		logger.Info("receiver listening", "address", addr, "listener", i, "reuseport", cfg.ReusePort)

		wg.Add(1)
		go func(id int, ln net.Listener) {
			defer wg.Done()
			errCh <- acceptLoop(ctx, id, ln, cfg, backend, stats, logger)
		}(i, ln)
	}

	go func() {
		<-ctx.Done()
	}()

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// reusePortControl sets SO_REUSEPORT on the listening socket before
// bind, so multiple listeners can share (listen_ip, port) and let the
// kernel distribute incoming connections across them.
func reusePortControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// acceptLoop accepts connections on ln, handing each to its own
// session goroutine, with backoff on consecutive accept errors to
// avoid a hot loop against a failing listener.
func acceptLoop(ctx context.Context, workerID int, ln net.Listener, cfg *config.ReceiverConfig, backend func(int) Backend, stats *Stats, logger *slog.Logger) error {
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	consecutiveErrors := 0
	connSeq := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			consecutiveErrors++
			logger.Error("accepting connection", "listener", workerID, "error", err, "consecutive_errors", consecutiveErrors)
			if consecutiveErrors > 5 {
				delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
				if delay > 5*time.Second {
					delay = 5 * time.Second
				}
				time.Sleep(delay)
			}
			continue
		}

		if err := checkFreeSpace(cfg.OutDir, cfg.MinFreeBytesRaw); err != nil {
			logger.Error("rejecting session, low disk space", "error", err)
			conn.Close()
			continue
		}

		consecutiveErrors = 0
		connSeq++
		sess := NewSession(SessionConfig{
			WorkerID:         workerID,
			ConnSeq:          connSeq,
			OutDir:           cfg.OutDir,
			Fsync:            cfg.Fsync,
			ExpectCountFirst: cfg.ExpectCountFirst,
			UseDestPaths:     cfg.UseDestPaths,
			Verbose:          cfg.Verbose,
		}, backend(workerID), stats, logger)

		go sess.Handle(ctx, conn)
	}
}

// resolveBackend picks LocalBackend or S3Backend based on out_dir's
// scheme, per the "s3://bucket/prefix" convention. It returns a
// constructor rather than a single instance so each listener
// goroutine gets a LocalBackend scoped to its own worker ID, matching
// the temp-file naming convention's `.<name>.part.<worker_id>.<monotonic>`.
func resolveBackend(ctx context.Context, cfg *config.ReceiverConfig) (func(workerID int) Backend, error) {
	if config.IsS3Dest(cfg.OutDir) {
		bucket, prefix, err := ParseS3Dest(cfg.OutDir)
		if err != nil {
			return nil, err
		}
		s3b, err := NewS3Backend(ctx, bucket, prefix)
		if err != nil {
			return nil, err
		}
		return func(int) Backend { return s3b }, nil
	}

	fsync := cfg.Fsync
	return func(workerID int) Backend { return NewLocalBackend(workerID, fsync) }, nil
}
