package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/camstream/camstream/internal/protocol"
)

// Result is one worker's verdict on a dispatched Task, published on
// the results channel for the Scanner/stats collector to consume.
type Result struct {
	Task  Task
	Bytes int64
	Err   error // nil on success
}

// WorkerConfig carries the per-worker settings a Dispatcher assigns;
// it is immutable for the worker's lifetime.
type WorkerConfig struct {
	ID                int
	Addr              string
	DestPrefix        string
	SrcDir            string
	PreserveStructure bool
	ChunkBytes        int64
	ConnectTimeout    time.Duration
	ChunkTimeout      time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	MaxBytesPerSec    int64
	DSCP              int
}

// Worker owns one persistent TCP connection and drains Tasks from a
// shared work channel until it is closed or ctx is cancelled.
type Worker struct {
	cfg    WorkerConfig
	logger *slog.Logger
	conn   net.Conn
}

// NewWorker builds a Worker; the connection is established lazily on
// the first Run iteration.
func NewWorker(cfg WorkerConfig, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:    cfg,
		logger: logger.With("worker", cfg.ID),
	}
}

// Run pulls Tasks from work until the channel closes or ctx is
// cancelled, publishing one Result per resolved Task to results.
// Run never returns early on a transient send failure; it retries the
// task in place, preserving per-socket FIFO ordering.
func (w *Worker) Run(ctx context.Context, work <-chan Task, results chan<- Result) {
	defer w.closeConn()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-work:
			if !ok {
				return
			}
			results <- w.send(ctx, task)
		}
	}
}

// send streams one task over the worker's connection, reconnecting
// with backoff and re-enqueuing attempts internally up to MaxAttempts.
func (w *Worker) send(ctx context.Context, task Task) Result {
	for {
		if err := ctx.Err(); err != nil {
			return Result{Task: task, Err: err}
		}

		if w.conn == nil {
			if err := w.connect(ctx); err != nil {
				if !w.shouldRetry(&task, err) {
					return Result{Task: task, Err: err}
				}
				continue
			}
		}

		n, err := w.sendOnce(task)
		if err == nil {
			return Result{Task: task, Bytes: n}
		}
		if errors.Is(err, os.ErrNotExist) {
			return Result{Task: task, Err: err}
		}

		w.logger.Warn("send failed, will reconnect", "file", task.Name, "attempt", task.Attempts+1, "error", err)
		w.closeConn()

		if !w.shouldRetry(&task, err) {
			return Result{Task: task, Err: err}
		}
	}
}

// shouldRetry applies the backoff/attempt-cap policy, sleeping for the
// backoff delay when a retry is granted. It mutates task.Attempts.
func (w *Worker) shouldRetry(task *Task, cause error) bool {
	task.Attempts++
	if task.Attempts >= w.cfg.MaxAttempts {
		return false
	}

	delay := calculateBackoff(task.Attempts-1, w.cfg.InitialBackoff, w.cfg.MaxBackoff)
	w.logger.Info("backing off before retry", "file", task.Name, "delay", delay, "cause", cause)
	time.Sleep(delay)
	return true
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: w.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", w.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", w.cfg.Addr, err)
	}

	if w.cfg.DSCP != 0 {
		if err := ApplyDSCP(conn, w.cfg.DSCP); err != nil {
			w.logger.Warn("applying DSCP failed, continuing without it", "error", err)
		}
	}

	w.conn = conn
	return nil
}

func (w *Worker) closeConn() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// sendOnce writes one frame (header + payload) for task on the
// current connection. Any error leaves the connection in an unknown
// state; the caller is responsible for closing it.
func (w *Worker) sendOnce(task Task) (int64, error) {
	f, err := os.Open(task.AbsolutePath)
	if err != nil {
		// The file vanished between probe and send; this is a
		// terminal failure for the task, not a connection problem.
		return 0, fmt.Errorf("opening %s: %w", task.AbsolutePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", task.AbsolutePath, err)
	}
	payloadLen := uint64(info.Size())

	destName := w.destinationName(task)

	if w.cfg.ChunkTimeout > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(w.cfg.ChunkTimeout))
	}

	if err := protocol.WriteDestHeader(w.conn, task.Name, destName, payloadLen); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}

	var dst io.Writer = w.conn
	if w.cfg.MaxBytesPerSec > 0 {
		dst = NewThrottledWriter(context.Background(), w.conn, w.cfg.MaxBytesPerSec)
	}

	n, err := w.copyInChunks(dst, f, w.cfg.ChunkBytes)
	if err != nil {
		return n, fmt.Errorf("streaming payload: %w", err)
	}
	if uint64(n) != payloadLen {
		return n, fmt.Errorf("short write: sent %d of %d bytes", n, payloadLen)
	}

	return n, nil
}

// copyInChunks streams src to dst in chunkSize reads, refreshing the
// connection's write deadline before each chunk so a stalled receiver
// cannot hang a worker indefinitely.
func (w *Worker) copyInChunks(dst io.Writer, src io.Reader, chunkSize int64) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		if w.cfg.ChunkTimeout > 0 {
			w.conn.SetWriteDeadline(time.Now().Add(w.cfg.ChunkTimeout))
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			total += int64(nw)
			if werr != nil {
				return total, werr
			}
			if nw != nr {
				return total, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}

// destinationName builds the path handed to the receiver inside the
// with-dest frame, honoring preserve_structure and normalizing a
// trailing slash on the destination prefix.
func (w *Worker) destinationName(task Task) string {
	prefix := strings.TrimSuffix(w.cfg.DestPrefix, "/")
	var rel string
	if w.cfg.PreserveStructure && task.RelativePath != "" {
		rel = task.RelativePath
	} else {
		rel = filepath.Base(task.Name)
	}
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}
