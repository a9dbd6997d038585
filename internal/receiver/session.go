package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/camstream/camstream/internal/protocol"
)

// idleTimeout bounds how long a session may sit in AwaitHeader between
// frames before it is considered dead.
const idleTimeout = 60 * time.Second

// chunkTimeout bounds each read during AwaitPayload.
const chunkTimeout = 30 * time.Second

// readChunkSize is the buffer used to stream payload bytes from the
// socket to the staging destination.
const readChunkSize = 1 << 20 // 1MiB

// SessionConfig carries the per-connection settings a Session needs,
// assigned once by the listener's accept loop.
type SessionConfig struct {
	WorkerID         int
	ConnSeq          int
	OutDir           string
	Fsync            bool
	ExpectCountFirst bool
	UseDestPaths     bool
	Verbose          bool
}

// Session runs one ReceiveWorker state machine over a single TCP
// connection: AwaitHeader -> AwaitName -> [AwaitDest] -> AwaitPayload
// -> Finalize, looping until the peer closes or a framing error occurs.
type Session struct {
	cfg     SessionConfig
	backend Backend
	logger  *slog.Logger
	stats   *Stats
}

// NewSession builds a Session bound to backend for storage commits.
// stats may be nil when process-wide counters are not being collected.
func NewSession(cfg SessionConfig, backend Backend, stats *Stats, logger *slog.Logger) *Session {
	return &Session{
		cfg:     cfg,
		backend: backend,
		stats:   stats,
		logger:  logger.With("listener", cfg.WorkerID, "conn", cfg.ConnSeq),
	}
}

// Handle drives the session to completion. It never panics the
// caller's goroutine on a malformed frame: errors are logged and the
// connection is closed, consistent with "receiver errors are
// per-connection and never poison the process."
func (s *Session) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remaining := -1 // -1 means "no count-first bound"
	if s.cfg.ExpectCountFirst {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		count, err := protocol.ReadCount(conn)
		if err != nil {
			s.logger.Warn("reading count-first header failed", "error", err)
			return
		}
		remaining = int(count)
	}

	framesHandled := 0
	for {
		if remaining == 0 {
			return
		}
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		tag, err := protocol.ReadTag(conn)
		if err != nil {
			if errors.Is(err, io.EOF) && framesHandled > 0 {
				return // clean close between frames
			}
			if errors.Is(err, protocol.ErrUnknownTag) {
				s.logger.Warn("unknown frame tag, closing connection", "error", err)
			} else if !errors.Is(err, io.EOF) {
				s.logger.Warn("reading frame tag failed", "error", err)
			}
			return
		}

		if err := s.handleFrame(conn, tag); err != nil {
			s.logger.Warn("frame handling failed, closing connection", "error", err)
			if s.stats != nil {
				s.stats.recordFailure()
			}
			return
		}

		framesHandled++
		if remaining > 0 {
			remaining--
		}
	}
}

// handleFrame runs AwaitName -> [AwaitDest] -> AwaitPayload -> Finalize
// for one frame already past AwaitHeader.
func (s *Session) handleFrame(conn net.Conn, tag protocol.ProtocolTag) error {
	header, err := protocol.ReadHeader(conn, tag)
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	if tag == protocol.TagWithDest && !s.cfg.UseDestPaths {
		return fmt.Errorf("dest field present but use_dest_paths is disabled for %q", header.Name)
	}

	relPath := header.Name
	if tag == protocol.TagWithDest && header.Dest != "" {
		relPath = header.Dest
	}

	finalDir, name, err := s.backend.ResolveDest(s.cfg.OutDir, relPath)
	if err != nil {
		return fmt.Errorf("resolving destination for %q: %w", relPath, err)
	}

	staging, err := s.backend.Create(context.Background(), finalDir, name, header.PayloadLen)
	if err != nil {
		return fmt.Errorf("staging %q: %w", relPath, err)
	}

	if err := s.streamPayload(conn, staging, header.PayloadLen); err != nil {
		staging.Abort()
		return fmt.Errorf("streaming payload for %q: %w", relPath, err)
	}

	if err := staging.Commit(); err != nil {
		return fmt.Errorf("committing %q: %w", relPath, err)
	}

	if s.stats != nil {
		s.stats.recordSuccess(int64(header.PayloadLen))
	}
	if s.cfg.Verbose {
		s.logger.Info("file received", "name", name, "dir", finalDir, "bytes", header.PayloadLen)
	}
	return nil
}

// streamPayload copies exactly payloadLen bytes from conn to dst in
// bounded chunks, refreshing the read deadline before each chunk.
func (s *Session) streamPayload(conn net.Conn, dst io.Writer, payloadLen uint64) error {
	remaining := payloadLen
	buf := make([]byte, readChunkSize)

	for remaining > 0 {
		conn.SetReadDeadline(time.Now().Add(chunkTimeout))

		n := uint64(len(buf))
		if remaining < n {
			n = remaining
		}

		read, err := io.ReadFull(conn, buf[:n])
		if read > 0 {
			if _, werr := dst.Write(buf[:read]); werr != nil {
				return werr
			}
			remaining -= uint64(read)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
