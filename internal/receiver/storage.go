// Package receiver implements the camreceiver TCP server: one or
// more shared-port listener goroutines in a single process, each
// session running a ReceiveWorker state machine that writes incoming files
// atomically (temp file, optional fsync, rename into place).
package receiver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Backend commits a streamed file to its final resting place. A
// LocalBackend writes to disk; an S3Backend uploads to object storage.
// Both honor the same temp-then-finalize discipline: nothing is
// visible at dest until the full payload has landed.
type Backend interface {
	// ResolveDest maps a frame's relative path to the finalDir/name
	// pair this backend's Create expects. Local and object-storage
	// backends interpret finalDir differently: a filesystem directory
	// for LocalBackend (joined and validated against outDir), a pure
	// key-path directory component for S3Backend (outDir is an
	// s3://bucket/prefix URI, not a filesystem path to join against).
	ResolveDest(outDir, relPath string) (finalDir, name string, err error)

	// Create opens a staging destination for name under finalDir, sized
	// to expect payloadLen bytes. The returned Commit must be called
	// exactly once; calling Abort instead discards the staged data.
	Create(ctx context.Context, finalDir, name string, payloadLen uint64) (Staging, error)
}

// Staging is one in-progress file commit.
type Staging interface {
	io.Writer
	// Commit makes the staged data visible at its final path.
	Commit() error
	// Abort discards the staged data; safe to call after Commit (no-op).
	Abort() error
}

var monotonic int64

// nextMonotonic returns a process-wide increasing counter used to make
// temp file names collision-free across concurrent sessions on one worker.
func nextMonotonic() int64 {
	return atomic.AddInt64(&monotonic, 1)
}

// LocalBackend commits files to a local filesystem directory tree
// using the hidden-dot-prefixed ".part" temp name, fsync (optional),
// and atomic rename pattern.
type LocalBackend struct {
	workerID int
	fsync    bool
}

// NewLocalBackend builds a Backend writing under the receiver's out_dir.
func NewLocalBackend(workerID int, fsync bool) *LocalBackend {
	return &LocalBackend{workerID: workerID, fsync: fsync}
}

// ResolveDest joins relPath onto outDir and validates the result has
// not escaped it. See resolveFinalDir for the traversal check.
func (b *LocalBackend) ResolveDest(outDir, relPath string) (string, string, error) {
	return resolveFinalDir(outDir, relPath)
}

type localStaging struct {
	f         *os.File
	tmpPath   string
	finalPath string
	fsync     bool
}

// Create opens `final_dir/.<name>.part.<worker_id>.<monotonic>` for
// writing, creating finalDir (mode 0755) if needed.
func (b *LocalBackend) Create(_ context.Context, finalDir, name string, _ uint64) (Staging, error) {
	if err := os.MkdirAll(finalDir, 0755); err != nil {
		return nil, fmt.Errorf("creating destination directory %s: %w", finalDir, err)
	}

	tmpName := fmt.Sprintf(".%s.part.%d.%d", name, b.workerID, nextMonotonic())
	tmpPath := filepath.Join(finalDir, tmpName)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating temp file %s: %w", tmpPath, err)
	}

	return &localStaging{
		f:         f,
		tmpPath:   tmpPath,
		finalPath: filepath.Join(finalDir, name),
		fsync:     b.fsync,
	}, nil
}

func (s *localStaging) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Commit fsyncs (if enabled), closes, and renames the temp file into
// place. A rename over an existing file is atomic on POSIX systems,
// giving idempotent-overwrite semantics for retransmitted files.
func (s *localStaging) Commit() error {
	if s.fsync {
		if err := s.f.Sync(); err != nil {
			s.f.Close()
			os.Remove(s.tmpPath)
			return fmt.Errorf("fsync %s: %w", s.tmpPath, err)
		}
	}
	if err := s.f.Close(); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("closing %s: %w", s.tmpPath, err)
	}
	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("renaming %s to %s: %w", s.tmpPath, s.finalPath, err)
	}
	return nil
}

// Abort closes and deletes the temp file. Safe to call after a
// successful Commit (the file no longer exists, Remove errors are ignored).
func (s *localStaging) Abort() error {
	s.f.Close()
	if err := os.Remove(s.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SweepOrphanedPartFiles deletes temp files under root older than
// maxAge, for the janitor's periodic crash-recovery pass (receiver
// restart does not otherwise know which ".part" files are abandoned).
func SweepOrphanedPartFiles(root string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if len(base) == 0 || base[0] != '.' {
			return nil
		}
		if !containsPartMarker(base) {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

func containsPartMarker(name string) bool {
	for i := 0; i+5 <= len(name); i++ {
		if name[i:i+5] == ".part" {
			return true
		}
	}
	return false
}
