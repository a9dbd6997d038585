package integration

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camstream/camstream/internal/config"
	"github.com/camstream/camstream/internal/receiver"
	"github.com/camstream/camstream/internal/sender"
)

func newCancelableContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeFrame(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

// TestEndToEnd_SingleFrameDelivery covers scenario S1: a frame written
// before the sender starts is detected, streamed, and lands intact in
// the receiver's out_dir.
func TestEndToEnd_SingleFrameDelivery(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	port := freePort(t)

	writeFrame(t, srcDir, "frame_0001.jpg", []byte("framebytes"))

	rCfg := &config.ReceiverConfig{
		ListenIP:     "127.0.0.1",
		Port:         port,
		OutDir:       outDir,
		Workers:      1,
		UseDestPaths: true,
	}
	rCfg2, err := applyReceiverDefaults(rCfg)
	if err != nil {
		t.Fatalf("receiver config: %v", err)
	}

	stopReceiver := startReceiver(t, rCfg2)
	defer stopReceiver()

	sCfg := &config.SenderConfig{
		SrcDir:     srcDir,
		Host:       "127.0.0.1",
		Port:       port,
		DestPath:   "camera01",
		Lookahead:  0,
		StableMs:   1,
		FileWaitMs: 5,
		PollMs:     5,
		Once:       true,
	}
	sCfg2, err := applySenderDefaults(sCfg)
	if err != nil {
		t.Fatalf("sender config: %v", err)
	}

	stats := runSenderOnce(t, sCfg2)
	if stats.FilesSent != 1 {
		t.Fatalf("expected 1 file sent, got %d (failed=%d)", stats.FilesSent, stats.FilesFailed)
	}

	waitForFile(t, filepath.Join(outDir, "camera01", "frame_0001.jpg"), []byte("framebytes"))
}

// TestEndToEnd_MultipleFramesAcrossWorkers covers scenario S2: several
// ready frames fan out across a multi-connection dispatcher and all
// arrive, preserving per-file integrity regardless of which worker
// carried them.
func TestEndToEnd_MultipleFramesAcrossWorkers(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	port := freePort(t)

	contents := map[string]string{
		"frame_0001.jpg": "aaaa",
		"frame_0002.jpg": "bbbb",
		"frame_0003.jpg": "cccc",
		"frame_0004.jpg": "dddd",
	}
	for name, c := range contents {
		writeFrame(t, srcDir, name, []byte(c))
	}

	rCfg, err := applyReceiverDefaults(&config.ReceiverConfig{
		ListenIP:     "127.0.0.1",
		Port:         port,
		OutDir:       outDir,
		Workers:      2,
		UseDestPaths: true,
	})
	if err != nil {
		t.Fatalf("receiver config: %v", err)
	}
	stopReceiver := startReceiver(t, rCfg)
	defer stopReceiver()

	sCfg, err := applySenderDefaults(&config.SenderConfig{
		SrcDir:     srcDir,
		Host:       "127.0.0.1",
		Port:       port,
		DestPath:   "camera02",
		Conns:      3,
		Lookahead:  0,
		StableMs:   1,
		FileWaitMs: 5,
		PollMs:     5,
		Once:       true,
	})
	if err != nil {
		t.Fatalf("sender config: %v", err)
	}

	stats := runSenderOnce(t, sCfg)
	if stats.FilesSent != len(contents) {
		t.Fatalf("expected %d files sent, got %d (failed=%d)", len(contents), stats.FilesSent, stats.FilesFailed)
	}

	for name, content := range contents {
		waitForFile(t, filepath.Join(outDir, "camera02", name), []byte(content))
	}
}

// TestEndToEnd_UnreadyFrameIsSkippedUntilLookaheadArrives covers
// scenario S4: a single candidate with no successor stays unsent until
// a later file gives the readiness probe its lookahead signal.
func TestEndToEnd_UnreadyFrameIsSkippedUntilLookaheadArrives(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	port := freePort(t)

	writeFrame(t, srcDir, "frame_0001.jpg", []byte("first"))

	rCfg, err := applyReceiverDefaults(&config.ReceiverConfig{
		ListenIP:     "127.0.0.1",
		Port:         port,
		OutDir:       outDir,
		Workers:      1,
		UseDestPaths: true,
	})
	if err != nil {
		t.Fatalf("receiver config: %v", err)
	}
	stopReceiver := startReceiver(t, rCfg)
	defer stopReceiver()

	sCfg, err := applySenderDefaults(&config.SenderConfig{
		SrcDir:     srcDir,
		Host:       "127.0.0.1",
		Port:       port,
		DestPath:   "camera03",
		Lookahead:  1,
		StableMs:   1,
		FileWaitMs: 5,
		PollMs:     5,
	})
	if err != nil {
		t.Fatalf("sender config: %v", err)
	}

	resultCh := make(chan *sender.Stats, 1)
	ctx, cancel := newCancelableContext()
	go func() {
		stats, _ := sender.Run(ctx, sCfg, testLogger())
		resultCh <- stats
	}()

	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(filepath.Join(outDir, "camera03", "frame_0001.jpg")); err == nil {
		t.Fatal("frame_0001.jpg should not be delivered before a lookahead file appears")
	}

	writeFrame(t, srcDir, "frame_0002.jpg", []byte("second"))

	waitForFile(t, filepath.Join(outDir, "camera03", "frame_0001.jpg"), []byte("first"))
	cancel()
	<-resultCh
}

func waitForFile(t *testing.T, path string, want []byte) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			if string(data) != string(want) {
				t.Fatalf("file %s contents %q, want %q", path, data, want)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

func applyReceiverDefaults(cfg *config.ReceiverConfig) (*config.ReceiverConfig, error) {
	if cfg.PartFileMaxAge == "" {
		cfg.PartFileMaxAge = "1h"
	}
	return cfg, nil
}

func applySenderDefaults(cfg *config.SenderConfig) (*config.SenderConfig, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = "*.jpg"
	}
	if cfg.Conns <= 0 {
		cfg.Conns = 1
	}
	if cfg.ChunkBytesRaw <= 0 {
		raw, err := config.ParseByteSize("1mb")
		if err != nil {
			return nil, err
		}
		cfg.ChunkBytesRaw = raw
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = 100 * time.Millisecond
	}
	if cfg.Timeout.Connect <= 0 {
		cfg.Timeout.Connect = time.Second
	}
	if cfg.Timeout.ChunkWrite <= 0 {
		cfg.Timeout.ChunkWrite = time.Second
	}
	return cfg, nil
}

func startReceiver(t *testing.T, cfg *config.ReceiverConfig) (stop func()) {
	t.Helper()
	ctx, cancel := newCancelableContext()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := receiver.Run(ctx, cfg, testLogger()); err != nil {
			t.Logf("receiver exited: %v", err)
		}
	}()
	time.Sleep(50 * time.Millisecond)
	return func() {
		cancel()
		<-done
	}
}

func runSenderOnce(t *testing.T, cfg *config.SenderConfig) *sender.Stats {
	t.Helper()
	ctx, cancel := newCancelableContext()
	defer cancel()

	done := make(chan struct{})
	var stats *sender.Stats
	var runErr error
	go func() {
		defer close(done)
		stats, runErr = sender.Run(ctx, cfg, testLogger())
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sender.Run did not finish in once mode within 5s")
	}
	if runErr != nil {
		t.Fatalf("sender.Run error: %v", runErr)
	}
	return stats
}
