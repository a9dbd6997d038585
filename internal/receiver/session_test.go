package receiver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camstream/camstream/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionHandleLegacyFrame(t *testing.T) {
	outDir := t.TempDir()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := NewSession(SessionConfig{OutDir: outDir}, NewLocalBackend(0, false), nil, discardLogger())

	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), serverConn)
		close(done)
	}()

	if err := protocol.WriteLegacyHeader(clientConn, "frame_0001.jpg", 7); err != nil {
		t.Fatalf("WriteLegacyHeader: %v", err)
	}
	if _, err := clientConn.Write([]byte("payload")); err != nil {
		t.Fatalf("writing payload: %v", err)
	}
	clientConn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to finish")
	}

	data, err := os.ReadFile(filepath.Join(outDir, "frame_0001.jpg"))
	if err != nil {
		t.Fatalf("reading received file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected contents %q", data)
	}
}

func TestSessionHandleWithDestFrame(t *testing.T) {
	outDir := t.TempDir()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := NewSession(SessionConfig{OutDir: outDir, UseDestPaths: true}, NewLocalBackend(0, false), nil, discardLogger())

	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), serverConn)
		close(done)
	}()

	if err := protocol.WriteDestHeader(clientConn, "frame_0001.jpg", "camera01/frame_0001.jpg", 4); err != nil {
		t.Fatalf("WriteDestHeader: %v", err)
	}
	if _, err := clientConn.Write([]byte("data")); err != nil {
		t.Fatalf("writing payload: %v", err)
	}
	clientConn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to finish")
	}

	data, err := os.ReadFile(filepath.Join(outDir, "camera01", "frame_0001.jpg"))
	if err != nil {
		t.Fatalf("reading received file: %v", err)
	}
	if string(data) != "data" {
		t.Fatalf("unexpected contents %q", data)
	}
}

func TestSessionHandleCountFirstMultipleFrames(t *testing.T) {
	outDir := t.TempDir()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := NewSession(SessionConfig{OutDir: outDir, ExpectCountFirst: true}, NewLocalBackend(0, false), nil, discardLogger())

	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), serverConn)
		close(done)
	}()

	go func() {
		protocol.WriteCount(clientConn, 2)
		protocol.WriteLegacyHeader(clientConn, "a.jpg", 1)
		clientConn.Write([]byte("1"))
		protocol.WriteLegacyHeader(clientConn, "b.jpg", 1)
		clientConn.Write([]byte("2"))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to finish")
	}

	for name, want := range map[string]string{"a.jpg": "1", "b.jpg": "2"} {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(data) != want {
			t.Fatalf("unexpected contents for %s: %q", name, data)
		}
	}
}

func TestSessionHandleRejectsDestWhenUseDestPathsDisabled(t *testing.T) {
	outDir := t.TempDir()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := NewSession(SessionConfig{OutDir: outDir}, NewLocalBackend(0, false), nil, discardLogger())

	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), serverConn)
		close(done)
	}()

	go func() {
		protocol.WriteDestHeader(clientConn, "frame_0001.jpg", "camera01/frame_0001.jpg", 4)
		clientConn.Write([]byte("data"))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to finish")
	}

	if _, err := os.Stat(filepath.Join(outDir, "camera01", "frame_0001.jpg")); err == nil {
		t.Fatal("expected with-dest frame to be rejected when use_dest_paths is disabled")
	}
}

func TestSessionHandleRejectsPathTraversal(t *testing.T) {
	outDir := t.TempDir()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := NewSession(SessionConfig{OutDir: outDir}, NewLocalBackend(0, false), nil, discardLogger())

	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), serverConn)
		close(done)
	}()

	go func() {
		protocol.WriteDestHeader(clientConn, "evil.jpg", "../../etc/evil.jpg", 1)
		clientConn.Write([]byte("x"))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to finish")
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(outDir), "etc", "evil.jpg")); err == nil {
		t.Fatal("expected traversal write to be rejected")
	}
}
