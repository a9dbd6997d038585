package protocol

import (
	"bytes"
	"testing"
)

func TestWriteReadLegacyHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLegacyHeader(&buf, "frame_camera01_000000001.jpg", 1024); err != nil {
		t.Fatalf("WriteLegacyHeader error: %v", err)
	}

	tag, err := ReadTag(&buf)
	if err != nil {
		t.Fatalf("ReadTag error: %v", err)
	}
	if tag != TagLegacy {
		t.Fatalf("expected TagLegacy, got %v", tag)
	}

	frame, err := ReadHeader(&buf, tag)
	if err != nil {
		t.Fatalf("ReadHeader error: %v", err)
	}
	if frame.Name != "frame_camera01_000000001.jpg" {
		t.Fatalf("unexpected name %q", frame.Name)
	}
	if frame.PayloadLen != 1024 {
		t.Fatalf("expected payload len 1024, got %d", frame.PayloadLen)
	}
	if frame.Dest != "" {
		t.Fatalf("expected empty dest, got %q", frame.Dest)
	}
}

func TestWriteReadDestHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDestHeader(&buf, "frame_000001.jpg", "camera01/frame_000001.jpg", 2048); err != nil {
		t.Fatalf("WriteDestHeader error: %v", err)
	}

	tag, err := ReadTag(&buf)
	if err != nil {
		t.Fatalf("ReadTag error: %v", err)
	}
	if tag != TagWithDest {
		t.Fatalf("expected TagWithDest, got %v", tag)
	}

	frame, err := ReadHeader(&buf, tag)
	if err != nil {
		t.Fatalf("ReadHeader error: %v", err)
	}
	if frame.Dest != "camera01/frame_000001.jpg" {
		t.Fatalf("unexpected dest %q", frame.Dest)
	}
}

func TestReadTagUnknown(t *testing.T) {
	buf := bytes.NewReader([]byte{0xFF})
	if _, err := ReadTag(buf); err != ErrUnknownTag {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestValidateRelativePathRejectsTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"/etc/passwd",
		"a/../../b",
		"",
		"a\x00b",
	}
	for _, c := range cases {
		if err := ValidateRelativePath(c); err == nil {
			t.Errorf("expected rejection for %q", c)
		}
	}
}

func TestValidateRelativePathAcceptsSafe(t *testing.T) {
	cases := []string{
		"frame_000001.jpg",
		"camera01/frame_000001.jpg",
		"a/b/c.jpg",
	}
	for _, c := range cases {
		if err := ValidateRelativePath(c); err != nil {
			t.Errorf("unexpected rejection for %q: %v", c, err)
		}
	}
}

func TestReadHeaderRejectsOversizedName(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // bogus huge length prefix
	if _, err := ReadLengthPrefixed(&buf, MaxNameLen, ErrNameTooLong); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestReadHeaderRejectsOversizedDest(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // bogus huge length prefix
	if _, err := ReadLengthPrefixed(&buf, MaxDestLen, ErrDestTooLong); err != ErrDestTooLong {
		t.Fatalf("expected ErrDestTooLong, got %v", err)
	}
}

func TestCountFirstRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCount(&buf, 42); err != nil {
		t.Fatalf("WriteCount error: %v", err)
	}
	n, err := ReadCount(&buf)
	if err != nil {
		t.Fatalf("ReadCount error: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
}
