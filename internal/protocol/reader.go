package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ReadTag reads the one-byte frame discriminator. Callers use it to
// decide whether AwaitDest applies before calling ReadHeader.
func ReadTag(r io.Reader) (ProtocolTag, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("reading frame tag: %w", err)
	}
	tag := ProtocolTag(b[0])
	if tag != TagLegacy && tag != TagWithDest {
		return 0, ErrUnknownTag
	}
	return tag, nil
}

// ReadLengthPrefixed reads a u32 length then exactly that many bytes,
// rejecting lengths above limit before allocating. tooLong is returned
// verbatim when the limit is exceeded, letting callers distinguish
// which field overflowed (ErrNameTooLong vs ErrDestTooLong).
func ReadLengthPrefixed(r io.Reader, limit int, tooLong error) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("reading length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > limit {
		return "", tooLong
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("reading length-prefixed field: %w", err)
	}
	return string(buf), nil
}

// ReadPayloadLen reads the u64 payload length that precedes the file bytes.
func ReadPayloadLen(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading payload length: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// ReadHeader reads name (and, for TagWithDest, dest) and the payload
// length that follow an already-consumed tag byte. It does not read
// payload bytes; callers stream those separately so they can write
// straight to a destination writer without buffering the whole file.
func ReadHeader(r io.Reader, tag ProtocolTag) (Frame, error) {
	name, err := ReadLengthPrefixed(r, MaxNameLen, ErrNameTooLong)
	if err != nil {
		return Frame{}, fmt.Errorf("reading name: %w", err)
	}
	if err := ValidateRelativePath(name); err != nil {
		return Frame{}, fmt.Errorf("name %q: %w", name, err)
	}

	var dest string
	if tag == TagWithDest {
		dest, err = ReadLengthPrefixed(r, MaxDestLen, ErrDestTooLong)
		if err != nil {
			return Frame{}, fmt.Errorf("reading dest: %w", err)
		}
		if err := ValidateRelativePath(dest); err != nil {
			return Frame{}, fmt.Errorf("dest %q: %w", dest, err)
		}
	}

	payloadLen, err := ReadPayloadLen(r)
	if err != nil {
		return Frame{}, fmt.Errorf("reading payload length: %w", err)
	}

	return Frame{Tag: tag, Name: name, Dest: dest, PayloadLen: payloadLen}, nil
}

// ReadCount reads the u32 file_count header used by the count-first
// session variant.
func ReadCount(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading file count: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ValidateRelativePath rejects NUL bytes, absolute paths, and any ".."
// segment or leading path separator.
func ValidateRelativePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("%w: contains NUL byte", ErrUnsafePath)
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return fmt.Errorf("%w: absolute path", ErrUnsafePath)
	}
	cleaned := filepath.ToSlash(filepath.Clean(p))
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return fmt.Errorf("%w: contains .. segment", ErrUnsafePath)
		}
	}
	return nil
}
