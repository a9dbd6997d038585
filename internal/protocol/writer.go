package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteLegacyHeader writes a TagLegacy frame header: tag, name, payload
// length. The caller streams payload bytes immediately afterward.
func WriteLegacyHeader(w io.Writer, name string, payloadLen uint64) error {
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	if _, err := w.Write([]byte{byte(TagLegacy)}); err != nil {
		return fmt.Errorf("writing tag: %w", err)
	}
	if err := writeLengthPrefixed(w, name); err != nil {
		return fmt.Errorf("writing name: %w", err)
	}
	if err := writeU64(w, payloadLen); err != nil {
		return fmt.Errorf("writing payload length: %w", err)
	}
	return nil
}

// WriteDestHeader writes a TagWithDest frame header: tag, name, dest,
// payload length.
func WriteDestHeader(w io.Writer, name, dest string, payloadLen uint64) error {
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	if len(dest) > MaxDestLen {
		return ErrDestTooLong
	}
	if _, err := w.Write([]byte{byte(TagWithDest)}); err != nil {
		return fmt.Errorf("writing tag: %w", err)
	}
	if err := writeLengthPrefixed(w, name); err != nil {
		return fmt.Errorf("writing name: %w", err)
	}
	if err := writeLengthPrefixed(w, dest); err != nil {
		return fmt.Errorf("writing dest: %w", err)
	}
	if err := writeU64(w, payloadLen); err != nil {
		return fmt.Errorf("writing payload length: %w", err)
	}
	return nil
}

// WriteCount writes the u32 file_count header for the count-first
// session variant.
func WriteCount(w io.Writer, count uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], count)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing file count: %w", err)
	}
	return nil
}

func writeLengthPrefixed(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}
