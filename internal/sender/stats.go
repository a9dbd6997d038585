package sender

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stats is the end-of-run summary surfaced to the operator, optionally
// as JSON, per the files_sent/files_failed/bytes/elapsed/per_file_errors shape.
type Stats struct {
	FilesSent     int64             `json:"files_sent"`
	FilesFailed   int64             `json:"files_failed"`
	Bytes         int64             `json:"bytes"`
	ElapsedMs     int64             `json:"elapsed"`
	PerFileErrors map[string]string `json:"per_file_errors,omitempty"`

	startedAt time.Time
}

// NewStats starts the elapsed-time clock.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now(), PerFileErrors: make(map[string]string)}
}

// Record folds one Result into the running totals.
func (s *Stats) Record(r Result) {
	if r.Err != nil {
		s.FilesFailed++
		s.PerFileErrors[r.Task.Name] = r.Err.Error()
		return
	}
	s.FilesSent++
	s.Bytes += r.Bytes
}

// Finalize stamps the elapsed duration. Call once, after the run loop exits.
func (s *Stats) Finalize() {
	s.ElapsedMs = time.Since(s.startedAt).Milliseconds()
}

// JSON renders the summary as a single JSON line.
func (s *Stats) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf(`{"error":"marshaling stats: %s"}`, err)
	}
	return string(b)
}

// String renders a human-readable one-line summary.
func (s *Stats) String() string {
	return fmt.Sprintf("files_sent=%d files_failed=%d bytes=%d elapsed_ms=%d",
		s.FilesSent, s.FilesFailed, s.Bytes, s.ElapsedMs)
}
