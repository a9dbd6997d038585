package sender

import (
	"testing"
	"time"
)

func TestCalculateBackoffStaysWithinJitteredCap(t *testing.T) {
	initial := 10 * time.Millisecond
	max := 200 * time.Millisecond

	for attempt := 0; attempt < 10; attempt++ {
		d := calculateBackoff(attempt, initial, max)
		if d < 0 {
			t.Fatalf("attempt %d: negative backoff %v", attempt, d)
		}
		upper := time.Duration(float64(max) * 1.2)
		if d > upper {
			t.Fatalf("attempt %d: backoff %v exceeds jittered cap %v", attempt, d, upper)
		}
	}
}

func TestCalculateBackoffJitterWithinBounds(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 5 * time.Second

	lower := time.Duration(float64(initial) * 0.8)
	upper := time.Duration(float64(initial) * 1.2)

	for i := 0; i < 50; i++ {
		d := calculateBackoff(0, initial, max)
		if d < lower || d > upper {
			t.Fatalf("backoff %v outside jitter band [%v, %v]", d, lower, upper)
		}
	}
}
