package sender

import (
	"math/rand"
	"time"
)

// calculateBackoff returns the exponential backoff delay for the
// given zero-based attempt number, capped at maxDelay and jittered by
// ±20% to avoid synchronized reconnect storms across workers.
func calculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	delay := initialDelay << attempt
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}

	jitter := float64(delay) * 0.2
	offset := (rand.Float64()*2 - 1) * jitter
	delay = time.Duration(float64(delay) + offset)
	if delay < 0 {
		delay = 0
	}
	return delay
}
