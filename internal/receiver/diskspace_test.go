package receiver

import "testing"

func TestCheckFreeSpaceDisabledWhenThresholdZero(t *testing.T) {
	if err := checkFreeSpace(t.TempDir(), 0); err != nil {
		t.Fatalf("expected no-op when minFreeBytes <= 0, got %v", err)
	}
}

func TestCheckFreeSpaceRejectsUnreasonableThreshold(t *testing.T) {
	dir := t.TempDir()
	// A threshold larger than any real filesystem guarantees rejection,
	// exercising the comparison without depending on actual free space.
	const absurdlyLarge = int64(1) << 62
	if err := checkFreeSpace(dir, absurdlyLarge); err == nil {
		t.Fatal("expected rejection when free space is below threshold")
	}
}
