package receiver

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// checkFreeSpace rejects new sessions once out_dir's filesystem free
// space drops below minFreeBytes, a fatal-resource guard rail rather
// than a per-file error: it is checked once per accepted connection,
// not per chunk.
func checkFreeSpace(outDir string, minFreeBytes int64) error {
	if minFreeBytes <= 0 {
		return nil
	}

	usage, err := disk.Usage(outDir)
	if err != nil {
		return fmt.Errorf("checking disk usage for %s: %w", outDir, err)
	}

	if int64(usage.Free) < minFreeBytes {
		return fmt.Errorf("free space %d bytes below minimum %d bytes on %s", usage.Free, minFreeBytes, outDir)
	}
	return nil
}
