package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SenderConfig is the full configuration for camsender: the core
// scan/dispatch/transfer options plus ambient/domain enrichments
// (bandwidth shaping, DSCP marking, cron-scheduled part-file janitor).
type SenderConfig struct {
	SrcDir string `yaml:"src_dir"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`

	Pattern    string `yaml:"pattern"`
	StartAfter string `yaml:"start_after"`

	Conns      int `yaml:"conns"`
	Lookahead  int `yaml:"lookahead"`
	StableMs   int `yaml:"stable_ms"`
	FileWaitMs int `yaml:"file_wait_ms"`
	MaxFiles   int `yaml:"max_files"`

	DestPath          string `yaml:"dest_path"`
	PreserveStructure bool   `yaml:"preserve_structure"`

	CleanupPartFiles bool   `yaml:"cleanup_part_files"`
	CleanupSchedule  string `yaml:"cleanup_schedule"` // optional cron expr for periodic sweeps

	Once bool `yaml:"once"`

	ChunkBytes    string `yaml:"chunk_bytes"`
	ChunkBytesRaw int64  `yaml:"-"`

	PollMs    int  `yaml:"poll_ms"`
	Verbose   bool `yaml:"verbose"`
	JSONStats bool `yaml:"json_stats"`

	// MaxBytesPerSec, when set, caps each worker connection's outbound
	// rate via a token-bucket limiter. "0" or empty disables shaping.
	MaxBytesPerSec    string `yaml:"max_bytes_per_sec"`
	MaxBytesPerSecRaw int64  `yaml:"-"`

	// DSCP names a DiffServ code point (e.g. "AF41", "EF") applied to
	// each worker socket for outbound QoS marking. Empty disables it.
	DSCP string `yaml:"dscp"`

	Retry   RetryInfo   `yaml:"retry"`
	Timeout TimeoutInfo `yaml:"timeout"`
	Logging LoggingInfo `yaml:"logging"`
}

// RetryInfo controls the worker's reconnect backoff.
type RetryInfo struct {
	MaxAttempts   int           `yaml:"max_attempts"`   // default 5
	InitialBackoff time.Duration `yaml:"initial_backoff"` // default 100ms
	MaxBackoff    time.Duration `yaml:"max_backoff"`    // default 5s
}

// TimeoutInfo controls the sender's network timeouts.
type TimeoutInfo struct {
	Connect    time.Duration `yaml:"connect"`     // default 5s
	ChunkWrite time.Duration `yaml:"chunk_write"`  // default 30s
}

// LoadSenderConfig reads, defaults, and validates a camsender YAML file.
func LoadSenderConfig(path string) (*SenderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sender config: %w", err)
	}
	var cfg SenderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sender config: %w", err)
	}
	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("validating sender config: %w", err)
	}
	return &cfg, nil
}

func (c *SenderConfig) applyDefaultsAndValidate() error {
	if c.SrcDir == "" {
		return fmt.Errorf("src_dir is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.Pattern == "" {
		c.Pattern = "*.jpg"
	}
	if c.Conns <= 0 {
		c.Conns = 8
	}
	if c.Lookahead <= 0 {
		c.Lookahead = 4
	}
	if c.StableMs <= 0 {
		c.StableMs = 5
	}
	if c.FileWaitMs <= 0 {
		c.FileWaitMs = 10
	}
	if c.PollMs <= 0 {
		c.PollMs = 50
	}
	if strings.TrimSpace(c.DestPath) == "" {
		return fmt.Errorf("dest_path is required")
	}

	if c.ChunkBytes == "" {
		c.ChunkBytes = "8mb"
	}
	chunkRaw, err := ParseByteSize(c.ChunkBytes)
	if err != nil {
		return fmt.Errorf("chunk_bytes: %w", err)
	}
	c.ChunkBytesRaw = chunkRaw

	if c.MaxBytesPerSec != "" && c.MaxBytesPerSec != "0" {
		rate, err := ParseByteSize(c.MaxBytesPerSec)
		if err != nil {
			return fmt.Errorf("max_bytes_per_sec: %w", err)
		}
		c.MaxBytesPerSecRaw = rate
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = 100 * time.Millisecond
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = 5 * time.Second
	}

	if c.Timeout.Connect <= 0 {
		c.Timeout.Connect = 5 * time.Second
	}
	if c.Timeout.ChunkWrite <= 0 {
		c.Timeout.ChunkWrite = 30 * time.Second
	}

	c.Logging.setDefaults()
	return nil
}
