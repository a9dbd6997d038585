package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReceiverConfig is the full configuration for camreceiver.
type ReceiverConfig struct {
	ListenIP string `yaml:"listen_ip"`
	Port     int    `yaml:"port"`
	OutDir   string `yaml:"out_dir"`

	Workers   int  `yaml:"workers"`
	ReusePort bool `yaml:"reuseport"`

	ExpectCountFirst bool `yaml:"expect_count_first"`

	// UseDestPaths controls whether a with-dest frame's sender-supplied
	// destination is honored for placement. It defaults to false: the
	// destination is sender-controlled input, so a receiver must opt in
	// before trusting it; with-dest frames are rejected outright while
	// this is disabled.
	UseDestPaths bool `yaml:"use_dest_paths"`

	// CleanupSchedule, when set, runs a cron-scheduled sweep that
	// removes orphaned .part files older than PartFileMaxAge.
	CleanupSchedule string `yaml:"cleanup_schedule"`
	PartFileMaxAge  string `yaml:"part_file_max_age"` // e.g. "1h", default 1h

	// Fsync, when true, fsyncs each finalized file before renaming it
	// into place. The parent directory is not fsynced.
	Fsync bool `yaml:"fsync"`

	// MinFreeBytes, when set, rejects new sessions once the out_dir
	// filesystem free space drops below this threshold.
	MinFreeBytes    string `yaml:"min_free_bytes"`
	MinFreeBytesRaw int64  `yaml:"-"`

	Verbose   bool `yaml:"verbose"`
	JSONStats bool `yaml:"json_stats"`

	Logging LoggingInfo `yaml:"logging"`
}

// LoadReceiverConfig reads, defaults, and validates a camreceiver YAML file.
func LoadReceiverConfig(path string) (*ReceiverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading receiver config: %w", err)
	}
	var cfg ReceiverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing receiver config: %w", err)
	}
	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("validating receiver config: %w", err)
	}
	return &cfg, nil
}

func (c *ReceiverConfig) applyDefaultsAndValidate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return fmt.Errorf("out_dir is required")
	}

	if c.ListenIP == "" {
		c.ListenIP = "0.0.0.0"
	}
	if c.Workers <= 0 {
		c.Workers = 16
	}
	if c.PartFileMaxAge == "" {
		c.PartFileMaxAge = "1h"
	}

	if c.MinFreeBytes != "" {
		raw, err := ParseByteSize(c.MinFreeBytes)
		if err != nil {
			return fmt.Errorf("min_free_bytes: %w", err)
		}
		c.MinFreeBytesRaw = raw
	}

	c.Logging.setDefaults()
	return nil
}

// IsS3Dest reports whether out_dir (or a per-frame destination) names
// an S3 bucket rather than a local directory, selected by the
// "s3://bucket/prefix" URI convention.
func IsS3Dest(path string) bool {
	return strings.HasPrefix(path, "s3://")
}
