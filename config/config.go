// Package config loads the YAML file that governs where a database's
// directory tree is rooted and how big its buffer pool and thread pool are.
// Nothing elsewhere in this module reads its settings from anywhere else.
package config

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Collation selects how STRING primary keys are compared before hashing.
type Collation string

const (
	CollationSimple         Collation = "simple"
	CollationCaseInsensitive Collation = "caseInsensitive"
)

// AutoCheckpoint configures the background checkpoint scheduler.
type AutoCheckpoint struct {
	Enabled bool   `yaml:"enabled"`
	Every   string `yaml:"every"` // robfig/cron expression
}

// Config is a database's full ambient configuration, loaded from a single
// YAML file at open time.
type Config struct {
	DataDir             string         `yaml:"dataDir"`
	BufferPoolBytes     int64          `yaml:"bufferPoolBytes"`
	MaxThreads          int            `yaml:"maxThreads"` // 0 = runtime.NumCPU()
	PageSizeBytes       int            `yaml:"pageSizeBytes"`
	AutoCheckpoint      AutoCheckpoint `yaml:"autoCheckpoint"`
	LogLevel            string         `yaml:"logLevel"`
	PrimaryKeyCollation Collation      `yaml:"primaryKeyCollation"`
}

const (
	DefaultPageSizeBytes   = 4096
	MinPageSizeBytes       = 4096
	MaxPageSizeBytes       = 65536
	DefaultBufferPoolBytes = 128 * 1024 * 1024
)

// Default returns sensible defaults scaled off the host's CPU count, the
// same way the concurrency framework this module's scheduler is grounded on
// sizes its worker pools off runtime.NumCPU.
func Default() Config {
	return Config{
		DataDir:         "./graphdb",
		BufferPoolBytes: DefaultBufferPoolBytes,
		MaxThreads:      runtime.NumCPU(),
		PageSizeBytes:   DefaultPageSizeBytes,
		AutoCheckpoint: AutoCheckpoint{
			Enabled: true,
			Every:   "*/5 * * * *",
		},
		LogLevel:            "info",
		PrimaryKeyCollation: CollationSimple,
	}
}

// Load reads and parses a config file at path, filling any zero-valued
// field from Default() so a partial file is enough to get started.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: parse %s", path)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./graphdb"
	}
	if c.BufferPoolBytes <= 0 {
		c.BufferPoolBytes = DefaultBufferPoolBytes
	}
	if c.MaxThreads <= 0 {
		c.MaxThreads = runtime.NumCPU()
	}
	if c.PageSizeBytes == 0 {
		c.PageSizeBytes = DefaultPageSizeBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PrimaryKeyCollation == "" {
		c.PrimaryKeyCollation = CollationSimple
	}
}

// Validate rejects settings that would make the pager or scheduler
// misbehave rather than letting them surface as a confusing I/O error
// later.
func (c Config) Validate() error {
	if c.PageSizeBytes < MinPageSizeBytes || c.PageSizeBytes > MaxPageSizeBytes {
		return errors.Errorf("config: pageSizeBytes %d out of range [%d, %d]", c.PageSizeBytes, MinPageSizeBytes, MaxPageSizeBytes)
	}
	if c.PageSizeBytes&(c.PageSizeBytes-1) != 0 {
		return errors.Errorf("config: pageSizeBytes %d must be a power of two", c.PageSizeBytes)
	}
	if c.PrimaryKeyCollation != CollationSimple && c.PrimaryKeyCollation != CollationCaseInsensitive {
		return errors.Errorf("config: unknown primaryKeyCollation %q", c.PrimaryKeyCollation)
	}
	return nil
}
