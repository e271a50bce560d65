// Package config loads the engine configuration: where the client tree and
// plan live, where state is kept, and how watch mode, sweeps, logging,
// metrics and notifications behave.
package config

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "prebake.yaml"

// Config is the engine configuration.
type Config struct {
	Root     string        `yaml:"root"`      // client root, relative to the config file
	Plan     string        `yaml:"plan"`      // plan file, relative to root
	StateDir string        `yaml:"state_dir"` // default <root>/.prebake
	Database string        `yaml:"database"`  // sqlite file or ":memory:"
	TempDir  string        `yaml:"temp_dir"`  // parent of per-build working dirs
	Watch    WatchConfig   `yaml:"watch"`
	Sweep    SweepConfig   `yaml:"sweep"`
	Cleanup  CleanupConfig `yaml:"cleanup"`
	Logging  LoggingConfig `yaml:"logging"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Notify   NotifyConfig  `yaml:"notify"`
}

// WatchConfig controls file change notifications.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Ignore   []string      `yaml:"ignore"` // globs relative to root
}

// SweepConfig controls periodic maintenance.
type SweepConfig struct {
	Interval      time.Duration `yaml:"interval"`
	ArchiveMaxAge time.Duration `yaml:"archive_max_age"` // 0 keeps archived outputs forever
}

// CleanupConfig controls retries when deleting retired working directories.
type CleanupConfig struct {
	Retries      int              `yaml:"retries"`
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay time.Duration    `yaml:"initial_delay"`
	MaxDelay     time.Duration    `yaml:"max_delay"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// NotifyConfig enables status notifications over NATS when NATSURL is set.
type NotifyConfig struct {
	NATSURL  string `yaml:"nats_url"`
	Subject  string `yaml:"subject"`
	KVBucket string `yaml:"kv_bucket"`
}

// Enabled reports whether notifications are configured.
func (n NotifyConfig) Enabled() bool { return n.NATSURL != "" }

// Load reads a configuration file. A .env file next to it is loaded first so
// its variables can be referenced as ${VAR} in the YAML.
func Load(path string) (*Config, error) {
	if err := loadEnvFile(filepath.Dir(path)); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, foundation.ConfigError("configuration file not found").WithCause(err).WithContext("path", path).Build()
		}
		return nil, foundation.ConfigError("failed to read config file").WithCause(err).WithContext("path", path).Build()
	}
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		if ce, ok := foundation.AsClassified(err); ok {
			return nil, ce.WithContext("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration YAML after expanding environment variables.
// Relative paths resolve against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, foundation.ConfigError("failed to parse config").WithCause(err).Build()
	}
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	if err := applyDefaults(&cfg, baseDir); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file exists, rooted at root.
func Default(root string) (*Config, error) {
	var cfg Config
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	if err := applyDefaults(&cfg, root); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default rooted
// at the path's directory otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := loadEnvFile(filepath.Dir(path)); err != nil {
			return nil, err
		}
		return Default(filepath.Dir(path))
	}
	return Load(path)
}

// loadEnvFile loads dir/.env when present. Variables already set in the
// process environment win.
func loadEnvFile(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return foundation.ConfigError("failed to load .env file").WithCause(err).WithContext("path", path).Build()
	}
	return nil
}
