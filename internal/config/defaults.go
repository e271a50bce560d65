package config

import (
	"path/filepath"
	"time"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
)

const (
	defaultPlan          = "Bakefile.yaml"
	defaultStateDirName  = ".prebake"
	defaultDatabaseName  = "prebake.db"
	defaultDebounce      = 250 * time.Millisecond
	defaultSweepInterval = 10 * time.Minute
	defaultMetricsPath   = "/metrics"
	defaultSubject       = "prebake.status"
	defaultKVBucket      = "prebake_status"
)

// normalize case-folds enumerations before defaults are applied. Unknown
// values are rejected; empty ones take the default.
func normalize(cfg *Config) error {
	var err error
	if cfg.Logging.Level, err = logLevels.Parse(string(cfg.Logging.Level)); err != nil {
		return err
	}
	if cfg.Logging.Format, err = logFormats.Parse(string(cfg.Logging.Format)); err != nil {
		return err
	}
	cfg.Cleanup.Backoff, err = backoffModes.Parse(string(cfg.Cleanup.Backoff))
	return err
}

func applyDefaults(cfg *Config, baseDir string) error {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	root := cfg.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(baseDir, root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return foundation.ConfigError("cannot resolve root").WithCause(err).WithContext("root", cfg.Root).Build()
	}
	cfg.Root = abs

	if cfg.Plan == "" {
		cfg.Plan = defaultPlan
	}
	cfg.Plan = underRoot(cfg.Root, cfg.Plan)
	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDirName
	}
	cfg.StateDir = underRoot(cfg.Root, cfg.StateDir)
	if cfg.Database == "" {
		cfg.Database = filepath.Join(cfg.StateDir, defaultDatabaseName)
	} else if cfg.Database != ":memory:" {
		cfg.Database = underRoot(cfg.Root, cfg.Database)
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = defaultDebounce
	}
	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = defaultSweepInterval
	}
	if cfg.Cleanup.Retries == 0 {
		cfg.Cleanup.Retries = 2
	}
	if cfg.Cleanup.InitialDelay == 0 {
		cfg.Cleanup.InitialDelay = time.Second
	}
	if cfg.Cleanup.MaxDelay == 0 {
		cfg.Cleanup.MaxDelay = 30 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Notify.Enabled() {
		if cfg.Notify.Subject == "" {
			cfg.Notify.Subject = defaultSubject
		}
		if cfg.Notify.KVBucket == "" {
			cfg.Notify.KVBucket = defaultKVBucket
		}
	}
	return nil
}

func underRoot(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}
