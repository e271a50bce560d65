package config

import (
	"net"
	"strings"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
)

// Validate checks a configuration after defaults have been applied.
func Validate(cfg *Config) error {
	validators := []func(*Config) error{
		validateDurations,
		validateWatch,
		validateMetrics,
	}
	for _, v := range validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateDurations(cfg *Config) error {
	checks := []struct {
		field string
		ok    bool
	}{
		{"watch.debounce", cfg.Watch.Debounce >= 0},
		{"sweep.interval", cfg.Sweep.Interval > 0},
		{"sweep.archive_max_age", cfg.Sweep.ArchiveMaxAge >= 0},
		{"cleanup.retries", cfg.Cleanup.Retries >= 0},
		{"cleanup.initial_delay", cfg.Cleanup.InitialDelay > 0},
		{"cleanup.max_delay", cfg.Cleanup.MaxDelay > 0},
	}
	for _, c := range checks {
		if !c.ok {
			return foundation.ValidationError("value out of range").WithContext("field", c.field).Build()
		}
	}
	return nil
}

func validateWatch(cfg *Config) error {
	for _, g := range cfg.Watch.Ignore {
		if _, err := glob.Parse(g); err != nil {
			return foundation.ConfigError("invalid ignore glob").WithCause(err).WithContext("glob", g).Build()
		}
	}
	return nil
}

func validateMetrics(cfg *Config) error {
	if cfg.Metrics.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
		return foundation.ValidationError("metrics.listen must be host:port").WithCause(err).WithContext("listen", cfg.Metrics.Listen).Build()
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return foundation.ValidationError("metrics.path must start with /").WithContext("path", cfg.Metrics.Path).Build()
	}
	return nil
}
