package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, DefaultFile)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Default(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Root)
	assert.Equal(t, filepath.Join(dir, "Bakefile.yaml"), cfg.Plan)
	assert.Equal(t, filepath.Join(dir, ".prebake"), cfg.StateDir)
	assert.Equal(t, filepath.Join(dir, ".prebake", "prebake.db"), cfg.Database)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 10*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
	assert.Equal(t, LogFormatText, cfg.Logging.Format)
	assert.Equal(t, RetryBackoffLinear, cfg.Cleanup.Backoff)
	assert.False(t, cfg.Notify.Enabled())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PREBAKE_TEST_NATS", "nats://127.0.0.1:4222")
	p := writeConfig(t, dir, `
root: src
plan: build/plan.yaml
database: ":memory:"
watch:
  debounce: 1s
  ignore: ["**.tmp"]
sweep:
  interval: 1m
  archive_max_age: 168h
logging:
  level: DEBUG
  format: Json
metrics:
  listen: 127.0.0.1:9464
notify:
  nats_url: ${PREBAKE_TEST_NATS}
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "src"), cfg.Root)
	assert.Equal(t, filepath.Join(dir, "src", "build", "plan.yaml"), cfg.Plan)
	assert.Equal(t, ":memory:", cfg.Database)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
	assert.Equal(t, []string{"**.tmp"}, cfg.Watch.Ignore)
	assert.Equal(t, 168*time.Hour, cfg.Sweep.ArchiveMaxAge)
	assert.Equal(t, LogLevelDebug, cfg.Logging.Level)
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Notify.NATSURL)
	assert.Equal(t, "prebake.status", cfg.Notify.Subject)
	assert.Equal(t, "prebake_status", cfg.Notify.KVBucket)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PREBAKE_TEST_SUBJECT", "")
	require.NoError(t, os.Unsetenv("PREBAKE_TEST_SUBJECT"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PREBAKE_TEST_SUBJECT=builds.status\n"), 0o600))
	p := writeConfig(t, dir, "notify:\n  nats_url: nats://x:4222\n  subject: ${PREBAKE_TEST_SUBJECT}\n")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "builds.status", cfg.Notify.Subject)
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(filepath.Join(dir, DefaultFile))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Root)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]struct {
		yaml     string
		category foundation.ErrorCategory
	}{
		"unknown key":       {"bogus: 1\n", foundation.CategoryConfig},
		"bad duration":      {"watch:\n  debounce: soon\n", foundation.CategoryConfig},
		"negative interval": {"sweep:\n  interval: -1s\n", foundation.CategoryValidation},
		"bad ignore glob":   {"watch:\n  ignore: ['a/*(']\n", foundation.CategoryConfig},
		"bad listen":        {"metrics:\n  listen: nine\n", foundation.CategoryValidation},
		"bad log level":     {"logging:\n  level: loud\n", foundation.CategoryValidation},
		"bad backoff":       {"cleanup:\n  backoff: random\n", foundation.CategoryValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tc.yaml))
			require.Error(t, err)
			assert.Equal(t, tc.category, foundation.GetCategory(err))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, foundation.HasCategory(err, foundation.CategoryConfig))
}
