package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/retry"
)

const (
	workingPrefix  = "prebake-"
	obsoletePrefix = "obsolete-"
)

// Manager hands out and retires working directories under one base directory.
type Manager struct {
	baseDir string
	policy  retry.Policy
	logger  *slog.Logger

	mu       sync.Mutex
	obsolete int
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryPolicy sets the retry policy for deletions.
func WithRetryPolicy(p retry.Policy) Option { return func(m *Manager) { m.policy = p } }

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager creates a workspace manager rooted at baseDir, the OS temp
// directory when empty.
func NewManager(baseDir string, opts ...Option) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	m := &Manager{baseDir: baseDir, policy: retry.DefaultPolicy(), logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// BaseDir returns the directory working directories are created in.
func (m *Manager) BaseDir() string { return m.baseDir }

// Create makes a fresh working directory for the named product.
func (m *Manager) Create(name string) (string, error) {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return "", foundation.FileSystemError("failed to create workspace base directory").WithCause(err).WithContext("path", m.baseDir).Build()
	}
	dir, err := os.MkdirTemp(m.baseDir, workingPrefix+sanitize(name)+"-")
	if err != nil {
		return "", foundation.FileSystemError("failed to create working directory").WithCause(err).WithContext("product", name).Build()
	}
	m.logger.Debug("Created working directory", logfields.Product(name), logfields.Dir(dir))
	return dir, nil
}

// Retire renames dir to an unused obsolete-N name and returns the new path.
func (m *Manager) Retire(dir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		m.obsolete++
		dest := filepath.Join(m.baseDir, fmt.Sprintf("%s%d", obsoletePrefix, m.obsolete))
		if _, err := os.Lstat(dest); err == nil {
			continue
		}
		if err := os.Rename(dir, dest); err != nil {
			return "", foundation.FileSystemError("failed to retire working directory").WithCause(err).WithContext("path", dir).Build()
		}
		return dest, nil
	}
}

// Remove deletes dir, retrying per the manager's policy.
func (m *Manager) Remove(ctx context.Context, dir string) error {
	err := m.policy.Do(ctx, func() error { return os.RemoveAll(dir) })
	if err != nil {
		m.logger.Warn("Failed to delete working directory", logfields.Dir(dir), logfields.Error(err))
		return foundation.FileSystemError("failed to delete working directory").WithCause(err).WithContext("path", dir).Build()
	}
	m.logger.Debug("Deleted working directory", logfields.Dir(dir))
	return nil
}

// Sweep deletes retired directories left behind by failed deletions and
// working directories older than maxAge, which only a crashed process
// leaves. It returns how many directories it removed.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, foundation.FileSystemError("failed to list workspace base directory").WithCause(err).WithContext("path", m.baseDir).Build()
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasPrefix(name, obsoletePrefix):
		case strings.HasPrefix(name, workingPrefix) && maxAge > 0:
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
		default:
			continue
		}
		if err := m.Remove(ctx, filepath.Join(m.baseDir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
}
