package bake

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"git.home.luguber.info/inful/prebake/internal/logfields"
)

// staleWorkingDirAge is how old a working directory must be before a sweep
// assumes its build crashed.
const staleWorkingDirAge = 24 * time.Hour

// ScheduleSweeps registers the baker's periodic cleanup on its scheduler:
// leftover working directories, collected parameterized instances and,
// when archiveMaxAge is positive, old archived outputs and build log
// entries.
func (b *Baker) ScheduleSweeps(interval, archiveMaxAge time.Duration) error {
	if _, err := b.sched.ScheduleEvery("workspace-sweep", interval, func(ctx context.Context) {
		if n, err := b.workspace.Sweep(ctx, staleWorkingDirAge); err != nil {
			b.logger.Warn("Working directory sweep failed", logfields.Error(err))
		} else if n > 0 {
			b.logger.Info("Removed leftover working directories", logfields.Count(n))
		}
	}); err != nil {
		return err
	}
	if _, err := b.sched.ScheduleEvery("instance-gc", interval, func(ctx context.Context) {
		b.CollectInstances(ctx)
	}); err != nil {
		return err
	}
	if archiveMaxAge <= 0 {
		return nil
	}
	_, err := b.sched.ScheduleEvery("archive-prune", interval, func(ctx context.Context) {
		if n, err := b.PruneArchive(archiveMaxAge); err != nil {
			b.logger.Warn("Archive prune failed", logfields.Error(err))
		} else if n > 0 {
			b.logger.Info("Pruned archived outputs", logfields.Count(n))
		}
		if b.buildLog != nil {
			if n, err := b.buildLog.Prune(ctx, time.Now().Add(-archiveMaxAge)); err != nil {
				b.logger.Warn("Build log prune failed", logfields.Error(err))
			} else if n > 0 {
				b.logger.Debug("Pruned build log", logfields.Count(int(n)))
			}
		}
	})
	return err
}

// CollectInstances removes every instance of a parameterized product that
// no input witnesses any more.
func (b *Baker) CollectInstances(ctx context.Context) {
	b.mu.RLock()
	var candidates []*status
	for _, st := range b.statuses {
		if st.witnessed {
			candidates = append(candidates, st)
		}
	}
	b.mu.RUnlock()
	for _, st := range candidates {
		inputs, err := b.tracker.Matching(ctx, st.product.Inputs())
		if err != nil {
			b.logger.Warn("Failed to check product instance", logfields.Product(st.name()), logfields.Error(err))
			continue
		}
		if len(inputs) == 0 {
			b.collect(st)
		}
	}
}

// PruneArchive deletes archived files older than maxAge and the
// directories they leave empty. It returns how many files it deleted.
func (b *Baker) PruneArchive(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	var dirs []string
	removed := 0
	err := filepath.WalkDir(b.archiveDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if p != b.archiveDir {
				dirs = append(dirs, p)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(p); err == nil {
			removed++
		}
		return nil
	})
	// Deepest first so parents empty out before they are tried.
	slices.Reverse(dirs)
	for _, d := range dirs {
		_ = os.Remove(d)
	}
	return removed, err
}
