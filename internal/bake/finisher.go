package bake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/validity"
)

// finish moves the outputs a build produced into the client directory and
// archives client files matching the product's outputs that the build no
// longer produces.
func (b *Baker) finish(ctx context.Context, logger *slog.Logger, product *plan.Product, work string) error {
	outputs := glob.NewSet(product.Outputs()...)
	if outputs.Len() == 0 {
		return nil
	}
	produced, err := filesMatching(work, outputs, nil)
	if err != nil {
		return err
	}
	existing, err := filesMatching(b.tracker.Root(), outputs, b.skipClientPath)
	if err != nil {
		return err
	}

	isProduced := make(map[string]struct{}, len(produced))
	for _, p := range produced {
		isProduced[p] = struct{}{}
	}
	var obsolete []string
	for _, p := range existing {
		if _, ok := isProduced[p]; !ok {
			obsolete = append(obsolete, p)
		}
	}

	archived, err := b.archive(logger, obsolete)
	// Archived files already left the client directory; record them even
	// when a later one failed.
	changed := archived
	if err == nil {
		var moved []string
		moved, err = b.moveToClient(work, produced)
		changed = append(changed, moved...)
	}
	if len(changed) > 0 {
		if _, uerr := b.tracker.Update(ctx, changed); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

// skipClientPath keeps the walk of the client directory out of the archive
// and out of ignored paths.
func (b *Baker) skipClientPath(rel string, dir bool) bool {
	abs := b.tracker.Abs(rel)
	if abs == b.archiveDir || strings.HasPrefix(abs, b.archiveDir+string(filepath.Separator)) {
		return true
	}
	if dir {
		return b.tracker.Ignores(rel + "/")
	}
	return b.tracker.Ignores(rel)
}

// filesMatching walks only the directories the set's patterns are rooted
// in and returns the relative paths of regular files any pattern matches,
// sorted.
func filesMatching(root string, set *glob.Set, skip func(rel string, dir bool) bool) ([]string, error) {
	groups := set.GroupedByPrefix()
	prefixes := slices.Sorted(maps.Keys(groups))
	var walked []string
	var out []string
	for _, prefix := range prefixes {
		if coveredBy(walked, prefix) {
			continue
		}
		walked = append(walked, prefix)
		base := filepath.Join(root, filepath.FromSlash(prefix))
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if p != root && skip != nil && skip(rel, true) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || (skip != nil && skip(rel, false)) {
				return nil
			}
			if set.Matches(rel) {
				out = append(out, rel)
			}
			return nil
		})
		if err != nil {
			return nil, foundation.FileSystemError("scan outputs").WithCause(err).WithContext("path", base).Build()
		}
	}
	slices.Sort(out)
	return out, nil
}

func coveredBy(walked []string, prefix string) bool {
	for _, w := range walked {
		if w == "" || prefix == w || strings.HasPrefix(prefix, w+"/") {
			return true
		}
	}
	return false
}

// archive moves obsolete client files under the archive directory,
// keeping their relative paths. A file that would land on a directory, or
// the reverse, fails the build.
func (b *Baker) archive(logger *slog.Logger, obsolete []string) ([]string, error) {
	var archived []string
	defer func() {
		if n := len(archived); n > 0 {
			logger.Info(fmt.Sprintf("%d obsolete file(s) can be found under %s", n, b.archiveDir),
				logfields.Count(n), logfields.Dir(b.archiveDir))
			b.recorder.AddArchivedFiles(n)
		}
	}()
	for _, rel := range obsolete {
		dst := filepath.Join(b.archiveDir, filepath.FromSlash(rel))
		if info, err := os.Lstat(dst); err == nil && info.IsDir() {
			return archived, foundation.FileSystemError("cannot archive a file over a directory").
				WithContext("path", rel).WithContext("archive", dst).Build()
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return archived, foundation.FileSystemError("cannot create archive directory").WithCause(err).
				WithContext("path", rel).Build()
		}
		if err := moveFile(b.tracker.Abs(rel), dst); err != nil {
			return archived, foundation.FileSystemError("cannot archive obsolete output").WithCause(err).
				WithContext("path", rel).Build()
		}
		// Age in the archive counts from when the file was archived.
		now := time.Now()
		_ = os.Chtimes(dst, now, now)
		archived = append(archived, rel)
	}
	return archived, nil
}

// moveToClient moves produced files whose content differs from the client
// copy into the client directory and returns the ones it moved.
func (b *Baker) moveToClient(work string, produced []string) ([]string, error) {
	var moved []string
	for _, rel := range produced {
		src := filepath.Join(work, filepath.FromSlash(rel))
		dst := b.tracker.Abs(rel)
		if info, err := os.Lstat(dst); err == nil {
			if info.IsDir() {
				return moved, foundation.FileSystemError("output collides with a directory").WithContext("path", rel).Build()
			}
			if same, _ := sameContent(src, dst); same {
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return moved, foundation.FileSystemError("cannot create output directory").WithCause(err).WithContext("path", rel).Build()
		}
		if err := moveFile(src, dst); err != nil {
			return moved, foundation.FileSystemError("cannot move output").WithCause(err).WithContext("path", rel).Build()
		}
		moved = append(moved, rel)
	}
	return moved, nil
}

func sameContent(a, b string) (bool, error) {
	ha, err := validity.HashFile(a)
	if err != nil {
		return false, err
	}
	hb, err := validity.HashFile(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

// moveFile renames src to dst, copying when they are on different file
// systems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src) // #nosec G304 -- src is a working or client file
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
