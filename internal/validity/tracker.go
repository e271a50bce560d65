package validity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
	"git.home.luguber.info/inful/prebake/internal/logfields"
)

// Artifact is anything whose validity derives from file content.
type Artifact interface {
	// Invalidate is called when a prerequisite changed.
	Invalidate()
	// Validate is called once the tracker accepted the artifact's
	// prerequisite snapshot.
	Validate()
}

// Definer is implemented by artifacts whose validity also depends on their
// own definition. The definition is stored with each validation and must
// match for Restore to succeed.
type Definer interface {
	Definition() Hash
}

func definitionOf(a Artifact) Hash {
	if d, ok := a.(Definer); ok {
		return d.Definition()
	}
	return Hash{}
}

// Addresser translates between artifacts of one kind and stable local ids,
// so the tracker can store addresses instead of references.
type Addresser interface {
	AddressFor(a Artifact) string
	// Lookup returns nil when no artifact has the id any more.
	Lookup(id string) Artifact
}

// Listener receives the tracked paths of a change batch that matched the
// globs it was registered with.
type Listener func(ctx context.Context, changed []string)

type watch struct {
	id       int
	globs    *glob.Set
	listener Listener
}

// Tracker keeps the content hash of every file under a root and an index
// from each file to the artifacts validated against it.
//
// Invalidation batches hold the derivative lock exclusively. Validations
// hold it shared while they re-hash and record edges, so a batch either
// fully precedes or fully follows each validation.
type Tracker struct {
	root   string
	store  Store
	ignore func(rel string) bool
	logger *slog.Logger

	derivMu sync.RWMutex

	addrMu     sync.RWMutex
	addressers map[string]Addresser

	watchMu sync.Mutex
	watches []*watch
	nextID  int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithIgnore excludes root-relative paths from tracking.
func WithIgnore(fn func(rel string) bool) Option { return func(t *Tracker) { t.ignore = fn } }

// NewTracker tracks files under root using store.
func NewTracker(root string, store Store, opts ...Option) (*Tracker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, foundation.FileSystemError("resolve tracker root").WithCause(err).WithContext("root", root).Build()
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	t := &Tracker{
		root:       abs,
		store:      store,
		logger:     slog.Default(),
		addressers: make(map[string]Addresser),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Root returns the absolute root directory.
func (t *Tracker) Root() string { return t.root }

// Register installs the addresser for a namespace. Addresses take the form
// "namespace:id", so a namespace must not contain ':'.
func (t *Tracker) Register(namespace string, a Addresser) error {
	if namespace == "" || strings.ContainsRune(namespace, ':') {
		return foundation.ValidationError("invalid addresser namespace").WithContext("namespace", namespace).Build()
	}
	t.addrMu.Lock()
	defer t.addrMu.Unlock()
	if _, ok := t.addressers[namespace]; ok {
		return foundation.ValidationError("addresser namespace already registered").WithContext("namespace", namespace).Build()
	}
	t.addressers[namespace] = a
	return nil
}

func (t *Tracker) addresser(namespace string) Addresser {
	t.addrMu.RLock()
	defer t.addrMu.RUnlock()
	return t.addressers[namespace]
}

// KeyFor converts a path to the tracker's key form: relative to the root
// with "/" separators. Relative paths are taken as root-relative. It reports
// false for paths outside the root or ignored ones.
func (t *Tracker) KeyFor(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.root, path)
	}
	rel, err := filepath.Rel(t.root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", false
	}
	key := filepath.ToSlash(rel)
	if t.ignore != nil && t.ignore(key) {
		return "", false
	}
	return key, true
}

// Ignores reports whether a root-relative key is excluded from tracking.
// Directory keys are tested with a trailing "/".
func (t *Tracker) Ignores(key string) bool { return t.ignore != nil && t.ignore(key) }

// Abs resolves a key to an absolute file path.
func (t *Tracker) Abs(key string) string { return filepath.Join(t.root, filepath.FromSlash(key)) }

type record struct {
	key     string
	hash    Hash
	present bool
}

// Update re-hashes paths after a change notification and invalidates every
// artifact validated against a path whose hash changed. It returns the keys
// of the changed paths.
func (t *Tracker) Update(ctx context.Context, paths []string) ([]string, error) {
	records := make([]record, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		key, ok := t.KeyFor(p)
		if !ok {
			t.logger.Debug("Not updating external file", logfields.Path(p))
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		r := record{key: key}
		abs := t.Abs(key)
		info, err := os.Stat(abs)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// A vanished directory takes its tracked files with it.
			under, err := t.store.PathsWithPrefix(ctx, key+"/")
			if err != nil {
				return nil, storageError("scan paths", err)
			}
			for _, u := range under {
				if _, dup := seen[u]; !dup {
					seen[u] = struct{}{}
					records = append(records, record{key: u})
				}
			}
		case err != nil:
			t.logger.Warn("Failed to stat file", logfields.Path(key), logfields.Error(err))
		case info.IsDir():
			continue
		default:
			h, err := HashFile(abs)
			if err != nil {
				t.logger.Warn("Failed to hash file", logfields.Path(key), logfields.Error(err))
			} else {
				r.hash, r.present = h, true
			}
		}
		records = append(records, r)
	}

	var changes []HashChange
	for _, r := range records {
		old, had, err := t.store.Hash(ctx, r.key)
		if err != nil {
			return nil, storageError("read hash", err)
		}
		switch {
		case r.present && had && old == r.hash:
		case r.present:
			changes = append(changes, HashChange{Path: r.key, Hash: r.hash})
		case had:
			changes = append(changes, HashChange{Path: r.key, Deleted: true})
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}
	if err := t.store.ApplyHashes(ctx, changes); err != nil {
		return nil, storageError("store hashes", err)
	}
	changed := make([]string, len(changes))
	for i, c := range changes {
		changed[i] = c.Path
	}

	t.derivMu.Lock()
	addresses, err := t.store.TakeDerivatives(ctx, changed)
	t.derivMu.Unlock()
	if err != nil {
		return nil, storageError("collect derivatives", err)
	}

	for _, addr := range addresses {
		t.invalidate(addr)
	}
	t.dispatch(ctx, changed)
	return changed, nil
}

func (t *Tracker) invalidate(address string) {
	ns, id, ok := strings.Cut(address, ":")
	if !ok {
		t.logger.Error("Malformed artifact address", logfields.Address(address))
		return
	}
	as := t.addresser(ns)
	if as == nil {
		t.logger.Debug("No addresser for namespace", logfields.Address(address))
		return
	}
	if a := as.Lookup(id); a != nil {
		t.logger.Debug("Invalidating", logfields.Address(address))
		a.Invalidate()
	}
}

// UpdateArtifact records that artifact is valid given prerequisites whose
// hash, folded with Hashes, was prereqHash. It re-hashes the prerequisites
// and returns false without changing anything if they moved on since. The
// validation is stored so a later tracker over the same store can Restore
// it.
func (t *Tracker) UpdateArtifact(ctx context.Context, namespace string, artifact Artifact, prerequisites []string, prereqHash Hash) (bool, error) {
	as := t.addresser(namespace)
	if as == nil {
		return false, foundation.InternalError("unregistered addresser namespace").WithContext("namespace", namespace).Build()
	}

	keys := make([]string, 0, len(prerequisites))
	for _, p := range prerequisites {
		key, ok := t.KeyFor(p)
		if !ok {
			t.logger.Debug("Skipping external prerequisite", logfields.Path(p))
			continue
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	address := namespace + ":" + as.AddressFor(artifact)
	rec := ArtifactRecord{Address: address, Definition: definitionOf(artifact), PrereqHash: NoDependencies}

	t.derivMu.RLock()
	defer t.derivMu.RUnlock()

	if len(keys) == 0 {
		if prereqHash != NoDependencies {
			return false, nil
		}
	} else {
		rehash := NewHasher()
		if err := t.Hashes(ctx, prerequisites, rehash); err != nil {
			return false, err
		}
		if rehash.Sum() != prereqHash {
			t.logger.Info("Version skew. Cannot validate", logfields.Address(address))
			return false, nil
		}
		rec.Prerequisites, rec.PrereqHash = prerequisites, prereqHash
	}
	if err := t.store.SetDerivatives(ctx, rec, keys); err != nil {
		return false, storageError("record derivatives", err)
	}
	artifact.Validate()
	t.logger.Debug("Validated", logfields.Address(address))
	return true, nil
}

// Restore validates artifact from the record of an earlier validation of
// the same address, made by this tracker or an earlier one over the same
// store. It succeeds only when the artifact's definition is unchanged and
// the recorded prerequisites still hash as they did.
func (t *Tracker) Restore(ctx context.Context, namespace string, artifact Artifact) (bool, error) {
	as := t.addresser(namespace)
	if as == nil {
		return false, foundation.InternalError("unregistered addresser namespace").WithContext("namespace", namespace).Build()
	}
	address := namespace + ":" + as.AddressFor(artifact)

	t.derivMu.RLock()
	defer t.derivMu.RUnlock()

	rec, ok, err := t.store.Artifact(ctx, address)
	if err != nil {
		return false, storageError("read artifact", err)
	}
	if !ok || rec.Definition != definitionOf(artifact) {
		return false, nil
	}
	rehash := NewHasher()
	if err := t.Hashes(ctx, rec.Prerequisites, rehash); err != nil {
		return false, err
	}
	if rehash.Sum() != rec.PrereqHash {
		return false, nil
	}
	artifact.Validate()
	t.logger.Debug("Restored", logfields.Address(address))
	return true, nil
}

// Forget drops the stored validation of artifact, for invalidations the
// tracker did not initiate.
func (t *Tracker) Forget(ctx context.Context, namespace string, artifact Artifact) error {
	as := t.addresser(namespace)
	if as == nil {
		return foundation.InternalError("unregistered addresser namespace").WithContext("namespace", namespace).Build()
	}
	if err := t.store.DropArtifact(ctx, namespace+":"+as.AddressFor(artifact)); err != nil {
		return storageError("drop artifact", err)
	}
	return nil
}

// Hashes folds the stored hash of each path into out, in order. Untracked
// and external paths fold as a sentinel distinct from any content.
func (t *Tracker) Hashes(ctx context.Context, paths []string, out *Hasher) error {
	for _, p := range paths {
		key, ok := t.KeyFor(p)
		if !ok {
			out.WithData(noFile)
			continue
		}
		h, found, err := t.store.Hash(ctx, key)
		if err != nil {
			return storageError("read hash", err)
		}
		if !found {
			out.WithData(noFile)
			continue
		}
		out.WithHash(h)
	}
	return nil
}

// Matching returns the tracked keys matched by any of globs, in byte order.
func (t *Tracker) Matching(ctx context.Context, globs []*glob.Pattern) ([]string, error) {
	if len(globs) == 0 {
		return nil, nil
	}
	re, err := glob.Regexp(globs)
	if err != nil {
		return nil, fmt.Errorf("compile globs: %w", err)
	}
	candidates, err := t.store.PathsWithPrefix(ctx, glob.CommonPrefix(globs))
	if err != nil {
		return nil, storageError("scan paths", err)
	}
	out := candidates[:0]
	for _, p := range candidates {
		if re.MatchString(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Sync walks the root and updates every file found, plus every tracked
// path that no longer exists. It seeds the tracker before change
// notifications take over and returns the changed keys.
func (t *Tracker) Sync(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == t.root {
				return err
			}
			t.logger.Warn("Failed to walk path", logfields.Path(p), logfields.Error(err))
			return nil
		}
		if p == t.root {
			return nil
		}
		key, ok := t.KeyFor(p)
		switch {
		case d.IsDir():
			if !ok || t.Ignores(key+"/") {
				return filepath.SkipDir
			}
		case ok && d.Type().IsRegular():
			paths = append(paths, key)
		}
		return nil
	})
	if err != nil {
		return nil, foundation.FileSystemError("walk tracked root").WithCause(err).WithContext("root", t.root).Build()
	}
	known, err := t.store.PathsWithPrefix(ctx, "")
	if err != nil {
		return nil, storageError("scan paths", err)
	}
	walked := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		walked[p] = struct{}{}
	}
	for _, k := range known {
		if _, ok := walked[k]; !ok {
			paths = append(paths, k)
		}
	}
	return t.Update(ctx, paths)
}

// Load reads a tracked file and refreshes its stored hash, returning the
// content and the hash.
func (t *Tracker) Load(ctx context.Context, path string) ([]byte, Hash, error) {
	key, ok := t.KeyFor(path)
	if !ok {
		return nil, Hash{}, foundation.NotFoundError("file is outside the tracked root").WithContext("path", path).Build()
	}
	content, err := os.ReadFile(t.Abs(key))
	if err != nil {
		return nil, Hash{}, foundation.FileSystemError("read file").WithCause(err).WithContext("path", key).Build()
	}
	h := NewHasher().WithData(content).Sum()
	if _, err := t.Update(ctx, []string{key}); err != nil {
		return nil, Hash{}, err
	}
	return content, h, nil
}

// Watch calls listener with the changed keys of each batch that any of globs
// matches. The returned function cancels the watch.
func (t *Tracker) Watch(globs []*glob.Pattern, listener Listener) (cancel func()) {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	t.nextID++
	w := &watch{id: t.nextID, globs: glob.NewSet(globs...), listener: listener}
	t.watches = append(t.watches, w)
	return func() {
		t.watchMu.Lock()
		defer t.watchMu.Unlock()
		t.watches = slices.DeleteFunc(t.watches, func(o *watch) bool { return o.id == w.id })
	}
}

func (t *Tracker) dispatch(ctx context.Context, changed []string) {
	t.watchMu.Lock()
	watches := slices.Clone(t.watches)
	t.watchMu.Unlock()
	for _, w := range watches {
		var hits []string
		for _, p := range changed {
			if w.globs.Matches(p) {
				hits = append(hits, p)
			}
		}
		if len(hits) > 0 {
			w.listener(ctx, hits)
		}
	}
}

// Close closes the underlying store.
func (t *Tracker) Close() error { return t.store.Close() }

func storageError(op string, err error) error {
	return foundation.StorageError("validity store: " + op).WithCause(err).Build()
}
