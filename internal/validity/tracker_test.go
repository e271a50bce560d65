package validity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/prebake/internal/glob"
)

type testArtifact struct {
	mu    sync.Mutex
	name  string
	def   Hash
	valid bool
}

func (a *testArtifact) Definition() Hash { return a.def }

func (a *testArtifact) Invalidate() { a.mu.Lock(); a.valid = false; a.mu.Unlock() }
func (a *testArtifact) Validate()   { a.mu.Lock(); a.valid = true; a.mu.Unlock() }
func (a *testArtifact) isValid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.valid
}

type testAddresser struct {
	mu   sync.Mutex
	byID map[string]*testArtifact
}

func newTestAddresser(arts ...*testArtifact) *testAddresser {
	as := &testAddresser{byID: map[string]*testArtifact{}}
	for _, a := range arts {
		as.byID[a.name] = a
	}
	return as
}

func (as *testAddresser) AddressFor(a Artifact) string { return a.(*testArtifact).name }

func (as *testAddresser) Lookup(id string) Artifact {
	as.mu.Lock()
	defer as.mu.Unlock()
	if a, ok := as.byID[id]; ok {
		return a
	}
	return nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func newTracker(t *testing.T, opts ...Option) (*Tracker, string) {
	t.Helper()
	root := t.TempDir()
	tr, err := NewTracker(root, NewMemStore(), opts...)
	require.NoError(t, err)
	return tr, tr.Root()
}

func snapshot(t *testing.T, tr *Tracker, paths ...string) Hash {
	t.Helper()
	h := NewHasher()
	require.NoError(t, tr.Hashes(t.Context(), paths, h))
	return h.Sum()
}

func TestTrackerInvalidatesOnChange(t *testing.T) {
	tr, root := newTracker(t)
	ctx := t.Context()
	art := &testArtifact{name: "foo"}
	require.NoError(t, tr.Register("product", newTestAddresser(art)))

	writeFile(t, root, "src/a.txt", "a")
	writeFile(t, root, "src/b.txt", "b")
	changed, err := tr.Update(ctx, []string{"src/a.txt", filepath.Join(root, "src", "b.txt")})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.txt", "src/b.txt"}, changed)

	prereqs := []string{"src/a.txt", "src/b.txt"}
	ok, err := tr.UpdateArtifact(ctx, "product", art, prereqs, snapshot(t, tr, prereqs...))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, art.isValid())

	deriv, err := tr.store.Derivatives(ctx, "src/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"product:foo"}, deriv)

	// Rewriting identical content is not a change.
	writeFile(t, root, "src/a.txt", "a")
	changed, err = tr.Update(ctx, []string{"src/a.txt"})
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.True(t, art.isValid())

	writeFile(t, root, "src/a.txt", "A")
	changed, err = tr.Update(ctx, []string{"src/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.txt"}, changed)
	assert.False(t, art.isValid())

	deriv, err = tr.store.Derivatives(ctx, "src/a.txt")
	require.NoError(t, err)
	assert.Empty(t, deriv, "invalidation removes the edges it followed")
}

func TestTrackerRejectsVersionSkew(t *testing.T) {
	tr, root := newTracker(t)
	ctx := t.Context()
	art := &testArtifact{name: "foo"}
	require.NoError(t, tr.Register("product", newTestAddresser(art)))

	writeFile(t, root, "in.txt", "1")
	_, err := tr.Update(ctx, []string{"in.txt"})
	require.NoError(t, err)
	stale := snapshot(t, tr, "in.txt")

	writeFile(t, root, "in.txt", "2")
	_, err = tr.Update(ctx, []string{"in.txt"})
	require.NoError(t, err)

	ok, err := tr.UpdateArtifact(ctx, "product", art, []string{"in.txt"}, stale)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, art.isValid())
	deriv, _ := tr.store.Derivatives(ctx, "in.txt")
	assert.Empty(t, deriv, "a rejected validation records nothing")
}

func TestTrackerNoDependencies(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := t.Context()
	art := &testArtifact{name: "empty"}
	require.NoError(t, tr.Register("product", newTestAddresser(art)))

	ok, err := tr.UpdateArtifact(ctx, "product", art, nil, NewHasher().WithString("x").Sum())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.UpdateArtifact(ctx, "product", art, []string{"/somewhere/else"}, NoDependencies)
	require.NoError(t, err)
	assert.True(t, ok, "external prerequisites do not count")
	assert.True(t, art.isValid())
}

func TestTrackerDeletedFile(t *testing.T) {
	tr, root := newTracker(t)
	ctx := t.Context()
	art := &testArtifact{name: "foo"}
	require.NoError(t, tr.Register("product", newTestAddresser(art)))

	writeFile(t, root, "gone.txt", "")
	_, err := tr.Update(ctx, []string{"gone.txt"})
	require.NoError(t, err)
	present := snapshot(t, tr, "gone.txt")
	ok, err := tr.UpdateArtifact(ctx, "product", art, []string{"gone.txt"}, present)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))
	changed, err := tr.Update(ctx, []string{"gone.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.txt"}, changed)
	assert.False(t, art.isValid())
	assert.NotEqual(t, present, snapshot(t, tr, "gone.txt"), "an empty file and a missing one hash differently")

	// Deleting an untracked file is not a change.
	changed, err = tr.Update(ctx, []string{"never.txt"})
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestTrackerKeys(t *testing.T) {
	tr, root := newTracker(t, WithIgnore(func(rel string) bool { return strings.HasPrefix(rel, ".prebake/") }))

	key, ok := tr.KeyFor(filepath.Join(root, "a", "b.txt"))
	assert.True(t, ok)
	assert.Equal(t, "a/b.txt", key)

	_, ok = tr.KeyFor(filepath.Join(root, "..", "outside.txt"))
	assert.False(t, ok)
	_, ok = tr.KeyFor(root)
	assert.False(t, ok)
	_, ok = tr.KeyFor(".prebake/archive/x")
	assert.False(t, ok)

	writeFile(t, root, ".prebake/archive/x", "x")
	changed, err := tr.Update(t.Context(), []string{".prebake/archive/x"})
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestTrackerMatching(t *testing.T) {
	tr, root := newTracker(t)
	ctx := t.Context()
	for _, p := range []string{"src/b.c", "src/a.c", "src/x/y.c", "src/a.h", "lib/a.c"} {
		writeFile(t, root, p, p)
	}
	_, err := tr.Update(ctx, []string{"src/b.c", "src/a.c", "src/x/y.c", "src/a.h", "lib/a.c"})
	require.NoError(t, err)

	globs, err := glob.ParseAll("src/**.c")
	require.NoError(t, err)
	got, err := tr.Matching(ctx, globs)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.c", "src/b.c", "src/x/y.c"}, got)

	globs, err = glob.ParseAll("**/a.c", "**/a.h")
	require.NoError(t, err)
	got, err = tr.Matching(ctx, globs)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/a.c", "src/a.c", "src/a.h"}, got)
}

func TestTrackerWatch(t *testing.T) {
	tr, root := newTracker(t)
	ctx := t.Context()
	var calls [][]string
	cancel := tr.Watch([]*glob.Pattern{glob.MustParse("tools/*.sh")}, func(_ context.Context, changed []string) {
		calls = append(calls, changed)
	})

	writeFile(t, root, "tools/cp.sh", "cp")
	writeFile(t, root, "src/a.c", "a")
	_, err := tr.Update(ctx, []string{"tools/cp.sh", "src/a.c"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"tools/cp.sh"}}, calls)

	cancel()
	writeFile(t, root, "tools/cp.sh", "cp -r")
	_, err = tr.Update(ctx, []string{"tools/cp.sh"})
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestTrackerLoad(t *testing.T) {
	tr, root := newTracker(t)
	writeFile(t, root, "Bakefile.yaml", "products: {}\n")
	content, h, err := tr.Load(t.Context(), "Bakefile.yaml")
	require.NoError(t, err)
	assert.Equal(t, "products: {}\n", string(content))
	stored, ok, err := tr.store.Hash(t.Context(), "Bakefile.yaml")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, h, stored)
}

func TestTrackerRegister(t *testing.T) {
	tr, _ := newTracker(t)
	as := newTestAddresser()
	assert.Error(t, tr.Register("a:b", as))
	assert.Error(t, tr.Register("", as))
	assert.NoError(t, tr.Register("product", as))
	assert.Error(t, tr.Register("product", as))

	_, err := tr.UpdateArtifact(t.Context(), "unknown", &testArtifact{}, nil, NoDependencies)
	assert.Error(t, err)
}

func TestTrackerConcurrentValidation(t *testing.T) {
	tr, root := newTracker(t)
	ctx := t.Context()
	as := newTestAddresser()
	require.NoError(t, tr.Register("product", as))
	writeFile(t, root, "shared.txt", "v1")
	_, err := tr.Update(ctx, []string{"shared.txt"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	arts := make([]*testArtifact, 8)
	for i := range arts {
		arts[i] = &testArtifact{name: string(rune('a' + i))}
		as.mu.Lock()
		as.byID[arts[i].name] = arts[i]
		as.mu.Unlock()
	}
	h := snapshot(t, tr, "shared.txt")
	for _, a := range arts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := tr.UpdateArtifact(ctx, "product", a, []string{"shared.txt"}, h)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	writeFile(t, root, "shared.txt", "v2")
	_, err = tr.Update(ctx, []string{"shared.txt"})
	require.NoError(t, err)
	for _, a := range arts {
		assert.False(t, a.isValid(), a.name)
	}
}

func TestTrackerSync(t *testing.T) {
	tr, root := newTracker(t, WithIgnore(func(rel string) bool { return strings.HasPrefix(rel, ".prebake/") }))
	ctx := t.Context()
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "dir/b.txt", "b")
	writeFile(t, root, ".prebake/archive/old.txt", "x")

	changed, err := tr.Sync(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "dir/b.txt"}, changed)

	changed, err = tr.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, changed, "nothing changed since the last sync")

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	changed, err = tr.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, changed)
}

func TestTrackerRemovedDirectory(t *testing.T) {
	tr, root := newTracker(t)
	ctx := t.Context()
	art := &testArtifact{name: "foo"}
	require.NoError(t, tr.Register("product", newTestAddresser(art)))
	writeFile(t, root, "dir/sub/a.txt", "a")
	writeFile(t, root, "dir/b.txt", "b")
	writeFile(t, root, "dirt.txt", "c")
	_, err := tr.Sync(ctx)
	require.NoError(t, err)

	prereqs := []string{"dir/sub/a.txt"}
	ok, err := tr.UpdateArtifact(ctx, "product", art, prereqs, snapshot(t, tr, prereqs...))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "dir")))
	changed, err := tr.Update(ctx, []string{"dir"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dir/b.txt", "dir/sub/a.txt"}, changed)
	assert.False(t, art.isValid())
}

func TestTrackerRestore(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	ctx := t.Context()
	def := NewHasher().WithString("cp src out").Sum()
	writeFile(t, root, "src/a.txt", "a")

	open := func() (*Tracker, *testArtifact) {
		store, err := NewSQLiteStore(dbPath)
		require.NoError(t, err)
		tr, err := NewTracker(root, store)
		require.NoError(t, err)
		art := &testArtifact{name: "foo", def: def}
		require.NoError(t, tr.Register("product", newTestAddresser(art)))
		_, err = tr.Sync(ctx)
		require.NoError(t, err)
		return tr, art
	}

	tr, art := open()
	prereqs := []string{"src/a.txt", "/outside/tool"}
	ok, err := tr.UpdateArtifact(ctx, "product", art, prereqs, snapshot(t, tr, prereqs...))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tr.Close())

	// A later process picks the validation up.
	tr, art = open()
	ok, err = tr.Restore(ctx, "product", art)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, art.isValid())

	other := &testArtifact{name: "foo", def: NewHasher().WithString("cp src elsewhere").Sum()}
	ok, err = tr.Restore(ctx, "product", other)
	require.NoError(t, err)
	assert.False(t, ok, "a changed definition is not restored")
	require.NoError(t, tr.Close())

	// Edits made while no process was watching are found by Sync.
	writeFile(t, root, "src/a.txt", "A")
	tr, art = open()
	ok, err = tr.Restore(ctx, "product", art)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, art.isValid())

	ok, err = tr.UpdateArtifact(ctx, "product", art, prereqs, snapshot(t, tr, prereqs...))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tr.Forget(ctx, "product", art))
	ok, err = tr.Restore(ctx, "product", art)
	require.NoError(t, err)
	assert.False(t, ok, "a forgotten validation is gone")
	require.NoError(t, tr.Close())
}
