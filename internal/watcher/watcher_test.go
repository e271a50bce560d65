package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batches struct {
	mu  sync.Mutex
	got [][]string
	ch  chan struct{}
}

func newBatches() *batches { return &batches{ch: make(chan struct{}, 16)} }

func (b *batches) handle(_ context.Context, paths []string) {
	b.mu.Lock()
	b.got = append(b.got, paths)
	b.mu.Unlock()
	b.ch <- struct{}{}
}

func (b *batches) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, g := range b.got {
		out = append(out, g...)
	}
	return out
}

// waitFor blocks until some delivered batch contains path.
func (b *batches) waitFor(t *testing.T, path string) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		if slices.Contains(b.all(), path) {
			return
		}
		select {
		case <-b.ch:
		case <-deadline:
			t.Fatalf("no batch contained %s; got %v", path, b.all())
		}
	}
}

func startWatcher(t *testing.T, opts ...Option) (*Watcher, *batches) {
	t.Helper()
	b := newBatches()
	w, err := New(t.TempDir(), b.handle, append([]Option{WithDebounce(20 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, b
}

func TestWatcherDeliversChanges(t *testing.T) {
	w, b := startWatcher(t)
	p := filepath.Join(w.Root(), "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("a"), 0o600))
	b.waitFor(t, p)

	require.NoError(t, os.Remove(p))
	b.mu.Lock()
	b.got = nil
	b.mu.Unlock()
	b.waitFor(t, p)
}

func TestWatcherNewDirectories(t *testing.T) {
	w, b := startWatcher(t)
	dir := filepath.Join(w.Root(), "new", "deep")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	b.waitFor(t, filepath.Join(w.Root(), "new"))

	p := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	b.waitFor(t, p)
}

func TestWatcherIgnore(t *testing.T) {
	w, b := startWatcher(t, WithIgnore(func(rel string) bool { return strings.HasPrefix(rel, ".prebake/") }))
	require.NoError(t, os.MkdirAll(filepath.Join(w.Root(), ".prebake", "archive"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(w.Root(), ".prebake", "archive", "x"), []byte("x"), 0o600))
	marker := filepath.Join(w.Root(), "marker")
	require.NoError(t, os.WriteFile(marker, []byte("m"), 0o600))
	b.waitFor(t, marker)
	for _, p := range b.all() {
		assert.NotContains(t, p, ".prebake")
	}
}

func TestWatcherCoalescesBursts(t *testing.T) {
	b := newBatches()
	w, err := New(t.TempDir(), b.handle, WithDebounce(time.Hour))
	require.NoError(t, err)
	for i := range 5 {
		w.enqueue([]string{filepath.Join(w.Root(), "f"), filepath.Join(w.Root(), string(rune('a'+i)))})
	}
	w.Flush()
	require.Len(t, b.got, 1)
	assert.Len(t, b.got[0], 6)
	assert.True(t, slices.IsSorted(b.got[0]))

	w.Flush()
	assert.Len(t, b.got, 1, "nothing pending")
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop(), "stop is idempotent")
}

func TestWatcherDeliversOneBatchAtATime(t *testing.T) {
	var (
		active, peak atomic.Int32
		delivered    atomic.Int32
	)
	handler := func(context.Context, []string) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		delivered.Add(1)
	}
	w, err := New(t.TempDir(), handler, WithDebounce(time.Millisecond), WithMaxDelay(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 10 {
				w.enqueue([]string{filepath.Join(w.Root(), string(rune('a'+i)), string(rune('a'+j)))})
				w.Flush()
			}
		}()
	}
	wg.Wait()
	w.Flush()

	assert.Positive(t, delivered.Load())
	assert.Equal(t, int32(1), peak.Load(), "handler ran concurrently")
}
