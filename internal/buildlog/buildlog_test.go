package buildlog

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	file, err := NewSQLiteStore(filepath.Join(t.TempDir(), "buildlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mem.Close()
		_ = file.Close()
	})
	return map[string]Store{"memstore": NewMemStore(), "sqlite-memory": mem, "sqlite-file": file}
}

func TestStoreAppendAndRetrieve(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			now := time.Now()
			require.NoError(t, store.Append(ctx, Entry{BuildID: "b1", Product: "foo", Time: now, Level: slog.LevelInfo, Message: "Starting bake of product"}))
			require.NoError(t, store.Append(ctx, Entry{BuildID: "b2", Product: "bar", Time: now, Level: slog.LevelWarn, Message: "other"}))
			require.NoError(t, store.Append(ctx, Entry{BuildID: "b1", Product: "foo", Time: now, Level: slog.LevelError, Message: "Failed", Attrs: map[string]any{"tool": "cp"}}))

			entries, err := store.Entries(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "Starting bake of product", entries[0].Message)
			assert.Less(t, entries[0].Seq, entries[1].Seq)
			assert.Equal(t, slog.LevelError, entries[1].Level)
			assert.Equal(t, "cp", entries[1].Attrs["tool"])
			assert.WithinDuration(t, now, entries[1].Time, time.Millisecond)

			latest, err := store.Latest(ctx, "foo")
			require.NoError(t, err)
			assert.Equal(t, "b1", latest)
			latest, err = store.Latest(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, latest)
		})
	}
}

func TestStorePrune(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			old := time.Now().Add(-48 * time.Hour)
			require.NoError(t, store.Append(ctx, Entry{BuildID: "old", Product: "foo", Time: old, Message: "x"}))
			require.NoError(t, store.Append(ctx, Entry{BuildID: "new", Product: "foo", Time: time.Now(), Message: "y"}))

			n, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
			entries, err := store.Entries(ctx, "old")
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestHandlerTeesRecords(t *testing.T) {
	store := NewMemStore()
	var process bytes.Buffer
	inner := slog.NewTextHandler(&process, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewHandler(store, inner, "foo", slog.LevelDebug)
	require.NotEmpty(t, h.BuildID())

	logger := h.Logger()
	logger.Debug("Copied", "path", "a.txt")
	logger.With("tool", "cp").WithGroup("proc").Warn("Process failed", "exit_code", 2, "error", errors.New("boom"))

	entries, err := store.Entries(t.Context(), h.BuildID())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Copied", entries[0].Message)
	assert.Equal(t, map[string]any{"path": "a.txt"}, entries[0].Attrs)
	assert.Equal(t, "foo", entries[1].Product)
	assert.Equal(t, "cp", entries[1].Attrs["tool"])
	assert.EqualValues(t, 2, entries[1].Attrs["proc.exit_code"])
	assert.Equal(t, "boom", entries[1].Attrs["proc.error"])

	out := process.String()
	assert.NotContains(t, out, "Copied", "the process handler keeps its own level")
	assert.Contains(t, out, "Process failed")
	assert.Contains(t, out, "build_id="+h.BuildID())
}

func TestHandlersGetDistinctBuildIDs(t *testing.T) {
	store := NewMemStore()
	a := NewHandler(store, nil, "foo", slog.LevelInfo)
	b := NewHandler(store, nil, "foo", slog.LevelInfo)
	assert.NotEqual(t, a.BuildID(), b.BuildID())

	a.Logger().Info("one")
	b.Logger().Info("two")
	b.Logger().Debug("below level")
	latest, err := store.Latest(t.Context(), "foo")
	require.NoError(t, err)
	assert.Equal(t, b.BuildID(), latest)
	entries, _ := store.Entries(t.Context(), b.BuildID())
	assert.Len(t, entries, 1)
}
