// Package buildlog keeps an append-only log per bake invocation, separate
// from the process-wide logger, so the output of one build can be replayed
// after the fact.
package buildlog

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Entry is one record of a build log.
type Entry struct {
	Seq     int64
	BuildID string
	Product string
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Store persists build log entries.
type Store interface {
	// Append adds an entry. Seq is assigned by the store.
	Append(ctx context.Context, e Entry) error

	// Entries returns a build's entries in append order.
	Entries(ctx context.Context, buildID string) ([]Entry, error)

	// Latest returns the ID of the most recent build of product, or "" if
	// there is none.
	Latest(ctx context.Context, product string) (string, error)

	// Prune deletes entries older than before and returns how many it removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases resources.
	Close() error
}

// MemStore is an in-process Store.
type MemStore struct {
	mu      sync.RWMutex
	entries []Entry
	seq     int64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.Seq = s.seq
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemStore) Entries(_ context.Context, buildID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.BuildID == buildID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) Latest(_ context.Context, product string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range slices.Backward(s.entries) {
		if e.Product == product {
			return e.BuildID, nil
		}
	}
	return "", nil
}

func (s *MemStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e Entry) bool { return e.Time.Before(before) })
	return int64(n - len(s.entries)), nil
}

func (s *MemStore) Close() error { return nil }
