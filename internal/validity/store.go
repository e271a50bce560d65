package validity

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
)

// HashChange is one entry of a hash store batch. A Deleted change removes
// the path's hash.
type HashChange struct {
	Path    string
	Hash    Hash
	Deleted bool
}

// ArtifactRecord is what one successful validation established about an
// artifact, kept so a later process can restore the artifact's validity
// without rebuilding it.
type ArtifactRecord struct {
	Address string
	// Definition identifies the artifact's own definition at validation
	// time. Zero for artifacts that do not implement Definer.
	Definition Hash
	// Prerequisites in the order they were folded into PrereqHash.
	Prerequisites []string
	PrereqHash    Hash
}

// Store persists file hashes, the derivative index, which maps a
// prerequisite path to the addresses of artifacts validated against it, and
// one ArtifactRecord per validated address. Batch operations apply fully or
// not at all.
type Store interface {
	// Hash looks up the stored hash for path.
	Hash(ctx context.Context, path string) (Hash, bool, error)

	// ApplyHashes stores, replaces, or deletes hashes in one batch.
	ApplyHashes(ctx context.Context, changes []HashChange) error

	// PathsWithPrefix returns every hashed path that starts with prefix, in
	// byte order.
	PathsWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// SetDerivatives stores rec and indexes rec.Address under exactly the
	// given paths, replacing the record and edges of an earlier validation.
	SetDerivatives(ctx context.Context, rec ArtifactRecord, paths []string) error

	// TakeDerivatives removes and returns the distinct addresses indexed
	// under any of paths, dropping their records and remaining edges.
	TakeDerivatives(ctx context.Context, paths []string) ([]string, error)

	// Derivatives lists the addresses indexed under path.
	Derivatives(ctx context.Context, path string) ([]string, error)

	// Artifact looks up the record of address.
	Artifact(ctx context.Context, address string) (ArtifactRecord, bool, error)

	// DropArtifact removes the record and edges of address.
	DropArtifact(ctx context.Context, address string) error

	// Close releases resources.
	Close() error
}

// MemStore is an in-process Store. Its state does not survive a restart.
type MemStore struct {
	mu          sync.RWMutex
	hashes      map[string]Hash
	derivatives map[string]map[string]struct{}
	byAddress   map[string]map[string]struct{}
	artifacts   map[string]ArtifactRecord
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		hashes:      make(map[string]Hash),
		derivatives: make(map[string]map[string]struct{}),
		byAddress:   make(map[string]map[string]struct{}),
		artifacts:   make(map[string]ArtifactRecord),
	}
}

func link(m map[string]map[string]struct{}, k, v string) {
	set, ok := m[k]
	if !ok {
		set = make(map[string]struct{})
		m[k] = set
	}
	set[v] = struct{}{}
}

func unlink(m map[string]map[string]struct{}, k, v string) {
	if set, ok := m[k]; ok {
		delete(set, v)
		if len(set) == 0 {
			delete(m, k)
		}
	}
}

func (s *MemStore) Hash(_ context.Context, path string) (Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[path]
	return h, ok, nil
}

func (s *MemStore) ApplyHashes(_ context.Context, changes []HashChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		if c.Deleted {
			delete(s.hashes, c.Path)
		} else {
			s.hashes[c.Path] = c.Hash
		}
	}
	return nil
}

func (s *MemStore) PathsWithPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for p := range s.hashes {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) SetDerivatives(_ context.Context, rec ArtifactRecord, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop(rec.Address)
	rec.Prerequisites = slices.Clone(rec.Prerequisites)
	s.artifacts[rec.Address] = rec
	for _, p := range paths {
		link(s.derivatives, p, rec.Address)
		link(s.byAddress, rec.Address, p)
	}
	return nil
}

// drop removes the record and edges of address. Callers hold s.mu.
func (s *MemStore) drop(address string) {
	for p := range s.byAddress[address] {
		unlink(s.derivatives, p, address)
	}
	delete(s.byAddress, address)
	delete(s.artifacts, address)
}

func (s *MemStore) TakeDerivatives(_ context.Context, paths []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, p := range paths {
		for addr := range s.derivatives[p] {
			seen[addr] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for addr := range seen {
		s.drop(addr)
		out = append(out, addr)
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemStore) Derivatives(_ context.Context, path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.derivatives[path]))
	for addr := range s.derivatives[path] {
		out = append(out, addr)
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemStore) Artifact(_ context.Context, address string) (ArtifactRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.artifacts[address]
	rec.Prerequisites = slices.Clone(rec.Prerequisites)
	return rec, ok, nil
}

func (s *MemStore) DropArtifact(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop(address)
	return nil
}

func (s *MemStore) Close() error { return nil }
