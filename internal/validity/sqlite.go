package validity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite, so hashes, derivative edges
// and artifact records survive a restart of the build service.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates a store. Use ":memory:" for a throwaway
// database or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A :memory: database lives in a single connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS file_hashes (
		path TEXT PRIMARY KEY,
		hash BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS derivatives (
		path TEXT NOT NULL,
		address TEXT NOT NULL,
		PRIMARY KEY (path, address)
	);
	CREATE INDEX IF NOT EXISTS idx_derivatives_address ON derivatives(address);
	CREATE TABLE IF NOT EXISTS artifacts (
		address TEXT PRIMARY KEY,
		definition BLOB NOT NULL,
		prereq_hash BLOB NOT NULL,
		prerequisites TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Hash(ctx context.Context, path string) (Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var h Hash
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT hash FROM file_hashes WHERE path = ?", path).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return h, false, nil
	case err != nil:
		return h, false, fmt.Errorf("query hash: %w", err)
	case len(raw) != len(h):
		return h, false, fmt.Errorf("corrupt hash for %s: %d bytes", path, len(raw))
	}
	copy(h[:], raw)
	return h, true, nil
}

func (s *SQLiteStore) ApplyHashes(ctx context.Context, changes []HashChange) error {
	if len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range changes {
			var err error
			if c.Deleted {
				_, err = tx.ExecContext(ctx, "DELETE FROM file_hashes WHERE path = ?", c.Path)
			} else {
				_, err = tx.ExecContext(ctx,
					"INSERT INTO file_hashes (path, hash) VALUES (?, ?) ON CONFLICT(path) DO UPDATE SET hash = excluded.hash",
					c.Path, c.Hash[:],
				)
			}
			if err != nil {
				return fmt.Errorf("store hash for %s: %w", c.Path, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) PathsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT path FROM file_hashes WHERE path >= ? ORDER BY path", prefix)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		if !strings.HasPrefix(p, prefix) {
			break
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetDerivatives(ctx context.Context, rec ArtifactRecord, paths []string) error {
	prereqs, err := json.Marshal(rec.Prerequisites)
	if err != nil {
		return fmt.Errorf("encode prerequisites: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := dropAddress(ctx, tx, rec.Address); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO artifacts (address, definition, prereq_hash, prerequisites) VALUES (?, ?, ?, ?)",
			rec.Address, rec.Definition[:], rec.PrereqHash[:], string(prereqs),
		); err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
		for _, p := range paths {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO derivatives (path, address) VALUES (?, ?)", p, rec.Address,
			); err != nil {
				return fmt.Errorf("insert derivative: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) TakeDerivatives(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range paths {
			addrs, err := queryAddresses(ctx, tx, p)
			if err != nil {
				return err
			}
			for _, a := range addrs {
				if _, ok := seen[a]; !ok {
					seen[a] = struct{}{}
					out = append(out, a)
				}
			}
		}
		for _, a := range out {
			if err := dropAddress(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

func (s *SQLiteStore) Artifact(ctx context.Context, address string) (ArtifactRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := ArtifactRecord{Address: address}
	var def, prereqHash []byte
	var prereqs string
	err := s.db.QueryRowContext(ctx,
		"SELECT definition, prereq_hash, prerequisites FROM artifacts WHERE address = ?", address,
	).Scan(&def, &prereqHash, &prereqs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return rec, false, nil
	case err != nil:
		return rec, false, fmt.Errorf("query artifact: %w", err)
	case len(def) != len(rec.Definition) || len(prereqHash) != len(rec.PrereqHash):
		return rec, false, fmt.Errorf("corrupt artifact record for %s", address)
	}
	copy(rec.Definition[:], def)
	copy(rec.PrereqHash[:], prereqHash)
	if err := json.Unmarshal([]byte(prereqs), &rec.Prerequisites); err != nil {
		return rec, false, fmt.Errorf("decode prerequisites of %s: %w", address, err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) DropArtifact(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error { return dropAddress(ctx, tx, address) })
}

func dropAddress(ctx context.Context, tx *sql.Tx, address string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM derivatives WHERE address = ?", address); err != nil {
		return fmt.Errorf("clear derivatives of %s: %w", address, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM artifacts WHERE address = ?", address); err != nil {
		return fmt.Errorf("clear artifact %s: %w", address, err)
	}
	return nil
}

func (s *SQLiteStore) Derivatives(ctx context.Context, path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryAddresses(ctx, s.db, path)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryAddresses(ctx context.Context, q querier, path string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT address FROM derivatives WHERE path = ? ORDER BY address", path)
	if err != nil {
		return nil, fmt.Errorf("query derivatives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan derivative: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
