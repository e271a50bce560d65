package buildlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based build log.
// Use ":memory:" for in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
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
	CREATE TABLE IF NOT EXISTS build_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		product TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		level INTEGER NOT NULL,
		message TEXT NOT NULL,
		attrs TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_build_log_build_id ON build_log(build_id);
	CREATE INDEX IF NOT EXISTS idx_build_log_product ON build_log(product);
	CREATE INDEX IF NOT EXISTS idx_build_log_timestamp ON build_log(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a new entry to the store.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var attrsJSON []byte
	if len(e.Attrs) > 0 {
		var err error
		attrsJSON, err = json.Marshal(e.Attrs)
		if err != nil {
			return fmt.Errorf("marshal attrs: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO build_log (build_id, product, timestamp, level, message, attrs) VALUES (?, ?, ?, ?, ?, ?)",
		e.BuildID, e.Product, e.Time.UnixNano(), int(e.Level), e.Message, attrsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Entries retrieves all entries for a specific build.
func (s *SQLiteStore) Entries(ctx context.Context, buildID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, product, timestamp, level, message, attrs FROM build_log WHERE build_id = ? ORDER BY id",
		buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			nanos     int64
			level     int
			attrsJSON []byte
		)
		if err := rows.Scan(&e.Seq, &e.BuildID, &e.Product, &nanos, &level, &e.Message, &attrsJSON); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Time = time.Unix(0, nanos)
		e.Level = slog.Level(level)
		if len(attrsJSON) > 0 {
			if err := json.Unmarshal(attrsJSON, &e.Attrs); err != nil {
				return nil, fmt.Errorf("unmarshal attrs: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}

// Latest returns the most recent build ID logged for product.
func (s *SQLiteStore) Latest(ctx context.Context, product string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT build_id FROM build_log WHERE product = ? ORDER BY id DESC LIMIT 1", product,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest build: %w", err)
	}
	return id, nil
}

// Prune deletes entries logged before the given time.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM build_log WHERE timestamp < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
