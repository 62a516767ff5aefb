package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS checkpoints (
    name       TEXT PRIMARY KEY,
    value      INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore keeps one checkpoint row per stream name.
type SQLiteStore struct {
	db   *sql.DB
	path string
	name string
}

func OpenSQLiteStore(ctx context.Context, path string, name string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)

	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	return &SQLiteStore{db: db, path: path, name: name}, nil
}

func (s *SQLiteStore) String() string {
	return fmt.Sprintf("sqlite://%s#%s", s.path, s.name)
}

func (s *SQLiteStore) Exists(ctx context.Context) (bool, error) {
	_, err := s.Read(ctx)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *SQLiteStore) Read(ctx context.Context) (int64, error) {
	var v int64

	err := s.db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE name = ?`, s.name).Scan(&v)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}

	return v, err
}

func (s *SQLiteStore) Write(ctx context.Context, value int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO checkpoints (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.name,
		value,
	)

	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
