//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	recipient INTEGER PRIMARY KEY,
	doc       BLOB NOT NULL,
	updated   INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
`

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) PutPreferences(ctx context.Context, recipient int64, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (recipient, doc, updated)
		VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(recipient) DO UPDATE SET
			doc = excluded.doc,
			updated = excluded.updated`,
		recipient, data)
	return err
}

func (s *sqliteStore) GetPreferences(ctx context.Context, recipient int64) ([]byte, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM preferences WHERE recipient = ?`, recipient).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *sqliteStore) ListPreferences(ctx context.Context) (map[int64][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT recipient, doc FROM preferences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64][]byte{}
	for rows.Next() {
		var id int64
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeletePreferences(ctx context.Context, recipient int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE recipient = ?`, recipient)
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }
