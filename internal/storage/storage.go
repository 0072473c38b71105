// Package storage persists per-recipient preference documents behind a
// small driver interface. Two drivers exist: a JSON snapshot file
// (default) and SQLite (behind the sqlite build tag).
package storage

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("storage: not found")

// Store is the persistence surface the preference layer talks to. Values
// are opaque JSON documents keyed by recipient ID.
type Store interface {
	PutPreferences(ctx context.Context, recipient int64, data []byte) error
	GetPreferences(ctx context.Context, recipient int64) ([]byte, error)
	ListPreferences(ctx context.Context) (map[int64][]byte, error)
	DeletePreferences(ctx context.Context, recipient int64) error
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	// Driver is "file" or "sqlite". Empty means "file".
	Driver string `json:"driver"`
	// Path is the snapshot file (file driver) or database file (sqlite).
	Path string `json:"path"`
}

// Open constructs the configured driver.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return openFile(cfg.Path)
	case "sqlite":
		return openSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
