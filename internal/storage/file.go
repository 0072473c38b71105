package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// fileStore is a dependency-free persistence backend. The whole
// preference set is held in memory and written through as one JSON
// snapshot, atomically via temp file + rename.
type fileStore struct {
	mu   sync.Mutex
	path string
	docs map[int64]json.RawMessage
}

func openFile(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{path: path, docs: map[int64]json.RawMessage{}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run.
	case err != nil:
		return nil, err
	default:
		raw := map[string]json.RawMessage{}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				continue
			}
			s.docs[id] = v
		}
	}
	return s, nil
}

func (s *fileStore) flushLocked() error {
	raw := make(map[string]json.RawMessage, len(s.docs))
	for id, v := range s.docs {
		raw[strconv.FormatInt(id, 10)] = v
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) PutPreferences(ctx context.Context, recipient int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[recipient] = append(json.RawMessage(nil), data...)
	return s.flushLocked()
}

func (s *fileStore) GetPreferences(ctx context.Context, recipient int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.docs[recipient]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *fileStore) ListPreferences(ctx context.Context) (map[int64][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64][]byte, len(s.docs))
	for id, v := range s.docs {
		out[id] = append([]byte(nil), v...)
	}
	return out, nil
}

func (s *fileStore) DeletePreferences(ctx context.Context, recipient int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[recipient]; !ok {
		return nil
	}
	delete(s.docs, recipient)
	return s.flushLocked()
}

func (s *fileStore) Close() error { return nil }
