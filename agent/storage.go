package agent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Storage is the persistence surface for visitor and session identifiers.
// Implementations mirror the browser's localStorage/cookie split: a primary
// durable store with a secondary fallback when the primary is unavailable.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

var errNotFound = errors.New("agent: key not found")

// MemoryStore is the cookie-equivalent fallback store. It survives for the
// life of the process only.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// FileStore is the primary durable store, one file per key under a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) Get(key string) (string, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *FileStore) Set(key, value string) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(f.path(key), []byte(value), 0o644)
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key)
}

// LayeredStore falls back from the primary store to the secondary on any
// error. Writes go to the first layer that accepts them.
type LayeredStore struct {
	primary  Storage
	fallback Storage
}

func NewLayeredStore(primary, fallback Storage) *LayeredStore {
	return &LayeredStore{primary: primary, fallback: fallback}
}

func (l *LayeredStore) Get(key string) (string, error) {
	if v, err := l.primary.Get(key); err == nil && v != "" {
		return v, nil
	}
	return l.fallback.Get(key)
}

func (l *LayeredStore) Set(key, value string) error {
	if err := l.primary.Set(key, value); err == nil {
		// Mirror into the fallback so a later primary failure still
		// finds the identifier.
		_ = l.fallback.Set(key, value)
		return nil
	}
	return l.fallback.Set(key, value)
}
