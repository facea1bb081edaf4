package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
)

// Pebble persists state in a PebbleDB directory.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble store at dir.
func OpenPebble(dir string) (*Pebble, error) {
	if dir == "" {
		return nil, errors.New("storage: pebble requires a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(key string) (string, error) {
	val, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	defer func() { _ = closer.Close() }()
	// val is only valid until closer is closed.
	return string(val), nil
}

func (p *Pebble) Set(key, value string) error {
	return p.db.Set([]byte(key), []byte(value), pebble.Sync)
}

func (p *Pebble) Delete(key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
