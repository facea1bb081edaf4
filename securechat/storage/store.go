// Package storage keeps client-local key/value state: the token pair and the
// theme preference. Values are plain strings under fixed keys, with no schema
// versioning.
package storage

import (
	"errors"
	"fmt"
)

// Fixed keys of the persisted client state.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTheme        = "theme-mode"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a string key/value store.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverPebble = "pebble"
	DriverSQLite = "sqlite"
)

// Open returns a store for the named driver. path is a directory for pebble
// and a database file for sqlite; it is ignored for memory.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverPebble:
		return OpenPebble(path)
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
