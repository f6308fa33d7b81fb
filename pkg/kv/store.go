// Package kv defines the shared key-value store the coordination engine runs
// on, plus an in-memory implementation and helpers for versioned updates.
package kv

import (
	"context"
	"errors"
)

// Logical tables used by the engine
const (
	TableResources     = "resources"
	TableResponses     = "responses"
	TableNotifications = "notifications"
	TableResponders    = "responders"
	TableMeta          = "meta"
)

var (
	ErrNotFound        = errors.New("key not found")
	ErrVersionMismatch = errors.New("version mismatch")
)

// Entry is a stored value and the version it was written at.
// Versions start at 1 and increase by one on every write of the key.
type Entry struct {
	Key     string
	Value   []byte
	Version int64
}

// Change is delivered to watchers whenever a key under a table is written,
// including writes made by the watcher's own process.
type Change struct {
	Table   string
	Key     string
	Version int64
}

// Store is a table-scoped key-value store with a single conditional write.
type Store interface {
	Get(ctx context.Context, table, key string) (Entry, error)
	// Put writes unconditionally and returns the new version
	Put(ctx context.Context, table, key string, value []byte) (int64, error)
	// CompareAndSet writes only if the stored version equals expected.
	// expected == 0 means the key must not exist yet.
	CompareAndSet(ctx context.Context, table, key string, expected int64, value []byte) (int64, error)
	// List returns entries whose key starts with prefix, ordered by key
	List(ctx context.Context, table, prefix string) ([]Entry, error)
	// Watch streams changes to a table until ctx is cancelled
	Watch(ctx context.Context, table string) (<-chan Change, error)
	Close() error
}

// UserKey is the per-user namespace key used by the responses and
// notifications tables
func UserKey(userID string) string {
	return "user:" + userID
}
