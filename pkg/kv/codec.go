package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// maxUpdateAttempts bounds the read-modify-CAS loop in Update
const maxUpdateAttempts = 16

// ErrSkipWrite can be returned by an Update mutator to leave the stored
// value untouched
var ErrSkipWrite = errors.New("skip write")

// GetJSON reads and decodes a value. The returned version is 0 when the key
// does not exist, in which case the zero T is returned without error.
func GetJSON[T any](ctx context.Context, s Store, table, key string) (T, int64, error) {
	var out T
	entry, err := s.Get(ctx, table, key)
	if errors.Is(err, ErrNotFound) {
		return out, 0, nil
	}
	if err != nil {
		return out, 0, err
	}
	if err := json.Unmarshal(entry.Value, &out); err != nil {
		return out, 0, fmt.Errorf("failed to decode %s/%s: %w", table, key, err)
	}
	return out, entry.Version, nil
}

// ListJSON decodes every entry under prefix
func ListJSON[T any](ctx context.Context, s Store, table, prefix string) ([]T, error) {
	entries, err := s.List(ctx, table, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", table, e.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// CreateJSON writes a value that must not already exist
func CreateJSON[T any](ctx context.Context, s Store, table, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, key, err)
	}
	_, err = s.CompareAndSet(ctx, table, key, 0, data)
	return err
}

// PutJSON writes a value unconditionally
func PutJSON[T any](ctx context.Context, s Store, table, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, key, err)
	}
	_, err = s.Put(ctx, table, key, data)
	return err
}

// Update runs a read-modify-write cycle guarded by CompareAndSet, re-reading
// and re-running mutate whenever another writer got in first. mutate sees
// exists=false for a missing key. Returning ErrSkipWrite from mutate ends the
// cycle without writing; any other error aborts it.
func Update[T any](ctx context.Context, s Store, table, key string, mutate func(cur T, exists bool) (T, error)) (T, error) {
	var zero T
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, version, err := GetJSON[T](ctx, s, table, key)
		if err != nil {
			return zero, err
		}

		next, err := mutate(cur, version > 0)
		if errors.Is(err, ErrSkipWrite) {
			return cur, nil
		}
		if err != nil {
			return zero, err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return zero, fmt.Errorf("failed to encode %s/%s: %w", table, key, err)
		}

		_, err = s.CompareAndSet(ctx, table, key, version, data)
		if errors.Is(err, ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return zero, err
		}
		return next, nil
	}
	return zero, fmt.Errorf("update of %s/%s kept losing to concurrent writers: %w", table, key, ErrVersionMismatch)
}
