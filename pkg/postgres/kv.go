package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/relief-coordination/pkg/kv"
)

var _ kv.Store = (*DB)(nil)

func (db *DB) Get(ctx context.Context, table, key string) (kv.Entry, error) {
	e := kv.Entry{Key: key}
	err := db.pool.QueryRow(ctx, `
		SELECT value, version FROM kv_entries WHERE tbl = $1 AND key = $2
	`, table, key).Scan(&e.Value, &e.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("failed to get %s/%s: %w", table, key, err)
	}
	return e, nil
}

func (db *DB) Put(ctx context.Context, table, key string, value []byte) (int64, error) {
	var version int64
	err := db.pool.QueryRow(ctx, `
		INSERT INTO kv_entries (tbl, key, value, version)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tbl, key) DO UPDATE
		SET value = EXCLUDED.value, version = kv_entries.version + 1, updated_at = NOW()
		RETURNING version
	`, table, key, value).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to put %s/%s: %w", table, key, err)
	}
	return version, nil
}

func (db *DB) CompareAndSet(ctx context.Context, table, key string, expected int64, value []byte) (int64, error) {
	var row pgx.Row
	if expected == 0 {
		row = db.pool.QueryRow(ctx, `
			INSERT INTO kv_entries (tbl, key, value, version)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (tbl, key) DO NOTHING
			RETURNING version
		`, table, key, value)
	} else {
		row = db.pool.QueryRow(ctx, `
			UPDATE kv_entries
			SET value = $3, version = version + 1, updated_at = NOW()
			WHERE tbl = $1 AND key = $2 AND version = $4
			RETURNING version
		`, table, key, value, expected)
	}

	var version int64
	err := row.Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, kv.ErrVersionMismatch
	}
	if err != nil {
		return 0, fmt.Errorf("failed to compare-and-set %s/%s: %w", table, key, err)
	}
	return version, nil
}

// List orders keys bytewise so every backend agrees on iteration order
func (db *DB) List(ctx context.Context, table, prefix string) ([]kv.Entry, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT key, value, version
		FROM kv_entries
		WHERE tbl = $1 AND starts_with(key, $2)
		ORDER BY key COLLATE "C"
	`, table, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var entries []kv.Entry
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Version); err != nil {
			return nil, fmt.Errorf("failed to scan %s entry: %w", table, err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}

	return entries, nil
}
