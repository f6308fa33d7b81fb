// Package sqlite provides a kv.Store in a single SQLite file, shared by every
// agent process on the same machine.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/kv"
)

var _ kv.Store = (*Store)(nil)

// Store keeps every logical table in one kv_entries table. SQLite has no
// change feed, so Watch polls.
type Store struct {
	db           *sql.DB
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewStore opens (creating if needed) the database at dbPath
func NewStore(dbPath string, pollInterval time.Duration, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection per process; other processes wait on the busy timeout
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db, pollInterval: pollInterval, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		tbl TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		version INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tbl, key)
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *Store) Get(ctx context.Context, table, key string) (kv.Entry, error) {
	e := kv.Entry{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM kv_entries WHERE tbl = ? AND key = ?`,
		table, key,
	).Scan(&e.Value, &e.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s/%s: %w", table, key, err)
	}
	return e, nil
}

func (s *Store) Put(ctx context.Context, table, key string, value []byte) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO kv_entries (tbl, key, value, version) VALUES (?, ?, ?, 1)
		 ON CONFLICT (tbl, key) DO UPDATE
		 SET value = excluded.value, version = kv_entries.version + 1, updated_at = CURRENT_TIMESTAMP
		 RETURNING version`,
		table, key, value,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("put %s/%s: %w", table, key, err)
	}
	return version, nil
}

func (s *Store) CompareAndSet(ctx context.Context, table, key string, expected int64, value []byte) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if expected == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO kv_entries (tbl, key, value, version) VALUES (?, ?, ?, 1)`,
			table, key, value,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE kv_entries SET value = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
			 WHERE tbl = ? AND key = ? AND version = ?`,
			value, table, key, expected,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("compare-and-set %s/%s: %w", table, key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, kv.ErrVersionMismatch
	}

	return expected + 1, nil
}

// List matches the prefix with instr rather than LIKE so % and _ in keys
// are taken literally
func (s *Store) List(ctx context.Context, table, prefix string) ([]kv.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, version FROM kv_entries
		 WHERE tbl = ? AND instr(key, ?) = 1
		 ORDER BY key`,
		table, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var entries []kv.Entry
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Version); err != nil {
			return nil, fmt.Errorf("scan %s entry: %w", table, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Watch(ctx context.Context, table string) (<-chan kv.Change, error) {
	list := func(ctx context.Context, table string) ([]kv.Entry, error) {
		return s.List(ctx, table, "")
	}
	return kv.Poll(ctx, list, table, s.pollInterval, s.logger), nil
}
