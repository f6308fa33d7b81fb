package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/kv"
)

const (
	changeChannel = "kv_changes"
	watchBuffer   = 256
)

type changePayload struct {
	Table   string `json:"table"`
	Key     string `json:"key"`
	Version int64  `json:"version"`
}

// Watch holds one pooled connection in LISTEN mode for the lifetime of ctx
func (db *DB) Watch(ctx context.Context, table string) (<-chan kv.Change, error) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(db.closing, cancel)

	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Release()
		stop()
		cancel()
		return nil, fmt.Errorf("failed to listen on %s: %w", changeChannel, err)
	}

	out := make(chan kv.Change, watchBuffer)

	go func() {
		defer close(out)
		defer cancel()
		defer stop()
		defer conn.Release()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					db.logger.Warn("Listen connection lost", zap.String("table", table), zap.Error(err))
				}
				return
			}

			var p changePayload
			if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
				db.logger.Warn("Malformed change payload", zap.String("payload", n.Payload), zap.Error(err))
				continue
			}
			if p.Table != table {
				continue
			}

			select {
			case out <- kv.Change{Table: p.Table, Key: p.Key, Version: p.Version}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
