package kv

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ListFunc enumerates a whole table
type ListFunc func(ctx context.Context, table string) ([]Entry, error)

// Poll emulates change notification for backends without a push channel.
// It snapshots key versions every interval and emits a Change for each key
// that is new or whose version moved. The first snapshot is the baseline and
// emits nothing. The channel is closed when ctx is done.
func Poll(ctx context.Context, list ListFunc, table string, interval time.Duration, logger *zap.Logger) <-chan Change {
	out := make(chan Change, watchBuffer)

	go func() {
		defer close(out)

		seen, err := snapshot(ctx, list, table)
		if err != nil {
			logger.Warn("Initial poll failed", zap.String("table", table), zap.Error(err))
			seen = map[string]int64{}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current, err := snapshot(ctx, list, table)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("Poll failed", zap.String("table", table), zap.Error(err))
				continue
			}

			for key, version := range current {
				if seen[key] == version {
					continue
				}
				select {
				case out <- Change{Table: table, Key: key, Version: version}:
				case <-ctx.Done():
					return
				}
			}
			seen = current
		}
	}()

	return out
}

func snapshot(ctx context.Context, list ListFunc, table string) (map[string]int64, error) {
	entries, err := list(ctx, table)
	if err != nil {
		return nil, err
	}
	versions := make(map[string]int64, len(entries))
	for _, e := range entries {
		versions[e.Key] = e.Version
	}
	return versions, nil
}
