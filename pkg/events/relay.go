package events

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/kv"
)

// Relay turns the store's change feed into bus events so that writes made by
// other agents reach local subscribers. It blocks until ctx is done or every
// watch ends. If any watch cannot be started, the ones already running are
// stopped before it returns.
func Relay(ctx context.Context, store kv.Store, bus *Bus, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watched := map[string]func(kv.Change) Event{
		kv.TableResources: func(c kv.Change) Event {
			return Event{Name: ResourceUpdated, Kind: KindResource, EntityID: c.Key, Remote: true}
		},
		kv.TableResponses: func(c kv.Change) Event {
			return Event{Name: ResponseUpdated, Kind: KindResponse, EntityID: strings.TrimPrefix(c.Key, "user:"), Remote: true}
		},
	}

	var wg sync.WaitGroup
	for table, toEvent := range watched {
		changes, err := store.Watch(ctx, table)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to watch %s: %w", table, err)
		}

		logger.Debug("Relaying store changes", zap.String("table", table))

		wg.Add(1)
		go func(table string, changes <-chan kv.Change, toEvent func(kv.Change) Event) {
			defer wg.Done()
			for c := range changes {
				logger.Debug("Store change",
					zap.String("table", table),
					zap.String("key", c.Key),
					zap.Int64("version", c.Version))
				bus.Publish(toEvent(c))
			}
		}(table, changes, toEvent)
	}

	wg.Wait()
	return ctx.Err()
}
