package board

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/events"
)

// Watcher rebuilds the board whenever anything it shows may have changed.
// It holds one catch-all subscription and tracks the current actor through
// auth-changed and role-changed events.
type Watcher struct {
	ctx       context.Context
	resources Resources
	responses Responses
	opts      Options
	logger    *zap.Logger
	onChange  func(*Board)

	mu    sync.Mutex
	actor model.Actor

	// refreshMu serializes rebuilds so onChange never runs concurrently
	refreshMu sync.Mutex

	unsubscribe func()
}

// NewWatcher subscribes to bus and calls onChange with every rebuilt board.
// Event-driven rebuilds use ctx and stop once it is done. onChange must not
// publish to bus. Call Refresh once to render the initial board.
func NewWatcher(ctx context.Context, bus *events.Bus, resources Resources, responses Responses, actor model.Actor, opts Options, logger *zap.Logger, onChange func(*Board)) *Watcher {
	w := &Watcher{
		ctx:       ctx,
		resources: resources,
		responses: responses,
		opts:      opts,
		logger:    logger,
		onChange:  onChange,
		actor:     actor,
	}
	w.unsubscribe = bus.SubscribeAll(w.handle)
	return w
}

// Actor returns the actor the board is currently built for
func (w *Watcher) Actor() model.Actor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.actor
}

func (w *Watcher) handle(e events.Event) {
	switch e.Name {
	case events.AuthChanged:
		w.mu.Lock()
		w.actor = e.Actor
		w.mu.Unlock()
	case events.RoleChanged:
		w.mu.Lock()
		if e.Actor.ID == w.actor.ID {
			w.actor.Role = e.Actor.Role
		}
		w.mu.Unlock()
	case events.ResourceCreated, events.ResourceUpdated, events.ResponseCreated, events.ResponseUpdated:
	default:
		return
	}

	if w.ctx.Err() != nil {
		return
	}
	if err := w.Refresh(w.ctx); err != nil {
		w.logger.Warn("Board refresh failed", zap.String("event", e.Name), zap.Error(err))
	}
}

// Refresh rebuilds the board now. Concurrent calls run one at a time.
func (w *Watcher) Refresh(ctx context.Context) error {
	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	b, err := Build(ctx, w.resources, w.responses, w.Actor(), w.opts)
	if err != nil {
		return err
	}
	w.onChange(b)
	return nil
}

// Stop unsubscribes from the bus
func (w *Watcher) Stop() {
	w.unsubscribe()
}
