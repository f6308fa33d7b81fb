package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/events"
	"github.com/jakechorley/relief-coordination/pkg/kv"
)

// MarkAddressing assigns an open resource to responder. It is a
// compare-and-set on status: if the stored resource is not open when the
// write lands, the call fails with model.ErrConflict and nothing changes.
// Announcing the change is left to the caller, which publishes once its
// whole response has been recorded.
func (r *Registry) MarkAddressing(ctx context.Context, id string, responder model.Actor) (*model.Resource, error) {
	updated, err := r.update(ctx, id, func(res model.Resource) (model.Resource, error) {
		if res.Status != model.StatusOpen {
			return res, fmt.Errorf("%w: %s is %s (assigned to %s)", model.ErrConflict, id, res.Status, res.AssignedTo)
		}
		res.Status = model.StatusAddressing
		res.AssignedTo = responder.ID
		res.AssignedName = responder.DisplayName()
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Resource now being addressed",
		zap.String("id", id),
		zap.String("assigned_to", responder.ID))
	return updated, nil
}

// Close marks a resource closed. Only its author may close it; closing an
// already closed resource is a no-op.
func (r *Registry) Close(ctx context.Context, id string, owner model.Actor) (*model.Resource, error) {
	if !owner.IsAuthenticated() {
		return nil, model.ErrUnauthenticated
	}

	changed := false
	updated, err := r.update(ctx, id, func(res model.Resource) (model.Resource, error) {
		changed = false
		if res.OwnerID != owner.ID {
			return res, fmt.Errorf("%w: %s", model.ErrNotOwner, id)
		}
		if res.Status == model.StatusClosed {
			return res, kv.ErrSkipWrite
		}
		changed = true
		res.Status = model.StatusClosed
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		r.logger.Info("Resource closed", zap.String("id", id), zap.String("owner", owner.ID))
		r.bus.Publish(events.Event{
			Name:     events.ResourceUpdated,
			Kind:     events.KindResource,
			EntityID: id,
			Actor:    owner,
		})
	}
	return updated, nil
}

// update applies mutate to an existing resource under CompareAndSet
func (r *Registry) update(ctx context.Context, id string, mutate func(model.Resource) (model.Resource, error)) (*model.Resource, error) {
	res, err := kv.Update(ctx, r.store, kv.TableResources, id, func(cur model.Resource, exists bool) (model.Resource, error) {
		if !exists {
			return cur, fmt.Errorf("%w: %s", model.ErrNotFound, id)
		}
		return mutate(cur)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
