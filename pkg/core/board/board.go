// Package board computes the per-actor dashboard over the registry and the
// coordinator, and keeps it fresh as events arrive.
package board

import (
	"context"
	"fmt"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/registry"
)

// Resources is the registry view the board reads
type Resources interface {
	List(ctx context.Context, f registry.Filter) ([]model.Resource, error)
}

// Responses is the coordinator view the board reads
type Responses interface {
	ResponsesFor(ctx context.Context, userID string) ([]model.Response, error)
	IsAlreadyAddressed(ctx context.Context, resourceID string) (bool, error)
}

// Card is one resource as seen by one actor
type Card struct {
	Resource model.Resource
	// CanInteract is true when the actor's role may respond to this resource
	CanInteract bool
	// HasResponded is true when the actor has a response for it
	HasResponded bool
	// AlreadyAddressed is true when anyone has responded to it
	AlreadyAddressed bool
}

// Board is the dashboard for one actor
type Board struct {
	Actor model.Actor
	// Available lists open or in-progress resources of the type the actor
	// can act on
	Available []Card
	// Mine lists resources the actor posted
	Mine []Card
	// Responses is the actor's own response history, newest first
	Responses []model.Response
}

// Options bound the size of each board section; zero means unbounded
type Options struct {
	AvailableLimit int
	MineLimit      int
}

// Build computes the board for actor. Unauthenticated actors get an empty
// board rather than an error, like a signed-out dashboard.
func Build(ctx context.Context, resources Resources, responses Responses, actor model.Actor, opts Options) (*Board, error) {
	b := &Board{Actor: actor}
	if !actor.IsAuthenticated() {
		return b, nil
	}

	mine, err := responses.ResponsesFor(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	b.Responses = mine

	responded := make(map[string]bool, len(mine))
	for _, r := range mine {
		responded[r.RequestID] = true
	}

	card := func(res model.Resource) (Card, error) {
		addressed, err := responses.IsAlreadyAddressed(ctx, res.ID)
		if err != nil {
			return Card{}, err
		}
		return Card{
			Resource:         res,
			CanInteract:      model.CanInteract(actor.Role, res.Type),
			HasResponded:     responded[res.ID],
			AlreadyAddressed: addressed,
		}, nil
	}

	available, err := resources.List(ctx, registry.Filter{
		Type:          actionableType(actor.Role),
		ExcludeClosed: true,
		Limit:         opts.AvailableLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list available resources: %w", err)
	}
	for _, res := range available {
		c, err := card(res)
		if err != nil {
			return nil, err
		}
		b.Available = append(b.Available, c)
	}

	posted, err := resources.List(ctx, registry.Filter{OwnerID: actor.ID, Limit: opts.MineLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list posted resources: %w", err)
	}
	for _, res := range posted {
		c, err := card(res)
		if err != nil {
			return nil, err
		}
		b.Mine = append(b.Mine, c)
	}

	return b, nil
}

// actionableType is the resource type a role responds to
func actionableType(role model.Role) model.ResourceType {
	if role == model.RoleVictim {
		return model.ResourceOffer
	}
	return model.ResourceNeed
}
