package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/events"
	"github.com/jakechorley/relief-coordination/pkg/kv"
)

// ResourceStore is the part of the registry the coordinator needs
type ResourceStore interface {
	Get(ctx context.Context, id string) (*model.Resource, error)
	MarkAddressing(ctx context.Context, id string, responder model.Actor) (*model.Resource, error)
}

// Notifier records a notification for a user
type Notifier interface {
	Notify(ctx context.Context, userID string, n model.Notification) (model.Notification, error)
}

type Outcome string

const (
	// OutcomeCreated means a new response was stored and, for needs, the
	// responder now holds the assignment
	OutcomeCreated Outcome = "created"
	// OutcomeDuplicateIgnored means the actor had already responded; the
	// existing response is returned unchanged
	OutcomeDuplicateIgnored Outcome = "duplicate-ignored"
	// OutcomeConflict means the response was stored but another responder
	// won the assignment first. The response is kept.
	OutcomeConflict Outcome = "conflict"
)

// Result is what Respond returns for every non-error outcome
type Result struct {
	Response model.Response
	// Resource as last seen by the coordinator; after a conflict it shows
	// the winning assignment
	Resource model.Resource
	Outcome  Outcome
}

// Err maps the outcome onto the error taxonomy: nil for a fresh response,
// model.ErrDuplicateIgnored or model.ErrConflict otherwise
func (r *Result) Err() error {
	switch r.Outcome {
	case OutcomeDuplicateIgnored:
		return model.ErrDuplicateIgnored
	case OutcomeConflict:
		return model.ErrConflict
	}
	return nil
}

// Coordinator records responses against resources and enforces that a need
// has at most one accepted responder.
//
// Responses are written only into the responder's own namespace
// (responses/user:<id>), so concurrent responders never contend on the same
// key. The only shared mutation is the status CAS done by MarkAddressing.
// The write happens before the CAS: a responder who loses the race keeps
// their response record and gets OutcomeConflict.
type Coordinator struct {
	store     kv.Store
	resources ResourceStore
	notifier  Notifier
	bus       *events.Bus
	logger    *zap.Logger

	Now   func() time.Time
	NewID func() string
}

func New(store kv.Store, resources ResourceStore, notifier Notifier, bus *events.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		resources: resources,
		notifier:  notifier,
		bus:       bus,
		logger:    logger,
		Now:       time.Now,
		NewID:     func() string { return uuid.New().String() },
	}
}

// Respond records actor's intent to act on a resource.
//
// Failures, checked in order: model.ErrUnauthenticated, model.ErrNotFound,
// model.ErrResourceClosed, model.ErrRoleNotAllowed and, for a need already
// assigned to someone else, model.ErrAlreadyAddressed. None of them write
// anything.
func (c *Coordinator) Respond(ctx context.Context, actor model.Actor, resourceID string) (*Result, error) {
	if !actor.IsAuthenticated() {
		return nil, model.ErrUnauthenticated
	}

	res, err := c.resources.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	if res.Status == model.StatusClosed {
		return nil, fmt.Errorf("%w: %s", model.ErrResourceClosed, res.ID)
	}

	if !model.CanInteract(actor.Role, res.Type) {
		return nil, fmt.Errorf("%w: %s cannot respond to a %s", model.ErrRoleNotAllowed, actor.Role, res.Type)
	}

	if res.Type == model.ResourceNeed && res.Status == model.StatusAddressing && res.AssignedTo != actor.ID {
		c.logger.Debug("Need already being addressed",
			zap.String("resource", res.ID),
			zap.String("assigned_to", res.AssignedTo),
			zap.String("actor", actor.ID))
		return nil, fmt.Errorf("%w by %s", model.ErrAlreadyAddressed, res.AssignedTo)
	}

	existing, err := c.findResponse(ctx, actor.ID, res.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		c.logger.Debug("Duplicate response ignored",
			zap.String("resource", res.ID),
			zap.String("actor", actor.ID),
			zap.String("response", existing.ID))
		return c.completeDuplicate(ctx, actor, *res, *existing)
	}

	resp := model.Response{
		ID:            c.NewID(),
		RequestID:     res.ID,
		ResponderID:   actor.ID,
		ResponderRole: actor.Role,
		ResponderName: actor.DisplayName(),
		Kind:          model.KindFor(res.Type),
		Category:      res.Category,
		Title:         res.Title,
		Status:        model.ResponsePending,
		Time:          c.Now().UTC(),
	}

	stored, created, err := c.appendResponse(ctx, resp)
	if err != nil {
		return nil, err
	}
	if !created {
		// Another call from the same actor landed between our read and write
		return c.completeDuplicate(ctx, actor, *res, stored)
	}

	if err := c.index(ctx, stored); err != nil {
		return nil, err
	}

	result := &Result{Response: stored, Resource: *res, Outcome: OutcomeCreated}

	if res.Type == model.ResourceNeed {
		updated, err := c.resources.MarkAddressing(ctx, res.ID, actor)
		switch {
		case err == nil:
			result.Resource = *updated
		case errors.Is(err, model.ErrConflict):
			// Lost the race. The help offer stays recorded; the resource
			// keeps the winner's assignment.
			result.Outcome = OutcomeConflict
			c.logger.Warn("Lost assignment race, keeping response",
				zap.String("resource", res.ID),
				zap.String("actor", actor.ID),
				zap.String("response", stored.ID))
			if current, getErr := c.resources.Get(ctx, res.ID); getErr == nil {
				result.Resource = *current
			}
		default:
			return nil, fmt.Errorf("failed to assign %s to %s: %w", res.ID, actor.ID, err)
		}
	}

	if _, err := c.notifier.Notify(ctx, actor.ID, notificationFor(*res)); err != nil {
		c.logger.Error("Failed to notify responder", zap.String("actor", actor.ID), zap.Error(err))
	}

	c.bus.Publish(events.Event{Name: events.ResponseCreated, Kind: events.KindResponse, EntityID: stored.ID, Actor: actor})
	c.bus.Publish(events.Event{Name: events.ResourceUpdated, Kind: events.KindResource, EntityID: res.ID, Actor: actor})

	c.logger.Info("Response recorded",
		zap.String("resource", res.ID),
		zap.String("kind", string(stored.Kind)),
		zap.String("actor", actor.ID),
		zap.String("outcome", string(result.Outcome)))

	return result, nil
}

// completeDuplicate returns an existing response unchanged. When the need it
// answers is still open, an earlier call stored the response but failed
// before assigning, so the index entry and the assignment are finished here.
func (c *Coordinator) completeDuplicate(ctx context.Context, actor model.Actor, res model.Resource, existing model.Response) (*Result, error) {
	result := &Result{Response: existing, Resource: res, Outcome: OutcomeDuplicateIgnored}
	if res.Type != model.ResourceNeed || res.Status != model.StatusOpen {
		return result, nil
	}

	c.logger.Info("Completing unassigned earlier response",
		zap.String("resource", res.ID),
		zap.String("actor", actor.ID),
		zap.String("response", existing.ID))

	if err := c.index(ctx, existing); err != nil {
		return nil, err
	}

	updated, err := c.resources.MarkAddressing(ctx, res.ID, actor)
	switch {
	case err == nil:
		result.Resource = *updated
	case errors.Is(err, model.ErrConflict):
		result.Outcome = OutcomeConflict
		if current, getErr := c.resources.Get(ctx, res.ID); getErr == nil {
			result.Resource = *current
		}
	default:
		return nil, fmt.Errorf("failed to assign %s to %s: %w", res.ID, actor.ID, err)
	}

	c.bus.Publish(events.Event{Name: events.ResourceUpdated, Kind: events.KindResource, EntityID: res.ID, Actor: actor})
	return result, nil
}

func notificationFor(res model.Resource) model.Notification {
	if res.Type == model.ResourceNeed {
		return model.Notification{
			Type:    model.NotificationResponse,
			Title:   "You offered help",
			Message: "You have offered to help with: " + res.Title,
		}
	}
	return model.Notification{
		Type:    model.NotificationRequest,
		Title:   "You requested resource",
		Message: "You have requested: " + res.Title,
	}
}

// appendResponse prepends resp to its responder's list unless a response for
// the same resource is already there, in which case that one is returned
// with created=false
func (c *Coordinator) appendResponse(ctx context.Context, resp model.Response) (model.Response, bool, error) {
	stored := resp
	created := false

	_, err := kv.Update(ctx, c.store, kv.TableResponses, kv.UserKey(resp.ResponderID), func(cur []model.Response, _ bool) ([]model.Response, error) {
		for _, r := range cur {
			if r.RequestID == resp.RequestID {
				stored, created = r, false
				return cur, kv.ErrSkipWrite
			}
		}
		stored, created = resp, true
		return append([]model.Response{resp}, cur...), nil
	})
	if err != nil {
		return model.Response{}, false, fmt.Errorf("failed to store response for %s: %w", resp.ResponderID, err)
	}
	return stored, created, nil
}

func (c *Coordinator) findResponse(ctx context.Context, userID, resourceID string) (*model.Response, error) {
	responses, err := c.ResponsesFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range responses {
		if responses[i].RequestID == resourceID {
			return &responses[i], nil
		}
	}
	return nil, nil
}

// ResponsesFor returns userID's responses, newest first
func (c *Coordinator) ResponsesFor(ctx context.Context, userID string) ([]model.Response, error) {
	responses, _, err := kv.GetJSON[[]model.Response](ctx, c.store, kv.TableResponses, kv.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load responses for %s: %w", userID, err)
	}
	return responses, nil
}

// HasResponded reports whether userID has a response for resourceID
func (c *Coordinator) HasResponded(ctx context.Context, userID, resourceID string) (bool, error) {
	resp, err := c.findResponse(ctx, userID, resourceID)
	if err != nil {
		return false, err
	}
	return resp != nil, nil
}

// SetStatus moves actor's own response for resourceID to status and
// publishes response-updated. It never touches the resource: a rejected
// response does not reopen a need.
func (c *Coordinator) SetStatus(ctx context.Context, actor model.Actor, resourceID string, status model.ResponseStatus) (*model.Response, error) {
	if !actor.IsAuthenticated() {
		return nil, model.ErrUnauthenticated
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid response status %q", status)
	}

	var updated model.Response
	_, err := kv.Update(ctx, c.store, kv.TableResponses, kv.UserKey(actor.ID), func(cur []model.Response, _ bool) ([]model.Response, error) {
		for i := range cur {
			if cur[i].RequestID != resourceID {
				continue
			}
			updated = cur[i]
			if cur[i].Status == status {
				return cur, kv.ErrSkipWrite
			}
			cur[i].Status = status
			updated = cur[i]
			return cur, nil
		}
		return cur, fmt.Errorf("%w: no response from %s to %s", model.ErrResponseNotFound, actor.ID, resourceID)
	})
	if err != nil {
		return nil, err
	}

	c.bus.Publish(events.Event{Name: events.ResponseUpdated, Kind: events.KindResponse, EntityID: updated.ID, Actor: actor})
	return &updated, nil
}
