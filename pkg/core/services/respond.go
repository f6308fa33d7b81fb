package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/coordinator"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
)

// RespondResult pairs the coordinator result with the line shown to the user
type RespondResult struct {
	*coordinator.Result
	Message string
}

// Respond offers help with a need or requests an offer.
//
// Duplicate and conflict outcomes are not errors: the result says what
// happened. An ErrAlreadyAddressed rejection is returned as an error.
func Respond(ctx context.Context, responses ResponseCoordinator, logger *zap.Logger, actor model.Actor, resourceID string) (*RespondResult, error) {
	logger.Debug("Responding to resource", zap.String("actor", actor.ID), zap.String("resource", resourceID))

	result, err := responses.Respond(ctx, actor, resourceID)
	if err != nil {
		if model.IsSomeoneElseHelping(err) {
			logger.Info("Someone else is already helping", zap.String("resource", resourceID))
		}
		return nil, fmt.Errorf("failed to respond to %s: %w", resourceID, err)
	}

	return &RespondResult{Result: result, Message: respondMessage(result)}, nil
}

func respondMessage(r *coordinator.Result) string {
	title := r.Resource.Title
	switch r.Outcome {
	case coordinator.OutcomeDuplicateIgnored:
		return fmt.Sprintf("You have already responded to: %s", title)
	case coordinator.OutcomeConflict:
		return fmt.Sprintf("Someone else is already helping with: %s", title)
	}
	if r.Response.Kind == model.KindHelpOffer {
		return fmt.Sprintf("You have offered to help with: %s", title)
	}
	return fmt.Sprintf("You have requested: %s", title)
}

// UpdateResponseStatus moves actor's own response to resourceID to status
func UpdateResponseStatus(ctx context.Context, responses ResponseCoordinator, logger *zap.Logger, actor model.Actor, resourceID string, status model.ResponseStatus) (*model.Response, error) {
	resp, err := responses.SetStatus(ctx, actor, resourceID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to set response status: %w", err)
	}

	logger.Info("Response status updated",
		zap.String("resource", resourceID),
		zap.String("actor", actor.ID),
		zap.String("status", string(status)))
	return resp, nil
}

// ResourceResponders is a resource and the ids of everyone who responded
type ResourceResponders struct {
	Resource   *model.Resource
	Responders []string
}

// ViewResponders lists who responded to a resource. Only the author may look.
func ViewResponders(ctx context.Context, resources ResourceRegistry, responses ResponseCoordinator, actor model.Actor, resourceID string) (*ResourceResponders, error) {
	if !actor.IsAuthenticated() {
		return nil, model.ErrUnauthenticated
	}

	res, err := resources.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if res.OwnerID != actor.ID {
		return nil, model.ErrNotOwner
	}

	ids, err := responses.Responders(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responders: %w", err)
	}

	return &ResourceResponders{Resource: res, Responders: ids}, nil
}

// Reindex rebuilds the responder index from the per-user response lists
func Reindex(ctx context.Context, responses ResponseCoordinator, logger *zap.Logger) (int, error) {
	logger.Info("Rebuilding responder index")

	added, err := responses.Reindex(ctx)
	if err != nil {
		return added, fmt.Errorf("failed to reindex: %w", err)
	}

	logger.Info("Responder index rebuilt", zap.Int("added", added))
	return added, nil
}
