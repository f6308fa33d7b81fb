package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
)

// PostResource publishes a need or offer on behalf of actor
func PostResource(ctx context.Context, resources ResourceRegistry, logger *zap.Logger, actor model.Actor, in model.NewResource) (*model.Resource, error) {
	logger.Debug("Posting resource",
		zap.String("actor", actor.ID),
		zap.String("type", string(in.Type)),
		zap.String("category", string(in.Category)))

	res, err := resources.Create(ctx, in, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to post %s: %w", in.Type, err)
	}

	logger.Info("Resource posted",
		zap.String("id", res.ID),
		zap.String("type", string(res.Type)),
		zap.Bool("urgent", res.Urgent))

	return res, nil
}

// CloseResource lets the author mark their own post as resolved
func CloseResource(ctx context.Context, resources ResourceRegistry, logger *zap.Logger, actor model.Actor, resourceID string) (*model.Resource, error) {
	if !actor.IsAuthenticated() {
		return nil, model.ErrUnauthenticated
	}

	res, err := resources.Close(ctx, resourceID, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", resourceID, err)
	}

	logger.Info("Resource closed", zap.String("id", res.ID), zap.String("actor", actor.ID))
	return res, nil
}
