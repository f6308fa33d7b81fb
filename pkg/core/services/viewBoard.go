package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/board"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
)

// BoardView is the dashboard plus the actor's unread notification count
type BoardView struct {
	*board.Board
	Unread int
}

// ViewBoard builds actor's dashboard
func ViewBoard(
	ctx context.Context,
	resources board.Resources,
	responses board.Responses,
	notifications NotificationSink,
	logger *zap.Logger,
	actor model.Actor,
	opts board.Options,
) (*BoardView, error) {
	logger.Debug("Building board", zap.String("actor", actor.ID), zap.String("role", string(actor.Role)))

	b, err := board.Build(ctx, resources, responses, actor, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build board: %w", err)
	}

	view := &BoardView{Board: b}
	if actor.IsAuthenticated() {
		view.Unread, err = notifications.UnreadCount(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count notifications: %w", err)
		}
	}

	logger.Debug("Board built",
		zap.Int("available", len(b.Available)),
		zap.Int("mine", len(b.Mine)),
		zap.Int("responses", len(b.Responses)),
		zap.Int("unread", view.Unread))

	return view, nil
}
