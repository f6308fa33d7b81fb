package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
)

// ViewNotifications returns actor's notifications, newest first
func ViewNotifications(ctx context.Context, sink NotificationSink, actor model.Actor, unreadOnly bool) ([]model.Notification, error) {
	if !actor.IsAuthenticated() {
		return nil, model.ErrUnauthenticated
	}

	all, err := sink.List(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	if !unreadOnly {
		return all, nil
	}

	unread := []model.Notification{}
	for _, n := range all {
		if !n.Read {
			unread = append(unread, n)
		}
	}
	return unread, nil
}

// MarkNotificationsRead marks one notification, or all of them when id is
// empty
func MarkNotificationsRead(ctx context.Context, sink NotificationSink, logger *zap.Logger, actor model.Actor, id string) error {
	if !actor.IsAuthenticated() {
		return model.ErrUnauthenticated
	}

	if id == "" {
		if err := sink.MarkAllRead(ctx, actor.ID); err != nil {
			return fmt.Errorf("failed to mark notifications read: %w", err)
		}
		logger.Debug("Marked all notifications read", zap.String("actor", actor.ID))
		return nil
	}

	if err := sink.MarkRead(ctx, actor.ID, id); err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	logger.Debug("Marked notification read", zap.String("actor", actor.ID), zap.String("id", id))
	return nil
}
