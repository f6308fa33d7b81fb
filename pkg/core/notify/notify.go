package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/kv"
)

// DefaultLink is where notifications point when no link is configured
const DefaultLink = "/connect"

// Sink keeps a per-user, newest-first notification list in the
// notifications table
type Sink struct {
	store  kv.Store
	logger *zap.Logger
	link   string

	Now func() time.Time
}

func NewSink(store kv.Store, logger *zap.Logger, link string) *Sink {
	if link == "" {
		link = DefaultLink
	}
	return &Sink{store: store, logger: logger, link: link, Now: time.Now}
}

// Link is the default link stamped on notifications without one
func (s *Sink) Link() string {
	return s.link
}

// Notify prepends n to userID's notifications. Missing id, time and link are
// filled in. Duplicates are not detected.
func (s *Sink) Notify(ctx context.Context, userID string, n model.Notification) (model.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Time.IsZero() {
		n.Time = s.Now().UTC()
	}
	if n.Link == "" {
		n.Link = s.link
	}

	_, err := kv.Update(ctx, s.store, kv.TableNotifications, kv.UserKey(userID), func(cur []model.Notification, _ bool) ([]model.Notification, error) {
		return append([]model.Notification{n}, cur...), nil
	})
	if err != nil {
		return n, fmt.Errorf("failed to store notification for %s: %w", userID, err)
	}

	s.logger.Debug("Notification stored",
		zap.String("user", userID),
		zap.String("type", string(n.Type)),
		zap.String("title", n.Title))
	return n, nil
}

// List returns userID's notifications, newest first
func (s *Sink) List(ctx context.Context, userID string) ([]model.Notification, error) {
	list, _, err := kv.GetJSON[[]model.Notification](ctx, s.store, kv.TableNotifications, kv.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications for %s: %w", userID, err)
	}
	return list, nil
}

// UnreadCount returns how many of userID's notifications are unread
func (s *Sink) UnreadCount(ctx context.Context, userID string) (int, error) {
	list, err := s.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	return unread, nil
}

// MarkRead flags one notification as read. Unknown ids are an error.
func (s *Sink) MarkRead(ctx context.Context, userID, id string) error {
	_, err := kv.Update(ctx, s.store, kv.TableNotifications, kv.UserKey(userID), func(cur []model.Notification, _ bool) ([]model.Notification, error) {
		for i := range cur {
			if cur[i].ID != id {
				continue
			}
			if cur[i].Read {
				return cur, kv.ErrSkipWrite
			}
			cur[i].Read = true
			return cur, nil
		}
		return cur, fmt.Errorf("notification %s not found for %s", id, userID)
	})
	return err
}

// MarkAllRead flags every notification of userID as read
func (s *Sink) MarkAllRead(ctx context.Context, userID string) error {
	_, err := kv.Update(ctx, s.store, kv.TableNotifications, kv.UserKey(userID), func(cur []model.Notification, _ bool) ([]model.Notification, error) {
		changed := false
		for i := range cur {
			if !cur[i].Read {
				cur[i].Read = true
				changed = true
			}
		}
		if !changed {
			return cur, kv.ErrSkipWrite
		}
		return cur, nil
	})
	return err
}
