package services

import (
	"context"

	"github.com/jakechorley/relief-coordination/pkg/core/coordinator"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/registry"
)

// ResourceRegistry is the registry surface the services use
type ResourceRegistry interface {
	Create(ctx context.Context, in model.NewResource, owner model.Actor) (*model.Resource, error)
	Get(ctx context.Context, id string) (*model.Resource, error)
	List(ctx context.Context, f registry.Filter) ([]model.Resource, error)
	Close(ctx context.Context, id string, owner model.Actor) (*model.Resource, error)
}

// ResponseCoordinator is the coordinator surface the services use
type ResponseCoordinator interface {
	Respond(ctx context.Context, actor model.Actor, resourceID string) (*coordinator.Result, error)
	ResponsesFor(ctx context.Context, userID string) ([]model.Response, error)
	IsAlreadyAddressed(ctx context.Context, resourceID string) (bool, error)
	Responders(ctx context.Context, resourceID string) ([]string, error)
	SetStatus(ctx context.Context, actor model.Actor, resourceID string, status model.ResponseStatus) (*model.Response, error)
	Reindex(ctx context.Context) (int, error)
}

// NotificationSink is the per-user inbox
type NotificationSink interface {
	Notify(ctx context.Context, userID string, n model.Notification) (model.Notification, error)
	List(ctx context.Context, userID string) ([]model.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// GmailClient sends plain text mail
type GmailClient interface {
	SendEmail(to, subject, body string) error
}
