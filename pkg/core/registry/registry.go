package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/events"
	"github.com/jakechorley/relief-coordination/pkg/kv"
)

var validate = validator.New()

// Registry owns the shared list of needs and offers. Every resource is one
// key in the resources table; status changes go through CompareAndSet.
type Registry struct {
	store  kv.Store
	bus    *events.Bus
	logger *zap.Logger

	// Now and NewID are replaceable in tests
	Now   func() time.Time
	NewID func() string
}

func New(store kv.Store, bus *events.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		bus:    bus,
		logger: logger,
		Now:    time.Now,
		NewID:  func() string { return uuid.New().String() },
	}
}

// Create validates and stores a new open resource owned by owner
func (r *Registry) Create(ctx context.Context, in model.NewResource, owner model.Actor) (*model.Resource, error) {
	if !owner.IsAuthenticated() {
		return nil, model.ErrUnauthenticated
	}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid resource: %w", err)
	}

	res := &model.Resource{
		ID:              r.NewID(),
		Type:            in.Type,
		Category:        in.Category,
		Title:           in.Title,
		Description:     in.Description,
		Location:        in.Location,
		LocationDetails: in.LocationDetails,
		Contact:         in.Contact,
		ContactName:     in.ContactName,
		Urgent:          in.Urgent,
		OwnerID:         owner.ID,
		OwnerName:       owner.DisplayName(),
		Status:          model.StatusOpen,
		Timestamp:       r.Now().UTC(),
	}

	r.logger.Debug("Creating resource",
		zap.String("id", res.ID),
		zap.String("type", string(res.Type)),
		zap.String("category", string(res.Category)),
		zap.Bool("urgent", res.Urgent),
		zap.String("owner", owner.ID))

	if err := kv.CreateJSON(ctx, r.store, kv.TableResources, res.ID, res); err != nil {
		if errors.Is(err, kv.ErrVersionMismatch) {
			return nil, fmt.Errorf("%w: %s", model.ErrIDCollision, res.ID)
		}
		return nil, fmt.Errorf("failed to store resource: %w", err)
	}

	r.bus.Publish(events.Event{
		Name:     events.ResourceCreated,
		Kind:     events.KindResource,
		EntityID: res.ID,
		Actor:    owner,
	})

	return res, nil
}

// Get returns the resource with the given id or model.ErrNotFound
func (r *Registry) Get(ctx context.Context, id string) (*model.Resource, error) {
	res, version, err := kv.GetJSON[model.Resource](ctx, r.store, kv.TableResources, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource %s: %w", id, err)
	}
	if version == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return &res, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Type          model.ResourceType
	Category      model.Category
	Status        model.ResourceStatus
	OwnerID       string
	ExcludeClosed bool
	UrgentOnly    bool
	// CreatedBefore keeps resources posted strictly before this time
	CreatedBefore time.Time
	Limit         int
}

func (f Filter) matches(res model.Resource) bool {
	if f.Type != "" && res.Type != f.Type {
		return false
	}
	if f.Category != "" && res.Category != f.Category {
		return false
	}
	if f.Status != "" && res.Status != f.Status {
		return false
	}
	if f.OwnerID != "" && res.OwnerID != f.OwnerID {
		return false
	}
	if f.ExcludeClosed && res.Status == model.StatusClosed {
		return false
	}
	if f.UrgentOnly && !res.Urgent {
		return false
	}
	if !f.CreatedBefore.IsZero() && !res.Timestamp.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// List returns matching resources, urgent first, then newest first, with ties
// broken by id
func (r *Registry) List(ctx context.Context, f Filter) ([]model.Resource, error) {
	all, err := kv.ListJSON[model.Resource](ctx, r.store, kv.TableResources, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	out := make([]model.Resource, 0, len(all))
	for _, res := range all {
		if f.matches(res) {
			out = append(out, res)
		}
	}

	SortForDisplay(out)

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SortForDisplay orders resources urgent first, then by timestamp descending,
// then by id
func SortForDisplay(resources []model.Resource) {
	sort.SliceStable(resources, func(i, j int) bool {
		a, b := resources[i], resources[j]
		if a.Urgent != b.Urgent {
			return a.Urgent
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
}
