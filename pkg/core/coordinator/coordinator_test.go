package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/notify"
	"github.com/jakechorley/relief-coordination/pkg/core/registry"
	"github.com/jakechorley/relief-coordination/pkg/events"
	"github.com/jakechorley/relief-coordination/pkg/kv"
)

var (
	victimV  = model.Actor{ID: "V", Role: model.RoleVictim, Name: "Vera"}
	victimV2 = model.Actor{ID: "V2", Role: model.RoleVictim, Name: "Vic"}
	helperP  = model.Actor{ID: "P", Role: model.RoleVolunteer, Name: "Pat"}
	helperQ  = model.Actor{ID: "Q", Role: model.RoleVolunteer, Name: "Quinn"}
	ngoN     = model.Actor{ID: "N", Role: model.RoleNGO, Name: "Aid Org"}
)

// agent bundles the components one process would build over a shared store
type agent struct {
	store kv.Store
	bus   *events.Bus
	reg   *registry.Registry
	sink  *notify.Sink
	coord *Coordinator
}

func newAgent(store kv.Store) *agent {
	bus := events.NewBus()
	logger := zap.NewNop()
	reg := registry.New(store, bus, logger)
	sink := notify.NewSink(store, logger, "")
	return &agent{
		store: store,
		bus:   bus,
		reg:   reg,
		sink:  sink,
		coord: New(store, reg, sink, bus, logger),
	}
}

func (a *agent) post(t *testing.T, owner model.Actor, typ model.ResourceType, category model.Category, title string, urgent bool) *model.Resource {
	t.Helper()
	res, err := a.reg.Create(context.Background(), model.NewResource{
		Type:     typ,
		Category: category,
		Title:    title,
		Location: "Camp B",
		Urgent:   urgent,
	}, owner)
	require.NoError(t, err)
	return res
}

func TestRespond_VolunteerHelpsNeedThenSecondVolunteerIsTurnedAway(t *testing.T) {
	ctx := context.Background()
	a := newAgent(kv.NewMemoryStore())

	n1 := a.post(t, victimV, model.ResourceNeed, model.CategoryWater, "Clean water", true)

	result, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, result.Outcome)
	assert.NoError(t, result.Err())

	stored, err := a.reg.Get(ctx, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAddressing, stored.Status)
	assert.Equal(t, "P", stored.AssignedTo)

	pResponses, err := a.coord.ResponsesFor(ctx, "P")
	require.NoError(t, err)
	require.Len(t, pResponses, 1)
	assert.Equal(t, n1.ID, pResponses[0].RequestID)
	assert.Equal(t, model.KindHelpOffer, pResponses[0].Kind)
	assert.Equal(t, model.ResponsePending, pResponses[0].Status)
	assert.Equal(t, model.CategoryWater, pResponses[0].Category)
	assert.Equal(t, "Clean water", pResponses[0].Title)
	assert.Equal(t, "Pat", pResponses[0].ResponderName)
	assert.Equal(t, model.RoleVolunteer, pResponses[0].ResponderRole)

	notifications, err := a.sink.List(ctx, "P")
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "You offered help", notifications[0].Title)
	assert.Equal(t, "You have offered to help with: Clean water", notifications[0].Message)
	assert.Equal(t, model.NotificationResponse, notifications[0].Type)
	assert.Equal(t, notify.DefaultLink, notifications[0].Link)
	assert.False(t, notifications[0].Read)

	_, err = a.coord.Respond(ctx, helperQ, n1.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyAddressed)
	assert.True(t, model.IsSomeoneElseHelping(err))

	qResponses, err := a.coord.ResponsesFor(ctx, "Q")
	require.NoError(t, err)
	assert.Empty(t, qResponses, "Q never got past the addressed check")

	qNotifications, err := a.sink.List(ctx, "Q")
	require.NoError(t, err)
	assert.Empty(t, qNotifications)
}

func TestRespond_OffersAreNotExclusive(t *testing.T) {
	ctx := context.Background()
	a := newAgent(kv.NewMemoryStore())

	o1 := a.post(t, ngoN, model.ResourceOffer, model.CategoryShelter, "Camp beds", false)

	r1, err := a.coord.Respond(ctx, victimV, o1.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, r1.Outcome)
	assert.Equal(t, model.KindRequest, r1.Response.Kind)

	r2, err := a.coord.Respond(ctx, victimV2, o1.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, r2.Outcome)
	assert.Equal(t, model.KindRequest, r2.Response.Kind)

	stored, err := a.reg.Get(ctx, o1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, stored.Status, "offers stay open")
	assert.Empty(t, stored.AssignedTo)

	responders, err := a.coord.Responders(ctx, o1.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"V", "V2"}, responders)

	notifications, err := a.sink.List(ctx, "V")
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "You requested resource", notifications[0].Title)
	assert.Equal(t, "You have requested: Camp beds", notifications[0].Message)
	assert.Equal(t, model.NotificationRequest, notifications[0].Type)
}

func TestRespond_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newAgent(kv.NewMemoryStore())

	o1 := a.post(t, ngoN, model.ResourceOffer, model.CategoryFood, "Hot meals", false)

	first, err := a.coord.Respond(ctx, victimV, o1.ID)
	require.NoError(t, err)
	second, err := a.coord.Respond(ctx, victimV, o1.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDuplicateIgnored, second.Outcome)
	assert.ErrorIs(t, second.Err(), model.ErrDuplicateIgnored)
	assert.Equal(t, first.Response, second.Response)

	responses, err := a.coord.ResponsesFor(ctx, "V")
	require.NoError(t, err)
	assert.Len(t, responses, 1)

	notifications, err := a.sink.List(ctx, "V")
	require.NoError(t, err)
	assert.Len(t, notifications, 1, "a replay does not notify again")
}

func TestRespond_AssigneeRetryIsDuplicateNotAlreadyAddressed(t *testing.T) {
	ctx := context.Background()
	a := newAgent(kv.NewMemoryStore())

	n1 := a.post(t, victimV, model.ResourceNeed, model.CategoryMedical, "Insulin", true)

	_, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.NoError(t, err)

	again, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicateIgnored, again.Outcome)

	responses, err := a.coord.ResponsesFor(ctx, "P")
	require.NoError(t, err)
	assert.Len(t, responses, 1)
}

func TestRespond_RoleMatrix(t *testing.T) {
	tests := []struct {
		role    model.Role
		typ     model.ResourceType
		allowed bool
	}{
		{model.RoleVictim, model.ResourceNeed, false},
		{model.RoleVictim, model.ResourceOffer, true},
		{model.RoleVolunteer, model.ResourceNeed, true},
		{model.RoleVolunteer, model.ResourceOffer, false},
		{model.RoleNGO, model.ResourceNeed, true},
		{model.RoleNGO, model.ResourceOffer, false},
		{model.RoleGovernment, model.ResourceNeed, true},
		{model.RoleGovernment, model.ResourceOffer, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.role, tt.typ), func(t *testing.T) {
			ctx := context.Background()
			a := newAgent(kv.NewMemoryStore())

			owner := ngoN
			if tt.typ == model.ResourceNeed {
				owner = victimV
			}
			res := a.post(t, owner, tt.typ, model.CategorySupplies, "Blankets", false)

			actor := model.Actor{ID: "actor", Role: tt.role}
			_, err := a.coord.Respond(ctx, actor, res.ID)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, model.ErrRoleNotAllowed)

			responses, err := a.coord.ResponsesFor(ctx, "actor")
			require.NoError(t, err)
			assert.Empty(t, responses)
		})
	}
}

func TestRespond_Unauthenticated(t *testing.T) {
	ctx := context.Background()
	a := newAgent(kv.NewMemoryStore())
	n1 := a.post(t, victimV, model.ResourceNeed, model.CategoryWater, "Water", false)

	for _, actor := range []model.Actor{
		{},
		{ID: "x"},
		{Role: model.RoleVolunteer},
	} {
		_, err := a.coord.Respond(ctx, actor, n1.ID)
		assert.ErrorIs(t, err, model.ErrUnauthenticated)
	}
}

func TestRespond_UnknownResource(t *testing.T) {
	a := newAgent(kv.NewMemoryStore())

	_, err := a.coord.Respond(context.Background(), helperP, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRespond_ClosedResource(t *testing.T) {
	ctx := context.Background()
	a := newAgent(kv.NewMemoryStore())
	n1 := a.post(t, victimV, model.ResourceNeed, model.CategoryWater, "Water", false)

	_, err := a.reg.Close(ctx, n1.ID, victimV)
	require.NoError(t, err)

	_, err = a.coord.Respond(ctx, helperP, n1.ID)
	assert.ErrorIs(t, err, model.ErrResourceClosed)
}

func TestRespond_PublishesAfterPersisting(t *testing.T) {
	ctx := context.Background()
	a := newAgent(kv.NewMemoryStore())
	n1 := a.post(t, victimV, model.ResourceNeed, model.CategoryFood, "Food parcels", false)

	var names []string
	a.bus.SubscribeAll(func(e events.Event) {
		names = append(names, e.Name)

		// Every handler must already see the writes
		has, err := a.coord.HasResponded(ctx, "P", n1.ID)
		require.NoError(t, err)
		assert.True(t, has)

		addressed, err := a.coord.IsAlreadyAddressed(ctx, n1.ID)
		require.NoError(t, err)
		assert.True(t, addressed)

		res, err := a.reg.Get(ctx, n1.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusAddressing, res.Status)
	})

	_, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{events.ResponseCreated, events.ResourceUpdated}, names)
}

// staleResources serves a snapshot taken before another agent's write,
// standing in for a view that has not yet seen the change notification
type staleResources struct {
	ResourceStore
	snapshot model.Resource
}

func (s *staleResources) Get(ctx context.Context, id string) (*model.Resource, error) {
	r := s.snapshot
	return &r, nil
}

func TestRespond_LostRaceKeepsResponse(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	a := newAgent(store)
	b := newAgent(store)

	n1 := a.post(t, victimV, model.ResourceNeed, model.CategoryWater, "Water", true)

	// B read the need while it was still open
	b.coord.resources = &staleResources{ResourceStore: b.reg, snapshot: *n1}

	won, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, won.Outcome)

	lost, err := b.coord.Respond(ctx, helperQ, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, lost.Outcome)
	assert.ErrorIs(t, lost.Err(), model.ErrConflict)
	assert.Equal(t, "P", lost.Resource.AssignedTo, "result reflects the winner")

	stored, err := a.reg.Get(ctx, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, "P", stored.AssignedTo)

	qResponses, err := a.coord.ResponsesFor(ctx, "Q")
	require.NoError(t, err)
	require.Len(t, qResponses, 1, "the losing help offer is not rolled back")
	assert.Equal(t, n1.ID, qResponses[0].RequestID)
}

// flakyIndexStore fails the first index write, like a process that stored a
// response and died before finishing
type flakyIndexStore struct {
	*kv.MemoryStore
	failed bool
}

func (s *flakyIndexStore) Put(ctx context.Context, table, key string, value []byte) (int64, error) {
	if table == kv.TableResponders && !s.failed {
		s.failed = true
		return 0, errors.New("connection reset")
	}
	return s.MemoryStore.Put(ctx, table, key, value)
}

func TestRespond_RetryCompletesInterruptedResponse(t *testing.T) {
	ctx := context.Background()
	store := &flakyIndexStore{MemoryStore: kv.NewMemoryStore()}
	a := newAgent(store)

	n1 := a.post(t, victimV, model.ResourceNeed, model.CategoryWater, "Water", true)

	_, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.Error(t, err)

	stored, err := a.reg.Get(ctx, n1.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusOpen, stored.Status, "the first call stopped before assigning")

	var updated []string
	a.bus.Subscribe(events.ResourceUpdated, func(e events.Event) { updated = append(updated, e.EntityID) })

	retry, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicateIgnored, retry.Outcome)
	assert.Equal(t, model.StatusAddressing, retry.Resource.Status)
	assert.Equal(t, []string{n1.ID}, updated)

	stored, err = a.reg.Get(ctx, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAddressing, stored.Status)
	assert.Equal(t, "P", stored.AssignedTo)

	addressed, err := a.coord.IsAlreadyAddressed(ctx, n1.ID)
	require.NoError(t, err)
	assert.True(t, addressed)

	responses, err := a.coord.ResponsesFor(ctx, "P")
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, retry.Response, responses[0], "the stored response is returned unchanged")

	_, err = a.coord.Respond(ctx, helperQ, n1.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyAddressed)
}

func TestRespond_RetryOfInterruptedResponseCanLoseRace(t *testing.T) {
	ctx := context.Background()
	store := &flakyIndexStore{MemoryStore: kv.NewMemoryStore()}
	a := newAgent(store)
	b := newAgent(store)

	n1 := a.post(t, victimV, model.ResourceNeed, model.CategoryWater, "Water", true)

	_, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.Error(t, err)

	// P's retry read the need while it was still open, then Q took it
	a.coord.resources = &staleResources{ResourceStore: a.reg, snapshot: *n1}
	_, err = b.coord.Respond(ctx, helperQ, n1.ID)
	require.NoError(t, err)

	retry, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, retry.Outcome)

	stored, err := b.reg.Get(ctx, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Q", stored.AssignedTo)
}

func TestRespond_ConcurrentAgentsExactlyOneAssigned(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	owner := newAgent(store)
	n1 := owner.post(t, victimV, model.ResourceNeed, model.CategoryShelter, "Tent", true)

	const agents = 8
	results := make([]*Result, agents)
	errs := make([]error, agents)

	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := newAgent(store)
			actor := model.Actor{ID: fmt.Sprintf("helper-%d", i), Role: model.RoleVolunteer}
			results[i], errs[i] = a.coord.Respond(ctx, actor, n1.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	var winner string
	for i := 0; i < agents; i++ {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], model.ErrAlreadyAddressed)
			continue
		}
		if results[i].Outcome == OutcomeCreated {
			winners++
			winner = results[i].Response.ResponderID
			continue
		}
		assert.Equal(t, OutcomeConflict, results[i].Outcome)
	}
	require.Equal(t, 1, winners)

	stored, err := owner.reg.Get(ctx, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAddressing, stored.Status)
	assert.Equal(t, winner, stored.AssignedTo)

	// Exactly one stored response matches the assignment
	matching := 0
	for i := 0; i < agents; i++ {
		responses, err := owner.coord.ResponsesFor(ctx, fmt.Sprintf("helper-%d", i))
		require.NoError(t, err)
		for _, r := range responses {
			if r.RequestID == n1.ID && r.ResponderID == stored.AssignedTo {
				matching++
			}
		}
	}
	assert.Equal(t, 1, matching)
}

func TestIsAlreadyAddressed(t *testing.T) {
	ctx := context.Background()
	a := newAgent(kv.NewMemoryStore())
	o1 := a.post(t, ngoN, model.ResourceOffer, model.CategoryFood, "Bread", false)

	addressed, err := a.coord.IsAlreadyAddressed(ctx, o1.ID)
	require.NoError(t, err)
	assert.False(t, addressed)

	_, err = a.coord.Respond(ctx, victimV, o1.ID)
	require.NoError(t, err)

	addressed, err = a.coord.IsAlreadyAddressed(ctx, o1.ID)
	require.NoError(t, err)
	assert.True(t, addressed)
}

func TestReindex_RepairsMissingEntries(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	a := newAgent(store)
	o1 := a.post(t, ngoN, model.ResourceOffer, model.CategoryFood, "Bread", false)

	_, err := a.coord.Respond(ctx, victimV, o1.ID)
	require.NoError(t, err)

	// A response whose index write never happened
	orphan := model.Response{ID: "orphan", RequestID: o1.ID, ResponderID: "V2", Kind: model.KindRequest, Status: model.ResponsePending}
	require.NoError(t, kv.PutJSON(ctx, store, kv.TableResponses, kv.UserKey("V2"), []model.Response{orphan}))

	added, err := a.coord.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	responders, err := a.coord.Responders(ctx, o1.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"V", "V2"}, responders)

	added, err = a.coord.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	a := newAgent(kv.NewMemoryStore())
	n1 := a.post(t, victimV, model.ResourceNeed, model.CategoryWater, "Water", false)

	_, err := a.coord.Respond(ctx, helperP, n1.ID)
	require.NoError(t, err)

	var updated []string
	a.bus.Subscribe(events.ResponseUpdated, func(e events.Event) { updated = append(updated, e.EntityID) })

	resp, err := a.coord.SetStatus(ctx, helperP, n1.ID, model.ResponseRejected)
	require.NoError(t, err)
	assert.Equal(t, model.ResponseRejected, resp.Status)
	assert.Equal(t, []string{resp.ID}, updated)

	// Rejecting does not free the need
	stored, err := a.reg.Get(ctx, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAddressing, stored.Status)

	_, err = a.coord.SetStatus(ctx, helperQ, n1.ID, model.ResponseAccepted)
	assert.ErrorIs(t, err, model.ErrResponseNotFound)
	assert.NotErrorIs(t, err, model.ErrNotFound)
	assert.NotContains(t, err.Error(), "resource not found")

	_, err = a.coord.SetStatus(ctx, helperP, n1.ID, "maybe")
	assert.Error(t, err)
}
