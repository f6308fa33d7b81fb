package board

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/coordinator"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/notify"
	"github.com/jakechorley/relief-coordination/pkg/core/registry"
	"github.com/jakechorley/relief-coordination/pkg/events"
	"github.com/jakechorley/relief-coordination/pkg/kv"
)

var (
	victim    = model.Actor{ID: "v1", Role: model.RoleVictim, Name: "Vera"}
	volunteer = model.Actor{ID: "p1", Role: model.RoleVolunteer, Name: "Pat"}
	ngo       = model.Actor{ID: "n1", Role: model.RoleNGO, Name: "Aid Org"}
)

type fixture struct {
	bus   *events.Bus
	reg   *registry.Registry
	coord *coordinator.Coordinator
}

func newFixture() *fixture {
	store := kv.NewMemoryStore()
	bus := events.NewBus()
	logger := zap.NewNop()
	reg := registry.New(store, bus, logger)
	coord := coordinator.New(store, reg, notify.NewSink(store, logger, ""), bus, logger)
	return &fixture{bus: bus, reg: reg, coord: coord}
}

func (f *fixture) post(t *testing.T, owner model.Actor, typ model.ResourceType, title string, urgent bool) *model.Resource {
	t.Helper()
	res, err := f.reg.Create(context.Background(), model.NewResource{
		Type: typ, Category: model.CategoryFood, Title: title, Location: "Depot", Urgent: urgent,
	}, owner)
	require.NoError(t, err)
	return res
}

func titles(cards []Card) []string {
	var out []string
	for _, c := range cards {
		out = append(out, c.Resource.Title)
	}
	return out
}

func TestBuild_VictimSeesOffersAndOwnNeeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	need := f.post(t, victim, model.ResourceNeed, "my need", false)
	f.post(t, ngo, model.ResourceOffer, "offer a", false)
	offerB := f.post(t, ngo, model.ResourceOffer, "offer b urgent", true)

	_, err := f.coord.Respond(ctx, victim, offerB.ID)
	require.NoError(t, err)

	b, err := Build(ctx, f.reg, f.coord, victim, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"offer b urgent", "offer a"}, titles(b.Available))
	assert.True(t, b.Available[0].CanInteract)
	assert.True(t, b.Available[0].HasResponded)
	assert.True(t, b.Available[0].AlreadyAddressed)
	assert.False(t, b.Available[1].HasResponded)
	assert.False(t, b.Available[1].AlreadyAddressed)

	require.Len(t, b.Mine, 1)
	assert.Equal(t, need.ID, b.Mine[0].Resource.ID)
	assert.False(t, b.Mine[0].CanInteract)

	require.Len(t, b.Responses, 1)
	assert.Equal(t, offerB.ID, b.Responses[0].RequestID)
}

func TestBuild_VolunteerSeesNeedsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.post(t, victim, model.ResourceNeed, "need", false)
	f.post(t, ngo, model.ResourceOffer, "offer", false)
	closed := f.post(t, victim, model.ResourceNeed, "closed need", true)
	_, err := f.reg.Close(ctx, closed.ID, victim)
	require.NoError(t, err)

	b, err := Build(ctx, f.reg, f.coord, volunteer, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"need"}, titles(b.Available))
	assert.Empty(t, b.Mine)
}

func TestBuild_Limits(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	for _, title := range []string{"a", "b", "c"} {
		f.post(t, ngo, model.ResourceOffer, title, false)
		f.post(t, victim, model.ResourceNeed, title, false)
	}

	b, err := Build(ctx, f.reg, f.coord, victim, Options{AvailableLimit: 2, MineLimit: 1})
	require.NoError(t, err)
	assert.Len(t, b.Available, 2)
	assert.Len(t, b.Mine, 1)
}

func TestBuild_Unauthenticated(t *testing.T) {
	f := newFixture()
	f.post(t, victim, model.ResourceNeed, "need", false)

	b, err := Build(context.Background(), f.reg, f.coord, model.Actor{}, Options{})
	require.NoError(t, err)
	assert.Empty(t, b.Available)
	assert.Empty(t, b.Mine)
}

func TestWatcher_RebuildsOnEventsAndFollowsRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	var boards []*Board
	w := NewWatcher(ctx, f.bus, f.reg, f.coord, volunteer, Options{}, zap.NewNop(), func(b *Board) {
		boards = append(boards, b)
	})
	defer w.Stop()

	require.NoError(t, w.Refresh(ctx))
	require.Len(t, boards, 1)
	assert.Empty(t, boards[0].Available)

	need := f.post(t, victim, model.ResourceNeed, "need", true)
	require.Len(t, boards, 2)
	assert.Equal(t, []string{"need"}, titles(boards[1].Available))

	_, err := f.coord.Respond(ctx, volunteer, need.ID)
	require.NoError(t, err)
	last := boards[len(boards)-1]
	require.Len(t, last.Available, 1)
	assert.True(t, last.Available[0].HasResponded)
	assert.Equal(t, model.StatusAddressing, last.Available[0].Resource.Status)

	// Switching the same user to the victim role flips the board to offers
	f.bus.Publish(events.Event{Name: events.RoleChanged, Kind: events.KindSession, Actor: model.Actor{ID: "p1", Role: model.RoleVictim}})
	last = boards[len(boards)-1]
	assert.Equal(t, model.RoleVictim, w.Actor().Role)
	assert.Empty(t, last.Available)

	// Signing out empties it
	f.bus.Publish(events.Event{Name: events.AuthChanged, Kind: events.KindSession})
	last = boards[len(boards)-1]
	assert.Empty(t, last.Available)
	assert.Empty(t, last.Responses)

	count := len(boards)
	w.Stop()
	f.post(t, victim, model.ResourceNeed, "after stop", false)
	assert.Len(t, boards, count)
}

func TestWatcher_RebuildsOneAtATime(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.post(t, victim, model.ResourceNeed, "need", false)

	var active, maxActive, calls int32
	w := NewWatcher(ctx, f.bus, f.reg, f.coord, volunteer, Options{}, zap.NewNop(), func(b *Board) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&calls, 1)
		atomic.AddInt32(&active, -1)
	})
	defer w.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.bus.Publish(events.Event{Name: events.ResourceUpdated, Kind: events.KindResource, Remote: true})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestWatcher_StopsRebuildingWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture()

	var boards int
	w := NewWatcher(ctx, f.bus, f.reg, f.coord, volunteer, Options{}, zap.NewNop(), func(b *Board) {
		boards++
	})
	defer w.Stop()

	f.post(t, victim, model.ResourceNeed, "before", false)
	assert.Equal(t, 1, boards)

	cancel()
	f.post(t, victim, model.ResourceNeed, "after", false)
	assert.Equal(t, 1, boards)
}
