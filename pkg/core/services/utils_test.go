package services

import (
	"context"
	"fmt"
	"testing"
	"time"

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
	victim    = model.Actor{ID: "v-1", Role: model.RoleVictim, Name: "Vera"}
	volunteer = model.Actor{ID: "p-1", Role: model.RoleVolunteer, Name: "Pat"}
	ngo       = model.Actor{ID: "n-1", Role: model.RoleNGO, Name: "Aid Org"}
)

// testEngine wires the real components over one in-memory store
type testEngine struct {
	store *kv.MemoryStore
	bus   *events.Bus
	reg   *registry.Registry
	sink  *notify.Sink
	coord *coordinator.Coordinator
}

func newTestEngine() *testEngine {
	store := kv.NewMemoryStore()
	bus := events.NewBus()
	logger := zap.NewNop()
	reg := registry.New(store, bus, logger)
	sink := notify.NewSink(store, logger, "")
	return &testEngine{
		store: store,
		bus:   bus,
		reg:   reg,
		sink:  sink,
		coord: coordinator.New(store, reg, sink, bus, logger),
	}
}

// postAt creates a resource stamped with the given time
func (e *testEngine) postAt(t *testing.T, owner model.Actor, typ model.ResourceType, title string, urgent bool, at time.Time) *model.Resource {
	t.Helper()
	e.reg.Now = func() time.Time { return at }
	defer func() { e.reg.Now = time.Now }()

	res, err := e.reg.Create(context.Background(), model.NewResource{
		Type:     typ,
		Category: model.CategoryWater,
		Title:    title,
		Location: "Camp B",
		Urgent:   urgent,
	}, owner)
	require.NoError(t, err)
	return res
}

func (e *testEngine) post(t *testing.T, owner model.Actor, typ model.ResourceType, title string) *model.Resource {
	return e.postAt(t, owner, typ, title, false, time.Now())
}

// mockGmailClient implements GmailClient for testing
type mockGmailClient struct {
	sentEmails []string
	subjects   []string
	bodies     []string
	failFor    map[string]bool
}

func (m *mockGmailClient) SendEmail(to, subject, body string) error {
	if m.failFor[to] {
		return fmt.Errorf("mailbox unavailable")
	}
	m.sentEmails = append(m.sentEmails, to)
	m.subjects = append(m.subjects, subject)
	m.bodies = append(m.bodies, body)
	return nil
}

// failingSink fails Notify for the listed users
type failingSink struct {
	*notify.Sink
	failFor map[string]bool
}

func (f *failingSink) Notify(ctx context.Context, userID string, n model.Notification) (model.Notification, error) {
	if f.failFor[userID] {
		return n, fmt.Errorf("inbox unavailable")
	}
	return f.Sink.Notify(ctx, userID, n)
}
