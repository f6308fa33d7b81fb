package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/internal/config"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/kv"
)

func digestConfig(recipients ...string) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Backend: config.BackendMemory},
		Digest: &config.DigestConfig{
			RRule:      "FREQ=DAILY;BYHOUR=8;BYMINUTE=0;BYSECOND=0",
			StaleAfter: 6 * time.Hour,
			Recipients: recipients,
		},
	}
}

var digestNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestSendStaleNeedDigest_NotConfigured(t *testing.T) {
	e := newTestEngine()

	_, err := SendStaleNeedDigest(context.Background(), e.store, e.reg, e.sink, &mockGmailClient{}, &config.Config{}, zap.NewNop(), digestNow, false)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestSendStaleNeedDigest_RemindsOwnersAndMailsCoordinators(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	owner2 := model.Actor{ID: "v-2", Role: model.RoleVictim, Name: "Omar"}

	stale := e.postAt(t, victim, model.ResourceNeed, "Drinking water", true, digestNow.Add(-12*time.Hour))
	staleToo := e.postAt(t, owner2, model.ResourceNeed, "Baby formula", false, digestNow.Add(-7*time.Hour))
	e.postAt(t, victim, model.ResourceNeed, "Fresh need", false, digestNow.Add(-1*time.Hour))
	e.postAt(t, ngo, model.ResourceOffer, "Old offer", false, digestNow.Add(-48*time.Hour))
	taken := e.postAt(t, victim, model.ResourceNeed, "Already taken", false, digestNow.Add(-24*time.Hour))

	_, err := Respond(ctx, e.coord, zap.NewNop(), volunteer, taken.ID)
	require.NoError(t, err)

	gmail := &mockGmailClient{}
	result, err := SendStaleNeedDigest(ctx, e.store, e.reg, e.sink, gmail, digestConfig("lead@example.org"), zap.NewNop(), digestNow, false)
	require.NoError(t, err)

	assert.True(t, result.Due)
	assert.False(t, result.ClaimedElsewhere)
	require.Len(t, result.Stale, 2)
	assert.Equal(t, stale.ID, result.Stale[0].ID)
	assert.Equal(t, staleToo.ID, result.Stale[1].ID)
	assert.ElementsMatch(t, []string{stale.ID, staleToo.ID}, result.Reminded)
	assert.Empty(t, result.FailedReminders)

	assert.Equal(t, []string{"lead@example.org"}, result.Emailed)
	require.Len(t, gmail.bodies, 1)
	assert.Equal(t, "Relief digest: 2 needs waiting for help", gmail.subjects[0])
	assert.Contains(t, gmail.bodies[0], "Drinking water [URGENT]")
	assert.Contains(t, gmail.bodies[0], "Baby formula")
	assert.NotContains(t, gmail.bodies[0], "Fresh need")
	assert.NotContains(t, gmail.bodies[0], "Already taken")

	inbox, err := e.sink.List(ctx, owner2.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotificationReminder, inbox[0].Type)
	assert.Contains(t, inbox[0].Message, "Baby formula")

	assert.Equal(t, digestNow, result.LastSent)
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), result.NextAt)
}

func TestSendStaleNeedDigest_FollowsSchedule(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	cfg := digestConfig()
	e.postAt(t, victim, model.ResourceNeed, "Water", false, digestNow.Add(-24*time.Hour))

	first, err := SendStaleNeedDigest(ctx, e.store, e.reg, e.sink, nil, cfg, zap.NewNop(), digestNow, false)
	require.NoError(t, err)
	assert.True(t, first.Due)
	assert.Len(t, first.Reminded, 1)

	// Same day, after the 08:00 run: next occurrence is tomorrow
	later, err := SendStaleNeedDigest(ctx, e.store, e.reg, e.sink, nil, cfg, zap.NewNop(), digestNow.Add(3*time.Hour), false)
	require.NoError(t, err)
	assert.False(t, later.Due)
	assert.Empty(t, later.Reminded)
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), later.NextAt)

	forced, err := SendStaleNeedDigest(ctx, e.store, e.reg, e.sink, nil, cfg, zap.NewNop(), digestNow.Add(4*time.Hour), true)
	require.NoError(t, err)
	assert.True(t, forced.Due)
	assert.Len(t, forced.Reminded, 1)

	nextDay, err := SendStaleNeedDigest(ctx, e.store, e.reg, e.sink, nil, cfg, zap.NewNop(), time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), false)
	require.NoError(t, err)
	assert.True(t, nextDay.Due)

	inbox, err := e.sink.List(ctx, victim.ID)
	require.NoError(t, err)
	assert.Len(t, inbox, 3)
}

func TestSendStaleNeedDigest_RecordsFailures(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	owner2 := model.Actor{ID: "v-2", Role: model.RoleVictim}
	e.postAt(t, victim, model.ResourceNeed, "Water", false, digestNow.Add(-24*time.Hour))
	bad := e.postAt(t, owner2, model.ResourceNeed, "Tarp", false, digestNow.Add(-24*time.Hour))

	sink := &failingSink{Sink: e.sink, failFor: map[string]bool{owner2.ID: true}}
	gmail := &mockGmailClient{failFor: map[string]bool{"down@example.org": true}}

	result, err := SendStaleNeedDigest(ctx, e.store, e.reg, sink, gmail, digestConfig("ok@example.org", "down@example.org"), zap.NewNop(), digestNow, false)
	require.NoError(t, err)

	assert.Len(t, result.Reminded, 1)
	require.Len(t, result.FailedReminders, 1)
	assert.Equal(t, bad.ID, result.FailedReminders[0].ResourceID)
	assert.Equal(t, owner2.ID, result.FailedReminders[0].OwnerID)

	assert.Equal(t, []string{"ok@example.org"}, result.Emailed)
	require.Len(t, result.FailedEmails, 1)
	assert.Equal(t, "down@example.org", result.FailedEmails[0].Recipient)
}

// racingStore lets another agent claim the digest between read and claim
type racingStore struct {
	*kv.MemoryStore
}

func (r *racingStore) CompareAndSet(ctx context.Context, table, key string, expected int64, value []byte) (int64, error) {
	if table == kv.TableMeta {
		if _, err := r.MemoryStore.Put(ctx, table, key, []byte(`{"lastSent":"2026-03-02T08:30:00Z"}`)); err != nil {
			return 0, err
		}
	}
	return r.MemoryStore.CompareAndSet(ctx, table, key, expected, value)
}

func TestSendStaleNeedDigest_ClaimedByAnotherAgent(t *testing.T) {
	e := newTestEngine()
	e.postAt(t, victim, model.ResourceNeed, "Water", false, digestNow.Add(-24*time.Hour))
	gmail := &mockGmailClient{}

	result, err := SendStaleNeedDigest(context.Background(), &racingStore{e.store}, e.reg, e.sink, gmail, digestConfig("lead@example.org"), zap.NewNop(), digestNow, false)
	require.NoError(t, err)

	assert.True(t, result.Due)
	assert.True(t, result.ClaimedElsewhere)
	assert.Empty(t, result.Reminded)
	assert.Empty(t, gmail.sentEmails)
}

func TestNextDigestAfter(t *testing.T) {
	next, err := nextDigestAfter("FREQ=DAILY;BYHOUR=8;BYMINUTE=0;BYSECOND=0", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), next)

	next, err = nextDigestAfter("FREQ=WEEKLY;BYDAY=MO;BYHOUR=8;BYMINUTE=0;BYSECOND=0", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC), next)

	_, err = nextDigestAfter("NOT_A_RULE", time.Now())
	assert.Error(t, err)
}
