// Package kvtest holds the behaviour every kv.Store backend must share.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/relief-coordination/pkg/kv"
)

// Factory returns an empty store. Cleanup is registered by the factory.
type Factory func(t *testing.T) kv.Store

// Run exercises a backend against the kv.Store contract
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutVersions", func(t *testing.T) { testPutVersions(t, newStore(t)) })
	t.Run("CompareAndSet", func(t *testing.T) { testCompareAndSet(t, newStore(t)) })
	t.Run("TablesAreIsolated", func(t *testing.T) { testTablesIsolated(t, newStore(t)) })
	t.Run("ListPrefix", func(t *testing.T) { testListPrefix(t, newStore(t)) })
	t.Run("ConcurrentCreateOneWinner", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("WatchSeesWrites", func(t *testing.T) { testWatch(t, newStore(t)) })
}

func testGetMissing(t *testing.T, s kv.Store) {
	_, err := s.Get(context.Background(), kv.TableResources, "missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testPutVersions(t *testing.T, s kv.Store) {
	ctx := context.Background()

	v1, err := s.Put(ctx, kv.TableResources, "r1", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := s.Put(ctx, kv.TableResources, "r1", []byte(`{"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	e, err := s.Get(ctx, kv.TableResources, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", e.Key)
	assert.Equal(t, int64(2), e.Version)
	assert.JSONEq(t, `{"a":2}`, string(e.Value))
}

func testCompareAndSet(t *testing.T, s kv.Store) {
	ctx := context.Background()

	v, err := s.CompareAndSet(ctx, kv.TableResources, "r1", 0, []byte(`"first"`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = s.CompareAndSet(ctx, kv.TableResources, "r1", 0, []byte(`"again"`))
	assert.ErrorIs(t, err, kv.ErrVersionMismatch)

	_, err = s.CompareAndSet(ctx, kv.TableResources, "r1", 5, []byte(`"stale"`))
	assert.ErrorIs(t, err, kv.ErrVersionMismatch)

	v, err = s.CompareAndSet(ctx, kv.TableResources, "r1", 1, []byte(`"second"`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = s.CompareAndSet(ctx, kv.TableResources, "absent", 3, []byte(`"x"`))
	assert.ErrorIs(t, err, kv.ErrVersionMismatch)

	e, err := s.Get(ctx, kv.TableResources, "r1")
	require.NoError(t, err)
	assert.Equal(t, `"second"`, string(e.Value))
}

func testTablesIsolated(t *testing.T, s kv.Store) {
	ctx := context.Background()

	_, err := s.Put(ctx, kv.TableResponses, "user:a", []byte(`[]`))
	require.NoError(t, err)

	_, err = s.Get(ctx, kv.TableNotifications, "user:a")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	entries, err := s.List(ctx, kv.TableNotifications, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testListPrefix(t *testing.T, s kv.Store) {
	ctx := context.Background()

	for _, key := range []string{"r2/b", "r1/b", "r1/a", "r10/a", "r1_x"} {
		_, err := s.Put(ctx, kv.TableResponders, key, []byte(`{}`))
		require.NoError(t, err)
	}

	entries, err := s.List(ctx, kv.TableResponders, "r1/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "r1/a", entries[0].Key)
	assert.Equal(t, "r1/b", entries[1].Key)

	all, err := s.List(ctx, kv.TableResponders, "")
	require.NoError(t, err)
	keys := make([]string, len(all))
	for i, e := range all {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{"r1/a", "r1/b", "r10/a", "r1_x", "r2/b"}, keys)

	none, err := s.List(ctx, kv.TableResponders, "r1%")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testConcurrentCreate(t *testing.T, s kv.Store) {
	ctx := context.Background()
	const agents = 8

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CompareAndSet(ctx, kv.TableResources, "contested", 0, []byte(fmt.Sprintf(`%d`, i)))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, kv.ErrVersionMismatch), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func testWatch(t *testing.T, s kv.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx, kv.TableResources)
	require.NoError(t, err)

	// Polling backends take their baseline asynchronously; keep writing
	// until a change for the key arrives.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case c, ok := <-changes:
			require.True(t, ok, "watch channel closed early")
			if c.Key != "watched" {
				continue
			}
			assert.Equal(t, kv.TableResources, c.Table)
			assert.Positive(t, c.Version)
			return
		case <-tick.C:
			_, err := s.Put(context.Background(), kv.TableResources, "watched", []byte(`{}`))
			require.NoError(t, err)
		case <-deadline:
			t.Fatal("no change received for watched key")
		}
	}
}
