package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/types"
)

func newTestAllocator(t *testing.T, c *Client, workerID string, clk clock.Clock) *Allocator {
	t.Helper()
	a := NewAllocator(c, workerID, "", filepath.Join(t.TempDir(), "addresses.json"), clk)
	a.WaitInterval = time.Millisecond
	return a
}

// Two workers racing for slices on a cold registry must end up with
// disjoint 5-address ranges and the cursor at 10.
func TestReserveColdStartRace(t *testing.T) {
	store := objectstore.NewMemoryStore()
	c := newTestClient(store)
	ctx := context.Background()
	require.NoError(t, c.Seed(ctx, testAddresses(20), 5))

	results := make(map[string][]string)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range []string{"W1", "W2"} {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			a := newTestAllocator(t, newTestClient(store), workerID, clock.New())
			addrs, err := a.Reserve(ctx)
			require.NoError(t, err)
			mu.Lock()
			results[workerID] = addrs
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	require.Len(t, results["W1"], 5)
	require.Len(t, results["W2"], 5)

	seen := make(map[string]bool)
	for _, addrs := range results {
		for _, addr := range addrs {
			assert.False(t, seen[addr], "address %s assigned twice", addr)
			seen[addr] = true
		}
	}

	reg, _, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, reg.NextAvailable)
	require.NoError(t, reg.Validate())
}

// Repeated reservations by the same worker return the same list until the
// assignment is reclaimed.
func TestReserveIdempotent(t *testing.T) {
	store := objectstore.NewMemoryStore()
	c := newTestClient(store)
	ctx := context.Background()
	require.NoError(t, c.Seed(ctx, testAddresses(20), 5))

	first, err := newTestAllocator(t, c, "W1", clock.New()).Reserve(ctx)
	require.NoError(t, err)

	// A fresh allocator (new cache path) simulates a worker that lost its
	// local disk but kept its registry assignment.
	second, err := newTestAllocator(t, c, "W1", clock.New()).Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	reg, _, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, reg.NextAvailable)
	assert.Len(t, reg.Assignments, 1)
}

// A matching cache file satisfies Reserve without any registry I/O.
func TestReserveCacheFirst(t *testing.T) {
	store := objectstore.NewMemoryStore()
	c := newTestClient(store)
	a := newTestAllocator(t, c, "W1", clock.New())

	cache := types.AddressCache{
		WorkerID:  "W1",
		Addresses: []string{"a0", "a1", "a2"},
		SavedAt:   time.Now(),
	}
	data, err := json.Marshal(cache)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.CachePath, data, 0644))

	addrs, err := a.Reserve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cache.Addresses, addrs)
	assert.Zero(t, store.GetCount[objectstore.KeyRegistry], "registry must not be read on warm boot")
}

// A cache belonging to another worker is ignored.
func TestReserveIgnoresForeignCache(t *testing.T) {
	store := objectstore.NewMemoryStore()
	c := newTestClient(store)
	ctx := context.Background()
	require.NoError(t, c.Seed(ctx, testAddresses(20), 5))

	a := newTestAllocator(t, c, "W2", clock.New())
	cache := types.AddressCache{WorkerID: "W1", Addresses: []string{"a0"}}
	data, _ := json.Marshal(cache)
	require.NoError(t, os.WriteFile(a.CachePath, data, 0644))

	addrs, err := a.Reserve(ctx)
	require.NoError(t, err)
	assert.Len(t, addrs, 5)
	assert.NotEqual(t, []string{"a0"}, addrs)
}

func TestReserveExhausted(t *testing.T) {
	store := objectstore.NewMemoryStore()
	c := newTestClient(store)
	ctx := context.Background()
	require.NoError(t, c.Seed(ctx, testAddresses(8), 5))

	_, err := newTestAllocator(t, c, "W1", clock.New()).Reserve(ctx)
	require.NoError(t, err)

	// 3 addresses remain, K=5: nothing left for W2.
	_, err = newTestAllocator(t, c, "W2", clock.New()).Reserve(ctx)
	assert.ErrorIs(t, err, ErrRegistryExhausted)
}

// The boot path drops assignments whose owner went quiet past the tight
// threshold, but never lowers the cursor: the freed range stays a hole.
func TestReserveOpportunisticReclaim(t *testing.T) {
	store := objectstore.NewMemoryStore()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	c := NewClient(store, mock)
	c.SetBackoff(time.Millisecond, 5*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, c.Seed(ctx, testAddresses(20), 5))

	_, err := newTestAllocator(t, c, "W1", mock).Reserve(ctx)
	require.NoError(t, err)

	// W1 goes silent for two minutes, beyond the 90s boot threshold.
	mock.Add(2 * time.Minute)

	addrs, err := newTestAllocator(t, c, "W2", mock).Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAddresses(20)[5:10], addrs)

	reg, _, err := c.Get(ctx)
	require.NoError(t, err)
	assert.NotContains(t, reg.Assignments, "W1")
	assert.Contains(t, reg.Assignments, "W2")
	assert.Equal(t, 10, reg.NextAvailable)
	require.NoError(t, reg.Validate())
}

// A worker whose registry assignment is old but whose heartbeat file is
// fresh must survive a peer's boot: the boot-path staleness check reads
// the heartbeat files, not the registry-resident timestamp.
func TestReserveSparesHeartbeatingWorker(t *testing.T) {
	store := objectstore.NewMemoryStore()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	c := NewClient(store, mock)
	c.SetBackoff(time.Millisecond, 5*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, c.Seed(ctx, testAddresses(20), 5))

	_, err := newTestAllocator(t, c, "W1", mock).Reserve(ctx)
	require.NoError(t, err)

	// W1 beats every minute; its assignment record is never rewritten.
	hb := NewHeartbeater(store, "W1", "", mock)
	mock.Add(time.Minute)
	require.NoError(t, hb.Beat(ctx))
	mock.Add(time.Minute)
	require.NoError(t, hb.Beat(ctx))

	// W2 boots two minutes after W1 reserved.
	addrs, err := newTestAllocator(t, c, "W2", mock).Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAddresses(20)[5:10], addrs)

	reg, _, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, reg.Assignments, "W1", "live worker's assignment must survive a peer's boot")
	assert.Contains(t, reg.Assignments, "W2")
	assert.Equal(t, 10, reg.NextAvailable)
	require.NoError(t, reg.Validate())
}

func TestReserveWaitsForSeed(t *testing.T) {
	store := objectstore.NewMemoryStore()
	c := newTestClient(store)
	ctx := context.Background()

	a := newTestAllocator(t, c, "W1", clock.New())
	a.WaitAttempts = 5

	// Seed the registry after a delay, while Reserve is polling.
	go func() {
		time.Sleep(3 * time.Millisecond)
		_ = newTestClient(store).Seed(ctx, testAddresses(10), 5)
	}()

	addrs, err := a.Reserve(ctx)
	require.NoError(t, err)
	assert.Len(t, addrs, 5)
}

func TestReserveGivesUpWhenNeverSeeded(t *testing.T) {
	store := objectstore.NewMemoryStore()
	c := newTestClient(store)

	a := newTestAllocator(t, c, "W1", clock.New())
	a.WaitAttempts = 3

	_, err := a.Reserve(context.Background())
	assert.ErrorIs(t, err, ErrRegistryMissing)
}
