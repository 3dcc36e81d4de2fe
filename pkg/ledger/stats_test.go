package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/types"
)

func TestStatsCounters(t *testing.T) {
	store := objectstore.NewMemoryStore()
	s := NewStatsLedger(store, clock.New())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.RecordSolution(ctx, types.RecentSolution{
			Address:     fmt.Sprintf("addr%d", i),
			ChallengeID: "C1",
		}, false)
	}
	s.RecordSolution(ctx, types.RecentSolution{Address: "donation-addr", ChallengeID: "C1"}, true)
	for i := 0; i < 2; i++ {
		s.RecordError(ctx, types.RecentError{Address: "addr0", ChallengeID: "C2", Message: "boom"})
	}

	stats, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalSolutions)
	assert.Equal(t, 1, stats.DonationSolutions)
	assert.Equal(t, 2, stats.TotalErrors)
	assert.Len(t, stats.RecentSolutions, 4)
	assert.Len(t, stats.RecentErrors, 2)
}

func TestStatsRecentCapStrict(t *testing.T) {
	store := objectstore.NewMemoryStore()
	s := NewStatsLedger(store, clock.New())
	ctx := context.Background()

	for i := 0; i < types.RecentEntryCap+7; i++ {
		s.RecordSolution(ctx, types.RecentSolution{
			Address:     fmt.Sprintf("addr%d", i),
			ChallengeID: "C1",
		}, false)
	}

	stats, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RecentEntryCap+7, stats.TotalSolutions)
	require.Len(t, stats.RecentSolutions, types.RecentEntryCap)
	// Newest entry first; oldest dropped.
	assert.Equal(t, fmt.Sprintf("addr%d", types.RecentEntryCap+6), stats.RecentSolutions[0].Address)
}

// Two workers recording concurrently must both land: counters advance by
// two and each record appears exactly once.
func TestStatsConcurrentWorkers(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, addr := range []string{"addr-a", "addr-b"} {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			s := NewStatsLedger(store, clock.New())
			s.RecordSolution(ctx, types.RecentSolution{Address: address, ChallengeID: "C1"}, false)
		}(addr)
	}
	wg.Wait()

	stats, err := NewStatsLedger(store, clock.New()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSolutions)

	counts := make(map[string]int)
	for _, rec := range stats.RecentSolutions {
		counts[rec.Address]++
	}
	assert.Equal(t, 1, counts["addr-a"])
	assert.Equal(t, 1, counts["addr-b"])
}

func TestStatsLoadEmpty(t *testing.T) {
	s := NewStatsLedger(objectstore.NewMemoryStore(), clock.New())
	stats, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSolutions)
	assert.Empty(t, stats.RecentSolutions)
}
