package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/types"
)

// statsAttempts bounds the CAS loop for the stats object. Stats are
// advisory telemetry: exhausting the attempts is logged and swallowed,
// never surfaced to the submitter.
const statsAttempts = 5

// maxStatsJitter bounds the random sleep between stats CAS attempts.
const maxStatsJitter = 100 * time.Millisecond

// StatsLedger maintains the fleet-wide aggregate under optimistic lock.
type StatsLedger struct {
	store  objectstore.Store
	clock  clock.Clock
	logger zerolog.Logger
	rand   *rand.Rand
}

// NewStatsLedger creates a stats ledger over the given store.
func NewStatsLedger(store objectstore.Store, clk clock.Clock) *StatsLedger {
	if clk == nil {
		clk = clock.New()
	}
	return &StatsLedger{
		store:  store,
		clock:  clk,
		logger: log.WithComponent("stats"),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Load fetches the current stats. A missing object yields zero stats.
func (s *StatsLedger) Load(ctx context.Context) (*types.Stats, error) {
	stats, _, err := s.load(ctx)
	return stats, err
}

func (s *StatsLedger) load(ctx context.Context) (*types.Stats, string, error) {
	obj, err := s.store.Get(ctx, objectstore.KeyStats)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return &types.Stats{}, "", nil
		}
		return nil, "", fmt.Errorf("failed to read stats: %w", err)
	}
	var stats types.Stats
	if err := json.Unmarshal(obj.Data, &stats); err != nil {
		return nil, "", fmt.Errorf("failed to decode stats: %w", err)
	}
	return &stats, obj.ETag, nil
}

// RecordSolution bumps the solution counters and unshifts into the recent
// list. Donation solutions additionally bump donationSolutions.
func (s *StatsLedger) RecordSolution(ctx context.Context, rec types.RecentSolution, donation bool) {
	s.update(ctx, func(stats *types.Stats) {
		stats.TotalSolutions++
		if donation {
			stats.DonationSolutions++
		}
		stats.RecentSolutions = append([]types.RecentSolution{rec}, stats.RecentSolutions...)
		if len(stats.RecentSolutions) > types.RecentEntryCap {
			stats.RecentSolutions = stats.RecentSolutions[:types.RecentEntryCap]
		}
	})
}

// RecordError bumps the error counter and unshifts into recentErrors.
func (s *StatsLedger) RecordError(ctx context.Context, rec types.RecentError) {
	s.update(ctx, func(stats *types.Stats) {
		stats.TotalErrors++
		stats.RecentErrors = append([]types.RecentError{rec}, stats.RecentErrors...)
		if len(stats.RecentErrors) > types.RecentEntryCap {
			stats.RecentErrors = stats.RecentErrors[:types.RecentEntryCap]
		}
	})
}

// update runs the bounded CAS loop with jittered backoff. All failure
// modes are logged and dropped.
func (s *StatsLedger) update(ctx context.Context, mutate func(*types.Stats)) {
	for attempt := 1; attempt <= statsAttempts; attempt++ {
		stats, etag, err := s.load(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("stats read failed, dropping update")
			return
		}

		mutate(stats)
		stats.LastUpdated = s.clock.Now().UTC()

		data, err := json.Marshal(stats)
		if err != nil {
			s.logger.Warn().Err(err).Msg("stats encode failed, dropping update")
			return
		}

		outcome, err := s.store.PutIf(ctx, objectstore.KeyStats, data, etag)
		switch outcome {
		case objectstore.Committed:
			return
		case objectstore.PreconditionFailed:
			// Another worker won; jitter and re-read.
		case objectstore.TransientError:
			s.logger.Debug().Err(err).Int("attempt", attempt).Msg("stats write failed")
		}

		if attempt < statsAttempts {
			s.jitter(ctx)
		}
	}
	s.logger.Warn().Msg("stats update dropped after contention")
}

func (s *StatsLedger) jitter(ctx context.Context) {
	d := time.Duration(s.rand.Int63n(int64(maxStatsJitter)))
	timer := s.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
