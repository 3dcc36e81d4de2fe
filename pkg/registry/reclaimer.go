package registry

import (
	"context"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/cloud"
	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/metrics"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/types"
)

// Reclaimer periodically drops assignments of dead workers. Exactly one
// worker per region should run a reclaim pass at a time; leadership is
// decided by sorting the live worker IDs reported by the compute provider
// and proceeding only when this worker sorts first. The occasional race
// between two would-be leaders is harmless: the registry CAS lets only one
// of them commit.
type Reclaimer struct {
	reg      *Client
	store    objectstore.Store
	compute  cloud.ComputeProvider
	workerID string
	clock    clock.Clock
	logger   zerolog.Logger

	// Interval between reclaim passes.
	Interval time.Duration

	// StaleThreshold is the loose steady-state threshold: an assignment
	// whose heartbeat (or, lacking one, assignment time) is older than
	// this is reclaimed.
	StaleThreshold time.Duration
}

// NewReclaimer creates a reclaimer for the given worker identity.
func NewReclaimer(reg *Client, store objectstore.Store, compute cloud.ComputeProvider, workerID string, clk clock.Clock) *Reclaimer {
	if clk == nil {
		clk = clock.New()
	}
	return &Reclaimer{
		reg:            reg,
		store:          store,
		compute:        compute,
		workerID:       workerID,
		clock:          clk,
		logger:         log.WithComponent("reclaimer"),
		Interval:       20 * time.Minute,
		StaleThreshold: 30 * time.Minute,
	}
}

// Run executes reclaim passes on every interval until the context ends.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := r.clock.Ticker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			leader, err := r.IsLeader(ctx)
			if err != nil {
				r.logger.Warn().Err(err).Msg("leader check failed, skipping reclaim pass")
				continue
			}
			if !leader {
				metrics.ReclaimLeader.Set(0)
				continue
			}
			metrics.ReclaimLeader.Set(1)
			reclaimed, err := r.ReclaimOnce(ctx)
			if err != nil {
				r.logger.Warn().Err(err).Msg("reclaim pass failed")
				continue
			}
			if reclaimed > 0 {
				r.logger.Info().Int("reclaimed", reclaimed).Msg("reclaim pass complete")
			}
		case <-ctx.Done():
			return
		}
	}
}

// IsLeader reports whether this worker currently wins the deterministic
// election: first in the sorted list of live worker IDs.
func (r *Reclaimer) IsLeader(ctx context.Context) (bool, error) {
	ids, err := r.compute.ListWorkers(ctx)
	if err != nil {
		return false, err
	}
	if len(ids) == 0 {
		return false, nil
	}
	// Sort a copy; the provider may hand back a slice it still owns.
	ids = append([]string(nil), ids...)
	sort.Strings(ids)
	return ids[0] == r.workerID, nil
}

// ReclaimOnce runs a single reclaim pass: read all heartbeat files, drop
// every assignment whose owner has gone quiet past the stale threshold,
// and delete the orphaned heartbeat files. The nextAvailable cursor is
// never modified; freed ranges remain holes.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) (int, error) {
	beats, err := listHeartbeats(ctx, r.store, r.logger)
	if err != nil {
		return 0, err
	}

	now := r.clock.Now().UTC()
	var reclaimed []string
	_, err = r.reg.Update(ctx, ReclaimerAttempts, func(reg *types.Registry) error {
		reclaimed = reclaimed[:0]
		for id, as := range reg.Assignments {
			lastSeen, hasBeat := beats[id]
			if !hasBeat {
				lastSeen = as.AssignedAt
			}
			if now.Sub(lastSeen) > r.StaleThreshold {
				reclaimed = append(reclaimed, id)
			}
		}
		if len(reclaimed) == 0 {
			return ErrNoChange
		}
		for _, id := range reclaimed {
			r.logger.Info().
				Str("dead_worker", id).
				Msg("reclaiming assignment")
			delete(reg.Assignments, id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range reclaimed {
		if err := r.store.Delete(ctx, objectstore.HeartbeatKey(id)); err != nil {
			r.logger.Warn().Err(err).Str("worker", id).Msg("failed to delete heartbeat file")
		}
	}
	metrics.AddressesReclaimed.Add(float64(len(reclaimed)))
	return len(reclaimed), nil
}
