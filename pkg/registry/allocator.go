package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/metrics"
	"github.com/nightcloud/nightfleet/pkg/types"
)

// Allocator reserves a contiguous address slice for one worker on boot.
// Reservation is idempotent per worker ID and cache-first: a warm restart
// never touches the registry.
type Allocator struct {
	reg      *Client
	workerID string
	endpoint string
	clock    clock.Clock
	logger   zerolog.Logger

	// CachePath is the local allocation cache file (addresses.json).
	CachePath string

	// StaleThreshold is the tight reclaim threshold used on the boot
	// path, where a caller is actively waiting for a slot.
	StaleThreshold time.Duration

	// WaitAttempts and WaitInterval bound how long Reserve waits for the
	// controller to finish seeding an absent registry.
	WaitAttempts int
	WaitInterval time.Duration
}

// NewAllocator creates an allocator for the given worker identity.
func NewAllocator(reg *Client, workerID, endpoint, cachePath string, clk clock.Clock) *Allocator {
	if clk == nil {
		clk = clock.New()
	}
	return &Allocator{
		reg:            reg,
		workerID:       workerID,
		endpoint:       endpoint,
		clock:          clk,
		logger:         log.WithComponent("allocator"),
		CachePath:      cachePath,
		StaleThreshold: 90 * time.Second,
		WaitAttempts:   10,
		WaitInterval:   5 * time.Second,
	}
}

// Reserve returns the ordered address list this worker will mine.
//
// Order of attempts: local cache (restart fast path), existing assignment
// in the registry (idempotent re-reservation), then a fresh slice at the
// nextAvailable cursor. Stale assignments encountered on the way are
// opportunistically dropped; their ranges are skipped, never reused.
func (a *Allocator) Reserve(ctx context.Context) ([]string, error) {
	if cached := a.readCache(); cached != nil {
		a.logger.Info().
			Int("addresses", len(cached)).
			Str("cache", a.CachePath).
			Msg("using cached allocation")
		return cached, nil
	}

	var assigned []string
	for attempt := 0; ; attempt++ {
		// Staleness is judged against the heartbeat files, not the
		// registry-resident timestamp: the registry copy is written once
		// at reservation and never refreshed. When the files cannot be
		// listed, skip reclaiming rather than drop a possibly live peer.
		beats, err := listHeartbeats(ctx, a.reg.store, a.logger)
		if err != nil {
			a.logger.Warn().Err(err).Msg("heartbeats unreadable, skipping opportunistic reclaim")
			beats = nil
		}

		reg, err := a.reg.Update(ctx, AllocatorAttempts, func(r *types.Registry) error {
			return a.reserve(r, beats, &assigned)
		})
		if errors.Is(err, ErrRegistryMissing) {
			if attempt+1 >= a.WaitAttempts {
				return nil, fmt.Errorf("registry still missing after %d attempts: %w", a.WaitAttempts, err)
			}
			a.logger.Info().Msg("registry not seeded yet, waiting")
			if err := a.sleep(ctx, a.WaitInterval); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		_ = reg
		break
	}

	if err := a.writeCache(assigned); err != nil {
		// The assignment is durable in the registry; a failed cache write
		// only costs a registry read on next boot.
		a.logger.Warn().Err(err).Msg("failed to persist allocation cache")
	}

	a.logger.Info().
		Int("addresses", len(assigned)).
		Msg("address slice reserved")
	metrics.AddressesAssigned.Set(float64(len(assigned)))
	return assigned, nil
}

// reserve applies one reservation attempt to an in-memory registry copy.
// beats carries the heartbeat-file timestamps (nil when unlistable);
// assigned receives the worker's address list on success.
func (a *Allocator) reserve(r *types.Registry, beats map[string]time.Time, assigned *[]string) error {
	// Idempotent re-reservation: a worker that lost its cache but kept
	// its assignment gets the same slice back without a write.
	if existing, ok := r.Assignments[a.workerID]; ok {
		*assigned = existing.Addresses
		return ErrNoChange
	}

	now := a.clock.Now().UTC()

	// Opportunistic reclaim on the boot path: drop assignments whose
	// owner has gone quiet past the tight threshold, judged by the most
	// recent of the heartbeat file and the assignment time. The cursor
	// stays put; freed ranges become holes.
	if beats != nil {
		for id, as := range r.Assignments {
			lastSeen := as.FreshAt()
			if beat, ok := beats[id]; ok && beat.After(lastSeen) {
				lastSeen = beat
			}
			if now.Sub(lastSeen) > a.StaleThreshold {
				a.logger.Info().
					Str("stale_worker", id).
					Time("last_seen", lastSeen).
					Msg("dropping stale assignment during reservation")
				delete(r.Assignments, id)
			}
		}
	}

	k := r.AddressesPerInstance
	if r.NextAvailable+k-1 >= len(r.Addresses) {
		return ErrRegistryExhausted
	}

	start := r.NextAvailable
	end := start + k - 1
	addrs := make([]string, k)
	copy(addrs, r.Addresses[start:end+1])

	hb := now
	r.Assignments[a.workerID] = &types.Assignment{
		WorkerID:       a.workerID,
		PublicEndpoint: a.endpoint,
		StartAddress:   start,
		EndAddress:     end,
		Addresses:      addrs,
		AssignedAt:     now,
		LastHeartbeat:  &hb,
	}
	r.NextAvailable = end + 1

	*assigned = addrs
	return nil
}

// readCache returns the cached address list when the cache file exists and
// belongs to this worker, nil otherwise.
func (a *Allocator) readCache() []string {
	data, err := os.ReadFile(a.CachePath)
	if err != nil {
		return nil
	}
	var cache types.AddressCache
	if err := json.Unmarshal(data, &cache); err != nil {
		a.logger.Warn().Err(err).Msg("ignoring corrupt allocation cache")
		return nil
	}
	if cache.WorkerID != a.workerID || len(cache.Addresses) == 0 {
		return nil
	}
	return cache.Addresses
}

func (a *Allocator) writeCache(addresses []string) error {
	cache := types.AddressCache{
		WorkerID:  a.workerID,
		Addresses: addresses,
		SavedAt:   a.clock.Now().UTC(),
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.CachePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(a.CachePath, data, 0644)
}

func (a *Allocator) sleep(ctx context.Context, d time.Duration) error {
	timer := a.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
