package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/types"
)

// challengeCASAttempts bounds the upsert loop. The cache sees one writer
// per fetch interval per worker, so contention is rare.
const challengeCASAttempts = 5

// ChallengeLedger maintains the shared queue of known challenges
// (challenges.json) under optimistic lock.
type ChallengeLedger struct {
	store  objectstore.Store
	region string
	clock  clock.Clock
	logger zerolog.Logger
}

// NewChallengeLedger creates a challenge ledger for the region.
func NewChallengeLedger(store objectstore.Store, region string, clk clock.Clock) *ChallengeLedger {
	if clk == nil {
		clk = clock.New()
	}
	return &ChallengeLedger{
		store:  store,
		region: region,
		clock:  clk,
		logger: log.WithComponent("challenges"),
	}
}

// Load fetches the cache and its ETag. A missing object yields an empty
// cache with an empty ETag (create-only write on next upsert).
func (c *ChallengeLedger) Load(ctx context.Context) (*types.ChallengeCache, string, error) {
	obj, err := c.store.Get(ctx, objectstore.KeyChallenges)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return &types.ChallengeCache{Region: c.region}, "", nil
		}
		return nil, "", fmt.Errorf("failed to read challenge cache: %w", err)
	}
	var cache types.ChallengeCache
	if err := json.Unmarshal(obj.Data, &cache); err != nil {
		return nil, "", fmt.Errorf("failed to decode challenge cache: %w", err)
	}
	return &cache, obj.ETag, nil
}

// Upsert inserts or replaces a challenge keyed by challengeId, dropping
// expired entries on the way.
func (c *ChallengeLedger) Upsert(ctx context.Context, qc types.QueuedChallenge) error {
	return c.mutate(ctx, func(cache *types.ChallengeCache) {
		replaced := false
		for i := range cache.Challenges {
			if cache.Challenges[i].ChallengeID == qc.ChallengeID {
				cache.Challenges[i] = qc
				replaced = true
				break
			}
		}
		if !replaced {
			cache.Challenges = append(cache.Challenges, qc)
		}
	})
}

// Prune drops expired challenges. A no-op when nothing expired.
func (c *ChallengeLedger) Prune(ctx context.Context) error {
	return c.mutate(ctx, func(cache *types.ChallengeCache) {})
}

// Active returns the unexpired challenges.
func (c *ChallengeLedger) Active(ctx context.Context) ([]types.QueuedChallenge, error) {
	cache, _, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	var active []types.QueuedChallenge
	for _, qc := range cache.Challenges {
		if !qc.Expired(now) {
			active = append(active, qc)
		}
	}
	return active, nil
}

// mutate runs the CAS loop, always filtering expired challenges before the
// caller's change is applied.
func (c *ChallengeLedger) mutate(ctx context.Context, apply func(*types.ChallengeCache)) error {
	for attempt := 1; attempt <= challengeCASAttempts; attempt++ {
		cache, etag, err := c.Load(ctx)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		kept := cache.Challenges[:0]
		for _, qc := range cache.Challenges {
			if !qc.Expired(now) {
				kept = append(kept, qc)
			}
		}
		cache.Challenges = kept

		apply(cache)
		cache.LastUpdated = now.UTC()
		cache.Region = c.region

		data, err := json.Marshal(cache)
		if err != nil {
			return fmt.Errorf("failed to encode challenge cache: %w", err)
		}

		outcome, err := c.store.PutIf(ctx, objectstore.KeyChallenges, data, etag)
		switch outcome {
		case objectstore.Committed:
			return nil
		case objectstore.PreconditionFailed:
			c.logger.Debug().Int("attempt", attempt).Msg("challenge cache CAS lost, retrying")
		case objectstore.TransientError:
			c.logger.Warn().Err(err).Msg("challenge cache write failed, retrying")
		}
		c.sleep(ctx, 50*time.Millisecond)
	}
	return fmt.Errorf("challenge cache update exhausted %d attempts", challengeCASAttempts)
}

func (c *ChallengeLedger) sleep(ctx context.Context, d time.Duration) {
	timer := c.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
