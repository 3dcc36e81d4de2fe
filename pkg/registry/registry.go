package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/metrics"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/types"
)

var (
	// ErrRegistryMissing means registry.json does not exist yet; the
	// controller may still be seeding.
	ErrRegistryMissing = errors.New("registry not seeded")

	// ErrRegistryContention means a CAS update lost every attempt.
	ErrRegistryContention = errors.New("registry contention: conditional writes exhausted")

	// ErrRegistryExhausted means no unassigned address slice remains.
	ErrRegistryExhausted = errors.New("registry exhausted: no addresses left to assign")

	// ErrNoChange may be returned by an Update mutator to signal that the
	// desired state already holds and no write is needed.
	ErrNoChange = errors.New("registry unchanged")
)

// Default CAS retry attempts per caller role.
const (
	AllocatorAttempts = 10
	ReclaimerAttempts = 60
)

// Client reads and conditionally writes the fleet registry object. Every
// mutation goes through the read-modify-CAS loop in Update; nothing ever
// blind-writes registry.json.
type Client struct {
	store  objectstore.Store
	clock  clock.Clock
	logger zerolog.Logger

	// backoff bounds between CAS attempts; tests shrink these.
	backoffBase time.Duration
	backoffCap  time.Duration
}

// NewClient creates a registry client over the given store.
func NewClient(store objectstore.Store, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		store:       store,
		clock:       clk,
		logger:      log.WithComponent("registry"),
		backoffBase: time.Second,
		backoffCap:  10 * time.Second,
	}
}

// SetBackoff overrides the CAS retry backoff bounds (used by tests).
func (c *Client) SetBackoff(base, cap time.Duration) {
	c.backoffBase = base
	c.backoffCap = cap
}

// Get fetches the registry and the ETag needed for a conditional write.
func (c *Client) Get(ctx context.Context) (*types.Registry, string, error) {
	obj, err := c.store.Get(ctx, objectstore.KeyRegistry)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, "", ErrRegistryMissing
		}
		return nil, "", fmt.Errorf("failed to read registry: %w", err)
	}
	var reg types.Registry
	if err := json.Unmarshal(obj.Data, &reg); err != nil {
		return nil, "", fmt.Errorf("failed to decode registry: %w", err)
	}
	if reg.Assignments == nil {
		reg.Assignments = make(map[string]*types.Assignment)
	}
	return &reg, obj.ETag, nil
}

// Update runs the conditional-write discipline: read with ETag, apply
// mutate to the in-memory copy, PUT with If-Match, retry on precondition
// failure with exponential backoff, up to maxAttempts. A mutator returning
// ErrNoChange commits nothing and succeeds; any other mutator error aborts
// the loop.
func (c *Client) Update(ctx context.Context, maxAttempts int, mutate func(*types.Registry) error) (*types.Registry, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.MaxInterval = c.backoffCap
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reg, etag, err := c.Get(ctx)
		if err != nil {
			return nil, err
		}

		if err := mutate(reg); err != nil {
			if errors.Is(err, ErrNoChange) {
				return reg, nil
			}
			return nil, err
		}
		reg.LastUpdated = c.clock.Now().UTC()

		data, err := json.Marshal(reg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode registry: %w", err)
		}

		outcome, err := c.store.PutIf(ctx, objectstore.KeyRegistry, data, etag)
		switch outcome {
		case objectstore.Committed:
			metrics.RegistryCursor.Set(float64(reg.NextAvailable))
			return reg, nil
		case objectstore.PreconditionFailed:
			metrics.RegistryCASRetries.Inc()
			c.logger.Debug().Int("attempt", attempt).Msg("registry CAS lost, retrying")
		case objectstore.TransientError:
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("registry write failed, retrying")
		}

		if attempt < maxAttempts {
			if err := c.sleep(ctx, bo.NextBackOff()); err != nil {
				return nil, err
			}
		}
	}
	return nil, ErrRegistryContention
}

// Seed creates or refreshes registry.json with the full address set and the
// per-instance slice size. Existing assignments are preserved; a re-seed
// whose assignments no longer fit the new address list is a fatal
// configuration error.
func (c *Client) Seed(ctx context.Context, addresses []string, perInstance int) error {
	if len(addresses) == 0 {
		return fmt.Errorf("cannot seed registry with no addresses")
	}
	if perInstance <= 0 {
		return fmt.Errorf("addressesPerInstance must be positive, got %d", perInstance)
	}

	for attempt := 1; attempt <= AllocatorAttempts; attempt++ {
		existing, etag, err := c.Get(ctx)
		if err != nil && !errors.Is(err, ErrRegistryMissing) {
			return err
		}

		reg := &types.Registry{
			Addresses:            addresses,
			Assignments:          make(map[string]*types.Assignment),
			AddressesPerInstance: perInstance,
			LastUpdated:          c.clock.Now().UTC(),
		}
		if existing != nil {
			reg.Assignments = existing.Assignments
			reg.NextAvailable = existing.NextAvailable
		}
		if err := reg.Validate(); err != nil {
			return fmt.Errorf("seed would violate registry invariants: %w", err)
		}

		data, err := json.Marshal(reg)
		if err != nil {
			return fmt.Errorf("failed to encode registry: %w", err)
		}

		outcome, err := c.store.PutIf(ctx, objectstore.KeyRegistry, data, etag)
		switch outcome {
		case objectstore.Committed:
			c.logger.Info().
				Int("addresses", len(addresses)).
				Int("per_instance", perInstance).
				Msg("registry seeded")
			return nil
		case objectstore.PreconditionFailed:
			c.logger.Debug().Int("attempt", attempt).Msg("seed CAS lost, retrying")
		case objectstore.TransientError:
			c.logger.Warn().Err(err).Msg("seed write failed, retrying")
		}
		if err := c.sleep(ctx, c.backoffBase); err != nil {
			return err
		}
	}
	return ErrRegistryContention
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := c.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
