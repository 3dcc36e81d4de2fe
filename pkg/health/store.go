package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nightcloud/nightfleet/pkg/objectstore"
)

// StoreChecker probes the regional bucket by heading registry.json.
// A missing registry means the bucket is reachable but unseeded, which
// still counts as healthy: seeding is the operator's job, not the
// worker's.
type StoreChecker struct {
	Store objectstore.Store
	Key   string
}

// NewStoreChecker creates a checker that heads the registry object
func NewStoreChecker(store objectstore.Store) *StoreChecker {
	return &StoreChecker{
		Store: store,
		Key:   objectstore.KeyRegistry,
	}
}

// Check performs the object store health check
func (s *StoreChecker) Check(ctx context.Context) Result {
	start := time.Now()

	info, err := s.Store.Head(ctx, s.Key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return Result{
			Healthy:   true,
			Message:   fmt.Sprintf("bucket reachable, %s not seeded yet", s.Key),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("head %s failed: %v", s.Key, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s present (%d bytes)", s.Key, info.Size),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (s *StoreChecker) Type() CheckType {
	return CheckTypeStore
}
