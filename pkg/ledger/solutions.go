package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/types"
)

// SolutionsLedger manages per-address solution files. Each address belongs
// to exactly one live worker, so writes are blind; the at-most-once
// guarantee per (address, challenge) comes from the merge in
// RecordSolution plus the Mine API's own duplicate rejection.
type SolutionsLedger struct {
	store    objectstore.Store
	index    *LocalIndex
	workerID string
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewSolutionsLedger creates a ledger. index may be nil (controller-side
// use); workers pass a LocalIndex so queue rebuilds stay cheap.
func NewSolutionsLedger(store objectstore.Store, index *LocalIndex, workerID string, clk clock.Clock) *SolutionsLedger {
	if clk == nil {
		clk = clock.New()
	}
	return &SolutionsLedger{
		store:    store,
		index:    index,
		workerID: workerID,
		clock:    clk,
		logger:   log.WithComponent("solutions"),
	}
}

// Load fetches the solutions file for an address. A missing file yields an
// empty ledger, not an error.
func (l *SolutionsLedger) Load(ctx context.Context, address string) (*types.AddressSolutions, error) {
	obj, err := l.store.Get(ctx, objectstore.SolutionsKey(address))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return &types.AddressSolutions{Address: address}, nil
		}
		return nil, fmt.Errorf("failed to read solutions for %s: %w", address, err)
	}
	var sols types.AddressSolutions
	if err := json.Unmarshal(obj.Data, &sols); err != nil {
		return nil, fmt.Errorf("failed to decode solutions for %s: %w", address, err)
	}
	return &sols, nil
}

// HasSolution reports whether a solution for (address, challengeID) is
// already recorded, consulting the local index before the object store.
func (l *SolutionsLedger) HasSolution(ctx context.Context, address, challengeID string) (bool, error) {
	if l.index != nil {
		solved, err := l.index.IsSolved(address, challengeID)
		if err == nil && solved {
			return true, nil
		}
	}
	sols, err := l.Load(ctx, address)
	if err != nil {
		return false, err
	}
	if sols.Has(challengeID) {
		l.markIndex(address, challengeID)
		return true, nil
	}
	return false, nil
}

// RecordSolution merges one accepted submission into the per-address file.
// Recording the same pair again is a no-op, so the call is idempotent.
func (l *SolutionsLedger) RecordSolution(ctx context.Context, address, challengeID, nonce string) error {
	sols, err := l.Load(ctx, address)
	if err != nil {
		return err
	}
	if sols.Has(challengeID) {
		l.markIndex(address, challengeID)
		return nil
	}

	sols.Solutions = append(sols.Solutions, types.SolutionRecord{
		ChallengeID: challengeID,
		Nonce:       nonce,
		SubmittedAt: l.clock.Now().UTC(),
		WorkerID:    l.workerID,
	})
	sols.LastUpdated = l.clock.Now().UTC()

	data, err := json.Marshal(sols)
	if err != nil {
		return fmt.Errorf("failed to encode solutions for %s: %w", address, err)
	}
	if err := l.store.Put(ctx, objectstore.SolutionsKey(address), data, nil); err != nil {
		return fmt.Errorf("failed to write solutions for %s: %w", address, err)
	}
	l.markIndex(address, challengeID)
	return nil
}

// WarmIndex primes the local index from the per-address files of this
// worker's slice. Called once after allocation so the first queue build
// does not re-mine already-solved pairs.
func (l *SolutionsLedger) WarmIndex(ctx context.Context, addresses []string) error {
	if l.index == nil {
		return nil
	}
	for _, address := range addresses {
		sols, err := l.Load(ctx, address)
		if err != nil {
			return err
		}
		for _, rec := range sols.Solutions {
			if err := l.index.MarkSolved(address, rec.ChallengeID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *SolutionsLedger) markIndex(address, challengeID string) {
	if l.index == nil {
		return
	}
	if err := l.index.MarkSolved(address, challengeID); err != nil {
		l.logger.Warn().Err(err).Msg("failed to update local solutions index")
	}
}
