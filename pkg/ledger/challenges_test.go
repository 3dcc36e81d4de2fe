package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/types"
)

func testChallenge(id string, expiresIn time.Duration, now time.Time) types.QueuedChallenge {
	return types.QueuedChallenge{
		ChallengeID:      id,
		Difficulty:       "0000FFFF",
		LatestSubmission: now.Add(expiresIn),
		AvailableAt:      now,
	}
}

func TestChallengeUpsert(t *testing.T) {
	store := objectstore.NewMemoryStore()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewChallengeLedger(store, "eu-west-1", mock)
	ctx := context.Background()

	require.NoError(t, l.Upsert(ctx, testChallenge("C1", time.Hour, mock.Now())))
	require.NoError(t, l.Upsert(ctx, testChallenge("C2", time.Hour, mock.Now())))

	// Replacing C1 must not duplicate it.
	updated := testChallenge("C1", 2*time.Hour, mock.Now())
	require.NoError(t, l.Upsert(ctx, updated))

	cache, _, err := l.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cache.Challenges, 2)
	assert.Equal(t, "eu-west-1", cache.Region)

	for _, qc := range cache.Challenges {
		if qc.ChallengeID == "C1" {
			assert.Equal(t, updated.LatestSubmission, qc.LatestSubmission)
		}
	}
}

func TestChallengeExpiryFiltering(t *testing.T) {
	store := objectstore.NewMemoryStore()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewChallengeLedger(store, "eu-west-1", mock)
	ctx := context.Background()

	require.NoError(t, l.Upsert(ctx, testChallenge("C1", 10*time.Minute, mock.Now())))
	require.NoError(t, l.Upsert(ctx, testChallenge("C2", time.Hour, mock.Now())))

	mock.Add(30 * time.Minute)

	active, err := l.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "C2", active[0].ChallengeID)

	// Prune rewrites the shared cache without the expired entry.
	require.NoError(t, l.Prune(ctx))
	cache, _, err := l.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cache.Challenges, 1)
	assert.Equal(t, "C2", cache.Challenges[0].ChallengeID)
}

func TestChallengeExpiryBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	qc := types.QueuedChallenge{LatestSubmission: now}
	assert.True(t, qc.Expired(now), "latestSubmission == now counts as expired")
	assert.False(t, qc.Expired(now.Add(-time.Second)))
}
