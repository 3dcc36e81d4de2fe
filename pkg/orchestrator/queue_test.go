package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightcloud/nightfleet/pkg/types"
)

func challenge(id, difficulty string) types.QueuedChallenge {
	return types.QueuedChallenge{
		ChallengeID:      id,
		Difficulty:       difficulty,
		LatestSubmission: time.Now().Add(time.Hour),
	}
}

func TestBuildQueueEasiestFirst(t *testing.T) {
	// C1's mask has far more bits set, so it admits more hashes and
	// must be mined before C2.
	challenges := []types.QueuedChallenge{
		challenge("C2", "0000000F"),
		challenge("C1", "000007FF"),
	}
	addresses := []string{"a1", "a2"}

	queue := BuildQueue(addresses, challenges, nil, "", 0)
	require.Len(t, queue, 4)

	assert.Equal(t, "C1", queue[0].Challenge.ChallengeID)
	assert.Equal(t, "C1", queue[1].Challenge.ChallengeID)
	assert.Equal(t, "C2", queue[2].Challenge.ChallengeID)
	assert.Equal(t, "C2", queue[3].Challenge.ChallengeID)
}

func TestBuildQueueSkipsSolvedPairs(t *testing.T) {
	challenges := []types.QueuedChallenge{
		challenge("C1", "000007FF"),
		challenge("C2", "0000000F"),
	}
	addresses := []string{"a1", "a2"}
	solved := func(address, challengeID string) bool {
		return address == "a1" && challengeID == "C1"
	}

	queue := BuildQueue(addresses, challenges, solved, "", 0)
	require.Len(t, queue, 3)
	for _, item := range queue {
		assert.False(t, item.Address == "a1" && item.Challenge.ChallengeID == "C1",
			"solved pair must not be queued")
	}
}

func TestBuildQueueDonationInterleave(t *testing.T) {
	challenges := []types.QueuedChallenge{
		challenge("C2", "0000000F"),
		challenge("C1", "000007FF"),
	}
	addresses := []string{"a1", "a2", "a3"}

	queue := BuildQueue(addresses, challenges, nil, "charity", 2)

	var regular, donations int
	for i, item := range queue {
		if item.Donation {
			donations++
			assert.Equal(t, "charity", item.Address)
			// Donations always mine the easiest challenge.
			assert.Equal(t, "C1", item.Challenge.ChallengeID)
		} else {
			regular++
			assert.NotEqual(t, "charity", item.Address, "item %d", i)
		}
	}
	assert.Equal(t, 6, regular)
	assert.Equal(t, 3, donations)

	// One donation item after every second regular item.
	assert.True(t, queue[2].Donation)
	assert.True(t, queue[5].Donation)
}

func TestBuildQueueNoDonationWithoutAddress(t *testing.T) {
	challenges := []types.QueuedChallenge{challenge("C1", "000007FF")}
	queue := BuildQueue([]string{"a1", "a2", "a3"}, challenges, nil, "", 1)
	for _, item := range queue {
		assert.False(t, item.Donation)
	}
}

func TestBuildQueueEmptyInputs(t *testing.T) {
	assert.Nil(t, BuildQueue(nil, []types.QueuedChallenge{challenge("C1", "FF")}, nil, "", 0))
	assert.Nil(t, BuildQueue([]string{"a1"}, nil, nil, "", 0))
}
