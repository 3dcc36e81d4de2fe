package orchestrator

import (
	"sort"

	"github.com/nightcloud/nightfleet/pkg/types"
)

// defaultDonationEvery interleaves one donation item per this many
// regular items.
const defaultDonationEvery = 20

// BuildQueue joins the worker's addresses with the valid challenges,
// minus already-solved pairs, ordered easiest challenge first (descending
// popcount of the difficulty mask). When donationAddr is non-empty, a
// donation item on the easiest challenge is interleaved every
// donationEvery regular items.
func BuildQueue(addresses []string, challenges []types.QueuedChallenge, solved func(address, challengeID string) bool, donationAddr string, donationEvery int) []types.WorkItem {
	if len(addresses) == 0 || len(challenges) == 0 {
		return nil
	}
	if donationEvery <= 0 {
		donationEvery = defaultDonationEvery
	}

	ordered := make([]types.QueuedChallenge, len(challenges))
	copy(ordered, challenges)
	sort.SliceStable(ordered, func(i, j int) bool {
		return types.Popcount(ordered[i].Difficulty) > types.Popcount(ordered[j].Difficulty)
	})
	easiest := ordered[0]

	var queue []types.WorkItem
	regular := 0
	for _, challenge := range ordered {
		for _, address := range addresses {
			if solved != nil && solved(address, challenge.ChallengeID) {
				continue
			}
			queue = append(queue, types.WorkItem{Address: address, Challenge: challenge})
			regular++
			if donationAddr != "" && regular%donationEvery == 0 {
				queue = append(queue, types.WorkItem{
					Address:   donationAddr,
					Challenge: easiest,
					Donation:  true,
				})
			}
		}
	}
	return queue
}
