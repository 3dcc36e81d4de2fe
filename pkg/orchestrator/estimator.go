package orchestrator

import (
	"math"

	"github.com/nightcloud/nightfleet/pkg/types"
)

// SolveProbability is the chance a single uniformly random hash satisfies
// the difficulty mask. A hash nibble passes when its set bits are a
// subset of the mask nibble's, so each nibble contributes 2^popcount/16
// and the nibbles are independent.
func SolveProbability(difficulty string) float64 {
	bits := types.Popcount(difficulty)
	constrained := 4 * len(difficulty)
	return math.Pow(2, float64(bits-constrained))
}

// EstimateSolutionsPerHour projects the expected solution rate for one
// address at the given hashrate (hashes per second).
func EstimateSolutionsPerHour(difficulty string, hashrate float64) float64 {
	if hashrate <= 0 {
		return 0
	}
	return hashrate * SolveProbability(difficulty) * 3600
}

// EstimateFleetSolutionsPerHour projects the fleet-wide rate: addresses
// mining in parallel multiply the per-address rate.
func EstimateFleetSolutionsPerHour(difficulty string, hashrate float64, addresses int) float64 {
	if addresses <= 0 {
		return 0
	}
	return EstimateSolutionsPerHour(difficulty, hashrate) * float64(addresses)
}
