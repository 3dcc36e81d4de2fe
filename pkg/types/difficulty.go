package types

import "math/bits"

// Popcount returns the number of set bits in a hex difficulty string.
// One additional set bit roughly doubles the density of qualifying hashes,
// so popcount alone orders challenges from easiest to hardest. Non-hex
// characters contribute nothing.
func Popcount(difficulty string) int {
	count := 0
	for _, c := range difficulty {
		if v := hexNibble(c); v >= 0 {
			count += bits.OnesCount8(uint8(v))
		}
	}
	return count
}

// SatisfiesDifficulty reports whether a candidate hash meets the challenge
// difficulty: every bit set in the hash prefix must also be set in the
// difficulty mask (H | D == D). Only the prefix of the hash matching the
// difficulty's length is examined, mirroring the native miner's check.
func SatisfiesDifficulty(hashHex, difficulty string) bool {
	if len(hashHex) < len(difficulty) {
		return false
	}
	for i, d := range difficulty {
		h := hexNibble(rune(hashHex[i]))
		dv := hexNibble(d)
		if h < 0 || dv < 0 {
			return false
		}
		if h|dv != dv {
			return false
		}
	}
	return true
}

func hexNibble(c rune) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
