package types

import (
	"fmt"
	"time"
)

// Registry is the fleet-wide address assignment ledger. It lives as a single
// object (registry.json) in the regional bucket and is only ever mutated
// through conditional writes.
type Registry struct {
	Addresses            []string               `json:"addresses"`
	NextAvailable        int                    `json:"nextAvailable"`
	Assignments          map[string]*Assignment `json:"assignments"`
	AddressesPerInstance int                    `json:"addressesPerInstance"`
	LastUpdated          time.Time              `json:"lastUpdated"`
}

// Assignment binds a worker to a contiguous slice of the registry's address
// list. StartAddress and EndAddress are inclusive indexes into Addresses.
type Assignment struct {
	WorkerID       string     `json:"workerId"`
	PublicEndpoint string     `json:"publicEndpoint,omitempty"`
	StartAddress   int        `json:"startAddress"`
	EndAddress     int        `json:"endAddress"`
	Addresses      []string   `json:"addresses"`
	AssignedAt     time.Time  `json:"assignedAt"`
	LastHeartbeat  *time.Time `json:"lastHeartbeat,omitempty"`
}

// FreshAt returns the most recent liveness signal for the assignment.
func (a *Assignment) FreshAt() time.Time {
	if a.LastHeartbeat != nil && a.LastHeartbeat.After(a.AssignedAt) {
		return *a.LastHeartbeat
	}
	return a.AssignedAt
}

// Validate checks the registry's structural invariants: every assignment is a
// contiguous in-bounds interval, live intervals are disjoint, and the cursor
// never points below the highest assigned index.
func (r *Registry) Validate() error {
	n := len(r.Addresses)
	if r.NextAvailable < 0 || r.NextAvailable > n {
		return fmt.Errorf("nextAvailable %d out of range [0,%d]", r.NextAvailable, n)
	}
	if r.AddressesPerInstance <= 0 {
		return fmt.Errorf("addressesPerInstance must be positive, got %d", r.AddressesPerInstance)
	}

	type interval struct {
		worker     string
		start, end int
	}
	var intervals []interval
	maxEnd := -1
	for id, a := range r.Assignments {
		if a.StartAddress < 0 || a.EndAddress >= n || a.StartAddress > a.EndAddress {
			return fmt.Errorf("assignment %s has invalid range [%d,%d] for %d addresses",
				id, a.StartAddress, a.EndAddress, n)
		}
		intervals = append(intervals, interval{id, a.StartAddress, a.EndAddress})
		if a.EndAddress > maxEnd {
			maxEnd = a.EndAddress
		}
	}
	for i := range intervals {
		for j := i + 1; j < len(intervals); j++ {
			a, b := intervals[i], intervals[j]
			if a.start <= b.end && b.start <= a.end {
				return fmt.Errorf("assignments %s and %s overlap: [%d,%d] vs [%d,%d]",
					a.worker, b.worker, a.start, a.end, b.start, b.end)
			}
		}
	}
	if r.NextAvailable <= maxEnd {
		return fmt.Errorf("nextAvailable %d inside assigned range (max end %d)", r.NextAvailable, maxEnd)
	}
	return nil
}

// Heartbeat is a per-worker liveness file (heartbeats/{workerId}.json).
// Blind-written by its single owner, read by the reclaimer.
type Heartbeat struct {
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
	PublicEndpoint string    `json:"publicEndpoint,omitempty"`
}

// QueuedChallenge is a challenge known to the fleet, cached in
// challenges.json. Difficulty is a hex bitmask (see SatisfiesDifficulty).
type QueuedChallenge struct {
	ChallengeID      string    `json:"challengeId"`
	ChallengeNumber  int       `json:"challengeNumber"`
	Day              int       `json:"day"`
	Difficulty       string    `json:"difficulty"`
	NoPreMine        string    `json:"noPreMine"`
	NoPreMineHour    string    `json:"noPreMineHour"`
	LatestSubmission time.Time `json:"latestSubmission"`
	AvailableAt      time.Time `json:"availableAt"`
}

// Expired reports whether the submission window has closed.
func (c *QueuedChallenge) Expired(now time.Time) bool {
	return !c.LatestSubmission.After(now)
}

// ChallengeCache is the shared queue of known active challenges
// (challenges.json), maintained under optimistic lock.
type ChallengeCache struct {
	Challenges  []QueuedChallenge `json:"challenges"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Region      string            `json:"region"`
}

// WorkItem is the unit of mining dispatch: one (address, challenge) pair.
type WorkItem struct {
	Address   string
	Challenge QueuedChallenge
	Donation  bool
}

// Key identifies a WorkItem in the in-progress set.
func (w WorkItem) Key() string {
	return w.Address + "-" + w.Challenge.ChallengeID
}

// SolutionRecord is one accepted submission inside a per-address solutions
// file. At most one record per challenge ID may exist in one file.
type SolutionRecord struct {
	ChallengeID string    `json:"challengeId"`
	Nonce       string    `json:"nonce"`
	SubmittedAt time.Time `json:"submittedAt"`
	WorkerID    string    `json:"workerId,omitempty"`
}

// AddressSolutions is the per-address ledger file (solutions/{address}.json).
type AddressSolutions struct {
	Address     string           `json:"address"`
	Solutions   []SolutionRecord `json:"solutions"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// Has reports whether a solution for the challenge is already recorded.
func (s *AddressSolutions) Has(challengeID string) bool {
	for _, rec := range s.Solutions {
		if rec.ChallengeID == challengeID {
			return true
		}
	}
	return false
}

// RecentEntryCap bounds the recentSolutions and recentErrors lists in the
// stats object. The cap is strict: oldest entries are dropped on overflow.
const RecentEntryCap = 20

// RecentSolution is a stats entry for a recently accepted submission.
type RecentSolution struct {
	Address     string    `json:"address"`
	ChallengeID string    `json:"challengeId"`
	Nonce       string    `json:"nonce"`
	WorkerID    string    `json:"workerId,omitempty"`
	At          time.Time `json:"at"`
}

// RecentError is a stats entry for a recently failed submission.
type RecentError struct {
	Address     string    `json:"address"`
	ChallengeID string    `json:"challengeId"`
	Message     string    `json:"message"`
	WorkerID    string    `json:"workerId,omitempty"`
	At          time.Time `json:"at"`
}

// Stats is the fleet-wide aggregate (solutions-stats.json), updated under
// optimistic lock by every worker. Best-effort telemetry, not truth.
type Stats struct {
	TotalSolutions    int              `json:"totalSolutions"`
	DonationSolutions int              `json:"donationSolutions"`
	TotalErrors       int              `json:"totalErrors"`
	LastUpdated       time.Time        `json:"lastUpdated"`
	RecentSolutions   []RecentSolution `json:"recentSolutions"`
	RecentErrors      []RecentError    `json:"recentErrors"`
}

// AddressCache is the worker-local allocation cache file. A worker whose
// cache matches its ID boots without touching the registry.
type AddressCache struct {
	WorkerID  string    `json:"workerId"`
	Addresses []string  `json:"addresses"`
	SavedAt   time.Time `json:"savedAt"`
}

// MinerResult is the JSON object the native miner binary prints on stdout.
// Exit 0 with Success=false is a legitimate "no solution this pass".
type MinerResult struct {
	Success  bool   `json:"success"`
	Nonce    string `json:"nonce,omitempty"`
	Preimage string `json:"preimage,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Message  string `json:"message,omitempty"`
}
