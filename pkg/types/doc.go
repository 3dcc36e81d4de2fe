/*
Package types defines the core data structures shared across Nightfleet.

This package contains the domain model for the cloud-mining fleet: the
address registry and its assignments, per-worker heartbeats, the shared
challenge cache, per-address solution ledgers, fleet-wide stats, and the
mining work items dispatched to the native miner.

# Architecture

All shared state lives in one regional object-store bucket:

	registry.json              Registry (assignments, cursor)
	heartbeats/{workerId}.json Heartbeat
	challenges.json            ChallengeCache
	solutions/{address}.json   AddressSolutions
	solutions-stats.json       Stats

Types mapping to shared objects carry JSON tags matching the on-wire
document layout. Registry, ChallengeCache and Stats are mutated only under
optimistic lock (ETag conditional writes); Heartbeat and AddressSolutions
have a single logical writer and may be blind-written.

# Difficulty semantics

A challenge difficulty is a hex bitmask D. A candidate hash H qualifies iff
H | D == D, so the popcount of D is the sole scalar measure of how easy a
challenge is. Popcount and SatisfiesDifficulty implement this rule; the work
queue orders items easiest-first by descending popcount.
*/
package types
