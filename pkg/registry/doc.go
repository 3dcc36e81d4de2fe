/*
Package registry implements fleet-wide address allocation over the shared
object store.

The registry is one JSON object assigning contiguous, disjoint address
slices to live workers. Four collaborators operate on it:

  - Client: the conditional-write discipline. Every mutation is a
    read-modify-CAS loop against the object's ETag with exponential
    backoff; nothing ever blind-writes registry.json.
  - Allocator: worker-boot reservation. Cache-first (a warm restart does
    no registry I/O), idempotent per worker ID, and opportunistically
    reclaims assignments gone stale past a tight threshold because a
    caller is waiting for a slot.
  - Heartbeater: writes the per-worker liveness file every minute. One
    writer per key, so no locking.
  - Reclaimer: leader-elected periodic pass that drops assignments of
    dead workers by the loose threshold. Leadership is deterministic:
    sort the live worker IDs, first one wins. A rare double-run is
    tolerated because the CAS only lets one pass commit.

Freed ranges are never reused: the nextAvailable cursor is monotone and
holes are skipped. That keeps the disjointness argument trivial at the
cost of address-space churn, which the operator absorbs by seeding more
addresses.
*/
package registry
