/*
Package ledger holds the fleet's shared mining records: per-address
solution files, the aggregate stats object, and the challenge cache.

Write disciplines differ by object ownership:

  - solutions/{address}.json has a single logical writer (the worker
    owning the address), so RecordSolution merges and blind-writes.
  - solutions-stats.json and challenges.json are written by every worker
    and go through bounded ETag CAS loops. Stats updates are advisory and
    dropped on contention exhaustion.

Workers also keep a BoltDB-backed LocalIndex of known-solved pairs so the
work queue builder can deduplicate without re-reading the bucket on every
tick.
*/
package ledger
