/*
Package orchestrator drives mining on one worker node.

Every work check it joins the worker's assigned addresses with the valid
challenges from the shared cache, drops pairs the solutions ledger already
holds, and orders the remainder easiest challenge first (a difficulty
mask with more bits set admits more hashes). Free slots in the bounded
subprocess pool are filled from the front of that queue; each slot runs
the external miner binary once and submits any solution it finds.

A separate scan aborts in-flight work whose challenge has passed its
submission deadline, since a late solution is worthless. Aborts cancel
the item's context, which SIGTERMs the miner subprocess.

When a donation address is configured, one donation item on the easiest
challenge is interleaved per twenty regular items, so fleet capacity
tithes without starving the owner's addresses.
*/
package orchestrator
