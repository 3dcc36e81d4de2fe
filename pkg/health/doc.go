// Package health probes the worker's external dependencies: the Mine
// API over HTTP, the miner and signer binaries on disk, and the
// regional object store. A Monitor runs the probes on an interval and
// feeds the rolling status into the readiness endpoint, flipping a
// dependency unhealthy only after several consecutive failures.
package health
