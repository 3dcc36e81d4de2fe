// Package mineapi is the HTTP client for the external proof-of-work
// service: challenge polling, solution submission, address registration,
// reward-rate queries and donations. Expected API conditions (duplicate
// submission, closed donation window) surface as enumerated outcomes, not
// errors. Idempotent GETs retry transient failures with exponential
// backoff; all traffic passes a client-side rate limiter.
package mineapi
