/*
Package metrics provides Prometheus metrics collection and exposition for
the fleet worker.

All metrics are registered at package init on the default registry and
served from /metrics by the embedded observability server, alongside
/health, /ready and /live probes. Gauges cover instantaneous worker state
(assigned addresses, busy miners, queue depth), counters cover lifetime
totals (submissions by outcome, CAS retries, reclaims), and the collector
mirrors the fleet-wide stats file so the shared aggregate is scrapeable
from any worker.

Metric names use the nightfleet_ prefix. Label cardinality is kept
bounded: submissions are labeled by outcome and Mine API latency by
operation, never by address or challenge ID.
*/
package metrics
