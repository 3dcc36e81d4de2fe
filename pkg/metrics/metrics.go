package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	AddressesAssigned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightfleet_addresses_assigned",
			Help: "Number of addresses assigned to this worker",
		},
	)

	RegistryCursor = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightfleet_registry_cursor",
			Help: "Registry nextAvailable cursor as last observed",
		},
	)

	RegistryCASRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightfleet_registry_cas_retries_total",
			Help: "Registry compare-and-swap attempts lost to a concurrent writer",
		},
	)

	HeartbeatsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightfleet_heartbeats_written_total",
			Help: "Heartbeat files written by this worker",
		},
	)

	ReclaimLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightfleet_reclaim_is_leader",
			Help: "Whether this worker is the reclaim leader (1 = leader, 0 = follower)",
		},
	)

	AddressesReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightfleet_addresses_reclaimed_total",
			Help: "Stale assignments released back to the pool by this worker",
		},
	)

	// Mining metrics
	WorkQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightfleet_work_queue_depth",
			Help: "Unsolved address/challenge pairs at the last work check",
		},
	)

	MinersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightfleet_miners_busy",
			Help: "Miner subprocesses currently running",
		},
	)

	MinerCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightfleet_miner_crashes_total",
			Help: "Miner subprocesses that exited abnormally",
		},
	)

	ChallengePopcount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightfleet_challenge_popcount",
			Help: "Popcount of the most recently fetched challenge difficulty mask",
		},
	)

	// Submission metrics
	SolutionsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightfleet_solutions_submitted_total",
			Help: "Solutions submitted to the Mine API by outcome",
		},
		[]string{"outcome"},
	)

	SubmissionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightfleet_submission_errors_total",
			Help: "Solution submissions that failed with a non-duplicate error",
		},
	)

	MineAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nightfleet_mineapi_request_duration_seconds",
			Help:    "Mine API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Stats ledger mirror, sampled by the collector
	TotalSolutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightfleet_fleet_total_solutions",
			Help: "Fleet-wide solution count from the shared stats file",
		},
	)

	DonationSolutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightfleet_fleet_donation_solutions",
			Help: "Fleet-wide donation solution count from the shared stats file",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(AddressesAssigned)
	prometheus.MustRegister(RegistryCursor)
	prometheus.MustRegister(RegistryCASRetries)
	prometheus.MustRegister(HeartbeatsWritten)
	prometheus.MustRegister(ReclaimLeader)
	prometheus.MustRegister(AddressesReclaimed)
	prometheus.MustRegister(WorkQueueDepth)
	prometheus.MustRegister(MinersBusy)
	prometheus.MustRegister(MinerCrashes)
	prometheus.MustRegister(ChallengePopcount)
	prometheus.MustRegister(SolutionsSubmitted)
	prometheus.MustRegister(SubmissionErrors)
	prometheus.MustRegister(MineAPIRequestDuration)
	prometheus.MustRegister(TotalSolutions)
	prometheus.MustRegister(DonationSolutions)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
