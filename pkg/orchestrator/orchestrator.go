package orchestrator

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/events"
	"github.com/nightcloud/nightfleet/pkg/ledger"
	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/metrics"
	"github.com/nightcloud/nightfleet/pkg/mineapi"
	"github.com/nightcloud/nightfleet/pkg/miner"
	"github.com/nightcloud/nightfleet/pkg/types"
)

// MineAPI is the slice of the Mine API client the orchestrator uses.
type MineAPI interface {
	GetChallenge(ctx context.Context) (*mineapi.ChallengeResponse, error)
	SubmitSolution(ctx context.Context, address, challengeID, nonce string) (mineapi.SubmitOutcome, *mineapi.SolutionReceipt, error)
}

// Config holds the orchestrator's tunables. Zero values pick the
// defaults noted per field.
type Config struct {
	WorkerID  string
	Addresses []string

	// Workers bounds concurrent miner subprocesses. Default: CPU count.
	Workers int

	// WorkCheckInterval is the tick cadence. Default 5s.
	WorkCheckInterval time.Duration

	// ChallengeFetchInterval is how often the Mine API is polled for a
	// new challenge. Default 5m.
	ChallengeFetchInterval time.Duration

	// ExpiryScanInterval is how often in-flight work is checked against
	// challenge expiry. Default 10s.
	ExpiryScanInterval time.Duration

	// DonationEvery interleaves a donation item per this many regular
	// items. Default 20.
	DonationEvery int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.WorkCheckInterval <= 0 {
		out.WorkCheckInterval = 5 * time.Second
	}
	if out.ChallengeFetchInterval <= 0 {
		out.ChallengeFetchInterval = 5 * time.Minute
	}
	if out.ExpiryScanInterval <= 0 {
		out.ExpiryScanInterval = 10 * time.Second
	}
	if out.DonationEvery <= 0 {
		out.DonationEvery = defaultDonationEvery
	}
	return out
}

// inflight tracks one dispatched work item: its cancel function aborts
// the miner subprocess, expiresAt is the challenge's submission deadline.
type inflight struct {
	item      types.WorkItem
	cancel    context.CancelFunc
	expiresAt time.Time
}

// Orchestrator runs the per-worker mining pipeline: poll challenges,
// build the deduplicated work queue, keep the subprocess pool busy,
// submit solutions and abort expired work.
type Orchestrator struct {
	cfg        Config
	api        MineAPI
	challenges *ledger.ChallengeLedger
	solutions  *ledger.SolutionsLedger
	stats      *ledger.StatsLedger
	runner     miner.Runner
	donations  mineapi.DonationAddressProvider
	clock      clock.Clock
	logger     zerolog.Logger
	broker     *events.Broker

	slots chan struct{}

	mu         sync.Mutex
	inProgress map[string]*inflight
	lastFetch  time.Time

	wg sync.WaitGroup
}

// New creates an orchestrator. donations may be nil to disable donation
// interleaving.
func New(cfg Config, api MineAPI, challenges *ledger.ChallengeLedger, solutions *ledger.SolutionsLedger, stats *ledger.StatsLedger, runner miner.Runner, donations mineapi.DonationAddressProvider, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	full := cfg.withDefaults()
	return &Orchestrator{
		cfg:        full,
		api:        api,
		challenges: challenges,
		solutions:  solutions,
		stats:      stats,
		runner:     runner,
		donations:  donations,
		clock:      clk,
		logger:     log.WithComponent("orchestrator"),
		slots:      make(chan struct{}, full.Workers),
		inProgress: make(map[string]*inflight),
	}
}

// SetEvents attaches the lifecycle event broker. Nil (the default)
// disables publishing.
func (o *Orchestrator) SetEvents(broker *events.Broker) {
	o.broker = broker
}

func (o *Orchestrator) publish(eventType events.EventType, message string, kv ...string) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(events.New(eventType, message, kv...))
}

// Run executes the mining loop until the context is cancelled, then waits
// for in-flight subprocesses to wind down (the runner enforces the
// SIGTERM grace period).
func (o *Orchestrator) Run(ctx context.Context) {
	o.logger.Info().
		Int("addresses", len(o.cfg.Addresses)).
		Int("workers", o.cfg.Workers).
		Msg("mining orchestrator starting")

	workTicker := o.clock.Ticker(o.cfg.WorkCheckInterval)
	defer workTicker.Stop()
	expiryTicker := o.clock.Ticker(o.cfg.ExpiryScanInterval)
	defer expiryTicker.Stop()

	o.tick(ctx)
	for {
		select {
		case <-workTicker.C:
			o.tick(ctx)
		case <-expiryTicker.C:
			o.scanExpired()
		case <-ctx.Done():
			o.logger.Info().Msg("shutting down, waiting for miners")
			o.wg.Wait()
			return
		}
	}
}

// tick runs one work cycle: refresh challenges when due, rebuild the
// queue against the solutions ledger, and top up the subprocess pool.
func (o *Orchestrator) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	now := o.clock.Now()
	o.mu.Lock()
	fetchDue := o.lastFetch.IsZero() || now.Sub(o.lastFetch) >= o.cfg.ChallengeFetchInterval
	o.mu.Unlock()
	if fetchDue {
		o.fetchChallenges(ctx)
	}

	active, err := o.challenges.Active(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to load challenge cache")
		return
	}
	if len(active) == 0 {
		metrics.WorkQueueDepth.Set(0)
		return
	}

	queue := BuildQueue(o.cfg.Addresses, active, o.isSolved(ctx), o.donationAddress(ctx), o.cfg.DonationEvery)
	metrics.WorkQueueDepth.Set(float64(len(queue)))
	o.dispatch(ctx, queue)
}

// fetchChallenges polls the Mine API once and folds the result into the
// shared challenge cache. Errors never clear the cache.
func (o *Orchestrator) fetchChallenges(ctx context.Context) {
	o.mu.Lock()
	o.lastFetch = o.clock.Now()
	o.mu.Unlock()

	resp, err := o.api.GetChallenge(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("challenge fetch failed, keeping cache")
		return
	}

	switch resp.Code {
	case mineapi.CodeActive:
		if resp.Challenge == nil {
			o.logger.Warn().Msg("active challenge response without challenge body")
			return
		}
		qc, err := resp.Challenge.ToQueued(o.clock.Now())
		if err != nil {
			o.logger.Warn().Err(err).Msg("unusable challenge, skipping")
			return
		}
		if err := o.challenges.Upsert(ctx, qc); err != nil {
			o.logger.Warn().Err(err).Msg("failed to update challenge cache")
			return
		}
		metrics.ChallengePopcount.Set(float64(types.Popcount(qc.Difficulty)))
		o.publish(events.EventChallengeFetched, "challenge cached", "challenge_id", qc.ChallengeID)
		o.logger.Info().
			Str("challenge_id", qc.ChallengeID).
			Int("popcount", types.Popcount(qc.Difficulty)).
			Time("latest_submission", qc.LatestSubmission).
			Msg("challenge cached")
	case mineapi.CodeBefore, mineapi.CodeAfter:
		o.logger.Info().Str("code", resp.Code).Msg("no active challenge")
	default:
		o.logger.Warn().Str("code", resp.Code).Msg("unknown challenge status")
	}
}

// isSolved adapts the solutions ledger for the queue builder. Lookup
// failures count as unsolved; the Mine API's 409 dedup catches the rare
// re-mine.
func (o *Orchestrator) isSolved(ctx context.Context) func(string, string) bool {
	return func(address, challengeID string) bool {
		solved, err := o.solutions.HasSolution(ctx, address, challengeID)
		if err != nil {
			o.logger.Debug().Err(err).Str("address", address).Msg("solutions lookup failed")
			return false
		}
		return solved
	}
}

// donationAddress fetches the donation target for this tick, or "" when
// the provider is absent or failing (regular work proceeds without
// donation items).
func (o *Orchestrator) donationAddress(ctx context.Context) string {
	if o.donations == nil {
		return ""
	}
	addr, err := o.donations.DonationAddress(ctx)
	if err != nil {
		o.logger.Debug().Err(err).Msg("donation address unavailable")
		return ""
	}
	return addr
}

// dispatch fills free pool slots from the queue, skipping items already
// in flight. Returns as soon as the pool is full.
func (o *Orchestrator) dispatch(ctx context.Context, queue []types.WorkItem) {
	for _, item := range queue {
		if ctx.Err() != nil {
			return
		}

		select {
		case o.slots <- struct{}{}:
		default:
			return
		}

		key := item.Key()
		o.mu.Lock()
		if _, busy := o.inProgress[key]; busy {
			o.mu.Unlock()
			<-o.slots
			continue
		}
		itemCtx, cancel := context.WithCancel(ctx)
		o.inProgress[key] = &inflight{
			item:      item,
			cancel:    cancel,
			expiresAt: item.Challenge.LatestSubmission,
		}
		o.mu.Unlock()

		metrics.MinersBusy.Inc()
		o.wg.Add(1)
		go o.mineItem(itemCtx, cancel, item)
	}
}

// mineItem runs one mining pass and submits on success. Whatever happens
// the item leaves the in-progress set and frees its slot, so the next
// tick can retry it.
func (o *Orchestrator) mineItem(ctx context.Context, cancel context.CancelFunc, item types.WorkItem) {
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.inProgress, item.Key())
		o.mu.Unlock()
		<-o.slots
		metrics.MinersBusy.Dec()
		o.wg.Done()
	}()

	o.publish(events.EventMinerStarted, "mining pass started",
		"address", item.Address, "challenge_id", item.Challenge.ChallengeID)

	result, err := o.runner.Mine(ctx, item)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			o.publish(events.EventMinerAborted, "mining aborted",
				"address", item.Address, "challenge_id", item.Challenge.ChallengeID)
			o.logger.Info().
				Str("address", item.Address).
				Str("challenge_id", item.Challenge.ChallengeID).
				Msg("mining aborted")
			return
		}
		metrics.MinerCrashes.Inc()
		o.publish(events.EventMinerCrashed, "miner crashed",
			"address", item.Address, "challenge_id", item.Challenge.ChallengeID)
		o.logger.Error().Err(err).
			Str("address", item.Address).
			Str("challenge_id", item.Challenge.ChallengeID).
			Msg("miner failed, will retry next tick")
		return
	}
	if !result.Success {
		o.logger.Debug().
			Str("address", item.Address).
			Str("challenge_id", item.Challenge.ChallengeID).
			Msg("no solution this pass")
		return
	}

	o.publish(events.EventSolutionFound, "solution found",
		"address", item.Address, "challenge_id", item.Challenge.ChallengeID)
	o.logger.Info().
		Str("address", item.Address).
		Str("challenge_id", item.Challenge.ChallengeID).
		Str("nonce", result.Nonce).
		Bool("donation", item.Donation).
		Msg("solution found")
	o.submit(ctx, item, result.Nonce)
}

// submit POSTs one solution and records the outcome. A submission is
// never attempted past the challenge's deadline.
func (o *Orchestrator) submit(ctx context.Context, item types.WorkItem, nonce string) {
	if item.Challenge.Expired(o.clock.Now()) {
		o.logger.Warn().
			Str("address", item.Address).
			Str("challenge_id", item.Challenge.ChallengeID).
			Msg("challenge expired before submission, dropping solution")
		return
	}

	outcome, _, err := o.api.SubmitSolution(ctx, item.Address, item.Challenge.ChallengeID, nonce)
	switch outcome {
	case mineapi.SubmitAccepted, mineapi.SubmitDuplicate:
		eventType := events.EventSolutionAccepted
		if outcome == mineapi.SubmitDuplicate {
			eventType = events.EventSolutionDuplicate
		}
		o.publish(eventType, "solution submitted",
			"address", item.Address, "challenge_id", item.Challenge.ChallengeID)
		// A duplicate still gets recorded locally so the pair is never
		// queued again.
		if !item.Donation {
			if err := o.solutions.RecordSolution(ctx, item.Address, item.Challenge.ChallengeID, nonce); err != nil {
				o.logger.Warn().Err(err).
					Str("address", item.Address).
					Msg("failed to record solution; API 409 will dedup retries")
			}
		}
		o.stats.RecordSolution(ctx, types.RecentSolution{
			Address:     item.Address,
			ChallengeID: item.Challenge.ChallengeID,
			Nonce:       nonce,
			WorkerID:    o.cfg.WorkerID,
			At:          o.clock.Now().UTC(),
		}, item.Donation)
		metrics.SolutionsSubmitted.WithLabelValues(outcome.String()).Inc()
	default:
		o.publish(events.EventSolutionRejected, "submission failed",
			"address", item.Address, "challenge_id", item.Challenge.ChallengeID,
			"outcome", outcome.String())
		o.logger.Warn().Err(err).
			Str("address", item.Address).
			Str("challenge_id", item.Challenge.ChallengeID).
			Str("outcome", outcome.String()).
			Msg("submission failed")
		msg := outcome.String()
		if err != nil {
			msg = err.Error()
		}
		o.stats.RecordError(ctx, types.RecentError{
			Address:     item.Address,
			ChallengeID: item.Challenge.ChallengeID,
			Message:     msg,
			WorkerID:    o.cfg.WorkerID,
			At:          o.clock.Now().UTC(),
		})
		metrics.SubmissionErrors.Inc()
	}
}

// scanExpired aborts every in-flight item whose challenge deadline has
// passed. The abort cancels the subprocess context; cleanup happens in
// mineItem's defer.
func (o *Orchestrator) scanExpired() {
	now := o.clock.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, fl := range o.inProgress {
		if !fl.expiresAt.After(now) {
			o.publish(events.EventChallengeExpired, "aborting expired work",
				"item", key)
			o.logger.Info().
				Str("item", key).
				Time("expired_at", fl.expiresAt).
				Msg("aborting expired work")
			fl.cancel()
		}
	}
}

// InFlight reports how many items are currently being mined.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inProgress)
}
