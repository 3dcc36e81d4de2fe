package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nightcloud/nightfleet/pkg/cloud"
	"github.com/nightcloud/nightfleet/pkg/config"
	"github.com/nightcloud/nightfleet/pkg/events"
	"github.com/nightcloud/nightfleet/pkg/health"
	"github.com/nightcloud/nightfleet/pkg/ledger"
	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/metrics"
	"github.com/nightcloud/nightfleet/pkg/mineapi"
	"github.com/nightcloud/nightfleet/pkg/miner"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/orchestrator"
	"github.com/nightcloud/nightfleet/pkg/registry"
)

var workerLocal bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the mining worker on this node",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Reserve addresses and mine until terminated",
	Long: `Run the full worker loop: reserve this node's address slice from the
fleet registry, start heartbeats, and mine the active challenges with
the external miner binary until the process receives SIGTERM.`,
	RunE: runWorker,
}

var workerAllocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Reserve this node's address slice and print it",
	RunE:  runAllocate,
}

func init() {
	workerCmd.PersistentFlags().BoolVar(&workerLocal, "local", false,
		"skip the instance metadata service (workstation runs)")
	workerCmd.AddCommand(workerRunCmd)
	workerCmd.AddCommand(workerAllocateCmd)
}

// workerIdentity is everything the worker needs to know about itself.
type workerIdentity struct {
	workerID string
	region   string
	endpoint string
	account  string
}

// resolveIdentity asks the instance metadata service who this node is,
// falling back to config/env for workstation runs.
func resolveIdentity(ctx context.Context, cfg *config.Config) (*workerIdentity, error) {
	if !workerLocal {
		meta, err := cloud.NewIMDSMetadata(ctx)
		if err == nil {
			return identityFrom(ctx, meta, cfg)
		}
		log.Logger.Warn().Err(err).Msg("instance metadata unavailable, falling back to local identity")
	}

	id := cfg.Worker.ID
	if id == "" {
		id = "local-" + uuid.NewString()[:8]
	}
	static := cloud.StaticMetadata{
		ID:   id,
		Zone: cfg.Store.Region,
	}
	return identityFrom(ctx, static, cfg)
}

func identityFrom(ctx context.Context, meta cloud.MetadataProvider, cfg *config.Config) (*workerIdentity, error) {
	workerID, err := meta.WorkerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve worker id: %w", err)
	}
	region, err := meta.Region(ctx)
	if err != nil || region == "" {
		region = cfg.Store.Region
	}
	if region == "" {
		return nil, fmt.Errorf("region unknown: set store.region or run on an instance")
	}
	endpoint, _ := meta.PublicEndpoint(ctx)
	account, _ := meta.AccountID(ctx)
	return &workerIdentity{
		workerID: workerID,
		region:   region,
		endpoint: endpoint,
		account:  account,
	}, nil
}

// openStore connects to the regional bucket.
func openStore(ctx context.Context, cfg *config.Config, ident *workerIdentity) (objectstore.Store, error) {
	bucket := cfg.Store.Bucket
	if bucket == "" {
		bucket = objectstore.BucketName(cfg.Store.BucketPrefix, ident.account, ident.region)
	}
	return objectstore.NewS3Store(ctx, bucket, ident.region)
}

// reserve runs the allocator and maps its failures onto exit codes.
func reserve(ctx context.Context, reg *registry.Client, cfg *config.Config, ident *workerIdentity) []string {
	alloc := registry.NewAllocator(reg, ident.workerID, ident.endpoint, cfg.Worker.CachePath, nil)
	addresses, err := alloc.Reserve(ctx)
	if err != nil {
		log.Errorf("address allocation failed", err)
		os.Exit(allocatorExitCode(err))
	}
	return addresses
}

// allocatorExitCode maps allocation failures onto exit codes. Contention
// and exhaustion both exit 2: the startup script retries the former and
// the operator resolves the latter, and neither is a config fault.
func allocatorExitCode(err error) int {
	if errors.Is(err, registry.ErrRegistryContention) || errors.Is(err, registry.ErrRegistryExhausted) {
		return exitAllocator
	}
	return exitFatal
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ident, err := resolveIdentity(ctx, cfg)
	if err != nil {
		return err
	}
	logger := log.WithWorkerID(ident.workerID)
	logger.Info().
		Str("region", ident.region).
		Str("version", Version).
		Msg("worker starting")

	store, err := openStore(ctx, cfg, ident)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	reg := registry.NewClient(store, nil)
	addresses := reserve(ctx, reg, cfg, ident)
	metrics.RegisterComponent("registry", true, "addresses reserved")
	logger.Info().Int("addresses", len(addresses)).Msg("address slice reserved")

	// Dependency probes feed /ready on the metrics listener.
	monitor := health.NewMonitor(health.DefaultConfig(), nil)
	monitor.Register("objectstore", health.NewStoreChecker(store))
	monitor.Register("mineapi", health.NewHTTPChecker(cfg.MineAPI.BaseURL+"/challenge"))
	monitor.Register("miner-binary", health.NewBinaryChecker(cfg.Miner.BinaryPath))
	go monitor.Run(ctx)

	// Liveness: heartbeat for as long as we hold the slice.
	heartbeater := registry.NewHeartbeater(store, ident.workerID, ident.endpoint, nil)
	if cfg.Worker.HeartbeatInterval > 0 {
		heartbeater.Interval = cfg.Worker.HeartbeatInterval
	}
	go heartbeater.Run(ctx)

	// Reclaim passes need peer discovery; without EC2 (local runs) the
	// fleet still works, dead slices just wait for a cloud worker.
	if compute, err := cloud.NewEC2Provider(ctx, ident.region, cfg.Fleet.LaunchTemplate); err != nil {
		logger.Warn().Err(err).Msg("compute provider unavailable, reclaimer disabled")
	} else {
		go registry.NewReclaimer(reg, store, compute, ident.workerID, nil).Run(ctx)
	}

	index, err := ledger.OpenLocalIndex(cfg.Worker.IndexPath)
	if err != nil {
		logger.Warn().Err(err).Msg("local solutions index unavailable, falling back to store reads")
		index = nil
	} else {
		defer index.Close()
	}

	solutions := ledger.NewSolutionsLedger(store, index, ident.workerID, nil)
	if err := solutions.WarmIndex(ctx, addresses); err != nil {
		logger.Warn().Err(err).Msg("failed to warm solutions index")
	}
	challenges := ledger.NewChallengeLedger(store, ident.region, nil)
	stats := ledger.NewStatsLedger(store, nil)

	api := mineapi.NewClient(cfg.MineAPI.BaseURL, cfg.MineAPI.RequestsPerSecond)

	var donations mineapi.DonationAddressProvider
	if cfg.MineAPI.DonationURL != "" {
		donations = mineapi.NewHTTPDonationProvider(cfg.MineAPI.DonationURL)
	}

	runner := miner.NewBinaryRunner(cfg.Miner.BinaryPath)
	runner.MaxAttempts = cfg.Miner.MaxAttempts

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	if cfg.Worker.MetricsAddr != "" {
		metrics.SetVersion(Version)
		server := metrics.NewServer(cfg.Worker.MetricsAddr)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		collector := metrics.NewCollector(stats)
		collector.Start(ctx)
		defer collector.Stop()
	}

	orch := orchestrator.New(orchestrator.Config{
		WorkerID:  ident.workerID,
		Addresses: addresses,
		Workers:   cfg.Worker.Workers,
	}, api, challenges, solutions, stats, runner, donations, nil)
	orch.SetEvents(broker)

	orch.Run(ctx)
	logger.Info().Msg("worker stopped")
	return nil
}

func runAllocate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ident, err := resolveIdentity(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, ident)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	addresses := reserve(ctx, registry.NewClient(store, nil), cfg, ident)
	fmt.Printf("Worker %s holds %d addresses:\n", ident.workerID, len(addresses))
	for _, addr := range addresses {
		fmt.Println("  " + addr)
	}
	return nil
}
