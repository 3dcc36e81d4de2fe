package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nightcloud/nightfleet/pkg/cloud"
	"github.com/nightcloud/nightfleet/pkg/config"
	"github.com/nightcloud/nightfleet/pkg/controller"
	"github.com/nightcloud/nightfleet/pkg/ledger"
	"github.com/nightcloud/nightfleet/pkg/mineapi"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/orchestrator"
	"github.com/nightcloud/nightfleet/pkg/registry"
	"github.com/nightcloud/nightfleet/pkg/types"
)

var (
	fleetAddressFile string
	fleetPerInstance int
	fleetHashrate    float64
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Operate the mining fleet",
}

var fleetSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create or refresh the fleet address registry",
	Long: `Seed registry.json in the regional bucket with the fleet's address
list. Re-seeding preserves existing assignments; shrinking the list
below the assigned ranges is rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, _, err := operatorContext(false)
		if err != nil {
			return err
		}
		addressFile := fleetAddressFile
		if addressFile == "" {
			if cfg, err := config.Load(configPath); err == nil {
				addressFile = cfg.Fleet.AddressFile
			}
		}
		if addressFile == "" {
			return fmt.Errorf("--addresses or fleet.address_file is required")
		}
		n, err := ctl.SeedRegistry(ctx, addressFile, fleetPerInstance)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Registry seeded with %d addresses (%d per instance)\n", n, fleetPerInstance)
		return nil
	},
}

var fleetLaunchCmd = &cobra.Command{
	Use:   "launch <count>",
	Short: "Launch additional worker instances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n int
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
			return fmt.Errorf("invalid count %q", args[0])
		}
		ctx, ctl, _, err := operatorContext(true)
		if err != nil {
			return err
		}
		if err := ctl.Launch(ctx, n); err != nil {
			return err
		}
		fmt.Printf("✓ Launching %d workers\n", n)
		return nil
	},
}

var fleetScaleCmd = &cobra.Command{
	Use:   "scale <count>",
	Short: "Scale the fleet to the given worker count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n int
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
			return fmt.Errorf("invalid count %q", args[0])
		}
		ctx, ctl, _, err := operatorContext(true)
		if err != nil {
			return err
		}
		if err := ctl.Scale(ctx, n); err != nil {
			return err
		}
		fmt.Printf("✓ Fleet scaling to %d workers\n", n)
		return nil
	},
}

var fleetTerminateCmd = &cobra.Command{
	Use:   "terminate <instance-id>...",
	Short: "Terminate specific worker instances",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, _, err := operatorContext(true)
		if err != nil {
			return err
		}
		if err := ctl.Terminate(ctx, args); err != nil {
			return err
		}
		fmt.Printf("✓ Terminating %d workers\n", len(args))
		return nil
	},
}

var fleetUploadCmd = &cobra.Command{
	Use:   "upload-code <archive>",
	Short: "Ship the miner archive to the fleet bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, _, err := operatorContext(false)
		if err != nil {
			return err
		}
		digest, err := ctl.UploadMinerCode(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Miner code uploaded (sha256 %s)\n", digest)
		return nil
	},
}

var fleetStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report fleet status, totals and the projected solution rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, store, err := operatorContext(false)
		if err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		status, err := ctl.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(status)

		challenges, err := ledger.NewChallengeLedger(store, cfg.Store.Region, nil).Active(ctx)
		if err == nil && len(challenges) > 0 && fleetHashrate > 0 {
			printEstimate(ctx, cfg, status, challenges)
		}
		return nil
	},
}

func printStatus(status *controller.FleetStatus) {
	fmt.Printf("Addresses: %d total, %d assigned, cursor at %d (%d per instance)\n",
		status.TotalAddresses, status.AssignedAddresses,
		status.NextAvailable, status.AddressesPerInstance)
	fmt.Printf("Workers: %d\n", len(status.Workers))
	for _, w := range status.Workers {
		beat := "never"
		if w.LastHeartbeat != nil {
			beat = w.LastHeartbeat.UTC().Format(time.RFC3339)
		}
		fmt.Printf("  %-22s addresses %d-%d  last heartbeat %s\n",
			w.WorkerID, w.StartAddress, w.EndAddress, beat)
	}
	if status.Stats != nil {
		fmt.Printf("Solutions: %d total (%d donated), %d errors\n",
			status.Stats.TotalSolutions, status.Stats.DonationSolutions,
			status.Stats.TotalErrors)
		for i, rec := range status.Stats.RecentSolutions {
			if i >= 5 {
				break
			}
			fmt.Printf("  %s  %s / %s by %s\n",
				rec.At.UTC().Format(time.RFC3339), rec.Address, rec.ChallengeID, rec.WorkerID)
		}
	}
}

func printEstimate(ctx context.Context, cfg *config.Config, status *controller.FleetStatus, challenges []types.QueuedChallenge) {
	easiest := challenges[0]
	for _, ch := range challenges[1:] {
		if types.Popcount(ch.Difficulty) > types.Popcount(easiest.Difficulty) {
			easiest = ch
		}
	}
	perHour := orchestrator.EstimateFleetSolutionsPerHour(
		easiest.Difficulty, fleetHashrate, status.AssignedAddresses)
	fmt.Printf("Projected rate: %.2f solutions/hour at %.0f H/s per address (difficulty %s)\n",
		perHour, fleetHashrate, easiest.Difficulty)

	api := mineapi.NewClient(cfg.MineAPI.BaseURL, cfg.MineAPI.RequestsPerSecond)
	if rates, err := api.WorkToStarRate(ctx); err == nil && len(rates) > 0 {
		current := rates[len(rates)-1]
		fmt.Printf("Current work-to-star rate: %.4f (%.2f stars/hour projected)\n",
			current, perHour*current)
	}
}

func init() {
	fleetSeedCmd.Flags().StringVar(&fleetAddressFile, "addresses", "", "address file, one per line")
	fleetSeedCmd.Flags().IntVar(&fleetPerInstance, "per-instance", 5, "addresses per worker")
	fleetStatsCmd.Flags().Float64Var(&fleetHashrate, "hashrate", 0, "per-address hashrate for the rate projection")

	fleetCmd.AddCommand(fleetSeedCmd)
	fleetCmd.AddCommand(fleetLaunchCmd)
	fleetCmd.AddCommand(fleetScaleCmd)
	fleetCmd.AddCommand(fleetTerminateCmd)
	fleetCmd.AddCommand(fleetUploadCmd)
	fleetCmd.AddCommand(fleetStatsCmd)
}

// operatorContext builds the controller for fleet commands. Operator
// machines are off-instance, so the bucket must be configured explicitly.
func operatorContext(needCompute bool) (context.Context, *controller.Controller, objectstore.Store, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	if cfg.Store.Bucket == "" {
		return nil, nil, nil, fmt.Errorf("store.bucket (NIGHTFLEET_BUCKET) is required for fleet commands")
	}
	if cfg.Store.Region == "" {
		return nil, nil, nil, fmt.Errorf("store.region (NIGHTFLEET_REGION) is required for fleet commands")
	}
	store, err := objectstore.NewS3Store(ctx, cfg.Store.Bucket, cfg.Store.Region)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open object store: %w", err)
	}

	var compute cloud.ComputeProvider
	if needCompute {
		compute, err = cloud.NewEC2Provider(ctx, cfg.Store.Region, cfg.Fleet.LaunchTemplate)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create compute provider: %w", err)
		}
	}

	reg := registry.NewClient(store, nil)
	return ctx, controller.New(store, reg, compute, nil), store, nil
}
