package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nightcloud/nightfleet/pkg/config"
	"github.com/nightcloud/nightfleet/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes: 0 clean, 1 fatal configuration or registry error, 2
// allocator gave up after exhausting its retries.
const (
	exitFatal     = 1
	exitAllocator = 2
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFatal)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nightfleet",
	Short: "Nightfleet - distributed cloud mining coordinator",
	Long: `Nightfleet coordinates a fleet of mining workers through a shared
object-store bucket: each worker reserves a slice of the fleet's
addresses, mines the current challenges with the external miner binary,
and submits solutions to the Mine API. No coordinator process exists;
all coordination is conditional writes against the bucket.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Nightfleet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(fleetCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(donateCmd)
}

// loadConfig loads the layered configuration and initializes logging.
func loadConfig(console bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON && !console,
	})
	return cfg, nil
}
