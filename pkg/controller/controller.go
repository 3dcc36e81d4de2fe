package controller

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/cloud"
	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/registry"
)

// Controller bundles the operator-side actions: seeding the registry,
// shipping miner code, scaling the fleet and reporting status. It runs
// from a workstation or CI, never on the workers themselves.
type Controller struct {
	store   objectstore.Store
	reg     *registry.Client
	compute cloud.ComputeProvider
	clock   clock.Clock
	logger  zerolog.Logger
}

// New creates a controller. compute may be nil when only store-side
// actions (seed, upload, status) are needed.
func New(store objectstore.Store, reg *registry.Client, compute cloud.ComputeProvider, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	return &Controller{
		store:   store,
		reg:     reg,
		compute: compute,
		clock:   clk,
		logger:  log.WithComponent("controller"),
	}
}

// SeedRegistry creates or refreshes registry.json from an address file.
func (c *Controller) SeedRegistry(ctx context.Context, addressFile string, perInstance int) (int, error) {
	addresses, err := ReadAddressFile(addressFile)
	if err != nil {
		return 0, err
	}
	if err := c.reg.Seed(ctx, addresses, perInstance); err != nil {
		return 0, err
	}
	return len(addresses), nil
}

// ReadAddressFile loads one address per line, skipping blanks and
// #-comments.
func ReadAddressFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open address file: %w", err)
	}
	defer f.Close()

	var addresses []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			return nil, fmt.Errorf("duplicate address %q in %s", line, path)
		}
		seen[line] = true
		addresses = append(addresses, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read address file: %w", err)
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("address file %s is empty", path)
	}
	return addresses, nil
}

// Launch starts n additional worker instances.
func (c *Controller) Launch(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("launch count must be positive, got %d", n)
	}
	if err := c.compute.LaunchWorkers(ctx, n); err != nil {
		return fmt.Errorf("failed to launch workers: %w", err)
	}
	c.logger.Info().Int("count", n).Msg("workers launching")
	return nil
}

// Scale adjusts the fleet to n live workers.
func (c *Controller) Scale(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("desired count must be non-negative, got %d", n)
	}
	if err := c.compute.SetDesiredCount(ctx, n); err != nil {
		return fmt.Errorf("failed to scale fleet: %w", err)
	}
	c.logger.Info().Int("desired", n).Msg("fleet scaling")
	return nil
}

// Terminate terminates the given worker instances. Their assignments are
// released by the reclaimer once the heartbeats go stale.
func (c *Controller) Terminate(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("no instance ids given")
	}
	if err := c.compute.TerminateWorkers(ctx, ids); err != nil {
		return fmt.Errorf("failed to terminate workers: %w", err)
	}
	c.logger.Info().Strs("instances", ids).Msg("workers terminating")
	return nil
}
