package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nightcloud/nightfleet/pkg/controller"
	"github.com/nightcloud/nightfleet/pkg/mineapi"
	"github.com/nightcloud/nightfleet/pkg/signer"
)

var registerAddressFile string

var registerCmd = &cobra.Command{
	Use:   "register [address]...",
	Short: "Register addresses with the Mine API",
	Long: `Register addresses against the Mine API's terms: the terms message is
signed per address by the external signing tool and submitted. Already
registered addresses count as success, so re-running is safe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addresses := args
		if registerAddressFile != "" {
			fromFile, err := controller.ReadAddressFile(registerAddressFile)
			if err != nil {
				return err
			}
			addresses = append(addresses, fromFile...)
		}
		if len(addresses) == 0 {
			return fmt.Errorf("no addresses given: pass addresses or --addresses <file>")
		}

		api := mineapi.NewClient(cfg.MineAPI.BaseURL, cfg.MineAPI.RequestsPerSecond)
		sig := signer.NewToolSigner(cfg.Miner.SignerPath)

		results := controller.RegisterAddresses(ctx, api, sig, cfg.MineAPI.TermsVersion, addresses)
		var failed int
		for _, res := range results {
			if res.Err != nil {
				failed++
				fmt.Printf("✗ %s: %v\n", res.Address, res.Err)
			} else {
				fmt.Printf("✓ %s registered\n", res.Address)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d registrations failed", failed, len(results))
		}
		return nil
	},
}

var donateCmd = &cobra.Command{
	Use:   "donate <destination> <original>",
	Short: "Redirect an address's rewards to another address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		destination, original := args[0], args[1]
		api := mineapi.NewClient(cfg.MineAPI.BaseURL, cfg.MineAPI.RequestsPerSecond)
		sig := signer.NewToolSigner(cfg.Miner.SignerPath)

		outcome, err := controller.Donate(ctx, api, sig, destination, original)
		switch outcome {
		case mineapi.DonateAccepted:
			fmt.Printf("✓ Rewards from %s now flow to %s\n", original, destination)
			return nil
		case mineapi.DonateDuplicate:
			fmt.Printf("✓ %s already donates to %s\n", original, destination)
			return nil
		case mineapi.DonateWindowClosed:
			return fmt.Errorf("the donation window is not open yet")
		default:
			return fmt.Errorf("donation failed: %w", err)
		}
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerAddressFile, "addresses", "", "address file, one per line")
}
