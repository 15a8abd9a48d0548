package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeline/latentpool/provision"
)

var launchCmd = &cobra.Command{
	Use:   "launch <worker>",
	Short: "Provision one latent worker",
	Long: `Provision one instance for a worker spec declared in the config.

The spec is validated, its image resolved, and its volumes normalized
before anything touches the provider. Spot specs re-bid on price
rejections up to their configured retry budget.`,
	Example: `  latentpool launch linux-large
  latentpool launch linux-large --config prod.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runLaunch,
}

func init() {
	rootCmd.AddCommand(launchCmd)
}

func runLaunch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	spec, err := rt.cfg.Worker(args[0])
	if err != nil {
		return err
	}

	result, advisories, err := rt.provisioner.Launch(ctx, spec)
	for _, advisory := range advisories {
		fmt.Printf("⚠️  %s: %s\n", advisory.Field, advisory.Message)
	}
	if err != nil {
		var exhausted *provision.CapacityExhaustedError
		if errors.As(err, &exhausted) {
			return fmt.Errorf("no capacity at acceptable price after %d attempts (final bid %.4f)",
				exhausted.Attempts, exhausted.FinalBid)
		}
		return err
	}

	fmt.Printf("✅ Launched %s\n", result.InstanceID)
	fmt.Printf("   Image: %s\n", result.ImageID)
	fmt.Printf("   Ready in: %s\n", result.StartTime)
	return nil
}
