package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var terminateAllIdle bool

var terminateCmd = &cobra.Command{
	Use:   "terminate [instance-id]",
	Short: "Terminate latent workers",
	Example: `  latentpool terminate i-0abc123def456
  latentpool terminate --all-idle
  latentpool terminate i-0abc123def456 --config prod.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTerminate,
}

func init() {
	terminateCmd.Flags().BoolVar(&terminateAllIdle, "all-idle", false, "Terminate every registered worker idle past the configured timeout")
	rootCmd.AddCommand(terminateCmd)
}

func runTerminate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if terminateAllIdle {
		if len(args) > 0 {
			return fmt.Errorf("--all-idle does not take an instance id")
		}
		count, err := terminateIdle(ctx, rt)
		if err != nil {
			return err
		}
		if count == 0 {
			fmt.Println("No idle workers to terminate")
		} else {
			fmt.Printf("🗑️  Terminated %d idle worker(s)\n", count)
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("an instance id is required unless --all-idle is set")
	}

	if err := rt.provisioner.Terminate(ctx, args[0]); err != nil {
		return err
	}

	fmt.Printf("🗑️  Terminated %s\n", args[0])
	return nil
}

// terminateIdle tears down every registered worker idle past the
// configured reaper timeout. The first termination failure stops the
// pass; already-terminated workers stay terminated.
func terminateIdle(ctx context.Context, rt *runtime) (int, error) {
	idle := rt.registry.ListIdle(time.Now(), rt.cfg.Reaper.IdleTimeout)

	count := 0
	for _, worker := range idle {
		if err := rt.provisioner.Terminate(ctx, worker.InstanceID); err != nil {
			return count, fmt.Errorf("failed to terminate %s: %w", worker.InstanceID, err)
		}
		count++
	}
	return count, nil
}
