package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List registered latent workers",
	Long: `List every worker the registry knows about, with its idle time.

The registry is the durable record of launches and terminations; a
worker missing here was either never launched through this deployment
or already terminated.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	workers := rt.registry.List()
	if len(workers) == 0 {
		fmt.Println("No workers registered")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tWORKER\tIMAGE\tPRICING\tLAUNCHED\tIDLE")
	for i := range workers {
		worker := workers[i]
		pricing := "on-demand"
		if worker.Spot {
			pricing = "spot"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			worker.InstanceID,
			worker.Worker,
			worker.ImageID,
			pricing,
			worker.LaunchedAt.Format(time.RFC3339),
			worker.IdleFor(now).Round(time.Second),
		)
	}
	return w.Flush()
}
