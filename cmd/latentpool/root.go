package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgeline/latentpool/config"
	"github.com/forgeline/latentpool/journal"
	"github.com/forgeline/latentpool/policy"
	"github.com/forgeline/latentpool/providers"
	_ "github.com/forgeline/latentpool/providers/aws"
	_ "github.com/forgeline/latentpool/providers/memory"
	"github.com/forgeline/latentpool/provision"
	"github.com/forgeline/latentpool/registry"
	"github.com/forgeline/latentpool/telemetry"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "latentpool",
		Short: "Latent Worker Provisioning Engine",
		Long: `Latentpool - Latent Worker Provisioning Engine

Latentpool provisions ephemeral build and test workers on demand.
It validates worker specs, resolves images, bids on spot capacity
with bounded retries, and reclaims workers that go idle.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Latentpool {{.Version}} - Latent Worker Provisioning Engine
`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "latentpool.yaml", "Path to deployment config")
}

// runtime bundles everything a command needs once the config is loaded.
type runtime struct {
	cfg         *config.Config
	provider    providers.Provider
	provisioner *provision.Provisioner
	registry    *registry.Registry
	logger      *telemetry.Logger
	journal     *journal.Journal
}

func (r *runtime) Close() {
	if r.journal != nil {
		_ = r.journal.Close()
	}
	if r.registry != nil {
		_ = r.registry.Close()
	}
}

// buildRuntime loads the config and wires the provisioning stack.
// State directories are created on first use.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger("latentpool")

	provider, err := providers.Get(ctx, cfg.Provider, providers.Config{Region: cfg.Region})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	if err := os.MkdirAll(cfg.Paths.Journal, 0750); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.Registry, 0750); err != nil {
		return nil, fmt.Errorf("failed to create registry dir: %w", err)
	}

	jnl, err := journal.Open(cfg.Paths.Journal)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	reg, err := registry.Open(cfg.Paths.Registry)
	if err != nil {
		_ = jnl.Close()
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	var engine *policy.Engine
	if cfg.Paths.Policies != "" {
		engine = policy.NewEngine()
		if err := engine.LoadDir(ctx, cfg.Paths.Policies); err != nil {
			_ = jnl.Close()
			_ = reg.Close()
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}

	provisioner := provision.NewProvisioner(provider, provision.Options{
		Defaults: provision.Defaults{
			KeypairName:  cfg.Defaults.KeypairName,
			SecurityName: cfg.Defaults.SecurityName,
		},
		Logger:   logger,
		Journal:  jnl,
		Registry: reg,
		Policy:   engine,
	})

	return &runtime{
		cfg:         cfg,
		provider:    provider,
		provisioner: provisioner,
		registry:    reg,
		logger:      logger,
		journal:     jnl,
	}, nil
}
