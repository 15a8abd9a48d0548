package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/forgeline/latentpool/internal/reaper"
	"github.com/forgeline/latentpool/telemetry"
)

var (
	daemonMetricsAddr string
	daemonInterval    time.Duration
	daemonIdleTimeout time.Duration
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the idle worker reaper",
	Long: `Run Latentpool in daemon mode.

The daemon sweeps the registry at the configured interval and
terminates workers that have been idle past the timeout. Metrics are
exported on /metrics in Prometheus format.`,
	Example: `  latentpool daemon                       # Use config reaper settings
  latentpool daemon --interval 30s        # Sweep every 30 seconds
  latentpool daemon --idle-timeout 15m    # Reap after 15 idle minutes`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics", "", "Metrics server address (overrides config)")
	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Sweep interval (overrides config)")
	daemonCmd.Flags().DurationVar(&daemonIdleTimeout, "idle-timeout", 0, "Idle timeout before reaping (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "latentpool",
		ServiceVersion: version,
		OTELEndpoint:   rt.cfg.OTEL.Endpoint,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	interval := rt.cfg.Reaper.Interval
	if daemonInterval > 0 {
		interval = daemonInterval
	}
	idleTimeout := rt.cfg.Reaper.IdleTimeout
	if daemonIdleTimeout > 0 {
		idleTimeout = daemonIdleTimeout
	}
	metricsAddr := rt.cfg.OTEL.MetricsAddr
	if daemonMetricsAddr != "" {
		metricsAddr = daemonMetricsAddr
	}

	r := reaper.New(rt.registry, rt.provisioner, rt.logger, reaper.Config{
		Interval:    interval,
		IdleTimeout: idleTimeout,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rt.logger.Info().
		Str("metrics_addr", metricsAddr).
		Dur("interval", interval).
		Dur("idle_timeout", idleTimeout).
		Msg("daemon starting")

	var group run.Group
	{
		runCtx, cancel := context.WithCancel(ctx)
		group.Add(func() error {
			return r.Run(runCtx)
		}, func(error) {
			cancel()
		})
	}
	{
		group.Add(func() error {
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}
	group.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err = group.Run()
	var signalErr run.SignalError
	if errors.As(err, &signalErr) {
		rt.logger.Info().Str("signal", signalErr.Signal.String()).Msg("daemon stopped")
		return nil
	}
	return err
}
