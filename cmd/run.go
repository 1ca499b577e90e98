// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arbiter/internal/config"
	"github.com/xkilldash9x/arbiter/internal/observability"
	"github.com/xkilldash9x/arbiter/internal/service"
)

const metricsShutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	var metricsAddr string
	var mode string
	var maxActive int

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop until interrupted",
		Long: `Starts the readiness loop, which feeds the brain on every interval, and the
arena orchestrator. Runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.SetArenaMode(mode)
			}
			if cmd.Flags().Changed("max-active") {
				cfg.SetArenaMaxActiveBattles(maxActive)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if metricsAddr == "" && cfg.Metrics().Enabled {
				metricsAddr = cfg.Metrics().Address
			}
			return runControlPlane(ctx, observability.GetLogger(), cfg, metricsAddr)
		},
	}

	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. ':9464')")
	runCmd.Flags().StringVar(&mode, "mode", "", "Override the arena mode (continuous, scheduled, triggered)")
	runCmd.Flags().IntVar(&maxActive, "max-active", 0, "Override the active battle cap (0 removes it)")
	return runCmd
}

// runControlPlane contains the core, testable logic of the run command.
func runControlPlane(ctx context.Context, logger *zap.Logger, cfg config.Interface, metricsAddr string) error {
	components, err := service.NewComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux(components),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving metrics.", zap.String("address", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed.", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed.", zap.Error(err))
			}
		}()
	}

	logger.Info("Control plane running.",
		zap.Duration("interval", cfg.Readiness().Interval),
		zap.String("arena_mode", cfg.Arena().Mode))
	return components.Run(ctx)
}

func metricsMux(c *service.Components) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))
	return mux
}
