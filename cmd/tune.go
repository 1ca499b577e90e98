// File: cmd/tune.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arbiter/internal/brain"
	"github.com/xkilldash9x/arbiter/internal/observability"
	"github.com/xkilldash9x/arbiter/internal/service"
)

func newTuneCmd() *cobra.Command {
	var observed brain.ObservedMetrics

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "Recommend a concurrency limit for observed metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			_, b, err := service.NewBrain(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), b.AutoTune(observed))
		},
	}

	tuneCmd.Flags().Float64Var(&observed.ErrorRate, "error-rate", 0, "Observed error rate (0-1)")
	tuneCmd.Flags().Float64Var(&observed.AvgLatencyMs, "latency", 0, "Observed average latency in milliseconds")
	tuneCmd.Flags().Float64Var(&observed.QueueUtilization, "utilization", 0, "Observed queue utilization (0-1)")
	return tuneCmd
}
