// File: cmd/status.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arbiter/internal/arena"
	"github.com/xkilldash9x/arbiter/internal/brain"
	"github.com/xkilldash9x/arbiter/internal/config"
	"github.com/xkilldash9x/arbiter/internal/observability"
	"github.com/xkilldash9x/arbiter/internal/service"
)

// statusReport is the output of the status command.
type statusReport struct {
	Brain    brain.Snapshot `json:"brain"`
	Arena    arena.Snapshot `json:"arena"`
	Archived []arena.Battle `json:"archived_battles,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var archived int

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Run one control cycle and print the brain and arena snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runStatus(ctx, observability.GetLogger(), cfg, cmd.OutOrStdout(), archived)
		},
	}

	statusCmd.Flags().IntVar(&archived, "archived", 10, "Archived battles to include when a store is configured")
	return statusCmd
}

func runStatus(ctx context.Context, logger *zap.Logger, cfg config.Interface, out io.Writer, archived int) error {
	components, err := service.NewComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	if _, err := components.Cycle(ctx); err != nil {
		return err
	}

	report := statusReport{
		Brain: components.Brain.Status(),
		Arena: components.Arena.Status(),
	}
	if components.Store != nil && archived > 0 {
		report.Archived, err = components.Store.RecentBattles(ctx, archived)
		if err != nil {
			return err
		}
	}
	return writeJSON(out, report)
}
