// File: cmd/battle.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arbiter/internal/arena"
	"github.com/xkilldash9x/arbiter/internal/config"
	"github.com/xkilldash9x/arbiter/internal/observability"
	"github.com/xkilldash9x/arbiter/internal/service"
)

func newBattleCmd() *cobra.Command {
	var opts arena.Options
	var target string

	battleCmd := &cobra.Command{
		Use:   "battle",
		Short: "Run one battle for a target and print the result",
		Long: `Triggers a single battle between competing strategies for the target. The
battle is printed as JSON. A failed battle exits non-zero.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runBattle(ctx, observability.GetLogger(), cfg, cmd.OutOrStdout(), target, opts)
		},
	}

	battleCmd.Flags().StringVar(&target, "target", "", "The optimization target (required)")
	_ = battleCmd.MarkFlagRequired("target")
	battleCmd.Flags().StringVar(&opts.Actor, "actor", "", "Role that must be authorized to merge the winner")
	battleCmd.Flags().IntVar(&opts.Rounds, "rounds", 0, "Scoring rounds per competitor (default 3)")
	battleCmd.Flags().StringSliceVar(&opts.Strategies, "strategies", nil, "Strategies to compete (default from config)")
	battleCmd.Flags().StringSliceVar(&opts.Metrics, "metrics", nil, "Metrics to score (default performance,quality,patterns)")
	return battleCmd
}

// runBattle contains the core, testable logic of the battle command.
func runBattle(ctx context.Context, logger *zap.Logger, cfg config.Interface, out io.Writer, target string, opts arena.Options) error {
	components, err := service.NewComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	b, battleErr := components.Arena.TriggerBattle(ctx, target, opts)
	if b == nil {
		if errors.Is(battleErr, arena.ErrBattleDeferred) || errors.Is(battleErr, arena.ErrTooManyBattles) {
			return fmt.Errorf("battle for %s not started: %w", target, battleErr)
		}
		return battleErr
	}
	if err := writeJSON(out, b); err != nil {
		return err
	}
	if battleErr != nil {
		return fmt.Errorf("battle %s failed: %w", b.ID, battleErr)
	}
	return nil
}
