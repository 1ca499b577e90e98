// File: cmd/evaluate.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arbiter/internal/observability"
	"github.com/xkilldash9x/arbiter/internal/readiness"
)

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one readiness sweep and print the evaluation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			evaluator := readiness.NewEvaluator(observability.GetLogger(),
				readiness.DefinitionsFromConfig(cfg.Readiness().Probes))
			return writeJSON(cmd.OutOrStdout(), evaluator.Evaluate(ctx))
		},
	}
}
