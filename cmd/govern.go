// File: cmd/govern.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arbiter/internal/observability"
	"github.com/xkilldash9x/arbiter/internal/service"
)

func newGovernCmd() *cobra.Command {
	governCmd := &cobra.Command{
		Use:   "govern",
		Short: "Query the governance policy",
	}
	governCmd.AddCommand(newAuthorizeCmd(), newPatternCmd())
	return governCmd
}

func newAuthorizeCmd() *cobra.Command {
	var action, actor, domain string

	authorizeCmd := &cobra.Command{
		Use:   "authorize",
		Short: "Check whether a role may perform an action in a domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			_, b, err := service.NewBrain(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), b.CheckGovernance(action, actor, domain))
		},
	}

	authorizeCmd.Flags().StringVar(&action, "action", "", "Action to authorize (required)")
	authorizeCmd.Flags().StringVar(&actor, "actor", "", "Role performing the action (required)")
	authorizeCmd.Flags().StringVar(&domain, "domain", "", "Domain the action targets (required)")
	_ = authorizeCmd.MarkFlagRequired("action")
	_ = authorizeCmd.MarkFlagRequired("actor")
	_ = authorizeCmd.MarkFlagRequired("domain")
	return authorizeCmd
}

func newPatternCmd() *cobra.Command {
	var id string

	patternCmd := &cobra.Command{
		Use:   "pattern",
		Short: "Classify a behavioral pattern for adoption",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			_, b, err := service.NewBrain(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), b.EvaluatePatternAdoption(id))
		},
	}

	patternCmd.Flags().StringVar(&id, "id", "", "Pattern identifier (required)")
	_ = patternCmd.MarkFlagRequired("id")
	return patternCmd
}
