package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStateCmd creates the 'state' subcommand, which prints the watermark.
func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Prints the pipeline watermark",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := appInstance.State(cmd.Context())
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

// newMigrateCmd creates the 'migrate' subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Migrate(cmd.Context())
		},
	}
}
