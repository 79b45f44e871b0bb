package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newContactsCmd creates the 'contacts' subcommand, one extraction run.
func newContactsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Runs one contact-extraction pass",
		Long: `Selects creators that need a contact check, extracts email addresses and
contact forms from their websites and merges the results. Prints the run
summary as JSON.`,
		RunE: runContactsCommand,
	}
	flags := cmd.Flags()
	flags.Int("concurrency", 0, "maximum creators processed at once")
	flags.Int("batch-size", 0, "creators merged per batch")
	flags.Int("limit", 0, "process at most this many creators (0 = all)")
	flags.Int("deadline", 0, "stop scheduling new creators after this many seconds (0 = none)")
	flags.Bool("serve", false, "expose the ops HTTP server while the run is in progress")
	mustBind(v, "pipeline.concurrency", flags.Lookup("concurrency"))
	mustBind(v, "pipeline.batch_size", flags.Lookup("batch-size"))
	mustBind(v, "pipeline.max_items", flags.Lookup("limit"))
	mustBind(v, "pipeline.deadline_seconds", flags.Lookup("deadline"))
	mustBind(v, "server.enabled", flags.Lookup("serve"))
	return cmd
}

func runContactsCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	stop := appInstance.ServeOps(cmd.Context())
	defer stop()

	event, runErr := appInstance.RunContacts(cmd.Context())
	if err := printJSON(cmd.OutOrStdout(), event); err != nil {
		appInstance.Logger().Warn("print run summary failed", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("contact run: %w", runErr)
	}
	return nil
}

// mustBind ties a flag to a config key. Only a nil flag fails, which is a
// programming error.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
