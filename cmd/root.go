// Package cmd defines and implements the CLI commands for the outreachsync executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/config"
	"github.com/JakeFAU/creator-outreach-sync/internal/logging"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
	"github.com/JakeFAU/creator-outreach-sync/internal/report"
	"github.com/JakeFAU/creator-outreach-sync/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the application. Tests inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	ServeOps(ctx context.Context) func()
	RunContacts(ctx context.Context) (report.RunCompleted, error)
	SyncSnapshots(ctx context.Context, source string) (outreach.SnapshotReport, error)
	Migrate(ctx context.Context) error
	State(ctx context.Context) (outreach.PipelineState, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, v *viper.Viper, cfgFile string) (App, error) {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	app, err := server.Build(ctx, cfg, logger, server.Overrides{})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return app, nil
}

// newRootCmd creates and configures the root command. Flags bind to v so
// they override file and environment settings.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "outreachsync",
		Short: "Keeps creator contact details in sync with their websites.",
		Long: `outreachsync selects creators whose contact details are missing or stale,
discovers email addresses and contact forms on their websites through a
content-extraction service, and merges the results into the outreach table
without overwriting manually curated fields.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), v, cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().Bool("dry-run", false, "run without writing outreach rows, credentials or the watermark")
	mustBind(v, "pipeline.dry_run", cmd.PersistentFlags().Lookup("dry-run"))

	cmd.AddCommand(
		newContactsCmd(v),
		newSyncCmd(v),
		newStateCmd(),
		newMigrateCmd(),
	)
	return cmd
}

// Execute runs the CLI with ctx, which is canceled on shutdown signals.
func Execute(ctx context.Context) error {
	return newRootCmd(viper.New()).ExecuteContext(ctx)
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
