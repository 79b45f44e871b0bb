package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newSyncCmd creates the 'sync' subcommand, which merges an upstream snapshot.
func newSyncCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Merges an upstream creator/project snapshot",
		Long: `Reads a snapshot of creators and projects from a local path or a gs:// object,
upserts rows whose data_hash changed and refreshes the derived social flags
on creator_outreach.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := appInstance.SyncSnapshots(cmd.Context(), v.GetString("sync.source"))
			if err != nil {
				return fmt.Errorf("sync snapshots: %w", err)
			}
			appInstance.Logger().Info("snapshot sync finished",
				zap.Int("creators_inserted", rep.Creators.Inserted),
				zap.Int("creators_updated", rep.Creators.Updated),
				zap.Int("projects_inserted", rep.Projects.Inserted),
				zap.Int("projects_updated", rep.Projects.Updated),
			)
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().String("source", "", "snapshot path or gs://bucket/object")
	mustBind(v, "sync.source", cmd.Flags().Lookup("source"))
	return cmd
}
