package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/kbsync/internal/app"
	"github.com/markdave123-py/kbsync/internal/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync <source-type> <source-id>",
	Short: "Synchronise one source into the vector index",
	Long: `Runs the sync pipeline for a single source in the foreground, with the
same retry policy as the background workers, and prints the task result.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, models.TaskPayload{
			SourceType:     models.SourceType(args[0]),
			SourceID:       args[1],
			OrganizationID: orgID,
			Action:         models.TaskActionSync,
		})
	},
}

var syncOrgCmd = &cobra.Command{
	Use:   "sync-org [source-type]",
	Short: "Synchronise every source of an organization",
	Long: `Sweeps the organization's sources of the given type, or of every type
when none is given, and prints the per-type statistics.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		types := models.SourceTypes
		if len(args) == 1 {
			st := models.SourceType(args[0])
			if !st.Valid() {
				return fmt.Errorf("unknown source type %q", args[0])
			}
			types = []models.SourceType{st}
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := make(map[models.SourceType]models.SyncStats, len(types))
			for _, st := range types {
				stats, err := a.Syncer.SyncOrganization(ctx, st, orgID)
				if err != nil {
					return fmt.Errorf("sweep %s: %w", st, err)
				}
				out[st] = stats
			}
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge <source-type> <source-id>",
	Short: "Delete every embedding of one source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, models.TaskPayload{
			SourceType:     models.SourceType(args[0]),
			SourceID:       args[1],
			OrganizationID: orgID,
			Action:         models.TaskActionPurge,
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{syncCmd, syncOrgCmd, purgeCmd} {
		requireOrg(c)
		rootCmd.AddCommand(c)
	}
}

func runTask(cmd *cobra.Command, p models.TaskPayload) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		res := a.Runner.Run(ctx, p)
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%s failed: %s", p.Action, res.Error)
		}
		return nil
	})
}
