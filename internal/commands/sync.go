package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/output"
	"github.com/dotcommander/oakd/internal/server"
	"github.com/dotcommander/oakd/internal/store"
	"github.com/dotcommander/oakd/internal/syncengine"
)

// NewSyncCmd computes and (unless --dry-run) executes a SyncPlan: whether
// the running daemon's version/schema has drifted from this binary, whether
// team backups are waiting to be restored, and whether a full vector-store
// rebuild was requested. No DaemonController is wired in -- oakd leaves
// process supervision (restarting the daemon around the plan's stop/start
// steps) to the operator's init system (systemd, launchd, a supervisor
// process); sync itself acts only on the database, the backup directory and
// the vector store, never on the OS process table.
func NewSyncCmd(version string) *cobra.Command {
	var (
		includeTeam bool
		forceFull   bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Converge local daemon state to this binary's version and schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := app.EffectiveSettings()
			dbPath, err := app.GetDBPath()
			if err != nil {
				return cmdErr(err)
			}

			db, err := store.OpenDB(dbPath)
			if err != nil {
				return cmdErr(err)
			}
			defer db.Close()

			_, compiledSchema, err := store.SchemaVersion(db)
			if err != nil {
				return cmdErr(err)
			}

			client := server.NewHTTPStatusClient(settings.HTTPAddr)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			plan, err := syncengine.BuildPlan(ctx, client, version, compiledSchema, settings.BackupDir, resolveMachineID(), syncengine.PlanInput{
				IncludeTeam: includeTeam,
				ForceFull:   forceFull,
			})
			if err != nil {
				return cmdErr(err)
			}

			executor := &syncengine.Executor{
				DB:                db,
				MachineID:         resolveMachineID(),
				SchemaVersion:     compiledSchema,
				BackupDir:         settings.BackupDir,
				VectorStoreDir:    settings.VectorStoreDir,
				IncludeActivities: includeTeam,
			}
			result := executor.Execute(ctx, plan, dryRun)

			type resp struct {
				Plan   *syncengine.Plan   `json:"plan"`
				Result *syncengine.Result `json:"result"`
			}
			return output.PrintSuccess(resp{Plan: plan, Result: result})
		},
	}

	cmd.Flags().BoolVar(&includeTeam, "team", false, "Restore any available team backup files")
	cmd.Flags().BoolVar(&forceFull, "full", false, "Force a full vector-index rebuild")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the plan without executing it")

	return cmd
}
