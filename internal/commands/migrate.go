package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/output"
	"github.com/dotcommander/oakd/internal/store"
)

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := app.GetDBPath()
			if err != nil {
				return cmdErr(err)
			}

			before, latest, err := func() (int64, int64, error) {
				db, err := store.OpenDB(dbPath)
				if err != nil {
					return 0, 0, err
				}
				defer db.Close()
				return store.SchemaVersion(db)
			}()
			if err != nil {
				return cmdErr(err)
			}

			db, err := store.InitDBWithPath(dbPath)
			if err != nil {
				return cmdErr(err)
			}
			defer db.Close()

			after, _, err := store.SchemaVersion(db)
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				DBPath            string `json:"db_path"`
				SchemaBefore      int64  `json:"schema_before"`
				SchemaAfter       int64  `json:"schema_after"`
				SchemaLatest      int64  `json:"schema_latest"`
				MigrationsApplied bool   `json:"migrations_applied"`
			}
			return output.PrintSuccess(resp{
				DBPath:            dbPath,
				SchemaBefore:      before,
				SchemaAfter:       after,
				SchemaLatest:      latest,
				MigrationsApplied: after != before,
			})
		},
	}

	return cmd
}
