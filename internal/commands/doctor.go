package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/output"
	"github.com/dotcommander/oakd/internal/store"
)

func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database, and vector store health",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, dbSource, err := app.ResolveDBPathDetailed()
			if err != nil {
				return cmdErr(err)
			}

			var (
				dbOK      bool
				dbErr     string
				schemaOK  bool
				schemaErr string
				current   int64
				latest    int64
			)

			// OpenDB, not InitDBWithPath: doctor reports schema drift, it
			// doesn't fix it. A doctor run should never itself apply
			// migrations as a side effect of checking whether they're needed.
			db, err := store.OpenDB(dbPath)
			if err != nil {
				dbOK = false
				dbErr = err.Error()
			} else {
				dbOK = true
				defer db.Close()

				current, latest, err = store.SchemaVersion(db)
				if err != nil {
					schemaErr = err.Error()
				} else {
					schemaOK = current == latest
				}
			}

			settings := app.EffectiveSettings()
			vectorDirOK := true
			vectorDirErr := ""
			if _, err := os.Stat(settings.VectorStoreDir); err != nil && !os.IsNotExist(err) {
				vectorDirOK = false
				vectorDirErr = err.Error()
			}

			type resp struct {
				DBPath         string `json:"db_path"`
				DBSource       string `json:"db_source"`
				DBOK           bool   `json:"db_ok"`
				DBErr          string `json:"db_error,omitempty"`
				SchemaOK       bool   `json:"schema_ok"`
				SchemaErr      string `json:"schema_error,omitempty"`
				SchemaCurrent  int64  `json:"schema_current"`
				SchemaLatest   int64  `json:"schema_latest"`
				VectorStoreDir string `json:"vector_store_dir"`
				VectorStoreOK  bool   `json:"vector_store_dir_ok"`
				VectorStoreErr string `json:"vector_store_dir_error,omitempty"`
				BearerTokenSet bool   `json:"bearer_token_set"`
				Hint           string `json:"hint,omitempty"`
			}
			hint := ""
			if !dbOK {
				hint = "If this is running in a sandboxed environment, set db_path to a writable location or use --db-path."
			} else if !schemaOK {
				hint = "Run 'oakd migrate' to bring the schema up to date."
			}
			return output.PrintSuccess(resp{
				DBPath:         dbPath,
				DBSource:       dbSource,
				DBOK:           dbOK,
				DBErr:          dbErr,
				SchemaOK:       schemaOK,
				SchemaErr:      schemaErr,
				SchemaCurrent:  current,
				SchemaLatest:   latest,
				VectorStoreDir: settings.VectorStoreDir,
				VectorStoreOK:  vectorDirOK,
				VectorStoreErr: vectorDirErr,
				BearerTokenSet: settings.BearerToken != "",
				Hint:           hint,
			})
		},
	}

	return cmd
}
