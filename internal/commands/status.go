package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/output"
	"github.com/dotcommander/oakd/internal/server"
)

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the oakd daemon is running and its schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := app.EffectiveSettings()
			client := server.NewHTTPStatusClient(settings.HTTPAddr)

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			ds, err := client.Status(ctx)
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				Addr          string `json:"addr"`
				Running       bool   `json:"running"`
				Version       string `json:"version,omitempty"`
				SchemaVersion int64  `json:"schema_version,omitempty"`
			}
			return output.PrintSuccess(resp{
				Addr:          settings.HTTPAddr,
				Running:       ds.Running,
				Version:       ds.Version,
				SchemaVersion: ds.SchemaVersion,
			})
		},
	}

	return cmd
}
