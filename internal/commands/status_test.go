package commands

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/output"
)

func TestStatusCmd_ReportsNotRunningWhenNothingListens(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	app.SetDBPathOverride(filepath.Join(home, "oakd.db"))
	t.Cleanup(func() { app.SetDBPathOverride("") })

	cmd := NewStatusCmd()
	out := captureStdout(t, func() {
		require.NoError(t, cmd.RunE(cmd, nil))
	})

	var resp output.Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)

	var parsed struct {
		Running bool `json:"running"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.False(t, parsed.Running)
}
