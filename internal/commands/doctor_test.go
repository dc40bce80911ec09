package commands

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/output"
)

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// everything fn wrote. output.PrintSuccess/PrintError always write to
// os.Stdout via output.DefaultConfig, so this is the only seam a command's
// RunE offers for asserting on its JSON output without restructuring it.
func captureStdout(t *testing.T, fn func()) []byte {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

// doctor opens the DB without migrating it, so a fresh database is reachable
// (db_ok) but still at schema version 0 (schema_ok false).
func TestDoctorCmd_FreshDatabaseReportsUnmigratedSchema(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	app.SetDBPathOverride(filepath.Join(home, "oakd.db"))
	t.Cleanup(func() { app.SetDBPathOverride("") })

	cmd := NewDoctorCmd()
	out := captureStdout(t, func() {
		require.NoError(t, cmd.RunE(cmd, nil))
	})

	var resp output.Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)

	var parsed struct {
		DBOK     bool `json:"db_ok"`
		SchemaOK bool `json:"schema_ok"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.True(t, parsed.DBOK)
	require.False(t, parsed.SchemaOK)
}

func TestMigrateCmd_AppliesMigrationsToFreshDatabase(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	app.SetDBPathOverride(filepath.Join(home, "oakd.db"))
	t.Cleanup(func() { app.SetDBPathOverride("") })

	cmd := NewMigrateCmd()
	out := captureStdout(t, func() {
		require.NoError(t, cmd.RunE(cmd, nil))
	})

	var resp output.Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)

	var parsed struct {
		SchemaAfter       int64 `json:"schema_after"`
		SchemaLatest      int64 `json:"schema_latest"`
		MigrationsApplied bool  `json:"migrations_applied"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Equal(t, parsed.SchemaLatest, parsed.SchemaAfter)
	require.True(t, parsed.MigrationsApplied, "a fresh database has no schema_before, so migrate must apply something")
}
