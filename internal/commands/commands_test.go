package commands

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewServeCmd_HasAddrFlag(t *testing.T) {
	cmd := NewServeCmd("test")
	require.Equal(t, "serve", cmd.Use)
	require.NotNil(t, cmd.Flags().Lookup("addr"))
}

func TestNewMigrateCmd_Metadata(t *testing.T) {
	cmd := NewMigrateCmd()
	require.Equal(t, "migrate", cmd.Use)
	require.NotNil(t, cmd.RunE)
}

func TestNewSyncCmd_HasExpectedFlags(t *testing.T) {
	cmd := NewSyncCmd("test")
	require.Equal(t, "sync", cmd.Use)
	for _, name := range []string{"team", "full", "dry-run"} {
		require.NotNil(t, cmd.Flags().Lookup(name), "missing flag %q", name)
	}
}

func TestNewDoctorCmd_Metadata(t *testing.T) {
	cmd := NewDoctorCmd()
	require.Equal(t, "doctor", cmd.Use)
	require.NotNil(t, cmd.RunE)
}

func TestNewStatusCmd_Metadata(t *testing.T) {
	cmd := NewStatusCmd()
	require.Equal(t, "status", cmd.Use)
	require.NotNil(t, cmd.RunE)
}

func TestCmdErr_WrapsAsPrintedError(t *testing.T) {
	err := cmdErr(errors.New("boom"))
	require.Error(t, err)
	require.IsType(t, printedError{}, err)
	require.EqualError(t, err, "error already printed")
}

func TestCmdErr_NilIsNil(t *testing.T) {
	require.NoError(t, cmdErr(nil))
}
