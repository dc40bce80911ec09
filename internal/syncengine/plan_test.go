package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	status DaemonStatus
	err    error
}

func (f fakeStatus) Status(context.Context) (DaemonStatus, error) {
	return f.status, f.err
}

func TestBuildPlan_NoChangesWhenNothingDiffers(t *testing.T) {
	status := fakeStatus{status: DaemonStatus{Running: true, Version: "1.2.3", SchemaVersion: 7}}
	dir := t.TempDir()

	plan, err := BuildPlan(context.Background(), status, "1.2.3", 7, dir, "machine_a", PlanInput{})
	require.NoError(t, err)
	require.False(t, plan.NeedsSync)
	require.Equal(t, []Reason{ReasonNoChanges}, plan.Reasons)
	require.False(t, plan.StopDaemon)
	require.False(t, plan.StartDaemon)
}

func TestBuildPlan_VersionChangeStopsAndRestartsDaemon(t *testing.T) {
	status := fakeStatus{status: DaemonStatus{Running: true, Version: "1.2.2", SchemaVersion: 7}}
	dir := t.TempDir()

	plan, err := BuildPlan(context.Background(), status, "1.2.3", 7, dir, "machine_a", PlanInput{})
	require.NoError(t, err)
	require.True(t, plan.NeedsSync)
	require.Contains(t, plan.Reasons, ReasonOakVersionChanged)
	require.True(t, plan.StopDaemon)
	require.True(t, plan.StartDaemon)
	require.True(t, plan.RunMigrations)
	require.False(t, plan.FullIndexRebuild)
}

func TestBuildPlan_RunningWithNoVersionReportedCountsAsChanged(t *testing.T) {
	status := fakeStatus{status: DaemonStatus{Running: true, Version: "", SchemaVersion: 7}}
	dir := t.TempDir()

	plan, err := BuildPlan(context.Background(), status, "1.2.3", 7, dir, "machine_a", PlanInput{})
	require.NoError(t, err)
	require.Contains(t, plan.Reasons, ReasonOakVersionChanged)
}

func TestBuildPlan_SchemaVersionChanged(t *testing.T) {
	status := fakeStatus{status: DaemonStatus{Running: true, Version: "1.2.3", SchemaVersion: 6}}
	dir := t.TempDir()

	plan, err := BuildPlan(context.Background(), status, "1.2.3", 7, dir, "machine_a", PlanInput{})
	require.NoError(t, err)
	require.Contains(t, plan.Reasons, ReasonSchemaVersionChanged)
	require.True(t, plan.RunMigrations)
}

func TestBuildPlan_ForceFullTriggersIndexRebuild(t *testing.T) {
	status := fakeStatus{status: DaemonStatus{Running: false}}
	dir := t.TempDir()

	plan, err := BuildPlan(context.Background(), status, "1.2.3", 7, dir, "machine_a", PlanInput{ForceFull: true})
	require.NoError(t, err)
	require.Contains(t, plan.Reasons, ReasonManualFullRebuild)
	require.True(t, plan.FullIndexRebuild)
	require.True(t, plan.RunMigrations)
	require.False(t, plan.StopDaemon, "daemon was never running, nothing to stop")
	require.True(t, plan.StartDaemon, "daemon must come up after the rebuild")
}

func TestBuildPlan_TeamBackupsAvailableExcludesOwnFiles(t *testing.T) {
	status := fakeStatus{status: DaemonStatus{Running: true, Version: "1.2.3", SchemaVersion: 7}}
	dir := t.TempDir()

	writeBackupFile(t, dir, "machine_a.sql")
	writeBackupFile(t, dir, "machine_b.sql")

	plan, err := BuildPlan(context.Background(), status, "1.2.3", 7, dir, "machine_a", PlanInput{IncludeTeam: true})
	require.NoError(t, err)
	require.Contains(t, plan.Reasons, ReasonTeamBackupsAvailable)
	require.True(t, plan.RestoreTeamBackups)
	require.Len(t, plan.TeamBackupFiles, 1)
}

func writeBackupFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- oakd backup\n"), 0600))
}
