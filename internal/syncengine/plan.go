// Package syncengine converges local daemon state -- version, schema, vector
// index, team backups -- to a desired configuration as a single resumable
// workflow: compute a SyncPlan, then execute it.
package syncengine

import (
	"context"

	"github.com/dotcommander/oakd/internal/backup"
)

// Reason is one of the detection-rule enum values a Plan can carry.
type Reason string

const (
	ReasonOakVersionChanged    Reason = "OAK_VERSION_CHANGED"
	ReasonSchemaVersionChanged Reason = "SCHEMA_VERSION_CHANGED"
	ReasonTeamBackupsAvailable Reason = "TEAM_BACKUPS_AVAILABLE"
	ReasonManualFullRebuild    Reason = "MANUAL_FULL_REBUILD"
	ReasonNoChanges            Reason = "NO_CHANGES"
)

// DaemonStatus is what a running daemon reports about itself. Running is
// false when nothing answered the status query at all.
type DaemonStatus struct {
	Running       bool
	Version       string
	SchemaVersion int64
}

// StatusClient queries a (possibly not running) daemon for its status.
// Implementations should treat "nothing is listening" as a non-error
// DaemonStatus{Running: false}, not a returned error.
type StatusClient interface {
	Status(ctx context.Context) (DaemonStatus, error)
}

// PlanInput is the Sync Orchestrator's two plan inputs.
type PlanInput struct {
	IncludeTeam bool
	ForceFull   bool
}

// Plan is the computed SyncPlan: what needs to happen and why.
type Plan struct {
	NeedsSync bool
	Reasons   []Reason

	StopDaemon         bool
	StartDaemon        bool
	RunMigrations      bool
	RestoreTeamBackups bool
	FullIndexRebuild   bool

	BinaryVersion   string
	DaemonVersion   string
	CompiledSchema  int64
	DaemonSchema    int64
	TeamBackupFiles []string
}

// BuildPlan runs the four detection rules against the current daemon status
// (queried via status, which may report Running: false) and the local team
// backup directory, and derives the execution flags from whichever reasons
// fired.
func BuildPlan(ctx context.Context, status StatusClient, binaryVersion string, compiledSchemaVersion int64, backupDir, machineID string, input PlanInput) (*Plan, error) {
	plan := &Plan{
		BinaryVersion:  binaryVersion,
		CompiledSchema: compiledSchemaVersion,
	}

	ds, err := status.Status(ctx)
	if err != nil {
		return nil, err
	}
	plan.DaemonVersion = ds.Version
	plan.DaemonSchema = ds.SchemaVersion

	if ds.Running {
		if ds.Version != binaryVersion || ds.Version == "" {
			plan.Reasons = append(plan.Reasons, ReasonOakVersionChanged)
		}
		if ds.SchemaVersion != compiledSchemaVersion {
			plan.Reasons = append(plan.Reasons, ReasonSchemaVersionChanged)
		}
	}

	if input.IncludeTeam {
		files, err := backup.ListTeamFiles(backupDir, machineID)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			plan.Reasons = append(plan.Reasons, ReasonTeamBackupsAvailable)
			plan.TeamBackupFiles = files
		}
	}

	if input.ForceFull {
		plan.Reasons = append(plan.Reasons, ReasonManualFullRebuild)
	}

	if len(plan.Reasons) == 0 {
		plan.Reasons = []Reason{ReasonNoChanges}
		return plan, nil
	}

	plan.NeedsSync = true
	for _, r := range plan.Reasons {
		switch r {
		case ReasonOakVersionChanged, ReasonSchemaVersionChanged:
			plan.StopDaemon = ds.Running
			plan.RunMigrations = true
		case ReasonManualFullRebuild:
			plan.StopDaemon = ds.Running
			plan.RunMigrations = true
			plan.FullIndexRebuild = true
		case ReasonTeamBackupsAvailable:
			plan.RestoreTeamBackups = true
		}
	}
	plan.StartDaemon = plan.StopDaemon || !ds.Running

	return plan, nil
}
