package syncengine

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/dotcommander/oakd/internal/backup"
)

// DaemonController starts and stops the daemon process. Process management
// belongs to the CLI command layer, not this package, so Execute takes it as
// a pair of callbacks rather than owning a process handle itself.
type DaemonController interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
}

// Executor runs a Plan's 7-step sequence against one machine's local store.
type Executor struct {
	DB                *sql.DB
	MachineID         string
	SchemaVersion     int64
	BackupDir         string
	VectorStoreDir    string
	IncludeActivities bool
	Daemon            DaemonController
}

// Result is what one Execute call produced, for reporting back to an
// operator or a sync command's output.
type Result struct {
	DryRun         bool
	Steps          []string
	FirstPass      backup.ImportStats
	SecondPass     backup.ImportStats
	BackupFilePath string
	Errors         []string
	Warnings       []string
}

func (r *Result) logStep(format string, args ...any) {
	r.Steps = append(r.Steps, fmt.Sprintf(format, args...))
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Execute runs plan's sequence. Every step is attempted even if an earlier
// one failed -- the sequence is idempotent and resumable, so a later run
// converges regardless of where a prior run stopped. When dryRun is true, no
// step mutates anything; Result.Steps instead records what would have
// happened.
func (e *Executor) Execute(ctx context.Context, plan *Plan, dryRun bool) *Result {
	result := &Result{DryRun: dryRun}

	// Step 1: stop daemon if required.
	if plan.StopDaemon {
		if dryRun {
			result.logStep("would stop daemon")
		} else if e.Daemon == nil {
			result.addWarning("stop_daemon requested but no daemon controller configured")
		} else if err := e.Daemon.Stop(ctx); err != nil {
			result.addError("stop daemon: %v", err)
		} else {
			result.logStep("stopped daemon")
		}
	}

	// Step 2: first restore pass.
	if plan.RestoreTeamBackups {
		stats, errs := e.restorePass(plan.TeamBackupFiles, dryRun)
		result.FirstPass = stats
		for _, w := range errs {
			result.addWarning("%s", w)
		}
		result.logStep("first restore pass: %d sessions, %d observations, %d events, %d activities imported",
			stats.SessionsImported, stats.ObservationsImported, stats.EventsImported, stats.ActivitiesImported)
	}

	// Step 3: delete vector store for a full rebuild.
	if plan.FullIndexRebuild {
		if dryRun {
			result.logStep("would delete vector store directory %s", e.VectorStoreDir)
		} else if err := os.RemoveAll(e.VectorStoreDir); err != nil {
			result.addError("delete vector store directory: %v", err)
		} else {
			result.logStep("deleted vector store directory %s", e.VectorStoreDir)
		}
	}

	// Step 4: start daemon (it migrates on start).
	if plan.StartDaemon {
		if dryRun {
			result.logStep("would start daemon")
		} else if e.Daemon == nil {
			result.addWarning("start_daemon requested but no daemon controller configured")
		} else if err := e.Daemon.Start(ctx); err != nil {
			result.addError("start daemon: %v", err)
		} else {
			result.logStep("started daemon")
		}
	}

	// Step 5: fresh backup SQL from the local store.
	if dryRun {
		result.logStep("would write a fresh backup sql file to %s", e.BackupDir)
	} else {
		sqlText, err := backup.Build(e.DB, e.MachineID, e.SchemaVersion, e.IncludeActivities)
		if err != nil {
			result.addError("build backup sql: %v", err)
		} else {
			path, err := backup.WriteFile(e.BackupDir, e.MachineID, sqlText)
			if err != nil {
				result.addError("write backup sql: %v", err)
			} else {
				result.BackupFilePath = path
				result.logStep("wrote backup sql %s", path)
			}
		}
	}

	// Step 6: second restore pass, now that migrations have run.
	if plan.RestoreTeamBackups {
		stats, errs := e.restorePass(plan.TeamBackupFiles, dryRun)
		result.SecondPass = stats
		for _, w := range errs {
			result.addWarning("%s", w)
		}
		result.logStep("second restore pass: %d sessions, %d observations, %d events, %d activities imported",
			stats.SessionsImported, stats.ObservationsImported, stats.EventsImported, stats.ActivitiesImported)
	}

	// Step 7: nothing in oakd re-embeds existing observations after the
	// vector store is deleted; this step only records that it was cleared.
	if plan.FullIndexRebuild {
		result.logStep("vector store cleared; existing observations are not re-embedded automatically")
	}

	return result
}

// restorePass applies every team backup file to the local store and
// accumulates import stats across them. A file that fails to read or parse
// is a warning, not a fatal error -- the remaining files still apply.
func (e *Executor) restorePass(files []string, dryRun bool) (backup.ImportStats, []string) {
	var total backup.ImportStats
	var warnings []string

	if dryRun {
		return total, nil
	}

	for _, path := range files {
		snap, err := backup.ReadFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("read backup file %s: %v", path, err))
			continue
		}
		stats, err := backup.Import(e.DB, snap)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("import backup file %s: %v", path, err))
			continue
		}
		total.SessionsImported += stats.SessionsImported
		total.ObservationsImported += stats.ObservationsImported
		total.EventsImported += stats.EventsImported
		total.ActivitiesImported += stats.ActivitiesImported
	}

	return total, warnings
}
