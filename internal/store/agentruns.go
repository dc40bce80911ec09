package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

// IsAgentRunning reports whether agentName has any run currently 'running',
// for the scheduler's overlap-suppression check (asked before a new run row
// is even created, so a skipped tick leaves no orphan pending row behind).
func IsAgentRunning(db *sql.DB, agentName string) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM agent_runs WHERE agent_name = ? AND status = 'running'`, agentName).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateAgentRun inserts a pending run row.
func CreateAgentRun(db *sql.DB, agentName, task string) (*models.AgentRun, error) {
	var run *models.AgentRun
	err := Transact(db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(`
			INSERT INTO agent_runs (agent_name, task, status, created_at)
			VALUES (?, ?, 'pending', ?)
		`, agentName, task, now.Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		run = &models.AgentRun{ID: id, AgentName: agentName, Task: task, Status: models.AgentRunStatusPending, CreatedAt: now}
		return nil
	})
	return run, err
}

// StartAgentRun transitions a run to 'running', suppressing overlap: if
// another run for the same agent is already 'running', the scheduler must
// not start a second one concurrently.
func StartAgentRun(db *sql.DB, runID int64) error {
	return Transact(db, func(tx *sql.Tx) error {
		var agentName string
		if err := tx.QueryRow(`SELECT agent_name FROM agent_runs WHERE id = ?`, runID).Scan(&agentName); err != nil {
			return err
		}

		var alreadyRunning int
		if err := tx.QueryRow(`
			SELECT COUNT(*) FROM agent_runs WHERE agent_name = ? AND status = 'running' AND id != ?
		`, agentName, runID).Scan(&alreadyRunning); err != nil {
			return err
		}
		if alreadyRunning > 0 {
			return fmt.Errorf("agent %q already has a running run, skipping overlap", agentName)
		}

		now := time.Now().UTC()
		_, err := tx.Exec(`
			UPDATE agent_runs SET status = 'running', started_at = ?, started_at_epoch = ? WHERE id = ?
		`, now.Format(time.RFC3339Nano), now.Unix(), runID)
		return err
	})
}

// AgentRunResult carries the terminal metrics reported by the agent CLI.
type AgentRunResult struct {
	CostUSD       float64
	TurnsUsed     int
	InputTokens   int64
	OutputTokens  int64
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	Warnings      string
	ErrorMessage  string
}

// CompleteAgentRun transitions a run to a terminal status and records metrics.
func CompleteAgentRun(db *sql.DB, runID int64, status models.AgentRunStatus, result AgentRunResult) error {
	return Transact(db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(`
			UPDATE agent_runs SET status = ?, ended_at = ?, ended_at_epoch = ?, cost_usd = ?, turns_used = ?,
			       input_tokens = ?, output_tokens = ?, files_created = ?, files_modified = ?, files_deleted = ?,
			       warnings = ?, error_message = ?
			WHERE id = ?
		`, string(status), now.Format(time.RFC3339Nano), now.Unix(), result.CostUSD, result.TurnsUsed,
			result.InputTokens, result.OutputTokens, result.FilesCreated, result.FilesModified, result.FilesDeleted,
			result.Warnings, result.ErrorMessage, runID)
		return err
	})
}

// RecoverStaleRuns is the scheduler's watchdog: any run still 'running' once
// started_at + defaultTimeout + buffer has passed is assumed to have died
// with its process (killed without updating status) and is marked 'failed'
// so the instance can be rescheduled.
func RecoverStaleRuns(db *sql.DB, buffer, defaultTimeout time.Duration) (recovered int, err error) {
	err = Transact(db, func(tx *sql.Tx) error {
		cutoff := time.Now().UTC().Add(-(defaultTimeout + buffer)).Unix()
		res, execErr := tx.Exec(`
			UPDATE agent_runs SET status = 'failed', error_message = 'recovered: exceeded stale run timeout'
			WHERE status = 'running' AND started_at_epoch < ?
		`, cutoff)
		if execErr != nil {
			return execErr
		}
		ra, raErr := res.RowsAffected()
		if raErr != nil {
			return raErr
		}
		recovered = int(ra)
		return nil
	})
	return recovered, err
}

// GetAgentRun returns a run by id.
func GetAgentRun(db *sql.DB, runID int64) (*models.AgentRun, error) {
	var r models.AgentRun
	var startedAt, endedAt, warnings, projectConfig, systemPromptHash, errorMessage sql.NullString
	var createdAt string
	err := db.QueryRow(`
		SELECT id, agent_name, task, status, started_at, ended_at, cost_usd, turns_used,
		       input_tokens, output_tokens, files_created, files_modified, files_deleted,
		       warnings, project_config, system_prompt_hash, error_message, created_at
		FROM agent_runs WHERE id = ?
	`, runID).Scan(
		&r.ID, &r.AgentName, &r.Task, &r.Status, &startedAt, &endedAt, &r.CostUSD, &r.TurnsUsed,
		&r.InputTokens, &r.OutputTokens, &r.FilesCreated, &r.FilesModified, &r.FilesDeleted,
		&warnings, &projectConfig, &systemPromptHash, &errorMessage, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		r.StartedAt = &t
	}
	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		r.EndedAt = &t
	}
	r.Warnings = warnings.String
	r.ProjectConfig = projectConfig.String
	r.SystemPromptHash = systemPromptHash.String
	r.ErrorMessage = errorMessage.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &r, nil
}
