package store

import (
	"database/sql"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

// SessionsForMachine returns every session this machine originated, for
// building a team backup. Only a machine's own sessions are exported --
// the same rule ExportOwnResolutionEvents follows -- so a row never bounces
// between machines more than once.
func SessionsForMachine(db *sql.DB, machineID string) ([]*models.Session, error) {
	rows, err := db.Query(`SELECT id FROM sessions WHERE source_machine_id = ? ORDER BY started_at_epoch ASC`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		s, err := GetSession(db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ObservationsForMachine returns every observation (of any status) this machine
// originated, for building a team backup.
func ObservationsForMachine(db *sql.DB, machineID string) ([]*models.Observation, error) {
	rows, err := db.Query(`SELECT id FROM observations WHERE source_machine_id = ? ORDER BY created_at_epoch ASC`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.Observation, 0, len(ids))
	for _, id := range ids {
		o, err := GetObservation(db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ActivitiesForMachine returns every activity this machine originated, for
// the backup's optional activities dump.
func ActivitiesForMachine(db *sql.DB, machineID string) ([]*models.Activity, error) {
	rows, err := db.Query(`
		SELECT id, session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary,
		       file_path, files_affected, duration_ms, success, error_message, timestamp,
		       processed, observation_id, source_machine_id, content_hash
		FROM activities WHERE source_machine_id = ? ORDER BY timestamp_epoch ASC
	`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Activity
	for rows.Next() {
		var a models.Activity
		var promptBatchID sql.NullInt64
		var toolInput, toolOutput, filePath, filesAffected, errorMessage, observationID, contentHash sql.NullString
		var ts string
		if err := rows.Scan(&a.ID, &a.SessionID, &promptBatchID, &a.ToolName, &toolInput, &toolOutput,
			&filePath, &filesAffected, &a.DurationMS, &a.Success, &errorMessage, &ts,
			&a.Processed, &observationID, &a.SourceMachineID, &contentHash); err != nil {
			return nil, err
		}
		if promptBatchID.Valid {
			a.PromptBatchID = &promptBatchID.Int64
		}
		a.ToolInput = toolInput.String
		a.ToolOutputSummary = toolOutput.String
		a.FilePath = filePath.String
		a.FilesAffected = filesAffected.String
		a.ErrorMessage = errorMessage.String
		a.ObservationID = observationID.String
		a.ContentHash = contentHash.String
		a.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, &a)
	}
	return out, rows.Err()
}
