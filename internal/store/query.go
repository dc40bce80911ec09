package store

import (
	"database/sql"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

// RecentSessions returns the most recently started sessions, newest first,
// for the tool-call surface's sessions() operation.
func RecentSessions(db *sql.DB, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT id FROM sessions ORDER BY started_at_epoch DESC LIMIT ?`, limit)
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

// ActivityForSession returns activities recorded against sessionID, most
// recent first, optionally restricted to one toolName. Backs the tool-call
// surface's activity() operation.
func ActivityForSession(db *sql.DB, sessionID, toolName string, limit int) ([]*models.Activity, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary,
		       file_path, files_affected, duration_ms, success, error_message, timestamp,
		       processed, observation_id, source_machine_id, content_hash
		FROM activities WHERE session_id = ?
	`
	args := []any{sessionID}
	if toolName != "" {
		query += " AND tool_name = ?"
		args = append(args, toolName)
	}
	query += " ORDER BY timestamp_epoch DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
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
