// Package backup builds and restores the team backup files the Sync
// Orchestrator exchanges between machines: a single SQL text file per
// machine containing INSERT OR IGNORE statements for that machine's own
// sessions, observations, resolution events, and (optionally) activities --
// restorable on any other machine without duplicating rows it has already
// seen.
package backup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/store"
)

// fileExt names backup files in a shared team directory; the file's base
// name is the exporting machine's own hashed id (spec's "named
// <hashed-user-or-machine-id>.sql"), so each machine ever has at most one.
const fileExt = ".sql"

// stmtDelimiter separates individual SQL statements in a generated backup.
// A custom delimiter -- rather than relying on database/sql to run
// multiple semicolon-separated statements in one Exec call, which the
// driver stack doesn't reliably support (the same reason this codebase's
// own goose migrations need explicit StatementBegin/End markers around each
// statement) -- lets Import split and tx.Exec each statement individually.
const stmtDelimiter = "\n-- oakd:stmt --\n"

// Build generates a backup SQL text for machineID: a header comment
// recording schema_version and creation time, followed by one INSERT OR
// IGNORE statement per exported row, in FK-safe order (sessions before
// observations/activities that reference them).
func Build(db *sql.DB, machineID string, schemaVersion int64, includeActivities bool) (string, error) {
	sessions, err := store.SessionsForMachine(db, machineID)
	if err != nil {
		return "", fmt.Errorf("export sessions: %w", err)
	}
	observations, err := store.ObservationsForMachine(db, machineID)
	if err != nil {
		return "", fmt.Errorf("export observations: %w", err)
	}
	events, err := store.ExportOwnResolutionEvents(db, machineID)
	if err != nil {
		return "", fmt.Errorf("export resolution events: %w", err)
	}

	var stmts []string
	for _, s := range sessions {
		stmts = append(stmts, sessionInsert(s))
	}
	for _, o := range observations {
		stmts = append(stmts, observationInsert(o))
	}
	for _, e := range events {
		stmts = append(stmts, resolutionEventInsert(e))
	}
	if includeActivities {
		activities, err := store.ActivitiesForMachine(db, machineID)
		if err != nil {
			return "", fmt.Errorf("export activities: %w", err)
		}
		for _, a := range activities {
			stmts = append(stmts, activityInsert(a))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- oakd backup\n-- schema_version: %d\n-- machine_id: %s\n-- created_at: %s\n",
		schemaVersion, machineID, time.Now().UTC().Format(time.RFC3339Nano))
	b.WriteString(strings.Join(stmts, stmtDelimiter))
	if len(stmts) > 0 {
		b.WriteString(stmtDelimiter)
	}
	return b.String(), nil
}

// WriteFile writes sqlText to dir under machineID's backup filename,
// overwriting any prior backup from the same machine -- spec's format
// names exactly one file per machine, not a new one per run.
func WriteFile(dir, machineID, sqlText string) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	path := filepath.Join(dir, machineID+fileExt)
	if err := os.WriteFile(path, []byte(sqlText), 0600); err != nil {
		return "", fmt.Errorf("write backup file: %w", err)
	}
	return path, nil
}

// ReadFile loads a backup file's raw SQL text.
func ReadFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ListTeamFiles returns every backup file in dir other than localMachineID's
// own, sorted by filename for deterministic restore ordering.
func ListTeamFiles(dir, localMachineID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ownName := localMachineID + fileExt
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, fileExt) || name == ownName {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// ImportStats counts how many rows of each kind a restore pass actually
// inserted (an OR IGNORE / WHERE NOT EXISTS statement that hit an existing
// row reports zero rows affected).
type ImportStats struct {
	SessionsImported     int
	ObservationsImported int
	EventsImported       int
	ActivitiesImported   int
}

// Import splits sqlText into its individual statements and executes each
// one in a single transaction, tallying rows actually inserted per table.
// Every statement is a literal INSERT OR IGNORE / INSERT ... WHERE NOT
// EXISTS this same package generated, so no SQL parsing is needed -- only
// splitting on the delimiter Build used.
func Import(db *sql.DB, sqlText string) (ImportStats, error) {
	var stats ImportStats

	err := store.Transact(db, func(tx *sql.Tx) error {
		for _, stmt := range strings.Split(sqlText, stmtDelimiter) {
			stmt = trimStatement(stmt)
			if stmt == "" {
				continue
			}
			res, err := tx.Exec(stmt)
			if err != nil {
				return fmt.Errorf("exec backup statement: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				continue
			}
			switch {
			case strings.Contains(stmt, "INTO sessions"):
				stats.SessionsImported += int(affected)
			case strings.Contains(stmt, "INTO observations"):
				stats.ObservationsImported += int(affected)
			case strings.Contains(stmt, "INTO resolution_events"):
				stats.EventsImported += int(affected)
			case strings.Contains(stmt, "INTO activities"):
				stats.ActivitiesImported += int(affected)
			}
		}
		return nil
	})
	return stats, err
}

// trimStatement strips a chunk's leading header/comment lines, returning
// only the executable SQL (or "" if the chunk was comments only).
func trimStatement(chunk string) string {
	var lines []string
	for _, line := range strings.Split(chunk, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// sqlQuote escapes s for use as a single-quoted SQL string literal.
func sqlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sqlQuoteOrNull renders s as a quoted literal, or the bare keyword NULL
// when s is empty -- used for nullable TEXT columns where an empty Go
// string and an absent value are the same thing on round-trip.
func sqlQuoteOrNull(s string) string {
	if s == "" {
		return "NULL"
	}
	return sqlQuote(s)
}

func sqlBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func sqlTimeOrNull(t *time.Time) string {
	if t == nil {
		return "NULL"
	}
	return sqlQuote(t.UTC().Format(time.RFC3339Nano))
}

func sessionInsert(s *models.Session) string {
	return fmt.Sprintf(`INSERT OR IGNORE INTO sessions
		(id, agent_name, project_root, started_at, started_at_epoch, ended_at, ended_at_epoch,
		 status, prompt_count, tool_count, processed, summary, title, title_manually_edited,
		 parent_session_id, parent_reason, suggested_parent_dismissed, transcript_path,
		 source_machine_id, content_hash)
		VALUES (%s, %s, %s, %s, %d, %s, %s, %s, %d, %d, %s, %s, %s, %s, NULL, %s, %s, %s, %s, %s);`,
		sqlQuote(s.ID), sqlQuote(s.AgentName), sqlQuote(s.ProjectRoot),
		sqlQuote(s.StartedAt.UTC().Format(time.RFC3339Nano)), s.StartedAt.UTC().Unix(),
		sqlTimeOrNull(s.EndedAt), epochOrNull(s.EndedAt),
		sqlQuote(string(s.Status)), s.PromptCount, s.ToolCount, sqlBool(s.Processed),
		sqlQuoteOrNull(s.Summary), sqlQuoteOrNull(s.Title), sqlBool(s.TitleManuallyEdited),
		sqlQuoteOrNull(string(s.ParentReason)), sqlBool(s.SuggestedParentDismissed),
		sqlQuoteOrNull(s.TranscriptPath), sqlQuote(s.SourceMachineID), sqlQuoteOrNull(s.ContentHash))
}

func epochOrNull(t *time.Time) string {
	if t == nil {
		return "NULL"
	}
	return fmt.Sprintf("%d", t.UTC().Unix())
}

func observationInsert(o *models.Observation) string {
	return fmt.Sprintf(`INSERT OR IGNORE INTO observations
		(id, session_id, prompt_batch_id, observation, memory_type, context, tags, importance,
		 file_path, created_at, created_at_epoch, status, resolved_by_session_id, resolved_at,
		 superseded_by, session_origin_type, source_machine_id, content_hash)
		VALUES (%s, %s, NULL, %s, %s, %s, %s, %d, %s, %s, %d, %s, %s, %s, %s, %s, %s, %s);`,
		sqlQuote(o.ID), sqlQuote(o.SessionID), sqlQuote(o.ObservationText), sqlQuote(o.MemoryType),
		sqlQuoteOrNull(o.Context), sqlQuoteOrNull(o.Tags), o.Importance, sqlQuoteOrNull(o.FilePath),
		sqlQuote(o.CreatedAt.UTC().Format(time.RFC3339Nano)), o.CreatedAt.UTC().Unix(),
		sqlQuote(string(o.Status)), sqlQuoteOrNull(o.ResolvedBySessionID), sqlTimeOrNull(o.ResolvedAt),
		sqlQuoteOrNull(o.SupersededBy), sqlQuoteOrNull(string(o.SessionOriginType)),
		sqlQuote(o.SourceMachineID), sqlQuote(o.ContentHash))
}

func resolutionEventInsert(e *models.ResolutionEvent) string {
	return fmt.Sprintf(`INSERT OR IGNORE INTO resolution_events
		(observation_id, action, source_machine_id, resolved_by_session_id, superseded_by,
		 applied, content_hash, created_at)
		VALUES (%s, %s, %s, %s, %s, 0, %s, %s);`,
		sqlQuote(e.ObservationID), sqlQuote(string(e.Action)), sqlQuote(e.SourceMachineID),
		sqlQuoteOrNull(e.ResolvedBySessionID), sqlQuoteOrNull(e.SupersededBy),
		sqlQuote(e.ContentHash), sqlQuote(e.CreatedAt.UTC().Format(time.RFC3339Nano)))
}

// activityInsert drops the source machine's prompt_batch_id (a local
// auto-increment id with no meaning on another machine) and, since the
// activities table carries no unique constraint, guards the insert with a
// WHERE NOT EXISTS keyed on content_hash -- a best-effort dedup, weaker
// than the UNIQUE(source_machine_id, content_hash) guarantee observations
// and resolution events get. Activities without a content_hash (the
// common case for rows predating cross-machine backup) insert
// unconditionally.
func activityInsert(a *models.Activity) string {
	return fmt.Sprintf(`INSERT INTO activities
		(session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary, file_path,
		 files_affected, duration_ms, success, error_message, timestamp, timestamp_epoch,
		 processed, observation_id, source_machine_id, content_hash)
		SELECT %s, NULL, %s, %s, %s, %s, %s, %d, %s, %s, %s, %d, %s, %s, %s, %s
		WHERE %s;`,
		sqlQuote(a.SessionID), sqlQuote(a.ToolName), sqlQuoteOrNull(a.ToolInput),
		sqlQuoteOrNull(a.ToolOutputSummary), sqlQuoteOrNull(a.FilePath), sqlQuoteOrNull(a.FilesAffected),
		a.DurationMS, sqlBool(a.Success), sqlQuoteOrNull(a.ErrorMessage),
		sqlQuote(a.Timestamp.UTC().Format(time.RFC3339Nano)), a.Timestamp.UTC().Unix(),
		sqlBool(a.Processed), sqlQuoteOrNull(a.ObservationID), sqlQuote(a.SourceMachineID),
		sqlQuoteOrNull(a.ContentHash), activityDedupClause(a))
}

func activityDedupClause(a *models.Activity) string {
	if a.ContentHash == "" {
		return "1=1"
	}
	return fmt.Sprintf(`NOT EXISTS (SELECT 1 FROM activities WHERE source_machine_id = %s AND content_hash = %s)`,
		sqlQuote(a.SourceMachineID), sqlQuote(a.ContentHash))
}
