package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

// ActivityBuffer batches activities per session behind a single mutex and
// flushes them with one bulk insert, falling back to per-row inserts if the
// bulk statement trips a foreign key violation (e.g. the session row was
// deleted out from under a stale buffer). This keeps the common path to one
// round trip without adding an in-memory queue that could drop activities on
// crash -- the buffer only ever holds activities that haven't reached the
// database yet, never ones waiting for further processing.
type ActivityBuffer struct {
	mu      sync.Mutex
	pending map[string][]*models.Activity
}

// NewActivityBuffer returns an empty buffer.
func NewActivityBuffer() *ActivityBuffer {
	return &ActivityBuffer{pending: make(map[string][]*models.Activity)}
}

// Add appends act to sessionID's pending buffer without touching the database.
func (b *ActivityBuffer) Add(sessionID string, act *models.Activity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[sessionID] = append(b.pending[sessionID], act)
}

// take swaps out and returns the pending slice for sessionID, leaving the
// buffer empty for that session. A second call with nothing queued returns nil.
func (b *ActivityBuffer) take(sessionID string) []*models.Activity {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.pending[sessionID]
	delete(b.pending, sessionID)
	return batch
}

// Flush writes all buffered activities for sessionID to the database in one
// bulk insert. A no-op (nil error, no statements) if the buffer is empty --
// calling Flush twice in a row on the same session is always safe.
func (b *ActivityBuffer) Flush(db *sql.DB, sessionID string) error {
	batch := b.take(sessionID)
	if len(batch) == 0 {
		return nil
	}
	return bulkInsertActivities(db, batch)
}

// AddActivity inserts a single activity immediately, bypassing the buffer.
// Used for activities the caller needs durably persisted right away (e.g.
// the activity that closes out a prompt batch).
func AddActivity(db *sql.DB, act *models.Activity) (int64, error) {
	var id int64
	err := Transact(db, func(tx *sql.Tx) error {
		var err error
		id, err = insertActivityTx(tx, act)
		return err
	})
	return id, err
}

func insertActivityTx(tx *sql.Tx, act *models.Activity) (int64, error) {
	ts := act.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := tx.Exec(`
		INSERT INTO activities (session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary,
		                         file_path, files_affected, duration_ms, success, error_message,
		                         timestamp, timestamp_epoch, source_machine_id, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, act.SessionID, act.PromptBatchID, act.ToolName, act.ToolInput, act.ToolOutputSummary,
		act.FilePath, act.FilesAffected, act.DurationMS, act.Success, act.ErrorMessage,
		ts.Format(time.RFC3339Nano), ts.Unix(), act.SourceMachineID, act.ContentHash)
	if err != nil {
		return 0, &IntegrityError{Table: "activities", Cause: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if act.PromptBatchID != nil {
		if _, err := tx.Exec(`UPDATE prompt_batches SET activity_count = activity_count + 1 WHERE id = ?`, *act.PromptBatchID); err != nil {
			return 0, err
		}
	}
	if err := IncrementSessionToolCount(tx, act.SessionID, 1); err != nil {
		return 0, err
	}
	return id, nil
}

// bulkInsertActivities attempts one multi-row INSERT for the whole batch. If
// that trips a foreign key or other integrity violation, it falls back to
// inserting rows one at a time so that a single bad row (e.g. referencing a
// session that no longer exists) doesn't discard the rest of the batch.
func bulkInsertActivities(db *sql.DB, batch []*models.Activity) error {
	err := Transact(db, func(tx *sql.Tx) error {
		var placeholders []string
		var args []any
		for _, act := range batch {
			ts := act.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, act.SessionID, act.PromptBatchID, act.ToolName, act.ToolInput, act.ToolOutputSummary,
				act.FilePath, act.FilesAffected, act.DurationMS, act.Success, act.ErrorMessage,
				ts.Format(time.RFC3339Nano), ts.Unix(), act.SourceMachineID, act.ContentHash)
		}
		query := fmt.Sprintf(`
			INSERT INTO activities (session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary,
			                         file_path, files_affected, duration_ms, success, error_message,
			                         timestamp, timestamp_epoch, source_machine_id, content_hash)
			VALUES %s
		`, strings.Join(placeholders, ", "))
		_, err := tx.Exec(query, args...)
		return err
	})
	if err == nil {
		return incrementActivityCounts(db, batch)
	}

	// Bulk insert failed (most likely a foreign key violation from a stale
	// session reference). Fall back to per-row inserts so the rest of the
	// batch still lands; skipped rows are reported via the returned error.
	var skipped int
	for _, act := range batch {
		if _, rowErr := AddActivity(db, act); rowErr != nil {
			skipped++
		}
	}
	if skipped > 0 {
		return &IntegrityError{Table: "activities", Cause: fmt.Errorf("%d of %d activities skipped on fallback insert: %w", skipped, len(batch), err)}
	}
	return nil
}

// incrementActivityCounts bumps prompt_batches.activity_count and
// sessions.tool_count for every batch/session referenced in batch, in one
// transaction, so the counters stay exactly in sync
// with the rows bulkInsertActivities just wrote.
func incrementActivityCounts(db *sql.DB, batch []*models.Activity) error {
	batchCounts := make(map[int64]int)
	sessionCounts := make(map[string]int)
	for _, act := range batch {
		if act.PromptBatchID != nil {
			batchCounts[*act.PromptBatchID]++
		}
		sessionCounts[act.SessionID]++
	}
	if len(batchCounts) == 0 && len(sessionCounts) == 0 {
		return nil
	}
	return Transact(db, func(tx *sql.Tx) error {
		for batchID, n := range batchCounts {
			if _, err := tx.Exec(`UPDATE prompt_batches SET activity_count = activity_count + ? WHERE id = ?`, n, batchID); err != nil {
				return err
			}
		}
		for sessionID, n := range sessionCounts {
			if err := IncrementSessionToolCount(tx, sessionID, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkActivitiesProcessed flags a set of activity ids as processed, optionally
// linking each to the observation it produced.
func MarkActivitiesProcessed(db *sql.DB, ids []int64, observationID string) error {
	if len(ids) == 0 {
		return nil
	}
	return Transact(db, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE activities SET processed = 1, observation_id = ? WHERE id = ?`, observationID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// UnprocessedActivitiesForBatch returns activities belonging to batchID that
// have not yet been folded into an observation, oldest first.
func UnprocessedActivitiesForBatch(db *sql.DB, batchID int64) ([]*models.Activity, error) {
	rows, err := db.Query(`
		SELECT id, session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary,
		       file_path, files_affected, duration_ms, success, error_message,
		       timestamp, processed, observation_id, source_machine_id, content_hash
		FROM activities WHERE prompt_batch_id = ? AND processed = 0
		ORDER BY id ASC
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Activity
	for rows.Next() {
		var a models.Activity
		var ts string
		var promptBatchID sql.NullInt64
		var toolInput, toolOutputSummary, filePath, filesAffected, errorMessage, observationID, contentHash sql.NullString
		if err := rows.Scan(&a.ID, &a.SessionID, &promptBatchID, &a.ToolName, &toolInput, &toolOutputSummary,
			&filePath, &filesAffected, &a.DurationMS, &a.Success, &errorMessage,
			&ts, &a.Processed, &observationID, &a.SourceMachineID, &contentHash); err != nil {
			return nil, err
		}
		a.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if promptBatchID.Valid {
			a.PromptBatchID = &promptBatchID.Int64
		}
		a.ToolInput = toolInput.String
		a.ToolOutputSummary = toolOutputSummary.String
		a.FilePath = filePath.String
		a.FilesAffected = filesAffected.String
		a.ErrorMessage = errorMessage.String
		a.ObservationID = observationID.String
		a.ContentHash = contentHash.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
