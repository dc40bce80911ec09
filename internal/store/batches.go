package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

// CreatePromptBatch ends the session's current active batch (if any) before
// opening prompt_number N+1. A session has at most one active batch at a
// time; calling this twice in a row is safe and simply advances the counter.
func CreatePromptBatch(db *sql.DB, sessionID, userPrompt string, sourceType models.SourceType) (*models.PromptBatch, error) {
	var batch *models.PromptBatch

	err := Transact(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			UPDATE prompt_batches SET status = 'completed', ended_at = ?, ended_at_epoch = ?
			WHERE session_id = ? AND status = 'active'
		`, time.Now().UTC().Format(time.RFC3339Nano), time.Now().UTC().Unix(), sessionID); err != nil {
			return fmt.Errorf("end prior active batch: %w", err)
		}

		var nextNumber int
		if err := tx.QueryRow(`
			SELECT COALESCE(MAX(prompt_number), 0) + 1 FROM prompt_batches WHERE session_id = ?
		`, sessionID).Scan(&nextNumber); err != nil {
			return fmt.Errorf("compute prompt_number: %w", err)
		}

		now := time.Now().UTC()
		res, err := tx.Exec(`
			INSERT INTO prompt_batches (session_id, prompt_number, user_prompt, started_at, started_at_epoch, status, source_type)
			VALUES (?, ?, ?, ?, ?, 'active', ?)
		`, sessionID, nextNumber, userPrompt, now.Format(time.RFC3339Nano), now.Unix(), string(sourceType))
		if err != nil {
			return fmt.Errorf("insert prompt_batch: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		if err := IncrementSessionPromptCount(tx, sessionID, 1); err != nil {
			return err
		}

		batch = &models.PromptBatch{
			ID:           id,
			SessionID:    sessionID,
			PromptNumber: nextNumber,
			UserPrompt:   userPrompt,
			StartedAt:    now,
			Status:       models.PromptBatchStatusActive,
			SourceType:   sourceType,
		}
		return nil
	})
	return batch, err
}

// EndPromptBatch marks an active batch completed. No-op if it is already
// terminal, so callers can call it defensively on session-end.
func EndPromptBatch(db *sql.DB, batchID int64) error {
	return Transact(db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(`
			UPDATE prompt_batches SET status = 'completed', ended_at = ?, ended_at_epoch = ?
			WHERE id = ? AND status = 'active'
		`, now.Format(time.RFC3339Nano), now.Unix(), batchID)
		return err
	})
}

// GetActiveBatch returns the session's current active batch, or sql.ErrNoRows
// if it has none.
func GetActiveBatch(db *sql.DB, sessionID string) (*models.PromptBatch, error) {
	var b *models.PromptBatch
	err := Transact(db, func(tx *sql.Tx) error {
		var txErr error
		b, txErr = scanActiveBatchTx(tx, sessionID)
		return txErr
	})
	return b, err
}

func scanActiveBatchTx(tx *sql.Tx, sessionID string) (*models.PromptBatch, error) {
	var b models.PromptBatch
	var startedAt string
	var endedAt, classification, planPath, planContent, responseSummary sql.NullString
	var sourcePlanBatchID sql.NullInt64
	err := tx.QueryRow(`
		SELECT id, session_id, prompt_number, user_prompt, started_at, ended_at, status,
		       activity_count, processed, classification, source_type, plan_file_path,
		       plan_content, plan_embedded, source_plan_batch_id, response_summary
		FROM prompt_batches WHERE session_id = ? AND status = 'active'
	`, sessionID).Scan(
		&b.ID, &b.SessionID, &b.PromptNumber, &b.UserPrompt, &startedAt, &endedAt, &b.Status,
		&b.ActivityCount, &b.Processed, &classification, &b.SourceType, &planPath,
		&planContent, &b.PlanEmbedded, &sourcePlanBatchID, &responseSummary,
	)
	if err != nil {
		return nil, err
	}
	b.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	b.Classification = classification.String
	b.PlanFilePath = planPath.String
	b.PlanContent = planContent.String
	b.ResponseSummary = responseSummary.String
	if sourcePlanBatchID.Valid {
		b.SourcePlanBatchID = &sourcePlanBatchID.Int64
	}
	return &b, nil
}

// GetPromptBatch returns a batch by id regardless of its status, for the
// batch processor picking work up off the UnprocessedBatches queue.
func GetPromptBatch(db *sql.DB, batchID int64) (*models.PromptBatch, error) {
	var b *models.PromptBatch
	err := Transact(db, func(tx *sql.Tx) error {
		var txErr error
		b, txErr = scanBatchByIDTx(tx, batchID)
		return txErr
	})
	return b, err
}

func scanBatchByIDTx(tx *sql.Tx, batchID int64) (*models.PromptBatch, error) {
	var b models.PromptBatch
	var startedAt string
	var endedAt, classification, planPath, planContent, responseSummary sql.NullString
	var sourcePlanBatchID sql.NullInt64
	err := tx.QueryRow(`
		SELECT id, session_id, prompt_number, user_prompt, started_at, ended_at, status,
		       activity_count, processed, classification, source_type, plan_file_path,
		       plan_content, plan_embedded, source_plan_batch_id, response_summary
		FROM prompt_batches WHERE id = ?
	`, batchID).Scan(
		&b.ID, &b.SessionID, &b.PromptNumber, &b.UserPrompt, &startedAt, &endedAt, &b.Status,
		&b.ActivityCount, &b.Processed, &classification, &b.SourceType, &planPath,
		&planContent, &b.PlanEmbedded, &sourcePlanBatchID, &responseSummary,
	)
	if err != nil {
		return nil, err
	}
	b.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	b.Classification = classification.String
	b.PlanFilePath = planPath.String
	b.PlanContent = planContent.String
	b.ResponseSummary = responseSummary.String
	if sourcePlanBatchID.Valid {
		b.SourcePlanBatchID = &sourcePlanBatchID.Int64
	}
	return &b, nil
}

// MarkBatchProcessed flips processed=1 once the batch processor has finished
// extraction for a batch (or determined no extraction applies).
func MarkBatchProcessed(db *sql.DB, batchID int64) error {
	return Transact(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE prompt_batches SET processed = 1 WHERE id = ?`, batchID)
		return err
	})
}

// SetBatchClassification stores the batch processor's classification label.
func SetBatchClassification(db *sql.DB, batchID int64, classification string) error {
	return Transact(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE prompt_batches SET classification = ? WHERE id = ?`, classification, batchID)
		return err
	})
}

// SetBatchPlanContent persists a synthesized or discovered plan body for
// batchID, so the extraction pipeline's optional plan-synthesis step only
// needs to run once per batch even across process restarts.
func SetBatchPlanContent(db *sql.DB, batchID int64, content string) error {
	return Transact(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE prompt_batches SET plan_content = ? WHERE id = ?`, content, batchID)
		return err
	})
}

// UnprocessedBatches returns batches that have ended but have not yet run
// through the batch processor, oldest first. Used to drive the background
// processor off the database as its work queue.
func UnprocessedBatches(db *sql.DB, limit int) ([]*models.PromptBatch, error) {
	rows, err := db.Query(`
		SELECT id, session_id FROM prompt_batches
		WHERE processed = 0 AND status = 'completed'
		ORDER BY id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PromptBatch
	for rows.Next() {
		var id int64
		var sessionID string
		if err := rows.Scan(&id, &sessionID); err != nil {
			return nil, err
		}
		out = append(out, &models.PromptBatch{ID: id, SessionID: sessionID})
	}
	return out, rows.Err()
}
