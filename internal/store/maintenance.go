package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PruneOldActivities deletes processed activities older than retentionDays,
// in batches bounded by batchSize to avoid holding a long write lock.
// Returns the total number of rows deleted.
func PruneOldActivities(db *sql.DB, retentionDays, batchSize int) (int64, error) {
	if retentionDays <= 0 || batchSize <= 0 {
		return 0, nil
	}

	cutoffEpoch := time.Now().Unix() - int64(retentionDays)*86400

	var total int64
	for {
		res, err := db.ExecContext(context.Background(), `
			DELETE FROM activities
			WHERE id IN (
				SELECT id FROM activities
				WHERE processed = 1 AND timestamp_epoch < ?
				LIMIT ?
			)
		`, cutoffEpoch, batchSize)
		if err != nil {
			return total, fmt.Errorf("prune old activities: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("count pruned activities: %w", err)
		}
		total += n
		if n < int64(batchSize) {
			break
		}
	}
	return total, nil
}

// CountResolvedObservations returns the number of resolved/superseded
// observations for a session, mirroring the "active event count" check
// that gates summarization.
func CountResolvedObservations(db *sql.DB, sessionID string) (int64, error) {
	var count int64
	err := db.QueryRowContext(context.Background(), `
		SELECT COUNT(*) FROM observations
		WHERE session_id = ? AND status IN ('resolved', 'superseded')
	`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count resolved observations: %w", err)
	}
	return count, nil
}

// findObservationPruneCutoffEpoch returns the created_at_epoch below which
// resolved/superseded observations are candidates for pruning, keeping the
// most recent keepRecent rows regardless of age: the epoch of the oldest row
// among those keepRecent (rows sharing that epoch are kept too). Returns 0,
// meaning prune nothing, when keepRecent is 0 or there are no such rows.
func findObservationPruneCutoffEpoch(db *sql.DB, sessionID string, keepRecent int) (int64, error) {
	if keepRecent < 0 {
		keepRecent = 0
	}
	var cutoff sql.NullInt64
	err := db.QueryRowContext(context.Background(), `
		SELECT MIN(created_at_epoch) FROM (
			SELECT created_at_epoch FROM observations
			WHERE session_id = ? AND status IN ('resolved', 'superseded')
			ORDER BY created_at_epoch DESC
			LIMIT ?
		)
	`, sessionID, keepRecent).Scan(&cutoff)
	if err != nil {
		return 0, fmt.Errorf("find observation prune window: %w", err)
	}
	if !cutoff.Valid {
		return 0, nil
	}
	return cutoff.Int64, nil
}

// PruneResolvedObservations removes resolved/superseded observations for a
// session once their count exceeds summarizeThreshold, keeping the most
// recent summarizeKeepRecent rows and never pruning anything newer than
// retentionDays. Deletion happens in batches bounded by batchSize.
func PruneResolvedObservations(db *sql.DB, sessionID string, retentionDays, summarizeThreshold, summarizeKeepRecent, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, nil
	}

	count, err := CountResolvedObservations(db, sessionID)
	if err != nil {
		return 0, err
	}
	if count < int64(summarizeThreshold) {
		return 0, nil
	}

	windowCutoff, err := findObservationPruneCutoffEpoch(db, sessionID, summarizeKeepRecent)
	if err != nil {
		return 0, err
	}
	if windowCutoff == 0 {
		return 0, nil
	}

	retentionCutoff := time.Now().Unix() - int64(retentionDays)*86400
	cutoff := windowCutoff
	if retentionCutoff < cutoff {
		cutoff = retentionCutoff
	}

	var total int64
	for {
		res, err := db.ExecContext(context.Background(), `
			DELETE FROM observations
			WHERE rowid IN (
				SELECT rowid FROM observations
				WHERE session_id = ? AND status IN ('resolved', 'superseded') AND created_at_epoch < ?
				LIMIT ?
			)
		`, sessionID, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("prune resolved observations: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("count pruned observations: %w", err)
		}
		total += n
		if n < int64(batchSize) {
			break
		}
	}
	return total, nil
}
