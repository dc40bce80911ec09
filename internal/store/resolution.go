package store

import (
	"database/sql"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

// ExportOwnResolutionEvents returns every resolution event that originated on
// machineID. Only the originating machine ever exports its own events -- a
// machine that merely imported and applied someone else's event must not
// re-export it, or the event would bounce around the mesh forever.
func ExportOwnResolutionEvents(db *sql.DB, machineID string) ([]*models.ResolutionEvent, error) {
	rows, err := db.Query(`
		SELECT id, observation_id, action, source_machine_id, resolved_by_session_id,
		       superseded_by, applied, content_hash, created_at
		FROM resolution_events WHERE source_machine_id = ?
		ORDER BY id ASC
	`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResolutionEvents(rows)
}

func scanResolutionEvents(rows *sql.Rows) ([]*models.ResolutionEvent, error) {
	var out []*models.ResolutionEvent
	for rows.Next() {
		var e models.ResolutionEvent
		var resolvedBySession, supersededBy sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ObservationID, &e.Action, &e.SourceMachineID, &resolvedBySession,
			&supersededBy, &e.Applied, &e.ContentHash, &createdAt); err != nil {
			return nil, err
		}
		e.ResolvedBySessionID = resolvedBySession.String
		e.SupersededBy = supersededBy.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ImportResolutionEvents inserts events received from other machines,
// deduplicating on (source_machine_id, content_hash) -- the same event
// replayed from a stale backup is a silent no-op, not an error. Imported
// events are stored with applied=0 until ReplayUnappliedEvents runs.
func ImportResolutionEvents(db *sql.DB, events []*models.ResolutionEvent) (imported int, err error) {
	err = Transact(db, func(tx *sql.Tx) error {
		for _, e := range events {
			res, execErr := tx.Exec(`
				INSERT INTO resolution_events (observation_id, action, source_machine_id, resolved_by_session_id,
				                                superseded_by, applied, content_hash, created_at)
				VALUES (?, ?, ?, ?, ?, 0, ?, ?)
				ON CONFLICT(source_machine_id, content_hash) DO NOTHING
			`, e.ObservationID, string(e.Action), e.SourceMachineID, e.ResolvedBySessionID,
				e.SupersededBy, e.ContentHash, e.CreatedAt.Format(time.RFC3339Nano))
			if execErr != nil {
				return execErr
			}
			ra, raErr := res.RowsAffected()
			if raErr != nil {
				return raErr
			}
			if ra > 0 {
				imported++
			}
		}
		return nil
	})
	return imported, err
}

// ReplayUnappliedEvents applies every imported-but-not-yet-applied resolution
// event to its target observation, oldest first, then marks it applied. Each
// event is idempotent to replay exactly once: a second call finds no
// unapplied rows and is a no-op.
func ReplayUnappliedEvents(db *sql.DB) (applied int, err error) {
	err = Transact(db, func(tx *sql.Tx) error {
		rows, queryErr := tx.Query(`
			SELECT id, observation_id, action, resolved_by_session_id, superseded_by
			FROM resolution_events WHERE applied = 0
			ORDER BY id ASC
		`)
		if queryErr != nil {
			return queryErr
		}

		type pending struct {
			id                  int64
			observationID       string
			action              models.ResolutionAction
			resolvedBySessionID string
			supersededBy        string
		}
		var toApply []pending
		for rows.Next() {
			var p pending
			var resolvedBySession, supersededBy sql.NullString
			if scanErr := rows.Scan(&p.id, &p.observationID, &p.action, &resolvedBySession, &supersededBy); scanErr != nil {
				rows.Close()
				return scanErr
			}
			p.resolvedBySessionID = resolvedBySession.String
			p.supersededBy = supersededBy.String
			toApply = append(toApply, p)
		}
		if rowsErr := rows.Err(); rowsErr != nil {
			rows.Close()
			return rowsErr
		}
		rows.Close()

		for _, p := range toApply {
			if _, obsErr := getObservationTx(tx, p.observationID); obsErr == sql.ErrNoRows {
				// Observation hasn't synced yet on this machine; leave unapplied
				// for the next replay pass rather than erroring the whole batch.
				continue
			} else if obsErr != nil {
				return obsErr
			}

			now := time.Now().UTC()
			switch p.action {
			case models.ResolutionActionReactivated:
				if _, err := tx.Exec(`
					UPDATE observations SET status = 'active', resolved_by_session_id = NULL, resolved_at = NULL, superseded_by = NULL
					WHERE id = ?
				`, p.observationID); err != nil {
					return err
				}
			case models.ResolutionActionSuperseded:
				if _, err := tx.Exec(`
					UPDATE observations SET status = 'superseded', superseded_by = ? WHERE id = ?
				`, p.supersededBy, p.observationID); err != nil {
					return err
				}
			default:
				if _, err := tx.Exec(`
					UPDATE observations SET status = 'resolved', resolved_by_session_id = ?, resolved_at = ? WHERE id = ?
				`, p.resolvedBySessionID, now.Format(time.RFC3339Nano), p.observationID); err != nil {
					return err
				}
			}

			if _, err := tx.Exec(`UPDATE resolution_events SET applied = 1 WHERE id = ?`, p.id); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	return applied, err
}
