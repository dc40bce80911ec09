package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/dotcommander/oakd/internal/models"
)

// StoreObservation inserts a new observation, generating its UUID. Per the
// cross-machine dedup invariant, (source_machine_id, content_hash) is unique;
// a duplicate is not an error -- the existing row is returned instead, since
// the same durable fact may legitimately be re-extracted across sessions.
func StoreObservation(db *sql.DB, obs *models.Observation) (*models.Observation, error) {
	var result *models.Observation

	err := Transact(db, func(tx *sql.Tx) error {
		if existing, err := getObservationByHashTx(tx, obs.SourceMachineID, obs.ContentHash); err == nil {
			result = existing
			return nil
		} else if err != sql.ErrNoRows {
			return err
		}

		id := obs.ID
		if id == "" {
			id = uuid.NewString()
		}
		now := time.Now().UTC()
		if _, err := tx.Exec(`
			INSERT INTO observations (id, session_id, prompt_batch_id, observation, memory_type, context, tags,
			                          importance, file_path, created_at, created_at_epoch, status,
			                          session_origin_type, source_machine_id, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?, ?)
		`, id, obs.SessionID, obs.PromptBatchID, obs.ObservationText, obs.MemoryType, obs.Context, obs.Tags,
			obs.Importance, obs.FilePath, now.Format(time.RFC3339Nano), now.Unix(),
			string(obs.SessionOriginType), obs.SourceMachineID, obs.ContentHash); err != nil {
			return &IntegrityError{Table: "observations", Cause: err}
		}

		obs.ID = id
		obs.CreatedAt = now
		obs.Status = models.ObservationStatusActive
		result = obs
		return nil
	})
	return result, err
}

func getObservationByHashTx(tx *sql.Tx, machineID, contentHash string) (*models.Observation, error) {
	var id string
	if err := tx.QueryRow(`
		SELECT id FROM observations WHERE source_machine_id = ? AND content_hash = ?
	`, machineID, contentHash).Scan(&id); err != nil {
		return nil, err
	}
	return getObservationTx(tx, id)
}

func getObservationTx(tx *sql.Tx, id string) (*models.Observation, error) {
	var o models.Observation
	var createdAt string
	var promptBatchID sql.NullInt64
	var context, tags, filePath, resolvedBySession, supersededBy, originType sql.NullString
	var resolvedAt sql.NullString
	err := tx.QueryRow(`
		SELECT id, session_id, prompt_batch_id, observation, memory_type, context, tags, importance,
		       file_path, created_at, embedded, status, resolved_by_session_id, resolved_at,
		       superseded_by, session_origin_type, source_machine_id, content_hash
		FROM observations WHERE id = ?
	`, id).Scan(
		&o.ID, &o.SessionID, &promptBatchID, &o.ObservationText, &o.MemoryType, &context, &tags, &o.Importance,
		&filePath, &createdAt, &o.Embedded, &o.Status, &resolvedBySession, &resolvedAt,
		&supersededBy, &originType, &o.SourceMachineID, &o.ContentHash,
	)
	if err != nil {
		return nil, err
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if promptBatchID.Valid {
		o.PromptBatchID = &promptBatchID.Int64
	}
	o.Context = context.String
	o.Tags = tags.String
	o.FilePath = filePath.String
	o.ResolvedBySessionID = resolvedBySession.String
	o.SupersededBy = supersededBy.String
	o.SessionOriginType = models.SourceType(originType.String)
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, resolvedAt.String)
		o.ResolvedAt = &t
	}
	return &o, nil
}

// GetObservation returns an observation by id, or sql.ErrNoRows.
func GetObservation(db *sql.DB, id string) (*models.Observation, error) {
	var o *models.Observation
	err := Transact(db, func(tx *sql.Tx) error {
		var txErr error
		o, txErr = getObservationTx(tx, id)
		return txErr
	})
	return o, err
}

// LatestSessionSummaryObservation returns the most recent active
// memory_type='session_summary' observation for sessionID, or sql.ErrNoRows
// if the session has never had one generated -- the Suggestion Engine's
// "has no summary observation" precondition check.
func LatestSessionSummaryObservation(db *sql.DB, sessionID string) (*models.Observation, error) {
	var id string
	err := db.QueryRow(`
		SELECT id FROM observations
		WHERE session_id = ? AND memory_type = 'session_summary' AND status = 'active'
		ORDER BY created_at_epoch DESC LIMIT 1
	`, sessionID).Scan(&id)
	if err != nil {
		return nil, err
	}
	return GetObservation(db, id)
}

// MarkObservationsEmbedded flags a set of observations as embedded once
// their vector-store write has succeeded.
func MarkObservationsEmbedded(db *sql.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return Transact(db, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE observations SET embedded = 1 WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// UnembeddedObservations returns observations still marked embedded=0, oldest
// first, whatever their status.
func UnembeddedObservations(db *sql.DB, limit int) ([]*models.Observation, error) {
	rows, err := db.Query(`SELECT id FROM observations WHERE embedded = 0 ORDER BY created_at_epoch ASC LIMIT ?`, limit)
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

// ResolveObservation transitions an observation active -> resolved and
// records a ResolutionEvent so the transition can propagate to other
// machines via backup export/import. Resolving an already-resolved
// observation updates the row's resolution fields again but records no
// second ResolutionEvent.
func ResolveObservation(db *sql.DB, observationID, resolvedBySessionID, machineID string) (*models.ResolutionEvent, error) {
	return transitionObservation(db, observationID, models.ResolutionActionResolved, resolvedBySessionID, "", machineID)
}

// SupersedeObservation transitions active -> superseded, pointing at the
// observation that replaces it.
func SupersedeObservation(db *sql.DB, observationID, supersededBy, machineID string) (*models.ResolutionEvent, error) {
	return transitionObservation(db, observationID, models.ResolutionActionSuperseded, "", supersededBy, machineID)
}

// ReactivateObservation transitions resolved/superseded back to active.
func ReactivateObservation(db *sql.DB, observationID, machineID string) (*models.ResolutionEvent, error) {
	return transitionObservation(db, observationID, models.ResolutionActionReactivated, "", "", machineID)
}

func transitionObservation(db *sql.DB, observationID string, action models.ResolutionAction, resolvedBySessionID, supersededBy, machineID string) (*models.ResolutionEvent, error) {
	var event *models.ResolutionEvent

	err := Transact(db, func(tx *sql.Tx) error {
		obs, err := getObservationTx(tx, observationID)
		if err != nil {
			return err
		}

		newStatus := string(models.ObservationStatusActive)
		switch action {
		case models.ResolutionActionResolved:
			newStatus = string(models.ObservationStatusResolved)
		case models.ResolutionActionSuperseded:
			newStatus = string(models.ObservationStatusSuperseded)
		}

		now := time.Now().UTC()
		if action == models.ResolutionActionReactivated {
			if _, err := tx.Exec(`
				UPDATE observations SET status = 'active', resolved_by_session_id = NULL, resolved_at = NULL, superseded_by = NULL
				WHERE id = ?
			`, observationID); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(`
				UPDATE observations SET status = ?, resolved_by_session_id = ?, resolved_at = ?, superseded_by = ?
				WHERE id = ?
			`, newStatus, resolvedBySessionID, now.Format(time.RFC3339Nano), supersededBy, observationID); err != nil {
				return err
			}
		}

		contentHash := obs.ContentHash + "|" + string(action)
		res, err := tx.Exec(`
			INSERT INTO resolution_events (observation_id, action, source_machine_id, resolved_by_session_id,
			                                superseded_by, applied, content_hash, created_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(source_machine_id, content_hash) DO NOTHING
		`, observationID, string(action), machineID, resolvedBySessionID, supersededBy, contentHash,
			now.Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		event = &models.ResolutionEvent{
			ID:                  id,
			ObservationID:       observationID,
			Action:              action,
			SourceMachineID:     machineID,
			ResolvedBySessionID: resolvedBySessionID,
			SupersededBy:        supersededBy,
			Applied:             true,
			ContentHash:         contentHash,
			CreatedAt:           now,
		}
		return nil
	})
	return event, err
}
