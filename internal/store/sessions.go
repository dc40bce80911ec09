package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

// maxAncestorWalkDepth bounds the cycle-detection walk in SetSessionParent.
// Matches vybe's depth-bounded traversal style for parent/ancestor chains.
const maxAncestorWalkDepth = 64

// immediateLinkWindow is the gap after which a just-ended session is still
// considered an "immediate" linkable parent.
const immediateLinkWindow = 5 * time.Minute

// fallbackLinkWindow bounds how far back FindLinkableParent will look for a
// completed session when no immediate or active candidate exists.
const fallbackLinkWindow = 24 * time.Hour

// EnsureSession is idempotent: the first call creates the session row, every
// subsequent call with the same id returns the existing row unchanged. It
// never mutates the parent link (see DESIGN.md for the agent-disagreement
// Open Question decision: the agent name is only ever set on insert).
func EnsureSession(db *sql.DB, sessionID, agent, projectRoot, sourceMachineID string) (*models.Session, bool, error) {
	var created bool
	var sess *models.Session

	err := Transact(db, func(tx *sql.Tx) error {
		existing, err := getSessionTx(tx, sessionID)
		if err == nil {
			sess = existing
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}

		now := time.Now().UTC()
		_, execErr := tx.Exec(`
			INSERT INTO sessions (id, agent_name, project_root, started_at, started_at_epoch, status, source_machine_id)
			VALUES (?, ?, ?, ?, ?, 'active', ?)
		`, sessionID, agent, projectRoot, now.Format(time.RFC3339Nano), now.Unix(), sourceMachineID)
		if execErr != nil {
			return fmt.Errorf("insert session: %w", execErr)
		}

		created = true
		sess = &models.Session{
			ID:              sessionID,
			AgentName:       agent,
			ProjectRoot:     projectRoot,
			StartedAt:       now,
			Status:          models.SessionStatusActive,
			SourceMachineID: sourceMachineID,
		}
		return nil
	})
	return sess, created, err
}

func getSessionTx(tx *sql.Tx, sessionID string) (*models.Session, error) {
	var s models.Session
	var startedAt string
	var endedAt, parentID, parentReason, summary, title, transcriptPath, contentHash sql.NullString
	err := tx.QueryRow(`
		SELECT id, agent_name, project_root, started_at, ended_at, status,
		       prompt_count, tool_count, processed, summary, title, title_manually_edited,
		       parent_session_id, parent_reason, suggested_parent_dismissed, transcript_path,
		       source_machine_id, content_hash
		FROM sessions WHERE id = ?
	`, sessionID).Scan(
		&s.ID, &s.AgentName, &s.ProjectRoot, &startedAt, &endedAt, &s.Status,
		&s.PromptCount, &s.ToolCount, &s.Processed, &summary, &title, &s.TitleManuallyEdited,
		&parentID, &parentReason, &s.SuggestedParentDismissed, &transcriptPath,
		&s.SourceMachineID, &contentHash,
	)
	if err != nil {
		return nil, err
	}
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		s.EndedAt = &t
	}
	s.Summary = summary.String
	s.Title = title.String
	s.ParentSessionID = parentID.String
	s.ParentReason = models.ParentReason(parentReason.String)
	s.TranscriptPath = transcriptPath.String
	s.ContentHash = contentHash.String
	return &s, nil
}

// GetSession returns the session by id, or sql.ErrNoRows if it doesn't exist.
func GetSession(db *sql.DB, sessionID string) (*models.Session, error) {
	var s *models.Session
	err := Transact(db, func(tx *sql.Tx) error {
		var txErr error
		s, txErr = getSessionTx(tx, sessionID)
		return txErr
	})
	return s, err
}

// ancestorsOf walks parent_session_id up to maxAncestorWalkDepth, returning
// the ordered ancestor chain (closest first). Stops early on a missing link.
func ancestorsOf(tx *sql.Tx, sessionID string) ([]string, error) {
	var chain []string
	current := sessionID
	for depth := 0; depth < maxAncestorWalkDepth; depth++ {
		var parent sql.NullString
		err := tx.QueryRow(`SELECT parent_session_id FROM sessions WHERE id = ?`, current).Scan(&parent)
		if err != nil || !parent.Valid || parent.String == "" {
			break
		}
		chain = append(chain, parent.String)
		current = parent.String
	}
	return chain, nil
}

// SetSessionParent links sessionID to parentID, recording reason, unless the
// link would create a cycle (parentID's ancestor chain already includes
// sessionID), in which case it returns a *CycleError. Per spec §7, this
// error must always surface to the caller and is never silently dropped.
func SetSessionParent(db *sql.DB, sessionID, parentID string, reason models.ParentReason) error {
	return Transact(db, func(tx *sql.Tx) error {
		if parentID == sessionID {
			return &CycleError{SessionID: sessionID, ParentID: parentID}
		}

		ancestors, err := ancestorsOf(tx, parentID)
		if err != nil {
			return err
		}
		for _, a := range ancestors {
			if a == sessionID {
				return &CycleError{SessionID: sessionID, ParentID: parentID}
			}
		}

		if _, err := tx.Exec(`
			UPDATE sessions SET parent_session_id = ?, parent_reason = ? WHERE id = ?
		`, parentID, string(reason), sessionID); err != nil {
			return fmt.Errorf("update parent link: %w", err)
		}

		if _, err := tx.Exec(`
			INSERT INTO session_link_events (session_id, parent_session_id, reason) VALUES (?, ?, ?)
		`, sessionID, parentID, string(reason)); err != nil {
			return fmt.Errorf("insert session_link_event: %w", err)
		}
		return nil
	})
}

// FindLinkableParent returns a candidate parent session for (agent, projectRoot),
// excluding exclude, using the precedence described in spec §4.1:
// (a) a session that ended within immediateLinkWindow of startedAt,
// (b) a currently-active session in the same project (covers the session-end
//     race window),
// (c) the most recently completed session within fallbackLinkWindow.
// Ties within a tier are broken by recency. Never returns exclude itself.
func FindLinkableParent(db *sql.DB, agent, projectRoot, exclude string, startedAt time.Time) (*models.Session, error) {
	var candidate *models.Session

	err := Transact(db, func(tx *sql.Tx) error {
		immediateCutoff := startedAt.Add(-immediateLinkWindow).Unix()
		row := tx.QueryRow(`
			SELECT id FROM sessions
			WHERE agent_name = ? AND project_root = ? AND id != ?
			  AND status = 'completed' AND ended_at_epoch >= ?
			ORDER BY ended_at_epoch DESC LIMIT 1
		`, agent, projectRoot, exclude, immediateCutoff)
		var id string
		if err := row.Scan(&id); err == nil {
			s, gErr := getSessionTx(tx, id)
			if gErr != nil {
				return gErr
			}
			candidate = s
			return nil
		} else if err != sql.ErrNoRows {
			return err
		}

		row = tx.QueryRow(`
			SELECT id FROM sessions
			WHERE agent_name = ? AND project_root = ? AND id != ? AND status = 'active'
			ORDER BY started_at_epoch DESC LIMIT 1
		`, agent, projectRoot, exclude)
		if err := row.Scan(&id); err == nil {
			s, gErr := getSessionTx(tx, id)
			if gErr != nil {
				return gErr
			}
			candidate = s
			return nil
		} else if err != sql.ErrNoRows {
			return err
		}

		fallbackCutoff := startedAt.Add(-fallbackLinkWindow).Unix()
		row = tx.QueryRow(`
			SELECT id FROM sessions
			WHERE agent_name = ? AND project_root = ? AND id != ?
			  AND status = 'completed' AND ended_at_epoch >= ?
			ORDER BY ended_at_epoch DESC LIMIT 1
		`, agent, projectRoot, exclude, fallbackCutoff)
		if err := row.Scan(&id); err == nil {
			s, gErr := getSessionTx(tx, id)
			if gErr != nil {
				return gErr
			}
			candidate = s
			return nil
		} else if err != sql.ErrNoRows {
			return err
		}

		return nil
	})
	return candidate, err
}

// EndSession marks a session completed (or abandoned) and stamps ended_at.
// Idempotent on an already-terminal session.
func EndSession(db *sql.DB, sessionID string, status models.SessionStatus) error {
	return Transact(db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(`
			UPDATE sessions SET status = ?, ended_at = ?, ended_at_epoch = ?
			WHERE id = ? AND status = 'active'
		`, string(status), now.Format(time.RFC3339Nano), now.Unix(), sessionID)
		return err
	})
}

// IncrementSessionToolCount bumps tool_count by delta inside the caller's transaction.
func IncrementSessionToolCount(tx *sql.Tx, sessionID string, delta int) error {
	_, err := tx.Exec(`UPDATE sessions SET tool_count = tool_count + ? WHERE id = ?`, delta, sessionID)
	return err
}

// IncrementSessionPromptCount bumps prompt_count by delta inside the caller's transaction.
func IncrementSessionPromptCount(tx *sql.Tx, sessionID string, delta int) error {
	_, err := tx.Exec(`UPDATE sessions SET prompt_count = prompt_count + ? WHERE id = ?`, delta, sessionID)
	return err
}

// UpdateSessionSummary sets summary (and title, if provided) for a session.
// Returns whether the summary text actually changed, so callers can decide
// whether to re-embed the session-summary vector (see DESIGN.md's Open
// Question decision: title-only edits never trigger re-embedding).
func UpdateSessionSummary(db *sql.DB, sessionID, summary, title string) (summaryChanged bool, err error) {
	err = Transact(db, func(tx *sql.Tx) error {
		var prevSummary string
		if scanErr := tx.QueryRow(`SELECT COALESCE(summary, '') FROM sessions WHERE id = ?`, sessionID).Scan(&prevSummary); scanErr != nil {
			return scanErr
		}
		summaryChanged = prevSummary != summary

		if title != "" {
			_, execErr := tx.Exec(`UPDATE sessions SET summary = ?, title = ? WHERE id = ?`, summary, title, sessionID)
			return execErr
		}
		_, execErr := tx.Exec(`UPDATE sessions SET summary = ? WHERE id = ?`, summary, sessionID)
		return execErr
	})
	return summaryChanged, err
}

// DismissSuggestion and ResetSuggestionDismissal are idempotent boolean mutations.
func DismissSuggestion(db *sql.DB, sessionID string) error {
	return Transact(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sessions SET suggested_parent_dismissed = 1 WHERE id = ?`, sessionID)
		return err
	})
}

func ResetSuggestionDismissal(db *sql.DB, sessionID string) error {
	return Transact(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sessions SET suggested_parent_dismissed = 0 WHERE id = ?`, sessionID)
		return err
	})
}
