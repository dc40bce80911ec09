package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

var errSelfLink = errors.New("a session cannot be linked to itself")

// LinkSessions creates a symmetric relationship between two sessions,
// canonicalizing (sessionA, sessionB) into lexicographic order so the
// unique constraint catches both link directions and self-links are
// rejected outright.
func LinkSessions(db *sql.DB, sessionA, sessionB, relationshipType string, similarity float64, createdBy models.RelationshipCreatedBy) (*models.SessionRelationship, error) {
	if sessionA == sessionB {
		return nil, &IntegrityError{Table: "session_relationships", Cause: errSelfLink}
	}
	a, b := sessionA, sessionB
	if b < a {
		a, b = b, a
	}

	var rel *models.SessionRelationship
	err := Transact(db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(`
			INSERT INTO session_relationships (session_a_id, session_b_id, relationship_type, similarity_score, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_a_id, session_b_id, relationship_type) DO UPDATE SET similarity_score = excluded.similarity_score
		`, a, b, relationshipType, similarity, string(createdBy), now.Format(time.RFC3339Nano))
		if err != nil {
			return &IntegrityError{Table: "session_relationships", Cause: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		rel = &models.SessionRelationship{
			ID: id, SessionAID: a, SessionBID: b, RelationshipType: relationshipType,
			SimilarityScore: similarity, CreatedBy: createdBy, CreatedAt: now,
		}
		return nil
	})
	return rel, err
}

// RelatedSessions returns every session linked to sessionID, in either
// canonical slot, most similar first.
func RelatedSessions(db *sql.DB, sessionID string) ([]*models.SessionRelationship, error) {
	rows, err := db.Query(`
		SELECT id, session_a_id, session_b_id, relationship_type, similarity_score, created_by, created_at
		FROM session_relationships WHERE session_a_id = ? OR session_b_id = ?
		ORDER BY similarity_score DESC
	`, sessionID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SessionRelationship
	for rows.Next() {
		var r models.SessionRelationship
		var createdAt string
		if err := rows.Scan(&r.ID, &r.SessionAID, &r.SessionBID, &r.RelationshipType, &r.SimilarityScore, &r.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// IsAlreadyLinked reports whether sessionA and sessionB are already linked by
// relationshipType in either direction. The Suggestion Engine uses this to
// avoid proposing a relationship that already exists in reverse.
func IsAlreadyLinked(db *sql.DB, sessionA, sessionB, relationshipType string) (bool, error) {
	a, b := sessionA, sessionB
	if b < a {
		a, b = b, a
	}
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM session_relationships
		WHERE session_a_id = ? AND session_b_id = ? AND relationship_type = ?
	`, a, b, relationshipType).Scan(&count)
	return count > 0, err
}
