package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
)

func TestLinkSessions_CanonicalOrdering(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"sess_z", "sess_a"} {
		_, _, err := EnsureSession(db, id, "claude", "/proj", "machine_a")
		require.NoError(t, err)
	}

	rel, err := LinkSessions(db, "sess_z", "sess_a", "related_feature", 0.82, models.RelationshipCreatedBySuggestion)
	require.NoError(t, err)
	require.Equal(t, "sess_a", rel.SessionAID)
	require.Equal(t, "sess_z", rel.SessionBID)
}

func TestLinkSessions_RejectsSelfLink(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_a", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	_, err = LinkSessions(db, "sess_a", "sess_a", "related_feature", 1.0, models.RelationshipCreatedByManual)
	require.Error(t, err)
}

func TestIsAlreadyLinked_DetectsReverseDirection(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"sess_a", "sess_b"} {
		_, _, err := EnsureSession(db, id, "claude", "/proj", "machine_a")
		require.NoError(t, err)
	}
	_, err := LinkSessions(db, "sess_a", "sess_b", "related_feature", 0.9, models.RelationshipCreatedBySuggestion)
	require.NoError(t, err)

	linked, err := IsAlreadyLinked(db, "sess_b", "sess_a", "related_feature")
	require.NoError(t, err)
	require.True(t, linked, "the reverse direction must report the same link")
}

func TestRelatedSessions_OrdersBySimilarity(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"sess_a", "sess_b", "sess_c"} {
		_, _, err := EnsureSession(db, id, "claude", "/proj", "machine_a")
		require.NoError(t, err)
	}
	_, err := LinkSessions(db, "sess_a", "sess_b", "related_feature", 0.5, models.RelationshipCreatedBySuggestion)
	require.NoError(t, err)
	_, err = LinkSessions(db, "sess_a", "sess_c", "related_feature", 0.9, models.RelationshipCreatedBySuggestion)
	require.NoError(t, err)

	rels, err := RelatedSessions(db, "sess_a")
	require.NoError(t, err)
	require.Len(t, rels, 2)
	require.Equal(t, "sess_c", rels[0].SessionBID)
}
