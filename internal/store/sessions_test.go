package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureSession_CreatesThenReplays(t *testing.T) {
	db := openTestDB(t)

	s1, created1, err := EnsureSession(db, "sess_1", "claude", "/proj", "machine_a")
	require.NoError(t, err)
	require.True(t, created1)
	require.Equal(t, models.SessionStatusActive, s1.Status)

	s2, created2, err := EnsureSession(db, "sess_1", "claude", "/proj", "machine_a")
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, s1.ID, s2.ID)
	require.Equal(t, s1.StartedAt.Unix(), s2.StartedAt.Unix())
}

func TestSetSessionParent_DetectsDirectCycle(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_a", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	err = SetSessionParent(db, "sess_a", "sess_a", models.ParentReasonExplicit)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, "sess_a", cycleErr.SessionID)
}

func TestSetSessionParent_DetectsTransitiveCycle(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"sess_a", "sess_b", "sess_c"} {
		_, _, err := EnsureSession(db, id, "claude", "/proj", "machine_a")
		require.NoError(t, err)
	}

	// a -> b -> c
	require.NoError(t, SetSessionParent(db, "sess_b", "sess_a", models.ParentReasonResume))
	require.NoError(t, SetSessionParent(db, "sess_c", "sess_b", models.ParentReasonResume))

	// Linking a's parent to c would close the loop a -> b -> c -> a.
	err := SetSessionParent(db, "sess_a", "sess_c", models.ParentReasonResume)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)

	var linkEvents int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM session_link_events`).Scan(&linkEvents))
	require.Equal(t, 2, linkEvents, "the rejected cyclic link must not be recorded")
}

func TestSetSessionParent_RecordsLinkEvent(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_a", "claude", "/proj", "machine_a")
	require.NoError(t, err)
	_, _, err = EnsureSession(db, "sess_b", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	require.NoError(t, SetSessionParent(db, "sess_b", "sess_a", models.ParentReasonCompact))

	s, err := GetSession(db, "sess_b")
	require.NoError(t, err)
	require.Equal(t, "sess_a", s.ParentSessionID)
	require.Equal(t, models.ParentReasonCompact, s.ParentReason)
	require.True(t, s.HasParent())

	var reason string
	require.NoError(t, db.QueryRow(`SELECT reason FROM session_link_events WHERE session_id = 'sess_b'`).Scan(&reason))
	require.Equal(t, "compact", reason)
}

func TestFindLinkableParent_PrefersRecentlyEndedOverActive(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()

	_, _, err := EnsureSession(db, "sess_old", "claude", "/proj", "machine_a")
	require.NoError(t, err)
	require.NoError(t, EndSession(db, "sess_old", models.SessionStatusCompleted))

	_, _, err = EnsureSession(db, "sess_active", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	candidate, err := FindLinkableParent(db, "claude", "/proj", "sess_new", now)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	require.Equal(t, "sess_old", candidate.ID)
}

func TestFindLinkableParent_NoCandidateReturnsNil(t *testing.T) {
	db := openTestDB(t)
	candidate, err := FindLinkableParent(db, "claude", "/proj", "sess_new", time.Now().UTC())
	require.NoError(t, err)
	require.Nil(t, candidate)
}

func TestEndSession_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_a", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	require.NoError(t, EndSession(db, "sess_a", models.SessionStatusCompleted))
	require.NoError(t, EndSession(db, "sess_a", models.SessionStatusAbandoned))

	s, err := GetSession(db, "sess_a")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCompleted, s.Status, "second EndSession call must be a no-op since the session is already terminal")
}

func TestUpdateSessionSummary_ReportsChangeOnlyOnTextDiff(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_a", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	changed, err := UpdateSessionSummary(db, "sess_a", "did the thing", "")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = UpdateSessionSummary(db, "sess_a", "did the thing", "A nice title")
	require.NoError(t, err)
	require.False(t, changed, "title-only edits must not report a summary change")

	s, err := GetSession(db, "sess_a")
	require.NoError(t, err)
	require.Equal(t, "A nice title", s.Title)
}
