package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/store"
)

func newTestIngestor(t *testing.T) *Ingestor {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, "machine_test")
}

func TestEnsureSession_AutoLinksToRecentlyEndedSession(t *testing.T) {
	ing := newTestIngestor(t)

	_, created, err := ing.EnsureSession("sess_old", "claude", "/proj")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, store.EndSession(ing.db, "sess_old", models.SessionStatusCompleted))

	sess, created, err := ing.EnsureSession("sess_new", "claude", "/proj")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "sess_old", sess.ParentSessionID)
	require.Equal(t, models.ParentReasonInferred, sess.ParentReason)
}

func TestEnsureSession_ReplayNeverRelinksExistingParent(t *testing.T) {
	ing := newTestIngestor(t)
	_, _, err := ing.EnsureSession("sess_parent", "claude", "/proj")
	require.NoError(t, err)
	_, _, err = ing.EnsureSession("sess_a", "claude", "/proj")
	require.NoError(t, err)
	require.NoError(t, ing.SetSessionParent("sess_a", "sess_parent", models.ParentReasonExplicit))

	sess, created, err := ing.EnsureSession("sess_a", "codex", "/proj")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "claude", sess.AgentName, "replay must not overwrite the agent recorded at creation")
	require.Equal(t, "sess_parent", sess.ParentSessionID, "replay must not touch the existing parent link")
}

func TestCreatePromptBatch_ReclassifiesContinuationAsSystem(t *testing.T) {
	ing := newTestIngestor(t)
	_, _, err := ing.EnsureSession("sess_a", "claude", "/proj")
	require.NoError(t, err)

	batch, err := ing.CreatePromptBatch("sess_a", "Continue working on the previous task", models.SourceTypeUser)
	require.NoError(t, err)
	require.Equal(t, models.SourceTypeSystem, batch.SourceType)
}

func TestCreatePromptBatch_LeavesOrdinaryUserPromptAlone(t *testing.T) {
	ing := newTestIngestor(t)
	_, _, err := ing.EnsureSession("sess_a", "claude", "/proj")
	require.NoError(t, err)

	batch, err := ing.CreatePromptBatch("sess_a", "add a retry loop to the HTTP client", models.SourceTypeUser)
	require.NoError(t, err)
	require.Equal(t, models.SourceTypeUser, batch.SourceType)
}

func TestAddActivityBuffered_FlushesAtThreshold(t *testing.T) {
	ing := newTestIngestor(t)
	ing.flushThreshold = 3
	_, _, err := ing.EnsureSession("sess_a", "claude", "/proj")
	require.NoError(t, err)

	var lastFlushed bool
	for n := 0; n < 3; n++ {
		_, flushed, err := ing.AddActivityBuffered(&models.Activity{
			SessionID: "sess_a", ToolName: "Read", Success: true, Timestamp: time.Now().UTC(),
		}, false)
		require.NoError(t, err)
		lastFlushed = flushed
	}
	require.True(t, lastFlushed, "the third add should trip the flush threshold")

	var count int
	require.NoError(t, ing.db.QueryRow(`SELECT COUNT(*) FROM activities WHERE session_id = 'sess_a'`).Scan(&count))
	require.Equal(t, 3, count)
}

func TestFlushActivityBuffer_NoopOnEmptySecondCall(t *testing.T) {
	ing := newTestIngestor(t)
	_, _, err := ing.EnsureSession("sess_a", "claude", "/proj")
	require.NoError(t, err)

	_, _, err = ing.AddActivityBuffered(&models.Activity{SessionID: "sess_a", ToolName: "Read", Success: true}, true)
	require.NoError(t, err)
	require.NoError(t, ing.FlushActivityBuffer("sess_a"))

	var count int
	require.NoError(t, ing.db.QueryRow(`SELECT COUNT(*) FROM activities WHERE session_id = 'sess_a'`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestAddActivity_StampsMachineIDAndContentHash(t *testing.T) {
	ing := newTestIngestor(t)
	_, _, err := ing.EnsureSession("sess_a", "claude", "/proj")
	require.NoError(t, err)

	id, err := ing.AddActivity(&models.Activity{SessionID: "sess_a", ToolName: "Edit", Success: true})
	require.NoError(t, err)

	var machineID, contentHash string
	require.NoError(t, ing.db.QueryRow(`SELECT source_machine_id, content_hash FROM activities WHERE id = ?`, id).Scan(&machineID, &contentHash))
	require.Equal(t, "machine_test", machineID)
	require.NotEmpty(t, contentHash)
}
