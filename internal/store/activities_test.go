package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
)

func TestActivityBuffer_FlushIsNoopWhenEmpty(t *testing.T) {
	db := openTestDB(t)
	buf := NewActivityBuffer()
	require.NoError(t, buf.Flush(db, "sess_nonexistent"))
}

func TestActivityBuffer_AddThenFlushPersists(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_1", "claude", "/proj", "machine_a")
	require.NoError(t, err)
	batch, err := CreatePromptBatch(db, "sess_1", "do things", models.SourceTypeUser)
	require.NoError(t, err)

	buf := NewActivityBuffer()
	for i := 0; i < 3; i++ {
		buf.Add("sess_1", &models.Activity{
			SessionID:       "sess_1",
			PromptBatchID:   &batch.ID,
			ToolName:        "Edit",
			Success:         true,
			SourceMachineID: "machine_a",
		})
	}

	require.NoError(t, buf.Flush(db, "sess_1"))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM activities WHERE session_id = 'sess_1'`).Scan(&count))
	require.Equal(t, 3, count)

	var activityCount int
	require.NoError(t, db.QueryRow(`SELECT activity_count FROM prompt_batches WHERE id = ?`, batch.ID).Scan(&activityCount))
	require.Equal(t, 3, activityCount)

	// Second flush with nothing queued must be a no-op, not re-insert.
	require.NoError(t, buf.Flush(db, "sess_1"))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM activities WHERE session_id = 'sess_1'`).Scan(&count))
	require.Equal(t, 3, count)
}

func TestBulkInsertActivities_FallsBackPerRowOnFKViolation(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_real", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	batch := []*models.Activity{
		{SessionID: "sess_real", ToolName: "Read", Success: true, SourceMachineID: "machine_a"},
		{SessionID: "sess_missing", ToolName: "Read", Success: true, SourceMachineID: "machine_a"},
		{SessionID: "sess_real", ToolName: "Write", Success: true, SourceMachineID: "machine_a"},
	}

	err = bulkInsertActivities(db, batch)
	require.Error(t, err, "the missing-session row should be reported, not silently dropped")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM activities WHERE session_id = 'sess_real'`).Scan(&count))
	require.Equal(t, 2, count, "valid rows in the batch must still land despite one bad row")
}

func TestAddActivity_FTSIndexStaysInSync(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_1", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	id, err := AddActivity(db, &models.Activity{
		SessionID:         "sess_1",
		ToolName:          "Grep",
		ToolOutputSummary: "found three matches in config.go",
		SourceMachineID:   "machine_a",
	})
	require.NoError(t, err)
	require.Positive(t, id)

	var matches int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM activities_fts WHERE activities_fts MATCH 'matches'`).Scan(&matches))
	require.Equal(t, 1, matches)
}

func TestMarkActivitiesProcessed(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_1", "claude", "/proj", "machine_a")
	require.NoError(t, err)
	id, err := AddActivity(db, &models.Activity{SessionID: "sess_1", ToolName: "Read", SourceMachineID: "machine_a"})
	require.NoError(t, err)

	require.NoError(t, MarkActivitiesProcessed(db, []int64{id}, "obs_abc"))

	var processed bool
	var observationID string
	require.NoError(t, db.QueryRow(`SELECT processed, observation_id FROM activities WHERE id = ?`, id).Scan(&processed, &observationID))
	require.True(t, processed)
	require.Equal(t, "obs_abc", observationID)
}
