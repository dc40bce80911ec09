package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
)

func TestPruneOldActivities_DeletesOnlyProcessedAndOld(t *testing.T) {
	db, err := InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, _, err = EnsureSession(db, "sess_a", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	old := time.Now().Add(-100 * 24 * time.Hour)
	recent := time.Now()

	_, err = db.Exec(`INSERT INTO activities (session_id, tool_name, duration_ms, success, timestamp, timestamp_epoch, processed, source_machine_id)
		VALUES ('sess_a', 'Read', 0, 1, ?, ?, 1, 'machine_a')`, old.Format(time.RFC3339Nano), old.Unix())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO activities (session_id, tool_name, duration_ms, success, timestamp, timestamp_epoch, processed, source_machine_id)
		VALUES ('sess_a', 'Read', 0, 1, ?, ?, 0, 'machine_a')`, old.Format(time.RFC3339Nano), old.Unix())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO activities (session_id, tool_name, duration_ms, success, timestamp, timestamp_epoch, processed, source_machine_id)
		VALUES ('sess_a', 'Read', 0, 1, ?, ?, 1, 'machine_a')`, recent.Format(time.RFC3339Nano), recent.Unix())
	require.NoError(t, err)

	deleted, err := PruneOldActivities(db, 30, 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM activities`).Scan(&count))
	require.Equal(t, 2, count)
}

func TestPruneResolvedObservations_KeepsRecentAndBelowThreshold(t *testing.T) {
	db, err := InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, _, err = EnsureSession(db, "sess_a", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		obs := &models.Observation{
			SessionID:       "sess_a",
			ObservationText: "fact",
			MemoryType:      "fact",
			Importance:      5,
			Status:          models.ObservationStatusActive,
			SourceMachineID: "machine_a",
			ContentHash:     "hash_" + string(rune('a'+i)),
		}
		stored, err := StoreObservation(db, obs)
		require.NoError(t, err)
		_, err = ResolveObservation(db, stored.ID, "sess_a", "machine_a")
		require.NoError(t, err)
		// Age each row past the 30-day retention floor, one day apart and
		// oldest first, so only the keep-recent window decides what survives.
		_, err = db.Exec(`UPDATE observations SET created_at_epoch = ? WHERE id = ?`,
			time.Now().Add(-time.Duration(100-i)*24*time.Hour).Unix(), stored.ID)
		require.NoError(t, err)
	}

	deleted, err := PruneResolvedObservations(db, "sess_a", 30, 10, 3, 100)
	require.NoError(t, err)
	require.Zero(t, deleted, "below summarize threshold, nothing should be pruned")

	deleted, err = PruneResolvedObservations(db, "sess_a", 30, 3, 3, 100)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM observations WHERE session_id = 'sess_a'`).Scan(&count))
	require.Equal(t, 3, count)
}
