package backup

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/store"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedMachineA(t *testing.T, db *sql.DB) {
	t.Helper()
	_, _, err := store.EnsureSession(db, "sess_a", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	_, err = store.StoreObservation(db, &models.Observation{
		SessionID:       "sess_a",
		ObservationText: "uses go-chi for routing",
		MemoryType:      "decision",
		Importance:      3,
		SourceMachineID: "machine_a",
		ContentHash:     "hash-1",
	})
	require.NoError(t, err)
}

func TestBuild_ExportsOnlyOwnRows(t *testing.T) {
	db := openTestDB(t)
	seedMachineA(t, db)

	_, _, err := store.EnsureSession(db, "sess_b", "claude", "/proj", "machine_b")
	require.NoError(t, err)

	sqlText, err := Build(db, "machine_a", 7, false)
	require.NoError(t, err)
	require.Contains(t, sqlText, "sess_a")
	require.NotContains(t, sqlText, "sess_b")
	require.Contains(t, sqlText, "schema_version: 7")
}

func TestBuild_EscapesQuotesInStrings(t *testing.T) {
	db := openTestDB(t)
	_, _, err := store.EnsureSession(db, "sess_q", "claude", "/proj", "machine_a")
	require.NoError(t, err)
	_, err = store.StoreObservation(db, &models.Observation{
		SessionID:       "sess_q",
		ObservationText: `it's a "quoted" value`,
		MemoryType:      "decision",
		SourceMachineID: "machine_a",
		ContentHash:     "hash-quote",
	})
	require.NoError(t, err)

	sqlText, err := Build(db, "machine_a", 7, false)
	require.NoError(t, err)
	require.Contains(t, sqlText, `it''s a "quoted" value`)
}

func TestWriteFileThenReadFile_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	seedMachineA(t, db)

	sqlText, err := Build(db, "machine_a", 7, false)
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := WriteFile(dir, "machine_a", sqlText)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, filepath.Join(dir, "machine_a.sql"), path)

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, sqlText, loaded)
}

func TestWriteFile_OverwritesPriorBackupForSameMachine(t *testing.T) {
	dir := t.TempDir()

	path1, err := WriteFile(dir, "machine_a", "-- oakd backup\n-- first\n")
	require.NoError(t, err)
	path2, err := WriteFile(dir, "machine_a", "-- oakd backup\n-- second\n")
	require.NoError(t, err)
	require.Equal(t, path1, path2)

	loaded, err := ReadFile(path2)
	require.NoError(t, err)
	require.Contains(t, loaded, "second")
	require.NotContains(t, loaded, "first")
}

func TestListTeamFiles_ExcludesOwnMachine(t *testing.T) {
	dir := t.TempDir()

	own, err := WriteFile(dir, "machine_a", "-- oakd backup\n")
	require.NoError(t, err)
	require.FileExists(t, own)

	teammate, err := WriteFile(dir, "machine_b", "-- oakd backup\n")
	require.NoError(t, err)
	require.FileExists(t, teammate)

	files, err := ListTeamFiles(dir, "machine_a")
	require.NoError(t, err)
	require.Equal(t, []string{teammate}, files)
}

func TestListTeamFiles_MissingDirReturnsEmpty(t *testing.T) {
	files, err := ListTeamFiles(filepath.Join(t.TempDir(), "does-not-exist"), "machine_a")
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestImport_IsIdempotent(t *testing.T) {
	src := openTestDB(t)
	seedMachineA(t, src)
	sqlText, err := Build(src, "machine_a", 7, false)
	require.NoError(t, err)

	dst := openTestDB(t)

	stats, err := Import(dst, sqlText)
	require.NoError(t, err)
	require.Equal(t, 1, stats.SessionsImported)
	require.Equal(t, 1, stats.ObservationsImported)

	// Replaying the same backup a second time must not duplicate rows.
	stats2, err := Import(dst, sqlText)
	require.NoError(t, err)
	require.Equal(t, 0, stats2.SessionsImported)
	require.Equal(t, 0, stats2.ObservationsImported)

	got, err := store.GetSession(dst, "sess_a")
	require.NoError(t, err)
	require.Equal(t, "machine_a", got.SourceMachineID)

	var count int
	require.NoError(t, dst.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestImport_ActivitiesDedupByContentHashWhenPresent(t *testing.T) {
	src := openTestDB(t)
	seedMachineA(t, src)

	_, err := src.Exec(`INSERT INTO activities (session_id, tool_name, duration_ms, success, timestamp, timestamp_epoch, processed, source_machine_id, content_hash)
		VALUES ('sess_a', 'Read', 5, 1, ?, ?, 1, 'machine_a', 'act-hash-1')`,
		time.Now().UTC().Format(time.RFC3339Nano), time.Now().UTC().Unix())
	require.NoError(t, err)

	sqlText, err := Build(src, "machine_a", 7, true)
	require.NoError(t, err)
	require.True(t, strings.Contains(sqlText, "INTO activities"))

	dst := openTestDB(t)
	stats, err := Import(dst, sqlText)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ActivitiesImported)

	stats2, err := Import(dst, sqlText)
	require.NoError(t, err)
	require.Equal(t, 0, stats2.ActivitiesImported)

	var count int
	require.NoError(t, dst.QueryRow(`SELECT COUNT(*) FROM activities`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestImport_ActivitiesWithoutContentHashAreNotDeduped(t *testing.T) {
	src := openTestDB(t)
	seedMachineA(t, src)

	ts := time.Now().UTC()
	_, err := src.Exec(`INSERT INTO activities (session_id, tool_name, duration_ms, success, timestamp, timestamp_epoch, processed, source_machine_id)
		VALUES ('sess_a', 'Read', 5, 1, ?, ?, 1, 'machine_a')`, ts.Format(time.RFC3339Nano), ts.Unix())
	require.NoError(t, err)

	sqlText, err := Build(src, "machine_a", 7, true)
	require.NoError(t, err)

	dst := openTestDB(t)
	_, err = Import(dst, sqlText)
	require.NoError(t, err)
	_, err = Import(dst, sqlText)
	require.NoError(t, err)

	var count int
	require.NoError(t, dst.QueryRow(`SELECT COUNT(*) FROM activities`).Scan(&count))
	require.Equal(t, 2, count, "content_hash-less activities insert unconditionally, so replaying duplicates them")
}

func TestImport_EmptyBackupIsNoop(t *testing.T) {
	dst := openTestDB(t)
	stats, err := Import(dst, "-- oakd backup\n-- schema_version: 7\n-- machine_id: machine_a\n")
	require.NoError(t, err)
	require.Equal(t, ImportStats{}, stats)
}
