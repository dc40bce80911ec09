package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
)

func TestCreatePromptBatch_EndsPriorActive(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_1", "claude", "/proj", "machine_a")
	require.NoError(t, err)

	b1, err := CreatePromptBatch(db, "sess_1", "first prompt", models.SourceTypeUser)
	require.NoError(t, err)
	require.Equal(t, 1, b1.PromptNumber)

	b2, err := CreatePromptBatch(db, "sess_1", "second prompt", models.SourceTypeUser)
	require.NoError(t, err)
	require.Equal(t, 2, b2.PromptNumber)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM prompt_batches WHERE id = ?`, b1.ID).Scan(&status))
	require.Equal(t, "completed", status)

	active, err := GetActiveBatch(db, "sess_1")
	require.NoError(t, err)
	require.Equal(t, b2.ID, active.ID)

	var promptCount int
	require.NoError(t, db.QueryRow(`SELECT prompt_count FROM sessions WHERE id = 'sess_1'`).Scan(&promptCount))
	require.Equal(t, 2, promptCount)
}

func TestEndPromptBatch_NoopWhenAlreadyTerminal(t *testing.T) {
	db := openTestDB(t)
	_, _, err := EnsureSession(db, "sess_1", "claude", "/proj", "machine_a")
	require.NoError(t, err)
	b, err := CreatePromptBatch(db, "sess_1", "prompt", models.SourceTypeUser)
	require.NoError(t, err)

	require.NoError(t, EndPromptBatch(db, b.ID))
	require.NoError(t, EndPromptBatch(db, b.ID))

	_, err = GetActiveBatch(db, "sess_1")
	require.ErrorIs(t, err, sql.ErrNoRows)
}
