package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
)

func TestStartAgentRun_SuppressesOverlap(t *testing.T) {
	db := openTestDB(t)
	r1, err := CreateAgentRun(db, "retro-agent", "nightly retro")
	require.NoError(t, err)
	require.NoError(t, StartAgentRun(db, r1.ID))

	r2, err := CreateAgentRun(db, "retro-agent", "nightly retro")
	require.NoError(t, err)
	err = StartAgentRun(db, r2.ID)
	require.Error(t, err, "a second concurrent run for the same agent must be refused")
}

func TestCompleteAgentRun_RecordsMetrics(t *testing.T) {
	db := openTestDB(t)
	r, err := CreateAgentRun(db, "retro-agent", "nightly retro")
	require.NoError(t, err)
	require.NoError(t, StartAgentRun(db, r.ID))

	require.NoError(t, CompleteAgentRun(db, r.ID, models.AgentRunStatusCompleted, AgentRunResult{
		CostUSD: 0.42, TurnsUsed: 3, InputTokens: 1000, OutputTokens: 200,
	}))

	got, err := GetAgentRun(db, r.ID)
	require.NoError(t, err)
	require.True(t, got.Status.IsTerminal())
	require.InDelta(t, 0.42, got.CostUSD, 0.0001)
	require.Equal(t, 3, got.TurnsUsed)
}

func TestRecoverStaleRuns_MarksOldRunningAsFailed(t *testing.T) {
	db := openTestDB(t)
	r, err := CreateAgentRun(db, "retro-agent", "nightly retro")
	require.NoError(t, err)
	require.NoError(t, StartAgentRun(db, r.ID))

	// Force the started_at_epoch far enough in the past to look stale.
	_, err = db.Exec(`UPDATE agent_runs SET started_at_epoch = started_at_epoch - 100000 WHERE id = ?`, r.ID)
	require.NoError(t, err)

	recovered, err := RecoverStaleRuns(db, 5*time.Minute, 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	got, err := GetAgentRun(db, r.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentRunStatusFailed, got.Status)
}
