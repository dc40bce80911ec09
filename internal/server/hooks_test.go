package server

import (
	"database/sql"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/store"
)

func TestHandleSessionStart_CreatesSessionAndReportsIndexStats(t *testing.T) {
	s, db := newTestServer(t)

	rec := postJSON(t, s, "/hooks/session-start", sessionStartRequest{
		SessionID: "sess_a",
		Agent:     "claude",
		Source:    "startup",
		CWD:       "/proj",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionStartResponse
	decodeData(t, rec, &resp)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "sess_a", resp.SessionID)
	require.Equal(t, "/proj", resp.Context.ProjectRoot)
	require.Equal(t, "ready", resp.Context.Index.Status)

	sess, err := store.GetSession(db, "sess_a")
	require.NoError(t, err)
	require.Equal(t, "/proj", sess.ProjectRoot)
}

func TestHandleSessionStart_DedupesRepeatedCall(t *testing.T) {
	s, _ := newTestServer(t)

	req := sessionStartRequest{SessionID: "sess_a", Agent: "claude", Source: "startup"}
	first := postJSON(t, s, "/hooks/session-start", req)
	require.Equal(t, http.StatusOK, first.Code)

	second := postJSON(t, s, "/hooks/session-start", req)
	require.Equal(t, http.StatusOK, second.Code)

	var resp sessionStartResponse
	decodeData(t, second, &resp)
	require.Equal(t, "duplicate", resp.Status)
}

func TestHandleSessionStart_CompactGetsLightweightContext(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postJSON(t, s, "/hooks/session-start", sessionStartRequest{
		SessionID: "sess_a",
		Agent:     "claude",
		Source:    "compact",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionStartResponse
	decodeData(t, rec, &resp)
	require.Contains(t, resp.Context.InjectedContext, "compaction")
}

func TestHandleSessionStart_ExplicitParentOverridesSourceMapping(t *testing.T) {
	s, db := newTestServer(t)

	startSession(t, s, "sess_parent", "claude", "startup")
	require.NoError(t, store.EndSession(db, "sess_parent", models.SessionStatusCompleted))

	rec := postJSON(t, s, "/hooks/session-start", sessionStartRequest{
		SessionID:       "sess_child",
		Agent:           "claude",
		Source:          "startup",
		ParentSessionID: "sess_parent",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := store.GetSession(db, "sess_child")
	require.NoError(t, err)
	require.Equal(t, "sess_parent", sess.ParentSessionID)
	require.Equal(t, models.ParentReasonExplicit, sess.ParentReason)
}

func startSession(t *testing.T, s *Server, sessionID, agent, source string) sessionStartResponse {
	t.Helper()
	rec := postJSON(t, s, "/hooks/session-start", sessionStartRequest{SessionID: sessionID, Agent: agent, Source: source})
	var resp sessionStartResponse
	decodeData(t, rec, &resp)
	return resp
}

func TestHandlePromptSubmit_EndsPreviousActiveBatch(t *testing.T) {
	s, db := newTestServer(t)
	startSession(t, s, "sess_a", "claude", "startup")

	first := postJSON(t, s, "/hooks/prompt-submit", promptSubmitRequest{SessionID: "sess_a", Prompt: "do the thing"})
	require.Equal(t, http.StatusOK, first.Code)
	var firstResp promptSubmitResponse
	decodeData(t, first, &firstResp)

	second := postJSON(t, s, "/hooks/prompt-submit", promptSubmitRequest{SessionID: "sess_a", Prompt: "do another thing"})
	require.Equal(t, http.StatusOK, second.Code)
	var secondResp promptSubmitResponse
	decodeData(t, second, &secondResp)
	require.NotEqual(t, firstResp.PromptBatchID, secondResp.PromptBatchID)

	firstBatch, err := store.GetPromptBatch(db, firstResp.PromptBatchID)
	require.NoError(t, err)
	require.False(t, firstBatch.IsActive(), "starting a new batch must end the previous active one")
}

func TestHandlePostToolUse_OnlyLinksSuccessfulCallsToActiveBatch(t *testing.T) {
	s, db := newTestServer(t)
	startSession(t, s, "sess_a", "claude", "startup")

	submit := postJSON(t, s, "/hooks/prompt-submit", promptSubmitRequest{SessionID: "sess_a", Prompt: "do it"})
	var batchResp promptSubmitResponse
	decodeData(t, submit, &batchResp)

	okRec := postJSON(t, s, "/hooks/post-tool-use", postToolUseRequest{
		SessionID: "sess_a", ToolName: "edit", Success: true,
	})
	require.Equal(t, http.StatusOK, okRec.Code)

	failRec := postJSON(t, s, "/hooks/post-tool-use", postToolUseRequest{
		SessionID: "sess_a", ToolName: "edit", Success: false, ErrorMessage: "boom",
	})
	require.Equal(t, http.StatusOK, failRec.Code)

	require.NoError(t, s.ingestor.FlushActivityBuffer("sess_a"))

	acts, err := store.ActivityForSession(db, "sess_a", "", 10)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	for _, a := range acts {
		if a.Success {
			require.NotNil(t, a.PromptBatchID)
			require.Equal(t, batchResp.PromptBatchID, *a.PromptBatchID)
		} else {
			require.Nil(t, a.PromptBatchID, "a failed tool call must not be linked to the active batch")
		}
	}
}

func TestHandleSessionEnd_FlushesAndEndsBatchAndSession(t *testing.T) {
	s, db := newTestServer(t)
	startSession(t, s, "sess_a", "claude", "startup")
	postJSON(t, s, "/hooks/prompt-submit", promptSubmitRequest{SessionID: "sess_a", Prompt: "do it"})
	postJSON(t, s, "/hooks/post-tool-use", postToolUseRequest{SessionID: "sess_a", ToolName: "edit", Success: true})

	rec := postJSON(t, s, "/hooks/session-end", sessionEndRequest{SessionID: "sess_a", Agent: "claude"})
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := store.GetSession(db, "sess_a")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCompleted, sess.Status)

	_, err = store.GetActiveBatch(db, "sess_a")
	require.ErrorIs(t, err, sql.ErrNoRows)
}
