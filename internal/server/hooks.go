package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/identity"
	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/store"
	"github.com/dotcommander/oakd/pkg/memory"
)

// hookDedupScope is the pkg/memory.Store scope every session-start dedup
// entry is stored under; scopeID carries the actual (session_id, agent,
// source) composite key.
const hookDedupScope = "hook-session-start"

// hookDedupTTL bounds how long a session-start dedup entry is remembered.
// The spec only asks for "a bounded cache", not a duration; this follows
// pkg/memory's own WithTTL option rather than relying on LRU eviction alone,
// so a long-idle session doesn't occupy a slot indefinitely.
const hookDedupTTL = 10 * time.Minute

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return fmt.Errorf("empty body")
	}
	return json.Unmarshal(body, v)
}

// sessionStartRequest is the literal shape from spec §6.1, plus cwd: the
// hook surface's own "at least the following fields (others ignored)"
// qualifier leaves room for it, and EnsureSession/FindLinkableParent both
// need a project root the literal field list never supplies one for.
type sessionStartRequest struct {
	SessionID       string `json:"session_id"`
	Agent           string `json:"agent"`
	Source          string `json:"source"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
	CWD             string `json:"cwd,omitempty"`
}

type sessionIndexStatus struct {
	CodeChunks         int    `json:"code_chunks"`
	MemoryObservations int    `json:"memory_observations"`
	Status             string `json:"status"`
}

type sessionStartContext struct {
	InjectedContext string             `json:"injected_context,omitempty"`
	ProjectRoot     string             `json:"project_root,omitempty"`
	Index           sessionIndexStatus `json:"index"`
}

type sessionStartResponse struct {
	Status    string              `json:"status"`
	SessionID string              `json:"session_id"`
	Context   sessionStartContext `json:"context"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	resp, status, err := s.sessionStart(req)
	if err != nil {
		writeErr(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// sessionStart holds the session-start hook's logic independent of how the
// request arrived -- the plain HTTP handler above and handleOTLPLogs's
// *.conversation_starts branch both call this.
func (s *Server) sessionStart(req sessionStartRequest) (sessionStartResponse, int, error) {
	if req.SessionID == "" || req.Agent == "" {
		return sessionStartResponse{}, http.StatusBadRequest, fmt.Errorf("session_id and agent are required")
	}

	dedupKey := req.SessionID + "\x00" + req.Agent + "\x00" + req.Source
	if _, ok := s.hookDedup.Get(hookDedupScope, dedupKey, "seen"); ok {
		return sessionStartResponse{Status: "duplicate", SessionID: req.SessionID}, http.StatusOK, nil
	}

	cwd := req.CWD
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	sess, created, err := s.ingestor.EnsureSession(req.SessionID, req.Agent, cwd)
	if err != nil {
		return sessionStartResponse{}, http.StatusInternalServerError, err
	}

	if err := s.linkParent(sess, req, cwd, created); err != nil {
		return sessionStartResponse{}, http.StatusConflict, err
	}

	resp := sessionStartResponse{
		Status:    "ok",
		SessionID: sess.ID,
		Context: sessionStartContext{
			ProjectRoot: cwd,
			Index:       s.currentIndexStatus(),
		},
	}
	if req.Source == "compact" {
		// Compact restarts skip a full context rebuild -- the agent already
		// has its working state, it just lost the reminder of which project
		// it's in. Mirrors the vybe hook's own compact special case: a short
		// note, not the full resume payload resume/clear get.
		resp.Context.InjectedContext = "Session resumed after context compaction."
	} else if sess.HasParent() {
		resp.Context.InjectedContext = fmt.Sprintf("Linked to prior session %s.", sess.ParentSessionID)
	}

	s.hookDedup.Set(hookDedupScope, dedupKey, "seen", memory.WithTTL(hookDedupTTL))
	return resp, http.StatusOK, nil
}

// linkParent upgrades the parent link EnsureSession may already have made
// (reason "inferred", on a newly-created session for which
// FindLinkableParent found a candidate) to a more
// specific models.ParentReason once the hook's own source field says more
// than the Ingestor's generic heuristic could. An explicit parent_session_id
// in the request always wins outright, regardless of source.
func (s *Server) linkParent(sess *models.Session, req sessionStartRequest, projectRoot string, created bool) error {
	if !created {
		return nil
	}
	if req.ParentSessionID != "" {
		if err := s.ingestor.SetSessionParent(sess.ID, req.ParentSessionID, models.ParentReasonExplicit); err != nil {
			return err
		}
		sess.ParentSessionID = req.ParentSessionID
		sess.ParentReason = models.ParentReasonExplicit
		return nil
	}

	var reason models.ParentReason
	switch req.Source {
	case "resume":
		reason = models.ParentReasonResume
	case "clear":
		reason = models.ParentReasonClear
	case "compact":
		reason = models.ParentReasonCompact
	default:
		// "startup" (or anything unrecognized) leaves EnsureSession's own
		// inferred link, if any, alone.
		return nil
	}

	parent, err := store.FindLinkableParent(s.db, req.Agent, projectRoot, sess.ID, sess.StartedAt)
	if err != nil || parent == nil {
		return nil
	}
	if err := s.ingestor.SetSessionParent(sess.ID, parent.ID, reason); err != nil {
		return err
	}
	sess.ParentSessionID = parent.ID
	sess.ParentReason = reason
	return nil
}

func (s *Server) currentIndexStatus() sessionIndexStatus {
	stats := s.vs.GetStats()
	return sessionIndexStatus{
		CodeChunks:         stats.CodeCount,
		MemoryObservations: stats.MemoryCount,
		Status:             "ready",
	}
}

type sessionEndRequest struct {
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req sessionEndRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.sessionEnd(req); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session_id": req.SessionID})
}

// sessionEnd holds the session-end hook's logic independent of how the
// request arrived.
func (s *Server) sessionEnd(req sessionEndRequest) error {
	if req.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	if err := s.ingestor.FlushActivityBuffer(req.SessionID); err != nil {
		return err
	}

	if batch, err := store.GetActiveBatch(s.db, req.SessionID); err == nil {
		// Ending the batch here is enough to make it eligible for
		// store.UnprocessedBatches; the scheduler's background loop drains
		// it into the batch processor -- that is the "async extraction"
		// the spec describes, already running independently of this request.
		if err := s.ingestor.EndPromptBatch(batch.ID); err != nil {
			return err
		}
	}

	if err := store.EndSession(s.db, req.SessionID, models.SessionStatusCompleted); err != nil {
		return err
	}

	// Session-end is this session's one chance to prune its own resolved
	// observations -- unlike PruneOldActivities (global, scheduler-driven),
	// this is per-session housekeeping that only makes sense once the
	// session is no longer active.
	m := app.EffectiveEventMaintenanceSettings()
	if _, err := store.PruneResolvedObservations(
		s.db, req.SessionID, m.RetentionDays, m.SummarizeThreshold, m.SummarizeKeepRecent, m.PruneBatch,
	); err != nil {
		return err
	}

	// Summary/title generation is likewise asynchronous: nothing in the
	// scheduler currently drains ended, summary-less sessions the way it
	// drains unprocessed batches, so this request only records that the
	// session reached a terminal state. See DESIGN.md.
	return nil
}

type promptSubmitRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
	Agent     string `json:"agent"`
}

type promptSubmitResponse struct {
	PromptBatchID int64 `json:"prompt_batch_id"`
}

func (s *Server) handlePromptSubmit(w http.ResponseWriter, r *http.Request) {
	var req promptSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	resp, err := s.promptSubmit(req)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// promptSubmit holds the prompt-submit hook's logic independent of how the
// request arrived.
func (s *Server) promptSubmit(req promptSubmitRequest) (promptSubmitResponse, error) {
	if req.SessionID == "" {
		return promptSubmitResponse{}, fmt.Errorf("session_id is required")
	}
	batch, err := s.ingestor.CreatePromptBatch(req.SessionID, req.Prompt, models.SourceTypeUser)
	if err != nil {
		return promptSubmitResponse{}, err
	}
	return promptSubmitResponse{PromptBatchID: batch.ID}, nil
}

type postToolUseRequest struct {
	SessionID         string `json:"session_id"`
	ToolName          string `json:"tool_name"`
	ToolInput         string `json:"tool_input,omitempty"`
	ToolOutputSummary string `json:"tool_output_summary,omitempty"`
	FilePath          string `json:"file_path,omitempty"`
	FilesAffected     string `json:"files_affected,omitempty"`
	Success           bool   `json:"success"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

func (s *Server) handlePostToolUse(w http.ResponseWriter, r *http.Request) {
	var req postToolUseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.postToolUse(req); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// postToolUse holds the post-tool-use hook's logic independent of how the
// request arrived.
func (s *Server) postToolUse(req postToolUseRequest) error {
	if req.SessionID == "" || req.ToolName == "" {
		return fmt.Errorf("session_id and tool_name are required")
	}

	act := &models.Activity{
		SessionID:         req.SessionID,
		ToolName:          req.ToolName,
		ToolInput:         req.ToolInput,
		ToolOutputSummary: req.ToolOutputSummary,
		FilePath:          req.FilePath,
		FilesAffected:     req.FilesAffected,
		Success:           req.Success,
		ErrorMessage:      req.ErrorMessage,
		SourceMachineID:   s.config.MachineID,
	}
	act.ContentHash = identity.ContentHash(act.SessionID, act.ToolName, act.FilePath, req.ToolOutputSummary)

	// Only a successful tool call is linked to the active batch -- per spec
	// §6.1, a failed call is still recorded (for the activity history) but
	// shouldn't feed the batch's activity_count or the extraction pipeline.
	if req.Success {
		if batch, err := store.GetActiveBatch(s.db, req.SessionID); err == nil {
			act.PromptBatchID = &batch.ID
		}
	}

	_, _, err := s.ingestor.AddActivityBuffered(act, false)
	return err
}
