package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/dotcommander/oakd/internal/identity"
	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/store"
	"github.com/dotcommander/oakd/internal/vector"
)

// searchRequest is search()'s literal shape from spec §6.2.
type searchRequest struct {
	Query           string `json:"query"`
	SearchType      string `json:"search_type"`
	Limit           int    `json:"limit"`
	IncludeResolved bool   `json:"include_resolved"`
}

type searchResultDTO struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Content   string            `json:"content"`
	Relevance float64           `json:"relevance"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func toSearchResultDTO(r vector.SearchResult, kind string) searchResultDTO {
	return searchResultDTO{ID: r.ID, Kind: kind, Content: r.Content, Relevance: r.Relevance, Metadata: r.Metadata}
}

// activeOnly drops any result whose status metadata isn't "active", unless
// includeResolved is set. chromem-go's where filter is exact-match only, so
// this runs client-side rather than as a third query path per status.
func activeOnly(results []vector.SearchResult, includeResolved bool) []vector.SearchResult {
	if includeResolved {
		return results
	}
	out := make([]vector.SearchResult, 0, len(results))
	for _, r := range results {
		if status, ok := r.Metadata["status"]; !ok || status == "active" {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) handleToolSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	ctx := r.Context()
	var out []searchResultDTO

	switch req.SearchType {
	case "sessions":
		res, err := s.vs.SearchSessionSummaries(ctx, req.Query, req.Limit)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		for _, item := range res {
			out = append(out, toSearchResultDTO(item, "session"))
		}

	case "code":
		res, err := s.vs.SearchCode(ctx, req.Query, req.Limit)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		for _, item := range res {
			out = append(out, toSearchResultDTO(item, "code"))
		}

	case "memory", "plans", "all", "":
		types := memoryTypesFor(req.SearchType)
		res, err := s.vs.SearchMemory(ctx, req.Query, req.Limit, types, nil)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		res = activeOnly(res, req.IncludeResolved)
		for _, item := range res {
			out = append(out, toSearchResultDTO(item, "memory"))
		}
		if req.SearchType == "all" || req.SearchType == "" {
			code, err := s.vs.SearchCode(ctx, req.Query, req.Limit)
			if err != nil {
				writeErr(w, http.StatusInternalServerError, err)
				return
			}
			for _, item := range code {
				out = append(out, toSearchResultDTO(item, "code"))
			}
		}

	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown search_type")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

// memoryTypesFor maps search_type="plans" onto SearchMemory's types filter.
// "memory"/"all"/"" search every memory_type (nil filter).
func memoryTypesFor(searchType string) []string {
	if searchType == "plans" {
		return []string{"plan"}
	}
	return nil
}

type rememberRequest struct {
	Observation string `json:"observation"`
	MemoryType  string `json:"memory_type"`
	Context     string `json:"context,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

type rememberResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleToolRemember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	obs := &models.Observation{
		SessionID:       req.SessionID,
		ObservationText: req.Observation,
		MemoryType:      req.MemoryType,
		Context:         req.Context,
		Importance:      5,
		SourceMachineID: s.config.MachineID,
	}
	obs.ContentHash = identity.ContentHash(obs.SessionID, obs.MemoryType, obs.ObservationText)

	stored, err := store.StoreObservation(s.db, obs)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.vs.AddMemory(r.Context(), stored); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, rememberResponse{ID: stored.ID})
}

type contextRequest struct {
	Task         string   `json:"task"`
	CurrentFiles []string `json:"current_files,omitempty"`
	MaxTokens    int      `json:"max_tokens"`
}

func (s *Server) handleToolContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 2000
	}

	result, err := s.retrieval.GetTaskContext(r.Context(), req.Task, req.CurrentFiles, req.MaxTokens)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type resolveMemoryRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleToolResolveMemory(w http.ResponseWriter, r *http.Request) {
	var req resolveMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	var event *models.ResolutionEvent
	var err error
	switch req.Status {
	case "resolved":
		event, err = store.ResolveObservation(s.db, req.ID, "", s.config.MachineID)
	case "superseded":
		event, err = store.SupersedeObservation(s.db, req.ID, "", s.config.MachineID)
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "status must be resolved or superseded")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	if obs, getErr := store.GetObservation(s.db, req.ID); getErr == nil {
		if reindexErr := s.vs.AddMemory(r.Context(), obs); reindexErr != nil {
			writeErr(w, http.StatusInternalServerError, reindexErr)
			return
		}
	}

	writeJSON(w, http.StatusOK, event)
}

type sessionsRequest struct {
	Limit          int  `json:"limit"`
	IncludeSummary bool `json:"include_summary"`
}

type sessionDTO struct {
	ID          string `json:"id"`
	AgentName   string `json:"agent_name"`
	ProjectRoot string `json:"project_root"`
	StartedAt   string `json:"started_at"`
	Status      string `json:"status"`
	Title       string `json:"title,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

func (s *Server) handleToolSessions(w http.ResponseWriter, r *http.Request) {
	var req sessionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	sessions, err := store.RecentSessions(s.db, req.Limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]sessionDTO, 0, len(sessions))
	for _, sess := range sessions {
		dto := sessionDTO{
			ID:          sess.ID,
			AgentName:   sess.AgentName,
			ProjectRoot: sess.ProjectRoot,
			StartedAt:   sess.StartedAt.Format(time.RFC3339),
			Status:      string(sess.Status),
			Title:       sess.Title,
		}
		if req.IncludeSummary {
			dto.Summary = sess.Summary
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

type memoriesRequest struct {
	MemoryType      string `json:"memory_type,omitempty"`
	Limit           int    `json:"limit"`
	Status          string `json:"status,omitempty"`
	IncludeResolved bool   `json:"include_resolved"`
}

func (s *Server) handleToolMemories(w http.ResponseWriter, r *http.Request) {
	var req memoriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}

	filter := vector.ListFilter{Status: req.Status}
	if req.MemoryType != "" {
		filter.Types = []string{req.MemoryType}
	}
	if !req.IncludeResolved && req.Status == "" {
		active := false
		filter.Archived = &active
	}

	results := s.vs.List(filter)
	if !req.IncludeResolved {
		kept := make([]vector.SearchResult, 0, len(results))
		for _, res := range results {
			if status, ok := res.Metadata["status"]; !ok || status == "active" {
				kept = append(kept, res)
			}
		}
		results = kept
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Metadata["created_at_epoch"] > results[j].Metadata["created_at_epoch"]
	})
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	out := make([]searchResultDTO, 0, len(results))
	for _, res := range results {
		out = append(out, toSearchResultDTO(res, "memory"))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": out})
}

type statsResponse struct {
	CodeChunks         int            `json:"code_chunks"`
	MemoryObservations int            `json:"memory_observations"`
	SessionSummaries   int            `json:"session_summaries"`
	ByMemoryType       map[string]int `json:"by_memory_type"`
}

func (s *Server) handleToolStats(w http.ResponseWriter, r *http.Request) {
	vsStats := s.vs.GetStats()
	resp := statsResponse{
		CodeChunks:         vsStats.CodeCount,
		MemoryObservations: vsStats.MemoryCount,
		SessionSummaries:   vsStats.SessionSummariesCount,
		ByMemoryType:       s.vs.CountsByType(),
	}
	writeJSON(w, http.StatusOK, resp)
}

type activityRequest struct {
	SessionID string `json:"session_id"`
	ToolName  string `json:"tool_name,omitempty"`
	Limit     int    `json:"limit"`
}

func (s *Server) handleToolActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "session_id is required")
		return
	}

	acts, err := store.ActivityForSession(s.db, req.SessionID, req.ToolName, req.Limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"activities": acts})
}

type archiveMemoriesRequest struct {
	IDs           []string `json:"ids,omitempty"`
	StatusFilter  string   `json:"status_filter,omitempty"`
	OlderThanDays int      `json:"older_than_days,omitempty"`
	DryRun        bool     `json:"dry_run,omitempty"`
}

type archiveMemoriesResponse struct {
	IDs    []string `json:"ids"`
	Count  int      `json:"count"`
	DryRun bool     `json:"dry_run"`
}

func (s *Server) handleToolArchiveMemories(w http.ResponseWriter, r *http.Request) {
	var req archiveMemoriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	ids := req.IDs
	if len(ids) == 0 {
		ids = s.candidateArchiveIDs(req.StatusFilter, req.OlderThanDays)
	}

	if req.DryRun || len(ids) == 0 {
		writeJSON(w, http.StatusOK, archiveMemoriesResponse{IDs: ids, Count: len(ids), DryRun: req.DryRun})
		return
	}

	obs := make([]*models.Observation, 0, len(ids))
	for _, id := range ids {
		o, err := store.GetObservation(s.db, id)
		if err != nil {
			continue
		}
		obs = append(obs, o)
	}
	if err := s.vs.BulkArchiveMemory(r.Context(), obs, true); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, archiveMemoriesResponse{IDs: ids, Count: len(obs), DryRun: false})
}

// candidateArchiveIDs selects memories eligible for archival when the
// caller didn't name explicit ids: an optional status filter plus an
// optional age cutoff, both applied client-side over List's mirror scan
// the same way handleToolMemories filters its own List call.
func (s *Server) candidateArchiveIDs(statusFilter string, olderThanDays int) []string {
	filter := vector.ListFilter{Status: statusFilter}
	if olderThanDays > 0 {
		filter.ToEpoch = time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour).Unix()
	}
	results := s.vs.List(filter)
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids
}
