package models

import "time"

// ID Strategy:
// - Session uses an externally-assigned opaque string (the hook caller owns it).
// - PromptBatch, Activity, AgentRun use int64 (auto-increment, append-mostly logs).
// - Observation uses a UUID string (independently generated on each machine,
//   then deduplicated across machines by content_hash).
// - SessionRelationship and ResolutionEvent use int64 (local, never referenced
//   by external callers).
//
// This mirrors the split used for Task/Project (string, distributed creation)
// versus Event/Memory (int64, single-writer sequential log): pick int64 where
// a single local writer owns the sequence, string where identity must be
// stable across machines or assigned by the caller.

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

// Session status constants. Status advances active -> completed or
// active -> abandoned; it never reverses.
const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// IsTerminal returns true once a session can no longer receive activities.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// ParentReason explains how a session's parent link was established.
type ParentReason string

// Parent reason constants.
const (
	ParentReasonClear    ParentReason = "clear"
	ParentReasonCompact  ParentReason = "compact"
	ParentReasonResume   ParentReason = "resume"
	ParentReasonInferred ParentReason = "inferred"
	ParentReasonExplicit ParentReason = "explicit"
)

// Session is a single agent run from launch to exit.
type Session struct {
	ID                        string        `json:"id"`
	AgentName                 string        `json:"agent_name"`
	ProjectRoot               string        `json:"project_root"`
	StartedAt                 time.Time     `json:"started_at"`
	EndedAt                   *time.Time    `json:"ended_at,omitempty"`
	Status                    SessionStatus `json:"status"`
	PromptCount               int           `json:"prompt_count"`
	ToolCount                 int           `json:"tool_count"`
	Processed                 bool          `json:"processed"`
	Summary                   string        `json:"summary,omitempty"`
	Title                     string        `json:"title,omitempty"`
	TitleManuallyEdited       bool          `json:"title_manually_edited"`
	ParentSessionID           string        `json:"parent_session_id,omitempty"`
	ParentReason              ParentReason  `json:"parent_reason,omitempty"`
	SuggestedParentDismissed  bool          `json:"suggested_parent_dismissed"`
	TranscriptPath            string        `json:"transcript_path,omitempty"`
	SourceMachineID           string        `json:"source_machine_id"`
	ContentHash               string        `json:"content_hash,omitempty"`
}

// IsActive returns true if the session can still receive prompt batches.
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// HasParent returns true if this session has been linked to a parent.
func (s *Session) HasParent() bool {
	return s.ParentSessionID != ""
}

// PromptBatchStatus is the lifecycle state of a PromptBatch.
type PromptBatchStatus string

// Prompt batch status constants.
const (
	PromptBatchStatusActive    PromptBatchStatus = "active"
	PromptBatchStatusCompleted PromptBatchStatus = "completed"
)

// SourceType classifies where a PromptBatch's content originated.
type SourceType string

// Source type constants.
const (
	SourceTypeUser             SourceType = "user"
	SourceTypeAgentNotification SourceType = "agent_notification"
	SourceTypePlan             SourceType = "plan"
	SourceTypeSystem           SourceType = "system"
	SourceTypeDerivedPlan      SourceType = "derived_plan"
)

// RequiresExtraction reports whether the batch processor should run the full
// LLM extraction pipeline for this source type.
func (s SourceType) RequiresExtraction() bool {
	return s == SourceTypeUser
}

// PromptBatch is the unit of LLM-extraction work: everything that happens
// between one user prompt and the next.
type PromptBatch struct {
	ID                 int64             `json:"id"`
	SessionID          string            `json:"session_id"`
	PromptNumber       int               `json:"prompt_number"`
	UserPrompt         string            `json:"user_prompt"`
	StartedAt          time.Time         `json:"started_at"`
	EndedAt            *time.Time        `json:"ended_at,omitempty"`
	Status             PromptBatchStatus `json:"status"`
	ActivityCount      int               `json:"activity_count"`
	Processed          bool              `json:"processed"`
	Classification     string            `json:"classification,omitempty"`
	SourceType         SourceType        `json:"source_type"`
	PlanFilePath       string            `json:"plan_file_path,omitempty"`
	PlanContent        string            `json:"plan_content,omitempty"`
	PlanEmbedded       bool              `json:"plan_embedded"`
	SourcePlanBatchID  *int64            `json:"source_plan_batch_id,omitempty"`
	ResponseSummary    string            `json:"response_summary,omitempty"`
}

// IsActive returns true if this batch is still accepting activities.
func (b *PromptBatch) IsActive() bool {
	return b.Status == PromptBatchStatusActive
}

// Activity is one tool invocation recorded against a session and batch.
type Activity struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"session_id"`
	PromptBatchID    *int64    `json:"prompt_batch_id,omitempty"`
	ToolName         string    `json:"tool_name"`
	ToolInput        string    `json:"tool_input,omitempty"`
	ToolOutputSummary string   `json:"tool_output_summary,omitempty"`
	FilePath         string    `json:"file_path,omitempty"`
	FilesAffected    string    `json:"files_affected,omitempty"` // JSON array
	DurationMS       int64     `json:"duration_ms"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Processed        bool      `json:"processed"`
	ObservationID    string    `json:"observation_id,omitempty"`
	SourceMachineID  string    `json:"source_machine_id"`
	ContentHash      string    `json:"content_hash,omitempty"`
}

// IsLinked returns true if this activity has an owning prompt batch.
func (a *Activity) IsLinked() bool {
	return a.PromptBatchID != nil
}

// ObservationStatus is the lifecycle state of an Observation.
type ObservationStatus string

// Observation status constants. Valid transitions: active->resolved,
// active->superseded (requires SupersededBy set).
const (
	ObservationStatusActive     ObservationStatus = "active"
	ObservationStatusResolved   ObservationStatus = "resolved"
	ObservationStatusSuperseded ObservationStatus = "superseded"
)

// Observation (aka Memory) is an extracted durable fact.
type Observation struct {
	ID                  string            `json:"id"`
	SessionID           string            `json:"session_id"`
	PromptBatchID       *int64            `json:"prompt_batch_id,omitempty"`
	ObservationText     string            `json:"observation"`
	MemoryType          string            `json:"memory_type"`
	Context             string            `json:"context,omitempty"`
	Tags                string            `json:"tags,omitempty"` // comma-separated
	Importance          int               `json:"importance"`
	FilePath            string            `json:"file_path,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	Embedded            bool              `json:"embedded"`
	Status              ObservationStatus `json:"status"`
	ResolvedBySessionID string            `json:"resolved_by_session_id,omitempty"`
	ResolvedAt          *time.Time        `json:"resolved_at,omitempty"`
	SupersededBy        string            `json:"superseded_by,omitempty"`
	SessionOriginType   SourceType        `json:"session_origin_type,omitempty"`
	SourceMachineID     string            `json:"source_machine_id"`
	ContentHash         string            `json:"content_hash"`
}

// IsActive returns true if the observation has not been resolved or superseded.
func (o *Observation) IsActive() bool {
	return o.Status == ObservationStatusActive
}

// IsSuperseded returns true if another observation replaced this one.
func (o *Observation) IsSuperseded() bool {
	return o.Status == ObservationStatusSuperseded
}

// ResolutionAction is the lifecycle transition recorded by a ResolutionEvent.
type ResolutionAction string

// Resolution action constants.
const (
	ResolutionActionResolved    ResolutionAction = "resolved"
	ResolutionActionSuperseded  ResolutionAction = "superseded"
	ResolutionActionReactivated ResolutionAction = "reactivated"
)

// ResolutionEvent is a first-class record of an observation lifecycle
// transition, propagated across machines via backup export/import.
type ResolutionEvent struct {
	ID                  int64             `json:"id"`
	ObservationID       string            `json:"observation_id"`
	Action              ResolutionAction  `json:"action"`
	SourceMachineID     string            `json:"source_machine_id"`
	ResolvedBySessionID string            `json:"resolved_by_session_id,omitempty"`
	SupersededBy        string            `json:"superseded_by,omitempty"`
	Applied             bool              `json:"applied"`
	ContentHash         string            `json:"content_hash"`
	CreatedAt           time.Time         `json:"created_at"`
}

// IsLocal returns true if this event originated on machineID.
func (e *ResolutionEvent) IsLocal(machineID string) bool {
	return e.SourceMachineID == machineID
}

// RelationshipCreatedBy records how a SessionRelationship came to exist.
type RelationshipCreatedBy string

// Relationship creation-source constants.
const (
	RelationshipCreatedBySuggestion RelationshipCreatedBy = "suggestion"
	RelationshipCreatedByManual     RelationshipCreatedBy = "manual"
)

// SessionRelationship is a many-to-many semantic link between two sessions.
// SessionAID/SessionBID are stored in canonical (lexicographically sorted)
// order so the unique constraint catches both link directions.
type SessionRelationship struct {
	ID               int64                  `json:"id"`
	SessionAID       string                 `json:"session_a_id"`
	SessionBID       string                 `json:"session_b_id"`
	RelationshipType string                 `json:"relationship_type"`
	SimilarityScore  float64                `json:"similarity_score"`
	CreatedBy        RelationshipCreatedBy  `json:"created_by"`
	CreatedAt        time.Time              `json:"created_at"`
}

// AgentRunStatus is the lifecycle state of an AgentRun.
type AgentRunStatus string

// Agent run status constants.
const (
	AgentRunStatusPending   AgentRunStatus = "pending"
	AgentRunStatusRunning   AgentRunStatus = "running"
	AgentRunStatusCompleted AgentRunStatus = "completed"
	AgentRunStatusFailed    AgentRunStatus = "failed"
	AgentRunStatusCancelled AgentRunStatus = "cancelled"
	AgentRunStatusTimeout   AgentRunStatus = "timeout"
)

// IsTerminal returns true once the run will not transition further.
func (s AgentRunStatus) IsTerminal() bool {
	switch s {
	case AgentRunStatusCompleted, AgentRunStatusFailed, AgentRunStatusCancelled, AgentRunStatusTimeout:
		return true
	default:
		return false
	}
}

// AgentRun is a persisted record of one agent execution.
type AgentRun struct {
	ID                int64          `json:"id"`
	AgentName         string         `json:"agent_name"`
	Task              string         `json:"task"`
	Status            AgentRunStatus `json:"status"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
	CostUSD           float64        `json:"cost_usd"`
	TurnsUsed         int            `json:"turns_used"`
	InputTokens       int64          `json:"input_tokens"`
	OutputTokens      int64          `json:"output_tokens"`
	FilesCreated      int            `json:"files_created"`
	FilesModified     int            `json:"files_modified"`
	FilesDeleted      int            `json:"files_deleted"`
	Warnings          string         `json:"warnings,omitempty"` // JSON array
	ProjectConfig     string         `json:"project_config,omitempty"` // JSON snapshot
	SystemPromptHash  string         `json:"system_prompt_hash,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// IsRunning returns true if the run has started but not reached a terminal state.
func (r *AgentRun) IsRunning() bool {
	return r.Status == AgentRunStatusRunning
}

// AgentSchedule is the cron runtime state for one configured agent instance.
type AgentSchedule struct {
	InstanceName string     `json:"instance_name"`
	CronExpr     string     `json:"cron_expr"`
	Enabled      bool       `json:"enabled"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastRunID    *int64     `json:"last_run_id,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
}

// IsDue reports whether this schedule should fire at now.
func (s *AgentSchedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextRunAt != nil && !s.NextRunAt.After(now)
}
