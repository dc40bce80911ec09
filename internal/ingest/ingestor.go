// Package ingest implements the Activity Ingestor: it turns inbound hook
// events into consistent session/batch/activity rows, tolerating races and
// out-of-order delivery, and keeps the derived counters in sync.
package ingest

import (
	"database/sql"
	"regexp"
	"time"

	"github.com/dotcommander/oakd/internal/identity"
	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/store"
)

// defaultFlushThreshold is the buffer size at which add_activity_buffered
// flushes automatically, absent an explicit force_flush.
const defaultFlushThreshold = 20

// Ingestor is the Activity Ingestor. One instance is shared across all
// inbound hook handlers for a process.
type Ingestor struct {
	db             *sql.DB
	machineID      string
	buffer         *store.ActivityBuffer
	bufferSizes    map[string]int
	flushThreshold int
}

// New constructs an Ingestor bound to db, using machineID to stamp rows
// originating from this process.
func New(db *sql.DB, machineID string) *Ingestor {
	return &Ingestor{
		db:             db,
		machineID:      machineID,
		buffer:         store.NewActivityBuffer(),
		bufferSizes:    make(map[string]int),
		flushThreshold: defaultFlushThreshold,
	}
}

// EnsureSession creates the session row on first call. A newly-created
// session is opportunistically linked to a candidate parent via
// find_linkable_parent; an existing session's parent link is never touched
// here (only set_session_parent mutates it going forward).
func (i *Ingestor) EnsureSession(sessionID, agent, projectRoot string) (*models.Session, bool, error) {
	sess, created, err := store.EnsureSession(i.db, sessionID, agent, projectRoot, i.machineID)
	if err != nil || !created {
		return sess, created, err
	}

	parent, findErr := store.FindLinkableParent(i.db, agent, projectRoot, sessionID, sess.StartedAt)
	if findErr != nil || parent == nil {
		return sess, created, nil
	}
	if err := store.SetSessionParent(i.db, sessionID, parent.ID, models.ParentReasonInferred); err != nil {
		// A rejected link (e.g. CycleError, which cannot actually happen for a
		// brand-new session with no ancestors) must not fail session creation.
		return sess, created, nil
	}
	sess.ParentSessionID = parent.ID
	sess.ParentReason = models.ParentReasonInferred
	return sess, created, nil
}

// SetSessionParent is a thin pass-through so callers driving explicit
// clear/compact/resume links go through the same ingestor entry point.
func (i *Ingestor) SetSessionParent(sessionID, parentID string, reason models.ParentReason) error {
	return store.SetSessionParent(i.db, sessionID, parentID, reason)
}

// continuationPatterns flag agent-emitted "notification" text that should be
// classified as a continuation (system) rather than a fresh user prompt,
// even when the hook event nominally reports source_type=user.
var continuationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*continue\b`),
	regexp.MustCompile(`(?i)^\s*\[compact(ed|ion)?\]`),
	regexp.MustCompile(`(?i)resuming from (a )?previous session`),
}

func looksLikeContinuation(content string) bool {
	for _, p := range continuationPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// CreatePromptBatch opens the next prompt batch for sessionID, ending any
// prior active batch first. A batch nominally classified as source_type=user
// whose content matches an agent continuation pattern (e.g. a compacted-
// session resume message) is reclassified as source_type=system instead, so
// it skips the full LLM extraction pipeline rather than being summarized as
// if a human had typed it.
func (i *Ingestor) CreatePromptBatch(sessionID, userPrompt string, sourceType models.SourceType) (*models.PromptBatch, error) {
	if sourceType == models.SourceTypeUser && looksLikeContinuation(userPrompt) {
		sourceType = models.SourceTypeSystem
	}
	return store.CreatePromptBatch(i.db, sessionID, userPrompt, sourceType)
}

// EndPromptBatch closes out batchID. Idempotent.
func (i *Ingestor) EndPromptBatch(batchID int64) error {
	return store.EndPromptBatch(i.db, batchID)
}

// AddActivity stamps machine id and content hash (if absent) and inserts
// immediately, bypassing the buffer.
func (i *Ingestor) AddActivity(act *models.Activity) (int64, error) {
	i.stamp(act)
	return store.AddActivity(i.db, act)
}

// AddActivityBuffered appends act to the per-session buffer, flushing once
// the buffer reaches flushThreshold or forceFlush is set. flushed reports
// whether a flush occurred; id is always 0, since the buffered path does not
// report the ids assigned by the bulk insert.
func (i *Ingestor) AddActivityBuffered(act *models.Activity, forceFlush bool) (id int64, flushed bool, err error) {
	i.stamp(act)
	i.buffer.Add(act.SessionID, act)
	i.bufferSizes[act.SessionID]++

	if !forceFlush && i.bufferSizes[act.SessionID] < i.flushThreshold {
		return 0, false, nil
	}
	if err := i.FlushActivityBuffer(act.SessionID); err != nil {
		return 0, false, err
	}
	return 0, true, nil
}

// FlushActivityBuffer atomically swaps out and bulk-inserts the buffer for
// sessionID. A no-op if nothing is queued, so calling it twice in a row (or
// defensively on session-end) is always safe.
func (i *Ingestor) FlushActivityBuffer(sessionID string) error {
	delete(i.bufferSizes, sessionID)
	return i.buffer.Flush(i.db, sessionID)
}

func (i *Ingestor) stamp(act *models.Activity) {
	if act.SourceMachineID == "" {
		act.SourceMachineID = i.machineID
	}
	if act.Timestamp.IsZero() {
		act.Timestamp = time.Now().UTC()
	}
	if act.ContentHash == "" {
		act.ContentHash = identity.ContentHash(act.SessionID, act.ToolName, act.FilePath, act.Timestamp.Format(time.RFC3339Nano))
	}
}

// MarkActivitiesProcessed flags ids as processed, optionally linking the
// observation they produced.
func (i *Ingestor) MarkActivitiesProcessed(ids []int64, observationID string) error {
	return store.MarkActivitiesProcessed(i.db, ids, observationID)
}

// MarkPromptBatchProcessed is a no-op if the batch is already marked processed.
func (i *Ingestor) MarkPromptBatchProcessed(batchID int64, classification string) error {
	if classification != "" {
		if err := store.SetBatchClassification(i.db, batchID, classification); err != nil {
			return err
		}
	}
	return store.MarkBatchProcessed(i.db, batchID)
}
