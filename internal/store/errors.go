package store

import (
	"errors"
	"fmt"

	"github.com/dotcommander/oakd/internal/models"
)

// RecoverableError is an alias for models.RecoverableError, retained for
// backward compatibility with callers that reference store.RecoverableError.
type RecoverableError = models.RecoverableError

// ErrVersionConflict is returned when optimistic concurrency fails.
var ErrVersionConflict = errors.New("version conflict: record was modified by another process")

// ErrCycle is the sentinel matched by CycleError.
var ErrCycle = errors.New("session parent assignment would create a cycle")

// VersionConflictError signals that a row changed between read and write.
type VersionConflictError struct {
	Entity  string
	ID      string
	Version int
}

func (e *VersionConflictError) Error() string {
	return "version conflict: record was modified by another process"
}
func (e *VersionConflictError) ErrorCode() string { return "VERSION_CONFLICT" }
func (e *VersionConflictError) Context() map[string]string {
	return map[string]string{
		"entity":  e.Entity,
		"id":      e.ID,
		"version": fmt.Sprintf("%d", e.Version),
	}
}
func (e *VersionConflictError) SuggestedAction() string {
	return "reload the record and retry the operation with a new request id"
}
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// IdempotencyInProgressError signals that the same (agent, request_id) pair
// is mid-flight in another transaction and has not yet recorded a result.
type IdempotencyInProgressError struct {
	AgentName string
	RequestID string
	Command   string
}

func (e *IdempotencyInProgressError) Error() string { return "idempotency in progress" }
func (e *IdempotencyInProgressError) ErrorCode() string { return "IDEMPOTENCY_IN_PROGRESS" }
func (e *IdempotencyInProgressError) Context() map[string]string {
	return map[string]string{
		"agent_name": e.AgentName,
		"request_id": e.RequestID,
		"command":    e.Command,
	}
}
func (e *IdempotencyInProgressError) SuggestedAction() string {
	return "wait and retry, or use a new request id"
}
func (e *IdempotencyInProgressError) Is(target error) bool {
	return target == ErrIdempotencyInProgress
}

// CycleError signals that assigning a session's parent would create a cycle
// in the ancestor chain. Per spec, this must always surface to the caller and
// is never silently dropped.
type CycleError struct {
	SessionID string
	ParentID  string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("setting parent %q on session %q would create a cycle", e.ParentID, e.SessionID)
}
func (e *CycleError) ErrorCode() string { return "CYCLE_DETECTED" }
func (e *CycleError) Context() map[string]string {
	return map[string]string{
		"session_id": e.SessionID,
		"parent_id":  e.ParentID,
	}
}
func (e *CycleError) SuggestedAction() string {
	return "choose a different parent session or leave the session unlinked"
}
func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// IntegrityError wraps FK/unique constraint failures surfaced from the
// record store. It is recoverable: bulk inserts fall back to per-row
// insertion, and unique conflicts on status transitions are treated as a
// no-op by callers.
type IntegrityError struct {
	Table string
	Cause error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error on %s: %v", e.Table, e.Cause)
}
func (e *IntegrityError) Unwrap() error       { return e.Cause }
func (e *IntegrityError) ErrorCode() string   { return "INTEGRITY_ERROR" }
func (e *IntegrityError) Context() map[string]string {
	return map[string]string{"table": e.Table}
}
func (e *IntegrityError) SuggestedAction() string {
	return "verify referenced rows exist; the offending row was skipped"
}
