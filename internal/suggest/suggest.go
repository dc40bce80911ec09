// Package suggest implements the Suggestion Engine: proposing a likely
// parent session for a session that doesn't have one yet, by blending
// vector similarity between session summaries with an optional LLM
// judgment and a small time-proximity bonus.
package suggest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/processor"
	"github.com/dotcommander/oakd/internal/store"
	"github.com/dotcommander/oakd/internal/vector"
)

// Tunables named after the spec's SUGGESTION_MAX_CANDIDATES /
// SUGGESTION_MAX_AGE_DAYS / HIGH / MEDIUM / LOW_THRESHOLD constants. Their
// numeric values aren't pinned by the spec text itself (only the worked
// example in the testable-properties section is), so these are Open
// Question decisions recorded in DESIGN.md.
const (
	maxCandidates           = 10
	maxAgeDays              = 30
	weightVector            = 0.6
	weightLLM               = 0.4
	highThreshold           = 0.8
	mediumThresh            = 0.5
	lowThreshold            = 0.3
	relationshipParentChild = "parent_child"
)

// Confidence buckets a suggestion's final score for display.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Suggestion is the return shape of compute_suggested_parent.
type Suggestion struct {
	SessionID       string
	Title           string
	Confidence      Confidence
	ConfidenceScore float64
	Reason          string
}

// Engine computes suggested parents. backend is optional: a nil backend
// means vector similarity alone drives the score, per spec step 6.
type Engine struct {
	db      *sql.DB
	vs      *vector.Store
	backend processor.Backend
}

// New constructs an Engine. backend may be nil.
func New(db *sql.DB, vs *vector.Store, backend processor.Backend) *Engine {
	return &Engine{db: db, vs: vs, backend: backend}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func confidenceFor(score float64) Confidence {
	switch {
	case score >= highThreshold:
		return ConfidenceHigh
	case score >= mediumThresh:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%d%%", int(v*100+0.5))
}

func formatTimeGap(seconds float64) string {
	if seconds < 0 {
		seconds = -seconds
	}
	if seconds <= 3600 {
		return fmt.Sprintf("%dm", int(seconds/60+0.5))
	}
	return fmt.Sprintf("%.1fh", seconds/3600)
}

// timeProximityBonus implements spec step 6's "+0.05 within 1h, +0.02
// within 6h" example bonuses.
func timeProximityBonus(gapSeconds float64) float64 {
	if gapSeconds < 0 {
		gapSeconds = -gapSeconds
	}
	switch {
	case gapSeconds <= 3600:
		return 0.05
	case gapSeconds <= 6*3600:
		return 0.02
	default:
		return 0
	}
}

// ComputeSuggestedParent runs the full 8-step procedure from spec §4.6.
// It returns (nil, nil) whenever there is simply nothing to suggest --
// already parented, dismissed, no summary yet, or best score below
// lowThreshold -- reserving a non-nil error for actual failures.
func (e *Engine) ComputeSuggestedParent(ctx context.Context, sessionID string) (*Suggestion, error) {
	session, err := store.GetSession(e.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HasParent() || session.SuggestedParentDismissed {
		return nil, nil
	}

	summary, err := store.LatestSessionSummaryObservation(e.db, sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	queryText := session.Title + "\n\n" + summary.ObservationText
	candidates, err := e.vs.FindSimilarSessions(ctx, queryText, session.ProjectRoot, sessionID, maxCandidates, maxAgeDays)
	if err != nil {
		return nil, err
	}

	var best *scoredCandidate
	for _, c := range candidates {
		candidateSession, err := store.GetSession(e.db, c.SessionID)
		if err != nil {
			continue // stale vector-store entry with no RS row; skip rather than fail the whole call
		}
		// "skip if already linked back to self": a candidate whose own
		// parent is this session would create a cycle if linked the other
		// way, and a candidate already explicitly related to self has
		// already been surfaced.
		if candidateSession.ParentSessionID == sessionID {
			continue
		}
		if linked, err := store.IsAlreadyLinked(e.db, sessionID, c.SessionID, relationshipParentChild); err == nil && linked {
			continue
		}

		candidateSummary, err := store.LatestSessionSummaryObservation(e.db, c.SessionID)
		if err != nil {
			continue
		}

		gap := timeGapSeconds(session, candidateSession)
		llmSim, usedLLM := e.llmSimilarity(ctx, summary.ObservationText, candidateSummary.ObservationText)

		score := c.Similarity
		if usedLLM {
			score = weightVector*c.Similarity + weightLLM*llmSim
		}
		score = clampUnit(score + timeProximityBonus(gap))

		cand := &scoredCandidate{
			session:    candidateSession,
			vectorSim:  c.Similarity,
			llmSim:     llmSim,
			usedLLM:    usedLLM,
			timeGapSec: gap,
			score:      score,
		}
		if best == nil || cand.score > best.score {
			best = cand
		}
	}

	if best == nil || best.score < lowThreshold {
		return nil, nil
	}

	return &Suggestion{
		SessionID:       best.session.ID,
		Title:           best.session.Title,
		Confidence:      confidenceFor(best.score),
		ConfidenceScore: best.score,
		Reason:          best.reason(),
	}, nil
}

type scoredCandidate struct {
	session    *models.Session
	vectorSim  float64
	llmSim     float64
	usedLLM    bool
	timeGapSec float64
	score      float64
}

func (c *scoredCandidate) reason() string {
	reason := fmt.Sprintf("Vector similarity: %s", formatPercent(c.vectorSim))
	if c.usedLLM {
		reason += fmt.Sprintf(" | LLM score: %s", formatPercent(c.llmSim))
	}
	reason += fmt.Sprintf(" | Time gap: %s", formatTimeGap(c.timeGapSec))
	return reason
}

// timeGapSeconds prefers (session.started_at - candidate.ended_at),
// falling back to the two sessions' started_at when the candidate has no
// ended_at yet, per spec step 4.
func timeGapSeconds(session, candidate *models.Session) float64 {
	if candidate.EndedAt != nil {
		return session.StartedAt.Sub(*candidate.EndedAt).Seconds()
	}
	return session.StartedAt.Sub(candidate.StartedAt).Seconds()
}

// DismissSuggestion and ResetSuggestionDismissal pass straight through to
// the store's idempotent boolean-column mutations.
func (e *Engine) DismissSuggestion(sessionID string) error {
	return store.DismissSuggestion(e.db, sessionID)
}

func (e *Engine) ResetSuggestionDismissal(sessionID string) error {
	return store.ResetSuggestionDismissal(e.db, sessionID)
}
