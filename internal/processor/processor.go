package processor

import (
	"context"
	"database/sql"
	"log"

	"github.com/dotcommander/oakd/internal/identity"
	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/store"
	"github.com/dotcommander/oakd/internal/vector"
)

// hardObservationCap bounds how many observations a single batch can ever
// produce, independent of the configured MaxObservationsPerBatch -- a
// last-ditch guard against a runaway or adversarial model response.
const hardObservationCap = 100

// Processor turns completed prompt batches into observations. One instance
// is shared by the scheduler's background loop and any on-demand "process
// this batch now" hook handler.
type Processor struct {
	db        *sql.DB
	vs        *vector.Store
	backend   Backend
	machineID string
	budget    extractionBudget
	maxObs    int
}

// Config bounds the extraction pipeline's prompt assembly and output.
type Config struct {
	MaxActivities           int
	MaxUserPromptChars      int
	MaxContextChars         int
	MinOutputTokens         int
	ContextTokens           int
	MaxObservationsPerBatch int
}

// New constructs a Processor. backend may be nil, in which case every user
// batch degrades to the default classification and produces zero
// observations (useful for daemons running with no LLM configured at all --
// ingestion still works, just without extraction).
func New(db *sql.DB, vs *vector.Store, backend Backend, machineID string, cfg Config) *Processor {
	maxObs := cfg.MaxObservationsPerBatch
	if maxObs <= 0 || maxObs > hardObservationCap {
		maxObs = hardObservationCap
	}
	return &Processor{
		db:        db,
		vs:        vs,
		backend:   backend,
		machineID: machineID,
		maxObs:    maxObs,
		budget: extractionBudget{
			MaxActivities:      cfg.MaxActivities,
			MaxUserPromptChars: cfg.MaxUserPromptChars,
			MaxContextChars:    cfg.MaxContextChars,
			MinOutputTokens:    cfg.MinOutputTokens,
			ContextTokens:      cfg.ContextTokens,
		},
	}
}

// ProcessBatch dispatches on batch.source_type and runs the full extraction
// pipeline for "user" batches. A single batch's failure is isolated: it
// marks the batch processed so the background loop doesn't retry it forever,
// matching the "not retried automatically" failure semantics -- the operator
// can trigger regeneration explicitly.
func (p *Processor) ProcessBatch(ctx context.Context, batchID int64) error {
	batch, err := store.GetPromptBatch(p.db, batchID)
	if err != nil {
		return err
	}

	switch batch.SourceType {
	case models.SourceTypeAgentNotification:
		return p.markProcessed(batchID, "agent_work")
	case models.SourceTypeSystem:
		return p.markProcessed(batchID, "system")
	case models.SourceTypePlan:
		return p.markProcessed(batchID, "plan")
	case models.SourceTypeDerivedPlan:
		return p.markProcessed(batchID, "derived_plan")
	case models.SourceTypeUser:
		return p.processUserBatch(ctx, batch)
	default:
		return p.markProcessed(batchID, "")
	}
}

func (p *Processor) markProcessed(batchID int64, classification string) error {
	if classification != "" {
		if err := store.SetBatchClassification(p.db, batchID, classification); err != nil {
			return err
		}
	}
	return store.MarkBatchProcessed(p.db, batchID)
}

// processUserBatch runs the full extraction pipeline (spec steps 1-8) for a
// single completed user batch.
func (p *Processor) processUserBatch(ctx context.Context, batch *models.PromptBatch) error {
	activities, err := store.UnprocessedActivitiesForBatch(p.db, batch.ID)
	if err != nil {
		return err
	}

	// Step 1: optional plan synthesis.
	planContent := batch.PlanContent
	if planContent == "" && batch.PlanFilePath == "" && hasTaskCreationActivity(activities) && p.backend != nil {
		if synthesized, synthErr := synthesizePlan(ctx, p.backend, activities); synthErr == nil && synthesized != "" {
			planContent = synthesized
			if err := store.SetBatchPlanContent(p.db, batch.ID, planContent); err != nil {
				log.Printf("processor: persist synthesized plan for batch %d: %v", batch.ID, err)
			}
		}
	}

	// Step 2: batch summarization inputs.
	summary := buildBatchSummary(activities)

	if p.backend == nil {
		return p.markProcessed(batch.ID, defaultClassification)
	}

	// Step 3: classification.
	classification := classify(ctx, p.backend, summary)

	// Step 4: template selection.
	systemPrompt := extractionTemplateFor(classification)

	// Step 5: context assembly.
	userPrompt := renderExtractionPrompt(batch.UserPrompt, summary, activities, planContent, p.budget)

	// Step 6: LLM call + reasoning strip + JSON parse fallback chain.
	raw, err := p.backend.Complete(ctx, systemPrompt, userPrompt, CompleteOpts{
		Temperature: 0.3,
		MaxTokens:   p.budget.maxOutputTokens(),
		WantJSON:    true,
	})
	if err != nil {
		// Failed LLM calls mark the batch processed-but-unsuccessful; they are
		// not retried automatically.
		log.Printf("processor: extraction call failed for batch %d: %v", batch.ID, err)
		return p.markProcessed(batch.ID, classification)
	}
	cleaned := stripReasoning(raw)
	extracted := parseObservations(cleaned)

	// Step 7: observation storage, hard-capped, one failure never aborts the rest.
	if len(extracted) > p.maxObs {
		extracted = extracted[:p.maxObs]
	}
	var firstObservationID string
	for _, e := range extracted {
		id, storeErr := p.storeObservation(ctx, batch, e)
		if storeErr != nil {
			log.Printf("processor: store observation for batch %d: %v", batch.ID, storeErr)
			continue
		}
		if firstObservationID == "" {
			firstObservationID = id
		}
	}

	if err := store.MarkActivitiesProcessed(p.db, activityIDs(activities), firstObservationID); err != nil {
		log.Printf("processor: mark activities processed for batch %d: %v", batch.ID, err)
	}

	// Step 8: mark batch processed with the chosen classification.
	return p.markProcessed(batch.ID, classification)
}

func activityIDs(activities []*models.Activity) []int64 {
	ids := make([]int64, len(activities))
	for i, a := range activities {
		ids[i] = a.ID
	}
	return ids
}

// storeObservation writes the RS row (embedded=false) and, on success,
// upserts the VS memory document and flips embedded=true -- the dual-store
// write path, run inline. A VS failure is not fatal: the observation stays
// durable in RS with embedded=false; nothing in the daemon re-embeds such
// rows automatically.
func (p *Processor) storeObservation(ctx context.Context, batch *models.PromptBatch, e extractedObservation) (string, error) {
	batchID := batch.ID
	obs := &models.Observation{
		SessionID:         batch.SessionID,
		PromptBatchID:     &batchID,
		ObservationText:   e.Observation,
		MemoryType:        normalizeMemoryType(e.Type),
		Context:           e.Context,
		Importance:        clampImportance(e.Importance),
		SessionOriginType: batch.SourceType,
		SourceMachineID:   p.machineID,
		ContentHash:       identity.ContentHash(batch.SessionID, e.Observation, e.Type),
	}

	stored, err := store.StoreObservation(p.db, obs)
	if err != nil {
		return "", err
	}

	if p.vs != nil {
		if err := p.vs.AddMemory(ctx, stored); err != nil {
			log.Printf("processor: embed observation %s: %v", stored.ID, err)
			return stored.ID, nil
		}
		if err := store.MarkObservationsEmbedded(p.db, []string{stored.ID}); err != nil {
			log.Printf("processor: mark observation %s embedded: %v", stored.ID, err)
		}
	}
	return stored.ID, nil
}

func normalizeMemoryType(t string) string {
	if t == "" {
		return "discovery"
	}
	return t
}

func clampImportance(n int) int {
	switch {
	case n <= 0:
		return 5
	case n > 10:
		return 10
	default:
		return n
	}
}
