package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"identityserver/database"
)

// SourceWriter is the collaborator that writes the resolved foreign key
// back onto the source row. The engine has no knowledge of the source
// schema; extractor collaborators supply an implementation.
type SourceWriter interface {
	LinkRow(ctx context.Context, sourceTable, sourceRowID, entityID string) error
	MarkUnresolved(ctx context.Context, sourceTable, sourceRowID string) error
}

// NoopSourceWriter satisfies SourceWriter for callers that only consume
// the audit log and review queue.
type NoopSourceWriter struct{}

func (NoopSourceWriter) LinkRow(ctx context.Context, sourceTable, sourceRowID, entityID string) error {
	return nil
}

func (NoopSourceWriter) MarkUnresolved(ctx context.Context, sourceTable, sourceRowID string) error {
	return nil
}

// Applier persists match outcomes. Every Apply call writes exactly one
// resolution record, whatever branch it takes.
type Applier struct {
	registry RegistryWriter
	source   SourceWriter
	logger   *slog.Logger
}

// NewApplier wires an applier. A nil source writer defaults to no-op.
func NewApplier(registry RegistryWriter, source SourceWriter) *Applier {
	if source == nil {
		source = NoopSourceWriter{}
	}
	return &Applier{
		registry: registry,
		source:   source,
		logger:   slog.Default().With("component", "applier"),
	}
}

// Apply persists one match result for one source row.
func (a *Applier) Apply(ctx context.Context, result *MatchResult, sourceTable, sourceRowID, batchRunID string) (*database.ResolutionRecord, error) {
	if result == nil {
		return nil, fmt.Errorf("match result is nil")
	}

	switch result.Kind {
	case KindResolved:
		if result.Confidence == ConfidenceMedium {
			return a.applyFlagged(ctx, result, sourceTable, sourceRowID, batchRunID)
		}
		return a.applyConfident(ctx, result, sourceTable, sourceRowID, batchRunID)
	case KindQueued:
		return a.queueForReview(result, sourceTable, sourceRowID, batchRunID, OutcomeQueued)
	case KindUnresolved:
		return a.markUnresolved(ctx, result, sourceTable, sourceRowID, batchRunID)
	default:
		return nil, fmt.Errorf("unknown resolution kind %q", result.Kind)
	}
}

// ApplyRegistryFailure records a row that could not be resolved because
// the registry store failed. The row stays eligible for a later run.
func (a *Applier) ApplyRegistryFailure(result Input, sourceTable, sourceRowID, batchRunID string) (*database.ResolutionRecord, error) {
	return a.writeRecord(&database.ResolutionRecord{
		BatchRunID:  batchRunID,
		RawText:     result.RawText,
		SourceTable: sourceTable,
		SourceRowID: sourceRowID,
		Tier:        TierNone,
		Score:       0,
		Outcome:     OutcomeUnresolvedPendingRetry,
		DecidedBy:   "system",
	})
}

// applyConfident handles the decisive tiers and fuzzy-high: the link is
// written immediately and the alias confirmed. An alias conflict
// downgrades the row to the review queue instead of failing the batch.
func (a *Applier) applyConfident(ctx context.Context, result *MatchResult, sourceTable, sourceRowID, batchRunID string) (*database.ResolutionRecord, error) {
	best := result.Best

	if best.Tier != TierExact && best.Tier != TierAlias {
		source := "auto-" + best.Tier
		err := a.registry.CreateAlias(result.NormalizedText, result.Input.RawText, best.EntityID, source, best.Score)
		if err != nil {
			if errors.Is(err, database.ErrDuplicateActiveAlias) {
				a.logger.Warn("Alias conflict on confident match, downgrading to review",
					"raw_text", result.Input.RawText,
					"entity_id", best.EntityID)
				downgraded := *result
				downgraded.Ranked = []*MatchCandidate{best}
				return a.queueForReview(&downgraded, sourceTable, sourceRowID, batchRunID, OutcomeQueued)
			}
			return nil, fmt.Errorf("failed to confirm alias: %w", err)
		}
	}

	if err := a.source.LinkRow(ctx, sourceTable, sourceRowID, best.EntityID); err != nil {
		a.logger.Warn("Failed to write source row link",
			"source_table", sourceTable,
			"source_row_id", sourceRowID,
			"error", err)
	}

	return a.writeRecord(&database.ResolutionRecord{
		BatchRunID:       batchRunID,
		RawText:          result.Input.RawText,
		SourceTable:      sourceTable,
		SourceRowID:      sourceRowID,
		ResolvedEntityID: best.EntityID,
		Tier:             best.Tier,
		Score:            best.Score,
		Outcome:          OutcomeAutoApplied,
		DecidedBy:        "system",
	})
}

// applyFlagged handles fuzzy-medium: the link is written but the row is
// also queued for asynchronous audit.
func (a *Applier) applyFlagged(ctx context.Context, result *MatchResult, sourceTable, sourceRowID, batchRunID string) (*database.ResolutionRecord, error) {
	best := result.Best

	if err := a.source.LinkRow(ctx, sourceTable, sourceRowID, best.EntityID); err != nil {
		a.logger.Warn("Failed to write source row link",
			"source_table", sourceTable,
			"source_row_id", sourceRowID,
			"error", err)
	}

	if _, err := a.registry.CreateReviewItem(a.reviewItem(result, sourceTable, sourceRowID)); err != nil {
		a.logger.Warn("Failed to enqueue audit review item",
			"source_table", sourceTable,
			"source_row_id", sourceRowID,
			"error", err)
	}

	return a.writeRecord(&database.ResolutionRecord{
		BatchRunID:       batchRunID,
		RawText:          result.Input.RawText,
		SourceTable:      sourceTable,
		SourceRowID:      sourceRowID,
		ResolvedEntityID: best.EntityID,
		Tier:             best.Tier,
		Score:            best.Score,
		Outcome:          OutcomeAppliedFlagged,
		DecidedBy:        "system",
	})
}

// queueForReview handles fuzzy-low and downgraded conflicts: nothing is
// written to the source row; a review item carries the top candidates.
func (a *Applier) queueForReview(result *MatchResult, sourceTable, sourceRowID, batchRunID, outcome string) (*database.ResolutionRecord, error) {
	if _, err := a.registry.CreateReviewItem(a.reviewItem(result, sourceTable, sourceRowID)); err != nil {
		return nil, fmt.Errorf("failed to enqueue review item: %w", err)
	}

	// A downgraded decisive match keeps its original tier in the trail
	score := 0.0
	tier := TierFuzzy
	if len(result.Ranked) > 0 {
		score = result.Ranked[0].Score
		tier = result.Ranked[0].Tier
	}

	return a.writeRecord(&database.ResolutionRecord{
		BatchRunID:  batchRunID,
		RawText:     result.Input.RawText,
		SourceTable: sourceTable,
		SourceRowID: sourceRowID,
		Tier:        tier,
		Score:       score,
		Outcome:     outcome,
		DecidedBy:   "system",
	})
}

// markUnresolved writes the explicit unresolved marker. A row with no
// match is a visible fact, never a silent NULL.
func (a *Applier) markUnresolved(ctx context.Context, result *MatchResult, sourceTable, sourceRowID, batchRunID string) (*database.ResolutionRecord, error) {
	if err := a.source.MarkUnresolved(ctx, sourceTable, sourceRowID); err != nil {
		a.logger.Warn("Failed to mark source row unresolved",
			"source_table", sourceTable,
			"source_row_id", sourceRowID,
			"error", err)
	}

	a.logger.Info("Row left unresolved",
		"source_table", sourceTable,
		"source_row_id", sourceRowID,
		"raw_text", result.Input.RawText)

	return a.writeRecord(&database.ResolutionRecord{
		BatchRunID:  batchRunID,
		RawText:     result.Input.RawText,
		SourceTable: sourceTable,
		SourceRowID: sourceRowID,
		Tier:        TierNone,
		Score:       0,
		Outcome:     OutcomeUnresolved,
		DecidedBy:   "system",
	})
}

func (a *Applier) reviewItem(result *MatchResult, sourceTable, sourceRowID string) *database.ReviewItem {
	candidates := make([]database.ReviewCandidate, 0, len(result.Ranked))
	for _, c := range result.Ranked {
		candidates = append(candidates, database.ReviewCandidate{
			EntityID: c.EntityID,
			Score:    c.Score,
			Tier:     c.Tier,
		})
	}
	return &database.ReviewItem{
		RawText:        result.Input.RawText,
		NormalizedText: result.NormalizedText,
		SourceTable:    sourceTable,
		SourceRowID:    sourceRowID,
		Candidates:     candidates,
	}
}

func (a *Applier) writeRecord(rec *database.ResolutionRecord) (*database.ResolutionRecord, error) {
	id, err := a.registry.InsertResolutionRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to write resolution record: %w", err)
	}
	rec.ID = id
	return rec, nil
}
