package resolution

import "identityserver/database"

// Match tiers in precedence order. Earlier tiers are decisive and
// short-circuit the later ones.
const (
	TierExact          = "exact"
	TierAlias          = "alias"
	TierIDCorroborated = "id-corroborated"
	TierFuzzy          = "fuzzy"
	TierNone           = "none"
)

// Confidence buckets for the fuzzy tier.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"   // auto-apply
	ConfidenceMedium Confidence = "medium" // apply, flag for async audit
	ConfidenceLow    Confidence = "low"    // queue for review only
	ConfidenceNone   Confidence = "none"   // unresolved
)

// Resolution outcomes written to the audit log.
const (
	OutcomeAutoApplied            = "auto-applied"
	OutcomeAppliedFlagged         = "applied-flagged"
	OutcomeQueued                 = "queued"
	OutcomeUnresolved             = "unresolved"
	OutcomeUnresolvedPendingRetry = "unresolved-pending-retry"
)

// Signal names used in MatchCandidate.Signals.
const (
	SignalClient  = "client"
	SignalName    = "name_similarity"
	SignalKeyword = "keyword_similarity"
	SignalID      = "id_corroboration"
	SignalNumeric = "numeric_proximity"
)

// Input is one raw row to resolve. DealText marks opportunity/deal
// free text, which passes through the deal-text side channel before
// the entity pipeline.
type Input struct {
	RawText         string   `json:"raw_text"`
	CorroboratingID string   `json:"corroborating_id,omitempty"`
	NumericValue    *float64 `json:"numeric_value,omitempty"`
	DealText        bool     `json:"deal_text,omitempty"`
}

// MatchCandidate is one scored candidate produced per resolution
// attempt. Transient; never persisted as-is.
type MatchCandidate struct {
	RawText  string             `json:"raw_text"`
	EntityID string             `json:"entity_id"`
	Score    float64            `json:"score"`
	Tier     string             `json:"tier"`
	Signals  map[string]float64 `json:"signals"`
}

// ResolutionKind discriminates the match outcome; callers must handle
// all three.
type ResolutionKind string

const (
	KindResolved   ResolutionKind = "resolved"
	KindQueued     ResolutionKind = "queued"
	KindUnresolved ResolutionKind = "unresolved"
)

// MatchResult is the matcher's verdict for one input.
type MatchResult struct {
	Input          Input
	NormalizedText string
	Kind           ResolutionKind
	Confidence     Confidence
	Best           *MatchCandidate   // set when Kind == KindResolved
	Ranked         []*MatchCandidate // fuzzy candidates, best first, for review
}

// RowInput is one lot row coming in from an extractor collaborator.
type RowInput struct {
	SourceTable     string   `json:"source_table"`
	SourceRowID     string   `json:"source_row_id"`
	RawText         string   `json:"raw_name_text"`
	CorroboratingID string   `json:"corroborating_id,omitempty"`
	NumericValue    *float64 `json:"numeric_value,omitempty"`
	DealText        bool     `json:"deal_text,omitempty"`
}

// RegistryReader is the read surface the matcher needs.
type RegistryReader interface {
	LookupExact(normalizedText string) (*database.CanonicalEntity, error)
	LookupAlias(normalizedText string) (*database.CanonicalEntity, error)
	EntitiesByIdentifier(identifier string) ([]string, error)
	AllCandidates() ([]*database.CandidateEntity, error)
}

// RegistryWriter is the write surface the applier needs.
type RegistryWriter interface {
	CreateAlias(aliasText, rawText, entityID, source string, confidence float64) error
	CreateReviewItem(item *database.ReviewItem) (int64, error)
	InsertResolutionRecord(rec *database.ResolutionRecord) (int64, error)
}

// ReviewStore is the surface the alias learner needs.
type ReviewStore interface {
	GetReviewItem(id int64) (*database.ReviewItem, error)
	PromoteReviewItem(itemID int64, entityID, operator string) (*database.Alias, error)
	RejectReviewItem(itemID int64, operator string) error
}
