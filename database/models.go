package database

import "time"

// CanonicalEntity is the authoritative record a set of name variants
// resolves to.
type CanonicalEntity struct {
	ID             string    `json:"id"`
	CanonicalName  string    `json:"canonical_name"`
	NormalizedName string    `json:"normalized_name"`
	ParentEntityID string    `json:"parent_entity_id,omitempty"`
	ReferenceValue float64   `json:"reference_value,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Alias is a confirmed mapping from one normalized text variant to a
// canonical entity. At most one active alias exists per alias_text.
type Alias struct {
	ID                int64     `json:"id"`
	AliasText         string    `json:"alias_text"`
	RawText           string    `json:"raw_text"`
	CanonicalEntityID string    `json:"canonical_entity_id"`
	Source            string    `json:"source"`
	Confidence        float64   `json:"confidence"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// CandidateEntity is the fuzzy-scan read model: one canonical entity
// with everything the signal extractors need.
type CandidateEntity struct {
	ID             string
	CanonicalName  string
	NormalizedName string
	ReferenceValue float64
	Identifiers    []string
}

// ResolutionRecord is one append-only audit entry per apply call.
type ResolutionRecord struct {
	ID               int64     `json:"id"`
	BatchRunID       string    `json:"batch_run_id"`
	RawText          string    `json:"raw_text"`
	SourceTable      string    `json:"source_table"`
	SourceRowID      string    `json:"source_row_id"`
	ResolvedEntityID string    `json:"resolved_entity_id,omitempty"`
	Tier             string    `json:"tier"`
	Score            float64   `json:"score"`
	Outcome          string    `json:"outcome"`
	DecidedBy        string    `json:"decided_by"`
	DecidedAt        time.Time `json:"decided_at"`
}

// Review item statuses.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusPromoted = "promoted"
	ReviewStatusRejected = "rejected"
)

// ReviewCandidate is one scored candidate attached to a review item.
type ReviewCandidate struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
	Tier     string  `json:"tier"`
}

// ReviewItem is a pending human adjudication request.
type ReviewItem struct {
	ID             int64             `json:"id"`
	RawText        string            `json:"raw_text"`
	NormalizedText string            `json:"normalized_text"`
	SourceTable    string            `json:"source_table"`
	SourceRowID    string            `json:"source_row_id"`
	Candidates     []ReviewCandidate `json:"candidates"`
	Status         string            `json:"status"`
	DecidedBy      string            `json:"decided_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	DecidedAt      *time.Time        `json:"decided_at,omitempty"`
}

// SourceTableStats summarizes resolution outcomes for one source table.
type SourceTableStats struct {
	SourceTable string         `json:"source_table"`
	Total       int            `json:"total"`
	ByOutcome   map[string]int `json:"by_outcome"`
}
