package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// InsertResolutionRecord appends one audit record. Records are
// immutable; a re-resolution of the same source row appends a new
// record instead of mutating the old one.
func (db *RegistryDB) InsertResolutionRecord(rec *ResolutionRecord) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("resolution record is nil")
	}

	var entityID interface{}
	if rec.ResolvedEntityID != "" {
		entityID = rec.ResolvedEntityID
	}

	result, err := db.conn.Exec(`
		INSERT INTO resolution_records
			(batch_run_id, raw_text, source_table, source_row_id, resolved_entity_id, tier, score, outcome, decided_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchRunID, rec.RawText, rec.SourceTable, rec.SourceRowID,
		entityID, rec.Tier, rec.Score, rec.Outcome, rec.DecidedBy)
	if err != nil {
		return 0, fmt.Errorf("failed to insert resolution record: %w", err)
	}

	return result.LastInsertId()
}

// RecordsForSource returns the audit trail of one source row, newest
// first.
func (db *RegistryDB) RecordsForSource(sourceTable, sourceRowID string) ([]*ResolutionRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, batch_run_id, raw_text, source_table, source_row_id,
		       resolved_entity_id, tier, score, outcome, decided_by, decided_at
		FROM resolution_records
		WHERE source_table = ? AND source_row_id = ?
		ORDER BY id DESC`, sourceTable, sourceRowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolution records: %w", err)
	}
	defer rows.Close()

	records := make([]*ResolutionRecord, 0)
	for rows.Next() {
		var rec ResolutionRecord
		var entityID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.BatchRunID, &rec.RawText, &rec.SourceTable,
			&rec.SourceRowID, &entityID, &rec.Tier, &rec.Score, &rec.Outcome,
			&rec.DecidedBy, &rec.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resolution record: %w", err)
		}
		rec.ResolvedEntityID = nullString(entityID)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CreateReviewItem enqueues one pending human adjudication request.
func (db *RegistryDB) CreateReviewItem(item *ReviewItem) (int64, error) {
	if item == nil {
		return 0, fmt.Errorf("review item is nil")
	}

	candidatesJSON, err := json.Marshal(item.Candidates)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal candidates: %w", err)
	}

	result, err := db.conn.Exec(`
		INSERT INTO review_items (raw_text, normalized_text, source_table, source_row_id, candidates_json, status)
		VALUES (?, ?, ?, ?, ?, 'pending')`,
		item.RawText, item.NormalizedText, item.SourceTable, item.SourceRowID, string(candidatesJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to insert review item: %w", err)
	}

	return result.LastInsertId()
}

// GetReviewItem loads one review item by id.
func (db *RegistryDB) GetReviewItem(id int64) (*ReviewItem, error) {
	row := db.conn.QueryRow(`
		SELECT id, raw_text, normalized_text, source_table, source_row_id,
		       candidates_json, status, decided_by, created_at, decided_at
		FROM review_items WHERE id = ?`, id)

	item, err := scanReviewItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrReviewItemNotFound
	}
	return item, err
}

// PendingReviewItems returns the open review queue, oldest first.
func (db *RegistryDB) PendingReviewItems() ([]*ReviewItem, error) {
	rows, err := db.conn.Query(`
		SELECT id, raw_text, normalized_text, source_table, source_row_id,
		       candidates_json, status, decided_by, created_at, decided_at
		FROM review_items WHERE status = 'pending' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query review items: %w", err)
	}
	defer rows.Close()

	items := make([]*ReviewItem, 0)
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PromoteReviewItem records a human confirmation in a single
// transaction: any conflicting active alias is deactivated, a new
// active alias is inserted, the item is closed and a human-decided
// resolution record is appended. Returns the created alias.
func (db *RegistryDB) PromoteReviewItem(itemID int64, entityID, operator string) (*Alias, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := reviewItemForUpdate(tx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != ReviewStatusPending {
		return nil, fmt.Errorf("review item %d: %w", itemID, ErrReviewItemClosed)
	}

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM canonical_entities WHERE id = ?`, entityID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check entity: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrEntityNotFound)
	}

	// Deactivate a conflicting claim first; promotion never edits an
	// existing alias row.
	if _, err := tx.Exec(`
		UPDATE entity_aliases SET is_active = 0
		WHERE alias_text = ? AND is_active = 1 AND canonical_entity_id != ?`,
		item.NormalizedText, entityID); err != nil {
		return nil, fmt.Errorf("failed to deactivate conflicting alias: %w", err)
	}

	now := time.Now().UTC()
	result, err := tx.Exec(`
		INSERT INTO entity_aliases (alias_text, raw_text, canonical_entity_id, source, confidence, is_active, created_at)
		VALUES (?, ?, ?, 'human-review', 1.0, 1, ?)`,
		item.NormalizedText, item.RawText, entityID, now)
	if err != nil {
		if isUniqueViolation(err) {
			// same-entity claim already active; promotion is a no-op on
			// the alias table but the item still closes below
			result = nil
		} else {
			return nil, fmt.Errorf("failed to insert promoted alias: %w", err)
		}
	}

	if _, err := tx.Exec(`
		UPDATE review_items SET status = 'promoted', decided_by = ?, decided_at = ?
		WHERE id = ?`, operator, now, itemID); err != nil {
		return nil, fmt.Errorf("failed to close review item: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO resolution_records
			(batch_run_id, raw_text, source_table, source_row_id, resolved_entity_id, tier, score, outcome, decided_by)
		VALUES ('', ?, ?, ?, ?, 'alias', 1.0, 'promoted', 'human')`,
		item.RawText, item.SourceTable, item.SourceRowID, entityID); err != nil {
		return nil, fmt.Errorf("failed to record promotion: %w", err)
	}

	alias := &Alias{
		AliasText:         item.NormalizedText,
		RawText:           item.RawText,
		CanonicalEntityID: entityID,
		Source:            "human-review",
		Confidence:        1.0,
		IsActive:          true,
		CreatedAt:         now,
	}
	if result != nil {
		alias.ID, _ = result.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit promotion: %w", err)
	}
	return alias, nil
}

// RejectReviewItem closes a review item without creating any alias.
func (db *RegistryDB) RejectReviewItem(itemID int64, operator string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := reviewItemForUpdate(tx, itemID)
	if err != nil {
		return err
	}
	if item.Status != ReviewStatusPending {
		return fmt.Errorf("review item %d: %w", itemID, ErrReviewItemClosed)
	}

	if _, err := tx.Exec(`
		UPDATE review_items SET status = 'rejected', decided_by = ?, decided_at = ?
		WHERE id = ?`, operator, time.Now().UTC(), itemID); err != nil {
		return fmt.Errorf("failed to reject review item: %w", err)
	}

	return tx.Commit()
}

// StatsBySourceTable aggregates resolution outcomes per source table.
func (db *RegistryDB) StatsBySourceTable() ([]*SourceTableStats, error) {
	rows, err := db.conn.Query(`
		SELECT source_table, outcome, COUNT(1)
		FROM resolution_records
		GROUP BY source_table, outcome
		ORDER BY source_table`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	byTable := make(map[string]*SourceTableStats)
	order := make([]string, 0)
	for rows.Next() {
		var table, outcome string
		var count int
		if err := rows.Scan(&table, &outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats, ok := byTable[table]
		if !ok {
			stats = &SourceTableStats{SourceTable: table, ByOutcome: make(map[string]int)}
			byTable[table] = stats
			order = append(order, table)
		}
		stats.ByOutcome[outcome] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*SourceTableStats, 0, len(order))
	for _, table := range order {
		result = append(result, byTable[table])
	}
	return result, nil
}

func reviewItemForUpdate(tx *sql.Tx, itemID int64) (*ReviewItem, error) {
	row := tx.QueryRow(`
		SELECT id, raw_text, normalized_text, source_table, source_row_id,
		       candidates_json, status, decided_by, created_at, decided_at
		FROM review_items WHERE id = ?`, itemID)

	item, err := scanReviewItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("review item %d: %w", itemID, ErrReviewItemNotFound)
	}
	return item, err
}

func scanReviewItem(s rowScanner) (*ReviewItem, error) {
	var item ReviewItem
	var candidatesJSON string
	var decidedBy sql.NullString
	var decidedAt sql.NullTime
	err := s.Scan(&item.ID, &item.RawText, &item.NormalizedText, &item.SourceTable,
		&item.SourceRowID, &candidatesJSON, &item.Status, &decidedBy,
		&item.CreatedAt, &decidedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan review item: %w", err)
	}

	item.DecidedBy = nullString(decidedBy)
	if decidedAt.Valid {
		t := decidedAt.Time
		item.DecidedAt = &t
	}
	if err := json.Unmarshal([]byte(candidatesJSON), &item.Candidates); err != nil {
		item.Candidates = nil
	}
	return &item, nil
}
