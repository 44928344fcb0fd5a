package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// InitRegistrySchema creates the registry tables. Statements are
// idempotent so re-running against an existing database is safe.
func InitRegistrySchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS canonical_entities (
			id TEXT PRIMARY KEY,
			canonical_name TEXT NOT NULL,
			normalized_name TEXT NOT NULL,
			parent_entity_id TEXT REFERENCES canonical_entities(id),
			reference_value REAL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_entities_normalized_name
			ON canonical_entities(normalized_name)`,

		`CREATE TABLE IF NOT EXISTS entity_aliases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alias_text TEXT NOT NULL,
			raw_text TEXT NOT NULL DEFAULT '',
			canonical_entity_id TEXT NOT NULL REFERENCES canonical_entities(id),
			source TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 1.0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		// the unique-active-alias invariant: at most one active claim
		// per normalized text at any time
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_aliases_active_text
			ON entity_aliases(alias_text) WHERE is_active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_entity_aliases_entity
			ON entity_aliases(canonical_entity_id)`,

		`CREATE TABLE IF NOT EXISTS entity_identifiers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			canonical_entity_id TEXT NOT NULL REFERENCES canonical_entities(id),
			identifier TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(canonical_entity_id, identifier)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_identifiers_identifier
			ON entity_identifiers(identifier)`,

		`CREATE TABLE IF NOT EXISTS resolution_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_run_id TEXT NOT NULL DEFAULT '',
			raw_text TEXT NOT NULL,
			source_table TEXT NOT NULL,
			source_row_id TEXT NOT NULL,
			resolved_entity_id TEXT REFERENCES canonical_entities(id),
			tier TEXT NOT NULL,
			score REAL NOT NULL,
			outcome TEXT NOT NULL,
			decided_by TEXT NOT NULL,
			decided_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resolution_records_source
			ON resolution_records(source_table, source_row_id)`,
		`CREATE INDEX IF NOT EXISTS idx_resolution_records_outcome
			ON resolution_records(outcome)`,

		`CREATE TABLE IF NOT EXISTS review_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			raw_text TEXT NOT NULL,
			normalized_text TEXT NOT NULL,
			source_table TEXT NOT NULL DEFAULT '',
			source_row_id TEXT NOT NULL DEFAULT '',
			candidates_json TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'pending',
			decided_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			decided_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_review_items_status
			ON review_items(status)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}

// MigrateEntityReferenceValue adds the reference_value column for
// databases created before numeric-proximity scoring existed.
func MigrateEntityReferenceValue(db *sql.DB) error {
	migrations := []string{
		`ALTER TABLE canonical_entities ADD COLUMN reference_value REAL`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			errStr := strings.ToLower(err.Error())
			if !strings.Contains(errStr, "duplicate column") &&
				!strings.Contains(errStr, "already exists") {
				return fmt.Errorf("migration failed: %s, error: %w", migration, err)
			}
		}
	}

	return nil
}
