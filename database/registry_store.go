package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// CreateEntity inserts a canonical entity together with its reflexive
// alias in one transaction. Every entity always has at least one active
// alias equal to its own normalized name.
func (db *RegistryDB) CreateEntity(entity *CanonicalEntity) error {
	if entity == nil {
		return fmt.Errorf("entity is nil")
	}
	if entity.ID == "" || entity.NormalizedName == "" {
		return fmt.Errorf("entity id and normalized name are required")
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var parent interface{}
	if entity.ParentEntityID != "" {
		parent = entity.ParentEntityID
	}
	var refValue interface{}
	if entity.ReferenceValue != 0 {
		refValue = entity.ReferenceValue
	}

	_, err = tx.Exec(`
		INSERT INTO canonical_entities (id, canonical_name, normalized_name, parent_entity_id, reference_value)
		VALUES (?, ?, ?, ?, ?)`,
		entity.ID, entity.CanonicalName, entity.NormalizedName, parent, refValue)
	if err != nil {
		return fmt.Errorf("failed to insert canonical entity: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO entity_aliases (alias_text, raw_text, canonical_entity_id, source, confidence, is_active)
		VALUES (?, ?, ?, 'reflexive', 1.0, 1)`,
		entity.NormalizedName, entity.CanonicalName, entity.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("reflexive alias for %q: %w", entity.NormalizedName, ErrDuplicateActiveAlias)
		}
		return fmt.Errorf("failed to insert reflexive alias: %w", err)
	}

	return tx.Commit()
}

// GetEntity loads one canonical entity by id.
func (db *RegistryDB) GetEntity(id string) (*CanonicalEntity, error) {
	row := db.conn.QueryRow(`
		SELECT id, canonical_name, normalized_name, parent_entity_id, reference_value, created_at
		FROM canonical_entities WHERE id = ?`, id)
	return scanEntity(row)
}

// LookupExact returns the entity whose normalized canonical name equals
// the given text, or nil when none exists.
func (db *RegistryDB) LookupExact(normalizedText string) (*CanonicalEntity, error) {
	row := db.conn.QueryRow(`
		SELECT id, canonical_name, normalized_name, parent_entity_id, reference_value, created_at
		FROM canonical_entities WHERE normalized_name = ?
		ORDER BY id LIMIT 1`, normalizedText)

	entity, err := scanEntity(row)
	if err == ErrEntityNotFound {
		return nil, nil
	}
	return entity, err
}

// LookupAlias returns the entity claimed by the active alias for the
// given normalized text, or nil when no active alias exists.
func (db *RegistryDB) LookupAlias(normalizedText string) (*CanonicalEntity, error) {
	row := db.conn.QueryRow(`
		SELECT e.id, e.canonical_name, e.normalized_name, e.parent_entity_id, e.reference_value, e.created_at
		FROM entity_aliases a
		JOIN canonical_entities e ON e.id = a.canonical_entity_id
		WHERE a.alias_text = ? AND a.is_active = 1`, normalizedText)

	entity, err := scanEntity(row)
	if err == ErrEntityNotFound {
		return nil, nil
	}
	return entity, err
}

// AllCandidates loads the fuzzy-scan read model: every canonical entity
// with its known corroborating identifiers.
func (db *RegistryDB) AllCandidates() ([]*CandidateEntity, error) {
	rows, err := db.conn.Query(`
		SELECT id, canonical_name, normalized_name, reference_value
		FROM canonical_entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]*CandidateEntity, 0)
	index := make(map[string]*CandidateEntity)
	for rows.Next() {
		var c CandidateEntity
		var refValue sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.CanonicalName, &c.NormalizedName, &refValue); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.ReferenceValue = nullFloat(refValue)
		candidates = append(candidates, &c)
		index[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidate rows: %w", err)
	}

	idRows, err := db.conn.Query(`SELECT canonical_entity_id, identifier FROM entity_identifiers`)
	if err != nil {
		return nil, fmt.Errorf("failed to query identifiers: %w", err)
	}
	defer idRows.Close()

	for idRows.Next() {
		var entityID, identifier string
		if err := idRows.Scan(&entityID, &identifier); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		if c, ok := index[entityID]; ok {
			c.Identifiers = append(c.Identifiers, identifier)
		}
	}
	if err := idRows.Err(); err != nil {
		return nil, fmt.Errorf("identifier rows: %w", err)
	}

	return candidates, nil
}

// ListEntities returns all canonical entities ordered by id.
func (db *RegistryDB) ListEntities() ([]*CanonicalEntity, error) {
	rows, err := db.conn.Query(`
		SELECT id, canonical_name, normalized_name, parent_entity_id, reference_value, created_at
		FROM canonical_entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	entities := make([]*CanonicalEntity, 0)
	for rows.Next() {
		entity, err := scanEntityRows(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// CreateAlias records a confirmed mapping from aliasText to entityID.
// Re-claiming the same text under the same entity is an idempotent
// no-op; a claim under a different entity fails with
// ErrDuplicateActiveAlias for human adjudication.
func (db *RegistryDB) CreateAlias(aliasText, rawText, entityID, source string, confidence float64) error {
	if aliasText == "" {
		return fmt.Errorf("alias text is empty")
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existingEntity, err := activeAliasOwner(tx, aliasText)
	if err != nil {
		return err
	}
	if existingEntity != "" {
		if existingEntity == entityID {
			return nil // duplicate-success race resolved as no-op
		}
		return fmt.Errorf("alias %q held by %s: %w", aliasText, existingEntity, ErrDuplicateActiveAlias)
	}

	_, err = tx.Exec(`
		INSERT INTO entity_aliases (alias_text, raw_text, canonical_entity_id, source, confidence, is_active)
		VALUES (?, ?, ?, ?, ?, 1)`,
		aliasText, rawText, entityID, source, confidence)
	if err != nil {
		if isUniqueViolation(err) {
			// lost the optimistic race; re-read to classify
			owner, ownerErr := activeAliasOwner(tx, aliasText)
			if ownerErr == nil && owner == entityID {
				return nil
			}
			return fmt.Errorf("alias %q: %w", aliasText, ErrDuplicateActiveAlias)
		}
		return fmt.Errorf("failed to insert alias: %w", err)
	}

	return tx.Commit()
}

// AddIdentifier attaches a corroborating identifier (quote/agreement
// number) to an entity. Duplicate attachments are no-ops.
func (db *RegistryDB) AddIdentifier(entityID, identifier string) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO entity_identifiers (canonical_entity_id, identifier)
		VALUES (?, ?)`, entityID, identifier)
	if err != nil {
		return fmt.Errorf("failed to add identifier: %w", err)
	}
	return nil
}

// EntitiesByIdentifier returns the ids of all entities claiming the
// given corroborating identifier. More than one result means the
// identifier is ambiguous and non-decisive.
func (db *RegistryDB) EntitiesByIdentifier(identifier string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT canonical_entity_id FROM entity_identifiers
		WHERE identifier = ? ORDER BY canonical_entity_id`, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to query identifier: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 1)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan identifier owner: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MergeEntities retires duplicateID into survivorID: every alias and
// identifier of the duplicate is redirected to the survivor and the
// duplicate row is deleted, all in one transaction.
func (db *RegistryDB) MergeEntities(duplicateID, survivorID string) error {
	if duplicateID == survivorID {
		return fmt.Errorf("cannot merge an entity into itself")
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM canonical_entities WHERE id = ?`, survivorID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check survivor: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("survivor %s: %w", survivorID, ErrEntityNotFound)
	}

	if _, err := tx.Exec(`
		UPDATE entity_aliases SET canonical_entity_id = ?
		WHERE canonical_entity_id = ?`, survivorID, duplicateID); err != nil {
		return fmt.Errorf("failed to redirect aliases: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE OR IGNORE entity_identifiers SET canonical_entity_id = ?
		WHERE canonical_entity_id = ?`, survivorID, duplicateID); err != nil {
		return fmt.Errorf("failed to redirect identifiers: %w", err)
	}
	if _, err := tx.Exec(`
		DELETE FROM entity_identifiers WHERE canonical_entity_id = ?`, duplicateID); err != nil {
		return fmt.Errorf("failed to clear duplicate identifiers: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE canonical_entities SET parent_entity_id = ?
		WHERE parent_entity_id = ?`, survivorID, duplicateID); err != nil {
		return fmt.Errorf("failed to reparent children: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM canonical_entities WHERE id = ?`, duplicateID); err != nil {
		return fmt.Errorf("failed to delete duplicate entity: %w", err)
	}

	return tx.Commit()
}

// ActiveAliases returns the active aliases of one entity.
func (db *RegistryDB) ActiveAliases(entityID string) ([]*Alias, error) {
	rows, err := db.conn.Query(`
		SELECT id, alias_text, raw_text, canonical_entity_id, source, confidence, is_active, created_at
		FROM entity_aliases
		WHERE canonical_entity_id = ? AND is_active = 1
		ORDER BY id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	aliases := make([]*Alias, 0)
	for rows.Next() {
		var a Alias
		var active int
		if err := rows.Scan(&a.ID, &a.AliasText, &a.RawText, &a.CanonicalEntityID,
			&a.Source, &a.Confidence, &active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		a.IsActive = active == 1
		aliases = append(aliases, &a)
	}
	return aliases, rows.Err()
}

func activeAliasOwner(tx *sql.Tx, aliasText string) (string, error) {
	var owner string
	err := tx.QueryRow(`
		SELECT canonical_entity_id FROM entity_aliases
		WHERE alias_text = ? AND is_active = 1`, aliasText).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check active alias: %w", err)
	}
	return owner, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row *sql.Row) (*CanonicalEntity, error) {
	entity, err := scanEntityFrom(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	return entity, err
}

func scanEntityRows(rows *sql.Rows) (*CanonicalEntity, error) {
	return scanEntityFrom(rows)
}

func scanEntityFrom(s rowScanner) (*CanonicalEntity, error) {
	var e CanonicalEntity
	var parent sql.NullString
	var refValue sql.NullFloat64
	err := s.Scan(&e.ID, &e.CanonicalName, &e.NormalizedName, &parent, &refValue, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	e.ParentEntityID = nullString(parent)
	e.ReferenceValue = nullFloat(refValue)
	return &e, nil
}
