package importer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"identityserver/database"
	"identityserver/extractors"
	"identityserver/resolution"
)

// EntityRecord is one canonical entity row from a registry spreadsheet.
type EntityRecord struct {
	EntityID       string
	CanonicalName  string
	ParentEntityID string
	ReferenceValue float64
	Identifiers    []string
	KnownAliases   []string
}

// ImportResult summarizes one registry import run.
type ImportResult struct {
	Total     int           `json:"total"`
	Created   int           `json:"created"`
	Skipped   int           `json:"skipped"`
	Errors    []string      `json:"errors"`
	Started   time.Time     `json:"started"`
	Completed time.Time     `json:"completed"`
	Duration  time.Duration `json:"duration"`
}

// EntityImporter seeds the canonical registry from curated spreadsheets.
type EntityImporter struct {
	db         *database.RegistryDB
	normalizer *resolution.EntityNormalizer
	logger     *slog.Logger
}

func NewEntityImporter(db *database.RegistryDB, normalizer *resolution.EntityNormalizer) *EntityImporter {
	return &EntityImporter{
		db:         db,
		normalizer: normalizer,
		logger:     slog.Default().With("component", "entity_importer"),
	}
}

// ImportEntities creates one canonical entity per record. An entity
// whose normalized name already owns an active alias is skipped, not
// overwritten; curated registries are merged by hand.
func (ei *EntityImporter) ImportEntities(records []EntityRecord) (*ImportResult, error) {
	result := &ImportResult{
		Total:   len(records),
		Errors:  make([]string, 0),
		Started: time.Now(),
	}

	logInterval := 100
	if len(records) > 1000 {
		logInterval = 500
	}

	for idx, record := range records {
		created, err := ei.importEntity(record)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Row %d: %s: %v", idx+1, record.CanonicalName, err))
		} else if created {
			result.Created++
		} else {
			result.Skipped++
		}

		if (idx+1)%logInterval == 0 {
			ei.logger.Info("Import progress",
				"processed", idx+1,
				"total", len(records))
		}
	}

	result.Completed = time.Now()
	result.Duration = result.Completed.Sub(result.Started)

	ei.logger.Info("Registry import completed",
		"total", result.Total,
		"created", result.Created,
		"skipped", result.Skipped,
		"errors", len(result.Errors))

	return result, nil
}

func (ei *EntityImporter) importEntity(record EntityRecord) (bool, error) {
	if record.CanonicalName == "" {
		return false, fmt.Errorf("canonical name is required")
	}

	normalized := ei.normalizer.Normalize(record.CanonicalName)
	if normalized == "" {
		return false, fmt.Errorf("canonical name normalizes to empty text")
	}

	entity := &database.CanonicalEntity{
		ID:             record.EntityID,
		CanonicalName:  record.CanonicalName,
		NormalizedName: normalized,
		ParentEntityID: record.ParentEntityID,
		ReferenceValue: record.ReferenceValue,
	}
	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}

	if err := ei.db.CreateEntity(entity); err != nil {
		if errors.Is(err, database.ErrDuplicateActiveAlias) {
			ei.logger.Warn("Entity already registered, skipping",
				"canonical_name", record.CanonicalName,
				"normalized_name", normalized)
			return false, nil
		}
		return false, err
	}

	for _, identifier := range record.Identifiers {
		id := extractors.NormalizeCorroboratingID(identifier)
		if !extractors.IsUsableCorroboratingID(id) {
			continue
		}
		if err := ei.db.AddIdentifier(entity.ID, id); err != nil {
			ei.logger.Warn("Failed to attach identifier",
				"entity_id", entity.ID,
				"identifier", id,
				"error", err)
		}
	}

	for _, alias := range record.KnownAliases {
		aliasNorm := ei.normalizer.Normalize(alias)
		if aliasNorm == "" || aliasNorm == normalized {
			continue
		}
		if err := ei.db.CreateAlias(aliasNorm, alias, entity.ID, "curated-import", 1.0); err != nil {
			if errors.Is(err, database.ErrDuplicateActiveAlias) {
				ei.logger.Warn("Alias owned by another entity, skipping",
					"alias_text", aliasNorm,
					"entity_id", entity.ID)
				continue
			}
			ei.logger.Warn("Failed to attach alias",
				"entity_id", entity.ID,
				"alias_text", aliasNorm,
				"error", err)
		}
	}

	return true, nil
}

// ParseEntityExcelFile reads a curated registry spreadsheet.
func ParseEntityExcelFile(filePath string) ([]EntityRecord, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("no sheets found in Excel file")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("file is too short, expected at least header row and one data row")
	}

	cols := findEntityColumns(rows[0])
	if cols.canonicalName == -1 {
		return nil, fmt.Errorf("required canonical name column not found in Excel file headers")
	}

	var records []EntityRecord
	for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
		row := rows[rowIdx]
		if isEmptyRow(row) {
			continue
		}

		record := EntityRecord{
			EntityID:       cellAt(row, cols.entityID),
			CanonicalName:  cellAt(row, cols.canonicalName),
			ParentEntityID: cellAt(row, cols.parentID),
		}
		if record.CanonicalName == "" {
			continue
		}

		if raw := cellAt(row, cols.referenceValue); raw != "" {
			if v, err := parseNumericCell(raw); err == nil {
				record.ReferenceValue = v
			}
		}
		record.Identifiers = splitListCell(cellAt(row, cols.identifiers))
		record.KnownAliases = splitListCell(cellAt(row, cols.aliases))

		records = append(records, record)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no valid records found in Excel file, check column mapping")
	}

	return records, nil
}

type entityColumns struct {
	entityID       int
	canonicalName  int
	parentID       int
	referenceValue int
	identifiers    int
	aliases        int
}

func findEntityColumns(headers []string) entityColumns {
	cols := entityColumns{
		entityID:       -1,
		canonicalName:  -1,
		parentID:       -1,
		referenceValue: -1,
		identifiers:    -1,
		aliases:        -1,
	}

	for i, header := range headers {
		headerLower := strings.ToLower(strings.TrimSpace(header))
		if headerLower == "" {
			continue
		}

		if cols.entityID == -1 && containsAny(headerLower, []string{"entity id", "entity_id", "id"}) && !strings.Contains(headerLower, "identif") && !strings.Contains(headerLower, "parent") {
			cols.entityID = i
		}

		if cols.canonicalName == -1 && containsAny(headerLower, []string{"canonical", "name"}) && !strings.Contains(headerLower, "alias") {
			cols.canonicalName = i
		}

		if cols.parentID == -1 && containsAny(headerLower, []string{"parent"}) {
			cols.parentID = i
		}

		if cols.referenceValue == -1 && containsAny(headerLower, []string{"reference value", "typical", "amount"}) {
			cols.referenceValue = i
		}

		if cols.identifiers == -1 && containsAny(headerLower, []string{"identifier", "external id", "case"}) {
			cols.identifiers = i
		}

		if cols.aliases == -1 && containsAny(headerLower, []string{"alias", "known as", "variants"}) {
			cols.aliases = i
		}
	}

	return cols
}

// splitListCell splits a multi-value cell on the separators curated
// sheets actually use.
func splitListCell(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == '|' || r == ','
	})
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
