package importer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"identityserver/extractors"
	"identityserver/resolution"
)

// ParseLotExcelFile reads one lot spreadsheet into resolution rows.
// Columns are located by header keywords, not by position; historical
// lot files differ in layout.
func ParseLotExcelFile(filePath, sourceTable string) ([]resolution.RowInput, error) {
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

	cols := findLotColumns(rows[0])
	if cols.rawName == -1 {
		return nil, fmt.Errorf("required name column not found in Excel file headers")
	}

	var inputs []resolution.RowInput

	for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
		row := rows[rowIdx]
		if isEmptyRow(row) {
			continue
		}

		rawText := cellAt(row, cols.rawName)
		if rawText == "" {
			continue
		}

		// Lot name cells are deal free text: embedded reference
		// numbers and dates must not reach the fuzzy signals.
		input := resolution.RowInput{
			SourceTable: sourceTable,
			SourceRowID: cellAt(row, cols.rowID),
			RawText:     rawText,
			DealText:    true,
		}
		if input.SourceRowID == "" {
			input.SourceRowID = strconv.Itoa(rowIdx + 1)
		}

		if id := cellAt(row, cols.corroboratingID); id != "" {
			input.CorroboratingID = extractors.NormalizeCorroboratingID(id)
		} else if id, err := extractors.ExtractCorroboratingID(rawText); err == nil {
			input.CorroboratingID = id
		}

		if raw := cellAt(row, cols.numericValue); raw != "" {
			if v, err := parseNumericCell(raw); err == nil {
				input.NumericValue = &v
			}
		}

		inputs = append(inputs, input)
	}

	if len(inputs) == 0 {
		return nil, fmt.Errorf("no valid rows found in Excel file, check column mapping")
	}

	return inputs, nil
}

type lotColumns struct {
	rowID           int
	rawName         int
	corroboratingID int
	numericValue    int
}

func findLotColumns(headers []string) lotColumns {
	cols := lotColumns{
		rowID:           -1,
		rawName:         -1,
		corroboratingID: -1,
		numericValue:    -1,
	}

	for i, header := range headers {
		headerLower := strings.ToLower(strings.TrimSpace(header))
		if headerLower == "" {
			continue
		}

		if cols.rowID == -1 && containsAny(headerLower, []string{"row id", "row_id", "record id", "reference no"}) {
			cols.rowID = i
		}

		if cols.rawName == -1 && containsAny(headerLower, []string{"client", "organisation", "organization", "entity name", "name"}) {
			cols.rawName = i
		}

		if cols.corroboratingID == -1 && containsAny(headerLower, []string{"case", "account", "identifier", "external id"}) {
			cols.corroboratingID = i
		}

		if cols.numericValue == -1 && containsAny(headerLower, []string{"amount", "value", "total"}) {
			cols.numericValue = i
		}
	}

	return cols
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseNumericCell handles thousands separators and currency prefixes
// that show up in exported amount columns.
func parseNumericCell(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimLeft(cleaned, "$€£ ")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	return strconv.ParseFloat(cleaned, 64)
}

func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
