package resolution

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// AbbreviationTable is the versioned expansion table injected into the
// entity normalizer. It maps a lower-cased token (or multi-word phrase)
// to its expansion; an empty expansion drops the token as noise.
// Two normalizers built from the same table version always agree.
type AbbreviationTable struct {
	Version string            `json:"version"`
	Entries map[string]string `json:"entries"`
}

// DefaultAbbreviationTable returns the built-in table. Production
// deployments load a newer version from configuration instead.
func DefaultAbbreviationTable() *AbbreviationTable {
	return &AbbreviationTable{
		Version: "2024-09-builtin",
		Entries: map[string]string{
			"dept":  "",
			"govt":  "government",
			"intl":  "international",
			"natl":  "national",
			"uni":   "university",
			"hosp":  "hospital",
			"med":   "medical",
			"ctr":   "center",
			"grmc":  "guam regional medical city",
			"slmc":  "st lukes medical center",
			"wslhd": "western sydney local health district",
		},
	}
}

// LoadAbbreviationTable reads a table from a JSON file.
func LoadAbbreviationTable(path string) (*AbbreviationTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read abbreviation table: %w", err)
	}

	var table AbbreviationTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse abbreviation table %s: %w", path, err)
	}
	if table.Version == "" {
		return nil, fmt.Errorf("abbreviation table %s has no version", path)
	}

	// Keys are matched against already lower-cased tokens
	normalized := make(map[string]string, len(table.Entries))
	for k, v := range table.Entries {
		normalized[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	table.Entries = normalized

	return &table, nil
}

// Expand applies the table to a whitespace-tokenized, lower-cased
// string. Multi-word keys are applied first, longest key wins.
func (t *AbbreviationTable) Expand(text string) string {
	if t == nil || len(t.Entries) == 0 {
		return text
	}

	// Phrase entries (containing spaces) replace in-place. Applied
	// longest key first so overlapping phrases expand the same way on
	// every call; map iteration order must never leak into the output.
	var phraseKeys []string
	for key := range t.Entries {
		if strings.Contains(key, " ") {
			phraseKeys = append(phraseKeys, key)
		}
	}
	sort.Slice(phraseKeys, func(i, j int) bool {
		if len(phraseKeys[i]) != len(phraseKeys[j]) {
			return len(phraseKeys[i]) > len(phraseKeys[j])
		}
		return phraseKeys[i] < phraseKeys[j]
	})
	for _, key := range phraseKeys {
		if strings.Contains(text, key) {
			text = strings.ReplaceAll(text, key, t.Entries[key])
		}
	}

	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if expansion, ok := t.Entries[f]; ok {
			if expansion == "" {
				continue
			}
			out = append(out, expansion)
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
