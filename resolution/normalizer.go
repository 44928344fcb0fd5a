package resolution

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// legal and organizational suffixes stripped from entity names, longest
// first so "pte ltd" wins over "ltd".
var legalSuffixes = []string{
	"proprietary limited",
	"incorporated",
	"pte ltd",
	"pty ltd",
	"pty",
	"ltd",
	"limited",
	"llc",
	"llp",
	"inc",
	"corp",
	"corporation",
	"gmbh",
	"plc",
	"co",
}

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
	apostropheRe    = regexp.MustCompile("['’\x60]")
	punctuationRe   = regexp.MustCompile(`[.,;:!?"&/\\]`)

	// caseRefRe matches embedded case/quote reference numbers such as
	// "CS18946561" or "ORA-5521" inside deal free text.
	caseRefRe = regexp.MustCompile(`\b[A-Za-z]{2,5}-?\d{3,}\b`)

	// dateLikeRe matches date-looking digit runs: 2024-01-31, 31/01/2024,
	// 20240131, or bare 4+ digit runs.
	dateLikeRe = regexp.MustCompile(`\b\d{1,4}([-/.]\d{1,2}){1,2}([-/.]\d{1,4})?\b|\b\d{4,}\b`)
)

// EntityNormalizer canonicalizes organization names. The pipeline is a
// fixed order of total, pure steps, so Normalize is idempotent and two
// instances holding the same abbreviation table version always agree.
type EntityNormalizer struct {
	table *AbbreviationTable
}

// NewEntityNormalizer builds a normalizer around an injected
// abbreviation table. A nil table falls back to the built-in one.
func NewEntityNormalizer(table *AbbreviationTable) *EntityNormalizer {
	if table == nil {
		table = DefaultAbbreviationTable()
	}
	return &EntityNormalizer{table: table}
}

// TableVersion reports the abbreviation table version in use.
func (n *EntityNormalizer) TableVersion() string {
	return n.table.Version
}

// Normalize applies the canonicalization pipeline:
// lower-case, trim, drop parenthetical qualifiers, strip punctuation,
// strip legal suffixes, fold diacritics, collapse whitespace, expand
// abbreviations, collapse again.
func (n *EntityNormalizer) Normalize(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))

	text = parentheticalRe.ReplaceAllString(text, " ")
	text = apostropheRe.ReplaceAllString(text, "")
	text = punctuationRe.ReplaceAllString(text, " ")
	text = foldDiacritics(text)
	text = strings.Replace(text, "—", " ", -1)
	text = strings.Replace(text, "–", " ", -1)

	text = collapseWhitespace(text)
	text = stripLegalSuffixes(text)
	text = n.table.Expand(text)
	text = collapseWhitespace(text)

	return text
}

// DealTextNormalizer canonicalizes opportunity/deal free text. It
// strips embedded case-reference numbers and date-like digit runs
// before running the entity pipeline. This is a distinct transform and
// is never merged into EntityNormalizer.
type DealTextNormalizer struct {
	entity *EntityNormalizer
}

// NewDealTextNormalizer wraps an entity normalizer for deal text.
func NewDealTextNormalizer(entity *EntityNormalizer) *DealTextNormalizer {
	return &DealTextNormalizer{entity: entity}
}

// Normalize strips reference numbers and dates, then applies the
// entity pipeline.
func (d *DealTextNormalizer) Normalize(raw string) string {
	text := caseRefRe.ReplaceAllString(raw, " ")
	text = dateLikeRe.ReplaceAllString(text, " ")
	return d.entity.Normalize(text)
}

// stripLegalSuffixes repeatedly removes trailing legal suffixes so
// "acme holdings pty ltd" reduces to "acme holdings".
func stripLegalSuffixes(text string) string {
	for {
		stripped := false
		for _, suffix := range legalSuffixes {
			if text == suffix {
				continue
			}
			if strings.HasSuffix(text, " "+suffix) {
				text = strings.TrimSpace(strings.TrimSuffix(text, " "+suffix))
				stripped = true
			}
		}
		if !stripped {
			return text
		}
	}
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// foldDiacritics decomposes to NFD and drops combining marks, so
// "Côte" folds to "cote".
func foldDiacritics(text string) string {
	decomposed := norm.NFD.String(text)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return norm.NFC.String(b.String())
}
