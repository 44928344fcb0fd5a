package extractors

import (
	"fmt"
	"regexp"
	"strings"
)

// MinCorroboratingIDLength is the cutoff below which an identifier is
// treated as noise rather than a matching signal.
const MinCorroboratingIDLength = 3

var (
	// labeledIDRe finds labeled identifiers: "Quote: ORA-5521",
	// "agreement no. CS18946561".
	labeledIDRe = regexp.MustCompile(`(?i)(?:quote|agreement|contract|ref(?:erence)?|order)\s*(?:no\.?|number|#|:)?\s*([A-Za-z]{2,5}-?\d{3,})`)

	// bareIDRe finds bare reference tokens: a short alpha prefix glued
	// to a digit run, e.g. "ORA-5521", "CS18946561".
	bareIDRe = regexp.MustCompile(`\b([A-Za-z]{2,5}-\d{3,}|[A-Za-z]{2,3}\d{5,})\b`)
)

// ExtractCorroboratingID pulls a quote/agreement reference out of free
// text. Labeled identifiers win over bare tokens. Returns an error when
// no plausible identifier is present.
func ExtractCorroboratingID(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty text")
	}

	if matches := labeledIDRe.FindStringSubmatch(text); len(matches) > 1 {
		return NormalizeCorroboratingID(matches[1]), nil
	}

	if matches := bareIDRe.FindStringSubmatch(text); len(matches) > 1 {
		return NormalizeCorroboratingID(matches[1]), nil
	}

	return "", fmt.Errorf("no corroborating identifier found")
}

// NormalizeCorroboratingID upper-cases and trims an identifier so that
// "ora-5521 " and "ORA-5521" compare equal.
func NormalizeCorroboratingID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// IsUsableCorroboratingID reports whether an identifier is long enough
// to act as a matching signal. Short or empty identifiers are ignored,
// never raised as errors.
func IsUsableCorroboratingID(id string) bool {
	return len(strings.TrimSpace(id)) >= MinCorroboratingIDLength
}
