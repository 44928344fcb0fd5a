package resolution

import (
	"math"

	"identityserver/database"
	"identityserver/extractors"
	"identityserver/resolution/algorithms"
)

// SignalExtractor computes the per-candidate match signals. All
// functions are pure: candidate in, signal values out, no shared state,
// so the fuzzy scan can fan out across workers safely.
type SignalExtractor struct {
	tokenizer *algorithms.Tokenizer
	config    ScorerConfig
}

// NewSignalExtractor builds a signal extractor sharing the scorer's
// thresholds.
func NewSignalExtractor(config ScorerConfig) *SignalExtractor {
	return &SignalExtractor{
		tokenizer: algorithms.NewTokenizer(),
		config:    config,
	}
}

// Extract computes the signal map for one candidate against the
// normalized input text. A zero client signal means the candidate must
// be excluded from scoring entirely.
func (se *SignalExtractor) Extract(normalizedText string, input Input, candidate *database.CandidateEntity) map[string]float64 {
	signals := make(map[string]float64, 5)

	rawNameSim := algorithms.LevenshteinSimilarity(normalizedText, candidate.NormalizedName)

	// Below the floor, edit-distance similarity is noise, not signal
	nameSim := 0.0
	if rawNameSim >= se.config.NameFloor {
		nameSim = rawNameSim
	}
	signals[SignalName] = nameSim

	keywordSim := algorithms.JaccardSimilarity(
		se.tokenizer.TokenSet(normalizedText),
		se.tokenizer.TokenSet(candidate.NormalizedName),
	)
	if keywordSim < se.config.KeywordFloor {
		keywordSim = 0
	}
	signals[SignalKeyword] = keywordSim

	// The client signal gates the candidate: without at least a weak
	// client-level agreement the candidate is excluded, which keeps two
	// same-named deals under different clients apart.
	clientSignal := 0.0
	switch {
	case normalizedText == candidate.NormalizedName:
		clientSignal = 1.0
	case rawNameSim >= se.config.ClientFloor:
		clientSignal = rawNameSim
	}
	signals[SignalClient] = clientSignal

	signals[SignalID] = se.idSignal(input.CorroboratingID, candidate)
	signals[SignalNumeric] = se.numericSignal(input.NumericValue, candidate)

	return signals
}

// idSignal is 1.0 when a usable corroborating identifier matches one of
// the candidate's known identifiers. Short identifiers are silently
// ignored as a signal, never raised.
func (se *SignalExtractor) idSignal(corroboratingID string, candidate *database.CandidateEntity) float64 {
	if !extractors.IsUsableCorroboratingID(corroboratingID) {
		return 0
	}
	id := extractors.NormalizeCorroboratingID(corroboratingID)
	for _, known := range candidate.Identifiers {
		if extractors.NormalizeCorroboratingID(known) == id {
			return 1.0
		}
	}
	return 0
}

// numericSignal is 1.0 when the supplied magnitude falls within the
// relative or absolute tolerance of the candidate's reference value.
func (se *SignalExtractor) numericSignal(value *float64, candidate *database.CandidateEntity) float64 {
	if value == nil || candidate.ReferenceValue == 0 {
		return 0
	}

	diff := math.Abs(*value - candidate.ReferenceValue)
	if diff <= se.config.NumericAbsTolerance {
		return 1.0
	}
	if diff <= se.config.NumericRelTolerance*math.Abs(candidate.ReferenceValue) {
		return 1.0
	}
	return 0
}
