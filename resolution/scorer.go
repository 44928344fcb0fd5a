package resolution

// ScorerConfig holds the weights and thresholds of the fuzzy tier.
// Defaults reproduce the production matcher behavior; they are
// configuration so two deployments can be compared signal by signal.
type ScorerConfig struct {
	WeightClient  float64
	WeightName    float64
	WeightKeyword float64

	// contribution floors: below these a signal is noise and counts as 0
	NameFloor    float64
	KeywordFloor float64
	ClientFloor  float64

	// flat numeric-proximity bonus, capped at a final score of 1.0
	NumericBonus        float64
	NumericRelTolerance float64
	NumericAbsTolerance float64

	// confidence tier cutoffs
	HighThreshold   float64
	MediumThreshold float64
	LowThreshold    float64
}

// DefaultScorerConfig returns the production weights.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		WeightClient:  0.3,
		WeightName:    0.4,
		WeightKeyword: 0.3,

		NameFloor:    0.7,
		KeywordFloor: 0.3,
		ClientFloor:  0.5,

		NumericBonus:        0.15,
		NumericRelTolerance: 0.20,
		NumericAbsTolerance: 5000,

		HighThreshold:   0.8,
		MediumThreshold: 0.6,
		LowThreshold:    0.5,
	}
}

// Scorer combines non-decisive signals into a weighted score and a
// confidence tier.
type Scorer struct {
	config ScorerConfig
}

// NewScorer builds a scorer from config.
func NewScorer(config ScorerConfig) *Scorer {
	return &Scorer{config: config}
}

// Score combines the signal map into a final score in [0,1].
// A zero client signal excludes the candidate: the returned score is 0
// and the second return is false.
// The score is monotonically non-decreasing in the name and keyword
// signals when the other signals are held fixed.
func (s *Scorer) Score(signals map[string]float64) (float64, bool) {
	client := signals[SignalClient]
	if client == 0 {
		return 0, false
	}

	score := s.config.WeightClient*client +
		s.config.WeightName*signals[SignalName] +
		s.config.WeightKeyword*signals[SignalKeyword]

	if signals[SignalNumeric] > 0 {
		score += s.config.NumericBonus
	}
	if score > 1.0 {
		score = 1.0
	}

	return score, true
}

// ConfidenceFor buckets a fuzzy score into its confidence tier.
func (s *Scorer) ConfidenceFor(score float64) Confidence {
	switch {
	case score >= s.config.HighThreshold:
		return ConfidenceHigh
	case score >= s.config.MediumThreshold:
		return ConfidenceMedium
	case score >= s.config.LowThreshold:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}
