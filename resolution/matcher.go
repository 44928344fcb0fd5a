package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"identityserver/database"
	"identityserver/extractors"
)

// reviewCandidateLimit caps how many fuzzy candidates travel with a
// review item.
const reviewCandidateLimit = 3

// Matcher runs the tiered resolution precedence against the canonical
// registry. Results are deterministic for a fixed registry state:
// repeated calls return identical tier, score and candidate.
type Matcher struct {
	registry       RegistryReader
	normalizer     *EntityNormalizer
	dealNormalizer *DealTextNormalizer
	signals        *SignalExtractor
	scorer         *Scorer
	logger         *slog.Logger
}

// NewMatcher wires a matcher from its collaborators.
func NewMatcher(registry RegistryReader, normalizer *EntityNormalizer, config ScorerConfig) *Matcher {
	return &Matcher{
		registry:       registry,
		normalizer:     normalizer,
		dealNormalizer: NewDealTextNormalizer(normalizer),
		signals:        NewSignalExtractor(config),
		scorer:         NewScorer(config),
		logger:         slog.Default().With("component", "matcher"),
	}
}

// Resolve maps one raw input to a match result. Registry failures are
// wrapped in ErrRegistryUnavailable and are fatal for this row only.
func (m *Matcher) Resolve(ctx context.Context, input Input) (*MatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Deal free text carries embedded reference numbers and dates that
	// would pollute the fuzzy signals; route it through the side channel.
	var normalized string
	if input.DealText {
		normalized = m.dealNormalizer.Normalize(input.RawText)
	} else {
		normalized = m.normalizer.Normalize(input.RawText)
	}
	result := &MatchResult{Input: input, NormalizedText: normalized}

	if normalized == "" {
		result.Kind = KindUnresolved
		result.Confidence = ConfidenceNone
		return result, nil
	}

	// Tier 1: exact canonical name
	entity, err := m.registry.LookupExact(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: exact lookup: %v", ErrRegistryUnavailable, err)
	}
	if entity != nil {
		return m.decisive(result, entity.ID, TierExact), nil
	}

	// Tier 2: active alias
	entity, err = m.registry.LookupAlias(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: alias lookup: %v", ErrRegistryUnavailable, err)
	}
	if entity != nil {
		return m.decisive(result, entity.ID, TierAlias), nil
	}

	// Tier 3: corroborating identifier. An exact business-key match on
	// exactly one candidate outranks any text heuristic.
	if extractors.IsUsableCorroboratingID(input.CorroboratingID) {
		id := extractors.NormalizeCorroboratingID(input.CorroboratingID)
		owners, err := m.registry.EntitiesByIdentifier(id)
		if err != nil {
			return nil, fmt.Errorf("%w: identifier lookup: %v", ErrRegistryUnavailable, err)
		}
		switch len(owners) {
		case 0:
			// unknown identifier, no signal either way
		case 1:
			candidate := m.decisive(result, owners[0], TierIDCorroborated)
			candidate.Best.Signals[SignalID] = 1.0
			return candidate, nil
		default:
			// ambiguous: non-decisive, fall through to the fuzzy tier
			m.logger.Warn("Ambiguous corroborating identifier",
				"identifier", id,
				"owners", len(owners),
				"reason", ErrAmbiguousCorroboratingID.Error())
		}
	}

	// Tier 4: fuzzy scan
	candidates, err := m.registry.AllCandidates()
	if err != nil {
		return nil, fmt.Errorf("%w: candidate scan: %v", ErrRegistryUnavailable, err)
	}

	ranked := m.rankCandidates(normalized, input, candidates)
	if len(ranked) > reviewCandidateLimit {
		result.Ranked = ranked[:reviewCandidateLimit]
	} else {
		result.Ranked = ranked
	}

	if len(ranked) == 0 || m.scorer.ConfidenceFor(ranked[0].Score) == ConfidenceNone {
		result.Kind = KindUnresolved
		result.Confidence = ConfidenceNone
		return result, nil
	}

	best := ranked[0]
	confidence := m.scorer.ConfidenceFor(best.Score)
	if confidence == ConfidenceLow {
		result.Kind = KindQueued
	} else {
		result.Kind = KindResolved
		result.Best = best
	}
	result.Confidence = confidence
	return result, nil
}

// decisive finalizes a short-circuit tier with score 1.0.
func (m *Matcher) decisive(result *MatchResult, entityID, tier string) *MatchResult {
	result.Kind = KindResolved
	result.Confidence = ConfidenceHigh
	result.Best = &MatchCandidate{
		RawText:  result.Input.RawText,
		EntityID: entityID,
		Score:    1.0,
		Tier:     tier,
		Signals:  map[string]float64{},
	}
	return result
}

// rankCandidates scores every registry candidate and returns the
// surviving ones sorted best first with a deterministic tie-break:
// higher score, then non-zero ID corroboration, then lexicographically
// smallest entity id.
func (m *Matcher) rankCandidates(normalized string, input Input, candidates []*database.CandidateEntity) []*MatchCandidate {
	scored := make([]*MatchCandidate, 0, len(candidates))

	for _, candidate := range candidates {
		signals := m.signals.Extract(normalized, input, candidate)
		score, included := m.scorer.Score(signals)
		if !included {
			continue
		}
		scored = append(scored, &MatchCandidate{
			RawText:  input.RawText,
			EntityID: candidate.ID,
			Score:    score,
			Tier:     TierFuzzy,
			Signals:  signals,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		idI := scored[i].Signals[SignalID]
		idJ := scored[j].Signals[SignalID]
		if idI != idJ {
			return idI > idJ
		}
		return scored[i].EntityID < scored[j].EntityID
	})

	return scored
}
