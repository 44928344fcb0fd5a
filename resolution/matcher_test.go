package resolution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"identityserver/database"
)

// fakeRegistry is an in-memory RegistryReader for matcher tests.
type fakeRegistry struct {
	exact       map[string]*database.CanonicalEntity
	aliases     map[string]*database.CanonicalEntity
	identifiers map[string][]string
	candidates  []*database.CandidateEntity
	err         error
}

func (f *fakeRegistry) LookupExact(normalizedText string) (*database.CanonicalEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.exact[normalizedText], nil
}

func (f *fakeRegistry) LookupAlias(normalizedText string) (*database.CanonicalEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.aliases[normalizedText], nil
}

func (f *fakeRegistry) EntitiesByIdentifier(identifier string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identifiers[identifier], nil
}

func (f *fakeRegistry) AllCandidates() ([]*database.CandidateEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func newTestMatcher(registry *fakeRegistry) *Matcher {
	return NewMatcher(registry, NewEntityNormalizer(DefaultAbbreviationTable()), DefaultScorerConfig())
}

func TestResolveExactTier(t *testing.T) {
	registry := &fakeRegistry{
		exact: map[string]*database.CanonicalEntity{
			"sa health": {ID: "ent-sa-health", CanonicalName: "SA Health", NormalizedName: "sa health"},
		},
	}
	matcher := newTestMatcher(registry)

	result, err := matcher.Resolve(context.Background(), Input{RawText: "SA Health"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Kind != KindResolved {
		t.Errorf("Kind = %q, want %q", result.Kind, KindResolved)
	}
	if result.Best == nil || result.Best.EntityID != "ent-sa-health" {
		t.Fatalf("Best = %+v, want entity ent-sa-health", result.Best)
	}
	if result.Best.Tier != TierExact {
		t.Errorf("Tier = %q, want %q", result.Best.Tier, TierExact)
	}
	if result.Best.Score != 1.0 {
		t.Errorf("Score = %v, want 1.0", result.Best.Score)
	}
	if result.Confidence != ConfidenceHigh {
		t.Errorf("Confidence = %q, want %q", result.Confidence, ConfidenceHigh)
	}
}

func TestResolveAliasTier(t *testing.T) {
	registry := &fakeRegistry{
		aliases: map[string]*database.CanonicalEntity{
			"sahealth": {ID: "ent-sa-health", CanonicalName: "SA Health", NormalizedName: "sa health"},
		},
	}
	matcher := newTestMatcher(registry)

	result, err := matcher.Resolve(context.Background(), Input{RawText: "SAHealth"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Kind != KindResolved || result.Best == nil {
		t.Fatalf("result = %+v, want resolved with Best set", result)
	}
	if result.Best.Tier != TierAlias {
		t.Errorf("Tier = %q, want %q", result.Best.Tier, TierAlias)
	}
	if result.Best.EntityID != "ent-sa-health" {
		t.Errorf("EntityID = %q, want ent-sa-health", result.Best.EntityID)
	}
}

func TestResolveDealTextStripsEmbeddedReferences(t *testing.T) {
	registry := &fakeRegistry{
		exact: map[string]*database.CanonicalEntity{
			"sa health": {ID: "ent-sa-health", CanonicalName: "SA Health", NormalizedName: "sa health"},
		},
	}
	matcher := newTestMatcher(registry)

	result, err := matcher.Resolve(context.Background(), Input{RawText: "SA Health CS18946561", DealText: true})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.NormalizedText != "sa health" {
		t.Errorf("NormalizedText = %q, want \"sa health\"", result.NormalizedText)
	}
	if result.Kind != KindResolved || result.Best == nil || result.Best.Tier != TierExact {
		t.Fatalf("result = %+v, want exact match on the stripped text", result)
	}

	// Without the flag the reference number stays in and blocks the match
	plain, err := matcher.Resolve(context.Background(), Input{RawText: "SA Health CS18946561"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if plain.Kind == KindResolved {
		t.Errorf("Kind = %q, want the polluted text not to match exactly", plain.Kind)
	}
}

func TestResolveIDCorroboratedDecisive(t *testing.T) {
	// Text alone is nothing like the registry; the identifier decides.
	registry := &fakeRegistry{
		identifiers: map[string][]string{
			"ORA-5521": {"ent-st-lukes"},
		},
		candidates: []*database.CandidateEntity{
			{ID: "ent-queensland-rail", NormalizedName: "queensland rail"},
		},
	}
	matcher := newTestMatcher(registry)

	result, err := matcher.Resolve(context.Background(), Input{
		RawText:         "renewal per quote",
		CorroboratingID: "ora-5521",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Kind != KindResolved || result.Best == nil {
		t.Fatalf("result = %+v, want resolved with Best set", result)
	}
	if result.Best.Tier != TierIDCorroborated {
		t.Errorf("Tier = %q, want %q", result.Best.Tier, TierIDCorroborated)
	}
	if result.Best.EntityID != "ent-st-lukes" {
		t.Errorf("EntityID = %q, want ent-st-lukes", result.Best.EntityID)
	}
	if result.Best.Score != 1.0 {
		t.Errorf("Score = %v, want 1.0", result.Best.Score)
	}
	if result.Best.Signals[SignalID] != 1.0 {
		t.Errorf("id signal = %v, want 1.0", result.Best.Signals[SignalID])
	}
}

func TestResolveAmbiguousIdentifierFallsThrough(t *testing.T) {
	// Two owners claim the identifier, so it is non-decisive. The fuzzy
	// tier still gets the id signal as a tie-break between the owners.
	registry := &fakeRegistry{
		identifiers: map[string][]string{
			"ORA-5521": {"ent-a", "ent-z"},
		},
		candidates: []*database.CandidateEntity{
			{ID: "ent-a", NormalizedName: "wa health"},
			{ID: "ent-z", NormalizedName: "wa health", Identifiers: []string{"ORA-5521"}},
		},
	}
	matcher := newTestMatcher(registry)

	result, err := matcher.Resolve(context.Background(), Input{
		RawText:         "WA Health",
		CorroboratingID: "ORA-5521",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Best == nil || result.Best.Tier != TierFuzzy {
		t.Fatalf("Best = %+v, want a fuzzy-tier match", result.Best)
	}
	if result.Best.EntityID != "ent-z" {
		t.Errorf("EntityID = %q, want ent-z (id corroboration breaks the tie)", result.Best.EntityID)
	}
}

func TestResolveFuzzyHighConfidence(t *testing.T) {
	registry := &fakeRegistry{
		candidates: []*database.CandidateEntity{
			{ID: "ent-wa-health", CanonicalName: "WA Health", NormalizedName: "wa health"},
			{ID: "ent-queensland-rail", CanonicalName: "Queensland Rail", NormalizedName: "queensland rail"},
		},
	}
	matcher := newTestMatcher(registry)

	result, err := matcher.Resolve(context.Background(), Input{RawText: "WA Dept of Health"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Kind != KindResolved || result.Best == nil {
		t.Fatalf("result kind = %q, want resolved with Best set", result.Kind)
	}
	if result.Best.EntityID != "ent-wa-health" {
		t.Errorf("EntityID = %q, want ent-wa-health", result.Best.EntityID)
	}
	if result.Best.Tier != TierFuzzy {
		t.Errorf("Tier = %q, want %q", result.Best.Tier, TierFuzzy)
	}
	// 0.3*0.75 client + 0.4*0.75 name + 0.3*1.0 keyword
	if math.Abs(result.Best.Score-0.825) > 1e-9 {
		t.Errorf("Score = %v, want 0.825", result.Best.Score)
	}
	if result.Confidence != ConfidenceHigh {
		t.Errorf("Confidence = %q, want %q", result.Confidence, ConfidenceHigh)
	}
}

func TestResolveUnresolvedNoPlausibleCandidate(t *testing.T) {
	registry := &fakeRegistry{
		candidates: []*database.CandidateEntity{
			{ID: "ent-wa-health", NormalizedName: "wa health"},
			{ID: "ent-queensland-rail", NormalizedName: "queensland rail"},
		},
	}
	matcher := newTestMatcher(registry)

	result, err := matcher.Resolve(context.Background(), Input{RawText: "XYZ Unknown Clinic"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Kind != KindUnresolved {
		t.Errorf("Kind = %q, want %q", result.Kind, KindUnresolved)
	}
	if result.Confidence != ConfidenceNone {
		t.Errorf("Confidence = %q, want %q", result.Confidence, ConfidenceNone)
	}
	if result.Best != nil {
		t.Errorf("Best = %+v, want nil", result.Best)
	}
}

func TestResolveLowConfidenceQueues(t *testing.T) {
	// Same candidate pair as the high-confidence case but with raised
	// cutoffs, so 0.825 lands in the low band.
	config := DefaultScorerConfig()
	config.HighThreshold = 0.95
	config.MediumThreshold = 0.90
	config.LowThreshold = 0.5

	registry := &fakeRegistry{
		candidates: []*database.CandidateEntity{
			{ID: "ent-wa-health", NormalizedName: "wa health"},
		},
	}
	matcher := NewMatcher(registry, NewEntityNormalizer(DefaultAbbreviationTable()), config)

	result, err := matcher.Resolve(context.Background(), Input{RawText: "WA Dept of Health"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Kind != KindQueued {
		t.Errorf("Kind = %q, want %q", result.Kind, KindQueued)
	}
	if result.Confidence != ConfidenceLow {
		t.Errorf("Confidence = %q, want %q", result.Confidence, ConfidenceLow)
	}
	if result.Best != nil {
		t.Errorf("Best = %+v, want nil for a queued result", result.Best)
	}
	if len(result.Ranked) != 1 || result.Ranked[0].EntityID != "ent-wa-health" {
		t.Fatalf("Ranked = %+v, want single ent-wa-health candidate", result.Ranked)
	}
}

func TestResolveMediumConfidenceFlagged(t *testing.T) {
	config := DefaultScorerConfig()
	config.HighThreshold = 0.90

	registry := &fakeRegistry{
		candidates: []*database.CandidateEntity{
			{ID: "ent-wa-health", NormalizedName: "wa health"},
		},
	}
	matcher := NewMatcher(registry, NewEntityNormalizer(DefaultAbbreviationTable()), config)

	result, err := matcher.Resolve(context.Background(), Input{RawText: "WA Dept of Health"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Kind != KindResolved {
		t.Errorf("Kind = %q, want %q", result.Kind, KindResolved)
	}
	if result.Confidence != ConfidenceMedium {
		t.Errorf("Confidence = %q, want %q", result.Confidence, ConfidenceMedium)
	}
	if result.Best == nil || result.Best.EntityID != "ent-wa-health" {
		t.Fatalf("Best = %+v, want ent-wa-health", result.Best)
	}
}

func TestResolveTieBreakByEntityID(t *testing.T) {
	registry := &fakeRegistry{
		candidates: []*database.CandidateEntity{
			{ID: "ent-b", NormalizedName: "wa health"},
			{ID: "ent-a", NormalizedName: "wa health"},
		},
	}
	matcher := newTestMatcher(registry)

	result, err := matcher.Resolve(context.Background(), Input{RawText: "WA Health"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(result.Ranked) != 2 {
		t.Fatalf("len(Ranked) = %d, want 2", len(result.Ranked))
	}
	if result.Ranked[0].EntityID != "ent-a" {
		t.Errorf("Ranked[0] = %q, want ent-a (smallest id wins equal scores)", result.Ranked[0].EntityID)
	}
}

func TestResolveRankedCapped(t *testing.T) {
	registry := &fakeRegistry{}
	for i := 0; i < 5; i++ {
		registry.candidates = append(registry.candidates, &database.CandidateEntity{
			ID:             fmt.Sprintf("ent-%d", i),
			NormalizedName: "wa health",
		})
	}
	matcher := newTestMatcher(registry)

	result, err := matcher.Resolve(context.Background(), Input{RawText: "WA Health"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(result.Ranked) != reviewCandidateLimit {
		t.Errorf("len(Ranked) = %d, want %d", len(result.Ranked), reviewCandidateLimit)
	}
}

func TestResolveDeterministic(t *testing.T) {
	registry := &fakeRegistry{
		candidates: []*database.CandidateEntity{
			{ID: "ent-wa-health", NormalizedName: "wa health"},
			{ID: "ent-wa-police", NormalizedName: "wa police"},
			{ID: "ent-sa-health", NormalizedName: "sa health"},
		},
	}
	matcher := newTestMatcher(registry)

	first, err := matcher.Resolve(context.Background(), Input{RawText: "WA Dept of Health"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := matcher.Resolve(context.Background(), Input{RawText: "WA Dept of Health"})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if again.Best == nil || again.Best.EntityID != first.Best.EntityID || again.Best.Score != first.Best.Score {
			t.Fatalf("run %d: Best = %+v, want %+v", i, again.Best, first.Best)
		}
		if len(again.Ranked) != len(first.Ranked) {
			t.Fatalf("run %d: len(Ranked) = %d, want %d", i, len(again.Ranked), len(first.Ranked))
		}
		for j := range again.Ranked {
			if again.Ranked[j].EntityID != first.Ranked[j].EntityID {
				t.Fatalf("run %d: Ranked[%d] = %q, want %q", i, j, again.Ranked[j].EntityID, first.Ranked[j].EntityID)
			}
		}
	}
}

func TestResolveEmptyTextUnresolved(t *testing.T) {
	matcher := newTestMatcher(&fakeRegistry{})

	result, err := matcher.Resolve(context.Background(), Input{RawText: "   "})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Kind != KindUnresolved {
		t.Errorf("Kind = %q, want %q", result.Kind, KindUnresolved)
	}
}

func TestResolveRegistryFailure(t *testing.T) {
	matcher := newTestMatcher(&fakeRegistry{err: errors.New("database is locked")})

	_, err := matcher.Resolve(context.Background(), Input{RawText: "SA Health"})
	if err == nil {
		t.Fatal("Resolve() error = nil, want registry failure")
	}
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Errorf("error = %v, want ErrRegistryUnavailable", err)
	}
}

func TestResolveCanceledContext(t *testing.T) {
	matcher := newTestMatcher(&fakeRegistry{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := matcher.Resolve(ctx, Input{RawText: "SA Health"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
