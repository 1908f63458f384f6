package matching

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// RuleConfig holds the deterministic scoring parameters.
type RuleConfig struct {
	ScoreFloor            float64 // Entries below this are dropped (default: 0.3)
	PartyBonus            float64 // Added when candidate and entry share a party (default: 0.1)
	TieBand               float64 // Scores this close to the top count as competing (default: 0.05)
	SoleCandidate         bool    // Accept a lone above-floor entry without arbitration (default: true)
	SoleCandidateMinScore float64 // Minimum score for the sole-candidate shortcut (default: 0.6)
}

// DefaultRuleConfig returns sensible defaults.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		ScoreFloor:            0.3,
		PartyBonus:            0.1,
		TieBand:               0.05,
		SoleCandidate:         true,
		SoleCandidateMinScore: 0.6,
	}
}

// Verdict is what the rule scorer can conclude without the oracle.
type Verdict string

const (
	VerdictExact     Verdict = "exact"
	VerdictNone      Verdict = "none"
	VerdictSole      Verdict = "sole"
	VerdictAmbiguous Verdict = "ambiguous"
)

// Assessment is a verdict plus the entry it settled on, if any.
type Assessment struct {
	Verdict Verdict
	Top     *models.ScoredEntity
}

// RuleScorer ranks registry entries against a normalized candidate name.
type RuleScorer struct {
	cfg        RuleConfig
	normalizer *normalizers.NameNormalizer
	scorer     *Scorer
}

func NewRuleScorer(cfg RuleConfig, normalizer *normalizers.NameNormalizer) *RuleScorer {
	if normalizer == nil {
		normalizer = normalizers.NewNameNormalizer(nil)
	}
	return &RuleScorer{
		cfg:        cfg,
		normalizer: normalizer,
		scorer:     NewScorer(),
	}
}

// Score compares name, which must already be normalized, against every registry
// entry and returns the entries at or above the floor, best first. Registry names
// are normalized here; the candidate name is not normalized a second time.
func (r *RuleScorer) Score(name string, party *string, registry []models.CanonicalEntity) []models.ScoredEntity {
	candidateParty := partyKey(party)

	scored := make([]models.ScoredEntity, 0)
	for _, entity := range registry {
		entryName := r.normalizer.Normalize(entity.Name)

		s := models.ScoredEntity{
			EntityID:  entity.ID,
			Name:      entity.Name,
			PartyName: entity.PartyName,
		}

		if entryName != "" && entryName == name {
			s.Exact = true
			s.Score = 1.0
		} else {
			s.Score = r.scorer.Levenshtein(name, entryName)
			if candidateParty != "" && candidateParty == partyKey(entity.PartyName) {
				s.Score = min(s.Score+r.cfg.PartyBonus, 1.0)
			}
		}

		if s.Score < r.cfg.ScoreFloor {
			continue
		}
		scored = append(scored, s)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].EntityID < scored[j].EntityID
	})

	return scored
}

// Assess decides whether scored, as returned by Score, can be settled without
// the oracle.
func (r *RuleScorer) Assess(scored []models.ScoredEntity, party *string) Assessment {
	if len(scored) == 0 {
		return Assessment{Verdict: VerdictNone}
	}

	top := scored[0]
	if top.Exact && !r.competing(scored) {
		return Assessment{Verdict: VerdictExact, Top: &top}
	}

	if len(scored) == 1 && !top.Exact && r.cfg.SoleCandidate &&
		top.Score >= r.cfg.SoleCandidateMinScore && !partyMismatch(party, top.PartyName) {
		return Assessment{Verdict: VerdictSole, Top: &top}
	}

	return Assessment{Verdict: VerdictAmbiguous}
}

// competing reports whether any entry after the first lies within the tie band of the top score.
func (r *RuleScorer) competing(scored []models.ScoredEntity) bool {
	for _, s := range scored[1:] {
		if scored[0].Score-s.Score <= r.cfg.TieBand+1e-9 {
			return true
		}
	}
	return false
}

func partyKey(p *string) string {
	if p == nil {
		return ""
	}
	return normalizers.PartyKey(*p)
}

func partyMismatch(a, b *string) bool {
	ka, kb := partyKey(a), partyKey(b)
	return ka != "" && kb != "" && ka != kb
}
