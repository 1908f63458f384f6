package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

func ptr(s string) *string { return &s }

func newRuleScorer(cfg RuleConfig) *RuleScorer {
	return NewRuleScorer(cfg, normalizers.NewNameNormalizer(nil))
}

func TestScorer_Levenshtein(t *testing.T) {
	s := NewScorer()
	tests := []struct {
		a, b string
		want float64
	}{
		{"山田太郎", "山田太郎", 1.0},
		{"山田太郎", "山田次郎", 0.75},
		{"田中一郎", "佐藤花子", 0.0},
		{"", "", 1.0},
		{"abc", "", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Levenshtein(tt.a, tt.b), 1e-9)
		})
	}

	assert.Equal(t, 1, s.LevenshteinDistance("田中一郎", "田中一朗"))
	assert.Equal(t, 1.0, s.ExactMatch("a", "a"))
	assert.Equal(t, 0.0, s.ExactMatch("a", "b"))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 0.85, Round2(0.8500000000000001))
	assert.Equal(t, 0.7, Round2(0.7))
	assert.Equal(t, 0.12, Round2(0.123))
}

func TestRuleScorer_Score(t *testing.T) {
	r := newRuleScorer(DefaultRuleConfig())

	registry := []models.CanonicalEntity{
		{ID: "p3", Name: "山本一子"},
		{ID: "p2", Name: "山田次郎"},
		{ID: "p1", Name: "山田太郎 議員"},
		{ID: "p0", Name: "山田三郎"},
	}

	scored := r.Score("山田太郎", nil, registry)
	require.Len(t, scored, 3)

	assert.Equal(t, "p1", scored[0].EntityID)
	assert.True(t, scored[0].Exact)
	assert.Equal(t, 1.0, scored[0].Score)
	assert.Equal(t, "山田太郎 議員", scored[0].Name)

	// Equal scores fall back to entity id order.
	assert.Equal(t, "p0", scored[1].EntityID)
	assert.Equal(t, "p2", scored[2].EntityID)
	assert.InDelta(t, 0.75, scored[1].Score, 1e-9)
}

func TestRuleScorer_PartyBonus(t *testing.T) {
	r := newRuleScorer(DefaultRuleConfig())

	registry := []models.CanonicalEntity{
		{ID: "p1", Name: "田中一朗", PartyName: ptr("自由民主党")},
		{ID: "p2", Name: "田中市郎", PartyName: ptr("立憲民主党")},
		{ID: "p3", Name: "田中一郎", PartyName: ptr("自由民主党")},
	}

	scored := r.Score("田中一郎", ptr("自由 民主党"), registry)
	require.Len(t, scored, 3)

	// Exact matches are never bonused past 1.0.
	assert.Equal(t, "p3", scored[0].EntityID)
	assert.Equal(t, 1.0, scored[0].Score)
	assert.Equal(t, "p1", scored[1].EntityID)
	assert.InDelta(t, 0.85, scored[1].Score, 1e-9)
	assert.Equal(t, "p2", scored[2].EntityID)
	assert.InDelta(t, 0.75, scored[2].Score, 1e-9)
}

func TestRuleScorer_Assess(t *testing.T) {
	r := newRuleScorer(DefaultRuleConfig())

	tests := []struct {
		name    string
		scored  []models.ScoredEntity
		party   *string
		verdict Verdict
		top     string
	}{
		{
			name:    "nothing above floor",
			verdict: VerdictNone,
		},
		{
			name:    "single exact",
			scored:  []models.ScoredEntity{{EntityID: "p1", Score: 1, Exact: true}},
			verdict: VerdictExact,
			top:     "p1",
		},
		{
			name: "exact with distant runner-up",
			scored: []models.ScoredEntity{
				{EntityID: "p1", Score: 1, Exact: true},
				{EntityID: "p2", Score: 0.75},
			},
			verdict: VerdictExact,
			top:     "p1",
		},
		{
			name: "exact with runner-up inside tie band",
			scored: []models.ScoredEntity{
				{EntityID: "p1", Score: 1, Exact: true},
				{EntityID: "p2", Score: 0.95},
			},
			verdict: VerdictAmbiguous,
		},
		{
			name: "two exact matches",
			scored: []models.ScoredEntity{
				{EntityID: "p1", Score: 1, Exact: true},
				{EntityID: "p2", Score: 1, Exact: true},
			},
			verdict: VerdictAmbiguous,
		},
		{
			name:    "sole candidate",
			scored:  []models.ScoredEntity{{EntityID: "p1", Score: 0.75}},
			verdict: VerdictSole,
			top:     "p1",
		},
		{
			name:    "sole candidate below shortcut minimum",
			scored:  []models.ScoredEntity{{EntityID: "p1", Score: 0.5}},
			verdict: VerdictAmbiguous,
		},
		{
			name:    "sole candidate with conflicting party",
			scored:  []models.ScoredEntity{{EntityID: "p1", Score: 0.75, PartyName: ptr("立憲民主党")}},
			party:   ptr("自由民主党"),
			verdict: VerdictAmbiguous,
		},
		{
			name:    "sole candidate with unknown entry party",
			scored:  []models.ScoredEntity{{EntityID: "p1", Score: 0.75}},
			party:   ptr("自由民主党"),
			verdict: VerdictSole,
			top:     "p1",
		},
		{
			name: "several fuzzy candidates",
			scored: []models.ScoredEntity{
				{EntityID: "p1", Score: 0.81},
				{EntityID: "p2", Score: 0.79},
			},
			verdict: VerdictAmbiguous,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := r.Assess(tt.scored, tt.party)
			assert.Equal(t, tt.verdict, a.Verdict)
			if tt.top == "" {
				assert.Nil(t, a.Top)
			} else {
				require.NotNil(t, a.Top)
				assert.Equal(t, tt.top, a.Top.EntityID)
			}
		})
	}
}

func TestRuleScorer_SoleCandidateDisabled(t *testing.T) {
	cfg := DefaultRuleConfig()
	cfg.SoleCandidate = false
	r := newRuleScorer(cfg)

	a := r.Assess([]models.ScoredEntity{{EntityID: "p1", Score: 0.9}}, nil)
	assert.Equal(t, VerdictAmbiguous, a.Verdict)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		confidence float64
		want       models.MatchStatus
	}{
		{1.0, models.MatchStatusMatched},
		{0.85, models.MatchStatusMatched},
		{0.70, models.MatchStatusMatched},
		{0.69, models.MatchStatusNeedsReview},
		{0.55, models.MatchStatusNeedsReview},
		{0.50, models.MatchStatusNeedsReview},
		{0.49, models.MatchStatusNoMatch},
		{0.0, models.MatchStatusNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.confidence, 0.7, 0.5))
		})
	}
}
