package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from MatchStatus
		to   MatchStatus
		want bool
	}{
		{MatchStatusPending, MatchStatusMatched, true},
		{MatchStatusPending, MatchStatusNeedsReview, true},
		{MatchStatusPending, MatchStatusNoMatch, true},
		{MatchStatusPending, MatchStatusPending, false},
		{MatchStatusMatched, MatchStatusNoMatch, false},
		{MatchStatusMatched, MatchStatusNeedsReview, false},
		{MatchStatusNeedsReview, MatchStatusMatched, false},
		{MatchStatusNoMatch, MatchStatusMatched, false},
		{MatchStatusMatched, MatchStatusPending, true},
		{MatchStatusNeedsReview, MatchStatusPending, true},
		{MatchStatusNoMatch, MatchStatusPending, true},
		{MatchStatus("bogus"), MatchStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestMatchStatus_Scan(t *testing.T) {
	var s MatchStatus
	require.NoError(t, s.Scan([]byte("needs_review")))
	assert.Equal(t, MatchStatusNeedsReview, s)

	require.NoError(t, s.Scan("no_match"))
	assert.Equal(t, MatchStatusNoMatch, s)

	assert.Error(t, s.Scan("matched_maybe"))
	assert.Error(t, s.Scan(42))
}

func TestMatchStatus_Value(t *testing.T) {
	v, err := MatchStatusMatched.Value()
	require.NoError(t, err)
	assert.Equal(t, "matched", v)

	_, err = MatchStatus("").Value()
	assert.Error(t, err)
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("group_member")
	require.NoError(t, err)
	assert.Equal(t, FamilyGroupMember, f)
	assert.Equal(t, "group_memberships", f.Tables().Affiliations)

	_, err = ParseFamily("committee")
	assert.Error(t, err)
}

func TestFamilyTables_Distinct(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range Families {
		tables := f.Tables()
		assert.False(t, seen[tables.Candidates], "candidate table reused: %s", tables.Candidates)
		assert.False(t, seen[tables.Affiliations], "affiliation table reused: %s", tables.Affiliations)
		seen[tables.Candidates] = true
		seen[tables.Affiliations] = true
	}
}

func TestStatusCounts_Total(t *testing.T) {
	counts := StatusCounts{MatchStatusPending: 2, MatchStatusMatched: 3}
	assert.Equal(t, int64(5), counts.Total())
}
