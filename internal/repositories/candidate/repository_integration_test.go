//go:build integration

package candidate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/pgtest"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestRepository_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(pgtest.New(t), logging.Discard())
	family := models.FamilyBodyMember

	c := &models.ExtractionCandidate{ScopeID: "body-1", ExtractedName: "山田太郎", ExtractedRole: "委員", SourceURL: "https://example.jp/a"}
	inserted, err := repo.Upsert(ctx, family, c)
	require.NoError(t, err)
	assert.True(t, inserted)
	firstID := c.ID

	resolved, err := repo.Resolve(ctx, family, firstID, models.Resolution{
		Status:          models.MatchStatusMatched,
		MatchedEntityID: strPtr("p1"),
		Confidence:      1,
		Notes:           "exact name match",
		MatchedAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, resolved)

	again := &models.ExtractionCandidate{ScopeID: "body-1", ExtractedName: "山田太郎", ExtractedRole: "委員長", SourceURL: "https://example.jp/b"}
	inserted, err = repo.Upsert(ctx, family, again)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, firstID, again.ID)

	stored, err := repo.Get(ctx, family, firstID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "委員長", stored.ExtractedRole)
	assert.Equal(t, "https://example.jp/b", stored.SourceURL)
	assert.Equal(t, models.MatchStatusMatched, stored.Status)
	assert.Equal(t, "p1", *stored.MatchedEntityID)
	assert.Equal(t, 1.0, *stored.Confidence)

	counts, err := repo.StatusCounts(ctx, family, "body-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Total())
	assert.Equal(t, int64(1), counts[models.MatchStatusMatched])
}

func TestRepository_ResolveOnlyPending(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(pgtest.New(t), logging.Discard())
	family := models.FamilyGroupMember

	c := &models.ExtractionCandidate{ScopeID: "group-1", ExtractedName: "田中一郎"}
	_, err := repo.Upsert(ctx, family, c)
	require.NoError(t, err)

	review := models.Resolution{Status: models.MatchStatusNeedsReview, Confidence: 0.55, Notes: "similar", MatchedAt: time.Now().UTC()}
	ok, err := repo.Resolve(ctx, family, c.ID, review)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Resolve(ctx, family, c.ID, models.Resolution{Status: models.MatchStatusNoMatch, MatchedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := repo.ListPending(ctx, family, "group-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err := repo.ResetScope(ctx, family, "group-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err = repo.ListPending(ctx, family, "group-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].Confidence)
	assert.Nil(t, pending[0].Notes)
}

func TestRepository_ScopesAndLists(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(pgtest.New(t), logging.Discard())
	family := models.FamilyVoteJudgment

	for _, c := range []*models.ExtractionCandidate{
		{ScopeID: "bill-2", ExtractedName: "自由民主党", ExtractedRole: "賛成"},
		{ScopeID: "bill-1", ExtractedName: "立憲民主党", ExtractedRole: "反対"},
		{ScopeID: "bill-1", ExtractedName: "公明党", ExtractedRole: "賛成"},
	} {
		_, err := repo.Upsert(ctx, family, c)
		require.NoError(t, err)
	}

	scopes, err := repo.DistinctScopes(ctx, family)
	require.NoError(t, err)
	assert.Equal(t, []string{"bill-1", "bill-2"}, scopes)

	pending, err := repo.ListPending(ctx, family, "bill-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	_, err = repo.Resolve(ctx, family, pending[0].ID, models.Resolution{
		Status: models.MatchStatusMatched, MatchedEntityID: strPtr("g1"), Confidence: 0.9, MatchedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	matched, err := repo.ListMatched(ctx, family, "bill-1")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "g1", *matched[0].MatchedEntityID)

	status := models.MatchStatusPending
	listed, err := repo.List(ctx, family, ListFilter{ScopeID: models.AllScopes, Status: &status})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	counts, err := repo.StatusCounts(ctx, family, models.AllScopes)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Total())
	assert.Equal(t, int64(0), counts[models.MatchStatusNoMatch])
}
