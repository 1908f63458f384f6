package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/affiliation"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

var _ affiliation.Listener = (*Projector)(nil)

type recordingWriter struct {
	queries []string
	params  []map[string]any
	err     error
}

func (w *recordingWriter) Write(_ context.Context, cypher string, params map[string]any) error {
	w.queries = append(w.queries, cypher)
	w.params = append(w.params, params)
	return w.err
}

func TestProjector_Opened(t *testing.T) {
	w := &recordingWriter{}
	p := NewProjector(w, logging.Discard())

	rec := models.AffiliationRecord{ID: "a1", EntityID: "p1", ScopeID: "body-1", Role: "委員", StartDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, p.AffiliationOpened(context.Background(), models.FamilyBodyMember, rec))

	require.Len(t, w.queries, 1)
	assert.Contains(t, w.queries[0], "MERGE (a:Actor:Politician {id: $entity_id})")
	assert.Contains(t, w.queries[0], "MERGE (s:Scope:Body {id: $scope_id})")

	params := w.params[0]
	assert.Equal(t, "a1", params["id"])
	assert.Equal(t, "p1", params["entity_id"])
	props := params["props"].(map[string]any)
	assert.Equal(t, "2024-04-01", props["start"])
	assert.Nil(t, props["end"])
	assert.Equal(t, "body_member", props["family"])
}

func TestProjector_Closed(t *testing.T) {
	w := &recordingWriter{}
	p := NewProjector(w, logging.Discard())

	end := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)
	rec := models.AffiliationRecord{ID: "a1", EntityID: "g1", ScopeID: "bill-7", Role: "賛成", StartDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), EndDate: &end}
	require.NoError(t, p.AffiliationClosed(context.Background(), models.FamilyVoteJudgment, rec))

	assert.Contains(t, w.queries[0], "Actor:Group")
	assert.Contains(t, w.queries[0], "Scope:Proposal")
	assert.Equal(t, "2024-09-30", w.params[0]["props"].(map[string]any)["end"])
}

func TestProjector_WriteError(t *testing.T) {
	p := NewProjector(&recordingWriter{err: errors.New("bolt unavailable")}, logging.Discard())

	err := p.AffiliationOpened(context.Background(), models.FamilyGroupMember, models.AffiliationRecord{ID: "a1"})
	assert.EqualError(t, err, "bolt unavailable")
}

func TestLabels(t *testing.T) {
	tests := []struct {
		family models.Family
		actor  string
		scope  string
	}{
		{models.FamilyBodyMember, "Politician", "Body"},
		{models.FamilyGroupMember, "Politician", "ParliamentaryGroup"},
		{models.FamilyVoteJudgment, "Group", "Proposal"},
	}
	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			assert.Equal(t, tt.actor, actorLabel(tt.family))
			assert.Equal(t, tt.scope, scopeLabel(tt.family))
		})
	}
}
