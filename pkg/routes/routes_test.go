package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/candidate"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
)

type fakeStatus struct {
	scope string
}

func (f *fakeStatus) Status(_ context.Context, family models.Family, scopeID string) (pipeline.StatusReport, error) {
	f.scope = scopeID
	counts := models.StatusCounts{models.MatchStatusMatched: 3, models.MatchStatusPending: 1}
	return pipeline.StatusReport{Family: family, ScopeID: scopeID, Counts: counts, Total: counts.Total(), OpenAffiliations: 2}, nil
}

func (f *fakeStatus) ScopeStatuses(_ context.Context, family models.Family) ([]pipeline.StatusReport, error) {
	return []pipeline.StatusReport{{Family: family, ScopeID: "a"}, {Family: family, ScopeID: "b"}}, nil
}

type fakeLister struct {
	filter candidate.ListFilter
	err    error
}

func (f *fakeLister) List(_ context.Context, _ models.Family, filter candidate.ListFilter) ([]models.ExtractionCandidate, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []models.ExtractionCandidate{{ID: "c1", ScopeID: "body-1", ExtractedName: "山田太郎", Status: models.MatchStatusNeedsReview}}, nil
}

func newTestServer(status *fakeStatus, lister *fakeLister, checks map[string]Pinger) http.Handler {
	return NewServer("fern-test", []string{"*"}, logging.Discard(), NewChecker("test", checks), NewFamilyHandler(status, lister))
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStatus(t *testing.T) {
	status := &fakeStatus{}
	srv := newTestServer(status, &fakeLister{}, nil)

	rec := get(t, srv, "/families/body_member/status?scope=body-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body-1", status.scope)

	var report pipeline.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(4), report.Total)
	assert.Equal(t, int64(3), report.Counts[models.MatchStatusMatched])
	assert.Equal(t, int64(2), report.OpenAffiliations)

	rec = get(t, srv, "/families/body_member/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.AllScopes, status.scope)
}

func TestScopes(t *testing.T) {
	rec := get(t, newTestServer(&fakeStatus{}, &fakeLister{}, nil), "/families/group_member/scopes")
	require.Equal(t, http.StatusOK, rec.Code)

	var reports []pipeline.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, models.FamilyGroupMember, reports[0].Family)
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantCode int
		check    func(t *testing.T, f candidate.ListFilter)
	}{
		{
			name:     "filters",
			target:   "/families/vote_judgment/candidates?scope=bill-7&status=needs_review&limit=20&offset=40",
			wantCode: http.StatusOK,
			check: func(t *testing.T, f candidate.ListFilter) {
				assert.Equal(t, "bill-7", f.ScopeID)
				require.NotNil(t, f.Status)
				assert.Equal(t, models.MatchStatusNeedsReview, *f.Status)
				assert.Equal(t, 20, f.Limit)
				assert.Equal(t, 40, f.Offset)
			},
		},
		{
			name:     "no filters",
			target:   "/families/body_member/candidates",
			wantCode: http.StatusOK,
			check: func(t *testing.T, f candidate.ListFilter) {
				assert.Nil(t, f.Status)
				assert.Zero(t, f.Limit)
			},
		},
		{name: "unknown status", target: "/families/body_member/candidates?status=approved", wantCode: http.StatusBadRequest},
		{name: "bad limit", target: "/families/body_member/candidates?limit=ten", wantCode: http.StatusBadRequest},
		{name: "negative offset", target: "/families/body_member/candidates?offset=-1", wantCode: http.StatusBadRequest},
		{name: "unknown family", target: "/families/senators/candidates", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{}
			rec := get(t, newTestServer(&fakeStatus{}, lister, nil), tt.target)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.check != nil {
				tt.check(t, lister.filter)
			}
		})
	}
}

func TestCandidates_StoreError(t *testing.T) {
	lister := &fakeLister{err: fernerrors.NewStoreError("list candidates", errors.New("connection reset"))}
	rec := get(t, newTestServer(&fakeStatus{}, lister, nil), "/families/body_member/candidates")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
}

func TestHealth(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("refused") })

	rec := get(t, newTestServer(&fakeStatus{}, &fakeLister{}, map[string]Pinger{"database": up}), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, newTestServer(&fakeStatus{}, &fakeLister{}, map[string]Pinger{"database": up, "redis": down}), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "refused", status.Checks["redis"].Message)
}

func TestMetrics(t *testing.T) {
	rec := get(t, newTestServer(&fakeStatus{}, &fakeLister{}, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
