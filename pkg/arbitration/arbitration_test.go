package arbitration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

func strPtr(s string) *string { return &s }

func testRequest() Request {
	return Request{
		CandidateName: "田中一郎",
		CandidateRole: "委員",
		Entities: []Option{
			{EntityID: "p1", Name: "田中一郎", Score: 0.81},
			{EntityID: "p2", Name: "田中市郎", Score: 0.79},
		},
	}
}

func fastConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout:        time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxConcurrency: 1,
	}
}

func TestNewRequest(t *testing.T) {
	party := "自民党"
	candidate := models.ExtractionCandidate{ExtractedName: "田中一郎", ExtractedRole: "委員", ExtractedAffiliationName: &party}
	req := NewRequest(candidate, []models.ScoredEntity{{EntityID: "p1", Name: "田中一郎", Score: 0.81, PartyName: &party}})

	assert.Equal(t, "田中一郎", req.CandidateName)
	assert.Equal(t, &party, req.CandidateAffiliation)
	require.Len(t, req.Entities, 1)
	assert.Equal(t, "p1", req.Entities[0].EntityID)
}

func TestValidate(t *testing.T) {
	req := testRequest()
	tests := []struct {
		name    string
		d       *Decision
		wantErr bool
	}{
		{"offered entity", &Decision{EntityID: strPtr("p2"), Confidence: 0.6}, false},
		{"no entity", &Decision{Confidence: 0.9}, false},
		{"confidence above one", &Decision{EntityID: strPtr("p1"), Confidence: 1.2}, true},
		{"negative confidence", &Decision{Confidence: -0.1}, true},
		{"unknown entity", &Decision{EntityID: strPtr("p9"), Confidence: 0.9}, true},
		{"nil decision", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(req, tt.d)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, fernerrors.IsOracleError(err))
				assert.False(t, fernerrors.IsTransient(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func newOracleServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(httpclient.NewClient(httpclient.DefaultConfig(), logging.Discard()), srv.URL, "secret", logging.Discard())
}

func TestClient_Arbitrate(t *testing.T) {
	client := newOracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req Request
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "田中一郎", req.CandidateName)
		assert.Len(t, req.Entities, 2)

		_, _ = w.Write([]byte(`{"entity_id":"p1","confidence":0.85,"rationale":"same name and party"}`))
	})

	d, err := client.Arbitrate(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, d.EntityID)
	assert.Equal(t, "p1", *d.EntityID)
	assert.Equal(t, 0.85, d.Confidence)
	assert.Equal(t, "same name and party", d.Rationale)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, true},
		{"server error", http.StatusBadGateway, `{}`, true},
		{"unauthorized", http.StatusUnauthorized, `{}`, false},
		{"bad request", http.StatusBadRequest, `{}`, false},
		{"missing confidence", http.StatusOK, `{"entity_id":"p1","rationale":"x"}`, false},
		{"confidence out of range", http.StatusOK, `{"entity_id":"p1","confidence":1.5}`, false},
		{"malformed json", http.StatusOK, `not json`, false},
		{"entity not offered", http.StatusOK, `{"entity_id":"p7","confidence":0.9}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newOracleServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Arbitrate(context.Background(), testRequest())
			require.Error(t, err)
			assert.True(t, fernerrors.IsOracleError(err))
			assert.Equal(t, tt.transient, fernerrors.IsTransient(err))
		})
	}
}

func TestClient_NullEntity(t *testing.T) {
	client := newOracleServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"entity_id":null,"confidence":0.9,"rationale":"none fit"}`))
	})

	d, err := client.Arbitrate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Nil(t, d.EntityID)
}

func TestResilient_RetriesTransient(t *testing.T) {
	var calls int32
	next := Func(func(ctx context.Context, req Request) (*Decision, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, fernerrors.NewTransientOracleError(429, "rate limited", nil)
		}
		return &Decision{EntityID: strPtr("p1"), Confidence: 0.9}, nil
	})

	r := NewResilient(next, fastConfig(), logging.Discard())
	d, err := r.Arbitrate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "p1", *d.EntityID)
	assert.Equal(t, int32(3), calls)
}

func TestResilient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	next := Func(func(ctx context.Context, req Request) (*Decision, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fernerrors.NewTransientOracleError(503, "unavailable", nil)
	})

	r := NewResilient(next, fastConfig(), logging.Discard())
	_, err := r.Arbitrate(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, fernerrors.IsOracleError(err))
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Equal(t, int32(3), calls)
}

func TestResilient_NoRetryOnPermanent(t *testing.T) {
	var calls int32
	next := Func(func(ctx context.Context, req Request) (*Decision, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fernerrors.NewPermanentOracleError(401, "unauthorized", nil)
	})

	r := NewResilient(next, fastConfig(), logging.Discard())
	_, err := r.Arbitrate(context.Background(), testRequest())
	require.Error(t, err)
	assert.False(t, fernerrors.IsTransient(err))
	assert.Equal(t, int32(1), calls)
}

func TestResilient_TimeoutIsTransient(t *testing.T) {
	var calls int32
	next := Func(func(ctx context.Context, req Request) (*Decision, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &Decision{Confidence: 0.2}, nil
	})

	cfg := fastConfig()
	cfg.Timeout = 10 * time.Millisecond
	r := NewResilient(next, cfg, logging.Discard())
	d, err := r.Arbitrate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Nil(t, d.EntityID)
	assert.Equal(t, int32(2), calls)
}

func TestResilient_InvalidDecisionNotRetried(t *testing.T) {
	var calls int32
	next := Func(func(ctx context.Context, req Request) (*Decision, error) {
		atomic.AddInt32(&calls, 1)
		return &Decision{EntityID: strPtr("p1"), Confidence: 3}, nil
	})

	r := NewResilient(next, fastConfig(), logging.Discard())
	_, err := r.Arbitrate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestResilient_ConcurrencyCap(t *testing.T) {
	var inFlight, maxInFlight int32
	var mu sync.Mutex
	next := Func(func(ctx context.Context, req Request) (*Decision, error) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > maxInFlight {
			maxInFlight = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &Decision{Confidence: 0.1}, nil
	})

	cfg := fastConfig()
	cfg.MaxConcurrency = 2
	r := NewResilient(next, cfg, logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Arbitrate(context.Background(), testRequest())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxInFlight, int32(2))
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}

func TestCached(t *testing.T) {
	var calls int32
	next := Func(func(ctx context.Context, req Request) (*Decision, error) {
		atomic.AddInt32(&calls, 1)
		return &Decision{EntityID: strPtr("p1"), Confidence: 0.85, Rationale: "same party"}, nil
	})

	cache := &memoryCache{data: map[string]string{}}
	c := NewCached(next, cache, time.Hour, logging.Discard())

	first, err := c.Arbitrate(context.Background(), testRequest())
	require.NoError(t, err)
	second, err := c.Arbitrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, first, second)

	other := testRequest()
	other.CandidateRole = "委員長"
	_, err = c.Arbitrate(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls)
}

func TestCached_ErrorsNotCached(t *testing.T) {
	var calls int32
	next := Func(func(ctx context.Context, req Request) (*Decision, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("boom")
	})

	c := NewCached(next, &memoryCache{data: map[string]string{}}, time.Hour, logging.Discard())
	_, err := c.Arbitrate(context.Background(), testRequest())
	require.Error(t, err)
	_, err = c.Arbitrate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, int32(2), calls)
}
