package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/frontier"
	"github.com/rfpscout/rfpscout/internal/metrics"
	"github.com/rfpscout/rfpscout/internal/pipeline"
	memsink "github.com/rfpscout/rfpscout/internal/sink/memory"
)

type fakeSeeder struct {
	admitted int
	err      error
	got      []string
}

func (f *fakeSeeder) Seed(_ context.Context, urls []string) (int, error) {
	f.got = urls
	return f.admitted, f.err
}

func record(id, title string, high bool) (pipeline.ValidatedRecord, pipeline.ScoreResult) {
	overall := 0.5
	if high {
		overall = 0.9
	}
	return pipeline.ValidatedRecord{
			ID:            id,
			SchemaVersion: pipeline.SchemaVersion,
			Title:         title,
			SourceURL:     "https://procurement.example.gov/tenders/" + id,
			ExtractedAt:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		}, pipeline.ScoreResult{
			Jaccard:      overall,
			Overall:      &overall,
			HighPriority: high,
		}
}

func newTestServer(t *testing.T, seeder Seeder) (*Server, *memsink.Sink, *frontier.Memory) {
	t.Helper()
	metrics.Init()
	fr := frontier.NewMemory(frontier.Config{MaxDepth: 3}, pipeline.SystemClock{}, zap.NewNop())
	sink := memsink.New()
	return NewServer(fr, MemoryLister{Sink: sink}, seeder, zap.NewNop()), sink, fr
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	metrics.ObserveTask("done")
	rec := doRequest(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rfpscout_tasks_total")
}

func TestListRecords(t *testing.T) {
	s, sink, _ := newTestServer(t, nil)
	ctx := context.Background()

	r1, s1 := record("aaa", "Cloud Migration", true)
	r2, s2 := record("bbb", "Road Maintenance", false)
	require.NoError(t, sink.Upsert(ctx, r1, s1))
	require.NoError(t, sink.Upsert(ctx, r2, s2))

	rec := doRequest(t, s, http.MethodGet, "/v1/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Records []RecordEntry `json:"records"`
		Count   int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "Cloud Migration", resp.Records[0].Record.Title)
}

func TestListRecordsHighPriorityFilter(t *testing.T) {
	s, sink, _ := newTestServer(t, nil)
	ctx := context.Background()

	r1, s1 := record("aaa", "Cloud Migration", true)
	r2, s2 := record("bbb", "Road Maintenance", false)
	require.NoError(t, sink.Upsert(ctx, r1, s1))
	require.NoError(t, sink.Upsert(ctx, r2, s2))

	rec := doRequest(t, s, http.MethodGet, "/v1/records?high_priority=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Records []RecordEntry `json:"records"`
		Count   int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "aaa", resp.Records[0].Record.ID)
}

func TestListRecordsLimit(t *testing.T) {
	s, sink, _ := newTestServer(t, nil)
	ctx := context.Background()
	for _, id := range []string{"aaa", "bbb", "ccc"} {
		r, sc := record(id, "Tender "+id, false)
		require.NoError(t, sink.Upsert(ctx, r, sc))
	}

	rec := doRequest(t, s, http.MethodGet, "/v1/records?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	rec = doRequest(t, s, http.MethodGet, "/v1/records?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFrontierStats(t *testing.T) {
	s, _, fr := newTestServer(t, nil)
	_, err := fr.Push(context.Background(), pipeline.CrawlTask{
		URL:    "https://procurement.example.gov/tenders",
		Domain: "procurement.example.gov",
	})
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodGet, "/v1/frontier/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats pipeline.FrontierStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Pending)
}

func TestSeed(t *testing.T) {
	seeder := &fakeSeeder{admitted: 2}
	s, _, _ := newTestServer(t, seeder)

	body, _ := json.Marshal(map[string][]string{
		"urls": {"https://a.example.gov", "https://b.example.gov"},
	})
	rec := doRequest(t, s, http.MethodPost, "/v1/seed", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, seeder.got, 2)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["admitted"])
}

func TestSeedValidation(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSeeder{})

	rec := doRequest(t, s, http.MethodPost, "/v1/seed", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/seed", []byte(`{"urls":[]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeedDisabled(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodPost, "/v1/seed", []byte(`{"urls":["https://a.example.gov"]}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSeedError(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSeeder{err: errors.New("frontier closed")})
	rec := doRequest(t, s, http.MethodPost, "/v1/seed", []byte(`{"urls":["https://a.example.gov"]}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
