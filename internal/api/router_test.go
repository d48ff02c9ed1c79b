package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/modelcatalog/internal/api/handler"
	"github.com/timmy/modelcatalog/internal/api/middleware"
	"github.com/timmy/modelcatalog/internal/codec"
	"github.com/timmy/modelcatalog/internal/config"
	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/metrics"
	"github.com/timmy/modelcatalog/internal/service"
)

type memoryStore struct {
	mu      sync.Mutex
	records []domain.Record
}

func (m *memoryStore) LoadSnapshot(context.Context) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Record(nil), m.records...), nil
}

func (m *memoryStore) SaveSnapshot(_ context.Context, records []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]domain.Record(nil), records...)
	return nil
}

type providerFunc func(ctx context.Context, system, user string) (string, error)

func (f providerFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// stampReleaseDate echoes the table it was sent with a release date filled in.
func stampReleaseDate(_ context.Context, _, user string) (string, error) {
	records, err := codec.Decode(user)
	if err != nil {
		return "", err
	}
	for i := range records {
		records[i].ReleaseDate = "2024-01-01"
	}
	return codec.Encode(records), nil
}

type testEnv struct {
	router  http.Handler
	catalog *service.CatalogService
	queue   *service.ValidationQueue
}

func seedRecords() []domain.Record {
	return []domain.Record{
		{ID: "llama", Name: "Llama", Provider: "Meta", Domain: domain.DomainLLM, IsFavorite: true},
		{ID: "sdxl", Name: "SDXL", Provider: "Stability", Domain: domain.DomainImageGen},
	}
}

func newTestEnv(t *testing.T, provider service.TextCompleter, withQueue bool) *testEnv {
	t.Helper()
	registry := prometheus.NewRegistry()
	m, err := metrics.NewValidationMetrics(registry)
	require.NoError(t, err)

	var queue *service.ValidationQueue
	if withQueue {
		enrich := func(_ context.Context, r domain.Record, _ []string) (domain.Record, error) {
			return domain.Record{ID: r.ID, License: domain.License{Name: "Apache-2.0"}}, nil
		}
		queue = service.NewValidationQueue(enrich, &service.QueueConfig{Concurrency: 2, Metrics: m}, logger.Nop())
	}

	validator := service.NewCatalogValidator(&service.ValidatorConfig{
		PollInterval: 10 * time.Millisecond,
	}, logger.Nop(), m)
	catalog := service.NewCatalogService(&service.CatalogServiceConfig{
		Store:     &memoryStore{records: seedRecords()},
		Provider:  provider,
		Validator: validator,
		Queue:     queue,
	}, logger.Nop())
	require.NoError(t, catalog.Load(context.Background()))
	t.Cleanup(catalog.Close)

	router := SetupRouter(&RouterDeps{
		Catalog:  catalog,
		Server:   &config.ServerConfig{Mode: "test"},
		Gatherer: registry,
		Logger:   logger.Nop(),
	})
	return &testEnv{router: router, catalog: catalog, queue: queue}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, true)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["records"])
	assert.Contains(t, body, "queue")
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, nil, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(middleware.RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil, false)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/catalog", nil)
	req.Header.Set("Origin", "https://catalog.example")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://catalog.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestListCatalogFilters(t *testing.T) {
	env := newTestEnv(t, nil, false)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all", "", []string{"llama", "sdxl"}},
		{"by domain", "?domain=imagegen", []string{"sdxl"}},
		{"favorites", "?favorite=true", []string{"llama"}},
		{"no match", "?domain=tts", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/catalog"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code)
			resp := decode[handler.CatalogResponse](t, w)
			got := make([]string, 0, len(resp.Records))
			for _, r := range resp.Records {
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want), resp.Total)
		})
	}
}

func TestGetRecord(t *testing.T) {
	env := newTestEnv(t, nil, false)

	w := env.do(t, http.MethodGet, "/api/v1/catalog/llama", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Llama", decode[domain.Record](t, w).Name)

	w = env.do(t, http.MethodGet, "/api/v1/catalog/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMergeRecords(t *testing.T) {
	env := newTestEnv(t, nil, false)

	w := env.do(t, http.MethodPost, "/api/v1/catalog/merge", map[string]interface{}{"records": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/catalog/merge", handler.MergeRequest{Records: []domain.Record{
		{ID: "llama", Description: "open weights", IsFavorite: false},
		{Name: "Whisper", Provider: "OpenAI"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handler.MergeResponse](t, w)
	assert.Equal(t, 1, resp.Added)
	assert.Equal(t, 1, resp.Updated)
	assert.Equal(t, 3, resp.Total)

	llama, ok := env.catalog.Record("llama")
	require.True(t, ok)
	assert.Equal(t, "open weights", llama.Description)
	assert.True(t, llama.IsFavorite)
}

func TestJobEndpointsWithoutQueue(t *testing.T) {
	env := newTestEnv(t, nil, false)
	for _, path := range []string{"/api/v1/validation/jobs", "/api/v1/validation/jobs/x"} {
		w := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t, nil, true)

	w := env.do(t, http.MethodPost, "/api/v1/validation/jobs", map[string]interface{}{"ids": []string{"nope"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/validation/jobs", map[string]interface{}{
		"ids": []string{"llama"}, "sources": []string{"huggingface"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	queued := decode[handler.JobsResponse](t, w)
	require.Len(t, queued.Jobs, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.queue.Wait(ctx))

	w = env.do(t, http.MethodGet, "/api/v1/validation/jobs/"+queued.Jobs[0].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.JobStatusCompleted, decode[domain.ValidationJob](t, w).Status)

	w = env.do(t, http.MethodGet, "/api/v1/validation/jobs?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[handler.JobsResponse](t, w).Jobs)

	w = env.do(t, http.MethodPost, "/api/v1/validation/jobs/apply", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]interface{}](t, w)["applied"])

	llama, _ := env.catalog.Record("llama")
	assert.Equal(t, "Apache-2.0", llama.License.Name)
	assert.True(t, llama.IsFavorite)
	assert.Empty(t, env.queue.Jobs())
}

func TestPauseResumeAndClear(t *testing.T) {
	env := newTestEnv(t, nil, true)

	w := env.do(t, http.MethodPost, "/api/v1/validation/jobs/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[service.QueueStats](t, w).Paused)

	env.queue.AddJobs(seedRecords(), nil)
	w = env.do(t, http.MethodDelete, "/api/v1/validation/jobs/finished", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode[map[string]interface{}](t, w)["removed"])

	w = env.do(t, http.MethodDelete, "/api/v1/validation/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[service.QueueStats](t, w)
	assert.Zero(t, stats.Total)
	assert.True(t, stats.Paused)

	w = env.do(t, http.MethodPost, "/api/v1/validation/jobs/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[service.QueueStats](t, w).Paused)
}

func TestCatalogValidationRun(t *testing.T) {
	env := newTestEnv(t, providerFunc(stampReleaseDate), false)

	w := env.do(t, http.MethodPost, "/api/v1/validation/catalog", map[string]interface{}{"ids": []string{"ghost"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/validation/catalog/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/validation/catalog", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var status handler.CatalogValidationStatus
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/v1/validation/catalog", nil)
		status = decode[handler.CatalogValidationStatus](t, w)
		return status.LastResult != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, status.LastResult.Success, status.LastResult.Error)
	assert.Equal(t, service.StrategySingle, status.LastResult.Strategy)
	assert.False(t, status.Status.Running)

	sdxl, _ := env.catalog.Record("sdxl")
	assert.Equal(t, "2024-01-01", sdxl.ReleaseDate)
}

func TestCatalogValidationRejectsSecondRun(t *testing.T) {
	release := make(chan struct{})
	provider := providerFunc(func(ctx context.Context, system, user string) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return stampReleaseDate(ctx, system, user)
	})
	env := newTestEnv(t, provider, false)
	defer close(release)

	w := env.do(t, http.MethodPost, "/api/v1/validation/catalog", map[string]interface{}{"batch_size": 1})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return env.catalog.Validator().Status().Running }, time.Second, 5*time.Millisecond)

	w = env.do(t, http.MethodPost, "/api/v1/validation/catalog", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/validation/catalog/cancel", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCatalogValidationRejectsBadBody(t *testing.T) {
	env := newTestEnv(t, providerFunc(stampReleaseDate), false)
	w := env.do(t, http.MethodPost, "/api/v1/validation/catalog", map[string]interface{}{"batch_size": -3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type staticHistory []string

func (h staticHistory) History(context.Context) ([]string, error) { return h, nil }

func TestListSnapshots(t *testing.T) {
	env := newTestEnv(t, nil, false)
	w := env.do(t, http.MethodGet, "/api/v1/catalog/snapshots", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	router := SetupRouter(&RouterDeps{
		Catalog:  env.catalog,
		Server:   &config.ServerConfig{Mode: "test"},
		Snapshot: staticHistory{"snapshots/catalog-20260201T000000Z.json"},
		Logger:   logger.Nop(),
	})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/snapshots", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string][]string](t, w)
	assert.Equal(t, []string{"snapshots/catalog-20260201T000000Z.json"}, body["snapshots"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, true)
	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "modelcatalog_validation_jobs_pending"))
}
