package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/needmap-service/internal/adapter/http"
	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
	"github.com/couchcryptid/needmap-service/internal/scoring"
	"github.com/couchcryptid/needmap-service/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockCatalog struct {
	snap  domain.Snapshot
	err   error
	calls int
}

func (m *mockCatalog) Get(_ context.Context) (domain.Snapshot, error) {
	m.calls++
	return m.snap, m.err
}

type failingStore struct{}

func (failingStore) Append(context.Context, domain.Report) (domain.Observation, error) {
	return domain.Observation{}, errors.New("disk full")
}

func (failingStore) List(context.Context) ([]domain.Observation, error) {
	return nil, errors.New("disk full")
}

// recordingScorer captures the inputs of the last Recommend call.
type recordingScorer struct {
	mu       sync.Mutex
	services []domain.Coordinates
	params   scoring.Params
}

func (r *recordingScorer) Params() scoring.Params { return scoring.DefaultParams() }

func (r *recordingScorer) Recommend(_ context.Context, _ []domain.Observation, services []domain.Coordinates, _ domain.Bounds, p scoring.Params) ([]domain.Recommendation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = services
	r.params = p
	return []domain.Recommendation{}, nil
}

type fixture struct {
	srv     *httpadapter.Server
	catalog *mockCatalog
	store   *store.Memory
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	f := &fixture{
		catalog: &mockCatalog{snap: sampleSnapshot()},
		store:   store.NewMemory(clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), 0),
		metrics: metrics,
	}
	f.srv = httpadapter.NewServer(":0", httpadapter.API{
		Catalog:   f.catalog,
		Store:     f.store,
		Scorer:    scoring.NewScorer(scoring.DefaultParams(), 2, metrics),
		HexCellKm: 0.5,
	}, &mockReadiness{}, discardLogger(), metrics)
	return f
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", httpadapter.API{
		Catalog: &mockCatalog{},
		Store:   store.NewMemory(clockwork.NewFakeClock(), 0),
		Scorer:  &recordingScorer{},
	}, &mockReadiness{err: readyErr}, discardLogger(), observability.NewMetricsForTesting())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Results: []domain.Resource{
			{Source: "211", Name: "Downtown Shelter", Type: domain.TypeShelter, Coordinates: domain.Coordinates{Lat: 32.7157, Lng: -117.1611}},
			{Source: "city", Name: "Harbor Food Bank", Type: domain.TypeFood, Coordinates: domain.Coordinates{Lat: 32.70, Lng: -117.16}},
		},
		Sources:     map[string]int{"211": 1, "city": 1},
		LastUpdated: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
	}
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Fields  []string `json:"fields"`
}

// --- health, readiness, metrics ---

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil)
	rec := do(t, srv, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(nil)
	rec := do(t, srv, http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(fmt.Errorf("not ready yet"))
	rec := do(t, srv, http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	rec := do(t, srv, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAllReady(t *testing.T) {
	ok := &mockReadiness{}
	assert.NoError(t, httpadapter.AllReady(ok, ok).CheckReadiness(context.Background()))
	assert.NoError(t, httpadapter.AllReady().CheckReadiness(context.Background()))

	err := httpadapter.AllReady(
		&mockReadiness{err: errors.New("catalog not built")},
		ok,
		&mockReadiness{err: errors.New("pipeline idle")},
	).CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog not built")
	assert.Contains(t, err.Error(), "pipeline idle")
}

// --- request IDs ---

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	srv := newTestServer(nil)
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-abc")
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	assert.Equal(t, "trace-abc", rec.Header().Get("X-Request-ID"))
}

func TestRequestIDTooLongIsReplaced(t *testing.T) {
	srv := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

// --- /resources ---

func TestResources(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodGet, "/resources", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Count       int               `json:"count"`
		Results     []domain.Resource `json:"results"`
		Sources     map[string]int    `json:"sources"`
		LastUpdated time.Time         `json:"lastUpdated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "Downtown Shelter", body.Results[0].Name)
	assert.Equal(t, map[string]int{"211": 1, "city": 1}, body.Sources)
	assert.True(t, body.LastUpdated.Equal(sampleSnapshot().LastUpdated))
}

func TestResources_CatalogErrorIs500(t *testing.T) {
	f := newFixture(t)
	f.catalog.err = errors.New("catalog not built")

	rec := do(t, f.srv, http.MethodGet, "/resources", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[errorBody](t, rec)
	assert.False(t, body.OK)
	assert.Equal(t, "internal_error", body.Error)
	assert.NotContains(t, rec.Body.String(), "catalog not built")
}

// --- /report and /reports ---

func TestReport_Accepted(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.srv, http.MethodPost, "/report", `{"type":"unsheltered","lat":32.72,"lng":-117.17,"note":"two tents"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, 1.0, body["reportId"])

	stored, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "two tents", stored[0].Note)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ObservationsIngested.WithLabelValues("http")))
}

func TestReport_MissingLatStoresNothing(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.srv, http.MethodPost, "/report", `{"type":"unsheltered","lng":-117.17}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.False(t, body.OK)
	assert.Equal(t, domain.CodeMissingFields, body.Error)
	assert.Contains(t, body.Fields, "lat")

	stored, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ObservationsRejected.WithLabelValues(domain.CodeMissingFields)))
}

func TestReport_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"type":`, domain.CodeInvalidJSON},
		{"empty body", ``, domain.CodeInvalidJSON},
		{"latitude out of range", `{"type":"food","lat":91,"lng":0}`, domain.CodeInvalidCoordinates},
		{"missing everything", `{}`, domain.CodeMissingFields},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := do(t, f.srv, http.MethodPost, "/report", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[errorBody](t, rec).Error)
		})
	}
}

func TestReport_BodyTooLarge(t *testing.T) {
	f := newFixture(t)
	big := `{"type":"food","lat":1,"lng":1,"note":"` + strings.Repeat("a", 2<<20) + `"}`

	rec := do(t, f.srv, http.MethodPost, "/report", big)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeInvalidJSON, decode[errorBody](t, rec).Error)
}

func TestReport_StoreFailureIs500(t *testing.T) {
	srv := httpadapter.NewServer(":0", httpadapter.API{
		Catalog: &mockCatalog{},
		Store:   failingStore{},
		Scorer:  &recordingScorer{},
	}, &mockReadiness{}, discardLogger(), observability.NewMetricsForTesting())

	rec := do(t, srv, http.MethodPost, "/report", `{"type":"food","lat":1,"lng":1}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[errorBody](t, rec).Error)
}

func TestReports_ListsInInsertionOrder(t *testing.T) {
	f := newFixture(t)
	for _, typ := range []string{"food", "medical", "unsheltered"} {
		rec := do(t, f.srv, http.MethodPost, "/report", `{"type":"`+typ+`","lat":32.7,"lng":-117.1}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, f.srv, http.MethodGet, "/reports", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count   int                  `json:"count"`
		Results []domain.Observation `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
	require.Len(t, body.Results, 3)
	assert.Equal(t, []string{"food", "medical", "unsheltered"},
		[]string{body.Results[0].Type, body.Results[1].Type, body.Results[2].Type})
	assert.Equal(t, int64(3), body.Results[2].ID)
}

func TestReports_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodGet, "/reports", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"results":[]}`, rec.Body.String())
}

// --- /insights/hotspots ---

func TestHotspots_Empty(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodGet, "/insights/hotspots", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "FeatureCollection", body["type"])
	assert.Empty(t, body["features"])
}

func TestHotspots_CountsReports(t *testing.T) {
	f := newFixture(t)
	for range 4 {
		do(t, f.srv, http.MethodPost, "/report", `{"type":"unsheltered","lat":32.72,"lng":-117.17}`)
	}
	do(t, f.srv, http.MethodPost, "/report", `{"type":"unsheltered","lat":32.80,"lng":-117.30}`)

	rec := do(t, f.srv, http.MethodGet, "/insights/hotspots?cellKm=1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties struct {
				Count int `json:"count"`
			} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Features, 2)
	assert.Equal(t, "Polygon", body.Features[0].Geometry.Type)
	assert.Equal(t, 4, body.Features[0].Properties.Count)
	assert.Equal(t, 1, body.Features[1].Properties.Count)
}

func TestHotspots_InvalidCellSize(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"abc", "0", "-1", "1e-300"} {
		rec := do(t, f.srv, http.MethodGet, "/insights/hotspots?cellKm="+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, domain.CodeInvalidParameter, decode[errorBody](t, rec).Error, q)
	}
}

// --- /recommendations ---

func TestRecommendations_ClusterWithoutServices(t *testing.T) {
	f := newFixture(t)
	for range 150 {
		rec := do(t, f.srv, http.MethodPost, "/report", `{"type":"unsheltered","lat":32.72,"lng":-117.17}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, f.srv, http.MethodPost, "/recommendations",
		`{"bounds":{"south":32.70,"west":-117.20,"north":32.75,"east":-117.15},"existingServices":[]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Count   int                     `json:"count"`
		Results []domain.Recommendation `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, domain.ServiceShelter, body.Results[0].ServiceTypeSuggested)
	assert.InDelta(t, 300, body.Results[0].NeedScore, 1e-9)
	assert.Nil(t, body.Results[0].NearestServiceDistanceKm)
	assert.Zero(t, f.catalog.calls, "explicit services bypass the catalog")
}

func TestRecommendations_DefaultsToCatalogServices(t *testing.T) {
	catalog := &mockCatalog{snap: sampleSnapshot()}
	scorer := &recordingScorer{}
	srv := httpadapter.NewServer(":0", httpadapter.API{
		Catalog: catalog,
		Store:   store.NewMemory(clockwork.NewFakeClock(), 0),
		Scorer:  scorer,
	}, &mockReadiness{}, discardLogger(), observability.NewMetricsForTesting())

	rec := do(t, srv, http.MethodPost, "/recommendations",
		`{"bounds":{"south":32.70,"west":-117.20,"north":32.75,"east":-117.15},"gridStep":0.02,"maxResults":3}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"count":0,"results":[]}`, rec.Body.String())
	assert.Equal(t, 1, catalog.calls)
	assert.Equal(t, sampleSnapshot().Locations(), scorer.services)
	assert.InDelta(t, 0.02, scorer.params.GridStep, 1e-12)
	assert.Equal(t, 3, scorer.params.MaxResults)
	assert.Equal(t, scoring.DefaultParams().Threshold, scorer.params.Threshold)
}

func TestRecommendations_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"bounds":`, domain.CodeInvalidJSON},
		{"missing bounds", `{"existingServices":[]}`, domain.CodeMissingFields},
		{"inverted bounds", `{"bounds":{"south":33,"west":-117.2,"north":32,"east":-117.1}}`, domain.CodeInvalidBounds},
		{"bad service", `{"bounds":{"south":32,"west":-117.2,"north":33,"east":-117.1},"existingServices":[{"lat":120,"lng":0}]}`, domain.CodeInvalidCoordinates},
		{"bad grid step", `{"bounds":{"south":32,"west":-117.2,"north":33,"east":-117.1},"existingServices":[],"gridStep":0}`, domain.CodeInvalidParameter},
		{"grid step too fine", `{"bounds":{"south":32.7,"west":-117.2,"north":32.8,"east":-117.1},"existingServices":[],"gridStep":1e-300}`, domain.CodeInvalidBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := do(t, f.srv, http.MethodPost, "/recommendations", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.False(t, body.OK)
			assert.Equal(t, tt.code, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	srv := newTestServer(nil)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodGet, "/report", "").Code)
}
