package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcelerate/sitewatch/internal/api"
	"github.com/xcelerate/sitewatch/internal/api/handler"
	"github.com/xcelerate/sitewatch/internal/api/models"
	"github.com/xcelerate/sitewatch/internal/auth"
	"github.com/xcelerate/sitewatch/internal/compliance"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/imagery"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
	"github.com/xcelerate/sitewatch/internal/report"
	"github.com/xcelerate/sitewatch/internal/risk"
	"github.com/xcelerate/sitewatch/internal/site"
	"github.com/xcelerate/sitewatch/internal/timeline"
)

// fakeTiles serves a fixed JPEG, or err when set.
type fakeTiles struct {
	mu       sync.Mutex
	requests []imagery.TileRequest
	err      error
}

func (f *fakeTiles) GetTile(_ context.Context, req imagery.TileRequest) (*imagery.Tile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &imagery.Tile{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg"}, nil
}

// fakeSource is a risk.Source returning fixed elements.
type fakeSource struct {
	elements []risk.Element
	err      error
}

func (f *fakeSource) Query(context.Context, geometry.Point, float64) ([]risk.Element, error) {
	return f.elements, f.err
}

type fakeChecker struct {
	result compliance.AnalysisResult
	err    error
}

func (f *fakeChecker) CheckSite(context.Context, geometry.Polygon, string) (compliance.AnalysisResult, error) {
	return f.result, f.err
}

var plot = [][2]float64{{21.2514, 81.6296}, {21.2540, 81.6330}, {21.2525, 81.6350}}

type testEnv struct {
	router  http.Handler
	tiles   *fakeTiles
	source  *fakeSource
	checker *fakeChecker
	jwt     *auth.JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	env := &testEnv{
		tiles:   &fakeTiles{},
		source:  &fakeSource{},
		checker: &fakeChecker{result: compliance.AnalysisResult{SimilarityScore: 0.93, DeviationPercentage: 1.2, ResultImageURL: "https://cdn.example.test/heat.png"}},
		jwt: auth.NewJWTService(auth.JWTConfig{
			SigningKey: "test-secret-key-for-testing-only",
			Issuer:     "https://sitewatch.example.com",
			Audience:   "sitewatch-api",
		}),
	}

	gen := timeline.NewGenerator(timeline.Config{Tiles: env.tiles, TileBaseURL: "/v1/imagery/tile", Logger: logger})
	scanner := risk.NewScanner(risk.ScannerConfig{Source: env.source, Logger: logger})
	catalog, err := site.NewCatalog([]site.Site{{
		Name:           "Farsabahar",
		Bounds:         geometry.PolygonFromPairs(plot),
		BlueprintURL:   "https://assets.example.test/farsabahar.png",
		ProgressPhotos: []string{"https://assets.example.test/p1.jpg"},
	}})
	require.NoError(t, err)

	reports := report.NewService(report.ServiceConfig{
		Repository: report.NewInMemoryRepository(),
		Timeline:   gen,
		Risk:       scanner,
		Sites:      catalog,
		Logger:     logger,
	})

	env.router = api.NewRouter(api.RouterConfig{
		Version:        "test",
		BuildTime:      "2025-01-01T00:00:00Z",
		Logger:         logger,
		TokenValidator: env.jwt,
		Tiles:          env.tiles,
		Timeline:       gen,
		Risk:           scanner,
		Reports:        reports,
		Sites:          catalog,
		Checker:        env.checker,
		Registry:       resilience.NewRegistry(),
		Checks: []handler.DependencyCheck{
			{Name: "database", Check: func(context.Context) error { return nil }},
		},
	})
	return env
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	token, _, err := e.jwt.GenerateAccessToken(auth.Inspector{ID: "insp_042", Name: "R. Sahu"})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "198.51.100.7:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestOpsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/v1/ops/health", "/v1/ops/ready", "/v1/ops/status"} {
		rec := env.do(http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"), path)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"), path)
	}

	var status models.SystemStatus
	decode(t, env.do(http.MethodGet, "/v1/ops/status", nil, ""), &status)
	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "database", status.Subsystems[0].Name)
}

func TestReadinessFailsWhenDependencyDown(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Logger: zerolog.Nop(),
		Checks: []handler.DependencyCheck{
			{Name: "tile-cache", Check: func(context.Context) error { return errors.New("connection refused") }},
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody))
	var status models.SystemStatus
	decode(t, rec, &status)
	assert.Equal(t, models.HealthStatusFail, status.Status)
	require.NotNil(t, status.Subsystems[0].Detail)
	assert.Equal(t, "connection refused", *status.Subsystems[0].Detail)
}

func TestBoundingBoxEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/geometry/bbox", models.PolygonInput{Points: [][2]float64{{10, 20}, {12, 18}}}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.BoundingBoxResponse
	decode(t, rec, &resp)
	assert.Equal(t, geometry.BoundingBox{MinLat: 10, MaxLat: 12, MinLng: 18, MaxLng: 20}, resp.BBox)
	assert.Equal(t, "18,10,20,12", resp.ProviderBBox)
	assert.Equal(t, "10,18,12,20", resp.InternalBBox)

	rec = env.do(http.MethodPost, "/v1/geometry/bbox", models.PolygonInput{Points: [][2]float64{{10, 20}}}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), models.ProblemTypeInvalidGeometry)
}

func TestTileEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/imagery/tile?bbox=81.6296,21.2514,81.635,21.254&time=2024-03-01/2024-03-28", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=86400", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "jpeg-bytes", rec.Body.String())

	require.Len(t, env.tiles.requests, 1)
	assert.Equal(t, 21.2514, env.tiles.requests[0].BBox.MinLat)
	assert.Equal(t, 81.6296, env.tiles.requests[0].BBox.MinLng)
}

func TestTileEndpoint_MaxCloudCover(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"default", "", imagery.DefaultMaxCloudCover},
		{"cloud free", "&maxcc=0", 0},
		{"explicit", "&maxcc=55", 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(http.MethodGet, "/v1/imagery/tile?bbox=81.6296,21.2514,81.635,21.254&time=2024-03-01/2024-03-28"+tt.query, nil, "")
			require.Equal(t, http.StatusOK, rec.Code)

			require.Len(t, env.tiles.requests, 1)
			assert.Equal(t, tt.want, env.tiles.requests[0].Options.CloudCoverPercent())
		})
	}
}

func TestTileEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		err    error
		status int
	}{
		{"missing bbox", "time=2024-03-01/2024-03-28", nil, http.StatusBadRequest},
		{"bad time", "bbox=1,2,3,4&time=2024-03", nil, http.StatusBadRequest},
		{"bad maxcc", "bbox=1,2,3,4&time=2024-03-01/2024-03-28&maxcc=140", nil, http.StatusBadRequest},
		{"provider error", "bbox=1,2,3,4&time=2024-03-01/2024-03-28", &imagery.UnavailableError{StatusCode: 500, ProviderBody: "oops"}, http.StatusBadGateway},
		{"credential error", "bbox=1,2,3,4&time=2024-03-01/2024-03-28", &imagery.CredentialRefreshError{StatusCode: 401}, http.StatusBadGateway},
		{"circuit open", "bbox=1,2,3,4&time=2024-03-01/2024-03-28", resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.tiles.err = tt.err

			rec := env.do(http.MethodGet, "/v1/imagery/tile?"+tt.query, nil, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestTimelineEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/timeline", models.TimelineRequest{
		Polygon:     &models.PolygonInput{Points: plot},
		Year:        2024,
		FallbackURL: "https://cdn.example.test/fallback.jpg",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.TimelineResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Entries, 12)
	assert.Equal(t, "Jan 2024", resp.Entries[0].DateLabel)
	assert.True(t, resp.Entries[0].Live)
	assert.True(t, strings.HasPrefix(resp.Entries[0].ImageURL, "/v1/imagery/tile?bbox="))
	assert.Equal(t, "Structure Detected", resp.Entries[11].PhaseLabel)

	rec = env.do(http.MethodPost, "/v1/timeline", models.TimelineRequest{Year: 2024, FallbackURL: "https://cdn.example.test/fallback.jpg"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	for _, e := range resp.Entries {
		assert.Equal(t, "https://cdn.example.test/fallback.jpg", e.ImageURL)
		assert.False(t, e.Live)
	}

	rec = env.do(http.MethodPost, "/v1/timeline", models.TimelineRequest{Year: 1999}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiskScanEndpoint(t *testing.T) {
	env := newTestEnv(t)
	lat, lon := 21.26, 81.64
	env.source.elements = []risk.Element{{Type: "node", ID: 9, Lat: &lat, Lon: &lon, Tags: map[string]string{"power": "plant", "name": "Korba West"}}}

	rec := env.do(http.MethodPost, "/v1/risk:scan", models.RiskScanRequest{Polygon: models.PolygonInput{Points: plot}}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var a models.RiskAssessment
	decode(t, rec, &a)
	assert.True(t, a.Available)
	require.Len(t, a.Facilities, 1)
	assert.Equal(t, "Korba West", a.Facilities[0].Name)
	assert.Equal(t, risk.LevelModerate, a.Categories[0].Level)

	env.source.err = errors.New("overpass returned 504")
	rec = env.do(http.MethodPost, "/v1/risk:scan", models.RiskScanRequest{Polygon: models.PolygonInput{Points: plot}}, "")
	require.Equal(t, http.StatusOK, rec.Code, "upstream failure is not an HTTP error")
	decode(t, rec, &a)
	assert.False(t, a.Available)
	assert.Equal(t, risk.ReasonUnavailable, a.Reason)

	rec = env.do(http.MethodPost, "/v1/risk:scan", models.RiskScanRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	create := models.CreateReportRequest{
		PlotID:       "Farsabahar",
		IndustryName: "Farsabahar Agro",
		Polygon:      &models.PolygonInput{Points: plot},
		Analysis: &models.AnalysisInput{
			SimilarityScore:     0.81,
			DeviationPercentage: 7.5,
			ResultImageURL:      "https://cdn.example.test/heat.png",
		},
	}

	rec := env.do(http.MethodPost, "/v1/reports", create, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/v1/reports", create, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.Report
	decode(t, rec, &created)
	assert.Equal(t, "/v1/reports/"+created.ID, rec.Header().Get("Location"))
	assert.Equal(t, compliance.StatusVerifiedViolation, created.Status)
	assert.Equal(t, "R. Sahu", created.GeneratedBy)
	assert.Equal(t, "https://cdn.example.test/heat.png", created.SatelliteImageURL)

	rec = env.do(http.MethodGet, "/v1/reports/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/v1/reports?status=Verified%20-%20Violation", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.PagedReports
	decode(t, rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, created.ID, page.Items[0].ID)

	rec = env.do(http.MethodGet, "/v1/reports/"+created.ID+"/view?year=2024", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view models.ReportView
	decode(t, rec, &view)
	assert.Equal(t, 2024, view.Timeline.Year)
	assert.Len(t, view.Timeline.Entries, 12)
	require.NotNil(t, view.Risk)
	assert.True(t, view.Risk.Available)
	require.NotNil(t, view.Site)
	assert.Equal(t, "Farsabahar", view.Site.Name)
	assert.Equal(t, []string{"https://assets.example.test/p1.jpg"}, view.ProgressPhotos)

	rec = env.do(http.MethodPatch, "/v1/reports/"+created.ID+"/status", models.UpdateStatusRequest{Status: "Notice Sent", Comments: "served"}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated models.Report
	decode(t, rec, &updated)
	assert.Equal(t, compliance.StatusNoticeSent, updated.Status)

	rec = env.do(http.MethodPatch, "/v1/reports/"+created.ID+"/status", models.UpdateStatusRequest{Status: "Archived"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/v1/reports/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateReport_Validation(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	rec := env.do(http.MethodPost, "/v1/reports", models.CreateReportRequest{PlotID: "P-1"}, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem models.Problem
	decode(t, rec, &problem)
	require.Len(t, problem.Errors, 1)
	assert.Equal(t, "analysis", problem.Errors[0].Field)

	req := httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader("plotId=P-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestSiteEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/sites", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list models.SiteList
	decode(t, rec, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, plot, list.Items[0].Bounds)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/sites/Nowhere", nil, "").Code)

	rec = env.do(http.MethodPost, "/v1/sites/Farsabahar/check", nil, env.token(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Report
	decode(t, rec, &created)
	assert.Equal(t, "Farsabahar", created.PlotID)
	assert.Equal(t, compliance.StatusVerifiedCompliant, created.Status)

	env.checker.err = errors.New("status 500: model crashed")
	rec = env.do(http.MethodPost, "/v1/sites/Farsabahar/check", nil, env.token(t))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
