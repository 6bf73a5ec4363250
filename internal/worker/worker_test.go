package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcelerate/sitewatch/internal/api/middleware"
	"github.com/xcelerate/sitewatch/internal/compliance"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/report"
	"github.com/xcelerate/sitewatch/internal/site"
	"github.com/xcelerate/sitewatch/internal/timeline"
	"github.com/xcelerate/sitewatch/internal/worker"
)

type mockTimeline struct {
	mu    sync.Mutex
	calls int
	years []int

	// liveMonths is the number of months reported as fetched per call.
	liveMonths int
}

func (m *mockTimeline) Generate(_ context.Context, _ *geometry.Polygon, year int, _ string) []timeline.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.years = append(m.years, year)

	entries := make([]timeline.Entry, 12)
	for i := range entries {
		entries[i] = timeline.Entry{Month: time.Month(i + 1), Live: i < m.liveMonths}
	}
	return entries
}

type mockReports struct {
	mu        sync.Mutex
	inputs    []report.CreateInput
	requestID string
	err       error
}

func (m *mockReports) Create(ctx context.Context, in report.CreateInput) (*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, in)
	m.requestID = middleware.GetRequestID(ctx)
	return &report.Report{ID: "rep-1", PlotID: in.PlotID, Status: compliance.StatusPendingReview}, nil
}

type recordingAcker struct {
	acked, nacked int
}

func (a *recordingAcker) Ack()  { a.acked++ }
func (a *recordingAcker) Nack() { a.nacked++ }

func testCatalog(t *testing.T) *site.Catalog {
	t.Helper()
	catalog, err := site.NewCatalog([]site.Site{
		{Name: "Farsabahar", Bounds: geometry.PolygonFromPairs([][2]float64{{22.56, 83.97}, {22.57, 83.98}})},
		{Name: "Siltara Phase II", Bounds: geometry.PolygonFromPairs([][2]float64{{21.37, 81.66}, {21.38, 81.67}, {21.375, 81.675}})},
	})
	require.NoError(t, err)
	return catalog
}

func job(t *testing.T, jobType string, payload interface{}) []byte {
	t.Helper()
	msg := map[string]interface{}{"job_type": jobType, "request_id": "req_worker_test"}
	if payload != nil {
		msg["payload"] = payload
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestDefaultPrefetchConfig(t *testing.T) {
	cfg := worker.DefaultPrefetchConfig()

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
}

func TestTargetsFor(t *testing.T) {
	targets := worker.TargetsFor(testCatalog(t).All(), 2024)

	require.Len(t, targets, 2)
	for _, target := range targets {
		assert.Equal(t, 2024, target.Year)
		assert.NotEmpty(t, target.Bounds)
	}
}

func TestPrefetchJob_Run(t *testing.T) {
	tl := &mockTimeline{liveMonths: 9}
	pj := worker.NewPrefetchJob(worker.PrefetchJobConfig{
		Config:   worker.PrefetchConfig{Concurrency: 3},
		Timeline: tl,
		Logger:   zerolog.Nop(),
	})

	result := pj.Run(context.Background(), worker.TargetsFor(testCatalog(t).All(), 2023))

	assert.Equal(t, 2, result.Sites)
	assert.Equal(t, 18, result.Live)
	assert.Equal(t, 6, result.Missing)
	assert.Equal(t, 2, tl.calls)
	assert.Equal(t, []int{2023, 2023}, tl.years)

	m := pj.Metrics()
	assert.Equal(t, int64(1), m.Runs)
	assert.Equal(t, int64(2), m.SitesWarmed)
	assert.Equal(t, int64(18), m.TilesWarmed)
	assert.Equal(t, int64(6), m.TilesMissing)
	assert.False(t, m.LastRunAt.IsZero())
}

func TestPrefetchJob_Run_NoTargets(t *testing.T) {
	tl := &mockTimeline{}
	pj := worker.NewPrefetchJob(worker.PrefetchJobConfig{Timeline: tl, Logger: zerolog.Nop()})

	result := pj.Run(context.Background(), nil)

	assert.Zero(t, result.Sites)
	assert.Zero(t, tl.calls)
}

func TestDispatch_AnalysisCompleted(t *testing.T) {
	reports := &mockReports{}
	d := worker.NewDispatcher(worker.DispatcherConfig{Reports: reports, Logger: zerolog.Nop()})

	err := d.Dispatch(context.Background(), job(t, worker.JobAnalysisCompleted, map[string]interface{}{
		"plot_id":       "CSIDC-042",
		"industry_name": "Tilda",
		"bounds":        [][2]float64{{21.49, 81.80}, {21.50, 81.82}},
		"analysis": map[string]interface{}{
			"similarity_score":     0.88,
			"changes_count":        2,
			"deviation_percentage": 3.5,
			"result_image":         "https://cdn.example.test/heatmap.png",
		},
	}))
	require.NoError(t, err)

	require.Len(t, reports.inputs, 1)
	in := reports.inputs[0]
	assert.Equal(t, "CSIDC-042", in.PlotID)
	assert.Equal(t, "Tilda", in.IndustryName)
	assert.Len(t, in.Bounds, 2)
	require.NotNil(t, in.Analysis)
	assert.Equal(t, 2, in.Analysis.ChangesCount)
	assert.Equal(t, 3.5, in.Analysis.DeviationPercentage)
	assert.Equal(t, "req_worker_test", reports.requestID)
}

func TestDispatch_AnalysisCompleted_RealService(t *testing.T) {
	repo := report.NewInMemoryRepository()
	svc := report.NewService(report.ServiceConfig{Repository: repo, Logger: zerolog.Nop()})
	d := worker.NewDispatcher(worker.DispatcherConfig{Reports: svc, Logger: zerolog.Nop()})

	err := d.Dispatch(context.Background(), job(t, worker.JobAnalysisCompleted, map[string]interface{}{
		"plot_id":  "CSIDC-007",
		"analysis": map[string]interface{}{"deviation_percentage": 7.2},
	}))
	require.NoError(t, err)

	res, err := repo.List(context.Background(), report.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, compliance.StatusVerifiedViolation, res.Items[0].Status)

	err = d.Dispatch(context.Background(), job(t, worker.JobAnalysisCompleted, map[string]interface{}{"plot_id": "CSIDC-008"}))
	assert.ErrorIs(t, err, report.ErrMissingAnalysis)
	assert.False(t, worker.Retryable(err))

	err = d.Dispatch(context.Background(), job(t, worker.JobAnalysisCompleted, map[string]interface{}{
		"plot_id":  "CSIDC-009",
		"analysis": map[string]interface{}{"similarity_score": 0.4, "changes_count": -4},
	}))
	assert.ErrorIs(t, err, compliance.ErrInvalidAnalysis)
	assert.False(t, worker.Retryable(err))

	res, err = repo.List(context.Background(), report.ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1, "rejected analyses are not stored")
}

func TestDispatch_TimelinePrefetch(t *testing.T) {
	tl := &mockTimeline{liveMonths: 12}
	newDispatcher := func() *worker.Dispatcher {
		return worker.NewDispatcher(worker.DispatcherConfig{
			Prefetch: worker.NewPrefetchJob(worker.PrefetchJobConfig{Timeline: tl, Logger: zerolog.Nop()}),
			Sites:    testCatalog(t),
			Logger:   zerolog.Nop(),
			Now:      func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) },
		})
	}

	t.Run("single site", func(t *testing.T) {
		tl.calls, tl.years = 0, nil
		require.NoError(t, newDispatcher().Dispatch(context.Background(),
			job(t, worker.JobTimelinePrefetch, map[string]interface{}{"site": "Farsabahar", "year": 2022})))
		assert.Equal(t, 1, tl.calls)
		assert.Equal(t, []int{2022}, tl.years)
	})

	t.Run("all sites default year", func(t *testing.T) {
		tl.calls, tl.years = 0, nil
		require.NoError(t, newDispatcher().Dispatch(context.Background(), job(t, worker.JobTimelinePrefetch, nil)))
		assert.Equal(t, 2, tl.calls)
		assert.Equal(t, []int{2025, 2025}, tl.years)
	})

	t.Run("unknown site", func(t *testing.T) {
		err := newDispatcher().Dispatch(context.Background(),
			job(t, worker.JobTimelinePrefetch, map[string]interface{}{"site": "Nowhere"}))
		assert.ErrorIs(t, err, site.ErrNotFound)
		assert.False(t, worker.Retryable(err))
	})
}

func TestDispatch_TimelinePrefetch_NothingFetched(t *testing.T) {
	d := worker.NewDispatcher(worker.DispatcherConfig{
		Prefetch: worker.NewPrefetchJob(worker.PrefetchJobConfig{Timeline: &mockTimeline{}, Logger: zerolog.Nop()}),
		Sites:    testCatalog(t),
		Logger:   zerolog.Nop(),
	})

	err := d.Dispatch(context.Background(), job(t, worker.JobTimelinePrefetch, nil))
	require.Error(t, err)
	assert.True(t, worker.Retryable(err), "provider outage is worth a redelivery")
}

func TestDispatch_Rejects(t *testing.T) {
	d := worker.NewDispatcher(worker.DispatcherConfig{Logger: zerolog.Nop()})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not json", []byte("{"), worker.ErrMalformedJob},
		{"unknown type", job(t, "provider_refresh", nil), worker.ErrUnknownJob},
		{"no report store", job(t, worker.JobAnalysisCompleted, map[string]interface{}{}), worker.ErrNotConfigured},
		{"no prefetch", job(t, worker.JobTimelinePrefetch, nil), worker.ErrNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Dispatch(context.Background(), tt.data)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, worker.Retryable(err))
		})
	}
}

func TestSettle(t *testing.T) {
	plot := map[string]interface{}{"plot_id": "P-1"}

	tests := []struct {
		name       string
		reportsErr error
		jobType    string
		payload    map[string]interface{}
		wantAck    int
		wantNack   int
	}{
		{
			name:    "success acks",
			jobType: worker.JobAnalysisCompleted,
			payload: plot,
			wantAck: 1,
		},
		{
			name:    "unknown type acks",
			jobType: "health_check",
			wantAck: 1,
		},
		{
			name:       "store failure nacks",
			reportsErr: errors.New("connection reset"),
			jobType:    worker.JobAnalysisCompleted,
			payload:    plot,
			wantNack:   1,
		},
		{
			name:       "validation failure acks",
			reportsErr: report.ErrInvalidReport,
			jobType:    worker.JobAnalysisCompleted,
			payload:    map[string]interface{}{},
			wantAck:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := worker.NewDispatcher(worker.DispatcherConfig{
				Reports: &mockReports{err: tt.reportsErr},
				Logger:  zerolog.Nop(),
			})
			acker := &recordingAcker{}

			worker.Settle(context.Background(), d, job(t, tt.jobType, tt.payload), acker, zerolog.Nop())

			assert.Equal(t, tt.wantAck, acker.acked)
			assert.Equal(t, tt.wantNack, acker.nacked)
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, worker.Retryable(nil))
	assert.False(t, worker.Retryable(&geometry.InvalidGeometryError{Reason: "empty polygon"}))
	assert.True(t, worker.Retryable(context.DeadlineExceeded))
}
