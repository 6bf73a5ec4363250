package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/timeline"
)

// TimelineBuilder is satisfied by *timeline.Generator.
type TimelineBuilder interface {
	Generate(ctx context.Context, polygon *geometry.Polygon, year int, fallbackURL string) []timeline.Entry
}

// PrefetchJob warms the tile cache by generating site timelines ahead of
// dashboard requests.
type PrefetchJob struct {
	config   PrefetchConfig
	timeline TimelineBuilder
	logger   zerolog.Logger

	metrics *PrefetchMetrics
}

// PrefetchMetrics tracks prefetch statistics.
type PrefetchMetrics struct {
	mu sync.RWMutex

	Runs         int64
	SitesWarmed  int64
	TilesWarmed  int64
	TilesMissing int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
}

// PrefetchJobConfig holds configuration for creating a PrefetchJob.
type PrefetchJobConfig struct {
	Config   PrefetchConfig
	Timeline TimelineBuilder
	Logger   zerolog.Logger
}

// NewPrefetchJob creates a new prefetch job.
func NewPrefetchJob(cfg PrefetchJobConfig) *PrefetchJob {
	return &PrefetchJob{
		config:   cfg.Config.withDefaults(),
		timeline: cfg.Timeline,
		logger:   cfg.Logger,
		metrics:  &PrefetchMetrics{},
	}
}

// PrefetchResult summarizes one run.
type PrefetchResult struct {
	StartTime time.Time
	Duration  time.Duration
	Sites     int

	// Live counts months whose tile was fetched; Missing counts months that
	// fell back.
	Live    int
	Missing int
}

type siteResult struct {
	site    string
	live    int
	missing int
}

// Run generates a timeline for each target. Individual month failures are
// counted, never returned.
func (j *PrefetchJob) Run(ctx context.Context, targets []PrefetchTarget) *PrefetchResult {
	start := time.Now()
	result := &PrefetchResult{StartTime: start, Sites: len(targets)}

	j.logger.Info().
		Int("sites", len(targets)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting timeline prefetch")

	targetsCh := make(chan PrefetchTarget, len(targets))
	resultsCh := make(chan siteResult, len(targets))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range targetsCh {
				if ctx.Err() != nil {
					return
				}
				resultsCh <- j.warm(ctx, target)
			}
		}()
	}

	for _, t := range targets {
		targetsCh <- t
	}
	close(targetsCh)

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	for sr := range resultsCh {
		result.Live += sr.live
		result.Missing += sr.missing
		if sr.missing > 0 {
			j.logger.Debug().
				Str("site", sr.site).
				Int("missing", sr.missing).
				Msg("site timeline partially warmed")
		}
	}

	result.Duration = time.Since(start)
	j.record(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("live", result.Live).
		Int("missing", result.Missing).
		Msg("timeline prefetch completed")

	return result
}

func (j *PrefetchJob) warm(ctx context.Context, target PrefetchTarget) siteResult {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	res := siteResult{site: target.Site}
	polygon := target.Bounds
	for _, e := range j.timeline.Generate(ctx, &polygon, target.Year, "") {
		if e.Live {
			res.live++
		} else {
			res.missing++
		}
	}
	return res
}

func (j *PrefetchJob) record(result *PrefetchResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.Runs++
	j.metrics.SitesWarmed += int64(result.Sites)
	j.metrics.TilesWarmed += int64(result.Live)
	j.metrics.TilesMissing += int64(result.Missing)
	j.metrics.LastRunAt = result.StartTime.Add(result.Duration)
	j.metrics.LastRunDuration = result.Duration
}

// Metrics returns a copy of the current metrics.
func (j *PrefetchJob) Metrics() PrefetchMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return PrefetchMetrics{
		Runs:            j.metrics.Runs,
		SitesWarmed:     j.metrics.SitesWarmed,
		TilesWarmed:     j.metrics.TilesWarmed,
		TilesMissing:    j.metrics.TilesMissing,
		LastRunAt:       j.metrics.LastRunAt,
		LastRunDuration: j.metrics.LastRunDuration,
	}
}
