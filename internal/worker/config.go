// Package worker processes background jobs delivered over Pub/Sub.
package worker

import (
	"time"

	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/site"
)

// Job types understood by the dispatcher.
const (
	JobAnalysisCompleted = "analysis_completed"
	JobTimelinePrefetch  = "timeline_prefetch"
)

// PrefetchTarget is one site timeline to warm.
type PrefetchTarget struct {
	// Site is the catalog name, used for logging and lookups.
	Site string

	Bounds geometry.Polygon

	// Year is the reference year of the timeline.
	Year int
}

// PrefetchConfig holds configuration for timeline prefetching.
type PrefetchConfig struct {
	// Concurrency is the number of sites warmed in parallel.
	// Default: 2
	Concurrency int

	// Timeout bounds a single site's timeline.
	// Default: 2 minutes
	Timeout time.Duration
}

// DefaultPrefetchConfig returns the default prefetch configuration.
func DefaultPrefetchConfig() PrefetchConfig {
	return PrefetchConfig{
		Concurrency: 2,
		Timeout:     2 * time.Minute,
	}
}

func (c PrefetchConfig) withDefaults() PrefetchConfig {
	def := DefaultPrefetchConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// TargetsFor builds one target per site for year.
func TargetsFor(sites []site.Site, year int) []PrefetchTarget {
	targets := make([]PrefetchTarget, 0, len(sites))
	for _, s := range sites {
		targets = append(targets, PrefetchTarget{
			Site:   s.Name,
			Bounds: s.Bounds,
			Year:   year,
		})
	}
	return targets
}
