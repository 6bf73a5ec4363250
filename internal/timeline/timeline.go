// Package timeline builds the twelve-month satellite timeline shown on a
// site report.
package timeline

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/imagery"
)

// DefaultConcurrency bounds the number of in-flight tile fetches.
const DefaultConcurrency = 4

// Phase is a construction phase label with its display color class.
type Phase struct {
	Label      string
	ColorClass string
}

// Phases keyed by month index. The label is a fixed schedule, not derived
// from the imagery.
var (
	PhaseClearLand         = Phase{Label: "Clear Land", ColorClass: "text-green-500"}
	PhaseFoundationWork    = Phase{Label: "Foundation Work", ColorClass: "text-amber-500"}
	PhaseStructureDetected = Phase{Label: "Structure Detected", ColorClass: "text-red-500"}
)

// PhaseFor returns the phase for a zero-based month index.
func PhaseFor(monthIndex int) Phase {
	switch {
	case monthIndex < 4:
		return PhaseClearLand
	case monthIndex < 8:
		return PhaseFoundationWork
	default:
		return PhaseStructureDetected
	}
}

// Entry is one month of the timeline. Live is true when ImageURL points at
// fetched imagery rather than the fallback.
type Entry struct {
	Month           time.Month `json:"month"`
	DateLabel       string     `json:"date_label"`
	PhaseLabel      string     `json:"phase_label"`
	PhaseColorClass string     `json:"phase_color_class"`
	ImageURL        string     `json:"image_url"`
	Live            bool       `json:"live"`
}

// TileGetter is satisfied by *imagery.Service.
type TileGetter interface {
	GetTile(ctx context.Context, req imagery.TileRequest) (*imagery.Tile, error)
}

// Config holds configuration for a Generator.
type Config struct {
	Tiles TileGetter

	// TileBaseURL is the tile proxy endpoint that entry URLs point at.
	TileBaseURL string

	// Options are passed through to each tile request.
	Options imagery.Options

	// Concurrency bounds parallel fetches (default: DefaultConcurrency).
	Concurrency int

	Logger zerolog.Logger
}

// Generator builds timelines.
type Generator struct {
	tiles       TileGetter
	tileBaseURL string
	options     imagery.Options
	concurrency int
	logger      zerolog.Logger
}

// NewGenerator creates a new timeline generator.
func NewGenerator(cfg Config) *Generator {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Generator{
		tiles:       cfg.Tiles,
		tileBaseURL: cfg.TileBaseURL,
		options:     cfg.Options,
		concurrency: concurrency,
		logger:      cfg.Logger,
	}
}

// Generate returns exactly twelve entries, January first. With a nil or
// invalid polygon every entry uses fallbackURL. Otherwise each month's tile
// is fetched once; a month whose fetch fails falls back on its own.
func (g *Generator) Generate(ctx context.Context, polygon *geometry.Polygon, year int, fallbackURL string) []Entry {
	entries := make([]Entry, 12)
	for i := range entries {
		month := time.Month(i + 1)
		phase := PhaseFor(i)
		entries[i] = Entry{
			Month:           month,
			DateLabel:       month.String()[:3] + " " + strconv.Itoa(year),
			PhaseLabel:      phase.Label,
			PhaseColorClass: phase.ColorClass,
			ImageURL:        fallbackURL,
		}
	}

	if polygon == nil || g.tiles == nil {
		return entries
	}
	box, err := geometry.BoundingBoxOf(*polygon)
	if err != nil {
		g.logger.Error().Err(err).Msg("timeline polygon rejected, using fallback imagery")
		return entries
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)

	for i := range entries {
		i := i
		window := imagery.MonthWindow(year, entries[i].Month)
		group.Go(func() error {
			_, err := g.tiles.GetTile(gctx, imagery.TileRequest{
				BBox:      box,
				TimeRange: window,
				Options:   g.options,
			})
			if err != nil {
				g.logger.Warn().
					Err(err).
					Str("month", entries[i].DateLabel).
					Msg("timeline tile unavailable, using fallback")
				return nil
			}
			// Each goroutine writes only its own index.
			entries[i].ImageURL = g.TileURL(box, window)
			entries[i].Live = true
			return nil
		})
	}
	_ = group.Wait()

	return entries
}

// TileURL returns the proxy URL for a tile. Both values consist of digits,
// '.', '-', ',' and '/', none of which need escaping in a query.
func (g *Generator) TileURL(box geometry.BoundingBox, window imagery.TimeRange) string {
	return g.tileBaseURL + "?bbox=" + geometry.ProviderBBox(box) + "&time=" + window.String()
}
