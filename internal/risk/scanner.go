package risk

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/geometry"
)

// Defaults for ScanOptions.
const (
	DefaultRadiusMeters = 5000.0
	DefaultTimeout      = 10 * time.Second

	// TopFacilities is how many facilities each category summary lists.
	TopFacilities = 3
)

var (
	// ErrScanTimeout is matched by a ScanError whose scan hit its deadline.
	ErrScanTimeout = errors.New("risk scan timed out")

	// ErrScanUnavailable is matched by a ScanError for any other failure.
	ErrScanUnavailable = errors.New("risk scan unavailable")
)

// Reasons shown when a scan cannot produce data.
const (
	ReasonTimeout     = "Request timed out. Environmental risk data temporarily unavailable."
	ReasonUnavailable = "Unable to load environmental risk data at this time. This feature requires an external API connection."
	ReasonNoPolygon   = "Site boundary is missing or invalid."
)

// ScanError wraps the cause of a failed scan.
type ScanError struct {
	Timeout bool
	Err     error
}

func (e *ScanError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("risk scan timed out: %v", e.Err)
	}
	return fmt.Sprintf("risk scan unavailable: %v", e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Is matches ErrScanTimeout or ErrScanUnavailable by kind.
func (e *ScanError) Is(target error) bool {
	switch target {
	case ErrScanTimeout:
		return e.Timeout
	case ErrScanUnavailable:
		return !e.Timeout
	}
	return false
}

// Source queries map data around a point.
type Source interface {
	Query(ctx context.Context, center geometry.Point, radiusMeters float64) ([]Element, error)
}

// ScanOptions controls a scan. Zero values take the defaults.
type ScanOptions struct {
	RadiusMeters float64
	Timeout      time.Duration
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.RadiusMeters <= 0 {
		o.RadiusMeters = DefaultRadiusMeters
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// MetricsRecorder receives the outcome of each source query.
type MetricsRecorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
}

// ScannerConfig holds configuration for a Scanner.
type ScannerConfig struct {
	Source Source

	// SourceName labels metrics (default: "overpass").
	SourceName string

	// Metrics is optional.
	Metrics MetricsRecorder

	Logger zerolog.Logger
}

// Scanner finds polluting facilities around a site.
type Scanner struct {
	source     Source
	sourceName string
	metrics    MetricsRecorder
	logger     zerolog.Logger
}

// NewScanner creates a new scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	name := cfg.SourceName
	if name == "" {
		name = "overpass"
	}
	return &Scanner{
		source:     cfg.Source,
		sourceName: name,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Scan returns the facilities within the radius of the polygon's center.
// It fails with a ScanError and no facilities on timeout or source failure,
// and with a geometry error for an invalid polygon.
func (s *Scanner) Scan(ctx context.Context, polygon geometry.Polygon, opts ScanOptions) ([]Facility, error) {
	opts = opts.withDefaults()

	box, err := geometry.BoundingBoxOf(polygon)
	if err != nil {
		return nil, err
	}
	center := geometry.Center(box)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	elements, err := s.source.Query(ctx, center, opts.RadiusMeters)
	if s.metrics != nil {
		s.metrics.RecordRequest(s.sourceName, "scan", time.Since(start), err)
	}
	if err != nil {
		return nil, &ScanError{Timeout: isTimeout(ctx, err), Err: err}
	}
	// A source that ignores its context must not return late data.
	if ctx.Err() != nil {
		return nil, &ScanError{Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Err: ctx.Err()}
	}

	return FacilitiesFrom(elements), nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// CategorySummary is one category panel.
type CategorySummary struct {
	Category    Category   `json:"category"`
	Title       string     `json:"title"`
	Count       int        `json:"count"`
	Level       Level      `json:"level"`
	Description string     `json:"description"`
	Top         []Facility `json:"top"`
	More        int        `json:"more"`
}

// Assessment is the outcome of a scan that never fails. Available is false
// only when no data could be obtained; an available assessment with zero
// facilities means none were found.
type Assessment struct {
	Available    bool              `json:"available"`
	Reason       string            `json:"reason,omitempty"`
	RadiusMeters float64           `json:"radius_meters"`
	Center       *geometry.Point   `json:"center,omitempty"`
	Facilities   []Facility        `json:"facilities"`
	Categories   []CategorySummary `json:"categories"`
}

// Assess runs Scan and folds every failure into an unavailable assessment.
func (s *Scanner) Assess(ctx context.Context, polygon geometry.Polygon, opts ScanOptions) Assessment {
	opts = opts.withDefaults()
	out := Assessment{RadiusMeters: opts.RadiusMeters, Facilities: []Facility{}}

	if box, err := geometry.BoundingBoxOf(polygon); err == nil {
		c := geometry.Center(box)
		out.Center = &c
	}

	facilities, err := s.Scan(ctx, polygon, opts)
	switch {
	case errors.Is(err, ErrScanTimeout):
		s.logger.Warn().Err(err).Msg("risk scan timed out")
		out.Reason = ReasonTimeout
		return out
	case errors.Is(err, geometry.ErrInvalidGeometry):
		s.logger.Error().Err(err).Msg("risk scan rejected polygon")
		out.Reason = ReasonNoPolygon
		return out
	case err != nil:
		s.logger.Warn().Err(err).Msg("risk scan unavailable")
		out.Reason = ReasonUnavailable
		return out
	}

	out.Available = true
	out.Facilities = facilities
	out.Categories = Summarize(facilities)
	return out
}

// Summarize groups facilities into one summary per category, in display order.
func Summarize(facilities []Facility) []CategorySummary {
	byCategory := make(map[Category][]Facility, len(Categories))
	for _, f := range facilities {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	summaries := make([]CategorySummary, 0, len(Categories))
	for _, c := range Categories {
		items := byCategory[c]
		top := items
		if len(top) > TopFacilities {
			top = top[:TopFacilities]
		}
		summaries = append(summaries, CategorySummary{
			Category:    c,
			Title:       c.Title(),
			Count:       len(items),
			Level:       LevelFor(len(items)),
			Description: c.Description(),
			Top:         append([]Facility{}, top...),
			More:        len(items) - len(top),
		})
	}
	return summaries
}
