// Package imagery fetches historical satellite tiles for a bounding box and
// time window and caches them, since a tile for a past window never changes.
package imagery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xcelerate/sitewatch/internal/geometry"
)

// DateLayout is the date format used in time windows.
const DateLayout = "2006-01-02"

// DefaultCacheMaxAge is the cache lifetime advised to clients for a tile.
const DefaultCacheMaxAge = 24 * time.Hour

var (
	// ErrCredentialRefresh is wrapped by CredentialRefreshError.
	ErrCredentialRefresh = errors.New("imagery credential refresh failed")

	// ErrUnavailable is wrapped by UnavailableError.
	ErrUnavailable = errors.New("imagery unavailable")

	// ErrInvalidTimeRange is returned when a time window cannot be parsed.
	ErrInvalidTimeRange = errors.New("invalid time range")
)

// CredentialRefreshError is returned when the provider's token endpoint
// rejects the client credentials or cannot be reached.
type CredentialRefreshError struct {
	StatusCode   int
	ProviderBody string
	Err          error
}

func (e *CredentialRefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imagery credential refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("imagery credential refresh failed: status %d: %s", e.StatusCode, e.ProviderBody)
}

func (e *CredentialRefreshError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCredentialRefresh, e.Err}
	}
	return []error{ErrCredentialRefresh}
}

// UnavailableError is returned when the tile endpoint answers with a non-2xx
// status or cannot be reached.
type UnavailableError struct {
	StatusCode   int
	ProviderBody string
	Err          error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imagery unavailable: %v", e.Err)
	}
	return fmt.Sprintf("imagery unavailable: status %d: %s", e.StatusCode, e.ProviderBody)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnavailable, e.Err}
	}
	return []error{ErrUnavailable}
}

// TimeRange is an inclusive date window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// MonthWindow returns the window from the 1st to the 28th of a month, which
// exists in every month.
func MonthWindow(year int, month time.Month) TimeRange {
	return TimeRange{
		From: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(year, month, 28, 0, 0, 0, 0, time.UTC),
	}
}

// String renders the window as "from/to".
func (r TimeRange) String() string {
	return r.From.Format(DateLayout) + "/" + r.To.Format(DateLayout)
}

// ParseTimeRange parses "YYYY-MM-DD/YYYY-MM-DD".
func ParseTimeRange(s string) (TimeRange, error) {
	from, to, ok := strings.Cut(s, "/")
	if !ok {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, s)
	}
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: from: %v", ErrInvalidTimeRange, err)
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: to: %v", ErrInvalidTimeRange, err)
	}
	if t.Before(f) {
		return TimeRange{}, fmt.Errorf("%w: %s is before %s", ErrInvalidTimeRange, to, from)
	}
	return TimeRange{From: f, To: t}, nil
}

// DefaultMaxCloudCover is the cloud cover limit, in percent, used when a
// request does not set one.
const DefaultMaxCloudCover = 20

// Options controls how the provider renders a tile.
type Options struct {
	Layer string

	// MaxCloudCover is a percentage. Nil means DefaultMaxCloudCover; an
	// explicit 0 asks for cloud-free scenes only.
	MaxCloudCover *int

	Width  int
	Height int
	Format string
	CRS    string
}

// DefaultOptions returns true-color 512x512 JPEG tiles with at most 20% cloud cover.
func DefaultOptions() Options {
	return Options{
		Layer:         "TRUE-COLOR-L2A",
		MaxCloudCover: CloudCover(DefaultMaxCloudCover),
		Width:         512,
		Height:        512,
		Format:        "image/jpeg",
		CRS:           "EPSG:4326",
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Layer == "" {
		o.Layer = d.Layer
	}
	if o.MaxCloudCover == nil {
		o.MaxCloudCover = d.MaxCloudCover
	}
	if o.Width == 0 {
		o.Width = d.Width
	}
	if o.Height == 0 {
		o.Height = d.Height
	}
	if o.Format == "" {
		o.Format = d.Format
	}
	if o.CRS == "" {
		o.CRS = d.CRS
	}
	return o
}

// CloudCover returns a MaxCloudCover value for pct.
func CloudCover(pct int) *int {
	return &pct
}

// CloudCoverPercent returns the effective cloud cover limit.
func (o Options) CloudCoverPercent() int {
	if o.MaxCloudCover == nil {
		return DefaultMaxCloudCover
	}
	return *o.MaxCloudCover
}

// TileRequest identifies one tile.
type TileRequest struct {
	BBox      geometry.BoundingBox
	TimeRange TimeRange
	Options   Options
}

// Normalize returns a copy with default options filled in.
func (r TileRequest) Normalize() TileRequest {
	r.Options = r.Options.withDefaults()
	return r
}

// CacheKey identifies the tile in a TileCache.
func (r TileRequest) CacheKey() string {
	n := r.Normalize()
	return strings.Join([]string{
		geometry.ProviderBBox(n.BBox),
		n.TimeRange.String(),
		n.Options.Layer,
		strconv.Itoa(n.Options.CloudCoverPercent()),
		strconv.Itoa(n.Options.Width) + "x" + strconv.Itoa(n.Options.Height),
		n.Options.Format,
	}, "|")
}

// Tile is raw image bytes plus the advised client cache lifetime.
type Tile struct {
	Data        []byte
	ContentType string
	CacheMaxAge time.Duration
}

// Provider fetches tiles from an imagery backend.
type Provider interface {
	FetchTile(ctx context.Context, req TileRequest) (*Tile, error)
}
