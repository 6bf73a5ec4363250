// Package geometry converts site polygons into canonical bounding boxes and
// the textual bbox encodings expected by downstream services.
//
// Two bbox encodings exist and they use opposite axis orders. They are exposed
// as two separately named functions so a caller always states which one it
// needs:
//
//   - ProviderBBox: minLng,minLat,maxLng,maxLat (WMS x,y order for EPSG:4326 tiles)
//   - InternalBBox: minLat,minLng,maxLat,maxLng (AI analysis service order)
package geometry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MinRadiusMeters is the search radius used for zero-area boxes.
const MinRadiusMeters = 100.0

// ErrInvalidGeometry is the sentinel wrapped by every InvalidGeometryError.
var ErrInvalidGeometry = errors.New("invalid geometry")

// InvalidGeometryError describes why a polygon or bbox string was rejected.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// Unwrap allows errors.Is(err, ErrInvalidGeometry).
func (e *InvalidGeometryError) Unwrap() error {
	return ErrInvalidGeometry
}

func invalid(format string, args ...interface{}) error {
	return &InvalidGeometryError{Reason: fmt.Sprintf(format, args...)}
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Polygon is an ordered list of vertices. It does not need to be closed.
type Polygon []Point

// PolygonFromPairs converts [[lat, lng], ...] pairs into a Polygon.
func PolygonFromPairs(pairs [][2]float64) Polygon {
	poly := make(Polygon, 0, len(pairs))
	for _, p := range pairs {
		poly = append(poly, Point{Lat: p[0], Lng: p[1]})
	}
	return poly
}

// Pairs returns the polygon as [[lat, lng], ...] pairs.
func (p Polygon) Pairs() [][2]float64 {
	pairs := make([][2]float64, 0, len(p))
	for _, pt := range p {
		pairs = append(pairs, [2]float64{pt.Lat, pt.Lng})
	}
	return pairs
}

// BoundingBox is an axis-aligned rectangle with MinLat <= MaxLat and MinLng <= MaxLng.
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLng float64 `json:"minLng"`
	MaxLng float64 `json:"maxLng"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// IsZeroArea reports whether the box collapses to a line or a point.
func (b BoundingBox) IsZeroArea() bool {
	return b.MinLat == b.MaxLat || b.MinLng == b.MaxLng
}

// BoundingBoxOf computes the smallest box containing every vertex.
// A two-point polygon is treated as the diagonal of a rectangle.
func BoundingBoxOf(poly Polygon) (BoundingBox, error) {
	if len(poly) < 2 {
		return BoundingBox{}, invalid("need at least 2 points, got %d", len(poly))
	}

	box := BoundingBox{
		MinLat: math.Inf(1),
		MaxLat: math.Inf(-1),
		MinLng: math.Inf(1),
		MaxLng: math.Inf(-1),
	}

	for i, p := range poly {
		if reason := pointProblem(p); reason != "" {
			return BoundingBox{}, invalid("vertex %d: %s", i, reason)
		}
		box.MinLat = math.Min(box.MinLat, p.Lat)
		box.MaxLat = math.Max(box.MaxLat, p.Lat)
		box.MinLng = math.Min(box.MinLng, p.Lng)
		box.MaxLng = math.Max(box.MaxLng, p.Lng)
	}

	return box, nil
}

// ValidatePoint checks that a coordinate is finite and within WGS84 range.
func ValidatePoint(p Point) error {
	if reason := pointProblem(p); reason != "" {
		return invalid("%s", reason)
	}
	return nil
}

func pointProblem(p Point) string {
	switch {
	case math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0):
		return fmt.Sprintf("non-finite coordinate (%v, %v)", p.Lat, p.Lng)
	case p.Lat < -90 || p.Lat > 90:
		return fmt.Sprintf("latitude %v out of range", p.Lat)
	case p.Lng < -180 || p.Lng > 180:
		return fmt.Sprintf("longitude %v out of range", p.Lng)
	}
	return ""
}

// ProviderBBox renders minLng,minLat,maxLng,maxLat.
func ProviderBBox(b BoundingBox) string {
	return joinFloats(b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
}

// InternalBBox renders minLat,minLng,maxLat,maxLng.
func InternalBBox(b BoundingBox) string {
	return joinFloats(b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
}

// ParseProviderBBox parses the output of ProviderBBox.
func ParseProviderBBox(s string) (BoundingBox, error) {
	v, err := splitFloats(s)
	if err != nil {
		return BoundingBox{}, err
	}
	box := BoundingBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	return box, validateBox(box)
}

// ParseInternalBBox parses the output of InternalBBox.
func ParseInternalBBox(s string) (BoundingBox, error) {
	v, err := splitFloats(s)
	if err != nil {
		return BoundingBox{}, err
	}
	box := BoundingBox{MinLat: v[0], MinLng: v[1], MaxLat: v[2], MaxLng: v[3]}
	return box, validateBox(box)
}

// Center returns the per-axis midpoint of the box.
func Center(b BoundingBox) Point {
	return Point{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lng: (b.MinLng + b.MaxLng) / 2,
	}
}

// RadiusContext returns the distance in meters from the center of the box to
// its farthest corner, never less than MinRadiusMeters.
func RadiusContext(b BoundingBox) float64 {
	c := Center(b)
	r := 0.0
	for _, corner := range []Point{
		{Lat: b.MinLat, Lng: b.MinLng},
		{Lat: b.MinLat, Lng: b.MaxLng},
		{Lat: b.MaxLat, Lng: b.MinLng},
		{Lat: b.MaxLat, Lng: b.MaxLng},
	} {
		r = math.Max(r, HaversineDistance(c, corner))
	}
	return math.Max(r, MinRadiusMeters)
}

// HaversineDistance returns the great-circle distance between two points in meters.
func HaversineDistance(a, b Point) float64 {
	const earthRadius = 6371000 // meters

	lat1Rad := a.Lat * math.Pi / 180
	lat2Rad := b.Lat * math.Pi / 180
	deltaLat := (b.Lat - a.Lat) * math.Pi / 180
	deltaLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadius * c
}

func joinFloats(vals ...float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func splitFloats(s string) ([4]float64, error) {
	var out [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, invalid("bbox %q must have 4 comma-separated numbers", s)
	}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return out, invalid("bbox component %d: %v", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func validateBox(b BoundingBox) error {
	for _, p := range []Point{{Lat: b.MinLat, Lng: b.MinLng}, {Lat: b.MaxLat, Lng: b.MaxLng}} {
		if err := ValidatePoint(p); err != nil {
			return err
		}
	}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return invalid("bbox min exceeds max")
	}
	return nil
}
