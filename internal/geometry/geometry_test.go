package geometry_test

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcelerate/sitewatch/internal/geometry"
)

// Rikhi site outline, trimmed.
var rikhi = geometry.Polygon{
	{Lat: 22.981199, Lng: 82.909488},
	{Lat: 22.981190, Lng: 82.911068},
	{Lat: 22.979998, Lng: 82.911922},
	{Lat: 22.978216, Lng: 82.912670},
	{Lat: 22.977961, Lng: 82.912733},
	{Lat: 22.977697, Lng: 82.911358},
	{Lat: 22.977738, Lng: 82.909400},
}

func TestBoundingBoxOf_ContainsAllVertices(t *testing.T) {
	box, err := geometry.BoundingBoxOf(rikhi)
	require.NoError(t, err)

	assert.LessOrEqual(t, box.MinLat, box.MaxLat)
	assert.LessOrEqual(t, box.MinLng, box.MaxLng)
	for i, p := range rikhi {
		assert.True(t, box.Contains(p), "vertex %d should be inside the box", i)
	}

	assert.Equal(t, 22.977697, box.MinLat)
	assert.Equal(t, 22.981199, box.MaxLat)
	assert.Equal(t, 82.909400, box.MinLng)
	assert.Equal(t, 82.912733, box.MaxLng)
}

func TestBoundingBoxOf_TwoPointsDefineRectangle(t *testing.T) {
	box, err := geometry.BoundingBoxOf(geometry.Polygon{
		{Lat: 21.5, Lng: 81.9},
		{Lat: 21.4, Lng: 81.8},
	})
	require.NoError(t, err)

	assert.Equal(t, geometry.BoundingBox{MinLat: 21.4, MaxLat: 21.5, MinLng: 81.8, MaxLng: 81.9}, box)
}

func TestBoundingBoxOf_RepeatedPointIsZeroArea(t *testing.T) {
	p := geometry.Point{Lat: 23.0685, Lng: 82.5917}
	box, err := geometry.BoundingBoxOf(geometry.Polygon{p, p, p})
	require.NoError(t, err)

	assert.True(t, box.IsZeroArea())
	assert.Equal(t, p, geometry.Center(box))
	assert.Equal(t, geometry.MinRadiusMeters, geometry.RadiusContext(box))
}

func TestBoundingBoxOf_Invalid(t *testing.T) {
	tests := []struct {
		name string
		poly geometry.Polygon
	}{
		{"nil polygon", nil},
		{"single point", geometry.Polygon{{Lat: 1, Lng: 1}}},
		{"latitude too large", geometry.Polygon{{Lat: 91, Lng: 0}, {Lat: 0, Lng: 0}}},
		{"longitude too small", geometry.Polygon{{Lat: 0, Lng: -180.5}, {Lat: 0, Lng: 0}}},
		{"NaN", geometry.Polygon{{Lat: math.NaN(), Lng: 0}, {Lat: 0, Lng: 0}}},
		{"Inf", geometry.Polygon{{Lat: 0, Lng: math.Inf(1)}, {Lat: 0, Lng: 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := geometry.BoundingBoxOf(tt.poly)
			require.Error(t, err)
			assert.ErrorIs(t, err, geometry.ErrInvalidGeometry)

			var geomErr *geometry.InvalidGeometryError
			assert.ErrorAs(t, err, &geomErr)
		})
	}
}

func TestBBoxEncodings_AxisOrder(t *testing.T) {
	box := geometry.BoundingBox{MinLat: 21.49, MaxLat: 21.5, MinLng: 81.8, MaxLng: 81.82}

	assert.Equal(t, "81.8,21.49,81.82,21.5", geometry.ProviderBBox(box))
	assert.Equal(t, "21.49,81.8,21.5,81.82", geometry.InternalBBox(box))
}

func TestProviderBBox_RoundTrip(t *testing.T) {
	box, err := geometry.BoundingBoxOf(rikhi)
	require.NoError(t, err)

	// Parse independently of the package's own parser.
	parts := strings.Split(geometry.ProviderBBox(box), ",")
	require.Len(t, parts, 4)
	nums := make([]float64, 4)
	for i, p := range parts {
		nums[i], err = strconv.ParseFloat(p, 64)
		require.NoError(t, err)
	}

	assert.InDelta(t, box.MinLng, nums[0], 1e-12)
	assert.InDelta(t, box.MinLat, nums[1], 1e-12)
	assert.InDelta(t, box.MaxLng, nums[2], 1e-12)
	assert.InDelta(t, box.MaxLat, nums[3], 1e-12)

	parsed, err := geometry.ParseProviderBBox(geometry.ProviderBBox(box))
	require.NoError(t, err)
	assert.Equal(t, box, parsed)

	parsed, err = geometry.ParseInternalBBox(geometry.InternalBBox(box))
	require.NoError(t, err)
	assert.Equal(t, box, parsed)
}

func TestParseProviderBBox_Invalid(t *testing.T) {
	for _, s := range []string{"", "1,2,3", "a,b,c,d", "10,10,5,5", "0,95,1,96"} {
		_, err := geometry.ParseProviderBBox(s)
		assert.ErrorIs(t, err, geometry.ErrInvalidGeometry, "input %q", s)
	}
}

func TestCenterAndRadius(t *testing.T) {
	box := geometry.BoundingBox{MinLat: 52.0, MaxLat: 52.02, MinLng: 4.0, MaxLng: 4.02}

	c := geometry.Center(box)
	assert.InDelta(t, 52.01, c.Lat, 1e-9)
	assert.InDelta(t, 4.01, c.Lng, 1e-9)

	// Half-diagonal of a ~2.2km x ~1.4km box.
	r := geometry.RadiusContext(box)
	assert.Greater(t, r, 1200.0)
	assert.Less(t, r, 1400.0)
}

func TestHaversineDistance(t *testing.T) {
	amsterdam := geometry.Point{Lat: 52.3676, Lng: 4.9041}
	rotterdam := geometry.Point{Lat: 51.9244, Lng: 4.4777}

	d := geometry.HaversineDistance(amsterdam, rotterdam)
	assert.InDelta(t, 57000, d, 1500)
	assert.Zero(t, geometry.HaversineDistance(amsterdam, amsterdam))
}

func TestPolygonPairs(t *testing.T) {
	pairs := [][2]float64{{22.5, 83.8}, {22.6, 83.9}}
	poly := geometry.PolygonFromPairs(pairs)

	require.Len(t, poly, 2)
	assert.Equal(t, geometry.Point{Lat: 22.5, Lng: 83.8}, poly[0])
	assert.Equal(t, pairs, poly.Pairs())
}
