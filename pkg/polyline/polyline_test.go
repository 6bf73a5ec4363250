package polyline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcelerate/sitewatch/internal/geometry"
)

func TestDecode_ValidPolyline(t *testing.T) {
	tests := []struct {
		name     string
		encoded  string
		expected geometry.Polygon
	}{
		{
			name:     "single point",
			encoded:  "_p~iF~ps|U",
			expected: geometry.Polygon{{Lat: 38.5, Lng: -120.2}},
		},
		{
			name:    "two points",
			encoded: "_p~iF~ps|U_ulLnnqC",
			expected: geometry.Polygon{
				{Lat: 38.5, Lng: -120.2},
				{Lat: 40.7, Lng: -120.95},
			},
		},
		{
			name:    "three points - Google example",
			encoded: "_p~iF~ps|U_ulLnnqC_mqNvxq`@",
			expected: geometry.Polygon{
				{Lat: 38.5, Lng: -120.2},
				{Lat: 40.7, Lng: -120.95},
				{Lat: 43.252, Lng: -126.453},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Decode(tt.encoded)
			require.NoError(t, err)
			require.Len(t, result, len(tt.expected))

			for i, p := range result {
				assert.InDelta(t, tt.expected[i].Lat, p.Lat, 0.00001, "lat %d", i)
				assert.InDelta(t, tt.expected[i].Lng, p.Lng, 0.00001, "lng %d", i)
			}
		})
	}
}

func TestDecode_EmptyString(t *testing.T) {
	result, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestDecode_Truncated(t *testing.T) {
	// Latitude only, longitude missing.
	_, err := Decode("_p~iF")
	assert.ErrorIs(t, err, ErrMalformed)

	// Continuation bit set on the last byte.
	_, err = Decode("_p~iF~ps|")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncode_GoogleExample(t *testing.T) {
	poly := geometry.Polygon{
		{Lat: 38.5, Lng: -120.2},
		{Lat: 40.7, Lng: -120.95},
		{Lat: 43.252, Lng: -126.453},
	}
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", Encode(poly))
	assert.Equal(t, "", Encode(nil))
}

func TestEncodeDecode_Precision6RoundTrip(t *testing.T) {
	site := geometry.Polygon{
		{Lat: 22.516767, Lng: 83.854138},
		{Lat: 22.517193, Lng: 83.856891},
		{Lat: 22.519262, Lng: 83.856443},
		{Lat: 22.518221, Lng: 83.853832},
	}

	decoded, err := DecodeWithPrecision(EncodeWithPrecision(site, Precision6), Precision6)
	require.NoError(t, err)
	require.Len(t, decoded, len(site))
	for i := range site {
		assert.InDelta(t, site[i].Lat, decoded[i].Lat, 1e-9)
		assert.InDelta(t, site[i].Lng, decoded[i].Lng, 1e-9)
	}
}

func TestPerimeter(t *testing.T) {
	assert.Zero(t, Perimeter(nil))
	assert.Zero(t, Perimeter(geometry.Polygon{{Lat: 1, Lng: 1}}))

	// 0.01 degree square at the equator, ~1112m per side.
	square := geometry.Polygon{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 0.01},
		{Lat: 0.01, Lng: 0.01},
		{Lat: 0.01, Lng: 0},
	}
	assert.InDelta(t, 4448, Perimeter(square), 10)

	// An explicitly closed ring yields the same length.
	closed := append(append(geometry.Polygon{}, square...), square[0])
	assert.InDelta(t, Perimeter(square), Perimeter(closed), 1e-6)
}
