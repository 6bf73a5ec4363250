// Package polyline encodes and decodes site outlines using Google's polyline algorithm,
// which lets a polygon travel as a compact URL-safe query parameter.
// The algorithm is documented at: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"math"

	"github.com/xcelerate/sitewatch/internal/geometry"
)

// Standard precisions. Site surveys are recorded to 6 decimal places, so
// Precision6 round-trips them exactly.
const (
	Precision5 = 5
	Precision6 = 6
)

// ErrMalformed is returned when the encoded string ends mid-value.
var ErrMalformed = errors.New("malformed polyline")

// Decode decodes a polyline with the standard precision of 5 decimal places.
func Decode(encoded string) (geometry.Polygon, error) {
	return DecodeWithPrecision(encoded, Precision5)
}

// DecodeWithPrecision decodes a polyline-encoded string into a polygon.
func DecodeWithPrecision(encoded string, precision int) (geometry.Polygon, error) {
	if encoded == "" {
		return nil, nil
	}

	factor := math.Pow10(precision)
	var poly geometry.Polygon
	index := 0
	lat := 0
	lng := 0

	for index < len(encoded) {
		latDelta, next, ok := decodeValue(encoded, index)
		if !ok {
			return nil, ErrMalformed
		}
		lat += latDelta

		lngDelta, next, ok := decodeValue(encoded, next)
		if !ok {
			return nil, ErrMalformed
		}
		lng += lngDelta
		index = next

		poly = append(poly, geometry.Point{
			Lat: float64(lat) / factor,
			Lng: float64(lng) / factor,
		})
	}

	return poly, nil
}

// decodeValue decodes one zig-zag value starting at index.
// ok is false if the string ends before the value terminates.
func decodeValue(encoded string, index int) (value, next int, ok bool) {
	shift := 0
	result := 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), index, true
			}
			return result >> 1, index, true
		}
	}

	return 0, index, false
}

// Encode encodes a polygon with the standard precision of 5 decimal places.
func Encode(poly geometry.Polygon) string {
	return EncodeWithPrecision(poly, Precision5)
}

// EncodeWithPrecision encodes a polygon into a polyline string.
func EncodeWithPrecision(poly geometry.Polygon, precision int) string {
	if len(poly) == 0 {
		return ""
	}

	factor := math.Pow10(precision)
	encoded := make([]byte, 0, len(poly)*6)
	prevLat := 0
	prevLng := 0

	for _, p := range poly {
		lat := int(math.Round(p.Lat * factor))
		lng := int(math.Round(p.Lng * factor))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lng-prevLng)

		prevLat = lat
		prevLng = lng
	}

	return string(encoded)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	buf = append(buf, byte(value)+63)

	return buf
}

// Perimeter returns the length in meters of the closed outline.
func Perimeter(poly geometry.Polygon) float64 {
	if len(poly) < 2 {
		return 0
	}

	var total float64
	for i := 1; i < len(poly); i++ {
		total += geometry.HaversineDistance(poly[i-1], poly[i])
	}
	if poly[0] != poly[len(poly)-1] {
		total += geometry.HaversineDistance(poly[len(poly)-1], poly[0])
	}
	return total
}
