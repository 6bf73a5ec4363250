package models

import (
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/pkg/polyline"
)

// PolygonInput accepts a site outline either as [lat, lng] pairs or as an
// encoded polyline. Points wins when both are present.
type PolygonInput struct {
	Points   [][2]float64 `json:"points,omitempty"`
	Polyline string       `json:"polyline,omitempty"`
}

// IsEmpty reports whether neither form was supplied.
func (in PolygonInput) IsEmpty() bool {
	return len(in.Points) == 0 && in.Polyline == ""
}

// Polygon decodes the input. A malformed polyline is reported as invalid geometry.
func (in PolygonInput) Polygon() (geometry.Polygon, error) {
	if len(in.Points) > 0 {
		return geometry.PolygonFromPairs(in.Points), nil
	}
	poly, err := polyline.Decode(in.Polyline)
	if err != nil {
		return nil, &geometry.InvalidGeometryError{Reason: err.Error()}
	}
	return poly, nil
}

// BoundingBoxResponse is returned by POST /v1/geometry/bbox.
type BoundingBoxResponse struct {
	BBox         geometry.BoundingBox `json:"bbox"`
	ProviderBBox string               `json:"providerBbox"`
	InternalBBox string               `json:"internalBbox"`
	Center       geometry.Point       `json:"center"`
	RadiusMeters float64              `json:"radiusMeters"`
	Polyline     string               `json:"polyline"`
	PerimeterM   float64              `json:"perimeterMeters"`
}

// NewBoundingBoxResponse describes poly and its bounding box.
func NewBoundingBoxResponse(poly geometry.Polygon, box geometry.BoundingBox) BoundingBoxResponse {
	return BoundingBoxResponse{
		BBox:         box,
		ProviderBBox: geometry.ProviderBBox(box),
		InternalBBox: geometry.InternalBBox(box),
		Center:       geometry.Center(box),
		RadiusMeters: geometry.RadiusContext(box),
		Polyline:     polyline.Encode(poly),
		PerimeterM:   polyline.Perimeter(poly),
	}
}
