package models

import (
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/risk"
)

// RiskScanRequest is the body of POST /v1/risk:scan.
type RiskScanRequest struct {
	Polygon      PolygonInput `json:"polygon"`
	RadiusMeters float64      `json:"radiusMeters,omitempty"`
}

// Facility is one classified facility.
type Facility struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Category risk.Category     `json:"category"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// RiskCategory is one category panel.
type RiskCategory struct {
	Category    risk.Category `json:"category"`
	Title       string        `json:"title"`
	Count       int           `json:"count"`
	Level       risk.Level    `json:"level"`
	Description string        `json:"description"`
	Top         []Facility    `json:"top"`
	More        int           `json:"more"`
}

// RiskAssessment separates "no data" (available=false) from "nothing found"
// (available=true with zero facilities).
type RiskAssessment struct {
	Available    bool            `json:"available"`
	Reason       string          `json:"reason,omitempty"`
	RadiusMeters float64         `json:"radiusMeters"`
	Center       *geometry.Point `json:"center,omitempty"`
	Facilities   []Facility      `json:"facilities"`
	Categories   []RiskCategory  `json:"categories"`
}

func newFacilities(in []risk.Facility) []Facility {
	out := make([]Facility, len(in))
	for i, f := range in {
		out[i] = Facility{
			ID:       f.ID,
			Name:     f.Name(),
			Kind:     f.Kind(),
			Category: f.Category,
			Lat:      f.Lat,
			Lon:      f.Lon,
			Tags:     f.Tags,
		}
	}
	return out
}

// NewRiskAssessment converts a scanner assessment.
func NewRiskAssessment(a risk.Assessment) RiskAssessment {
	out := RiskAssessment{
		Available:    a.Available,
		Reason:       a.Reason,
		RadiusMeters: a.RadiusMeters,
		Center:       a.Center,
		Facilities:   newFacilities(a.Facilities),
		Categories:   make([]RiskCategory, len(a.Categories)),
	}
	for i, c := range a.Categories {
		out.Categories[i] = RiskCategory{
			Category:    c.Category,
			Title:       c.Title,
			Count:       c.Count,
			Level:       c.Level,
			Description: c.Description,
			Top:         newFacilities(c.Top),
			More:        c.More,
		}
	}
	return out
}
