// Package report stores compliance reports and assembles the report view.
package report

import (
	"errors"
	"time"

	"github.com/xcelerate/sitewatch/internal/compliance"
	"github.com/xcelerate/sitewatch/internal/geometry"
)

// Repository errors.
var (
	ErrReportNotFound  = errors.New("report not found")
	ErrMissingAnalysis = errors.New("report requires an analysis result")
	ErrInvalidStatus   = errors.New("invalid report status")
	ErrInvalidReport   = errors.New("invalid report")
)

// Report is a stored compliance report for one plot.
type Report struct {
	ID                string
	PlotID            string
	IndustryName      string
	GeneratedBy       string
	SurveyDate        time.Time
	SatelliteImageURL string
	Bounds            [][2]float64
	Analysis          Analysis
	Status            compliance.Status
	Comments          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Polygon returns the report bounds as a polygon.
func (r *Report) Polygon() geometry.Polygon {
	return geometry.PolygonFromPairs(r.Bounds)
}

// Analysis is the derived analysis block stored with a report.
type Analysis struct {
	SimilarityScore     float64                  `json:"similarity_score"`
	ChangesCount        int                      `json:"changes_count"`
	DeviationPercentage float64                  `json:"deviation_percentage"`
	HeatmapURL          string                   `json:"heatmap_url,omitempty"`
	Categories          []compliance.CategoryRow `json:"categories"`
}

// ListOptions contains options for listing reports.
type ListOptions struct {
	Limit  int
	Cursor string

	// Optional filters.
	PlotID string
	Status compliance.Status
}

// ListResult contains the results of listing reports.
type ListResult struct {
	Items      []*Report
	NextCursor string
}

const defaultListLimit = 50
