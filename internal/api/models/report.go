package models

import (
	"github.com/xcelerate/sitewatch/internal/compliance"
	"github.com/xcelerate/sitewatch/internal/report"
)

// AnalysisInput is the calibrated output of the AI analysis service as
// posted by the dashboard.
type AnalysisInput struct {
	SimilarityScore     float64                  `json:"similarityScore"`
	ChangesCount        int                      `json:"changesCount"`
	DeviationPercentage float64                  `json:"deviationPercentage"`
	ResultImageURL      string                   `json:"resultImage"`
	Categories          []compliance.CategoryRow `json:"categories,omitempty"`
}

// CreateReportRequest is the body of POST /v1/reports.
type CreateReportRequest struct {
	PlotID            string         `json:"plotId"`
	IndustryName      string         `json:"industryName"`
	GeneratedBy       string         `json:"generatedBy,omitempty"`
	SurveyDate        *Timestamp     `json:"surveyDate,omitempty"`
	SatelliteImageURL string         `json:"satelliteImageUrl,omitempty"`
	Polygon           *PolygonInput  `json:"polygon,omitempty"`
	Comments          string         `json:"comments,omitempty"`
	Analysis          *AnalysisInput `json:"analysis"`
}

// Validate returns field errors for missing fields and out-of-range analysis numbers.
func (r *CreateReportRequest) Validate() []FieldError {
	var errs []FieldError
	if r.PlotID == "" {
		errs = append(errs, FieldError{Field: "plotId", Message: "required", Code: "REQUIRED"})
	}
	if r.Analysis == nil {
		errs = append(errs, FieldError{Field: "analysis", Message: "required", Code: "REQUIRED"})
	} else {
		a := r.Analysis
		if !(a.SimilarityScore >= 0 && a.SimilarityScore <= 1) {
			errs = append(errs, FieldError{Field: "analysis.similarityScore", Message: "must be between 0 and 1", Code: "OUT_OF_RANGE"})
		}
		if a.ChangesCount < 0 {
			errs = append(errs, FieldError{Field: "analysis.changesCount", Message: "must not be negative", Code: "OUT_OF_RANGE"})
		}
		if a.DeviationPercentage < 0 {
			errs = append(errs, FieldError{Field: "analysis.deviationPercentage", Message: "must not be negative", Code: "OUT_OF_RANGE"})
		}
	}
	return errs
}

// UpdateStatusRequest is the body of PATCH /v1/reports/{id}/status.
type UpdateStatusRequest struct {
	Status   string `json:"status"`
	Comments string `json:"comments"`
}

// ReportAnalysis is the derived analysis block of a report.
type ReportAnalysis struct {
	SimilarityScore     float64                  `json:"similarityScore"`
	ChangesCount        int                      `json:"changesCount"`
	DeviationPercentage float64                  `json:"deviationPercentage"`
	HeatmapURL          string                   `json:"heatmapUrl,omitempty"`
	Categories          []compliance.CategoryRow `json:"categories"`
}

// Report is a stored compliance report.
type Report struct {
	ID                string            `json:"id"`
	PlotID            string            `json:"plotId"`
	IndustryName      string            `json:"industryName"`
	GeneratedBy       string            `json:"generatedBy"`
	SurveyDate        Timestamp         `json:"surveyDate"`
	SatelliteImageURL string            `json:"satelliteImageUrl"`
	Bounds            [][2]float64      `json:"bounds,omitempty"`
	Analysis          ReportAnalysis    `json:"analysis"`
	Status            compliance.Status `json:"status"`
	Comments          string            `json:"comments,omitempty"`
	CreatedAt         Timestamp         `json:"createdAt"`
	UpdatedAt         Timestamp         `json:"updatedAt"`
}

// NewReport converts a stored report.
func NewReport(r *report.Report) Report {
	categories := r.Analysis.Categories
	if categories == nil {
		categories = []compliance.CategoryRow{}
	}
	return Report{
		ID:                r.ID,
		PlotID:            r.PlotID,
		IndustryName:      r.IndustryName,
		GeneratedBy:       r.GeneratedBy,
		SurveyDate:        Timestamp(r.SurveyDate),
		SatelliteImageURL: r.SatelliteImageURL,
		Bounds:            r.Bounds,
		Analysis: ReportAnalysis{
			SimilarityScore:     r.Analysis.SimilarityScore,
			ChangesCount:        r.Analysis.ChangesCount,
			DeviationPercentage: r.Analysis.DeviationPercentage,
			HeatmapURL:          r.Analysis.HeatmapURL,
			Categories:          categories,
		},
		Status:    r.Status,
		Comments:  r.Comments,
		CreatedAt: Timestamp(r.CreatedAt),
		UpdatedAt: Timestamp(r.UpdatedAt),
	}
}

// PagedReports is the body of GET /v1/reports.
type PagedReports struct {
	Items []Report          `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// NewPagedReports converts a repository page.
func NewPagedReports(res *report.ListResult, limit int) PagedReports {
	out := PagedReports{
		Items: make([]Report, len(res.Items)),
		Meta:  PagedResponseMeta{Limit: limit},
	}
	for i, r := range res.Items {
		out.Items[i] = NewReport(r)
	}
	if res.NextCursor != "" {
		cursor := res.NextCursor
		out.Meta.NextCursor = &cursor
	}
	return out
}

// ReportView is the assembled report page.
type ReportView struct {
	Report         Report           `json:"report"`
	Timeline       TimelineResponse `json:"timeline"`
	Risk           *RiskAssessment  `json:"risk,omitempty"`
	Site           *Site            `json:"site,omitempty"`
	ProgressPhotos []string         `json:"progressPhotos"`
}

// NewReportView converts a service view.
func NewReportView(v *report.View) ReportView {
	out := ReportView{
		Report:         NewReport(v.Report),
		Timeline:       NewTimelineResponse(v.TimelineYear, v.Timeline),
		ProgressPhotos: v.ProgressPhotos,
	}
	if out.ProgressPhotos == nil {
		out.ProgressPhotos = []string{}
	}
	if v.Risk != nil {
		a := NewRiskAssessment(*v.Risk)
		out.Risk = &a
	}
	if v.Site != nil {
		s := NewSite(*v.Site)
		out.Site = &s
	}
	return out
}
