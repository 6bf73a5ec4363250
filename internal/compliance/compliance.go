// Package compliance turns AI analysis numbers into a compliance status and
// the category table shown on a site report.
//
// Inputs are expected to be calibrated already; nothing here rescales the
// deviation or reads configuration.
package compliance

import (
	"errors"
	"fmt"
)

// ViolationDeviationThreshold is the deviation percentage above which a site
// is in violation regardless of the change count.
const ViolationDeviationThreshold = 5.0

// BoundaryDeviationThreshold is the deviation percentage above which the
// default Boundary Adherence row reports a discrepancy.
const BoundaryDeviationThreshold = 2.0

// Status is the lifecycle state of a compliance report.
type Status string

const (
	StatusPendingReview     Status = "Pending Review"
	StatusVerifiedCompliant Status = "Verified - Compliant"
	StatusVerifiedViolation Status = "Verified - Violation"
	StatusNoticeSent        Status = "Notice Sent"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingReview, StatusVerifiedCompliant, StatusVerifiedViolation, StatusNoticeSent:
		return true
	}
	return false
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown compliance status %q", s)
	}
	return st, nil
}

// CategoryRow is one line of the report's discrepancy table.
type CategoryRow struct {
	Category    string `json:"category"`
	DroneSurvey string `json:"drone_survey"`
	Discrepancy string `json:"discrepancy"`
	Action      string `json:"action"`
}

// AnalysisResult is the calibrated output of the AI analysis service.
type AnalysisResult struct {
	SimilarityScore     float64       `json:"similarity_score"`
	ChangesCount        int           `json:"changes_count"`
	DeviationPercentage float64       `json:"deviation_percentage"`
	ResultImageURL      string        `json:"result_image"`
	Categories          []CategoryRow `json:"categories,omitempty"`
}

// ErrInvalidAnalysis is returned for analysis numbers outside their ranges.
var ErrInvalidAnalysis = errors.New("invalid analysis result")

// Validate checks that similarity is within [0,1] and that the change count
// and deviation are not negative.
func (a AnalysisResult) Validate() error {
	switch {
	case !(a.SimilarityScore >= 0 && a.SimilarityScore <= 1):
		return fmt.Errorf("%w: similarity_score %v outside [0,1]", ErrInvalidAnalysis, a.SimilarityScore)
	case a.ChangesCount < 0:
		return fmt.Errorf("%w: changes_count %d is negative", ErrInvalidAnalysis, a.ChangesCount)
	case !(a.DeviationPercentage >= 0):
		return fmt.Errorf("%w: deviation_percentage %v is negative", ErrInvalidAnalysis, a.DeviationPercentage)
	}
	return nil
}

// Report is the derived compliance verdict merged into a stored report.
type Report struct {
	Status              Status        `json:"status"`
	SimilarityScore     float64       `json:"similarity_score"`
	ChangesCount        int           `json:"changes_count"`
	DeviationPercentage float64       `json:"deviation_percentage"`
	Categories          []CategoryRow `json:"categories"`
}

// Derive computes the status and category table for an analysis result.
func Derive(a AnalysisResult) Report {
	status := StatusVerifiedCompliant
	if a.ChangesCount > 0 || a.DeviationPercentage > ViolationDeviationThreshold {
		status = StatusVerifiedViolation
	}

	categories := a.Categories
	if len(categories) == 0 {
		categories = DefaultCategories(a.DeviationPercentage)
	} else {
		categories = append([]CategoryRow(nil), categories...)
	}

	return Report{
		Status:              status,
		SimilarityScore:     a.SimilarityScore,
		ChangesCount:        a.ChangesCount,
		DeviationPercentage: a.DeviationPercentage,
		Categories:          categories,
	}
}

// DefaultCategories synthesizes the table for payloads that carry no rows.
func DefaultCategories(deviation float64) []CategoryRow {
	boundary := CategoryRow{
		Category:    "Boundary Adherence",
		DroneSurvey: "Matches Blueprint",
		Discrepancy: "None",
		Action:      "None",
	}
	if deviation > BoundaryDeviationThreshold {
		boundary.DroneSurvey = "Deviation Detected"
		boundary.Discrepancy = "Major Discrepancy"
		boundary.Action = "Issue Notice"
	}

	return []CategoryRow{
		boundary,
		{
			Category:    "Structure Footprint",
			DroneSurvey: "As per satellite plan",
			Discrepancy: "None",
			Action:      "None",
		},
	}
}
