package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/api/models"
	"github.com/xcelerate/sitewatch/internal/api/response"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/risk"
)

// maxScanRadiusMeters keeps Overpass queries within what the public instances accept.
const maxScanRadiusMeters = 25000

// RiskAssessor is satisfied by *risk.Scanner.
type RiskAssessor interface {
	Assess(ctx context.Context, polygon geometry.Polygon, opts risk.ScanOptions) risk.Assessment
}

// RiskHandler runs environmental risk scans.
type RiskHandler struct {
	assessor RiskAssessor
	logger   zerolog.Logger
}

// NewRiskHandler creates a new RiskHandler.
func NewRiskHandler(assessor RiskAssessor, logger zerolog.Logger) *RiskHandler {
	return &RiskHandler{assessor: assessor, logger: logger}
}

// Scan handles POST /v1/risk:scan. Upstream failures are reported inside a
// 200 response as an unavailable assessment.
func (h *RiskHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var input models.RiskScanRequest
	if err := decodeJSON(r, &input, false); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if input.Polygon.IsEmpty() {
		response.BadRequest(w, r, "invalid risk scan request", []models.FieldError{{Field: "polygon", Message: "required", Code: "REQUIRED"}})
		return
	}
	if input.RadiusMeters < 0 || input.RadiusMeters > maxScanRadiusMeters {
		response.BadRequest(w, r, "invalid risk scan request", []models.FieldError{{Field: "radiusMeters", Message: "must be between 0 and 25000", Code: "OUT_OF_RANGE"}})
		return
	}

	poly, err := input.Polygon.Polygon()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	assessment := h.assessor.Assess(r.Context(), poly, risk.ScanOptions{RadiusMeters: input.RadiusMeters})
	response.JSON(w, r, http.StatusOK, models.NewRiskAssessment(assessment))
}
