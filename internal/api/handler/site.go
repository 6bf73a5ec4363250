package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/api/models"
	"github.com/xcelerate/sitewatch/internal/api/response"
	"github.com/xcelerate/sitewatch/internal/compliance"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
	"github.com/xcelerate/sitewatch/internal/report"
	"github.com/xcelerate/sitewatch/internal/site"
)

// SiteChecker is satisfied by *analysis.Client.
type SiteChecker interface {
	CheckSite(ctx context.Context, bounds geometry.Polygon, blueprintURL string) (compliance.AnalysisResult, error)
}

// SiteHandler serves the site catalog and runs blueprint checks against it.
type SiteHandler struct {
	catalog *site.Catalog
	checker SiteChecker
	reports ReportService
	logger  zerolog.Logger
}

// NewSiteHandler creates a new SiteHandler. checker and reports may be nil,
// in which case Check answers 503.
func NewSiteHandler(catalog *site.Catalog, checker SiteChecker, reports ReportService, logger zerolog.Logger) *SiteHandler {
	return &SiteHandler{catalog: catalog, checker: checker, reports: reports, logger: logger}
}

// List handles GET /v1/sites.
func (h *SiteHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.catalog.All()
	out := models.SiteList{Items: make([]models.Site, len(all))}
	for i, s := range all {
		out.Items[i] = models.NewSite(s)
	}
	response.JSON(w, r, http.StatusOK, out)
}

// Get handles GET /v1/sites/{name}.
func (h *SiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewSite(s))
}

// Check handles POST /v1/sites/{name}/check. It overlays the site's
// blueprint on current imagery and files the result as a new report.
func (h *SiteHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil || h.reports == nil {
		response.ServiceUnavailable(w, r, "site checks are not configured")
		return
	}

	var input models.SiteCheckRequest
	if err := decodeJSON(r, &input, true); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	s, err := h.catalog.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if s.BlueprintURL == "" {
		response.BadRequest(w, r, "site has no blueprint to check against", nil)
		return
	}

	result, err := h.checker.CheckSite(r.Context(), s.Bounds, s.BlueprintURL)
	if err != nil {
		h.logger.Warn().Err(err).Str("site", s.Name).Msg("site check failed")
		if errors.Is(err, geometry.ErrInvalidGeometry) || errors.Is(err, resilience.ErrCircuitOpen) {
			writeError(w, r, h.logger, err)
			return
		}
		response.BadGateway(w, r, "analysis service could not check the site")
		return
	}

	rep, err := h.reports.Create(r.Context(), report.CreateInput{
		PlotID:            s.Name,
		IndustryName:      s.Name,
		GeneratedBy:       generatedBy(r, ""),
		SatelliteImageURL: input.SatelliteImageURL,
		Bounds:            s.Bounds.Pairs(),
		Comments:          input.Comments,
		Analysis:          &result,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Created(w, r, "/v1/reports/"+rep.ID, models.NewReport(rep))
}
