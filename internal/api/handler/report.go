package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/api/middleware"
	"github.com/xcelerate/sitewatch/internal/api/models"
	"github.com/xcelerate/sitewatch/internal/api/response"
	"github.com/xcelerate/sitewatch/internal/compliance"
	"github.com/xcelerate/sitewatch/internal/report"
)

const maxListLimit = 100

// ReportService is satisfied by *report.Service.
type ReportService interface {
	Create(ctx context.Context, in report.CreateInput) (*report.Report, error)
	Get(ctx context.Context, id string) (*report.Report, error)
	List(ctx context.Context, opts report.ListOptions) (*report.ListResult, error)
	UpdateStatus(ctx context.Context, id string, status compliance.Status, comments string) (*report.Report, error)
	View(ctx context.Context, id string, opts report.ViewOptions) (*report.View, error)
}

// ReportHandler handles compliance report endpoints.
type ReportHandler struct {
	reports ReportService
	logger  zerolog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reports ReportService, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

// generatedBy prefers an explicit author and falls back to the signed-in inspector.
func generatedBy(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if inspector, ok := middleware.GetInspector(r.Context()); ok {
		if inspector.Name != "" {
			return inspector.Name
		}
		return inspector.ID
	}
	return ""
}

// Create handles POST /v1/reports.
func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input models.CreateReportRequest
	if err := decodeJSON(r, &input, false); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "validation error", errs)
		return
	}

	in := report.CreateInput{
		PlotID:            input.PlotID,
		IndustryName:      input.IndustryName,
		GeneratedBy:       generatedBy(r, input.GeneratedBy),
		SatelliteImageURL: input.SatelliteImageURL,
		Comments:          input.Comments,
		Analysis: &compliance.AnalysisResult{
			SimilarityScore:     input.Analysis.SimilarityScore,
			ChangesCount:        input.Analysis.ChangesCount,
			DeviationPercentage: input.Analysis.DeviationPercentage,
			ResultImageURL:      input.Analysis.ResultImageURL,
			Categories:          input.Analysis.Categories,
		},
	}
	if input.SurveyDate != nil {
		in.SurveyDate = input.SurveyDate.Time()
	}
	if input.Polygon != nil && !input.Polygon.IsEmpty() {
		poly, err := input.Polygon.Polygon()
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		in.Bounds = poly.Pairs()
	}

	rep, err := h.reports.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Created(w, r, "/v1/reports/"+rep.ID, models.NewReport(rep))
}

// List handles GET /v1/reports?limit=&cursor=&plotId=&status=.
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := report.ListOptions{
		Limit:  50,
		Cursor: q.Get("cursor"),
		PlotID: q.Get("plotId"),
	}

	var fieldErrors []models.FieldError
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			fieldErrors = append(fieldErrors, models.FieldError{Field: "limit", Message: "must be between 1 and 100", Code: "OUT_OF_RANGE"})
		}
		opts.Limit = limit
	}
	if raw := q.Get("status"); raw != "" {
		status, err := compliance.ParseStatus(raw)
		if err != nil {
			fieldErrors = append(fieldErrors, models.FieldError{Field: "status", Message: err.Error(), Code: "INVALID"})
		}
		opts.Status = status
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrors)
		return
	}

	res, err := h.reports.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewPagedReports(res, opts.Limit))
}

// Get handles GET /v1/reports/{id}.
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewReport(rep))
}

// View handles GET /v1/reports/{id}/view?year=. The view carries the
// timeline, the risk assessment and the matched site.
func (h *ReportHandler) View(w http.ResponseWriter, r *http.Request) {
	var opts report.ViewOptions
	if raw := r.URL.Query().Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year < firstImageryYear || year > time.Now().Year()+1 {
			response.BadRequest(w, r, "invalid query parameters", []models.FieldError{{Field: "year", Message: "out of range", Code: "OUT_OF_RANGE"}})
			return
		}
		opts.Year = year
	}

	view, err := h.reports.View(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewReportView(view))
}

// UpdateStatus handles PATCH /v1/reports/{id}/status.
func (h *ReportHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var input models.UpdateStatusRequest
	if err := decodeJSON(r, &input, false); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	rep, err := h.reports.UpdateStatus(r.Context(), chi.URLParam(r, "id"), compliance.Status(input.Status), input.Comments)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewReport(rep))
}
