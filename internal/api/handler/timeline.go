package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/api/models"
	"github.com/xcelerate/sitewatch/internal/api/response"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/timeline"
)

// firstImageryYear is the first full year of Sentinel-2 L2A coverage.
const firstImageryYear = 2017

// TimelineGenerator is satisfied by *timeline.Generator.
type TimelineGenerator interface {
	Generate(ctx context.Context, polygon *geometry.Polygon, year int, fallbackURL string) []timeline.Entry
}

// TimelineHandler builds monthly construction timelines.
type TimelineHandler struct {
	generator TimelineGenerator
	now       func() time.Time
	logger    zerolog.Logger
}

// NewTimelineHandler creates a new TimelineHandler.
func NewTimelineHandler(generator TimelineGenerator, logger zerolog.Logger) *TimelineHandler {
	return &TimelineHandler{generator: generator, now: time.Now, logger: logger}
}

// Build handles POST /v1/timeline. The response always holds twelve entries;
// months without imagery carry the fallback URL.
func (h *TimelineHandler) Build(w http.ResponseWriter, r *http.Request) {
	var input models.TimelineRequest
	if err := decodeJSON(r, &input, false); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	year := input.Year
	if year == 0 {
		year = h.now().Year()
	}
	if maxYear := h.now().Year() + 1; year < firstImageryYear || year > maxYear {
		response.BadRequest(w, r, "invalid timeline request", []models.FieldError{{
			Field:   "year",
			Message: fmt.Sprintf("must be between %d and %d", firstImageryYear, maxYear),
			Code:    "OUT_OF_RANGE",
		}})
		return
	}

	var polygon *geometry.Polygon
	if input.Polygon != nil && !input.Polygon.IsEmpty() {
		poly, err := input.Polygon.Polygon()
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		polygon = &poly
	}

	entries := h.generator.Generate(r.Context(), polygon, year, input.FallbackURL)
	response.JSON(w, r, http.StatusOK, models.NewTimelineResponse(year, entries))
}
