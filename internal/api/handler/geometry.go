package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/api/models"
	"github.com/xcelerate/sitewatch/internal/api/response"
	"github.com/xcelerate/sitewatch/internal/geometry"
)

// GeometryHandler exposes bounding box computation.
type GeometryHandler struct {
	logger zerolog.Logger
}

// NewGeometryHandler creates a new GeometryHandler.
func NewGeometryHandler(logger zerolog.Logger) *GeometryHandler {
	return &GeometryHandler{logger: logger}
}

// BoundingBox handles POST /v1/geometry/bbox.
func (h *GeometryHandler) BoundingBox(w http.ResponseWriter, r *http.Request) {
	var input models.PolygonInput
	if err := decodeJSON(r, &input, false); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	poly, err := input.Polygon()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	box, err := geometry.BoundingBoxOf(poly)
	if err != nil {
		h.logger.Error().Err(err).Int("vertices", len(poly)).Msg("bounding box rejected polygon")
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewBoundingBoxResponse(poly, box))
}
