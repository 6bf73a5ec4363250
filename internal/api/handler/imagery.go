package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/api/models"
	"github.com/xcelerate/sitewatch/internal/api/response"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/imagery"
)

// TileGetter is satisfied by *imagery.Service.
type TileGetter interface {
	GetTile(ctx context.Context, req imagery.TileRequest) (*imagery.Tile, error)
}

// ImageryHandler proxies satellite tiles so credentials never reach the browser.
type ImageryHandler struct {
	tiles  TileGetter
	logger zerolog.Logger
}

// NewImageryHandler creates a new ImageryHandler.
func NewImageryHandler(tiles TileGetter, logger zerolog.Logger) *ImageryHandler {
	return &ImageryHandler{tiles: tiles, logger: logger}
}

// Tile handles GET /v1/imagery/tile?bbox=minLng,minLat,maxLng,maxLat&time=from/to.
// Optional maxcc overrides the cloud cover limit.
func (h *ImageryHandler) Tile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var fieldErrors []models.FieldError
	box, err := geometry.ParseProviderBBox(q.Get("bbox"))
	if err != nil {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "bbox", Message: err.Error(), Code: "INVALID"})
	}
	window, err := imagery.ParseTimeRange(q.Get("time"))
	if err != nil {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "time", Message: err.Error(), Code: "INVALID"})
	}

	var opts imagery.Options
	if raw := q.Get("maxcc"); raw != "" {
		maxcc, err := strconv.Atoi(raw)
		if err != nil || maxcc < 0 || maxcc > 100 {
			fieldErrors = append(fieldErrors, models.FieldError{Field: "maxcc", Message: "must be an integer between 0 and 100", Code: "OUT_OF_RANGE"})
		}
		opts.MaxCloudCover = imagery.CloudCover(maxcc)
	}

	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid tile request", fieldErrors)
		return
	}

	tile, err := h.tiles.GetTile(r.Context(), imagery.TileRequest{BBox: box, TimeRange: window, Options: opts})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	maxAge := tile.CacheMaxAge
	if maxAge < imagery.DefaultCacheMaxAge {
		maxAge = imagery.DefaultCacheMaxAge
	}
	response.Image(w, r, tile.ContentType, tile.Data, maxAge)
}
