// Package handler provides HTTP handlers for the sitewatch API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/api/middleware"
	"github.com/xcelerate/sitewatch/internal/api/response"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/imagery"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
	"github.com/xcelerate/sitewatch/internal/report"
	"github.com/xcelerate/sitewatch/internal/site"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON document into dst. An empty body is an error
// unless allowEmpty is set.
func decodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeError maps domain errors onto problem responses. Anything unexpected
// is logged and reported as a 500 with a generic detail.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var (
		geomErr  *geometry.InvalidGeometryError
		upstream *imagery.UnavailableError
	)

	switch {
	case errors.As(err, &geomErr):
		response.InvalidGeometry(w, r, geomErr.Reason)
	case errors.Is(err, geometry.ErrInvalidGeometry):
		response.InvalidGeometry(w, r, err.Error())
	case errors.Is(err, report.ErrReportNotFound):
		response.NotFound(w, r, "report not found")
	case errors.Is(err, site.ErrNotFound):
		response.NotFound(w, r, "site not found")
	case errors.Is(err, report.ErrMissingAnalysis),
		errors.Is(err, report.ErrInvalidReport),
		errors.Is(err, report.ErrInvalidStatus):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, resilience.ErrCircuitOpen):
		response.ServiceUnavailable(w, r, "upstream provider is temporarily unavailable")
	case errors.Is(err, imagery.ErrCredentialRefresh):
		log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("imagery credential refresh failed")
		response.BadGateway(w, r, "imagery provider rejected our credentials")
	case errors.As(err, &upstream):
		log.Warn().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("imagery provider error")
		response.BadGateway(w, r, fmt.Sprintf("imagery provider returned status %d", upstream.StatusCode))
	default:
		log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
