package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xcelerate/sitewatch/internal/api/models"
	"github.com/xcelerate/sitewatch/internal/api/response"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
)

// readinessTimeout bounds every readiness check.
const readinessTimeout = 2 * time.Second

// DependencyCheck probes one backing dependency, such as the database or the tile cache.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    []DependencyCheck
	registry  *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler. registry may be nil.
func NewOpsHandler(version, buildTime string, registry *resilience.Registry, checks ...DependencyCheck) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
		registry:  registry,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Any failing check makes the
// instance unready (503).
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems, ok := h.runChecks(r.Context())

	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	status := http.StatusOK
	if !ok {
		health.Status = models.HealthStatusFail
		status = http.StatusServiceUnavailable
	}
	if len(subsystems) > 0 {
		details := make(map[string]interface{}, len(subsystems))
		for _, s := range subsystems {
			details[s.Name] = s.Status
		}
		health.Details = details
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status - subsystem checks plus upstream
// provider circuit state. Open circuits degrade the status without failing it.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	subsystems, ok := h.runChecks(r.Context())

	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: subsystems,
		Providers:  []models.ProviderStatus{},
	}

	if h.registry != nil {
		for _, p := range h.registry.GetAllHealth() {
			ps := models.ProviderStatus{
				Provider:            p.Name,
				Status:              providerHealthStatus(p.Status()),
				CircuitState:        p.CircuitState.String(),
				ConsecutiveFailures: p.Counts.ConsecutiveFailures,
				LastSuccessAt:       models.TimestampPtr(p.LastSuccessAt),
				LastFailureAt:       models.TimestampPtr(p.LastFailureAt),
			}
			if p.LastError != "" {
				msg := p.LastError
				ps.Message = &msg
			}
			if ps.Status != models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	if !ok {
		status.Status = models.HealthStatusFail
	}
	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) runChecks(ctx context.Context) ([]models.SubsystemStatus, bool) {
	subsystems := make([]models.SubsystemStatus, 0, len(h.checks))
	ok := true
	for _, c := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		err := c.Check(checkCtx)
		cancel()

		s := models.SubsystemStatus{Name: c.Name, Status: models.HealthStatusOK}
		if err != nil {
			ok = false
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		subsystems = append(subsystems, s)
	}
	return subsystems, ok
}

func providerHealthStatus(s string) models.HealthStatus {
	switch s {
	case resilience.StatusUnhealthy:
		return models.HealthStatusFail
	case resilience.StatusDegraded:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}
