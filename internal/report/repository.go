package report

import (
	"context"
	"time"

	"github.com/xcelerate/sitewatch/internal/compliance"
)

// Repository defines the interface for report persistence.
type Repository interface {
	// Get retrieves a report by ID.
	Get(ctx context.Context, id string) (*Report, error)

	// List retrieves reports, newest first.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Create stores a new report.
	Create(ctx context.Context, r *Report) error

	// UpdateStatus changes the status and comments of a report.
	// Returns ErrReportNotFound if the report doesn't exist.
	UpdateStatus(ctx context.Context, id string, status compliance.Status, comments string, updatedAt time.Time) (*Report, error)
}
