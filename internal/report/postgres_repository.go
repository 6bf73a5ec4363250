package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xcelerate/sitewatch/internal/compliance"
)

// Schema creates the reports table.
const Schema = `
CREATE TABLE IF NOT EXISTS reports (
	id                   TEXT PRIMARY KEY,
	plot_id              TEXT NOT NULL,
	industry_name        TEXT NOT NULL DEFAULT '',
	generated_by         TEXT NOT NULL DEFAULT '',
	survey_date          TIMESTAMPTZ NOT NULL,
	satellite_image_url  TEXT NOT NULL DEFAULT '',
	bounds               JSONB NOT NULL,
	similarity_score     DOUBLE PRECISION NOT NULL,
	changes_count        INTEGER NOT NULL,
	deviation_percentage DOUBLE PRECISION NOT NULL,
	heatmap_url          TEXT NOT NULL DEFAULT '',
	categories           JSONB NOT NULL,
	status               TEXT NOT NULL,
	comments             TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_plot_id_idx ON reports (plot_id);
CREATE INDEX IF NOT EXISTS reports_created_at_idx ON reports (created_at DESC, id DESC);
`

const selectColumns = `
	id, plot_id, industry_name, generated_by, survey_date,
	satellite_image_url, bounds,
	similarity_score, changes_count, deviation_percentage, heatmap_url, categories,
	status, comments, created_at, updated_at
`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL report repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the reports table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure reports schema: %w", err)
	}
	return nil
}

// Get retrieves a report by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Report, error) {
	query := `SELECT ` + selectColumns + ` FROM reports WHERE id = $1`

	rep, err := scanReport(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return rep, nil
}

// List retrieves reports newest first.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	// Fetch one extra to determine if there are more results
	fetchLimit := limit + 1

	query := `SELECT ` + selectColumns + ` FROM reports
		WHERE ($1 = '' OR plot_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR (created_at, id) < (SELECT created_at, id FROM reports WHERE id = $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, opts.PlotID, string(opts.Status), opts.Cursor, fetchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &ListResult{Items: reports}
	if len(reports) > limit {
		result.Items = reports[:limit]
		result.NextCursor = reports[limit-1].ID
	}
	return result, nil
}

// Create stores a new report.
func (r *PostgresRepository) Create(ctx context.Context, rep *Report) error {
	bounds, err := json.Marshal(rep.Bounds)
	if err != nil {
		return fmt.Errorf("marshal bounds: %w", err)
	}
	categories, err := json.Marshal(rep.Analysis.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	query := `
		INSERT INTO reports (
			id, plot_id, industry_name, generated_by, survey_date,
			satellite_image_url, bounds,
			similarity_score, changes_count, deviation_percentage, heatmap_url, categories,
			status, comments, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.pool.Exec(ctx, query,
		rep.ID,
		rep.PlotID,
		rep.IndustryName,
		rep.GeneratedBy,
		rep.SurveyDate,
		rep.SatelliteImageURL,
		bounds,
		rep.Analysis.SimilarityScore,
		rep.Analysis.ChangesCount,
		rep.Analysis.DeviationPercentage,
		rep.Analysis.HeatmapURL,
		categories,
		string(rep.Status),
		rep.Comments,
		rep.CreatedAt,
		rep.UpdatedAt,
	)
	return err
}

// UpdateStatus changes the status and comments of a report.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status compliance.Status, comments string, updatedAt time.Time) (*Report, error) {
	query := `
		UPDATE reports SET status = $2, comments = $3, updated_at = $4
		WHERE id = $1
		RETURNING ` + selectColumns

	rep, err := scanReport(r.pool.QueryRow(ctx, query, id, string(status), comments, updatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return rep, nil
}

func scanReport(row pgx.Row) (*Report, error) {
	var (
		rep        Report
		bounds     []byte
		categories []byte
		status     string
	)

	err := row.Scan(
		&rep.ID,
		&rep.PlotID,
		&rep.IndustryName,
		&rep.GeneratedBy,
		&rep.SurveyDate,
		&rep.SatelliteImageURL,
		&bounds,
		&rep.Analysis.SimilarityScore,
		&rep.Analysis.ChangesCount,
		&rep.Analysis.DeviationPercentage,
		&rep.Analysis.HeatmapURL,
		&categories,
		&status,
		&rep.Comments,
		&rep.CreatedAt,
		&rep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(bounds, &rep.Bounds); err != nil {
		return nil, fmt.Errorf("unmarshal bounds: %w", err)
	}
	if err := json.Unmarshal(categories, &rep.Analysis.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	rep.Status = compliance.Status(status)
	return &rep, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
