package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/compliance"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/risk"
	"github.com/xcelerate/sitewatch/internal/site"
	"github.com/xcelerate/sitewatch/internal/timeline"
)

// TimelineBuilder is satisfied by *timeline.Generator.
type TimelineBuilder interface {
	Generate(ctx context.Context, polygon *geometry.Polygon, year int, fallbackURL string) []timeline.Entry
}

// RiskAssessor is satisfied by *risk.Scanner.
type RiskAssessor interface {
	Assess(ctx context.Context, polygon geometry.Polygon, opts risk.ScanOptions) risk.Assessment
}

// SiteMatcher is satisfied by *site.Catalog.
type SiteMatcher interface {
	Match(name string, bounds geometry.Polygon) (site.Site, bool)
}

// ServiceConfig holds configuration for the report service.
type ServiceConfig struct {
	Repository Repository

	// Optional collaborators for View. A nil collaborator leaves its
	// section of the view empty.
	Timeline TimelineBuilder
	Risk     RiskAssessor
	Sites    SiteMatcher

	Logger zerolog.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Service creates, updates and renders reports.
type Service struct {
	repo     Repository
	timeline TimelineBuilder
	risk     RiskAssessor
	sites    SiteMatcher
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates a new report service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}

	return &Service{
		repo:     cfg.Repository,
		timeline: cfg.Timeline,
		risk:     cfg.Risk,
		sites:    cfg.Sites,
		logger:   cfg.Logger,
		now:      now,
		newID:    newID,
	}
}

// CreateInput is the payload for a new report.
type CreateInput struct {
	PlotID            string
	IndustryName      string
	GeneratedBy       string
	SurveyDate        time.Time
	SatelliteImageURL string
	Bounds            [][2]float64
	Comments          string
	Analysis          *compliance.AnalysisResult
}

// Create derives the compliance status from the analysis result and stores
// the report.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Report, error) {
	if in.Analysis == nil {
		return nil, ErrMissingAnalysis
	}
	if in.PlotID == "" {
		return nil, fmt.Errorf("%w: plot_id is required", ErrInvalidReport)
	}
	if err := in.Analysis.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	if len(in.Bounds) > 0 {
		if _, err := geometry.BoundingBoxOf(geometry.PolygonFromPairs(in.Bounds)); err != nil {
			return nil, err
		}
	}

	derived := compliance.Derive(*in.Analysis)

	now := s.now().UTC()
	surveyDate := in.SurveyDate
	if surveyDate.IsZero() {
		surveyDate = now
	}
	satellite := in.SatelliteImageURL
	if satellite == "" {
		satellite = in.Analysis.ResultImageURL
	}

	rep := &Report{
		ID:                s.newID(),
		PlotID:            in.PlotID,
		IndustryName:      in.IndustryName,
		GeneratedBy:       in.GeneratedBy,
		SurveyDate:        surveyDate,
		SatelliteImageURL: satellite,
		Bounds:            in.Bounds,
		Analysis: Analysis{
			SimilarityScore:     derived.SimilarityScore,
			ChangesCount:        derived.ChangesCount,
			DeviationPercentage: derived.DeviationPercentage,
			HeatmapURL:          in.Analysis.ResultImageURL,
			Categories:          derived.Categories,
		},
		Status:    derived.Status,
		Comments:  in.Comments,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, rep); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	s.logger.Info().
		Str("report_id", rep.ID).
		Str("plot_id", rep.PlotID).
		Str("status", string(rep.Status)).
		Float64("deviation", rep.Analysis.DeviationPercentage).
		Msg("report created")

	return rep, nil
}

// Get retrieves a report by ID.
func (s *Service) Get(ctx context.Context, id string) (*Report, error) {
	return s.repo.Get(ctx, id)
}

// List retrieves reports.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return s.repo.List(ctx, opts)
}

// UpdateStatus applies a manual status transition, such as recording that a
// notice was sent.
func (s *Service) UpdateStatus(ctx context.Context, id string, status compliance.Status, comments string) (*Report, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	rep, err := s.repo.UpdateStatus(ctx, id, status, comments, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("report_id", id).
		Str("status", string(status)).
		Msg("report status updated")

	return rep, nil
}

// View is a report with everything the report page renders around it.
type View struct {
	Report         *Report
	Timeline       []timeline.Entry
	TimelineYear   int
	Risk           *risk.Assessment
	Site           *site.Site
	ProgressPhotos []string
}

// ViewOptions controls View. Year defaults to the survey year.
type ViewOptions struct {
	Year int
	Risk risk.ScanOptions
}

// View assembles the report page. Timeline and risk failures never fail the
// view: the timeline falls back per month and risk reports unavailability.
func (s *Service) View(ctx context.Context, id string, opts ViewOptions) (*View, error) {
	rep, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &View{Report: rep}
	polygon := rep.Polygon()

	if s.timeline != nil {
		year := opts.Year
		if year == 0 {
			year = rep.SurveyDate.Year()
		}
		fallback := rep.SatelliteImageURL
		if fallback == "" {
			fallback = rep.Analysis.HeatmapURL
		}

		var p *geometry.Polygon
		if len(polygon) > 0 {
			p = &polygon
		}
		view.TimelineYear = year
		view.Timeline = s.timeline.Generate(ctx, p, year, fallback)
	}

	if s.risk != nil {
		assessment := s.risk.Assess(ctx, polygon, opts.Risk)
		view.Risk = &assessment
	}

	if s.sites != nil {
		if matched, ok := s.sites.Match(rep.IndustryName, polygon); ok {
			view.Site = &matched
			view.ProgressPhotos = matched.ProgressPhotos
		}
	}

	return view, nil
}
