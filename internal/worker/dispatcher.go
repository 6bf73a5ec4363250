package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xcelerate/sitewatch/internal/api/middleware"
	"github.com/xcelerate/sitewatch/internal/compliance"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/report"
	"github.com/xcelerate/sitewatch/internal/site"
)

var (
	// ErrMalformedJob is returned for messages that cannot be decoded.
	ErrMalformedJob = errors.New("malformed job message")

	// ErrUnknownJob is returned for job types the dispatcher does not handle.
	ErrUnknownJob = errors.New("unknown job type")

	// ErrNotConfigured is returned when a job's collaborator is missing.
	ErrNotConfigured = errors.New("job handler not configured")
)

// ReportCreator is satisfied by *report.Service.
type ReportCreator interface {
	Create(ctx context.Context, in report.CreateInput) (*report.Report, error)
}

// SiteLister is satisfied by *site.Catalog.
type SiteLister interface {
	All() []site.Site
	Get(name string) (site.Site, error)
}

// JobMessage is the envelope of every Pub/Sub message.
type JobMessage struct {
	JobType   string          `json:"job_type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AnalysisCompleted is published once the analysis service has scored a plot.
type AnalysisCompleted struct {
	PlotID            string                     `json:"plot_id"`
	IndustryName      string                     `json:"industry_name,omitempty"`
	GeneratedBy       string                     `json:"generated_by,omitempty"`
	SurveyDate        time.Time                  `json:"survey_date,omitempty"`
	SatelliteImageURL string                     `json:"satellite_image_url,omitempty"`
	Bounds            [][2]float64               `json:"bounds,omitempty"`
	Comments          string                     `json:"comments,omitempty"`
	Analysis          *compliance.AnalysisResult `json:"analysis"`
}

// TimelinePrefetch asks for one site's timeline, or every site's when Site
// is empty. Year defaults to the current year.
type TimelinePrefetch struct {
	Site string `json:"site,omitempty"`
	Year int    `json:"year,omitempty"`
}

// DispatcherConfig holds the dispatcher's collaborators. A nil collaborator
// makes its job type fail permanently.
type DispatcherConfig struct {
	Reports  ReportCreator
	Prefetch *PrefetchJob
	Sites    SiteLister
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Dispatcher routes decoded jobs to their handlers.
type Dispatcher struct {
	reports  ReportCreator
	prefetch *PrefetchJob
	sites    SiteLister
	logger   zerolog.Logger
	now      func() time.Time
	tracer   trace.Tracer
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		reports:  cfg.Reports,
		prefetch: cfg.Prefetch,
		sites:    cfg.Sites,
		logger:   cfg.Logger,
		now:      now,
		tracer:   otel.Tracer("github.com/xcelerate/sitewatch/internal/worker"),
	}
}

// Dispatch decodes data and runs the matching job. The returned error says
// nothing about redelivery; use Retryable for that.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = middleware.NewRequestID()
	}
	ctx = middleware.WithRequestID(ctx, requestID)

	ctx, span := d.tracer.Start(ctx, "job "+msg.JobType,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.type", msg.JobType),
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()

	var err error
	switch msg.JobType {
	case JobAnalysisCompleted:
		err = d.analysisCompleted(ctx, msg.Payload)
	case JobTimelinePrefetch:
		err = d.timelinePrefetch(ctx, msg.Payload)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Retryable reports whether a failed job may succeed on redelivery.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrMalformedJob),
		errors.Is(err, ErrUnknownJob),
		errors.Is(err, ErrNotConfigured),
		errors.Is(err, report.ErrMissingAnalysis),
		errors.Is(err, report.ErrInvalidReport),
		errors.Is(err, geometry.ErrInvalidGeometry),
		errors.Is(err, site.ErrNotFound):
		return false
	default:
		return true
	}
}

func (d *Dispatcher) analysisCompleted(ctx context.Context, payload json.RawMessage) error {
	if d.reports == nil {
		return fmt.Errorf("%w: report store", ErrNotConfigured)
	}

	var p AnalysisCompleted
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	rep, err := d.reports.Create(ctx, report.CreateInput{
		PlotID:            p.PlotID,
		IndustryName:      p.IndustryName,
		GeneratedBy:       p.GeneratedBy,
		SurveyDate:        p.SurveyDate,
		SatelliteImageURL: p.SatelliteImageURL,
		Bounds:            p.Bounds,
		Comments:          p.Comments,
		Analysis:          p.Analysis,
	})
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	d.logger.Info().
		Str("request_id", middleware.GetRequestID(ctx)).
		Str("report_id", rep.ID).
		Str("plot_id", rep.PlotID).
		Str("status", string(rep.Status)).
		Msg("report created from analysis")
	return nil
}

func (d *Dispatcher) timelinePrefetch(ctx context.Context, payload json.RawMessage) error {
	if d.prefetch == nil || d.sites == nil {
		return fmt.Errorf("%w: timeline prefetch", ErrNotConfigured)
	}

	var p TimelinePrefetch
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedJob, err)
		}
	}
	if p.Year == 0 {
		p.Year = d.now().Year()
	}

	sites := d.sites.All()
	if p.Site != "" {
		s, err := d.sites.Get(p.Site)
		if err != nil {
			return err
		}
		sites = []site.Site{s}
	}

	result := d.prefetch.Run(ctx, TargetsFor(sites, p.Year))
	if result.Sites > 0 && result.Live == 0 {
		return fmt.Errorf("no tiles fetched for %d sites", result.Sites)
	}
	return nil
}
