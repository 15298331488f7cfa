// Package pipeline runs the claim and customer scoring pipelines over a
// loaded dataset and assembles the result into a Run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/claimscore"
	"github.com/opensource-finance/kestrel/internal/customerscore"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/join"
	"github.com/opensource-finance/kestrel/internal/outlier"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/segment"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EngineVersion is recorded in every run's metadata.
const EngineVersion = "kestrel-1.0"

var tracer = otel.Tracer("kestrel-pipeline")

// Processor turns a dataset into a scored Run.
type Processor struct {
	engine     *rules.Engine
	detector   *outlier.Detector
	claims     *claimscore.Scorer
	aggregator *aggregate.Aggregator
	customers  *customerscore.Scorer

	// TopClaims and TopCustomers size the run summary previews.
	TopClaims    int
	TopCustomers int

	// AlertThreshold is the claim risk score counted as alerted.
	AlertThreshold float64
}

// NewProcessor creates a processor that tags claims with engine's rules.
// It fails when cfg.CustomerWeights is not a valid weighting.
func NewProcessor(engine *rules.Engine, cfg domain.ScoringConfig) (*Processor, error) {
	customers, err := customerscore.NewScorerWithWeights(cfg.CustomerWeights)
	if err != nil {
		return nil, fmt.Errorf("invalid scoring.customerWeights: %w", err)
	}
	return &Processor{
		engine:         engine,
		detector:       outlier.NewDetector(),
		claims:         claimscore.NewScorer(engine),
		aggregator:     aggregate.NewAggregator(),
		customers:      customers,
		TopClaims:      cfg.TopClaims,
		TopCustomers:   cfg.TopCustomers,
		AlertThreshold: cfg.ClaimAlertThreshold,
	}, nil
}

// WithClock fixes the reference date used for customer tenure.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.aggregator.Now = now
	return p
}

// RunInput contains all data needed for a run.
type RunInput struct {
	TenantID string
	TraceID  string
	Dataset  *domain.Dataset
}

// Process runs both pipelines. Any stage error aborts the run; no
// partial result is returned.
func (p *Processor) Process(ctx context.Context, input *RunInput) (*domain.Run, error) {
	if input == nil || input.Dataset == nil {
		return nil, fmt.Errorf("dataset is required")
	}

	ctx, span := tracer.Start(ctx, "pipeline.Process",
		trace.WithAttributes(
			attribute.String("tenant.id", input.TenantID),
			attribute.Int("dataset.claims", len(input.Dataset.Claims)),
			attribute.Int("dataset.customers", len(input.Dataset.Customers)),
		),
	)
	defer span.End()

	start := time.Now()
	run := &domain.Run{
		ID:        uuid.New().String(),
		TenantID:  input.TenantID,
		StartedAt: start.UTC(),
	}

	claimStart := time.Now()
	claimRows, err := p.claimPipeline(ctx, input.Dataset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	claimsMs := time.Since(claimStart).Milliseconds()

	customerStart := time.Now()
	customerRows, err := p.customerPipeline(ctx, input.Dataset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	customersMs := time.Since(customerStart).Milliseconds()

	run.Claims = claimRows
	run.Customers = customerRows
	run.Summary = report.Summarize(claimRows, customerRows, p.TopClaims, p.TopCustomers, p.AlertThreshold)
	run.Status = domain.RunStatusCompleted
	run.FinishedAt = time.Now().UTC()
	run.Metadata = domain.RunMetadata{
		TraceID:        input.TraceID,
		ClaimsMs:       claimsMs,
		CustomersMs:    customersMs,
		TotalMs:        time.Since(start).Milliseconds(),
		RulesEvaluated: p.engine.RulesCount(),
		EngineVersion:  EngineVersion,
	}

	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.claims_alerted", run.Summary.ClaimsAlerted),
	)
	return run, nil
}

// claimPipeline: join, outlier flags, scoring, ordering.
func (p *Processor) claimPipeline(ctx context.Context, ds *domain.Dataset) ([]domain.ClaimReportRow, error) {
	_, span := tracer.Start(ctx, "pipeline.claims")
	defer span.End()

	records := join.Claims(ds)
	flagged := p.detector.Detect(records)

	scores, err := p.claims.Score(flagged)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report.SortClaims(scores)

	slog.Debug("claim pipeline finished", "claims", len(scores))
	return report.ClaimRows(scores), nil
}

// customerPipeline: master join, aggregation, scoring, segmentation.
func (p *Processor) customerPipeline(ctx context.Context, ds *domain.Dataset) ([]domain.CustomerReportRow, error) {
	_, span := tracer.Start(ctx, "pipeline.customers")
	defer span.End()

	master := join.CustomerMaster(ds)
	aggs := p.aggregator.Aggregate(master, ds.Policies)

	scores, err := p.customers.Score(aggs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	segment.Assign(scores)

	slog.Debug("customer pipeline finished", "customers", len(scores))
	return report.CustomerRows(scores), nil
}

// FlaggedClaims returns the claim rows at or above the alert threshold.
func (p *Processor) FlaggedClaims(run *domain.Run) []domain.ClaimReportRow {
	var flagged []domain.ClaimReportRow
	for _, c := range run.Claims {
		if c.RiskScore >= p.AlertThreshold {
			flagged = append(flagged, c)
		}
	}
	return flagged
}
