package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/loader"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// RunCompletedEvent is published on the run-completed topic.
type RunCompletedEvent struct {
	RunID   string            `json:"runId"`
	TraceID string            `json:"traceId,omitempty"`
	Summary domain.RunSummary `json:"summary"`
}

// RunFailedEvent is published on the run-failed topic. InputError marks
// failures caused by the extracts rather than by the service.
type RunFailedEvent struct {
	RunID      string            `json:"runId"`
	TraceID    string            `json:"traceId,omitempty"`
	Input      domain.InputPaths `json:"input"`
	Error      string            `json:"error"`
	InputError bool              `json:"inputError"`
}

// ClaimFlaggedEvent is published once per claim at or above the alert threshold.
type ClaimFlaggedEvent struct {
	RunID string                `json:"runId"`
	Claim domain.ClaimReportRow `json:"claim"`
}

// Runner executes one run request end to end: load, score, persist,
// cache and announce. Repository, cache and bus are optional.
type Runner struct {
	processor *pipeline.Processor
	inputDir  string
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	runTTL    time.Duration
}

// NewRunner creates a runner.
func NewRunner(processor *pipeline.Processor, repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, runTTL time.Duration) *Runner {
	return &Runner{
		processor: processor,
		repo:      repo,
		cache:     cache,
		bus:       eventBus,
		runTTL:    runTTL,
	}
}

// WithInputDir confines every request's extract paths to dir. Requests
// keep their own InputPaths.Dir when dir is empty.
func (r *Runner) WithInputDir(dir string) *Runner {
	r.inputDir = dir
	return r
}

// Execute runs a request. On failure a FAILED run is recorded, a failure
// event is published and the pipeline error is returned.
func (r *Runner) Execute(ctx context.Context, req *domain.RunRequest) (*domain.Run, error) {
	if req == nil || req.TenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if req.TraceID == "" {
		req.TraceID = uuid.New().String()
	}
	start := time.Now()

	run, err := r.score(ctx, req)
	if err != nil {
		r.fail(ctx, req, start, err)
		return nil, err
	}

	if r.repo != nil {
		if err := r.repo.SaveRun(ctx, req.TenantID, run); err != nil {
			slog.Error("failed to save run", "run_id", run.ID, "error", err)
		}
	}
	if r.cache != nil {
		if err := r.cache.SetRun(ctx, req.TenantID, run, r.runTTL); err != nil {
			slog.Warn("failed to cache run", "run_id", run.ID, "error", err)
		}
	}
	r.announce(ctx, req.TenantID, run)

	slog.Info("run completed",
		"run_id", run.ID,
		"tenant_id", req.TenantID,
		"trace_id", req.TraceID,
		"claims", len(run.Claims),
		"customers", len(run.Customers),
		"claims_alerted", run.Summary.ClaimsAlerted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return run, nil
}

func (r *Runner) score(ctx context.Context, req *domain.RunRequest) (*domain.Run, error) {
	paths := req.Input
	if r.inputDir != "" {
		paths.Dir = r.inputDir
	}
	ds, err := loader.Load(ctx, paths)
	if err != nil {
		return nil, err
	}
	return r.processor.Process(ctx, &pipeline.RunInput{
		TenantID: req.TenantID,
		TraceID:  req.TraceID,
		Dataset:  ds,
	})
}

func (r *Runner) fail(ctx context.Context, req *domain.RunRequest, start time.Time, cause error) {
	// The full cause is only logged.
	reason := domain.InputErrorSummary(cause)
	run := &domain.Run{
		ID:         uuid.New().String(),
		TenantID:   req.TenantID,
		Status:     domain.RunStatusFailed,
		Error:      reason,
		StartedAt:  start.UTC(),
		FinishedAt: time.Now().UTC(),
		Metadata: domain.RunMetadata{
			TraceID:       req.TraceID,
			TotalMs:       time.Since(start).Milliseconds(),
			EngineVersion: pipeline.EngineVersion,
		},
	}

	slog.Error("run failed",
		"run_id", run.ID,
		"tenant_id", req.TenantID,
		"trace_id", req.TraceID,
		"error", cause,
	)

	if r.repo != nil {
		if err := r.repo.SaveRun(ctx, req.TenantID, run); err != nil {
			slog.Error("failed to save failed run", "run_id", run.ID, "error", err)
		}
	}
	r.publish(ctx, req.TenantID, domain.TopicRunFailed, RunFailedEvent{
		RunID:      run.ID,
		TraceID:    req.TraceID,
		Input:      req.Input,
		Error:      reason,
		InputError: domain.IsInputError(cause),
	})
}

func (r *Runner) announce(ctx context.Context, tenantID string, run *domain.Run) {
	r.publish(ctx, tenantID, domain.TopicRunCompleted, RunCompletedEvent{
		RunID:   run.ID,
		TraceID: run.Metadata.TraceID,
		Summary: run.Summary,
	})
	for _, claim := range r.processor.FlaggedClaims(run) {
		r.publish(ctx, tenantID, domain.TopicClaimFlagged, ClaimFlaggedEvent{RunID: run.ID, Claim: claim})
	}
}

func (r *Runner) publish(ctx context.Context, tenantID, topic string, event any) {
	if r.bus == nil {
		return
	}
	payload, err := bus.Encode(event)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := r.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}
