// Package worker executes scoring runs requested over the event bus.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultTenantID is served when no tenant list is configured.
const DefaultTenantID = "default"

// Worker consumes run requests from the EventBus.
type Worker struct {
	bus    domain.EventBus
	runner *Runner

	mu            sync.Mutex
	stopped       bool
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs lists the tenants whose run requests are consumed.
	// Empty means DefaultTenantID only.
	TenantIDs []string

	// WorkerCount bounds how many runs execute at once across tenants.
	WorkerCount int
}

// NewWorker creates a worker that executes requests with runner.
func NewWorker(eventBus domain.EventBus, runner *Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to run requests of every configured tenant.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{DefaultTenantID}
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return fmt.Errorf("worker is stopped")
	}
	w.sem = make(chan struct{}, workers)

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRunRequested, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)
	}
	if len(w.subscriptions) == 0 {
		return fmt.Errorf("no tenant subscription could be started")
	}

	slog.Info("workers started",
		"tenant_count", len(w.subscriptions),
		"worker_count", workers,
	)
	return nil
}

// handleMessage executes one run request.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.wg.Add(1)
	sem := w.sem
	w.mu.Unlock()
	defer w.wg.Done()

	var req domain.RunRequest
	if err := bus.Decode(msg, &req); err != nil {
		slog.Error("failed to parse run request", "message_id", msg.ID, "error", err)
		return err
	}
	// The subscription's tenant is authoritative.
	req.TenantID = msg.TenantID
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()

	slog.Debug("processing run request",
		"tenant_id", req.TenantID,
		"trace_id", req.TraceID,
	)
	_, err := w.runner.Execute(ctx, &req)
	return err
}

// Stop unsubscribes and waits for in-flight runs to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats reports the active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
