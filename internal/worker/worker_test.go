package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// writeExtracts writes a small dataset in which only CL2 (risk 95)
// reaches the alert threshold.
func writeExtracts(t *testing.T) domain.InputPaths {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"customers.csv": "customer_id\nC1\nC2\n",
		"policies.csv": "policy_id,customer_id,policy_type,coverage_amount,start_date,status,annual_premium\n" +
			"P1,C1,AUTO,2000,2024-01-01,ACTIVE,1000\n" +
			"P2,C2,HOME,10000,2020-01-01,ACTIVE,500\n",
		"claims.csv": "claim_id,policy_id,customer_id,claim_amount,claim_date\n" +
			"CL1,P1,C1,1000,2024-01-11\n" +
			"CL2,P1,C1,1800,2024-01-05\n" +
			"CL3,P2,C2,500,2024-06-01\n",
		"fraud.csv": "claim_id,is_fraudulent\nCL2,True\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return domain.InputPaths{
		Customers: filepath.Join(dir, "customers.csv"),
		Policies:  filepath.Join(dir, "policies.csv"),
		Claims:    filepath.Join(dir, "claims.csv"),
		Fraud:     filepath.Join(dir, "fraud.csv"),
	}
}

type fixture struct {
	bus    *bus.ChannelBus
	repo   domain.Repository
	cache  *cache.LRUCache
	runner *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := rules.NewDefaultEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	eventBus := bus.NewChannelBus(100)
	runCache := cache.NewLRUCache(10)
	t.Cleanup(func() {
		eventBus.Close()
		repo.Close()
	})

	processor, err := pipeline.NewProcessor(engine, domain.ScoringConfig{
		TopClaims:           5,
		TopCustomers:        3,
		ClaimAlertThreshold: 75,
	})
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}
	return &fixture{
		bus:    eventBus,
		repo:   repo,
		cache:  runCache,
		runner: NewRunner(processor, repo, runCache, eventBus, time.Minute),
	}
}

// listen subscribes to topic and returns a channel of received messages.
func (f *fixture) listen(t *testing.T, tenantID, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 10)
	_, err := f.bus.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func receive(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestRunnerExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	completed := f.listen(t, "tenant-001", domain.TopicRunCompleted)
	flagged := f.listen(t, "tenant-001", domain.TopicClaimFlagged)

	run, err := f.runner.Execute(ctx, &domain.RunRequest{
		TenantID: "tenant-001",
		TraceID:  "trace-001",
		Input:    writeExtracts(t),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	t.Run("Scores", func(t *testing.T) {
		if len(run.Claims) != 3 {
			t.Fatalf("expected 3 claims, got %d", len(run.Claims))
		}
		if run.Claims[0].ClaimID != "CL2" || run.Claims[0].RiskScore != 95 {
			t.Errorf("expected CL2 with 95 first, got %s with %v", run.Claims[0].ClaimID, run.Claims[0].RiskScore)
		}
		if run.Metadata.TraceID != "trace-001" {
			t.Errorf("expected trace 'trace-001', got '%s'", run.Metadata.TraceID)
		}
	})

	t.Run("Saved", func(t *testing.T) {
		stored, err := f.repo.GetRun(ctx, "tenant-001", run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if stored.Status != domain.RunStatusCompleted || len(stored.Claims) != 3 {
			t.Errorf("unexpected stored run: status %s, %d claims", stored.Status, len(stored.Claims))
		}
	})

	t.Run("Cached", func(t *testing.T) {
		cached, err := f.cache.GetRun(ctx, "tenant-001", run.ID)
		if err != nil || cached == nil {
			t.Fatalf("expected cached run, got %v, %v", cached, err)
		}
	})

	t.Run("CompletedEvent", func(t *testing.T) {
		var event RunCompletedEvent
		if err := bus.Decode(receive(t, completed), &event); err != nil {
			t.Fatal(err)
		}
		if event.RunID != run.ID {
			t.Errorf("expected run id %s, got %s", run.ID, event.RunID)
		}
		if event.Summary.ClaimsAlerted != 1 {
			t.Errorf("expected 1 alerted claim, got %d", event.Summary.ClaimsAlerted)
		}
	})

	t.Run("FlaggedEvent", func(t *testing.T) {
		var event ClaimFlaggedEvent
		if err := bus.Decode(receive(t, flagged), &event); err != nil {
			t.Fatal(err)
		}
		if event.Claim.ClaimID != "CL2" {
			t.Errorf("expected flagged claim CL2, got %s", event.Claim.ClaimID)
		}
		select {
		case extra := <-flagged:
			t.Errorf("expected a single flagged claim, got another: %s", extra.Payload)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestRunnerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	failed := f.listen(t, "tenant-001", domain.TopicRunFailed)

	input := writeExtracts(t)
	input.Claims = filepath.Join(t.TempDir(), "absent.csv")

	_, err := f.runner.Execute(ctx, &domain.RunRequest{TenantID: "tenant-001", Input: input})
	if !errors.Is(err, domain.ErrDataLoad) {
		t.Fatalf("expected DataLoadError, got %v", err)
	}

	var event RunFailedEvent
	if err := bus.Decode(receive(t, failed), &event); err != nil {
		t.Fatal(err)
	}
	if !event.InputError {
		t.Error("expected failure to be marked as an input error")
	}
	const reason = "data load error: claims table could not be read"
	if event.Error != reason {
		t.Errorf("expected event error %q, got %q", reason, event.Error)
	}

	runs, err := f.repo.ListRuns(ctx, "tenant-001", 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != domain.RunStatusFailed {
		t.Fatalf("expected one FAILED run, got %+v", runs)
	}
	if runs[0].Error != reason {
		t.Errorf("expected run error %q, got %q", reason, runs[0].Error)
	}
}

func TestRunnerInputDir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	extracts := writeExtracts(t)
	dir := filepath.Dir(extracts.Customers)
	runner := f.runner.WithInputDir(dir)

	relative := domain.InputPaths{
		Customers: "customers.csv",
		Policies:  "policies.csv",
		Claims:    "claims.csv",
		Fraud:     "fraud.csv",
	}

	t.Run("RelativePaths", func(t *testing.T) {
		run, err := runner.Execute(ctx, &domain.RunRequest{TenantID: "tenant-001", Input: relative})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if len(run.Claims) != 3 {
			t.Errorf("expected 3 claims, got %d", len(run.Claims))
		}
	})

	t.Run("EscapingPath", func(t *testing.T) {
		input := relative
		input.Claims = "../claims.csv"
		_, err := runner.Execute(ctx, &domain.RunRequest{TenantID: "tenant-001", Input: input})
		if !errors.Is(err, domain.ErrDataLoad) {
			t.Errorf("expected DataLoadError, got %v", err)
		}
	})

	t.Run("AbsolutePath", func(t *testing.T) {
		_, err := runner.Execute(ctx, &domain.RunRequest{TenantID: "tenant-001", Input: extracts})
		if !errors.Is(err, domain.ErrDataLoad) {
			t.Errorf("expected DataLoadError, got %v", err)
		}
	})

	t.Run("RequestDirIgnored", func(t *testing.T) {
		input := relative
		input.Dir = t.TempDir()
		if _, err := runner.Execute(ctx, &domain.RunRequest{TenantID: "tenant-001", Input: input}); err != nil {
			t.Errorf("expected the runner's input dir to win, got %v", err)
		}
	})
}

func TestRunnerRequiresTenant(t *testing.T) {
	f := newFixture(t)
	if _, err := f.runner.Execute(context.Background(), &domain.RunRequest{}); err == nil {
		t.Error("expected error for missing tenant")
	}
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		f := newFixture(t)
		w := NewWorker(f.bus, f.runner)

		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}, WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicRunRequested {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
		if err := w.Start(Config{}); err == nil {
			t.Error("expected error when starting a stopped worker")
		}
	})

	t.Run("DefaultTenant", func(t *testing.T) {
		f := newFixture(t)
		w := NewWorker(f.bus, f.runner)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if stats := w.GetStats(); stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		f := newFixture(t)
		w := NewWorker(f.bus, f.runner)
		if err := w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if stats := w.GetStats(); stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRunRequest", func(t *testing.T) {
		f := newFixture(t)
		w := NewWorker(f.bus, f.runner)
		if err := w.Start(Config{TenantIDs: []string{"tenant-test"}, WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()
		completed := f.listen(t, "tenant-test", domain.TopicRunCompleted)

		payload, err := bus.Encode(domain.RunRequest{
			// A different tenant in the body is ignored.
			TenantID: "someone-else",
			TraceID:  "trace-async",
			Input:    writeExtracts(t),
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := f.bus.Publish(context.Background(), "tenant-test", domain.TopicRunRequested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		var event RunCompletedEvent
		if err := bus.Decode(receive(t, completed), &event); err != nil {
			t.Fatal(err)
		}
		if event.TraceID != "trace-async" {
			t.Errorf("expected trace 'trace-async', got '%s'", event.TraceID)
		}

		stored, err := f.repo.GetRun(context.Background(), "tenant-test", event.RunID)
		if err != nil {
			t.Fatalf("expected run stored under the subscription tenant: %v", err)
		}
		if stored.TenantID != "tenant-test" {
			t.Errorf("expected tenant 'tenant-test', got '%s'", stored.TenantID)
		}
	})

	t.Run("MalformedRequest", func(t *testing.T) {
		f := newFixture(t)
		w := NewWorker(f.bus, f.runner)
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		err := w.handleMessage(context.Background(), &domain.Message{
			TenantID: "tenant-001",
			Topic:    domain.TopicRunRequested,
			Payload:  []byte("not json"),
		})
		if err == nil {
			t.Error("expected error for malformed request")
		}
	})
}
