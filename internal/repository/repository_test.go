package repository

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testRun(id string, started time.Time) *domain.Run {
	return &domain.Run{
		ID:         id,
		Status:     domain.RunStatusCompleted,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Claims: []domain.ClaimReportRow{
			{ClaimID: "CL2", RiskScore: 75, AnomalyReasons: []string{domain.ReasonMultipleClaims, domain.ReasonEarlyClaim}},
			{ClaimID: "CL1", RiskScore: 5.5, IsOutlier: true, AnomalyReasons: []string{domain.ReasonOutlier}},
		},
		Customers: []domain.CustomerReportRow{
			{CustomerID: "C1", LifetimeValue: -2000, LossRatio: 3, RiskScore: 100, Segment: domain.SegmentRiskManagement},
			{CustomerID: "C2", LifetimeValue: 4900, LossRatio: 0.02, RiskScore: 0, Segment: domain.SegmentPremiumPartner},
		},
		Summary: domain.RunSummary{
			ClaimsScored:    2,
			CustomersScored: 2,
			SegmentCounts:   map[domain.Segment]int{domain.SegmentRiskManagement: 1, domain.SegmentPremiumPartner: 1},
		},
		Metadata: domain.RunMetadata{TraceID: "trace-001", RulesEvaluated: 4, EngineVersion: "kestrel-1.0"},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRun", func(t *testing.T) {
		run := testRun("run-001", started)
		if err := repo.SaveRun(ctx, tenantID, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		retrieved, err := repo.GetRun(ctx, tenantID, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if retrieved.TenantID != tenantID || retrieved.Status != domain.RunStatusCompleted {
			t.Errorf("unexpected run header %+v", retrieved)
		}
		if !retrieved.StartedAt.Equal(started) {
			t.Errorf("expected started %v, got %v", started, retrieved.StartedAt)
		}
		if !reflect.DeepEqual(retrieved.Claims, run.Claims) {
			t.Errorf("expected claims %+v, got %+v", run.Claims, retrieved.Claims)
		}
		if !reflect.DeepEqual(retrieved.Customers, run.Customers) {
			t.Errorf("expected customers %+v, got %+v", run.Customers, retrieved.Customers)
		}
		if retrieved.Summary.SegmentCounts[domain.SegmentRiskManagement] != 1 {
			t.Errorf("summary not restored: %+v", retrieved.Summary)
		}
		if retrieved.Metadata.TraceID != "trace-001" {
			t.Errorf("metadata not restored: %+v", retrieved.Metadata)
		}
	})

	t.Run("DuplicateRunRollsBack", func(t *testing.T) {
		run := testRun("run-001", started)
		run.Claims = nil
		if err := repo.SaveRun(ctx, tenantID, run); err == nil {
			t.Fatal("expected error for duplicate run id")
		}
		claims, _ := repo.ListClaimScores(ctx, tenantID, "run-001")
		if len(claims) != 2 {
			t.Errorf("expected original 2 claim rows, got %d", len(claims))
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		if err := repo.SaveRun(ctx, tenantID, testRun("run-002", started.Add(time.Hour))); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		runs, err := repo.ListRuns(ctx, tenantID, 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(runs))
		}
		if runs[0].ID != "run-002" {
			t.Errorf("expected newest run first, got %s", runs[0].ID)
		}
		if runs[0].Claims != nil {
			t.Error("expected listed runs without rows")
		}

		limited, _ := repo.ListRuns(ctx, tenantID, 1)
		if len(limited) != 1 {
			t.Errorf("expected 1 run with limit, got %d", len(limited))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetRun(ctx, "tenant-002", "run-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
		claims, err := repo.ListClaimScores(ctx, "tenant-002", "run-001")
		if err != nil || len(claims) != 0 {
			t.Errorf("expected no claim rows for different tenant, got %d (%v)", len(claims), err)
		}
		runs, _ := repo.ListRuns(ctx, "tenant-002", 10)
		if len(runs) != 0 {
			t.Errorf("expected no runs for different tenant, got %d", len(runs))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveRun(ctx, "", testRun("run-x", started)); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetRun(ctx, "", "run-001"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListRuleConfigs(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetRun(ctx, tenantID, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	rules := []*domain.RuleConfig{
		{ID: "early-claim", Tag: domain.ReasonEarlyClaim, Version: "1.0.0", Expression: "score_timing > 0.0", Order: 30, Enabled: true},
		{ID: "multiple-claims", Tag: domain.ReasonMultipleClaims, Version: "1.0.0", Expression: "score_history > 0.0", Order: 10, Enabled: true},
	}
	for _, r := range rules {
		if err := repo.SaveRuleConfig(ctx, tenantID, r); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}
	}

	t.Run("ListInOrder", func(t *testing.T) {
		got, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != "multiple-claims" || got[1].ID != "early-claim" {
			t.Fatalf("unexpected rules %+v", got)
		}
		if got[0].TenantID != tenantID || got[0].Order != 10 || !got[0].Enabled {
			t.Errorf("fields not restored: %+v", got[0])
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		updated := *rules[0]
		updated.Expression = "days_since_start < 7"
		updated.Version = "1.1.0"
		if err := repo.SaveRuleConfig(ctx, tenantID, &updated); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}
		got, _ := repo.ListRuleConfigs(ctx, tenantID)
		if len(got) != 2 {
			t.Fatalf("expected 2 rules after upsert, got %d", len(got))
		}
		if got[1].Expression != "days_since_start < 7" || got[1].Version != "1.1.0" {
			t.Errorf("upsert not applied: %+v", got[1])
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteRuleConfig(ctx, tenantID, "early-claim"); err != nil {
			t.Fatalf("DeleteRuleConfig failed: %v", err)
		}
		got, _ := repo.ListRuleConfigs(ctx, tenantID)
		if len(got) != 1 {
			t.Errorf("expected 1 rule after delete, got %d", len(got))
		}
		if err := repo.DeleteRuleConfig(ctx, tenantID, "early-claim"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		got, _ := repo.ListRuleConfigs(ctx, "tenant-002")
		if len(got) != 0 {
			t.Errorf("expected no rules for other tenant, got %d", len(got))
		}
		if err := repo.DeleteRuleConfig(ctx, "tenant-002", "multiple-claims"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("expected sqlite query unchanged, got %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		dsn := postgresDSN(domain.RepositoryConfig{})
		expected := "postgres://localhost:5432/kestrel?sslmode=disable"
		if dsn != expected {
			t.Errorf("expected %q, got %q", expected, dsn)
		}
	})

	t.Run("Credentials", func(t *testing.T) {
		dsn := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db",
			PostgresPort:     6543,
			PostgresUser:     "kestrel",
			PostgresPassword: "p@ss word",
			PostgresDB:       "scores",
			PostgresSSLMode:  "require",
		})
		if !strings.HasPrefix(dsn, "postgres://kestrel:p%40ss%20word@db:6543/scores") {
			t.Errorf("unexpected dsn %q", dsn)
		}
		if !strings.HasSuffix(dsn, "sslmode=require") {
			t.Errorf("expected sslmode=require in %q", dsn)
		}
	})
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/k.db")
	if !strings.HasPrefix(dsn, "file:/tmp/k.db?") || !strings.Contains(dsn, "foreign_keys(ON)") {
		t.Errorf("unexpected dsn %q", dsn)
	}
}
