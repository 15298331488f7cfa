package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
)

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

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunBatch(t *testing.T) {
	outDir := t.TempDir()
	cfg := domain.DefaultConfig()
	cfg.Input = writeExtracts(t)
	cfg.Scoring.OutputDir = outDir
	cfg.Repository.SQLitePath = filepath.Join(t.TempDir(), "kestrel.db")

	runSave = true
	runTenant = "tenant-cli"
	t.Cleanup(func() {
		runSave = false
		runTenant = "default"
	})

	var out bytes.Buffer
	if err := runBatch(context.Background(), cfg, &out); err != nil {
		t.Fatalf("runBatch failed: %v", err)
	}

	t.Run("ReportsWritten", func(t *testing.T) {
		for _, name := range []string{report.ClaimsFile, report.CustomersFile} {
			if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
				t.Errorf("expected %s to exist: %v", name, err)
			}
		}
		data, err := os.ReadFile(filepath.Join(outDir, report.ClaimsFile))
		if err != nil {
			t.Fatalf("failed to read claims report: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 4 {
			t.Fatalf("expected header and 3 rows, got %d lines", len(lines))
		}
		if !strings.HasPrefix(lines[1], "CL2,") {
			t.Errorf("expected CL2 first, got %q", lines[1])
		}
	})

	t.Run("SummaryPrinted", func(t *testing.T) {
		s := out.String()
		if !strings.Contains(s, "3 claims scored") {
			t.Errorf("expected claim count in summary, got:\n%s", s)
		}
		if !strings.Contains(s, "Risk Management") {
			t.Errorf("expected segment distribution in summary, got:\n%s", s)
		}
	})

	t.Run("Saved", func(t *testing.T) {
		repo, err := repository.New(cfg.Repository)
		if err != nil {
			t.Fatalf("failed to open repository: %v", err)
		}
		defer repo.Close()

		runs, err := repo.ListRuns(context.Background(), "tenant-cli", 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("expected 1 saved run, got %d", len(runs))
		}
		if runs[0].Summary.ClaimsScored != 3 {
			t.Errorf("expected 3 claims scored, got %d", runs[0].Summary.ClaimsScored)
		}
	})
}

func TestRunBatchErrors(t *testing.T) {
	t.Run("MissingExtract", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Input = writeExtracts(t)
		cfg.Input.Claims = filepath.Join(t.TempDir(), "absent.csv")
		cfg.Scoring.OutputDir = t.TempDir()

		err := runBatch(context.Background(), cfg, &bytes.Buffer{})
		if !domain.IsInputError(err) {
			t.Errorf("expected input error, got %v", err)
		}
	})

	t.Run("BadRuleFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		if err := os.WriteFile(path, []byte("rules: []\n"), 0o644); err != nil {
			t.Fatalf("failed to write rule file: %v", err)
		}
		cfg := domain.DefaultConfig()
		cfg.Input = writeExtracts(t)
		cfg.Scoring.RulesFile = path

		if err := runBatch(context.Background(), cfg, &bytes.Buffer{}); err == nil {
			t.Error("expected error for empty rule file")
		}
	})

	t.Run("InvalidCustomerWeights", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Input = writeExtracts(t)
		cfg.Scoring.OutputDir = t.TempDir()
		cfg.Scoring.CustomerWeights = map[string]float64{"loss_ratio": 50, "tenure": 50}

		err := runBatch(context.Background(), cfg, &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "customerWeights") {
			t.Errorf("expected customer weights error, got %v", err)
		}
	})
}

func TestRulesList(t *testing.T) {
	t.Cleanup(func() { listRulesFile = "" })

	t.Run("Defaults", func(t *testing.T) {
		listRulesFile = ""
		out, err := execute(t, "rules", "list")
		if err != nil {
			t.Fatalf("rules list failed: %v", err)
		}
		for _, id := range []string{"multiple-claims", "high-coverage-ratio", "early-claim", "amount-outlier"} {
			if !strings.Contains(out, "id: "+id) {
				t.Errorf("expected rule %s in output:\n%s", id, out)
			}
		}
	})

	t.Run("FromFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := "rules:\n" +
			"  - id: large-claim\n" +
			"    tag: Large claim\n" +
			"    expression: claim_amount > 10000.0\n" +
			"    order: 1\n" +
			"    enabled: true\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write rule file: %v", err)
		}

		out, err := execute(t, "rules", "list", "--rules", path)
		if err != nil {
			t.Fatalf("rules list failed: %v", err)
		}
		if !strings.Contains(out, "id: large-claim") {
			t.Errorf("expected large-claim in output:\n%s", out)
		}
		if strings.Contains(out, "multiple-claims") {
			t.Errorf("expected file table to replace defaults:\n%s", out)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := "rules:\n  - id: broken\n    tag: Broken\n    expression: claim_amount +\n    enabled: true\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write rule file: %v", err)
		}
		if _, err := execute(t, "rules", "list", "--rules", path); err == nil {
			t.Error("expected compile error")
		}
	})
}

func TestConfigShow(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		out, err := execute(t, "config", "show")
		if err != nil {
			t.Fatalf("config show failed: %v", err)
		}
		for _, want := range []string{"tier: community", "driver: sqlite", "port: 8080"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
	})

	t.Run("EnvOverride", func(t *testing.T) {
		t.Setenv("KESTREL_SERVER_PORT", "9090")
		out, err := execute(t, "config", "show")
		if err != nil {
			t.Fatalf("config show failed: %v", err)
		}
		if !strings.Contains(out, "port: 9090") {
			t.Errorf("expected env port in output:\n%s", out)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		t.Setenv("KESTREL_TIER", "pro")
		t.Setenv("KESTREL_POSTGRES_PASSWORD", "s3cret")
		out, err := execute(t, "config", "show")
		if err != nil {
			t.Fatalf("config show failed: %v", err)
		}
		for _, want := range []string{"tier: pro", "driver: postgres", "type: nats"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
		if strings.Contains(out, "s3cret") {
			t.Error("expected password to be omitted")
		}
	})

	t.Run("ConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("scoring:\n  topClaims: 7\n"), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		t.Cleanup(func() { cfgFile = "" })

		out, err := execute(t, "--config", path, "config", "show")
		if err != nil {
			t.Fatalf("config show failed: %v", err)
		}
		if !strings.Contains(out, "topClaims: 7") {
			t.Errorf("expected file value in output:\n%s", out)
		}
	})
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "kestrel "+Version) {
		t.Errorf("expected version line, got %q", out)
	}
}

func TestEvaluateAlerts(t *testing.T) {
	claims := []domain.ClaimReportRow{
		{ClaimID: "A", RiskScore: 90},
		{ClaimID: "B", RiskScore: 80},
		{ClaimID: "C", RiskScore: 10},
		{ClaimID: "D", RiskScore: 75},
		{ClaimID: "E", RiskScore: 5},
	}
	fraud := []domain.FraudFlag{
		{ClaimID: "A", IsFraudulent: true},
		{ClaimID: "C", IsFraudulent: true},
		{ClaimID: "D", IsFraudulent: false},
		{ClaimID: "D", IsFraudulent: true},
	}

	m := evaluateAlerts(claims, fraud, 75)

	if m.TruePositives != 2 || m.FalsePositives != 1 || m.FalseNegatives != 1 || m.TrueNegatives != 1 {
		t.Fatalf("unexpected matrix %+v", m)
	}
	if got := m.Precision(); got < 0.666 || got > 0.667 {
		t.Errorf("expected precision 2/3, got %f", got)
	}
	if got := m.Recall(); got < 0.666 || got > 0.667 {
		t.Errorf("expected recall 2/3, got %f", got)
	}
	if got := m.Accuracy(); got != 0.6 {
		t.Errorf("expected accuracy 0.6, got %f", got)
	}

	t.Run("Empty", func(t *testing.T) {
		var empty AlertMetrics
		if empty.Precision() != 0 || empty.Recall() != 0 || empty.F1() != 0 || empty.Accuracy() != 0 {
			t.Error("expected zero metrics for empty matrix")
		}
	})
}

func TestBench(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Input = writeExtracts(t)

	var out bytes.Buffer
	if err := bench(context.Background(), cfg, 3, &out); err != nil {
		t.Fatalf("bench failed: %v", err)
	}

	s := out.String()
	for _, want := range []string{"Claims:          3", "Precision:  1.0000", "Recall:     1.0000", "Runs:         3"} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in output:\n%s", want, s)
		}
	}
}
