package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	runSave   bool
	runTenant string
)

// runCmd scores one set of extracts and writes both reports
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Score a set of extracts and write the reports",
	Long: `Run loads the customers, policies, claims and fraud extracts, scores
every claim and customer, and writes claims_anomaly_report.csv and
customer_segmentation_report.csv to the output directory.

A summary of the highest-risk claims and customers is printed when done.

Examples:
  kestrel run --customers customers.csv --policies policies.csv \
    --claims claims.csv --fraud fraud.csv --out reports/
  kestrel run --rules rules.yaml --top 10 --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runBatch(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func init() {
	defaults := domain.DefaultConfig()
	runCmd.Flags().String("customers", defaults.Input.Customers, "customers extract (CSV)")
	runCmd.Flags().String("policies", defaults.Input.Policies, "policies extract (CSV)")
	runCmd.Flags().String("claims", defaults.Input.Claims, "claims extract (CSV)")
	runCmd.Flags().String("fraud", defaults.Input.Fraud, "fraud detection extract (CSV, optional)")
	runCmd.Flags().String("out", defaults.Scoring.OutputDir, "directory for the CSV reports")
	runCmd.Flags().Int("top", defaults.Scoring.TopClaims, "number of claims in the summary preview")
	runCmd.Flags().String("rules", "", "YAML reason rule table (default: built-in rules)")
	runCmd.Flags().BoolVar(&runSave, "save", false, "store the finished run in the repository")
	runCmd.Flags().StringVar(&runTenant, "tenant", worker.DefaultTenantID, "tenant the run is recorded under")

	_ = viper.BindPFlag("input.customers", runCmd.Flags().Lookup("customers"))
	_ = viper.BindPFlag("input.policies", runCmd.Flags().Lookup("policies"))
	_ = viper.BindPFlag("input.claims", runCmd.Flags().Lookup("claims"))
	_ = viper.BindPFlag("input.fraud", runCmd.Flags().Lookup("fraud"))
	_ = viper.BindPFlag("scoring.outputdir", runCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("scoring.topclaims", runCmd.Flags().Lookup("top"))
	_ = viper.BindPFlag("scoring.rulesfile", runCmd.Flags().Lookup("rules"))

	// bench reads the same extracts
	for _, name := range []string{"customers", "policies", "claims", "fraud", "rules", "tenant"} {
		benchCmd.Flags().AddFlag(runCmd.Flags().Lookup(name))
	}

	rootCmd.AddCommand(runCmd)
}

func runBatch(ctx context.Context, cfg *domain.Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	engine, _, err := buildEngine(cfg.Scoring.RulesFile)
	if err != nil {
		return err
	}

	processor, err := pipeline.NewProcessor(engine, cfg.Scoring)
	if err != nil {
		return err
	}
	runner := worker.NewRunner(processor, nil, nil, nil, 0)
	run, err := runner.Execute(ctx, &domain.RunRequest{TenantID: runTenant, Input: cfg.Input})
	if err != nil {
		return err
	}

	claimsPath, customersPath, err := report.WriteFiles(cfg.Scoring.OutputDir, run)
	if err != nil {
		return err
	}

	if runSave {
		if err := saveRun(ctx, cfg.Repository, run); err != nil {
			return err
		}
	}

	report.PrintSummary(out, run)
	fmt.Fprintf(out, "\nReports written to %s and %s\n", claimsPath, customersPath)
	return nil
}

func saveRun(ctx context.Context, cfg domain.RepositoryConfig, run *domain.Run) error {
	repo, err := repository.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	defer repo.Close()

	if err := repo.SaveRun(ctx, run.TenantID, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	slog.Info("run saved", "run_id", run.ID, "driver", cfg.Driver)
	return nil
}

// ruleTable returns the rule file's table, or the built-in rules when no
// file is configured.
func ruleTable(rulesFile string) ([]*domain.RuleConfig, error) {
	if rulesFile == "" {
		return rules.DefaultReasonRules(), nil
	}
	table, err := rules.LoadFile(rulesFile)
	if err != nil {
		return nil, err
	}
	slog.Debug("rule file loaded", "path", rulesFile, "rules", len(table))
	return table, nil
}

// buildEngine compiles the configured rule table.
func buildEngine(rulesFile string) (*rules.Engine, []*domain.RuleConfig, error) {
	table, err := ruleTable(rulesFile)
	if err != nil {
		return nil, nil, err
	}
	engine, err := rules.NewEngine()
	if err != nil {
		return nil, nil, err
	}
	if err := engine.ReloadRules(table); err != nil {
		return nil, nil, err
	}
	return engine, table, nil
}
