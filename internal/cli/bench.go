package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/loader"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/spf13/cobra"
)

var benchIterations int

// benchCmd measures claim alerts against the fraud labels of the extracts
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare claim alerts with fraud labels and time the pipeline",
	Long: `Bench scores the configured extracts, treats every claim at or above
the alert threshold as an alert and compares the alerts with the
is_fraudulent labels of the fraud extract. It prints the confusion
matrix, precision, recall and F1, and the mean pipeline duration over
--iterations runs.

The extracts are taken from the same flags and config keys as run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return bench(cmd.Context(), cfg, benchIterations, cmd.OutOrStdout())
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchIterations, "iterations", 1, "number of timed pipeline runs")

	rootCmd.AddCommand(benchCmd)
}

// AlertMetrics is the confusion matrix of claim alerts against fraud labels.
type AlertMetrics struct {
	TruePositives  int // Fraud alerted
	FalsePositives int // Non-fraud alerted
	TrueNegatives  int // Non-fraud not alerted
	FalseNegatives int // Fraud missed
}

// Precision is the share of alerts that were labelled fraud.
func (m AlertMetrics) Precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

// Recall is the share of fraud that was alerted.
func (m AlertMetrics) Recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m AlertMetrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of claims classified correctly.
func (m AlertMetrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(m.TruePositives+m.TrueNegatives) / float64(total)
}

// evaluateAlerts builds the confusion matrix for one run. Duplicate
// labels for a claim collapse to a logical OR.
func evaluateAlerts(claims []domain.ClaimReportRow, fraud []domain.FraudFlag, threshold float64) AlertMetrics {
	labels := make(map[string]bool, len(fraud))
	for _, f := range fraud {
		labels[f.ClaimID] = labels[f.ClaimID] || f.IsFraudulent
	}

	var m AlertMetrics
	for _, c := range claims {
		alerted := c.RiskScore >= threshold
		switch {
		case alerted && labels[c.ClaimID]:
			m.TruePositives++
		case alerted:
			m.FalsePositives++
		case labels[c.ClaimID]:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
	}
	return m
}

func bench(ctx context.Context, cfg *domain.Config, iterations int, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if iterations < 1 {
		iterations = 1
	}

	engine, _, err := buildEngine(cfg.Scoring.RulesFile)
	if err != nil {
		return err
	}
	ds, err := loader.Load(ctx, cfg.Input)
	if err != nil {
		return err
	}
	processor, err := pipeline.NewProcessor(engine, cfg.Scoring)
	if err != nil {
		return err
	}

	var run *domain.Run
	start := time.Now()
	for i := 0; i < iterations; i++ {
		run, err = processor.Process(ctx, &pipeline.RunInput{TenantID: runTenant, Dataset: ds})
		if err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	m := evaluateAlerts(run.Claims, ds.Fraud, cfg.Scoring.ClaimAlertThreshold)
	printBench(out, m, len(ds.Claims), cfg.Scoring.ClaimAlertThreshold, iterations, elapsed)
	return nil
}

func printBench(w io.Writer, m AlertMetrics, claims int, threshold float64, iterations int, elapsed time.Duration) {
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "  Alert Benchmark")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")

	fmt.Fprintf(w, "\nClaims:          %d\n", claims)
	fmt.Fprintf(w, "Alert threshold: %.2f\n", threshold)

	fmt.Fprintln(w, "\nConfusion matrix")
	fmt.Fprintln(w, "                    Predicted")
	fmt.Fprintln(w, "                 ALERT     CLEAR")
	fmt.Fprintf(w, "   Fraud      %8d  %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintf(w, "   Non-fraud  %8d  %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Fprintln(w, "\nDetection metrics")
	fmt.Fprintf(w, "   Precision:  %.4f\n", m.Precision())
	fmt.Fprintf(w, "   Recall:     %.4f\n", m.Recall())
	fmt.Fprintf(w, "   F1-Score:   %.4f\n", m.F1())
	fmt.Fprintf(w, "   Accuracy:   %.4f\n", m.Accuracy())

	fmt.Fprintln(w, "\nPerformance")
	fmt.Fprintf(w, "   Runs:         %d\n", iterations)
	fmt.Fprintf(w, "   Total:        %v\n", elapsed.Round(time.Millisecond))
	perRun := elapsed / time.Duration(iterations)
	fmt.Fprintf(w, "   Mean per run: %v\n", perRun.Round(time.Microsecond))
	if secs := perRun.Seconds(); secs > 0 {
		fmt.Fprintf(w, "   Throughput:   %.0f claims/sec\n", float64(claims)/secs)
	}
}
