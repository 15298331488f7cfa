package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// NextStep is the closing recommendation of the console summary.
const NextStep = "A manual review of the highest-risk customers' policies and claim history is " +
	"strongly recommended for the underwriting and fraud teams. This will help " +
	"validate the risk signals and determine appropriate actions."

// PrintSummary writes the console preview of a run.
func PrintSummary(w io.Writer, run *domain.Run) {
	s := run.Summary

	fmt.Fprintf(w, "Run %s: %d claims scored, %d outliers, %d at or above alert threshold\n",
		run.ID, s.ClaimsScored, s.OutliersFlagged, s.ClaimsAlerted)

	fmt.Fprintf(w, "\nTop %d high-risk claims:\n", len(s.TopClaims))
	fmt.Fprintf(w, "  %-12s %10s  %-8s %s\n", "claim_id", "risk_score", "outlier", "anomaly_reasons")
	for _, c := range s.TopClaims {
		fmt.Fprintf(w, "  %-12s %10.2f  %-8s %s\n",
			c.ClaimID, c.RiskScore, formatBool(c.IsOutlier), strings.Join(c.AnomalyReasons, ReasonSeparator))
	}

	fmt.Fprintln(w, "\n--- Customer Analysis Summary ---")
	fmt.Fprintln(w, "\nCustomer Distribution by Segment:")
	for _, seg := range domain.AllSegments() {
		if n := s.SegmentCounts[seg]; n > 0 {
			fmt.Fprintf(w, "  %-16s %d\n", seg, n)
		}
	}

	fmt.Fprintf(w, "\nTop %d Highest-Risk Customers:\n", len(s.TopCustomers))
	fmt.Fprintf(w, "  %-12s %14s %10s %10s  %s\n", "customer_id", "lifetime_value", "loss_ratio", "risk_score", "segment")
	for _, c := range s.TopCustomers {
		fmt.Fprintf(w, "  %-12s %14.2f %10.4f %10.2f  %s\n",
			c.CustomerID, c.LifetimeValue, c.LossRatio, c.RiskScore, c.Segment)
	}

	fmt.Fprintln(w, "\nRecommended Next Step:")
	fmt.Fprintln(w, NextStep)
}
