// Package report orders scored rows, builds run summaries and writes
// the claim and customer reports.
package report

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Report file names.
const (
	ClaimsFile    = "claims_anomaly_report.csv"
	CustomersFile = "customer_segmentation_report.csv"
)

// SortClaims orders scores in place by reason count, then risk score,
// both descending. Ties keep their input order.
func SortClaims(scores []domain.ClaimScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		ci, cj := scores[i].ReasonCount(), scores[j].ReasonCount()
		if ci != cj {
			return ci > cj
		}
		return scores[i].RiskScore > scores[j].RiskScore
	})
}

// ClaimRows projects scores onto report rows, preserving order.
func ClaimRows(scores []domain.ClaimScore) []domain.ClaimReportRow {
	rows := make([]domain.ClaimReportRow, len(scores))
	for i := range scores {
		rows[i] = scores[i].ToReportRow()
	}
	return rows
}

// CustomerRows projects scores onto report rows, preserving order.
func CustomerRows(scores []domain.CustomerScore) []domain.CustomerReportRow {
	rows := make([]domain.CustomerReportRow, len(scores))
	for i := range scores {
		rows[i] = scores[i].ToReportRow()
	}
	return rows
}

// TopCustomers returns up to n rows with the highest risk score.
// The input is not modified.
func TopCustomers(rows []domain.CustomerReportRow, n int) []domain.CustomerReportRow {
	sorted := make([]domain.CustomerReportRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RiskScore > sorted[j].RiskScore
	})
	return head(sorted, n)
}

// Summarize builds the run preview from sorted claim rows and customer rows.
func Summarize(claims []domain.ClaimReportRow, customers []domain.CustomerReportRow, topClaims, topCustomers int, alertThreshold float64) domain.RunSummary {
	summary := domain.RunSummary{
		ClaimsScored:    len(claims),
		CustomersScored: len(customers),
		SegmentCounts:   make(map[domain.Segment]int),
		TopClaims:       head(claims, topClaims),
		TopCustomers:    TopCustomers(customers, topCustomers),
	}
	for _, c := range claims {
		if c.IsOutlier {
			summary.OutliersFlagged++
		}
		if c.RiskScore >= alertThreshold {
			summary.ClaimsAlerted++
		}
	}
	for _, c := range customers {
		summary.SegmentCounts[c.Segment]++
	}
	return summary
}

func head[T any](rows []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if n > len(rows) {
		n = len(rows)
	}
	out := make([]T, n)
	copy(out, rows[:n])
	return out
}
