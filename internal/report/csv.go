package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReasonSeparator joins anomaly reasons in the claim report.
const ReasonSeparator = ", "

var (
	claimHeader    = []string{"claim_id", "risk_score", "is_outlier", "anomaly_reasons"}
	customerHeader = []string{"customer_id", "lifetime_value", "loss_ratio", "risk_score", "segment"}
)

// WriteClaimsCSV writes the claim anomaly report.
func WriteClaimsCSV(w io.Writer, rows []domain.ClaimReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(claimHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.ClaimID,
			formatFloat(r.RiskScore),
			formatBool(r.IsOutlier),
			strings.Join(r.AnomalyReasons, ReasonSeparator),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCustomersCSV writes the customer segmentation report.
func WriteCustomersCSV(w io.Writer, rows []domain.CustomerReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(customerHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.CustomerID,
			formatFloat(r.LifetimeValue),
			formatFloat(r.LossRatio),
			formatFloat(r.RiskScore),
			string(r.Segment),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFiles writes both reports of run into dir and returns their paths.
func WriteFiles(dir string, run *domain.Run) (claimsPath, customersPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}

	claimsPath = filepath.Join(dir, ClaimsFile)
	if err := writeFile(claimsPath, func(w io.Writer) error { return WriteClaimsCSV(w, run.Claims) }); err != nil {
		return "", "", err
	}

	customersPath = filepath.Join(dir, CustomersFile)
	if err := writeFile(customersPath, func(w io.Writer) error { return WriteCustomersCSV(w, run.Customers) }); err != nil {
		return "", "", err
	}
	return claimsPath, customersPath, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
