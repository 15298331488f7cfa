// Package loader reads the four source extracts from CSV files.
package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// Table names used in error reports.
const (
	TableCustomers = "customers"
	TablePolicies  = "policies"
	TableClaims    = "claims"
	TableFraud     = "fraud"
)

// Required columns per table.
var (
	customerColumns = []string{"customer_id"}
	policyColumns   = []string{"policy_id", "customer_id", "policy_type", "coverage_amount", "start_date", "status", "annual_premium"}
	claimColumns    = []string{"claim_id", "policy_id", "claim_amount", "claim_date"}
	fraudColumns    = []string{"claim_id", "is_fraudulent"}
)

// dateLayouts are tried in order; a cell matching none is treated as missing.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
}

// Load reads all four extracts. The fraud path may be empty, in which
// case no claim is flagged fraudulent. With paths.Dir set, every extract
// is opened through an os.Root on that directory, so absolute paths and
// paths leaving it fail with a DataLoadError.
func Load(ctx context.Context, paths domain.InputPaths) (*domain.Dataset, error) {
	start := time.Now()
	ds := &domain.Dataset{}

	open := func(name string) (*os.File, error) { return os.Open(name) }
	if paths.Dir != "" {
		root, err := os.OpenRoot(paths.Dir)
		if err != nil {
			return nil, fmt.Errorf("open input directory: %w", err)
		}
		defer root.Close()
		open = root.Open
	}

	var err error
	if ds.Customers, err = loadFile(ctx, open, TableCustomers, paths.Customers, ReadCustomers); err != nil {
		return nil, err
	}
	if ds.Policies, err = loadFile(ctx, open, TablePolicies, paths.Policies, ReadPolicies); err != nil {
		return nil, err
	}
	if ds.Claims, err = loadFile(ctx, open, TableClaims, paths.Claims, ReadClaims); err != nil {
		return nil, err
	}
	if paths.Fraud != "" {
		if ds.Fraud, err = loadFile(ctx, open, TableFraud, paths.Fraud, ReadFraud); err != nil {
			return nil, err
		}
	}

	slog.Debug("extracts loaded",
		"customers", len(ds.Customers),
		"policies", len(ds.Policies),
		"claims", len(ds.Claims),
		"fraud_flags", len(ds.Fraud),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ds, nil
}

func loadFile[T any](ctx context.Context, open func(string) (*os.File, error), table, path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, &domain.DataLoadError{Table: table, Path: path, Err: errors.New("no path configured")}
	}

	f, err := open(path)
	if err != nil {
		return nil, &domain.DataLoadError{Table: table, Path: path, Err: err}
	}
	defer f.Close()

	rows, err := read(f)
	if err != nil {
		if domain.IsInputError(err) {
			return nil, err
		}
		return nil, &domain.DataLoadError{Table: table, Path: path, Err: err}
	}
	return rows, nil
}

// ReadCustomers parses a customers extract.
func ReadCustomers(r io.Reader) ([]domain.Customer, error) {
	t, err := readTable(TableCustomers, r, customerColumns)
	if err != nil {
		return nil, err
	}

	customers := make([]domain.Customer, 0, len(t.rows))
	for _, row := range t.rows {
		customers = append(customers, domain.Customer{ID: t.get(row, "customer_id")})
	}
	return customers, nil
}

// ReadPolicies parses a policies extract.
func ReadPolicies(r io.Reader) ([]domain.Policy, error) {
	t, err := readTable(TablePolicies, r, policyColumns)
	if err != nil {
		return nil, err
	}

	policies := make([]domain.Policy, 0, len(t.rows))
	for _, row := range t.rows {
		id := t.get(row, "policy_id")
		coverage, err := parseAmount(TablePolicies, id, "coverage_amount", t.get(row, "coverage_amount"))
		if err != nil {
			return nil, err
		}
		premium, err := parseAmount(TablePolicies, id, "annual_premium", t.get(row, "annual_premium"))
		if err != nil {
			return nil, err
		}
		policies = append(policies, domain.Policy{
			ID:             id,
			CustomerID:     t.get(row, "customer_id"),
			Type:           t.get(row, "policy_type"),
			Status:         t.get(row, "status"),
			CoverageAmount: coverage,
			AnnualPremium:  premium,
			StartDate:      parseDate(t.get(row, "start_date")),
		})
	}
	return policies, nil
}

// ReadClaims parses a claims extract. The customer_id column is optional.
func ReadClaims(r io.Reader) ([]domain.Claim, error) {
	t, err := readTable(TableClaims, r, claimColumns)
	if err != nil {
		return nil, err
	}

	claims := make([]domain.Claim, 0, len(t.rows))
	for _, row := range t.rows {
		id := t.get(row, "claim_id")
		amount, err := parseAmount(TableClaims, id, "claim_amount", t.get(row, "claim_amount"))
		if err != nil {
			return nil, err
		}
		if amount.IsNegative() {
			return nil, &domain.DataError{Stage: "load " + TableClaims, RecordID: id, Reason: "claim_amount is negative"}
		}
		claims = append(claims, domain.Claim{
			ID:         id,
			PolicyID:   t.get(row, "policy_id"),
			CustomerID: t.get(row, "customer_id"),
			Amount:     amount,
			Date:       parseDate(t.get(row, "claim_date")),
		})
	}
	return claims, nil
}

// ReadFraud parses a fraud detection extract.
func ReadFraud(r io.Reader) ([]domain.FraudFlag, error) {
	t, err := readTable(TableFraud, r, fraudColumns)
	if err != nil {
		return nil, err
	}

	flags := make([]domain.FraudFlag, 0, len(t.rows))
	for _, row := range t.rows {
		flags = append(flags, domain.FraudFlag{
			ClaimID:      t.get(row, "claim_id"),
			IsFraudulent: parseBool(t.get(row, "is_fraudulent")),
		})
	}
	return flags, nil
}

// table is a parsed CSV with a case-insensitive header index.
type table struct {
	name   string
	header map[string]int
	rows   [][]string
}

func readTable(name string, r io.Reader, required []string) (*table, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &domain.SchemaError{Table: name, Column: required[0]}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	t := &table{name: name, header: make(map[string]int, len(header))}
	for i, col := range header {
		t.header[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range required {
		if _, ok := t.header[col]; !ok {
			return nil, &domain.SchemaError{Table: name, Column: col}
		}
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if isBlank(record) {
			continue
		}
		t.rows = append(t.rows, record)
	}
	return t, nil
}

// get returns the trimmed cell for col, or "" when the column or cell is absent.
func (t *table) get(row []string, col string) string {
	idx, ok := t.header[col]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseAmount treats an empty cell as zero.
func parseAmount(table, id, col, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &domain.DataError{
			Stage:    "load " + table,
			RecordID: id,
			Reason:   fmt.Sprintf("%s %q is not a number", col, raw),
		}
	}
	return d, nil
}

// parseDate returns the zero time for empty or unparseable cells.
func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseBool(raw string) bool {
	switch strings.ToLower(raw) {
	case "true", "t", "1", "1.0", "yes", "y":
		return true
	default:
		return false
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, len(utf8BOM))
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return bytes.NewReader(buf[:n])
	}
	if bytes.Equal(buf, utf8BOM) {
		return r
	}
	return io.MultiReader(bytes.NewReader(buf), r)
}
