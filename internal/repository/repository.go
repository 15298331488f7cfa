// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a finished run and all of its report rows in one
// transaction.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.Run) (err error) {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO runs (id, tenant_id, status, error, started_at, finished_at, summary, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		run.ID, tenantID, run.Status, run.Error,
		run.StartedAt, run.FinishedAt, string(summary), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	claimStmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO claim_scores (run_id, tenant_id, row_index, claim_id, risk_score, is_outlier, anomaly_reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer claimStmt.Close()

	for i, c := range run.Claims {
		reasons, _ := json.Marshal(c.AnomalyReasons)
		if _, err = claimStmt.ExecContext(ctx, run.ID, tenantID, i, c.ClaimID, c.RiskScore, boolToInt(c.IsOutlier), string(reasons)); err != nil {
			return fmt.Errorf("failed to insert claim score %s: %w", c.ClaimID, err)
		}
	}

	customerStmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO customer_scores (run_id, tenant_id, row_index, customer_id, lifetime_value, loss_ratio, risk_score, segment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer customerStmt.Close()

	for i, c := range run.Customers {
		if _, err = customerStmt.ExecContext(ctx, run.ID, tenantID, i, c.CustomerID, c.LifetimeValue, c.LossRatio, c.RiskScore, string(c.Segment)); err != nil {
			return fmt.Errorf("failed to insert customer score %s: %w", c.CustomerID, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run with its report rows, with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, status, error, started_at, finished_at, summary, metadata
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`
	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if run.Claims, err = r.ListClaimScores(ctx, tenantID, runID); err != nil {
		return nil, err
	}
	if run.Customers, err = r.ListCustomerScores(ctx, tenantID, runID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs of a tenant without their rows.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string, limit int) ([]*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, tenant_id, status, error, started_at, finished_at, summary, metadata
		FROM runs
		WHERE tenant_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListClaimScores returns a run's claim rows in report order.
func (r *SQLRepository) ListClaimScores(ctx context.Context, tenantID string, runID string) ([]domain.ClaimReportRow, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT claim_id, risk_score, is_outlier, anomaly_reasons
		FROM claim_scores
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY row_index
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claims := []domain.ClaimReportRow{}
	for rows.Next() {
		var c domain.ClaimReportRow
		var outlier int
		var reasons string
		if err := rows.Scan(&c.ClaimID, &c.RiskScore, &outlier, &reasons); err != nil {
			return nil, err
		}
		c.IsOutlier = outlier == 1
		if err := json.Unmarshal([]byte(reasons), &c.AnomalyReasons); err != nil {
			return nil, fmt.Errorf("failed to parse reasons for claim %s: %w", c.ClaimID, err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// ListCustomerScores returns a run's customer rows in report order.
func (r *SQLRepository) ListCustomerScores(ctx context.Context, tenantID string, runID string) ([]domain.CustomerReportRow, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT customer_id, lifetime_value, loss_ratio, risk_score, segment
		FROM customer_scores
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY row_index
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := []domain.CustomerReportRow{}
	for rows.Next() {
		var c domain.CustomerReportRow
		var seg string
		if err := rows.Scan(&c.CustomerID, &c.LifetimeValue, &c.LossRatio, &c.RiskScore, &seg); err != nil {
			return nil, err
		}
		c.Segment = domain.Segment(seg)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// SaveRuleConfig stores a reason rule with tenant isolation. Saving an
// existing ID replaces it.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO rule_configs (
			id, tenant_id, tag, description, version, expression, rule_order, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			tag = excluded.tag,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			rule_order = excluded.rule_order,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Tag, rule.Description, rule.Version,
		rule.Expression, rule.Order, boolToInt(rule.Enabled), now, now,
	)
	return err
}

// ListRuleConfigs retrieves the enabled reason rules of a tenant in
// evaluation order.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tag, description, version, expression, rule_order, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY rule_order, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var description sql.NullString
		var enabled int
		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Tag, &description,
			&cfg.Version, &cfg.Expression, &cfg.Order, &enabled,
		); err != nil {
			return nil, err
		}
		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// DeleteRuleConfig soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rule_configs
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var runErr sql.NullString
	var summary, metadata string

	if err := row.Scan(
		&run.ID, &run.TenantID, &run.Status, &runErr,
		&run.StartedAt, &run.FinishedAt, &summary, &metadata,
	); err != nil {
		return nil, err
	}

	run.Error = runErr.String
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &run.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata of run %s: %w", run.ID, err)
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
