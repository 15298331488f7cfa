// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for persisting finished runs and
// reason rule tables. Nothing stored here feeds the scores of a later run.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Run operations
	SaveRun(ctx context.Context, tenantID string, run *Run) error
	GetRun(ctx context.Context, tenantID string, runID string) (*Run, error)
	ListRuns(ctx context.Context, tenantID string, limit int) ([]*Run, error)
	ListClaimScores(ctx context.Context, tenantID string, runID string) ([]ClaimReportRow, error)
	ListCustomerScores(ctx context.Context, tenantID string, runID string) ([]CustomerReportRow, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)
	DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"-"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
