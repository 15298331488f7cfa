package domain

import (
	"time"
)

// Run is the complete result of one batch scoring run.
type Run struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Claims is sorted by reason count then risk score, both descending.
	Claims []ClaimReportRow `json:"claims,omitempty"`

	// Customers is ordered by customer_id.
	Customers []CustomerReportRow `json:"customers,omitempty"`

	Summary  RunSummary  `json:"summary"`
	Metadata RunMetadata `json:"metadata"`
}

// RunSummary is the console/API preview of a run.
type RunSummary struct {
	ClaimsScored    int                 `json:"claimsScored"`
	OutliersFlagged int                 `json:"outliersFlagged"`
	ClaimsAlerted   int                 `json:"claimsAlerted"`
	CustomersScored int                 `json:"customersScored"`
	SegmentCounts   map[Segment]int     `json:"segmentCounts"`
	TopClaims       []ClaimReportRow    `json:"topClaims"`
	TopCustomers    []CustomerReportRow `json:"topCustomers"`
}

// RunMetadata contains processing information.
type RunMetadata struct {
	TraceID        string `json:"traceId"`
	ClaimsMs       int64  `json:"claimsMs"`
	CustomersMs    int64  `json:"customersMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// Run status constants
const (
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// RunRequest asks for a run over a set of extract files.
type RunRequest struct {
	TenantID string     `json:"tenantId"`
	TraceID  string     `json:"traceId,omitempty"`
	Input    InputPaths `json:"input"`
}

// InputPaths locates the four source extracts. When Dir is set the
// extract paths are resolved inside it and may not escape it. Dir is
// never taken from a request body.
type InputPaths struct {
	Dir       string `json:"-" yaml:"dir,omitempty" mapstructure:"dir"`
	Customers string `json:"customers" yaml:"customers" mapstructure:"customers"`
	Policies  string `json:"policies" yaml:"policies" mapstructure:"policies"`
	Claims    string `json:"claims" yaml:"claims" mapstructure:"claims"`
	Fraud     string `json:"fraud" yaml:"fraud" mapstructure:"fraud"`
}
