package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimRecord is one row of the claim analytic table (claim ⋈ policy ⋈ customer).
// Policy fields are zero when the claim references an unknown policy.
type ClaimRecord struct {
	ClaimID        string          `json:"claimId"`
	PolicyID       string          `json:"policyId"`
	CustomerID     string          `json:"customerId"`
	ClaimAmount    decimal.Decimal `json:"claimAmount"`
	ClaimDate      time.Time       `json:"claimDate"`
	PolicyType     string          `json:"policyType"`
	CoverageAmount decimal.Decimal `json:"coverageAmount"`
	StartDate      time.Time       `json:"startDate"`
}

// FlaggedClaim is a ClaimRecord with its policy-type outlier flag.
type FlaggedClaim struct {
	ClaimRecord
	IsOutlier bool `json:"isOutlier"`
}

// ClaimScore is the full scoring breakdown of a single claim.
type ClaimScore struct {
	FlaggedClaim

	CoverageRatio  float64 `json:"coverageRatio"`
	DaysSinceStart int     `json:"daysSinceStart"`
	// HasTiming is false when either date is missing; such claims never
	// receive the early-claim points.
	HasTiming bool `json:"hasTiming"`

	ScoreCoverage float64  `json:"scoreCoverage"` // [0, 50]
	ScoreTiming   float64  `json:"scoreTiming"`   // 0 or 30
	ScoreHistory  float64  `json:"scoreHistory"`  // [0, 20]
	Reasons       []string `json:"anomalyReasons"`
	Bonus         float64  `json:"bonus"`
	RiskScore     float64  `json:"riskScore"`
}

// ReasonNormal is the single reason reported for a claim that triggered no rule.
const ReasonNormal = "Normal"

// Default anomaly reason tags, in evaluation order.
const (
	ReasonMultipleClaims = "Multiple claims history"
	ReasonHighCoverage   = "High claim-to-coverage ratio"
	ReasonEarlyClaim     = "Early claim after policy start"
	ReasonOutlier        = "Statistical outlier in claim amount"
)

// ReasonCount is the number of entries in the reason list.
// A "Normal" claim counts as one, which is how the report orders rows.
func (s *ClaimScore) ReasonCount() int {
	return len(s.Reasons)
}

// ClaimReportRow is the per-claim output row.
type ClaimReportRow struct {
	ClaimID        string   `json:"claimId"`
	RiskScore      float64  `json:"riskScore"`
	IsOutlier      bool     `json:"isOutlier"`
	AnomalyReasons []string `json:"anomalyReasons"`
}

// ToReportRow projects a score onto the report columns.
func (s *ClaimScore) ToReportRow() ClaimReportRow {
	reasons := make([]string, len(s.Reasons))
	copy(reasons, s.Reasons)
	return ClaimReportRow{
		ClaimID:        s.ClaimID,
		RiskScore:      s.RiskScore,
		IsOutlier:      s.IsOutlier,
		AnomalyReasons: reasons,
	}
}
