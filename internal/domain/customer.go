package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MasterRow is one row of the customer master table
// (customer ⋈ policy ⋈ claim ⋈ fraud, left-anchored at customers).
// PolicyID is empty for customers without policies and ClaimID is
// empty for policies without claims.
type MasterRow struct {
	CustomerID   string          `json:"customerId"`
	PolicyID     string          `json:"policyId,omitempty"`
	StartDate    time.Time       `json:"startDate"`
	ClaimID      string          `json:"claimId,omitempty"`
	ClaimAmount  decimal.Decimal `json:"claimAmount"`
	IsFraudulent bool            `json:"isFraudulent"`
}

// CustomerAggregate rolls the master table up to one row per customer.
type CustomerAggregate struct {
	CustomerID        string          `json:"customerId"`
	FirstPolicyStart  time.Time       `json:"firstPolicyStart"` // zero when the customer has no dated policy
	TotalClaims       int             `json:"totalClaims"`
	TotalClaimAmount  decimal.Decimal `json:"totalClaimAmount"`
	FraudClaims       int             `json:"fraudClaims"`
	AnnualPremiumSum  decimal.Decimal `json:"annualPremiumSum"`
	PolicyTenureYears float64         `json:"policyTenureYears"`
}

// CustomerScore holds the derived customer features, their scaled
// values and the resulting composite score and segment.
type CustomerScore struct {
	CustomerAggregate

	LifetimeValue         float64 `json:"lifetimeValue"`
	LossRatio             float64 `json:"lossRatio"`
	ClaimFrequencyPerYear float64 `json:"claimFrequencyPerYear"`

	ScaledLossRatio      float64 `json:"scaledLossRatio"`
	ScaledFraudClaims    float64 `json:"scaledFraudClaims"`
	ScaledClaimFrequency float64 `json:"scaledClaimFrequency"`

	RiskScore float64 `json:"riskScore"` // [0, 100]
	Segment   Segment `json:"segment"`
}

// Segment is a business segment derived from lifetime value and risk.
type Segment string

const (
	SegmentPremiumPartner Segment = "Premium Partner"
	SegmentGrowthProspect Segment = "Growth Prospect"
	SegmentRiskManagement Segment = "Risk Management"
	SegmentWatchList      Segment = "Watch List"
)

// AllSegments lists segments in decision-list order.
func AllSegments() []Segment {
	return []Segment{
		SegmentPremiumPartner,
		SegmentGrowthProspect,
		SegmentRiskManagement,
		SegmentWatchList,
	}
}

// CustomerReportRow is the per-customer output row.
type CustomerReportRow struct {
	CustomerID    string  `json:"customerId"`
	LifetimeValue float64 `json:"lifetimeValue"`
	LossRatio     float64 `json:"lossRatio"`
	RiskScore     float64 `json:"riskScore"`
	Segment       Segment `json:"segment"`
}

// ToReportRow projects a score onto the report columns.
func (s *CustomerScore) ToReportRow() CustomerReportRow {
	return CustomerReportRow{
		CustomerID:    s.CustomerID,
		LifetimeValue: s.LifetimeValue,
		LossRatio:     s.LossRatio,
		RiskScore:     s.RiskScore,
		Segment:       s.Segment,
	}
}
