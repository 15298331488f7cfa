package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a row of the customers extract.
type Customer struct {
	ID string `json:"customerId"`
}

// Policy is a row of the policies extract.
type Policy struct {
	ID             string          `json:"policyId"`
	CustomerID     string          `json:"customerId"`
	Type           string          `json:"policyType"`
	Status         string          `json:"status"`
	CoverageAmount decimal.Decimal `json:"coverageAmount"`
	AnnualPremium  decimal.Decimal `json:"annualPremium"`
	StartDate      time.Time       `json:"startDate"`
}

// Claim is a row of the claims extract.
// CustomerID may be empty when the extract carries it only on the policy.
type Claim struct {
	ID         string          `json:"claimId"`
	PolicyID   string          `json:"policyId"`
	CustomerID string          `json:"customerId,omitempty"`
	Amount     decimal.Decimal `json:"claimAmount"`
	Date       time.Time       `json:"claimDate"`
}

// FraudFlag is a row of the fraud detection extract.
type FraudFlag struct {
	ClaimID      string `json:"claimId"`
	IsFraudulent bool   `json:"isFraudulent"`
}

// Dataset is one complete snapshot of the four source extracts.
// It is read-only once loaded; every stage derives new tables from it.
type Dataset struct {
	Customers []Customer
	Policies  []Policy
	Claims    []Claim
	Fraud     []FraudFlag
}

// PolicyStatusActive is the only status whose premium counts towards
// a customer's annual premium. Matching is exact and case-sensitive.
const PolicyStatusActive = "ACTIVE"
