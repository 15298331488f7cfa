// Package aggregate rolls the customer master table up to one feature
// row per customer.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// DaysPerYear converts tenure days to years.
const DaysPerYear = 365.25

// Aggregator builds CustomerAggregates. Now supplies the reference date
// for tenure and defaults to time.Now.
type Aggregator struct {
	Now func() time.Time
}

// NewAggregator creates an aggregator using the wall clock.
func NewAggregator() *Aggregator {
	return &Aggregator{Now: time.Now}
}

type accumulator struct {
	agg    domain.CustomerAggregate
	claims map[string]struct{}
}

// Aggregate returns one CustomerAggregate per distinct customer_id in
// master, ordered by customer_id. Premiums are summed from policies
// whose status is exactly "ACTIVE"; customers without one get zero.
func (a *Aggregator) Aggregate(master []domain.MasterRow, policies []domain.Policy) []domain.CustomerAggregate {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	ref := now()

	byCustomer := make(map[string]*accumulator)
	for _, row := range master {
		acc, ok := byCustomer[row.CustomerID]
		if !ok {
			acc = &accumulator{
				agg: domain.CustomerAggregate{
					CustomerID:       row.CustomerID,
					TotalClaimAmount: decimal.Zero,
					AnnualPremiumSum: decimal.Zero,
				},
				claims: make(map[string]struct{}),
			}
			byCustomer[row.CustomerID] = acc
		}

		if !row.StartDate.IsZero() && (acc.agg.FirstPolicyStart.IsZero() || row.StartDate.Before(acc.agg.FirstPolicyStart)) {
			acc.agg.FirstPolicyStart = row.StartDate
		}
		if row.ClaimID == "" {
			continue
		}
		acc.claims[row.ClaimID] = struct{}{}
		acc.agg.TotalClaimAmount = acc.agg.TotalClaimAmount.Add(row.ClaimAmount)
		if row.IsFraudulent {
			acc.agg.FraudClaims++
		}
	}

	premiums := ActivePremiums(policies)

	ids := make([]string, 0, len(byCustomer))
	for id := range byCustomer {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]domain.CustomerAggregate, 0, len(ids))
	for _, id := range ids {
		acc := byCustomer[id]
		acc.agg.TotalClaims = len(acc.claims)
		if p, ok := premiums[id]; ok {
			acc.agg.AnnualPremiumSum = p
		}
		acc.agg.PolicyTenureYears = TenureYears(acc.agg.FirstPolicyStart, ref)
		out = append(out, acc.agg)
	}
	return out
}

// ActivePremiums sums annual premiums of ACTIVE policies per customer.
// The status match is case-sensitive.
func ActivePremiums(policies []domain.Policy) map[string]decimal.Decimal {
	sums := make(map[string]decimal.Decimal)
	for _, p := range policies {
		if p.Status != domain.PolicyStatusActive {
			continue
		}
		sums[p.CustomerID] = sums[p.CustomerID].Add(p.AnnualPremium)
	}
	return sums
}

// TenureYears is the number of whole days from first to ref, divided by
// 365.25. A zero first date yields 0.
func TenureYears(first, ref time.Time) float64 {
	if first.IsZero() {
		return 0
	}
	days := math.Floor(ref.Sub(first).Hours() / 24)
	return days / DaysPerYear
}
