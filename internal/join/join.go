// Package join builds the flat analytic tables the scorers consume.
// All joins are left joins, so no anchor row is ever dropped.
package join

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Claims returns one ClaimRecord per claim, in input order
// (claims ⋈ policies on policy_id, customer taken from the claim or,
// when the claim has none, from its policy). Policy fields stay zero
// for claims whose policy is unknown.
func Claims(ds *domain.Dataset) []domain.ClaimRecord {
	policies := indexPolicies(ds.Policies)

	records := make([]domain.ClaimRecord, 0, len(ds.Claims))
	for _, c := range ds.Claims {
		rec := domain.ClaimRecord{
			ClaimID:     c.ID,
			PolicyID:    c.PolicyID,
			CustomerID:  c.CustomerID,
			ClaimAmount: c.Amount,
			ClaimDate:   c.Date,
		}
		if p, ok := policies[c.PolicyID]; ok {
			rec.PolicyType = p.Type
			rec.CoverageAmount = p.CoverageAmount
			rec.StartDate = p.StartDate
			if rec.CustomerID == "" {
				rec.CustomerID = p.CustomerID
			}
		}
		records = append(records, rec)
	}
	return records
}

// CustomerMaster returns the customer master table:
// customers ⋈ policies ⋈ claims ⋈ fraud, anchored at customers.
//
// Customers without policies produce a single row with no policy.
// Policies without claims produce a single row with no claim.
// Duplicate fraud flags for one claim collapse to a logical OR and a
// customer listed twice contributes its rows once.
func CustomerMaster(ds *domain.Dataset) []domain.MasterRow {
	fraud := make(map[string]bool, len(ds.Fraud))
	for _, f := range ds.Fraud {
		fraud[f.ClaimID] = fraud[f.ClaimID] || f.IsFraudulent
	}

	claimsByPolicy := make(map[string][]domain.Claim)
	for _, c := range ds.Claims {
		claimsByPolicy[c.PolicyID] = append(claimsByPolicy[c.PolicyID], c)
	}

	policiesByCustomer := make(map[string][]domain.Policy)
	for _, p := range ds.Policies {
		policiesByCustomer[p.CustomerID] = append(policiesByCustomer[p.CustomerID], p)
	}

	var rows []domain.MasterRow
	seen := make(map[string]bool, len(ds.Customers))
	for _, cust := range ds.Customers {
		if seen[cust.ID] {
			continue
		}
		seen[cust.ID] = true
		policies := policiesByCustomer[cust.ID]
		if len(policies) == 0 {
			rows = append(rows, domain.MasterRow{CustomerID: cust.ID})
			continue
		}
		for _, p := range policies {
			claims := claimsByPolicy[p.ID]
			if len(claims) == 0 {
				rows = append(rows, domain.MasterRow{
					CustomerID: cust.ID,
					PolicyID:   p.ID,
					StartDate:  p.StartDate,
				})
				continue
			}
			for _, c := range claims {
				rows = append(rows, domain.MasterRow{
					CustomerID:   cust.ID,
					PolicyID:     p.ID,
					StartDate:    p.StartDate,
					ClaimID:      c.ID,
					ClaimAmount:  c.Amount,
					IsFraudulent: fraud[c.ID],
				})
			}
		}
	}
	return rows
}

// indexPolicies keys policies by ID; the first occurrence wins.
func indexPolicies(policies []domain.Policy) map[string]domain.Policy {
	idx := make(map[string]domain.Policy, len(policies))
	for _, p := range policies {
		if _, ok := idx[p.ID]; !ok {
			idx[p.ID] = p
		}
	}
	return idx
}
