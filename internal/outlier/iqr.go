// Package outlier flags statistically extreme claim amounts.
package outlier

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/numeric"
)

// DefaultMultiplier is the Tukey fence multiplier applied to the IQR.
const DefaultMultiplier = 1.5

// Fences are the inclusive bounds of a policy-type group.
type Fences struct {
	Q1    float64 `json:"q1"`
	Q3    float64 `json:"q3"`
	IQR   float64 `json:"iqr"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Contains reports whether v lies within the fences, bounds included.
func (f Fences) Contains(v float64) bool {
	return v >= f.Lower && v <= f.Upper
}

// Detector applies IQR fences within each policy type.
type Detector struct {
	Multiplier float64
}

// NewDetector creates a detector with the standard 1.5 multiplier.
func NewDetector() *Detector {
	return &Detector{Multiplier: DefaultMultiplier}
}

// GroupFences computes the fences of every policy type present in records.
func (d *Detector) GroupFences(records []domain.ClaimRecord) map[string]Fences {
	groups := make(map[string][]float64)
	for _, r := range records {
		groups[r.PolicyType] = append(groups[r.PolicyType], r.ClaimAmount.InexactFloat64())
	}

	fences := make(map[string]Fences, len(groups))
	for policyType, amounts := range groups {
		q1, q3 := numeric.Quartiles(amounts)
		iqr := q3 - q1
		fences[policyType] = Fences{
			Q1:    q1,
			Q3:    q3,
			IQR:   iqr,
			Lower: q1 - d.Multiplier*iqr,
			Upper: q3 + d.Multiplier*iqr,
			Count: len(amounts),
		}
	}
	return fences
}

// Detect returns a new table with one FlaggedClaim per input record, in
// input order. A claim is an outlier iff its amount lies strictly
// outside the fences of its own policy type.
func (d *Detector) Detect(records []domain.ClaimRecord) []domain.FlaggedClaim {
	fences := d.GroupFences(records)

	flagged := make([]domain.FlaggedClaim, len(records))
	for i, r := range records {
		f := fences[r.PolicyType]
		flagged[i] = domain.FlaggedClaim{
			ClaimRecord: r,
			IsOutlier:   !f.Contains(r.ClaimAmount.InexactFloat64()),
		}
	}
	return flagged
}
