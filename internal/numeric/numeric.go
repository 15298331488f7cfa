// Package numeric holds the small numeric helpers shared by the scorers.
package numeric

import (
	"math"
	"sort"
)

// SafeDiv returns num/den, or 0 when den is zero or the quotient is not
// finite. Customer-level ratios use this policy; claim-level coverage
// does not.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	q := num / den
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return 0
	}
	return q
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Quantile returns the q-th quantile of values using linear
// interpolation between closest ranks: position q*(n-1) in the sorted
// sample. values is not modified. Quantile of an empty sample is NaN.
func Quantile(values []float64, q float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

// Quartiles returns Q1 and Q3 of values.
func Quartiles(values []float64) (q1, q3 float64) {
	return Quantile(values, 0.25), Quantile(values, 0.75)
}

func quantileSorted(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
