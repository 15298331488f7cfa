// Package segment classifies customers into business segments.
package segment

import "github.com/opensource-finance/kestrel/internal/domain"

// Risk score thresholds of the decision list.
const (
	LowRiskMax    = 40.0
	MediumRiskMax = 60.0
)

// Classify maps lifetime value and risk score to a segment. The first
// matching branch wins:
//
//	ltv >= 0 && risk <= 40       Premium Partner
//	ltv >= 0 && 40 < risk <= 60  Growth Prospect
//	ltv < 0  && risk > 60        Risk Management
//	otherwise                    Watch List
func Classify(lifetimeValue, riskScore float64) domain.Segment {
	switch {
	case lifetimeValue >= 0 && riskScore <= LowRiskMax:
		return domain.SegmentPremiumPartner
	case lifetimeValue >= 0 && riskScore > LowRiskMax && riskScore <= MediumRiskMax:
		return domain.SegmentGrowthProspect
	case lifetimeValue < 0 && riskScore > MediumRiskMax:
		return domain.SegmentRiskManagement
	default:
		return domain.SegmentWatchList
	}
}

// Assign sets the segment of every score in place and returns the
// per-segment counts.
func Assign(scores []domain.CustomerScore) map[domain.Segment]int {
	counts := make(map[domain.Segment]int, len(domain.AllSegments()))
	for i := range scores {
		seg := Classify(scores[i].LifetimeValue, scores[i].RiskScore)
		scores[i].Segment = seg
		counts[seg]++
	}
	return counts
}
