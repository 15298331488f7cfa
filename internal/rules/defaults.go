package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Default rule IDs.
const (
	RuleMultipleClaims    = "multiple-claims"
	RuleHighCoverageRatio = "high-coverage-ratio"
	RuleEarlyClaim        = "early-claim"
	RuleAmountOutlier     = "amount-outlier"
)

// DefaultReasonRules returns the standard four-rule reason table. The
// order of the tags in a claim's reason list follows Order.
func DefaultReasonRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          RuleMultipleClaims,
			Tag:         domain.ReasonMultipleClaims,
			Description: "Customer has more than one claim in the extract",
			Version:     "1.0.0",
			Expression:  "score_history > 0.0",
			Order:       10,
			Enabled:     true,
		},
		{
			ID:          RuleHighCoverageRatio,
			Tag:         domain.ReasonHighCoverage,
			Description: "Claim consumes more than 80% of the policy coverage",
			Version:     "1.0.0",
			Expression:  "score_coverage > 40.0",
			Order:       20,
			Enabled:     true,
		},
		{
			ID:          RuleEarlyClaim,
			Tag:         domain.ReasonEarlyClaim,
			Description: "Claim filed within 30 days of the policy start",
			Version:     "1.0.0",
			Expression:  "score_timing > 0.0",
			Order:       30,
			Enabled:     true,
		},
		{
			ID:          RuleAmountOutlier,
			Tag:         domain.ReasonOutlier,
			Description: "Claim amount outside the IQR fences of its policy type",
			Version:     "1.0.0",
			Expression:  "is_outlier",
			Order:       40,
			Enabled:     true,
		},
	}
}
