// Package claimscore computes the per-claim composite risk score.
package claimscore

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/numeric"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Score components.
const (
	MaxCoverageScore = 50.0
	EarlyClaimScore  = 30.0
	EarlyClaimDays   = 30
	HistoryStep      = 5.0
	MaxHistoryScore  = 20.0
	BonusPerReason   = 5.0
)

const stage = "claim scoring"

// Scorer scores outlier-flagged claims. It is safe for concurrent use
// as long as the rule engine is.
type Scorer struct {
	engine *rules.Engine
}

// NewScorer creates a scorer that derives anomaly reasons from engine.
func NewScorer(engine *rules.Engine) *Scorer {
	return &Scorer{engine: engine}
}

// Score returns one ClaimScore per input claim, in input order.
// A claim whose coverage amount is zero fails the whole batch with a
// DataError.
func (s *Scorer) Score(claims []domain.FlaggedClaim) ([]domain.ClaimScore, error) {
	history := historyCounts(claims)

	scores := make([]domain.ClaimScore, 0, len(claims))
	for _, c := range claims {
		score, err := s.scoreOne(c, history[c.CustomerID])
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}

	slog.Debug("claims scored", "claims", len(scores), "rules", s.engine.RulesCount())
	return scores, nil
}

func (s *Scorer) scoreOne(c domain.FlaggedClaim, customerClaims int) (domain.ClaimScore, error) {
	score := domain.ClaimScore{FlaggedClaim: c}

	if c.CoverageAmount.IsZero() {
		return score, &domain.DataError{
			Stage:    stage,
			RecordID: c.ClaimID,
			Reason:   "coverage_amount is zero",
		}
	}
	score.CoverageRatio = c.ClaimAmount.Div(c.CoverageAmount).InexactFloat64()
	score.ScoreCoverage = math.Min(MaxCoverageScore, score.CoverageRatio*MaxCoverageScore)

	if !c.ClaimDate.IsZero() && !c.StartDate.IsZero() {
		score.HasTiming = true
		score.DaysSinceStart = int(math.Floor(c.ClaimDate.Sub(c.StartDate).Hours() / 24))
		if score.DaysSinceStart < EarlyClaimDays {
			score.ScoreTiming = EarlyClaimScore
		}
	}

	score.ScoreHistory = HistoryScore(customerClaims)

	reasons, err := s.engine.Evaluate(rules.InputFromScore(&score))
	if err != nil {
		return score, fmt.Errorf("failed to evaluate reasons: %w", err)
	}
	if len(reasons) == 0 {
		score.Reasons = []string{domain.ReasonNormal}
	} else {
		score.Reasons = reasons
		score.Bonus = BonusPerReason * float64(len(reasons))
	}

	score.RiskScore = score.ScoreCoverage + score.ScoreTiming + score.ScoreHistory + score.Bonus
	return score, nil
}

// HistoryScore maps a customer's claim count to its history points.
func HistoryScore(claimCount int) float64 {
	return numeric.Clamp(float64(claimCount-1)*HistoryStep, 0, MaxHistoryScore)
}

// historyCounts counts claims per customer across the whole batch.
func historyCounts(claims []domain.FlaggedClaim) map[string]int {
	counts := make(map[string]int)
	for _, c := range claims {
		counts[c.CustomerID]++
	}
	return counts
}
