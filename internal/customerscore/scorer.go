// Package customerscore computes population-relative customer risk scores.
package customerscore

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/numeric"
)

// Feature names, in scaler column order.
const (
	FeatureLossRatio      = "loss_ratio"
	FeatureFraudClaims    = "fraud_claims"
	FeatureClaimFrequency = "claim_frequency_per_year"
)

const weightTolerance = 1e-9

// FeatureWeight is the contribution of one scaled feature to the composite.
type FeatureWeight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// DefaultWeights sum to 100, so the composite lies in [0, 100].
func DefaultWeights() []FeatureWeight {
	return []FeatureWeight{
		{Feature: FeatureLossRatio, Weight: 50},
		{Feature: FeatureFraudClaims, Weight: 30},
		{Feature: FeatureClaimFrequency, Weight: 20},
	}
}

// Scorer derives customer features, min-max scales them across the
// population and combines them into a weighted risk score.
type Scorer struct {
	weights []FeatureWeight
}

// NewScorer creates a scorer with the default weights.
func NewScorer() *Scorer {
	return &Scorer{weights: DefaultWeights()}
}

// NewScorerWithWeights creates a scorer from feature name to weight.
// An empty map selects DefaultWeights. Every feature must be known, no
// weight may be negative and the weights must sum to 100 so the
// composite stays in [0, 100].
func NewScorerWithWeights(weights map[string]float64) (*Scorer, error) {
	if len(weights) == 0 {
		return NewScorer(), nil
	}

	var sum float64
	for feature, weight := range weights {
		if columnOf(feature) < 0 {
			return nil, fmt.Errorf("unknown feature %q", feature)
		}
		if weight < 0 || math.IsNaN(weight) {
			return nil, fmt.Errorf("weight for %s must be non-negative, got %v", feature, weight)
		}
		sum += weight
	}
	if math.Abs(sum-100) > weightTolerance {
		return nil, fmt.Errorf("customer weights must sum to 100, got %v", sum)
	}

	ordered := make([]FeatureWeight, 0, len(weights))
	for _, feature := range []string{FeatureLossRatio, FeatureFraudClaims, FeatureClaimFrequency} {
		if weight, ok := weights[feature]; ok {
			ordered = append(ordered, FeatureWeight{Feature: feature, Weight: weight})
		}
	}
	return &Scorer{weights: ordered}, nil
}

// Score returns one CustomerScore per aggregate, in input order.
// Segment is left empty.
//
// Scaling is fitted on the full population before any row is
// transformed; an empty population yields an empty result.
func (s *Scorer) Score(aggs []domain.CustomerAggregate) ([]domain.CustomerScore, error) {
	scores := make([]domain.CustomerScore, len(aggs))
	features := make([][]float64, len(aggs))
	for i, a := range aggs {
		scores[i] = Features(a)
		features[i] = []float64{
			scores[i].LossRatio,
			float64(scores[i].FraudClaims),
			scores[i].ClaimFrequencyPerYear,
		}
	}

	scaler := numeric.NewMinMaxScaler()
	scaled, err := scaler.FitTransform(features)
	if err != nil {
		return nil, fmt.Errorf("failed to scale customer features: %w", err)
	}

	for i := range scores {
		row := scaled[i]
		scores[i].ScaledLossRatio = row[0]
		scores[i].ScaledFraudClaims = row[1]
		scores[i].ScaledClaimFrequency = row[2]
		scores[i].RiskScore = s.composite(row)
	}

	slog.Debug("customers scored", "customers", len(scores))
	return scores, nil
}

func (s *Scorer) composite(scaled []float64) float64 {
	var total float64
	for _, w := range s.weights {
		total += scaled[columnOf(w.Feature)] * w.Weight
	}
	return total
}

// Features computes the unscaled customer features. Loss ratio and
// claim frequency resolve to 0 when their denominator is zero.
func Features(a domain.CustomerAggregate) domain.CustomerScore {
	premium := a.AnnualPremiumSum.InexactFloat64()
	claimed := a.TotalClaimAmount.InexactFloat64()

	return domain.CustomerScore{
		CustomerAggregate:     a,
		LifetimeValue:         a.AnnualPremiumSum.Sub(a.TotalClaimAmount).InexactFloat64(),
		LossRatio:             numeric.SafeDiv(claimed, premium),
		ClaimFrequencyPerYear: numeric.SafeDiv(float64(a.TotalClaims), a.PolicyTenureYears),
	}
}

func columnOf(feature string) int {
	switch feature {
	case FeatureLossRatio:
		return 0
	case FeatureFraudClaims:
		return 1
	case FeatureClaimFrequency:
		return 2
	default:
		return -1
	}
}
