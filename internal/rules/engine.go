// Package rules provides the CEL-Go based anomaly reason engine.
// A rule table is an ordered list of (predicate, tag) pairs; evaluating
// it against one scored claim yields the ordered list of tags whose
// predicate holds.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based reason rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules []*CompiledRule // sorted by Order, then ID
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new, empty reason rule engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("score_coverage", cel.DoubleType),
		cel.Variable("score_timing", cel.DoubleType),
		cel.Variable("score_history", cel.DoubleType),
		cel.Variable("coverage_ratio", cel.DoubleType),
		cel.Variable("claim_amount", cel.DoubleType),
		cel.Variable("days_since_start", cel.IntType),
		cel.Variable("has_timing", cel.BoolType),
		cel.Variable("is_outlier", cel.BoolType),
		cel.Variable("policy_type", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// NewDefaultEngine creates an engine loaded with DefaultReasonRules.
func NewDefaultEngine() (*Engine, error) {
	e, err := NewEngine()
	if err != nil {
		return nil, err
	}
	if err := e.LoadRules(DefaultReasonRules()); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles a rule and adds it to the table, replacing any rule
// with the same ID.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	rules := make([]*CompiledRule, 0, len(e.compiledRules)+1)
	for _, r := range e.compiledRules {
		if r.Config.ID != cfg.ID {
			rules = append(rules, r)
		}
	}
	rules = append(rules, compiled)
	sortRules(rules)
	e.compiledRules = rules

	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces the whole table. On a compile error the current
// table is left untouched.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make([]*CompiledRule, 0, len(configs))
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if seen[cfg.ID] {
			return fmt.Errorf("duplicate rule id %s", cfg.ID)
		}
		seen[cfg.ID] = true

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules = append(newRules, compiled)
	}
	sortRules(newRules)

	e.compiledRules = newRules

	return nil
}

// EvaluateInput holds the per-claim variables visible to rule expressions.
type EvaluateInput struct {
	ClaimID        string
	ScoreCoverage  float64
	ScoreTiming    float64
	ScoreHistory   float64
	CoverageRatio  float64
	ClaimAmount    float64
	DaysSinceStart int
	HasTiming      bool
	IsOutlier      bool
	PolicyType     string
}

// InputFromScore builds the rule input for a partially scored claim.
func InputFromScore(s *domain.ClaimScore) *EvaluateInput {
	return &EvaluateInput{
		ClaimID:        s.ClaimID,
		ScoreCoverage:  s.ScoreCoverage,
		ScoreTiming:    s.ScoreTiming,
		ScoreHistory:   s.ScoreHistory,
		CoverageRatio:  s.CoverageRatio,
		ClaimAmount:    s.ClaimAmount.InexactFloat64(),
		DaysSinceStart: s.DaysSinceStart,
		HasTiming:      s.HasTiming,
		IsOutlier:      s.IsOutlier,
		PolicyType:     s.PolicyType,
	}
}

// Evaluate runs the rule table in order and returns the tags of every
// rule whose predicate holds. Nothing matching yields an empty slice.
func (e *Engine) Evaluate(input *EvaluateInput) ([]string, error) {
	e.mu.RLock()
	rules := e.compiledRules
	e.mu.RUnlock()

	activation := map[string]any{
		"score_coverage":   input.ScoreCoverage,
		"score_timing":     input.ScoreTiming,
		"score_history":    input.ScoreHistory,
		"coverage_ratio":   input.CoverageRatio,
		"claim_amount":     input.ClaimAmount,
		"days_since_start": int64(input.DaysSinceStart),
		"has_timing":       input.HasTiming,
		"is_outlier":       input.IsOutlier,
		"policy_type":      input.PolicyType,
	}

	tags := make([]string, 0, len(rules))
	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("rule %s on claim %s: %w", rule.Config.ID, input.ClaimID, err)
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			tags = append(tags, rule.Config.Tag)
		}
	}
	return tags, nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the loaded rule configurations in evaluation order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = nil
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" || cfg.Tag == "" {
		return nil, fmt.Errorf("rule requires id and tag")
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Tag), domain.ReasonNormal) {
		return nil, fmt.Errorf("rule %s: tag %q is reserved for claims that trigger no rule", cfg.ID, domain.ReasonNormal)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

func sortRules(rules []*CompiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Config.Order != rules[j].Config.Order {
			return rules[i].Config.Order < rules[j].Config.Order
		}
		return rules[i].Config.ID < rules[j].Config.ID
	})
}
