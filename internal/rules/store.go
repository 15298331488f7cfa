package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GlobalTenantID owns the rule table shared by every tenant.
const GlobalTenantID = "*"

// SyncFromRepository replaces the engine's table with the stored global
// rules, or with fallback when the store holds no enabled rule.
// It returns the number of rules loaded.
func SyncFromRepository(ctx context.Context, repo domain.Repository, engine *Engine, fallback []*domain.RuleConfig) (int, error) {
	stored, err := repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if len(stored) == 0 {
		slog.Info("no stored rules, using fallback table", "count", len(fallback))
		stored = fallback
	}
	if err := engine.ReloadRules(stored); err != nil {
		return 0, err
	}
	return engine.RulesCount(), nil
}

// SeedRepository stores the given rules as the global table when the
// store holds none. It reports whether anything was written.
func SeedRepository(ctx context.Context, repo domain.Repository, configs []*domain.RuleConfig) (bool, error) {
	stored, err := repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		return false, fmt.Errorf("failed to list rules: %w", err)
	}
	if len(stored) > 0 {
		return false, nil
	}
	for _, cfg := range configs {
		if err := repo.SaveRuleConfig(ctx, GlobalTenantID, cfg); err != nil {
			return false, fmt.Errorf("failed to seed rule %s: %w", cfg.ID, err)
		}
	}
	slog.Info("rule store seeded", "count", len(configs))
	return true, nil
}
