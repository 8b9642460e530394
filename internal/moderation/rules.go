package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/rules"
)

// LoadRules loads the enabled stored flag rules into the rule engine. An
// empty rule table is filled with the built-in rules first; a table whose
// rules are all disabled loads nothing.
func (s *Service) LoadRules(ctx context.Context) (int, error) {
	if s.rules == nil {
		return 0, nil
	}

	configs, err := s.repo.ListRuleConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if len(configs) == 0 {
		for _, r := range rules.BuiltinRules() {
			if err := s.repo.SaveRuleConfig(ctx, r); err != nil {
				return 0, fmt.Errorf("failed to store builtin rule %s: %w", r.ID, err)
			}
		}
		configs = rules.BuiltinRules()
		slog.Info("builtin flag rules stored", "count", len(configs))
	}

	if err := s.rules.ReloadRules(configs); err != nil {
		return 0, err
	}
	return s.rules.RulesCount(), nil
}

// SaveRule validates and stores a flag rule, then reloads the engine.
func (s *Service) SaveRule(ctx context.Context, cfg *domain.RuleConfig) (int, error) {
	if s.rules == nil {
		return 0, fmt.Errorf("rule engine is not configured")
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if err := s.rules.ValidateRule(cfg); err != nil {
		return 0, err
	}
	if err := s.repo.SaveRuleConfig(ctx, cfg); err != nil {
		return 0, fmt.Errorf("failed to save rule: %w", err)
	}
	return s.LoadRules(ctx)
}

// ListRules returns the rules currently loaded in the engine.
func (s *Service) ListRules() []*domain.RuleConfig {
	if s.rules == nil {
		return []*domain.RuleConfig{}
	}
	return s.rules.GetLoadedRules()
}
