package rules

import "github.com/opensource-community/heron/internal/domain"

func limit(v float64) *float64 { return &v }

// boolBands maps a boolean rule to pass (false) or the given outcome (true).
func boolBands(outcome, reason string) []domain.RuleBand {
	return []domain.RuleBand{
		{UpperLimit: limit(1), SubRuleRef: domain.RuleOutcomePass, Reason: "not triggered"},
		{LowerLimit: limit(1), SubRuleRef: outcome, Reason: reason},
	}
}

// BuiltinRules returns the default flag rules stored on first start when
// the rule table is empty.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "high-risk",
			Name:        "High risk score",
			Description: "Flags users whose risk score reaches the medium and high bands.",
			Version:     "1.0.0",
			Expression:  "double(risk_score)",
			Bands: []domain.RuleBand{
				{UpperLimit: limit(domain.MediumRiskThreshold), SubRuleRef: domain.RuleOutcomePass, Reason: "low risk"},
				{LowerLimit: limit(domain.MediumRiskThreshold), UpperLimit: limit(domain.HighRiskThreshold), SubRuleRef: domain.RuleOutcomeReview, Reason: "medium risk score"},
				{LowerLimit: limit(domain.HighRiskThreshold), SubRuleRef: domain.RuleOutcomeFail, Reason: "high risk score"},
			},
			Enabled: true,
		},
		{
			ID:          "infraction-burst",
			Name:        "Infraction burst",
			Description: "Four or more infractions within 24 hours.",
			Version:     "1.0.0",
			Expression:  "violations_24h >= 4",
			Bands:       boolBands(domain.RuleOutcomeFail, "infraction burst in the last 24h"),
			Enabled:     true,
		},
		{
			ID:          "repeat-severe",
			Name:        "Repeated severe infraction",
			Description: "A severe infraction from a user who already has severe history.",
			Version:     "1.0.0",
			Expression:  `infraction_severity == "severe" && severe_infractions >= 2`,
			Bands:       boolBands(domain.RuleOutcomeFail, "repeated severe infractions"),
			Enabled:     true,
		},
		{
			ID:          "toxic-ratio",
			Name:        "Toxic message ratio",
			Description: "Share of toxic messages among all messages.",
			Version:     "1.0.0",
			Expression:  "toxicity_rate / 100.0",
			Bands: []domain.RuleBand{
				{UpperLimit: limit(0.3), SubRuleRef: domain.RuleOutcomePass, Reason: "toxicity within norms"},
				{LowerLimit: limit(0.3), UpperLimit: limit(0.5), SubRuleRef: domain.RuleOutcomeReview, Reason: "elevated toxicity rate"},
				{LowerLimit: limit(0.5), SubRuleRef: domain.RuleOutcomeFail, Reason: "majority of messages are toxic"},
			},
			Enabled: true,
		},
	}
}

// NewAlert builds an alert from the flagged results. It returns nil when no
// rule flagged the user.
func NewAlert(user *domain.User, results []domain.RuleResult) *domain.Alert {
	var flagged []domain.RuleResult
	var reasons []string
	for _, r := range results {
		if r.Flagged() {
			flagged = append(flagged, r)
			reasons = append(reasons, r.RuleID+": "+r.Reason)
		}
	}
	if len(flagged) == 0 || user == nil {
		return nil
	}
	return &domain.Alert{
		UserID:    user.ID,
		RiskScore: user.RiskScore,
		RiskLevel: user.RiskLevel,
		Results:   flagged,
		Reasons:   reasons,
	}
}
