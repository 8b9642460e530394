package moderation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/escalation"
	"github.com/opensource-community/heron/internal/velocity"
)

// activeWindow is how recently a user must have been seen to count as active.
const activeWindow = 24 * time.Hour

// RecordStats stores a server statistics snapshot pushed by the analysis
// pipeline.
func (s *Service) RecordStats(ctx context.Context, stats domain.ServerStats) (*domain.DashboardStats, error) {
	for _, v := range []int{stats.TotalMessages, stats.PositiveMessages, stats.ToxicMessages, stats.ActiveUsers} {
		if v < 0 {
			return nil, fmt.Errorf("%w: statistics must be non-negative", domain.ErrInvalidInput)
		}
	}
	stats.UpdatedAt = s.now().UTC()

	if err := s.repo.SaveServerStats(ctx, &stats); err != nil {
		return nil, fmt.Errorf("failed to save server stats: %w", err)
	}

	dashboard, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, domain.EventStatsUpdated, dashboard)
	return dashboard, nil
}

// Stats aggregates the dashboard statistics over all users.
func (s *Service) Stats(ctx context.Context) (*domain.DashboardStats, error) {
	users, err := s.repo.ListUsers(ctx, domain.UserFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	stats := &domain.DashboardStats{
		Users: len(users),
		ByLevel: map[domain.RiskLevel]int{
			domain.RiskLow:    0,
			domain.RiskMedium: 0,
			domain.RiskHigh:   0,
		},
	}

	cutoff := s.now().Add(-activeWindow)
	var riskSum int
	for _, u := range users {
		stats.TotalMessages += u.TotalMessages
		stats.ToxicMessages += u.ToxicMessages
		stats.PositiveMessages += u.PositiveMessages
		stats.Infractions += len(u.Infractions)
		stats.ByLevel[u.RiskLevel]++
		riskSum += u.RiskScore
		if u.LastSeen.Valid() && u.LastSeen.Time.After(cutoff) {
			stats.ActiveUsers++
		}
	}
	if len(users) > 0 {
		stats.AverageRisk = math.Round(float64(riskSum)/float64(len(users))*10) / 10
	}

	server, err := s.repo.GetServerStats(ctx)
	switch {
	case err == nil:
		stats.Server = server
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to load server stats: %w", err)
	}
	return stats, nil
}

// UserStats returns the violation counters and escalation state of a user.
func (s *Service) UserStats(ctx context.Context, userID int64) (*domain.UserStats, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.velocity.Counts(ctx, userID)
	if err != nil {
		return nil, err
	}
	whitelisted, err := s.repo.IsWhitelisted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check whitelist: %w", err)
	}

	return &domain.UserStats{
		UserID:          userID,
		Violations24h:   counts.Last24h,
		Violations7d:    counts.Last7d,
		TotalViolations: counts.Total,
		CurrentLevel:    escalation.CurrentLevel(counts.Last24h),
		ActivityLevel:   velocity.ActivityLevel(counts),
		IsWhitelisted:   whitelisted,
		RiskScore:       user.RiskScore,
		RiskLevel:       user.RiskLevel,
	}, nil
}
