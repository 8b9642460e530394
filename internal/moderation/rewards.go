package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/metrics"
	"github.com/opensource-community/heron/internal/rewards"
)

// Reward limits.
const (
	MaxRewardPoints     = 1000
	DefaultLeaderboard  = 10
	MaxLeaderboard      = 100
	recentTransactions  = 10
	positiveMessageNote = "positive message: "
)

// RewardResult is the outcome of a points award.
type RewardResult struct {
	Transaction *domain.RewardTransaction `json:"transaction"`
	TotalPoints int                       `json:"totalPoints"`
	Milestones  []rewards.Milestone       `json:"milestones"`
}

// PositiveMessageResult is the outcome of scoring a message.
type PositiveMessageResult struct {
	Analysis rewards.Analysis `json:"analysis"`
	Feedback string           `json:"feedback,omitempty"`
	Reward   *RewardResult    `json:"reward,omitempty"`
}

// Profile is the reputation profile of a user.
type Profile struct {
	UserID             int64                       `json:"userId"`
	Username           string                      `json:"username"`
	TotalPoints        int                         `json:"totalPoints"`
	PositiveMessages   int                         `json:"positiveMessages"`
	MemberSince        domain.Timestamp            `json:"memberSince"`
	Milestones         []rewards.Achievement       `json:"milestones"`
	RecentTransactions []*domain.RewardTransaction `json:"recentTransactions"`
}

// LeaderboardEntry is one row of the reputation leaderboard.
type LeaderboardEntry struct {
	Position         int    `json:"position"`
	UserID           int64  `json:"userId"`
	Username         string `json:"username"`
	TotalPoints      int    `json:"totalPoints"`
	PositiveMessages int    `json:"positiveMessages"`
	Milestones       int    `json:"milestones"`
}

// AwardPoints grants reputation points to a user and reports the
// milestones the grant crossed.
func (s *Service) AwardPoints(ctx context.Context, userID int64, points int, reason string) (*RewardResult, error) {
	if points < 1 || points > MaxRewardPoints {
		return nil, fmt.Errorf("%w: points must be between 1 and %d", domain.ErrInvalidInput, MaxRewardPoints)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.award(ctx, userID, points, reason)
}

// RecordPositiveMessage scores a message and, when it is constructive,
// counts it on the user and awards the points it earned.
func (s *Service) RecordPositiveMessage(ctx context.Context, userID int64, content string) (*PositiveMessageResult, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	analysis := rewards.Analyze(content)
	result := &PositiveMessageResult{Analysis: analysis}
	if !analysis.Positive {
		return result, nil
	}

	user.TotalMessages++
	user.PositiveMessages++
	s.engine.Recompute(user)
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user %d: %w", userID, err)
	}
	metrics.RecordScore(user.RiskScore)
	s.cacheUser(ctx, user)
	s.notify(ctx, domain.EventUserUpdated, user)

	reward, err := s.award(ctx, userID, analysis.Points, positiveMessageNote+analysis.Feedback)
	if err != nil {
		return nil, err
	}
	result.Reward = reward
	result.Feedback = rewards.FeedbackMessage(analysis, userID)
	return result, nil
}

func (s *Service) award(ctx context.Context, userID int64, points int, reason string) (*RewardResult, error) {
	before, err := s.totalPoints(ctx, userID)
	if err != nil {
		return nil, err
	}

	tx := &domain.RewardTransaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Points:    points,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.SaveRewardTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save reward: %w", err)
	}

	result := &RewardResult{
		Transaction: tx,
		TotalPoints: before + points,
		Milestones:  rewards.Reached(before, before+points),
	}

	thresholds := make([]int, 0, len(result.Milestones))
	for _, m := range result.Milestones {
		thresholds = append(thresholds, m.Points)
		s.notify(ctx, domain.EventMilestoneReached, map[string]any{
			"userId":      userID,
			"milestone":   m,
			"totalPoints": result.TotalPoints,
		})
		slog.Info("milestone reached",
			"user_id", userID,
			"milestone", m.Points,
			"role", m.Role,
		)
	}
	metrics.RecordReward(points, thresholds...)

	slog.Info("reputation points awarded",
		"user_id", userID,
		"points", points,
		"total_points", result.TotalPoints,
	)
	return result, nil
}

func (s *Service) totalPoints(ctx context.Context, userID int64) (int, error) {
	txs, err := s.repo.ListRewardTransactions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rewards: %w", err)
	}
	total := 0
	for _, tx := range txs {
		total += tx.Points
	}
	return total, nil
}

// Profile returns the reputation profile of a user.
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListRewardTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}

	p := &Profile{
		UserID:           userID,
		Username:         user.Username,
		PositiveMessages: user.PositiveMessages,
		MemberSince:      user.JoinDate,
		Milestones:       rewards.Achievements(txs),
	}
	for _, tx := range txs {
		p.TotalPoints += tx.Points
	}
	if len(txs) > recentTransactions {
		txs = txs[:recentTransactions]
	}
	p.RecentTransactions = txs
	return p, nil
}

// Leaderboard ranks users by reputation points. Zero limit selects the
// default size.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit == 0 {
		limit = DefaultLeaderboard
	}
	if limit < 1 || limit > MaxLeaderboard {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidInput, MaxLeaderboard)
	}

	totals, err := s.repo.ListRewardTotals(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reward totals: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(totals))
	for i, t := range totals {
		entry := LeaderboardEntry{
			Position:    i + 1,
			UserID:      t.UserID,
			TotalPoints: t.Points,
			Milestones:  rewards.MilestoneCount(t.Points),
		}
		if user, err := s.repo.GetUser(ctx, t.UserID); err == nil {
			entry.Username = user.Username
			entry.PositiveMessages = user.PositiveMessages
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
