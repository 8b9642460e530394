package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/escalation"
	"github.com/opensource-community/heron/internal/metrics"
	"github.com/opensource-community/heron/internal/velocity"
)

// MaxTimeoutHours is the longest timeout the community platform accepts.
const MaxTimeoutHours = 28 * 24

const defaultWarning = "Please keep the conversation respectful and follow the community rules."

// SendWarning records an operator warning. An empty message uses the
// default wording.
func (s *Service) SendWarning(ctx context.Context, userID int64, message string) (*domain.ModerationAction, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if message == "" {
		message = defaultWarning
	}
	return s.recordAction(ctx, userID, domain.ActionWarning, 0, message, domain.SourceOperator, 0)
}

// SendEducation records an educational message for a category. The
// wording follows the user's current escalation level.
func (s *Service) SendEducation(ctx context.Context, userID int64, category string) (*domain.ModerationAction, *escalation.Message, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, nil, err
	}
	v24h, err := s.velocity.CountSince(ctx, userID, velocity.Window24h)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count recent violations: %w", err)
	}

	level := max(escalation.CurrentLevel(v24h), 1)
	msg := escalation.Educational(category, level)

	action, err := s.recordAction(ctx, userID, domain.ActionEducation, 0, msg.MainMessage, domain.SourceOperator, 0)
	if err != nil {
		return nil, nil, err
	}
	return action, &msg, nil
}

// Timeout records an operator timeout of the given number of hours.
func (s *Service) Timeout(ctx context.Context, userID int64, hours int) (*domain.ModerationAction, error) {
	if hours <= 0 || hours > MaxTimeoutHours {
		return nil, fmt.Errorf("%w: timeout must be between 1 and %d hours", domain.ErrInvalidInput, MaxTimeoutHours)
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	secs := hours * 3600
	message := "Timeout " + escalation.FormatDuration(secs) + " applied by a moderator"
	return s.recordAction(ctx, userID, domain.ActionTimeout, secs, message, domain.SourceOperator, 0)
}

// ListActions returns the action history of a user, newest first.
func (s *Service) ListActions(ctx context.Context, userID int64) ([]*domain.ModerationAction, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	actions, err := s.repo.ListActions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	return actions, nil
}

// ResetViolations pardons the violations of a user: infractions dated up
// to now stop counting towards escalation. The infractions themselves and
// the risk score are kept.
func (s *Service) ResetViolations(ctx context.Context, userID int64, resetBy string) (*domain.ModerationAction, error) {
	if resetBy == "" {
		return nil, fmt.Errorf("%w: resetBy is required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	action, err := s.recordAction(ctx, userID, domain.ActionViolationsReset, 0,
		"Violations reset by "+resetBy, domain.SourceOperator, 0)
	if err != nil {
		return nil, err
	}
	s.velocity.Invalidate(ctx, userID)

	slog.Info("violations reset", "user_id", userID, "reset_by", resetBy)
	return action, nil
}

// Escalation stats window bounds, in days.
const (
	DefaultStatsDays = 30
	MaxStatsDays     = 365
)

// EscalationStats summarizes automatic escalation over the last days.
// Zero days selects the default window.
func (s *Service) EscalationStats(ctx context.Context, days int) (*domain.EscalationStats, error) {
	if days == 0 {
		days = DefaultStatsDays
	}
	if days < 1 || days > MaxStatsDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrInvalidInput, MaxStatsDays)
	}

	actions, err := s.repo.ListActionsSince(ctx, s.now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	whitelist, err := s.repo.ListWhitelist(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}

	stats := escalation.Summarize(actions, days)
	stats.WhitelistCount = len(whitelist)
	return &stats, nil
}

// recordAction stores an action and publishes it for delivery. level is the
// escalation ladder level, 0 for operator actions.
func (s *Service) recordAction(ctx context.Context, userID int64, kind domain.ActionKind, durationSecs int, message, source string, level int) (*domain.ModerationAction, error) {
	seq, err := s.nextSequence(ctx, userID)
	if err != nil {
		return nil, err
	}

	action := &domain.ModerationAction{
		ID:           uuid.New().String(),
		UserID:       userID,
		Kind:         kind,
		DurationSecs: durationSecs,
		Message:      message,
		Source:       source,
		Sequence:     seq,
		CreatedAt:    s.now().UTC(),
		Level:        level,
	}
	if err := s.repo.SaveAction(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to save action: %w", err)
	}
	metrics.RecordAction(string(kind), source)

	s.publish(ctx, domain.TopicAction, action)
	s.notify(ctx, domain.EventActionTaken, action)

	slog.Info("moderation action recorded",
		"user_id", userID,
		"action_id", action.ID,
		"kind", kind,
		"source", source,
		"sequence", seq,
	)
	return action, nil
}

// nextSequence numbers the actions a user received in the last 24 hours.
func (s *Service) nextSequence(ctx context.Context, userID int64) (int64, error) {
	if s.cache != nil {
		n, err := s.cache.IncrementCounter(ctx, "actions:"+strconv.FormatInt(userID, 10), 24*time.Hour)
		if err == nil {
			return n, nil
		}
		slog.Warn("action counter unavailable, falling back to store",
			"user_id", userID,
			"error", err,
		)
	}

	actions, err := s.repo.ListActions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list actions: %w", err)
	}
	cutoff := s.now().Add(-24 * time.Hour)
	var n int64
	for _, a := range actions {
		if a.CreatedAt.After(cutoff) {
			n++
		}
	}
	return n + 1, nil
}

// AddToWhitelist exempts a user from automatic escalation.
func (s *Service) AddToWhitelist(ctx context.Context, userID int64, addedBy, reason string) (*domain.WhitelistEntry, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	entry := &domain.WhitelistEntry{
		UserID:  userID,
		AddedBy: addedBy,
		Reason:  reason,
		AddedAt: s.now().UTC(),
	}
	if err := s.repo.AddToWhitelist(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to whitelist user %d: %w", userID, err)
	}
	slog.Info("user whitelisted", "user_id", userID, "added_by", addedBy)
	return entry, nil
}

// RemoveFromWhitelist lifts a whitelist exemption.
func (s *Service) RemoveFromWhitelist(ctx context.Context, userID int64) error {
	if err := s.repo.RemoveFromWhitelist(ctx, userID); err != nil {
		return err
	}
	slog.Info("user removed from whitelist", "user_id", userID)
	return nil
}

// ListWhitelist returns all whitelist entries.
func (s *Service) ListWhitelist(ctx context.Context) ([]*domain.WhitelistEntry, error) {
	return s.repo.ListWhitelist(ctx)
}
