// Package velocity provides infraction velocity calculation.
package velocity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-community/heron/internal/domain"
)

// Windows used for escalation and activity classification.
const (
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
)

// Activity levels.
const (
	ActivityNone     = "none"
	ActivityLow      = "low"
	ActivityMedium   = "medium"
	ActivityHigh     = "high"
	ActivityCritical = "critical"
)

// Counts are the violation counters of one user.
type Counts struct {
	Last24h int `json:"violations24h"`
	Last7d  int `json:"violations7d"`
	Total   int `json:"totalViolations"`
}

// Service calculates infraction velocity for users.
type Service struct {
	repo     domain.Repository
	cache    domain.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewService creates a new velocity service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: 30 * time.Second,
		now:      time.Now,
	}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CountSince returns the number of infractions of a user dated within the
// trailing window. Infractions dated at or before the latest violations
// reset are not counted.
func (s *Service) CountSince(ctx context.Context, userID int64, window time.Duration) (int, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	now := s.now()
	since := now.Add(-window)
	reset, err := s.resetAt(ctx, userID)
	if err != nil {
		return 0, err
	}
	if reset.After(since) {
		since = reset
	}

	infractions, err := s.repo.ListInfractionsSince(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list infractions: %w", err)
	}

	n := 0
	for _, inf := range infractions {
		if !inf.Date.Time.After(now) {
			n++
		}
	}
	return n, nil
}

// Counts returns the 24h, 7d and total violation counts of a user.
// Results are cached briefly; call Invalidate after recording an infraction.
func (s *Service) Counts(ctx context.Context, userID int64) (Counts, error) {
	if c, ok := s.cached(ctx, userID); ok {
		return c, nil
	}

	var c Counts
	var err error
	if c.Last24h, err = s.CountSince(ctx, userID, Window24h); err != nil {
		return Counts{}, err
	}
	if c.Last7d, err = s.CountSince(ctx, userID, Window7d); err != nil {
		return Counts{}, err
	}
	if c.Total, err = s.total(ctx, userID); err != nil {
		return Counts{}, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(c); err == nil {
			_ = s.cache.Set(ctx, cacheKey(userID), data, s.cacheTTL)
		}
	}
	return c, nil
}

func (s *Service) total(ctx context.Context, userID int64) (int, error) {
	reset, err := s.resetAt(ctx, userID)
	if err != nil {
		return 0, err
	}
	if reset.IsZero() {
		n, err := s.repo.CountInfractions(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("failed to count infractions: %w", err)
		}
		return n, nil
	}

	infractions, err := s.repo.ListInfractionsSince(ctx, userID, reset)
	if err != nil {
		return 0, fmt.Errorf("failed to list infractions: %w", err)
	}
	return len(infractions), nil
}

// resetAt returns the time of the latest violations reset of a user, or
// the zero time.
func (s *Service) resetAt(ctx context.Context, userID int64) (time.Time, error) {
	actions, err := s.repo.ListActions(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to list actions: %w", err)
	}
	for _, a := range actions {
		if a.Kind == domain.ActionViolationsReset {
			return a.CreatedAt, nil
		}
	}
	return time.Time{}, nil
}

// Invalidate drops the cached counts of a user.
func (s *Service) Invalidate(ctx context.Context, userID int64) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, cacheKey(userID))
	}
}

// ActivityLevel classifies recent violation activity.
func ActivityLevel(c Counts) string {
	switch {
	case c.Last24h >= 4:
		return ActivityCritical
	case c.Last24h >= 2:
		return ActivityHigh
	case c.Last7d >= 3:
		return ActivityMedium
	case c.Last7d >= 1:
		return ActivityLow
	default:
		return ActivityNone
	}
}

func (s *Service) cached(ctx context.Context, userID int64) (Counts, bool) {
	if s.cache == nil {
		return Counts{}, false
	}
	data, err := s.cache.Get(ctx, cacheKey(userID))
	if err != nil || data == nil {
		return Counts{}, false
	}
	var c Counts
	if err := json.Unmarshal(data, &c); err != nil {
		return Counts{}, false
	}
	return c, true
}

func cacheKey(userID int64) string {
	return "velocity:" + strconv.FormatInt(userID, 10)
}
