// Package moderation owns the user store and applies every user mutation
// through the risk engine.
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/escalation"
	"github.com/opensource-community/heron/internal/metrics"
	"github.com/opensource-community/heron/internal/risk"
	"github.com/opensource-community/heron/internal/rules"
	"github.com/opensource-community/heron/internal/velocity"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service serializes user mutations and fans out their side effects:
// cache refresh, escalation, flag rules and bus notifications.
type Service struct {
	// mu guards every read-modify-write of a user.
	mu sync.Mutex

	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	engine     *risk.Engine
	rules      *rules.Engine
	velocity   *velocity.Service
	escalation *escalation.Processor

	userTTL time.Duration
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables user snapshot caching and cache-backed counters.
func WithCache(c domain.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithBus enables event publication.
func WithBus(b domain.EventBus) Option {
	return func(s *Service) { s.bus = b }
}

// WithRules enables flag rule evaluation after each infraction.
func WithRules(e *rules.Engine) Option {
	return func(s *Service) { s.rules = e }
}

// WithClock sets the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithUserTTL sets how long user snapshots stay cached.
func WithUserTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.userTTL = ttl
		}
	}
}

// NewService creates a moderation service on top of a repository.
func NewService(repo domain.Repository, engine *risk.Engine, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		engine:  engine,
		userTTL: time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = risk.NewEngine(risk.WithClock(s.now))
	}
	s.velocity = velocity.NewService(repo, s.cache).WithClock(s.now)
	s.escalation = escalation.NewProcessor().WithClock(s.now)
	return s
}

// Engine returns the risk engine used by the service.
func (s *Service) Engine() *risk.Engine {
	return s.engine
}

// Velocity returns the violation counter service.
func (s *Service) Velocity() *velocity.Service {
	return s.velocity
}

// GetUser returns a user, served from cache when possible.
func (s *Service) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", domain.ErrInvalidInput)
	}
	if s.cache != nil {
		if u, err := s.cache.GetUser(ctx, userID); err == nil && u != nil {
			return u, nil
		}
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheUser(ctx, user)
	return user, nil
}

// ListUsers returns users ordered by risk score, highest first.
func (s *Service) ListUsers(ctx context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	if filter.Level != "" {
		if _, err := domain.ParseRiskLevel(string(filter.Level)); err != nil {
			return nil, err
		}
	}
	users, err := s.repo.ListUsers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*domain.User{}
	}
	return users, nil
}

// UserRisk is a user together with the terms of its current score.
type UserRisk struct {
	*domain.User
	Breakdown risk.Breakdown `json:"breakdown"`
}

// RiskAnalysis returns users ordered by risk score with their breakdown.
// The breakdown is evaluated now; its score differs from the stored one
// while a manual override is in place.
func (s *Service) RiskAnalysis(ctx context.Context, filter domain.UserFilter) ([]UserRisk, error) {
	users, err := s.ListUsers(ctx, filter)
	if err != nil {
		return nil, err
	}
	analysis := make([]UserRisk, len(users))
	for i, u := range users {
		analysis[i] = UserRisk{User: u, Breakdown: s.engine.Breakdown(u)}
	}
	return analysis, nil
}

// Breakdown returns the score terms of one user.
func (s *Service) Breakdown(ctx context.Context, userID int64) (risk.Breakdown, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return risk.Breakdown{}, err
	}
	return s.engine.Breakdown(user), nil
}

// IngestUser stores a new user. The score and level are derived from the
// counters and history; any score carried by the input is ignored.
func (s *Service) IngestUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	if err := validateUser(user); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.engine.Recompute(user.Clone())
	if stored.Infractions == nil {
		stored.Infractions = []domain.Infraction{}
	}
	logDataQuality(stored)

	if err := s.repo.CreateUser(ctx, stored); err != nil {
		return nil, err
	}
	metrics.RecordScore(stored.RiskScore)
	s.cacheUser(ctx, stored)
	s.notify(ctx, domain.EventUserUpdated, stored)

	slog.Info("user ingested",
		"user_id", stored.ID,
		"risk_score", stored.RiskScore,
		"risk_level", stored.RiskLevel,
	)
	return stored, nil
}

// ExportUser returns the lossless JSON form of a user.
func (s *Service) ExportUser(ctx context.Context, userID int64) ([]byte, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode user %d: %w", userID, err)
	}
	return data, nil
}

// ImportUser restores an exported user, replacing any stored record with
// the same id. The record is kept as exported, including a manually set
// score; only the level is re-derived from the score.
func (s *Service) ImportUser(ctx context.Context, data []byte) (*domain.User, error) {
	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("%w: malformed user document: %v", domain.ErrInvalidInput, err)
	}
	if err := validateUser(&user); err != nil {
		return nil, err
	}
	if user.RiskScore < domain.MinRiskScore || user.RiskScore > domain.MaxRiskScore {
		return nil, fmt.Errorf("%w: risk score %d out of range", domain.ErrInvalidInput, user.RiskScore)
	}
	user.RiskLevel = domain.DeriveRiskLevel(user.RiskScore)
	if user.Infractions == nil {
		user.Infractions = []domain.Infraction{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logDataQuality(&user)
	if err := s.repo.SaveUser(ctx, &user); err != nil {
		return nil, fmt.Errorf("failed to import user %d: %w", user.ID, err)
	}
	s.velocity.Invalidate(ctx, user.ID)
	s.cacheUser(ctx, &user)
	s.notify(ctx, domain.EventUserUpdated, &user)
	return &user, nil
}

// InfractionResult is the outcome of applying an infraction.
type InfractionResult struct {
	User     *domain.User             `json:"user"`
	Decision *domain.Decision         `json:"decision"`
	Action   *domain.ModerationAction `json:"action,omitempty"`
	Alert    *domain.Alert            `json:"alert,omitempty"`
}

// ApplyInfraction records a new most-recent infraction, rescores the user
// and runs escalation and flag rules. A missing date is stamped with the
// current time; an unparseable one is kept verbatim and does not count.
func (s *Service) ApplyInfraction(ctx context.Context, userID int64, infraction domain.Infraction) (*InfractionResult, error) {
	if err := validate.Struct(infraction); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if infraction.Date.IsZero() {
		infraction.Date = domain.NewTimestamp(s.now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !infraction.Date.Valid() {
		slog.Warn("infraction has unparseable date",
			"user_id", userID,
			"date", infraction.Date.String(),
		)
	}

	prior, err := s.velocity.CountSince(ctx, userID, velocity.Window24h)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent violations: %w", err)
	}
	whitelisted, err := s.repo.IsWhitelisted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check whitelist: %w", err)
	}

	updated := s.engine.ApplyInfraction(user, infraction)
	if err := s.repo.AppendInfraction(ctx, updated, infraction); err != nil {
		return nil, fmt.Errorf("failed to store infraction: %w", err)
	}
	s.velocity.Invalidate(ctx, userID)
	s.cacheUser(ctx, updated)
	metrics.RecordInfraction(string(infraction.Severity), updated.RiskScore)

	result := &InfractionResult{User: updated}

	result.Decision = s.escalation.Decide(&escalation.DecisionInput{
		UserID:             userID,
		Infraction:         infraction,
		PriorViolations24h: prior,
		Whitelisted:        whitelisted,
	})
	metrics.RecordEscalation(string(result.Decision.Action))
	s.publish(ctx, domain.TopicDecision, result.Decision)

	if result.Decision.Action != domain.ActionWhitelistSkip {
		action, err := s.recordAction(ctx, userID, result.Decision.Action, result.Decision.DurationSecs,
			result.Decision.EducationalMessage, domain.SourceEscalation, result.Decision.Level)
		if err != nil {
			slog.Error("failed to record escalation action",
				"user_id", userID,
				"action", result.Decision.Action,
				"error", err,
			)
		}
		result.Action = action
	}

	result.Alert = s.evaluateRules(ctx, updated, &infraction)

	s.notify(ctx, domain.EventUserUpdated, updated)

	slog.Info("infraction applied",
		"user_id", userID,
		"severity", infraction.Severity,
		"risk_score", updated.RiskScore,
		"risk_level", updated.RiskLevel,
		"escalation_level", result.Decision.Level,
		"action", result.Decision.Action,
	)
	return result, nil
}

// AdjustRisk sets a manual risk score. candidate may be any value accepted
// by risk.ParseScore. An invalid candidate leaves the user unchanged.
func (s *Service) AdjustRisk(ctx context.Context, userID int64, candidate any) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.engine.SetManualScore(user, candidate); err != nil {
		metrics.RecordOverride(false)
		return nil, err
	}
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user %d: %w", userID, err)
	}
	metrics.RecordOverride(true)
	s.cacheUser(ctx, user)
	s.notify(ctx, domain.EventUserUpdated, user)

	slog.Info("risk score adjusted",
		"user_id", userID,
		"risk_score", user.RiskScore,
		"risk_level", user.RiskLevel,
	)
	return user, nil
}

// UpdateUser applies a partial update. A change to any message counter
// triggers a recomputation, which also ends a manual override.
func (s *Service) UpdateUser(ctx context.Context, userID int64, updates domain.UserUpdates) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := updates.Apply(user); err != nil {
		return nil, err
	}
	if err := validationError(validate.StructPartial(user, "Username", "Discriminator")); err != nil {
		return nil, err
	}
	if updates.TouchesCounters() {
		s.engine.Recompute(user)
		metrics.RecordScore(user.RiskScore)
	}
	logDataQuality(user)

	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user %d: %w", userID, err)
	}
	s.cacheUser(ctx, user)
	s.notify(ctx, domain.EventUserUpdated, user)
	return user, nil
}

func (s *Service) evaluateRules(ctx context.Context, user *domain.User, infraction *domain.Infraction) *domain.Alert {
	if s.rules == nil || s.rules.RulesCount() == 0 {
		return nil
	}

	b := s.engine.Breakdown(user)
	results, err := s.rules.EvaluateAll(ctx, &rules.EvaluateInput{
		UserID:            user.ID,
		RiskScore:         user.RiskScore,
		RiskLevel:         user.RiskLevel,
		ToxicityRate:      b.ToxicityRate,
		RecentInfractions: b.RecentInfractions,
		SevereInfractions: b.SevereInfractions,
		TotalMessages:     user.TotalMessages,
		ToxicMessages:     user.ToxicMessages,
		PositiveMessages:  user.PositiveMessages,
		Infraction:        infraction,
	})
	if err != nil {
		slog.Error("rule evaluation failed",
			"user_id", user.ID,
			"error", err,
		)
		return nil
	}

	alert := rules.NewAlert(user, results)
	if alert != nil {
		metrics.RecordAlert()
		s.publish(ctx, domain.TopicAlert, alert)
	}
	return alert
}

func (s *Service) cacheUser(ctx context.Context, user *domain.User) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetUser(ctx, user, s.userTTL); err != nil {
		slog.Warn("failed to cache user",
			"user_id", user.ID,
			"error", err,
		)
	}
}

// publish sends v as JSON on topic. Failures are logged, never returned:
// the mutation has already been stored.
func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode bus payload", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("failed to publish",
			"topic", topic,
			"error", err,
		)
	}
}

// notify pushes a dashboard event.
func (s *Service) notify(ctx context.Context, t domain.EventType, payload any) {
	if s.bus == nil {
		return
	}
	ev, err := domain.NewEvent(t, payload)
	if err != nil {
		slog.Error("failed to build dashboard event", "type", t, "error", err)
		return
	}
	s.publish(ctx, domain.TopicDashboard, ev)
}

func validateUser(user *domain.User) error {
	if user == nil {
		return fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}
	return validationError(validate.Struct(user))
}

// validationError maps a validator failure to ErrInvalidInput.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w: field %s failed %s", domain.ErrInvalidInput, verrs[0].Namespace(), verrs[0].Tag())
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
}

// logDataQuality reports inconsistent counters and unparseable dates.
// Neither blocks the mutation.
func logDataQuality(user *domain.User) {
	for _, w := range user.CounterWarnings() {
		slog.Warn("user counters inconsistent",
			"user_id", user.ID,
			"warning", w,
		)
	}
	for _, inf := range user.Infractions {
		if !inf.Date.Valid() {
			slog.Warn("infraction has unparseable date",
				"user_id", user.ID,
				"type", inf.Type,
				"date", inf.Date.String(),
			)
		}
	}
}
