// Package risk computes and maintains user risk scores.
//
// The score combines the share of toxic messages, the number of recent
// infractions and the number of severe infractions ever recorded:
//
//	score = toxicityRate*0.6 + recent*5 + severe*10
//
// rounded and clamped to [0, 100]. Recency is windowed, severity is not.
package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-community/heron/internal/domain"
)

// Formula weights.
const (
	ToxicityWeight = 0.6
	RecentWeight   = 5.0
	SevereWeight   = 10.0

	DefaultRecencyWindow = 7 * 24 * time.Hour
)

// Engine applies the scoring formula. It holds no user state and is safe
// for concurrent use; callers serialize mutations of a given user.
type Engine struct {
	now    func() time.Time
	window time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the evaluation clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRecencyWindow sets the trailing window for recent infractions.
func WithRecencyWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// NewEngine creates a risk engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:    time.Now,
		window: DefaultRecencyWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breakdown exposes the terms of a score computation.
type Breakdown struct {
	ToxicityRate      float64          `json:"toxicityRate"`
	RecentInfractions int              `json:"recentInfractions"`
	SevereInfractions int              `json:"severeInfractions"`
	SkippedDates      int              `json:"skippedDates,omitempty"`
	Raw               float64          `json:"raw"`
	Score             int              `json:"score"`
	Level             domain.RiskLevel `json:"level"`
}

// Breakdown computes the score of user and the terms it is made of.
func (e *Engine) Breakdown(user *domain.User) Breakdown {
	var b Breakdown
	if user == nil {
		b.Level = domain.DeriveRiskLevel(0)
		return b
	}

	b.ToxicityRate = toxicityRate(user.ToxicMessages, user.TotalMessages)

	now := e.now()
	windowStart := now.Add(-e.window)
	for _, inf := range user.Infractions {
		if !inf.Date.Valid() {
			b.SkippedDates++
			continue
		}
		if inf.Date.Time.After(windowStart) && !inf.Date.Time.After(now) {
			b.RecentInfractions++
		}
		if inf.Severity == domain.SeveritySevere {
			b.SevereInfractions++
		}
	}

	b.Raw = b.ToxicityRate*ToxicityWeight +
		float64(b.RecentInfractions)*RecentWeight +
		float64(b.SevereInfractions)*SevereWeight
	b.Score = clampScore(b.Raw)
	b.Level = domain.DeriveRiskLevel(b.Score)
	return b
}

// ComputeScore returns the risk score of user in [0, 100]. It does not
// modify user.
func (e *Engine) ComputeScore(user *domain.User) int {
	return e.Breakdown(user).Score
}

// Recompute re-derives the score and level of user from its counters and
// infraction history.
func (e *Engine) Recompute(user *domain.User) *domain.User {
	score := e.ComputeScore(user)
	user.RiskScore = score
	user.RiskLevel = domain.DeriveRiskLevel(score)
	return user
}

// ApplyInfraction records a new infraction as the most recent one, counts
// it as one more toxic message and recomputes the score.
func (e *Engine) ApplyInfraction(user *domain.User, infraction domain.Infraction) *domain.User {
	infractions := make([]domain.Infraction, 0, len(user.Infractions)+1)
	infractions = append(infractions, infraction)
	infractions = append(infractions, user.Infractions...)
	user.Infractions = infractions

	if user.ToxicMessages < 0 {
		user.ToxicMessages = 0
	}
	user.ToxicMessages++

	return e.Recompute(user)
}

// SetManualScore overrides the score of user with an operator supplied
// value. candidate must denote an integer in [0, 100]; otherwise
// ErrInvalidInput is returned and user is left untouched. Counters and
// infractions are never modified.
func (e *Engine) SetManualScore(user *domain.User, candidate any) error {
	score, err := ParseScore(candidate)
	if err != nil {
		return err
	}
	user.RiskScore = score
	user.RiskLevel = domain.DeriveRiskLevel(score)
	return nil
}

// ParseScore converts an operator supplied value into a risk score.
// Accepted forms are integers, integral floats, json.Number, raw JSON
// numbers or strings, and numeric strings.
func ParseScore(candidate any) (int, error) {
	var f float64
	switch v := candidate.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		return ParseScore(v.String())
	case json.RawMessage:
		return parseRawScore(v)
	case string:
		s := strings.TrimSpace(v)
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || s == "" {
			return 0, fmt.Errorf("%w: risk score %q is not a number", domain.ErrInvalidInput, v)
		}
		f = n
	default:
		return 0, fmt.Errorf("%w: unsupported risk score type %T", domain.ErrInvalidInput, candidate)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: risk score must be an integer", domain.ErrInvalidInput)
	}
	if f < domain.MinRiskScore || f > domain.MaxRiskScore {
		return 0, fmt.Errorf("%w: risk score must be between %d and %d", domain.ErrInvalidInput, domain.MinRiskScore, domain.MaxRiskScore)
	}
	return int(f), nil
}

func parseRawScore(raw json.RawMessage) (int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseScore(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: risk score must be a number", domain.ErrInvalidInput)
	}
	return ParseScore(n.String())
}

func toxicityRate(toxic, total int) float64 {
	if total <= 0 || toxic <= 0 {
		return 0
	}
	return float64(toxic) / float64(total) * 100
}

func clampScore(raw float64) int {
	if math.IsNaN(raw) || raw <= 0 {
		return domain.MinRiskScore
	}
	score := math.Round(raw)
	if score > domain.MaxRiskScore {
		return domain.MaxRiskScore
	}
	return int(score)
}
