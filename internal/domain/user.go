// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("record already exists")
)

// RiskLevel is the coarse three-bucket classification of a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Risk score bounds and level thresholds.
const (
	MinRiskScore        = 0
	MaxRiskScore        = 100
	HighRiskThreshold   = 70
	MediumRiskThreshold = 40
)

// DeriveRiskLevel maps a score to its level. Every code path that sets a
// score must derive the level through this function.
func DeriveRiskLevel(score int) RiskLevel {
	switch {
	case score >= HighRiskThreshold:
		return RiskHigh
	case score >= MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ParseRiskLevel validates a textual level.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrInvalidInput, s)
}

// Severity is the ordinal seriousness of an infraction.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeveritySevere Severity = "severe"
)

// Rank returns the ordinal position of the severity (low < medium < severe).
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeveritySevere:
		return 3
	default:
		return 0
	}
}

// Infraction is one recorded policy violation.
type Infraction struct {
	Type     string    `json:"type" validate:"required,max=100"`
	Message  string    `json:"message" validate:"max=4000"`
	Date     Timestamp `json:"date"`
	Action   string    `json:"action" validate:"max=500"`
	Severity Severity  `json:"severity" validate:"required,oneof=low medium severe"`
}

// User is one moderated community member.
type User struct {
	ID            int64  `json:"id" validate:"gt=0"`
	Username      string `json:"username" validate:"required,max=100"`
	Discriminator string `json:"discriminator" validate:"max=10"`

	RiskScore int       `json:"riskScore"`
	RiskLevel RiskLevel `json:"riskLevel"`

	TotalMessages    int `json:"totalMessages" validate:"gte=0"`
	ToxicMessages    int `json:"toxicMessages" validate:"gte=0"`
	PositiveMessages int `json:"positiveMessages" validate:"gte=0"`

	LastSeen Timestamp `json:"lastSeen"`
	JoinDate Timestamp `json:"joinDate"`

	// Infractions are ordered most-recent-first.
	Infractions []Infraction `json:"infractions" validate:"dive"`

	// ProgressData is the weekly behaviour trend shown on the dashboard.
	ProgressData [7]int `json:"progressData"`
}

// Handle returns the "name#discriminator" display form.
func (u *User) Handle() string {
	if u.Discriminator == "" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Infractions != nil {
		c.Infractions = make([]Infraction, len(u.Infractions))
		copy(c.Infractions, u.Infractions)
	}
	return &c
}

// CounterWarnings reports data-quality issues with the message counters.
// They are informational: the counters are accepted as given.
func (u *User) CounterWarnings() []string {
	var warnings []string
	if u.ToxicMessages+u.PositiveMessages > u.TotalMessages {
		warnings = append(warnings, "toxic and positive messages exceed total messages")
	}
	if u.TotalMessages == 0 && u.ToxicMessages > 0 {
		warnings = append(warnings, "toxic messages recorded without any total messages")
	}
	return warnings
}

// UserFilter narrows user listings.
type UserFilter struct {
	Level  RiskLevel
	Search string
	Limit  int
}
