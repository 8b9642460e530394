package domain

import "time"

// ActionKind names a remediation applied to a user.
type ActionKind string

const (
	ActionWarning       ActionKind = "warning"
	ActionFinalWarning  ActionKind = "final_warning"
	ActionEducation     ActionKind = "education"
	ActionTimeout       ActionKind = "timeout"
	ActionTempBan       ActionKind = "temp_ban"
	ActionBan           ActionKind = "ban"
	ActionWhitelistSkip ActionKind = "whitelist_skip"

	// ActionViolationsReset pardons earlier violations: escalation counts
	// restart from the moment it was recorded.
	ActionViolationsReset ActionKind = "violations_reset"
)

// Action sources.
const (
	SourceOperator   = "operator"
	SourceEscalation = "escalation"
)

// ModerationAction is a recorded remediation. Delivery to the community
// platform is done by an external bot listening on TopicAction.
type ModerationAction struct {
	ID           string     `json:"id"`
	UserID       int64      `json:"userId"`
	Kind         ActionKind `json:"kind"`
	DurationSecs int        `json:"durationSecs,omitempty"`
	Message      string     `json:"message,omitempty"`
	Source       string     `json:"source"`
	Sequence     int64      `json:"sequence"`
	CreatedAt    time.Time  `json:"createdAt"`

	// Level is the ladder level of escalation actions, 0 otherwise.
	Level int `json:"level,omitempty"`
}

// Decision is the escalation outcome for a newly applied infraction.
type Decision struct {
	UserID             int64      `json:"userId"`
	Level              int        `json:"level"`
	Action             ActionKind `json:"action"`
	DurationSecs       int        `json:"durationSecs"`
	Violations         int        `json:"violations"`
	Description        string     `json:"description"`
	EducationalMessage string     `json:"educationalMessage,omitempty"`
	Category           string     `json:"category"`
	Timestamp          time.Time  `json:"timestamp"`
}

// WhitelistEntry exempts a user from automatic escalation.
type WhitelistEntry struct {
	UserID  int64     `json:"userId"`
	AddedBy string    `json:"addedBy"`
	Reason  string    `json:"reason"`
	AddedAt time.Time `json:"addedAt"`
}

// EscalationStats summarizes automatic escalation over a trailing window.
type EscalationStats struct {
	Days              int         `json:"days"`
	TotalViolations   int         `json:"totalViolations"`
	LevelDistribution map[int]int `json:"levelDistribution"`
	MostCommonLevel   int         `json:"mostCommonLevel"`
	EscalationRate    float64     `json:"escalationRate"`
	WhitelistCount    int         `json:"whitelistCount"`
}
