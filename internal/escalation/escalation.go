// Package escalation decides the remediation for a newly applied
// infraction from the user's recent violation history.
package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-community/heron/internal/domain"
)

// Special levels outside the regular ladder.
const (
	LevelWhitelisted = 0
	LevelMax         = 6
	LevelExtreme     = 7

	// ExtremeViolations is reported as the violation count of extreme bans.
	ExtremeViolations = 999
)

// Step is one rung of the escalation ladder.
type Step struct {
	Level        int
	Action       domain.ActionKind
	DurationSecs int
	Description  string
}

var ladder = map[int]Step{
	1: {1, domain.ActionWarning, 0, "First violation - gentle educational guidance"},
	2: {2, domain.ActionFinalWarning, 0, "Second violation - more serious warning"},
	3: {3, domain.ActionTimeout, 300, "Third violation - short timeout to reflect"},
	4: {4, domain.ActionTimeout, 1800, "Fourth violation - medium timeout"},
	5: {5, domain.ActionTimeout, 3600, "Fifth violation - long timeout"},
	6: {6, domain.ActionTempBan, 86400, "Sixth violation - temporary ban for persistent behaviour"},
}

// extremeCategories bypass the ladder and result in a permanent ban.
var extremeCategories = map[string]bool{
	"threat_serious":     true,
	"doxxing":            true,
	"hate_speech_severe": true,
	"harassment_severe":  true,
	"illegal_content":    true,
	"nsfw_explicit":      true,
}

// extremePhrases in a message bypass the ladder regardless of category.
var extremePhrases = []string{
	"să te omor", "să te ucid", "să te găsesc acasă", "să te violez",
	"adresa ta este", "știu unde stai", "să te rănesc grav", "să-ți fac rău",
	"să-ți arăt eu", "să te distrug", "să te termin", "vin după tine",
	"i will kill you", "i'll kill you", "i know where you live",
	"your address is", "i will find you", "coming for you",
}

// StepFor returns the ladder step of a level. Levels outside 1..6 are
// clamped.
func StepFor(level int) Step {
	if level < 1 {
		level = 1
	}
	if level > LevelMax {
		level = LevelMax
	}
	return ladder[level]
}

// Processor turns violation history into escalation decisions.
type Processor struct {
	now func() time.Time
}

// NewProcessor creates a new escalation processor.
func NewProcessor() *Processor {
	return &Processor{now: time.Now}
}

// WithClock replaces the processor clock.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	UserID int64

	// Infraction is the violation being remediated.
	Infraction domain.Infraction

	// PriorViolations24h counts the user's violations in the last 24 hours,
	// excluding Infraction itself.
	PriorViolations24h int

	Whitelisted bool
}

// Decide produces the escalation decision for an infraction.
func (p *Processor) Decide(input *DecisionInput) *domain.Decision {
	category := NormalizeCategory(input.Infraction.Type)
	d := &domain.Decision{
		UserID:    input.UserID,
		Category:  category,
		Timestamp: p.now().UTC(),
	}

	if input.Whitelisted {
		d.Level = LevelWhitelisted
		d.Action = domain.ActionWhitelistSkip
		d.Description = "User is whitelisted"
		return d
	}

	if IsExtreme(category) || IsExtremeContent(input.Infraction.Message) {
		d.Level = LevelExtreme
		d.Action = domain.ActionBan
		d.Violations = ExtremeViolations
		d.Description = "Extreme violation - permanent ban"
		d.EducationalMessage = "Extremely toxic behaviour that endangers community safety."
		return d
	}

	prior := max(input.PriorViolations24h, 0)
	level := min(prior+1, LevelMax)
	if level >= 4 && input.Infraction.Severity == domain.SeveritySevere {
		level = min(level+1, LevelMax)
	}

	step := StepFor(level)
	d.Level = level
	d.Action = step.Action
	d.DurationSecs = step.DurationSecs
	d.Violations = prior
	d.Description = step.Description
	d.EducationalMessage = Educational(category, level).MainMessage
	return d
}

// CurrentLevel is the ladder level a user currently sits at given their
// violations in the last 24 hours. Zero means no recent violations.
func CurrentLevel(violations24h int) int {
	if violations24h <= 0 {
		return 0
	}
	return min(violations24h+1, LevelMax)
}

// IsExtreme reports whether a normalized category bypasses the ladder.
func IsExtreme(category string) bool {
	return extremeCategories[category]
}

// IsExtremeContent reports whether a message contains a phrase that is
// always treated as an extreme violation.
func IsExtremeContent(message string) bool {
	if message == "" {
		return false
	}
	text := strings.ToLower(message)
	for _, phrase := range extremePhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// NormalizeCategory maps a free-form infraction type such as "Hate speech"
// or "Spam minor" to a snake_case category.
func NormalizeCategory(infractionType string) string {
	fields := strings.FieldsFunc(strings.ToLower(infractionType), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/'
	})
	if len(fields) == 0 {
		return "general"
	}
	return strings.Join(fields, "_")
}

// FormatDuration renders a duration in seconds for operators.
func FormatDuration(seconds int) string {
	switch {
	case seconds <= 0:
		return "N/A"
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	case seconds < 86400:
		hours, minutes := seconds/3600, (seconds%3600)/60
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	default:
		days, hours := seconds/86400, (seconds%86400)/3600
		if hours > 0 {
			return fmt.Sprintf("%dd %dh", days, hours)
		}
		return fmt.Sprintf("%dd", days)
	}
}
