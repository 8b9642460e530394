package escalation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-community/heron/internal/domain"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestProcessor() *Processor {
	return NewProcessor().WithClock(func() time.Time { return fixedNow })
}

func infraction(kind string, severity domain.Severity) domain.Infraction {
	return domain.Infraction{Type: kind, Severity: severity, Date: domain.NewTimestamp(fixedNow)}
}

func TestDecideLadder(t *testing.T) {
	proc := newTestProcessor()

	tests := []struct {
		prior    int
		level    int
		action   domain.ActionKind
		duration int
	}{
		{0, 1, domain.ActionWarning, 0},
		{1, 2, domain.ActionFinalWarning, 0},
		{2, 3, domain.ActionTimeout, 300},
		{3, 4, domain.ActionTimeout, 1800},
		{4, 5, domain.ActionTimeout, 3600},
		{5, 6, domain.ActionTempBan, 86400},
		{12, 6, domain.ActionTempBan, 86400},
		{-3, 1, domain.ActionWarning, 0},
	}

	for _, tt := range tests {
		d := proc.Decide(&DecisionInput{
			UserID:             7,
			Infraction:         infraction("Spam", domain.SeverityLow),
			PriorViolations24h: tt.prior,
		})
		assert.Equal(t, tt.level, d.Level, "prior=%d", tt.prior)
		assert.Equal(t, tt.action, d.Action, "prior=%d", tt.prior)
		assert.Equal(t, tt.duration, d.DurationSecs, "prior=%d", tt.prior)
		assert.Equal(t, int64(7), d.UserID)
		assert.Equal(t, "spam", d.Category)
		assert.Equal(t, fixedNow, d.Timestamp)
		assert.NotEmpty(t, d.EducationalMessage)
	}
}

func TestDecideSevereBump(t *testing.T) {
	proc := newTestProcessor()

	low := proc.Decide(&DecisionInput{Infraction: infraction("Harassment", domain.SeveritySevere), PriorViolations24h: 2})
	assert.Equal(t, 3, low.Level, "severity does not bump below level 4")

	bumped := proc.Decide(&DecisionInput{Infraction: infraction("Harassment", domain.SeveritySevere), PriorViolations24h: 3})
	assert.Equal(t, 5, bumped.Level)
	assert.Equal(t, 3600, bumped.DurationSecs)

	capped := proc.Decide(&DecisionInput{Infraction: infraction("Harassment", domain.SeveritySevere), PriorViolations24h: 5})
	assert.Equal(t, LevelMax, capped.Level)
	assert.Equal(t, domain.ActionTempBan, capped.Action)
}

func TestDecideExtreme(t *testing.T) {
	proc := newTestProcessor()

	for _, kind := range []string{"Doxxing", "Threat serious", "hate_speech_severe", "NSFW explicit"} {
		d := proc.Decide(&DecisionInput{Infraction: infraction(kind, domain.SeverityMedium)})
		assert.Equal(t, LevelExtreme, d.Level, kind)
		assert.Equal(t, domain.ActionBan, d.Action, kind)
		assert.Equal(t, ExtremeViolations, d.Violations, kind)
		assert.Zero(t, d.DurationSecs, kind)
	}
}

func TestDecideExtremeContent(t *testing.T) {
	proc := newTestProcessor()

	for _, msg := range []string{"Știu unde stai, ai grijă", "VIN DUPĂ TINE", "I know where you live"} {
		inf := infraction("Harassment", domain.SeverityLow)
		inf.Message = msg
		d := proc.Decide(&DecisionInput{Infraction: inf})
		assert.Equal(t, LevelExtreme, d.Level, msg)
		assert.Equal(t, domain.ActionBan, d.Action, msg)
	}

	inf := infraction("Harassment", domain.SeverityLow)
	inf.Message = "te rog să te oprești"
	d := proc.Decide(&DecisionInput{Infraction: inf})
	assert.Equal(t, 1, d.Level)

	assert.False(t, IsExtremeContent(""))
}

func TestSummarize(t *testing.T) {
	action := func(level int, source string) *domain.ModerationAction {
		return &domain.ModerationAction{Level: level, Source: source, CreatedAt: fixedNow}
	}

	stats := Summarize([]*domain.ModerationAction{
		action(1, domain.SourceEscalation),
		action(1, domain.SourceEscalation),
		action(2, domain.SourceEscalation),
		action(2, domain.SourceEscalation),
		action(5, domain.SourceEscalation),
		action(0, domain.SourceEscalation),
		action(0, domain.SourceOperator),
		action(3, domain.SourceOperator),
	}, 30)

	assert.Equal(t, 30, stats.Days)
	assert.Equal(t, 5, stats.TotalViolations)
	assert.Equal(t, map[int]int{1: 2, 2: 2, 5: 1}, stats.LevelDistribution)
	assert.Equal(t, 1, stats.MostCommonLevel)
	assert.InDelta(t, 1.0/3.0, stats.EscalationRate, 1e-9)

	empty := Summarize(nil, 7)
	assert.Zero(t, empty.TotalViolations)
	assert.Equal(t, 1, empty.MostCommonLevel)
	assert.Zero(t, empty.EscalationRate)
	assert.NotNil(t, empty.LevelDistribution)
}

func TestDecideWhitelisted(t *testing.T) {
	d := newTestProcessor().Decide(&DecisionInput{
		Infraction:         infraction("doxxing", domain.SeveritySevere),
		PriorViolations24h: 5,
		Whitelisted:        true,
	})
	assert.Equal(t, LevelWhitelisted, d.Level)
	assert.Equal(t, domain.ActionWhitelistSkip, d.Action)
	assert.Empty(t, d.EducationalMessage)
}

func TestNormalizeCategory(t *testing.T) {
	tests := map[string]string{
		"Spam":              "spam",
		"Hate speech":       "hate_speech",
		"  Threat  serious": "threat_serious",
		"nsfw-explicit":     "nsfw_explicit",
		"":                  "general",
		"   ":               "general",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeCategory(in), "input %q", in)
	}
}

func TestEducational(t *testing.T) {
	t.Run("template by category", func(t *testing.T) {
		msg := Educational("Harassment", 1)
		assert.Equal(t, "harassment", msg.Category)
		assert.Equal(t, "Unfriendly Communication", msg.Title)
		assert.Len(t, msg.Suggestions, 4)
		assert.True(t, strings.HasPrefix(msg.MainMessage, "We noticed your message could be improved."))
	})

	t.Run("prefix match", func(t *testing.T) {
		assert.Equal(t, "spam", Educational("spam_minor", 2).Category)
		assert.Equal(t, "hate_speech", Educational("Hate speech severe", 2).Category)
	})

	t.Run("unknown falls back to general", func(t *testing.T) {
		assert.Equal(t, "general", Educational("Off topic", 1).Category)
	})

	t.Run("intensity grows with level", func(t *testing.T) {
		assert.Contains(t, Educational("spam", 2).MainMessage, "second time")
		assert.Contains(t, Educational("spam", 3).MainMessage, "violation number 3")
		assert.Contains(t, Educational("spam", 5).MainMessage, "violation number 5")
	})

	t.Run("suggestions are copied", func(t *testing.T) {
		msg := Educational("spam", 1)
		msg.Suggestions[0] = "changed"
		assert.NotEqual(t, "changed", Educational("spam", 1).Suggestions[0])
	})
}

func TestCurrentLevel(t *testing.T) {
	assert.Equal(t, 0, CurrentLevel(0))
	assert.Equal(t, 2, CurrentLevel(1))
	assert.Equal(t, 6, CurrentLevel(5))
	assert.Equal(t, 6, CurrentLevel(40))
}

func TestStepFor(t *testing.T) {
	require.Equal(t, domain.ActionWarning, StepFor(-1).Action)
	require.Equal(t, domain.ActionTempBan, StepFor(9).Action)
	require.Equal(t, 1800, StepFor(4).DurationSecs)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		secs int
		want string
	}{
		{0, "N/A"},
		{-5, "N/A"},
		{45, "45s"},
		{300, "5m"},
		{1800, "30m"},
		{3600, "1h"},
		{5400, "1h 30m"},
		{86400, "1d"},
		{90000, "1d 1h"},
		{7 * 86400, "7d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.secs), "seconds=%d", tt.secs)
	}
}
