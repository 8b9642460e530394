package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-community/heron/internal/cache"
	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/repository"
	"github.com/opensource-community/heron/internal/risk"
	"github.com/opensource-community/heron/internal/rules"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// recordingBus captures published payloads per topic.
type recordingBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: make(map[string][][]byte)}
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Ping(ctx context.Context) error { return nil }
func (b *recordingBus) Close() error                   { return nil }

func (b *recordingBus) messages(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[topic]...)
}

type fixture struct {
	svc  *Service
	repo *repository.MemoryRepository
	bus  *recordingBus
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	repo := repository.NewMemory()
	bus := newRecordingBus()
	base := []Option{
		WithCache(cache.NewLRUCache(100)),
		WithBus(bus),
		WithClock(clock),
	}
	svc := NewService(repo, risk.NewEngine(risk.WithClock(clock)), append(base, opts...)...)
	return &fixture{svc: svc, repo: repo, bus: bus}
}

func daysAgo(n int) domain.Timestamp {
	return domain.NewTimestamp(fixedNow.Add(-time.Duration(n) * 24 * time.Hour))
}

func newUser(id int64, total, toxic int) *domain.User {
	return &domain.User{
		ID:            id,
		Username:      fmt.Sprintf("user%d", id),
		Discriminator: "0001",
		TotalMessages: total,
		ToxicMessages: toxic,
		Infractions:   []domain.Infraction{},
	}
}

func TestIngestUser(t *testing.T) {
	ctx := context.Background()

	t.Run("score is derived by the formula", func(t *testing.T) {
		f := newFixture(t)
		u := newUser(1, 156, 23)
		u.RiskScore = 85
		u.RiskLevel = domain.RiskHigh
		u.Infractions = []domain.Infraction{
			{Type: "Harassment", Date: daysAgo(2), Severity: domain.SeveritySevere},
			{Type: "Spam", Date: daysAgo(40), Severity: domain.SeverityMedium},
		}

		stored, err := f.svc.IngestUser(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, 24, stored.RiskScore)
		assert.Equal(t, domain.RiskLow, stored.RiskLevel)
		assert.Equal(t, 85, u.RiskScore, "input must not be mutated")

		got, err := f.svc.GetUser(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, stored, got)
		assert.Len(t, f.bus.messages(domain.TopicDashboard), 1)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IngestUser(ctx, newUser(1, 10, 0))
		require.NoError(t, err)
		_, err = f.svc.IngestUser(ctx, newUser(1, 10, 0))
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("invalid records are rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.IngestUser(ctx, newUser(0, 10, 0))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		noName := newUser(2, 10, 0)
		noName.Username = ""
		_, err = f.svc.IngestUser(ctx, noName)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		badSeverity := newUser(3, 10, 0)
		badSeverity.Infractions = []domain.Infraction{{Type: "Spam", Severity: "extreme"}}
		_, err = f.svc.IngestUser(ctx, badSeverity)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		negative := newUser(4, 10, -1)
		_, err = f.svc.IngestUser(ctx, negative)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = f.svc.IngestUser(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestApplyInfraction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.IngestUser(ctx, newUser(10, 20, 2))
	require.NoError(t, err)

	first, err := f.svc.ApplyInfraction(ctx, 10, domain.Infraction{Type: "Spam", Severity: domain.SeverityLow})
	require.NoError(t, err)

	assert.Equal(t, 3, first.User.ToxicMessages)
	assert.Equal(t, 14, first.User.RiskScore)
	assert.Equal(t, domain.RiskLow, first.User.RiskLevel)
	assert.True(t, first.User.Infractions[0].Date.Valid(), "missing date is stamped")
	assert.Equal(t, fixedNow, first.User.Infractions[0].Date.Time)

	require.NotNil(t, first.Decision)
	assert.Equal(t, 1, first.Decision.Level)
	assert.Equal(t, domain.ActionWarning, first.Decision.Action)
	require.NotNil(t, first.Action)
	assert.Equal(t, domain.SourceEscalation, first.Action.Source)
	assert.Equal(t, int64(1), first.Action.Sequence)

	second, err := f.svc.ApplyInfraction(ctx, 10, domain.Infraction{Type: "Harassment", Severity: domain.SeverityMedium, Date: daysAgo(0)})
	require.NoError(t, err)
	assert.Equal(t, 22, second.User.RiskScore)
	assert.Equal(t, 2, second.Decision.Level)
	assert.Equal(t, domain.ActionFinalWarning, second.Decision.Action)
	assert.Equal(t, int64(2), second.Action.Sequence)

	stored, err := f.repo.GetUser(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored.Infractions, 2)
	assert.Equal(t, "Harassment", stored.Infractions[0].Type, "most recent first")
	assert.Equal(t, 22, stored.RiskScore)

	cached, err := f.svc.GetUser(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 22, cached.RiskScore, "cache refreshed after mutation")

	assert.Len(t, f.bus.messages(domain.TopicDecision), 2)
	assert.Len(t, f.bus.messages(domain.TopicAction), 2)

	actions, err := f.svc.ListActions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestApplyInfractionEdgeCases(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ApplyInfraction(ctx, 99, domain.Infraction{Type: "Spam", Severity: domain.SeverityLow})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("invalid infraction", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IngestUser(ctx, newUser(1, 10, 0))
		require.NoError(t, err)

		_, err = f.svc.ApplyInfraction(ctx, 1, domain.Infraction{Severity: domain.SeverityLow})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		_, err = f.svc.ApplyInfraction(ctx, 1, domain.Infraction{Type: "Spam", Severity: "critical"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		u, err := f.repo.GetUser(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, u.Infractions)
	})

	t.Run("unparseable date is kept but not counted", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IngestUser(ctx, newUser(1, 100, 0))
		require.NoError(t, err)

		res, err := f.svc.ApplyInfraction(ctx, 1, domain.Infraction{
			Type:     "Harassment",
			Severity: domain.SeveritySevere,
			Date:     domain.ParseTimestamp("yesterday-ish"),
		})
		require.NoError(t, err)
		assert.Equal(t, "yesterday-ish", res.User.Infractions[0].Date.String())
		assert.Equal(t, 1, res.User.RiskScore, "only the toxicity term counts")
	})

	t.Run("whitelisted user is not escalated", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IngestUser(ctx, newUser(1, 10, 0))
		require.NoError(t, err)
		_, err = f.svc.AddToWhitelist(ctx, 1, "mod", "trusted")
		require.NoError(t, err)

		res, err := f.svc.ApplyInfraction(ctx, 1, domain.Infraction{Type: "Spam", Severity: domain.SeverityLow})
		require.NoError(t, err)
		assert.Equal(t, domain.ActionWhitelistSkip, res.Decision.Action)
		assert.Nil(t, res.Action)
		assert.Equal(t, 1, res.User.ToxicMessages, "score still updates")

		require.NoError(t, f.svc.RemoveFromWhitelist(ctx, 1))
		assert.ErrorIs(t, f.svc.RemoveFromWhitelist(ctx, 1), domain.ErrNotFound)
	})

	t.Run("extreme category bans", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IngestUser(ctx, newUser(1, 10, 0))
		require.NoError(t, err)

		res, err := f.svc.ApplyInfraction(ctx, 1, domain.Infraction{Type: "Doxxing", Severity: domain.SeveritySevere})
		require.NoError(t, err)
		assert.Equal(t, domain.ActionBan, res.Decision.Action)
		assert.Equal(t, domain.ActionBan, res.Action.Kind)
	})
}

func TestAdjustRisk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.IngestUser(ctx, newUser(1, 100, 10))
	require.NoError(t, err)

	u, err := f.svc.AdjustRisk(ctx, 1, "75")
	require.NoError(t, err)
	assert.Equal(t, 75, u.RiskScore)
	assert.Equal(t, domain.RiskHigh, u.RiskLevel)

	for _, bad := range []any{"abc", 50.5, 101, -1, nil, json.RawMessage(`true`)} {
		_, err := f.svc.AdjustRisk(ctx, 1, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "candidate %v", bad)
	}

	stored, err := f.svc.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 75, stored.RiskScore, "rejected overrides leave the user unchanged")
	assert.Equal(t, domain.RiskHigh, stored.RiskLevel)

	_, err = f.svc.AdjustRisk(ctx, 42, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.IngestUser(ctx, newUser(1, 100, 10))
	require.NoError(t, err)
	_, err = f.svc.AdjustRisk(ctx, 1, 75)
	require.NoError(t, err)

	name := "renamed"
	u, err := f.svc.UpdateUser(ctx, 1, domain.UserUpdates{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", u.Username)
	assert.Equal(t, 75, u.RiskScore, "override survives non-counter updates")

	toxic := 50
	u, err = f.svc.UpdateUser(ctx, 1, domain.UserUpdates{ToxicMessages: &toxic})
	require.NoError(t, err)
	assert.Equal(t, 30, u.RiskScore, "counter change recomputes")
	assert.Equal(t, domain.RiskLow, u.RiskLevel)

	neg := -5
	_, err = f.svc.UpdateUser(ctx, 1, domain.UserUpdates{TotalMessages: &neg})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	long := strings.Repeat("x", 101)
	_, err = f.svc.UpdateUser(ctx, 1, domain.UserUpdates{Username: &long})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	disc := "12345678901"
	_, err = f.svc.UpdateUser(ctx, 1, domain.UserUpdates{Discriminator: &disc})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	stored, err := f.svc.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Username, "rejected update leaves the user untouched")
	assert.Equal(t, "0001", stored.Discriminator)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u := newUser(7, 156, 23)
	u.LastSeen = domain.ParseTimestamp("2024-01-15T14:30:00")
	u.JoinDate = domain.ParseTimestamp("2023-06-15")
	u.ProgressData = [7]int{1, 2, 3, 4, 5, 6, 7}
	u.Infractions = []domain.Infraction{
		{Type: "Harassment", Message: "[removed]", Date: daysAgo(2), Action: "Final warning", Severity: domain.SeveritySevere},
		{Type: "Spam", Message: "gg gg", Date: domain.ParseTimestamp("not a date"), Action: "Warning", Severity: domain.SeverityLow},
	}
	_, err := f.svc.IngestUser(ctx, u)
	require.NoError(t, err)
	_, err = f.svc.AdjustRisk(ctx, 7, 55)
	require.NoError(t, err)

	exported, err := f.svc.ExportUser(ctx, 7)
	require.NoError(t, err)

	other := newFixture(t)
	imported, err := other.svc.ImportUser(ctx, exported)
	require.NoError(t, err)
	assert.Equal(t, 55, imported.RiskScore, "manual score survives import")

	again, err := other.svc.ExportUser(ctx, 7)
	require.NoError(t, err)
	assert.JSONEq(t, string(exported), string(again))

	original, err := f.repo.GetUser(ctx, 7)
	require.NoError(t, err)
	restored, err := other.repo.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	_, err = other.svc.ImportUser(ctx, []byte(`{"id": 1`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = other.svc.ImportUser(ctx, []byte(`{"id": 1, "username": "x", "riskScore": 140}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestOperatorActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.IngestUser(ctx, newUser(1, 10, 0))
	require.NoError(t, err)

	warning, err := f.svc.SendWarning(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionWarning, warning.Kind)
	assert.Equal(t, domain.SourceOperator, warning.Source)
	assert.NotEmpty(t, warning.Message)

	action, msg, err := f.svc.SendEducation(ctx, 1, "harassment")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionEducation, action.Kind)
	assert.Equal(t, "harassment", msg.Category)
	assert.Equal(t, msg.MainMessage, action.Message)

	timeout, err := f.svc.Timeout(ctx, 1, 24)
	require.NoError(t, err)
	assert.Equal(t, 86400, timeout.DurationSecs)
	assert.Equal(t, "Timeout 1d applied by a moderator", timeout.Message)
	assert.Equal(t, int64(3), timeout.Sequence)

	for _, hours := range []int{0, -2, MaxTimeoutHours + 1} {
		_, err := f.svc.Timeout(ctx, 1, hours)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "hours=%d", hours)
	}

	_, err = f.svc.SendWarning(ctx, 404, "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Len(t, f.bus.messages(domain.TopicAction), 3)
}

func TestActionSequenceWithoutCache(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	svc := NewService(repo, nil, WithClock(clock))

	_, err := svc.IngestUser(ctx, newUser(1, 10, 0))
	require.NoError(t, err)

	for want := int64(1); want <= 3; want++ {
		a, err := svc.SendWarning(ctx, 1, "")
		require.NoError(t, err)
		assert.Equal(t, want, a.Sequence)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	active := newUser(1, 100, 10)
	active.PositiveMessages = 5
	active.LastSeen = domain.NewTimestamp(fixedNow.Add(-time.Hour))
	_, err := f.svc.IngestUser(ctx, active)
	require.NoError(t, err)

	idle := newUser(2, 50, 0)
	idle.LastSeen = daysAgo(3)
	_, err = f.svc.IngestUser(ctx, idle)
	require.NoError(t, err)
	_, err = f.svc.AdjustRisk(ctx, 2, 80)
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 150, stats.TotalMessages)
	assert.Equal(t, 10, stats.ToxicMessages)
	assert.Equal(t, 5, stats.PositiveMessages)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, 1, stats.ByLevel[domain.RiskLow])
	assert.Equal(t, 1, stats.ByLevel[domain.RiskHigh])
	assert.Equal(t, 0, stats.ByLevel[domain.RiskMedium])
	assert.Equal(t, 43.0, stats.AverageRisk)
	assert.Nil(t, stats.Server)

	dashboard, err := f.svc.RecordStats(ctx, domain.ServerStats{TotalMessages: 1000, ToxicMessages: 40, ActiveUsers: 12})
	require.NoError(t, err)
	require.NotNil(t, dashboard.Server)
	assert.Equal(t, 1000, dashboard.Server.TotalMessages)
	assert.Equal(t, fixedNow, dashboard.Server.UpdatedAt)

	_, err = f.svc.RecordStats(ctx, domain.ServerStats{TotalMessages: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u := newUser(1, 100, 0)
	u.Infractions = []domain.Infraction{
		{Type: "Spam", Date: domain.NewTimestamp(fixedNow.Add(-2 * time.Hour)), Severity: domain.SeverityLow},
		{Type: "Spam", Date: domain.NewTimestamp(fixedNow.Add(-3 * time.Hour)), Severity: domain.SeverityLow},
		{Type: "Spam", Date: daysAgo(3), Severity: domain.SeverityLow},
		{Type: "Spam", Date: daysAgo(30), Severity: domain.SeverityLow},
	}
	_, err := f.svc.IngestUser(ctx, u)
	require.NoError(t, err)

	stats, err := f.svc.UserStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Violations24h)
	assert.Equal(t, 3, stats.Violations7d)
	assert.Equal(t, 4, stats.TotalViolations)
	assert.Equal(t, 3, stats.CurrentLevel)
	assert.Equal(t, "high", stats.ActivityLevel)
	assert.False(t, stats.IsWhitelisted)

	_, err = f.svc.UserStats(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListAndRiskAnalysis(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	n, err := f.svc.Seed(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	again, err := f.svc.Seed(ctx)
	require.NoError(t, err)
	assert.Zero(t, again, "seeding a non-empty store is a no-op")

	users, err := f.svc.ListUsers(ctx, domain.UserFilter{})
	require.NoError(t, err)
	ids := make([]int64, len(users))
	scores := make([]int, len(users))
	for i, u := range users {
		ids[i] = u.ID
		scores[i] = u.RiskScore
	}
	assert.Equal(t, []int64{5, 1, 3, 4, 2}, ids)
	assert.Equal(t, []int{43, 19, 2, 1, 0}, scores)

	medium, err := f.svc.ListUsers(ctx, domain.UserFilter{Level: domain.RiskMedium})
	require.NoError(t, err)
	require.Len(t, medium, 1)
	assert.Equal(t, "ProblematicMember", medium[0].Username)

	found, err := f.svc.ListUsers(ctx, domain.UserFilter{Search: "gamer"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(3), found[0].ID)

	_, err = f.svc.ListUsers(ctx, domain.UserFilter{Level: "critical"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	analysis, err := f.svc.RiskAnalysis(ctx, domain.UserFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, analysis, 2)
	assert.Equal(t, 2, analysis[0].Breakdown.SevereInfractions)
	assert.Equal(t, 43, analysis[0].Breakdown.Score)

	b, err := f.svc.Breakdown(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.SevereInfractions)
	assert.Zero(t, b.RecentInfractions)
}

func TestFlagRules(t *testing.T) {
	ctx := context.Background()

	repo := repository.NewMemory()
	bus := newRecordingBus()
	svc := NewService(repo, risk.NewEngine(risk.WithClock(clock)), WithBus(bus), WithClock(clock))
	engine, err := rules.NewEngine(func(ctx context.Context, userID int64, window time.Duration) (int, error) {
		return svc.Velocity().CountSince(ctx, userID, window)
	}, 4)
	require.NoError(t, err)
	WithRules(engine)(svc)

	loaded, err := svc.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(rules.BuiltinRules()), loaded)

	stored, err := repo.ListRuleConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, len(rules.BuiltinRules()), "builtin rules persisted on first load")

	u := newUser(1, 10, 6)
	u.Infractions = []domain.Infraction{
		{Type: "Threat", Date: daysAgo(1), Severity: domain.SeveritySevere},
		{Type: "Threat", Date: daysAgo(2), Severity: domain.SeveritySevere},
	}
	_, err = svc.IngestUser(ctx, u)
	require.NoError(t, err)

	res, err := svc.ApplyInfraction(ctx, 1, domain.Infraction{Type: "Threat", Severity: domain.SeveritySevere})
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Equal(t, domain.RiskHigh, res.User.RiskLevel)
	assert.NotEmpty(t, res.Alert.Reasons)
	assert.Len(t, bus.messages(domain.TopicAlert), 1)

	count, err := svc.SaveRule(ctx, &domain.RuleConfig{
		ID:         "positive-balance",
		Name:       "Positive balance",
		Expression: "positive_messages < toxic_messages",
		Enabled:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, len(rules.BuiltinRules())+1, count)
	assert.Len(t, svc.ListRules(), count)

	_, err = svc.SaveRule(ctx, &domain.RuleConfig{ID: "broken", Expression: "nope(", Enabled: true})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFlagRulesCanAllBeDisabled(t *testing.T) {
	ctx := context.Background()

	repo := repository.NewMemory()
	svc := NewService(repo, risk.NewEngine(risk.WithClock(clock)), WithClock(clock))
	engine, err := rules.NewEngine(func(ctx context.Context, userID int64, window time.Duration) (int, error) {
		return 0, nil
	}, 2)
	require.NoError(t, err)
	WithRules(engine)(svc)

	_, err = svc.LoadRules(ctx)
	require.NoError(t, err)

	for _, r := range rules.BuiltinRules() {
		r.Enabled = false
		_, err := svc.SaveRule(ctx, r)
		require.NoError(t, err)
	}

	loaded, err := svc.LoadRules(ctx)
	require.NoError(t, err)
	assert.Zero(t, loaded, "disabled rules stay disabled")
	assert.Empty(t, svc.ListRules())

	stored, err := repo.ListRuleConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, stored, len(rules.BuiltinRules()))
	for _, r := range stored {
		assert.False(t, r.Enabled, "rule %s re-enabled", r.ID)
	}
}

func TestResetViolations(t *testing.T) {
	ctx := context.Background()
	current := fixedNow
	f := newFixture(t, WithClock(func() time.Time { return current }))

	_, err := f.svc.IngestUser(ctx, newUser(20, 50, 5))
	require.NoError(t, err)

	apply := func() *InfractionResult {
		t.Helper()
		res, err := f.svc.ApplyInfraction(ctx, 20, domain.Infraction{Type: "Spam", Severity: domain.SeverityLow})
		require.NoError(t, err)
		current = current.Add(time.Minute)
		return res
	}

	assert.Equal(t, 1, apply().Decision.Level)
	second := apply()
	assert.Equal(t, 2, second.Decision.Level)
	assert.Equal(t, 2, second.Action.Level)

	action, err := f.svc.ResetViolations(ctx, 20, "moderator")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionViolationsReset, action.Kind)
	assert.Equal(t, domain.SourceOperator, action.Source)
	current = current.Add(time.Minute)

	third := apply()
	assert.Equal(t, 1, third.Decision.Level, "ladder restarts after a reset")
	assert.Len(t, third.User.Infractions, 3, "infractions are kept")

	_, err = f.svc.ResetViolations(ctx, 20, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.ResetViolations(ctx, 404, "moderator")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExtremeContentBan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.IngestUser(ctx, newUser(21, 10, 0))
	require.NoError(t, err)

	res, err := f.svc.ApplyInfraction(ctx, 21, domain.Infraction{
		Type:     "Harassment",
		Message:  "Știu unde stai.",
		Severity: domain.SeverityLow,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBan, res.Decision.Action)
	require.NotNil(t, res.Action)
	assert.Equal(t, 7, res.Action.Level)
}

func TestEscalationStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, id := range []int64{30, 31} {
		_, err := f.svc.IngestUser(ctx, newUser(id, 40, 2))
		require.NoError(t, err)
	}
	for range 2 {
		_, err := f.svc.ApplyInfraction(ctx, 30, domain.Infraction{Type: "Spam", Severity: domain.SeverityLow})
		require.NoError(t, err)
	}
	_, err := f.svc.ApplyInfraction(ctx, 31, domain.Infraction{Type: "Spam", Severity: domain.SeverityLow})
	require.NoError(t, err)
	_, err = f.svc.SendWarning(ctx, 31, "")
	require.NoError(t, err)
	_, err = f.svc.AddToWhitelist(ctx, 31, "admin", "trusted")
	require.NoError(t, err)

	stats, err := f.svc.EscalationStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultStatsDays, stats.Days)
	assert.Equal(t, 3, stats.TotalViolations)
	assert.Equal(t, map[int]int{1: 2, 2: 1}, stats.LevelDistribution)
	assert.Equal(t, 1, stats.MostCommonLevel)
	assert.Zero(t, stats.EscalationRate)
	assert.Equal(t, 1, stats.WhitelistCount)

	_, err = f.svc.EscalationStats(ctx, MaxStatsDays+1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.EscalationStats(ctx, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
