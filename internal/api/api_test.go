package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-community/heron/internal/bus"
	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/moderation"
	"github.com/opensource-community/heron/internal/repository"
	"github.com/opensource-community/heron/internal/risk"
	"github.com/opensource-community/heron/internal/rules"
	"github.com/opensource-community/heron/internal/worker"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type testEnv struct {
	server  *Server
	service *moderation.Service
	repo    *repository.MemoryRepository
	bus     *bus.ChannelBus
}

// createTestServer creates a server over a seeded in-memory store.
func createTestServer(t *testing.T, cfg domain.ServerConfig) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewMemory()
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	svc := moderation.NewService(repo, risk.NewEngine(risk.WithClock(clock)),
		moderation.WithBus(eventBus),
		moderation.WithClock(clock),
	)
	engine, err := rules.NewEngine(func(ctx context.Context, userID int64, window time.Duration) (int, error) {
		return svc.Velocity().CountSince(ctx, userID, window)
	}, 4)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	moderation.WithRules(engine)(svc)

	if _, err := svc.LoadRules(ctx); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if _, err := svc.Seed(ctx); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	server := NewServer(cfg, svc, repo, nil, eventBus, "test-v1")
	return &testEnv{server: server, service: svc, repo: repo, bus: eventBus}
}

func defaultConfig() domain.ServerConfig {
	return domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	t.Run("Health", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/health", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp map[string]string
		decode(t, rr, &resp)
		if resp["status"] != "healthy" || resp["version"] != "test-v1" {
			t.Errorf("unexpected health response: %v", resp)
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected a request id header")
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/ready", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp struct {
			Ready  bool              `json:"ready"`
			Checks map[string]string `json:"checks"`
		}
		decode(t, rr, &resp)
		if !resp.Ready || resp.Checks["repository"] != "ok" || resp.Checks["eventBus"] != "ok" {
			t.Errorf("unexpected ready response: %+v", resp)
		}
	})

	t.Run("NotReadyAfterClose", func(t *testing.T) {
		env.repo.Close()
		rr := env.do(t, http.MethodGet, "/ready", nil)
		expectStatus(t, rr, http.StatusServiceUnavailable)
	})
}

func TestListUsersEndpoint(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	t.Run("OrderedByRisk", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/users", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp struct {
			Users []domain.User `json:"users"`
			Count int           `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != 5 || len(resp.Users) != 5 {
			t.Fatalf("expected 5 users, got %d", resp.Count)
		}
		if resp.Users[0].Username != "ProblematicMember" || resp.Users[0].RiskScore != 43 {
			t.Errorf("unexpected first user: %+v", resp.Users[0])
		}
	})

	t.Run("FilterByLevel", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/users?level=low&limit=2", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp struct {
			Count int `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 users, got %d", resp.Count)
		}
	})

	t.Run("Search", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/users?q=gamer", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp struct {
			Users []domain.User `json:"users"`
		}
		decode(t, rr, &resp)
		if len(resp.Users) != 1 || resp.Users[0].ID != 3 {
			t.Errorf("unexpected search result: %+v", resp.Users)
		}
	})

	t.Run("BadParameters", func(t *testing.T) {
		expectStatus(t, env.do(t, http.MethodGet, "/api/users?level=critical", nil), http.StatusBadRequest)
		expectStatus(t, env.do(t, http.MethodGet, "/api/users?limit=many", nil), http.StatusBadRequest)
	})
}

func TestRiskAnalysisEndpoint(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	rr := env.do(t, http.MethodGet, "/api/users/risk-analysis", nil)
	expectStatus(t, rr, http.StatusOK)

	var resp struct {
		Users []struct {
			ID        int64          `json:"id"`
			RiskScore int            `json:"riskScore"`
			Breakdown risk.Breakdown `json:"breakdown"`
		} `json:"users"`
	}
	decode(t, rr, &resp)
	if len(resp.Users) != 5 {
		t.Fatalf("expected 5 users, got %d", len(resp.Users))
	}
	first := resp.Users[0]
	if first.ID != 5 || first.Breakdown.Score != 43 || first.Breakdown.SevereInfractions != 2 {
		t.Errorf("unexpected first entry: %+v", first)
	}
}

func TestGetUserEndpoint(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	rr := env.do(t, http.MethodGet, "/api/users/1", nil)
	expectStatus(t, rr, http.StatusOK)

	var user domain.User
	decode(t, rr, &user)
	if user.Username != "ToxicUser123" || len(user.Infractions) != 3 {
		t.Errorf("unexpected user: %+v", user)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/users/99", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, "/api/users/abc", nil), http.StatusBadRequest)

	rr = env.do(t, http.MethodGet, "/api/users/1/stats", nil)
	expectStatus(t, rr, http.StatusOK)
	var stats domain.UserStats
	decode(t, rr, &stats)
	if stats.TotalViolations != 3 || stats.RiskScore != 19 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCreateUserEndpoint(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	body := map[string]any{
		"id":            10,
		"username":      "Newcomer",
		"discriminator": "4242",
		"riskScore":     90,
		"totalMessages": 100,
		"toxicMessages": 50,
	}
	rr := env.do(t, http.MethodPost, "/api/users", body)
	expectStatus(t, rr, http.StatusCreated)

	var user domain.User
	decode(t, rr, &user)
	if user.RiskScore != 30 || user.RiskLevel != domain.RiskLow {
		t.Errorf("score must be derived, got %d (%s)", user.RiskScore, user.RiskLevel)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/users", body), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, "/api/users", `{"id":11}`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/users", `{{`), http.StatusBadRequest)
}

func TestSetRiskEndpoint(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	t.Run("NumericString", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/api/users/2/risk", `{"riskScore":"75"}`)
		expectStatus(t, rr, http.StatusOK)

		var user domain.User
		decode(t, rr, &user)
		if user.RiskScore != 75 || user.RiskLevel != domain.RiskHigh {
			t.Errorf("unexpected user: %d (%s)", user.RiskScore, user.RiskLevel)
		}
	})

	t.Run("InvalidLeavesUserUnchanged", func(t *testing.T) {
		for _, body := range []string{`{"riskScore":"abc"}`, `{"riskScore":101}`, `{"riskScore":-1}`, `{"riskScore":50.5}`, `{}`} {
			rr := env.do(t, http.MethodPut, "/api/users/2/risk", body)
			expectStatus(t, rr, http.StatusBadRequest)

			var resp map[string]string
			decode(t, rr, &resp)
			if resp["error"] == "" {
				t.Errorf("%s: expected an error message", body)
			}
		}

		user, err := env.repo.GetUser(context.Background(), 2)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if user.RiskScore != 75 {
			t.Errorf("user changed by invalid input: %d", user.RiskScore)
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		expectStatus(t, env.do(t, http.MethodPut, "/api/users/99/risk", `{"riskScore":10}`), http.StatusNotFound)
	})
}

func TestApplyInfractionEndpoint(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	rr := env.do(t, http.MethodPost, "/api/users/4/infractions", map[string]string{
		"type":     "Spam",
		"message":  "buy now",
		"severity": "low",
	})
	expectStatus(t, rr, http.StatusOK)

	var result struct {
		User     domain.User             `json:"user"`
		Decision domain.Decision         `json:"decision"`
		Action   domain.ModerationAction `json:"action"`
	}
	decode(t, rr, &result)
	// 2 toxic of 45 messages and one recent infraction
	if result.User.ToxicMessages != 2 || result.User.RiskScore != 8 {
		t.Errorf("unexpected user: toxic=%d score=%d", result.User.ToxicMessages, result.User.RiskScore)
	}
	if result.Decision.Level != 1 || result.Decision.Action != domain.ActionWarning {
		t.Errorf("unexpected decision: %+v", result.Decision)
	}
	if result.Action.Source != domain.SourceEscalation || result.Action.Sequence != 1 {
		t.Errorf("unexpected action: %+v", result.Action)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/users/4/infractions", `{"type":"Spam","severity":"extreme"}`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/users/99/infractions", `{"type":"Spam","severity":"low"}`), http.StatusNotFound)
}

func TestExportImportEndpoints(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	rr := env.do(t, http.MethodGet, "/api/users/1/export", nil)
	expectStatus(t, rr, http.StatusOK)

	disposition := rr.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, `filename="user_ToxicUser123_data.json"`) {
		t.Errorf("unexpected Content-Disposition: %q", disposition)
	}
	exported := rr.Body.Bytes()

	var doc map[string]any
	if err := json.Unmarshal(exported, &doc); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	doc["username"] = "Renamed"
	doc["riskScore"] = 55
	modified, _ := json.Marshal(doc)

	rr = env.do(t, http.MethodPost, "/api/users/import", modified)
	expectStatus(t, rr, http.StatusOK)

	var user domain.User
	decode(t, rr, &user)
	if user.Username != "Renamed" || user.RiskScore != 55 || user.RiskLevel != domain.RiskMedium {
		t.Errorf("unexpected imported user: %+v", user)
	}
	if len(user.Infractions) != 3 {
		t.Errorf("expected 3 infractions, got %d", len(user.Infractions))
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/users/import", `not json`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/users/import", `{"id":1,"username":"x","riskScore":500}`), http.StatusBadRequest)
}

func TestActionEndpoints(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	t.Run("Warning", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/users/3/actions/warning", nil)
		expectStatus(t, rr, http.StatusCreated)

		var action domain.ModerationAction
		decode(t, rr, &action)
		if action.Kind != domain.ActionWarning || action.Source != domain.SourceOperator || action.Message == "" {
			t.Errorf("unexpected action: %+v", action)
		}
	})

	t.Run("Education", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/users/3/actions/education", `{"category":"spam"}`)
		expectStatus(t, rr, http.StatusCreated)

		var resp struct {
			Action  domain.ModerationAction `json:"action"`
			Message struct {
				Category string `json:"category"`
				Title    string `json:"title"`
			} `json:"message"`
		}
		decode(t, rr, &resp)
		if resp.Action.Kind != domain.ActionEducation || resp.Message.Category != "spam" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/users/3/actions/timeout", `{"hours":24}`)
		expectStatus(t, rr, http.StatusCreated)

		var action domain.ModerationAction
		decode(t, rr, &action)
		if action.Kind != domain.ActionTimeout || action.DurationSecs != 86400 {
			t.Errorf("unexpected action: %+v", action)
		}

		for _, body := range []string{`{"hours":0}`, `{"hours":-2}`, `{"hours":1000}`, `{}`} {
			expectStatus(t, env.do(t, http.MethodPost, "/api/users/3/actions/timeout", body), http.StatusBadRequest)
		}
		expectStatus(t, env.do(t, http.MethodPost, "/api/users/99/actions/timeout", `{"hours":1}`), http.StatusNotFound)
	})

	t.Run("History", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/users/3/actions", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp struct {
			Actions []domain.ModerationAction `json:"actions"`
			Count   int                       `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != 3 {
			t.Fatalf("expected 3 actions, got %d", resp.Count)
		}
		if resp.Actions[0].Sequence != 3 {
			t.Errorf("newest action should carry sequence 3, got %d", resp.Actions[0].Sequence)
		}
	})
}

func TestResetAndEscalationStatsEndpoints(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	level := func() int {
		t.Helper()
		rr := env.do(t, http.MethodPost, "/api/users/4/infractions", `{"type":"Spam","severity":"low"}`)
		expectStatus(t, rr, http.StatusOK)
		var result struct {
			Decision domain.Decision `json:"decision"`
		}
		decode(t, rr, &result)
		return result.Decision.Level
	}

	level()
	if got := level(); got < 2 {
		t.Fatalf("expected the ladder to climb, got level %d", got)
	}

	rr := env.do(t, http.MethodPost, "/api/users/4/actions/reset", `{"resetBy":"head-mod"}`)
	expectStatus(t, rr, http.StatusCreated)
	var action domain.ModerationAction
	decode(t, rr, &action)
	if action.Kind != domain.ActionViolationsReset {
		t.Errorf("unexpected action: %+v", action)
	}
	if got := level(); got != 1 {
		t.Errorf("expected level 1 after reset, got %d", got)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/users/4/actions/reset", `{}`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/users/99/actions/reset", `{"resetBy":"mod"}`), http.StatusNotFound)

	rr = env.do(t, http.MethodGet, "/api/escalation/stats", nil)
	expectStatus(t, rr, http.StatusOK)
	var stats domain.EscalationStats
	decode(t, rr, &stats)
	if stats.Days != 30 || stats.TotalViolations != 3 || stats.LevelDistribution[1] != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/escalation/stats?days=7", nil), http.StatusOK)
	for _, q := range []string{"abc", "-1", "400"} {
		expectStatus(t, env.do(t, http.MethodGet, "/api/escalation/stats?days="+q, nil), http.StatusBadRequest)
	}
}

func TestRewardEndpoints(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	rr := env.do(t, http.MethodPost, "/api/users/1/rewards", `{"points":60,"reason":"ran the community event"}`)
	expectStatus(t, rr, http.StatusCreated)
	var reward moderation.RewardResult
	decode(t, rr, &reward)
	if reward.TotalPoints != 60 || len(reward.Milestones) != 1 {
		t.Errorf("unexpected reward: %+v", reward)
	}

	for _, body := range []string{`{"points":0,"reason":"x"}`, `{"points":1001,"reason":"x"}`, `{"points":5}`} {
		expectStatus(t, env.do(t, http.MethodPost, "/api/users/1/rewards", body), http.StatusBadRequest)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/users/99/rewards", `{"points":5,"reason":"x"}`), http.StatusNotFound)

	rr = env.do(t, http.MethodPost, "/api/users/2/messages", `{"content":"thank you, great idea, very helpful"}`)
	expectStatus(t, rr, http.StatusOK)
	var scored moderation.PositiveMessageResult
	decode(t, rr, &scored)
	if !scored.Analysis.Positive || scored.Reward == nil || scored.Reward.TotalPoints != 2 {
		t.Errorf("unexpected scoring result: %+v", scored)
	}

	rr = env.do(t, http.MethodGet, "/api/leaderboard", nil)
	expectStatus(t, rr, http.StatusOK)
	var board struct {
		Leaderboard []moderation.LeaderboardEntry `json:"leaderboard"`
		Count       int                           `json:"count"`
	}
	decode(t, rr, &board)
	if board.Count != 2 || board.Leaderboard[0].UserID != 1 || board.Leaderboard[0].Milestones != 1 {
		t.Errorf("unexpected leaderboard: %+v", board)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/leaderboard?limit=500", nil), http.StatusBadRequest)

	rr = env.do(t, http.MethodGet, "/api/users/1/profile", nil)
	expectStatus(t, rr, http.StatusOK)
	var profile moderation.Profile
	decode(t, rr, &profile)
	if profile.TotalPoints != 60 || len(profile.Milestones) != 1 || len(profile.RecentTransactions) != 1 {
		t.Errorf("unexpected profile: %+v", profile)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/users/99/profile", nil), http.StatusNotFound)
}

func TestWhitelistEndpoints(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	rr := env.do(t, http.MethodPost, "/api/users/2/whitelist", `{"addedBy":"mod","reason":"trusted helper"}`)
	expectStatus(t, rr, http.StatusCreated)

	rr = env.do(t, http.MethodGet, "/api/whitelist", nil)
	expectStatus(t, rr, http.StatusOK)
	var resp struct {
		Count int `json:"count"`
	}
	decode(t, rr, &resp)
	if resp.Count != 1 {
		t.Errorf("expected 1 entry, got %d", resp.Count)
	}

	rr = env.do(t, http.MethodPost, "/api/users/2/infractions", `{"type":"Spam","severity":"low"}`)
	expectStatus(t, rr, http.StatusOK)
	var result struct {
		Decision domain.Decision `json:"decision"`
	}
	decode(t, rr, &result)
	if result.Decision.Action != domain.ActionWhitelistSkip {
		t.Errorf("expected whitelist_skip, got %s", result.Decision.Action)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/api/users/2/whitelist", nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/users/2/whitelist", nil), http.StatusNotFound)
}

func TestStatsEndpoint(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	rr := env.do(t, http.MethodGet, "/api/stats", nil)
	expectStatus(t, rr, http.StatusOK)

	var stats domain.DashboardStats
	decode(t, rr, &stats)
	if stats.Users != 5 || stats.ByLevel[domain.RiskMedium] != 1 || stats.ByLevel[domain.RiskLow] != 4 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.ByLevel[domain.RiskHigh] != 0 {
		t.Errorf("expected no high risk users: %+v", stats.ByLevel)
	}
}

func TestEventsEndpoint(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	w := worker.NewWorker(env.bus, env.service)
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	rr := env.do(t, http.MethodPost, "/api/events", `{"type":"new_infraction","payload":{"userId":4,"infraction":{"type":"Spam","severity":"low"}}}`)
	expectStatus(t, rr, http.StatusAccepted)

	deadline := time.Now().Add(2 * time.Second)
	for {
		user, err := env.repo.GetUser(context.Background(), 4)
		if err == nil && len(user.Infractions) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queued infraction was not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/events", `{"type":"mystery","payload":{}}`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/events", `{"type":"stats_update"}`), http.StatusBadRequest)
}

func TestRulesEndpoints(t *testing.T) {
	env := createTestServer(t, defaultConfig())
	builtin := len(rules.BuiltinRules())

	t.Run("ListBuiltins", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/rules", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp struct {
			Count int `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != builtin {
			t.Errorf("expected %d rules, got %d", builtin, resp.Count)
		}
	})

	t.Run("Create", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/rules", CreateRuleRequest{
			ID:         "silent-lurker",
			Name:       "Silent lurker",
			Expression: "total_messages == 0",
		})
		expectStatus(t, rr, http.StatusCreated)

		var resp struct {
			Rule  domain.RuleConfig `json:"rule"`
			Count int               `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != builtin+1 || !resp.Rule.Enabled || resp.Rule.Version != "1.0.0" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/rules", CreateRuleRequest{
			ID:         "broken",
			Name:       "Broken",
			Expression: "risk_score >",
		})
		expectStatus(t, rr, http.StatusBadRequest)
		expectStatus(t, env.do(t, http.MethodPost, "/api/rules", `{"name":"no id"}`), http.StatusBadRequest)
	})

	t.Run("Reload", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/rules/reload", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp struct {
			Count int `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != builtin+1 {
			t.Errorf("expected %d rules after reload, got %d", builtin+1, resp.Count)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := createTestServer(t, defaultConfig())

	env.do(t, http.MethodGet, "/api/users", nil)

	rr := env.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "heron_http_request_duration_seconds") {
		t.Error("expected request duration histogram in exposition")
	}
}

func TestRateLimit(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimit = 0.001
	cfg.Burst = 1
	env := createTestServer(t, cfg)

	expectStatus(t, env.do(t, http.MethodPost, "/api/users/3/actions/warning", nil), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPost, "/api/users/3/actions/warning", nil), http.StatusTooManyRequests)

	// reads are not limited
	expectStatus(t, env.do(t, http.MethodGet, "/api/users/3", nil), http.StatusOK)
}

func TestCORSPreflight(t *testing.T) {
	preflight := func(env *testEnv, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/users/1/risk", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		return rr
	}

	t.Run("any origin without credentials", func(t *testing.T) {
		rr := preflight(createTestServer(t, defaultConfig()), "http://dashboard.local")
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("unexpected allowed origin %q", got)
		}
		if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "" {
			t.Errorf("credentials must not be allowed for any origin, got %q", got)
		}
	})

	t.Run("configured origins", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.AllowedOrigins = []string{"http://dashboard.local"}
		env := createTestServer(t, cfg)

		rr := preflight(env, "http://dashboard.local")
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
			t.Errorf("unexpected allowed origin %q", got)
		}
		if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("expected credentials for a listed origin, got %q", got)
		}

		rr = preflight(env, "http://evil.example")
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("unlisted origin must not be allowed, got %q", got)
		}
		if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "" {
			t.Errorf("unlisted origin must not get credentials, got %q", got)
		}
	})
}

func TestDashboardWebSocket(t *testing.T) {
	env := createTestServer(t, defaultConfig())
	hub := env.server.Hub()
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("hub start failed: %v", err)
	}
	defer hub.Close()

	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/dashboard"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rr := env.do(t, http.MethodPut, "/api/users/4/risk", `{"riskScore":42}`)
	expectStatus(t, rr, http.StatusOK)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type    domain.EventType `json:"type"`
		Payload domain.User      `json:"payload"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ev.Type != domain.EventUserUpdated || ev.Payload.ID != 4 || ev.Payload.RiskScore != 42 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestDashboardWebSocketOrigin(t *testing.T) {
	cfg := defaultConfig()
	cfg.AllowedOrigins = []string{"http://dashboard.local"}
	env := createTestServer(t, cfg)

	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/dashboard"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("expected the handshake from an unlisted origin to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://dashboard.local"}})
	if err != nil {
		t.Fatalf("dial from a listed origin failed: %v", err)
	}
	conn.Close()
}
