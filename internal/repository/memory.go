package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opensource-community/heron/internal/domain"
)

// MemoryRepository implements domain.Repository in process memory.
// Records are copied on the way in and out.
type MemoryRepository struct {
	mu        sync.RWMutex
	users     map[int64]*domain.User
	actions   map[int64][]*domain.ModerationAction
	whitelist map[int64]*domain.WhitelistEntry
	rewards   map[int64][]*domain.RewardTransaction
	rules     map[string]*domain.RuleConfig
	stats     *domain.ServerStats
	closed    bool
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[int64]*domain.User),
		actions:   make(map[int64][]*domain.ModerationAction),
		whitelist: make(map[int64]*domain.WhitelistEntry),
		rewards:   make(map[int64][]*domain.RewardTransaction),
		rules:     make(map[string]*domain.RuleConfig),
	}
}

func (m *MemoryRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; ok {
		return fmt.Errorf("%w: user %d", ErrConflict, user.ID)
	}
	m.users[user.ID] = storedCopy(user)
	return nil
}

func (m *MemoryRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[user.ID] = storedCopy(user)
	return nil
}

func (m *MemoryRepository) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *MemoryRepository) ListUsers(ctx context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := searchKey(filter.Search)
	var users []*domain.User
	for _, u := range m.users {
		if filter.Level != "" && u.RiskLevel != filter.Level {
			continue
		}
		if search != "" &&
			!strings.Contains(searchKey(u.Username), search) &&
			!strings.Contains(searchKey(u.Discriminator), search) {
			continue
		}
		users = append(users, u.Clone())
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].RiskScore != users[j].RiskScore {
			return users[i].RiskScore > users[j].RiskScore
		}
		return users[i].ID < users[j].ID
	})

	if filter.Limit > 0 && len(users) > filter.Limit {
		users = users[:filter.Limit]
	}
	return users, nil
}

func (m *MemoryRepository) AppendInfraction(ctx context.Context, user *domain.User, infraction domain.Infraction) error {
	if user == nil || user.ID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := storedCopy(user)
	var history []domain.Infraction
	if prev, ok := m.users[user.ID]; ok {
		history = prev.Infractions
	}
	stored.Infractions = append([]domain.Infraction{infraction}, history...)
	m.users[user.ID] = stored
	return nil
}

func (m *MemoryRepository) ListInfractionsSince(ctx context.Context, userID int64, since time.Time) ([]domain.Infraction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []domain.Infraction{}
	u, ok := m.users[userID]
	if !ok {
		return result, nil
	}
	cutoff := since.Unix()
	for _, inf := range u.Infractions {
		if unix, ok := inf.Date.Unix(); ok && unix > cutoff {
			result = append(result, inf)
		}
	}
	return result, nil
}

func (m *MemoryRepository) CountInfractions(ctx context.Context, userID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.users[userID]; ok {
		return len(u.Infractions), nil
	}
	return 0, nil
}

func (m *MemoryRepository) SaveAction(ctx context.Context, action *domain.ModerationAction) error {
	if action == nil || action.ID == "" {
		return fmt.Errorf("%w: action id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a := *action
	m.actions[action.UserID] = append(m.actions[action.UserID], &a)
	return nil
}

func (m *MemoryRepository) ListActions(ctx context.Context, userID int64) ([]*domain.ModerationAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.actions[userID]
	actions := make([]*domain.ModerationAction, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		a := *stored[i]
		actions = append(actions, &a)
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].CreatedAt.After(actions[j].CreatedAt)
	})
	return actions, nil
}

func (m *MemoryRepository) ListActionsSince(ctx context.Context, since time.Time) ([]*domain.ModerationAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var actions []*domain.ModerationAction
	for _, stored := range m.actions {
		for _, a := range stored {
			if a.CreatedAt.Before(since) {
				continue
			}
			c := *a
			actions = append(actions, &c)
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Sequence > b.Sequence
	})
	return actions, nil
}

func (m *MemoryRepository) SaveRewardTransaction(ctx context.Context, tx *domain.RewardTransaction) error {
	if tx == nil || tx.ID == "" || tx.UserID <= 0 {
		return fmt.Errorf("%w: reward id and user id are required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *tx
	m.rewards[tx.UserID] = append(m.rewards[tx.UserID], &c)
	return nil
}

func (m *MemoryRepository) ListRewardTransactions(ctx context.Context, userID int64) ([]*domain.RewardTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.rewards[userID]
	txs := make([]*domain.RewardTransaction, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		c := *stored[i]
		txs = append(txs, &c)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
	return txs, nil
}

func (m *MemoryRepository) ListRewardTotals(ctx context.Context, limit int) ([]domain.RewardTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make([]domain.RewardTotal, 0, len(m.rewards))
	for userID, txs := range m.rewards {
		t := domain.RewardTotal{UserID: userID, Transactions: len(txs)}
		for _, tx := range txs {
			t.Points += tx.Points
		}
		totals = append(totals, t)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Points != totals[j].Points {
			return totals[i].Points > totals[j].Points
		}
		return totals[i].UserID < totals[j].UserID
	})
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

func (m *MemoryRepository) AddToWhitelist(ctx context.Context, entry *domain.WhitelistEntry) error {
	if entry == nil || entry.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *entry
	m.whitelist[entry.UserID] = &e
	return nil
}

func (m *MemoryRepository) RemoveFromWhitelist(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.whitelist[userID]; !ok {
		return ErrNotFound
	}
	delete(m.whitelist, userID)
	return nil
}

func (m *MemoryRepository) IsWhitelisted(ctx context.Context, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.whitelist[userID]
	return ok, nil
}

func (m *MemoryRepository) ListWhitelist(ctx context.Context) ([]*domain.WhitelistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*domain.WhitelistEntry, 0, len(m.whitelist))
	for _, e := range m.whitelist {
		c := *e
		entries = append(entries, &c)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries, nil
}

func (m *MemoryRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *rule
	c.Bands = append([]domain.RuleBand(nil), rule.Bands...)
	m.rules[rule.ID+"@"+rule.Version] = &c
	return nil
}

func (m *MemoryRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]*domain.RuleConfig, 0, len(m.rules))
	for _, r := range m.rules {
		c := *r
		c.Bands = append([]domain.RuleBand(nil), r.Bands...)
		configs = append(configs, &c)
	}
	return latestRuleVersions(configs), nil
}

func (m *MemoryRepository) SaveServerStats(ctx context.Context, stats *domain.ServerStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *stats
	m.stats = &s
	return nil
}

func (m *MemoryRepository) GetServerStats(ctx context.Context) (*domain.ServerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stats == nil {
		return nil, ErrNotFound
	}
	s := *m.stats
	return &s, nil
}

func (m *MemoryRepository) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("repository closed")
	}
	return nil
}

func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func storedCopy(user *domain.User) *domain.User {
	c := user.Clone()
	if c.Infractions == nil {
		c.Infractions = []domain.Infraction{}
	}
	return c
}
