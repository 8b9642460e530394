// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/opensource-community/heron/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
	ErrConflict     = domain.ErrConflict
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != SQLiteMemoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const userColumns = `id, username, discriminator, risk_score, risk_level,
	total_messages, toxic_messages, positive_messages,
	last_seen, join_date, progress_data`

// CreateUser inserts a new user with its infraction history.
// Returns ErrConflict if the ID is taken.
func (r *SQLRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM users WHERE id = ?`), user.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: user %d", ErrConflict, user.ID)
		}
		if err := r.upsertUser(ctx, tx, user); err != nil {
			return err
		}
		return r.replaceInfractions(ctx, tx, user)
	})
}

// SaveUser creates or fully replaces a user and its infraction history.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.upsertUser(ctx, tx, user); err != nil {
			return err
		}
		return r.replaceInfractions(ctx, tx, user)
	})
}

// GetUser retrieves a user by ID.
func (r *SQLRepository) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, r.rebind(query), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	user.Infractions, err = r.loadInfractions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers retrieves users ordered by descending risk score.
func (r *SQLRepository) ListUsers(ctx context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	var (
		where []string
		args  []any
	)
	if filter.Level != "" {
		where = append(where, "risk_level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.Search != "" {
		where = append(where, `(username_key LIKE ? ESCAPE '\' OR discriminator_key LIKE ? ESCAPE '\')`)
		term := "%" + escapeLike(searchKey(filter.Search)) + "%"
		args = append(args, term, term)
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY risk_score DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, user := range users {
		if user.Infractions, err = r.loadInfractions(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// AppendInfraction stores infraction as the newest entry of the user's
// history together with the user's updated counters and score.
func (r *SQLRepository) AppendInfraction(ctx context.Context, user *domain.User, infraction domain.Infraction) error {
	if user == nil || user.ID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.upsertUser(ctx, tx, user); err != nil {
			return err
		}

		var next int64
		err := tx.QueryRowContext(ctx,
			r.rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM infractions WHERE user_id = ?`),
			user.ID,
		).Scan(&next)
		if err != nil {
			return err
		}
		return r.insertInfraction(ctx, tx, user.ID, next, infraction)
	})
}

// ListInfractionsSince returns the infractions of a user dated strictly
// after since, newest first. Infractions with unparseable dates are skipped.
func (r *SQLRepository) ListInfractionsSince(ctx context.Context, userID int64, since time.Time) ([]domain.Infraction, error) {
	query := `
		SELECT type, message, date_raw, action, severity
		FROM infractions
		WHERE user_id = ? AND date_unix IS NOT NULL AND date_unix > ?
		ORDER BY seq DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInfractions(rows)
}

// CountInfractions returns the total number of infractions of a user.
func (r *SQLRepository) CountInfractions(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM infractions WHERE user_id = ?`), userID).Scan(&n)
	return n, err
}

// SaveAction stores a moderation action.
func (r *SQLRepository) SaveAction(ctx context.Context, action *domain.ModerationAction) error {
	if action == nil || action.ID == "" {
		return fmt.Errorf("%w: action id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO moderation_actions (
			id, user_id, kind, duration_secs, message, source, sequence, level, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		action.ID, action.UserID, string(action.Kind), action.DurationSecs,
		action.Message, action.Source, action.Sequence, action.Level, action.CreatedAt.UTC(),
	)
	return err
}

const actionColumns = `id, user_id, kind, duration_secs, message, source, sequence, level, created_at`

// ListActions returns the moderation actions of a user, newest first.
func (r *SQLRepository) ListActions(ctx context.Context, userID int64) ([]*domain.ModerationAction, error) {
	query := `SELECT ` + actionColumns + `
		FROM moderation_actions
		WHERE user_id = ?
		ORDER BY created_at DESC, sequence DESC
	`
	return r.queryActions(ctx, query, userID)
}

// ListActionsSince returns the actions of all users created at or after
// since, newest first.
func (r *SQLRepository) ListActionsSince(ctx context.Context, since time.Time) ([]*domain.ModerationAction, error) {
	query := `SELECT ` + actionColumns + `
		FROM moderation_actions
		WHERE created_at >= ?
		ORDER BY created_at DESC, user_id, sequence DESC
	`
	return r.queryActions(ctx, query, since.UTC())
}

func (r *SQLRepository) queryActions(ctx context.Context, query string, args ...any) ([]*domain.ModerationAction, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*domain.ModerationAction
	for rows.Next() {
		var a domain.ModerationAction
		var kind string
		if err := rows.Scan(
			&a.ID, &a.UserID, &kind, &a.DurationSecs,
			&a.Message, &a.Source, &a.Sequence, &a.Level, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.Kind = domain.ActionKind(kind)
		actions = append(actions, &a)
	}

	return actions, rows.Err()
}

// SaveRewardTransaction stores a reputation grant.
func (r *SQLRepository) SaveRewardTransaction(ctx context.Context, tx *domain.RewardTransaction) error {
	if tx == nil || tx.ID == "" || tx.UserID <= 0 {
		return fmt.Errorf("%w: reward id and user id are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO reward_transactions (id, user_id, points, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Points, tx.Reason, tx.CreatedAt.UTC(),
	)
	return err
}

// ListRewardTransactions returns the grants of a user, newest first.
func (r *SQLRepository) ListRewardTransactions(ctx context.Context, userID int64) ([]*domain.RewardTransaction, error) {
	query := `
		SELECT id, user_id, points, reason, created_at
		FROM reward_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []*domain.RewardTransaction{}
	for rows.Next() {
		var tx domain.RewardTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Points, &tx.Reason, &tx.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// ListRewardTotals returns per-user point totals, highest first.
func (r *SQLRepository) ListRewardTotals(ctx context.Context, limit int) ([]domain.RewardTotal, error) {
	query := `
		SELECT user_id, SUM(points) AS total, COUNT(*)
		FROM reward_transactions
		GROUP BY user_id
		ORDER BY total DESC, user_id
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := []domain.RewardTotal{}
	for rows.Next() {
		var t domain.RewardTotal
		if err := rows.Scan(&t.UserID, &t.Points, &t.Transactions); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// AddToWhitelist exempts a user from automatic escalation.
func (r *SQLRepository) AddToWhitelist(ctx context.Context, entry *domain.WhitelistEntry) error {
	if entry == nil || entry.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO whitelist (user_id, added_by, reason, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			added_by = excluded.added_by,
			reason = excluded.reason,
			added_at = excluded.added_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.UserID, entry.AddedBy, entry.Reason, entry.AddedAt.UTC(),
	)
	return err
}

// RemoveFromWhitelist removes a whitelist entry.
func (r *SQLRepository) RemoveFromWhitelist(ctx context.Context, userID int64) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM whitelist WHERE user_id = ?`), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// IsWhitelisted reports whether a user is whitelisted.
func (r *SQLRepository) IsWhitelisted(ctx context.Context, userID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM whitelist WHERE user_id = ?`), userID).Scan(&n)
	return n > 0, err
}

// ListWhitelist returns every whitelist entry.
func (r *SQLRepository) ListWhitelist(ctx context.Context) ([]*domain.WhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, added_by, reason, added_at FROM whitelist ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.WhitelistEntry
	for rows.Next() {
		var e domain.WhitelistEntry
		if err := rows.Scan(&e.UserID, &e.AddedBy, &e.Reason, &e.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// SaveRuleConfig stores a rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	bands, _ := json.Marshal(rule.Bands)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), enabled,
		now, now,
	)
	return err
}

// ListRuleConfigs retrieves the latest version of every stored rule,
// disabled ones included.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, enabled
		FROM rule_configs
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var description sql.NullString
		var bands string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &description,
			&cfg.Version, &cfg.Expression, &bands, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &cfg.Bands)
		configs = append(configs, &cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return latestRuleVersions(configs), nil
}

// SaveServerStats replaces the server statistics snapshot.
func (r *SQLRepository) SaveServerStats(ctx context.Context, stats *domain.ServerStats) error {
	query := `
		INSERT INTO server_stats (id, total_messages, positive_messages, toxic_messages, active_users, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_messages = excluded.total_messages,
			positive_messages = excluded.positive_messages,
			toxic_messages = excluded.toxic_messages,
			active_users = excluded.active_users,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		stats.TotalMessages, stats.PositiveMessages, stats.ToxicMessages,
		stats.ActiveUsers, stats.UpdatedAt.UTC(),
	)
	return err
}

// GetServerStats returns the latest server statistics snapshot.
func (r *SQLRepository) GetServerStats(ctx context.Context) (*domain.ServerStats, error) {
	query := `
		SELECT total_messages, positive_messages, toxic_messages, active_users, updated_at
		FROM server_stats WHERE id = 1
	`

	var s domain.ServerStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.TotalMessages, &s.PositiveMessages, &s.ToxicMessages, &s.ActiveUsers, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) upsertUser(ctx context.Context, tx *sql.Tx, user *domain.User) error {
	progress, _ := json.Marshal(user.ProgressData)
	now := time.Now().UTC()

	query := `
		INSERT INTO users (
			id, username, discriminator, username_key, discriminator_key,
			risk_score, risk_level,
			total_messages, toxic_messages, positive_messages,
			last_seen, join_date, progress_data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			discriminator = excluded.discriminator,
			username_key = excluded.username_key,
			discriminator_key = excluded.discriminator_key,
			risk_score = excluded.risk_score,
			risk_level = excluded.risk_level,
			total_messages = excluded.total_messages,
			toxic_messages = excluded.toxic_messages,
			positive_messages = excluded.positive_messages,
			last_seen = excluded.last_seen,
			join_date = excluded.join_date,
			progress_data = excluded.progress_data,
			updated_at = excluded.updated_at
	`

	_, err := tx.ExecContext(ctx, r.rebind(query),
		user.ID, user.Username, user.Discriminator,
		searchKey(user.Username), searchKey(user.Discriminator),
		user.RiskScore, string(user.RiskLevel),
		user.TotalMessages, user.ToxicMessages, user.PositiveMessages,
		user.LastSeen.String(), user.JoinDate.String(), string(progress),
		now, now,
	)
	return err
}

// replaceInfractions rewrites the stored history so that the first
// infraction of user.Infractions carries the highest sequence number.
func (r *SQLRepository) replaceInfractions(ctx context.Context, tx *sql.Tx, user *domain.User) error {
	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM infractions WHERE user_id = ?`), user.ID); err != nil {
		return err
	}
	n := int64(len(user.Infractions))
	for i, inf := range user.Infractions {
		if err := r.insertInfraction(ctx, tx, user.ID, n-int64(i), inf); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) insertInfraction(ctx context.Context, tx *sql.Tx, userID, seq int64, inf domain.Infraction) error {
	var dateUnix sql.NullInt64
	if unix, ok := inf.Date.Unix(); ok {
		dateUnix = sql.NullInt64{Int64: unix, Valid: true}
	}

	query := `
		INSERT INTO infractions (user_id, seq, type, message, date_raw, date_unix, action, severity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(ctx, r.rebind(query),
		userID, seq, inf.Type, inf.Message, inf.Date.String(), dateUnix, inf.Action, string(inf.Severity),
	)
	return err
}

func (r *SQLRepository) loadInfractions(ctx context.Context, userID int64) ([]domain.Infraction, error) {
	query := `
		SELECT type, message, date_raw, action, severity
		FROM infractions
		WHERE user_id = ?
		ORDER BY seq DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInfractions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var level, lastSeen, joinDate, progress string

	if err := row.Scan(
		&u.ID, &u.Username, &u.Discriminator, &u.RiskScore, &level,
		&u.TotalMessages, &u.ToxicMessages, &u.PositiveMessages,
		&lastSeen, &joinDate, &progress,
	); err != nil {
		return nil, err
	}

	u.RiskLevel = domain.RiskLevel(level)
	u.LastSeen = domain.ParseTimestamp(lastSeen)
	u.JoinDate = domain.ParseTimestamp(joinDate)
	json.Unmarshal([]byte(progress), &u.ProgressData)
	return &u, nil
}

func scanInfractions(rows *sql.Rows) ([]domain.Infraction, error) {
	infractions := []domain.Infraction{}
	for rows.Next() {
		var inf domain.Infraction
		var date, severity string
		if err := rows.Scan(&inf.Type, &inf.Message, &date, &inf.Action, &severity); err != nil {
			return nil, err
		}
		inf.Date = domain.ParseTimestamp(date)
		inf.Severity = domain.Severity(severity)
		infractions = append(infractions, inf)
	}
	return infractions, rows.Err()
}

// searchKey folds text for case-insensitive substring search. Both drivers
// compare against it so they agree on non-ASCII names.
func searchKey(s string) string {
	return strings.ToLower(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes LIKE metacharacters so s matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// compareVersions orders rule versions by semantic version. Versions that
// are not valid semver sort before valid ones and compare as strings among
// themselves.
func compareVersions(a, b string) int {
	va, vb := "v"+strings.TrimPrefix(a, "v"), "v"+strings.TrimPrefix(b, "v")
	okA, okB := semver.IsValid(va), semver.IsValid(vb)
	switch {
	case okA && okB:
		return semver.Compare(va, vb)
	case okA:
		return 1
	case okB:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

// latestRuleVersions keeps the highest version of each rule ID, ordered by ID.
func latestRuleVersions(configs []*domain.RuleConfig) []*domain.RuleConfig {
	latest := make(map[string]*domain.RuleConfig, len(configs))
	for _, cfg := range configs {
		if cur, ok := latest[cfg.ID]; !ok || compareVersions(cfg.Version, cur.Version) > 0 {
			latest[cfg.ID] = cfg
		}
	}

	result := make([]*domain.RuleConfig, 0, len(latest))
	for _, cfg := range latest {
		result = append(result, cfg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
