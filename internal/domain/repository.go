package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *User) error
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID int64) (*User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]*User, error)

	// AppendInfraction stores a new most-recent infraction and the user's
	// updated counters and score in one step.
	AppendInfraction(ctx context.Context, user *User, infraction Infraction) error
	ListInfractionsSince(ctx context.Context, userID int64, since time.Time) ([]Infraction, error)
	CountInfractions(ctx context.Context, userID int64) (int, error)

	// Moderation actions
	SaveAction(ctx context.Context, action *ModerationAction) error
	ListActions(ctx context.Context, userID int64) ([]*ModerationAction, error)
	// ListActionsSince returns the actions of every user created at or
	// after since, newest first.
	ListActionsSince(ctx context.Context, since time.Time) ([]*ModerationAction, error)

	// Reputation rewards
	SaveRewardTransaction(ctx context.Context, tx *RewardTransaction) error
	// ListRewardTransactions returns the grants of a user, newest first.
	ListRewardTransactions(ctx context.Context, userID int64) ([]*RewardTransaction, error)
	// ListRewardTotals returns per-user point totals, highest first.
	ListRewardTotals(ctx context.Context, limit int) ([]RewardTotal, error)

	// Whitelist
	AddToWhitelist(ctx context.Context, entry *WhitelistEntry) error
	RemoveFromWhitelist(ctx context.Context, userID int64) error
	IsWhitelisted(ctx context.Context, userID int64) (bool, error)
	ListWhitelist(ctx context.Context) ([]*WhitelistEntry, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Server statistics snapshot
	SaveServerStats(ctx context.Context, stats *ServerStats) error
	GetServerStats(ctx context.Context) (*ServerStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "memory"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
