package repository

// Schema definitions for the Heron database.
// Compatible with both SQLite and PostgreSQL.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    username TEXT NOT NULL,
    discriminator TEXT NOT NULL DEFAULT '',
    username_key TEXT NOT NULL DEFAULT '',
    discriminator_key TEXT NOT NULL DEFAULT '',
    risk_score INTEGER NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL DEFAULT 'low',
    total_messages INTEGER NOT NULL DEFAULT 0,
    toxic_messages INTEGER NOT NULL DEFAULT 0,
    positive_messages INTEGER NOT NULL DEFAULT 0,
    last_seen TEXT NOT NULL DEFAULT '',
    join_date TEXT NOT NULL DEFAULT '',
    progress_data TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_level ON users(risk_level);
CREATE INDEX IF NOT EXISTS idx_users_score ON users(risk_score);
`

// username_key and discriminator_key hold the search-folded forms used by
// ListUsers. SQLite's LOWER() only folds ASCII.

// schemaInfractions keeps the original date text next to its unix value.
// date_unix is NULL when the text could not be parsed.
const schemaInfractions = `
CREATE TABLE IF NOT EXISTS infractions (
    user_id BIGINT NOT NULL,
    seq INTEGER NOT NULL,
    type TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    date_raw TEXT NOT NULL DEFAULT '',
    date_unix BIGINT,
    action TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    PRIMARY KEY (user_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_infractions_date ON infractions(user_id, date_unix);
`

const schemaModerationActions = `
CREATE TABLE IF NOT EXISTS moderation_actions (
    id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    kind TEXT NOT NULL,
    duration_secs INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    sequence INTEGER NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_moderation_actions_user ON moderation_actions(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_moderation_actions_created ON moderation_actions(created_at);
`

const schemaRewardTransactions = `
CREATE TABLE IF NOT EXISTS reward_transactions (
    id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    points INTEGER NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reward_transactions_user ON reward_transactions(user_id, created_at);
`

const schemaWhitelist = `
CREATE TABLE IF NOT EXISTS whitelist (
    user_id BIGINT PRIMARY KEY,
    added_by TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    added_at TIMESTAMP NOT NULL
);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// schemaServerStats holds a single row with the latest snapshot.
const schemaServerStats = `
CREATE TABLE IF NOT EXISTS server_stats (
    id INTEGER PRIMARY KEY,
    total_messages INTEGER NOT NULL DEFAULT 0,
    positive_messages INTEGER NOT NULL DEFAULT 0,
    toxic_messages INTEGER NOT NULL DEFAULT 0,
    active_users INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaInfractions,
		schemaModerationActions,
		schemaWhitelist,
		schemaRewardTransactions,
		schemaRuleConfigs,
		schemaServerStats,
	}
}
