package database

// migrations are applied in order; PRAGMA user_version holds how many ran
var migrations = []string{
	// 1: action ledger, thread replies, learning
	`
CREATE TABLE IF NOT EXISTS message_actions (
    message_id TEXT PRIMARY KEY,
    acted_at DATETIME NOT NULL,
    action TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS thread_replies (
    thread_id TEXT PRIMARY KEY,
    replied_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts DATETIME NOT NULL,
    sender_domain TEXT,
    subject TEXT NOT NULL DEFAULT '',
    final_action TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS learned_rules (
    pattern TEXT NOT NULL,
    scope TEXT NOT NULL,
    action TEXT NOT NULL,
    weight REAL NOT NULL,
    hits INTEGER NOT NULL,
    last_seen DATETIME NOT NULL,
    PRIMARY KEY(pattern, scope, action)
);

CREATE INDEX IF NOT EXISTS idx_actions_acted_at ON message_actions(acted_at);
CREATE INDEX IF NOT EXISTS idx_events_domain ON learning_events(sender_domain);
CREATE INDEX IF NOT EXISTS idx_rules_scope ON learned_rules(scope, weight);
`,

	// 2: ledger lookups by action for status counters
	`CREATE INDEX IF NOT EXISTS idx_actions_action ON message_actions(action);`,
}
