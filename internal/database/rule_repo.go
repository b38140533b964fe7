package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mixelka/replybot/pkg/models"
)

// RuleStore persists learning events and learned rules
type RuleStore struct {
	db  *DB
	now func() time.Time
}

// NewRuleStore creates a rule store on top of db
func NewRuleStore(db *DB) *RuleStore {
	return &RuleStore{db: db, now: time.Now}
}

// WithClock overrides the store clock, used by tests
func (s *RuleStore) WithClock(now func() time.Time) *RuleStore {
	s.now = now
	return s
}

// InsertEvent appends a learning event. An empty domain is stored as NULL.
func (s *RuleStore) InsertEvent(ctx context.Context, senderDomain, subject string, action models.FinalAction) error {
	domain := sql.NullString{String: senderDomain, Valid: senderDomain != ""}
	query := `INSERT INTO learning_events (ts, sender_domain, subject, final_action) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, s.now().UTC(), domain, subject, action)
	if err != nil {
		return fmt.Errorf("failed to insert learning event: %w", err)
	}
	return nil
}

// DomainStats aggregates events per non-empty sender domain
func (s *RuleStore) DomainStats(ctx context.Context) ([]models.GroupStat, error) {
	var stats []models.GroupStat
	query := `
		SELECT sender_domain AS group_key,
		       COUNT(*) AS total,
		       SUM(CASE WHEN final_action = ? THEN 1 ELSE 0 END) AS ignored
		FROM learning_events
		WHERE sender_domain IS NOT NULL AND sender_domain != ''
		GROUP BY sender_domain
		ORDER BY sender_domain
	`
	if err := s.db.SelectContext(ctx, &stats, query, models.FinalIgnored); err != nil {
		return nil, fmt.Errorf("failed to aggregate domain stats: %w", err)
	}
	return stats, nil
}

// EventOutcomes returns subject and outcome of every event, oldest first
func (s *RuleStore) EventOutcomes(ctx context.Context) ([]models.LearningEvent, error) {
	var events []models.LearningEvent
	query := `SELECT id, ts, sender_domain, subject, final_action FROM learning_events ORDER BY id`
	if err := s.db.SelectContext(ctx, &events, query); err != nil {
		return nil, fmt.Errorf("failed to list learning events: %w", err)
	}
	return events, nil
}

// RuleQuery selects learned rules for one scope
type RuleQuery struct {
	Scope     models.RuleScope
	Patterns  []string // restrict to these patterns when non-empty
	MinWeight float64
	MinHits   int
	Limit     int // 0 means unlimited
}

// FindRules returns matching rules ordered by weight, strongest first
func (s *RuleStore) FindRules(ctx context.Context, q RuleQuery) ([]models.LearnedRule, error) {
	query := `
		SELECT pattern, scope, action, weight, hits, last_seen FROM learned_rules
		WHERE scope = ? AND weight >= ? AND hits >= ?`
	args := []any{q.Scope, q.MinWeight, q.MinHits}

	if len(q.Patterns) > 0 {
		query += ` AND pattern IN (?)`
		args = append(args, q.Patterns)
	}
	query += ` ORDER BY weight DESC, hits DESC, pattern`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule query: %w", err)
	}

	var rules []models.LearnedRule
	if err := s.db.SelectContext(ctx, &rules, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to find rules: %w", err)
	}
	return rules, nil
}

// UpsertRule inserts a rule or merges it into the existing one: weight is
// overwritten, hits are added, last_seen is refreshed.
func (s *RuleStore) UpsertRule(ctx context.Context, rule models.LearnedRule) error {
	if rule.LastSeen.IsZero() {
		rule.LastSeen = s.now()
	}
	rule.LastSeen = rule.LastSeen.UTC()

	query := `
		INSERT INTO learned_rules (pattern, scope, action, weight, hits, last_seen)
		VALUES (:pattern, :scope, :action, :weight, :hits, :last_seen)
		ON CONFLICT(pattern, scope, action) DO UPDATE SET
			weight = excluded.weight,
			hits = learned_rules.hits + excluded.hits,
			last_seen = excluded.last_seen
	`
	if _, err := s.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}
	return nil
}

// ListRules returns the strongest rules across all scopes
func (s *RuleStore) ListRules(ctx context.Context, limit int) ([]models.LearnedRule, error) {
	var rules []models.LearnedRule
	query := `
		SELECT pattern, scope, action, weight, hits, last_seen FROM learned_rules
		ORDER BY weight DESC, hits DESC, scope, pattern
		LIMIT ?
	`
	if err := s.db.SelectContext(ctx, &rules, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}
