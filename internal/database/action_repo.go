package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/replybot/pkg/models"
)

// ActionStore is the idempotency ledger and per-thread reply clock
type ActionStore struct {
	db  *DB
	now func() time.Time
}

// NewActionStore creates an action store on top of db
func NewActionStore(db *DB) *ActionStore {
	return &ActionStore{db: db, now: time.Now}
}

// WithClock overrides the store clock, used by tests
func (s *ActionStore) WithClock(now func() time.Time) *ActionStore {
	s.now = now
	return s
}

// HasProcessed reports whether an action was already recorded for the message
func (s *ActionStore) HasProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists int
	query := `SELECT EXISTS(SELECT 1 FROM message_actions WHERE message_id = ?)`
	if err := s.db.GetContext(ctx, &exists, query, messageID); err != nil {
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return exists == 1, nil
}

// Record stores the outcome for a message. A second call for the same
// message overwrites action, metadata and acted_at.
func (s *ActionStore) Record(ctx context.Context, messageID string, action models.Action, meta models.Metadata) error {
	if !action.IsValid() {
		return fmt.Errorf("failed to record action: unknown action %q", action)
	}
	if meta == nil {
		meta = models.NewMetadata()
	}

	query := `
		INSERT INTO message_actions (message_id, acted_at, action, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			acted_at = excluded.acted_at,
			action = excluded.action,
			metadata = excluded.metadata
	`
	_, err := s.db.ExecContext(ctx, query, messageID, s.now().UTC(), action, meta)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// RecordReply marks the thread as replied to now
func (s *ActionStore) RecordReply(ctx context.Context, threadID string) error {
	query := `
		INSERT INTO thread_replies (thread_id, replied_at)
		VALUES (?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET replied_at = excluded.replied_at
	`
	_, err := s.db.ExecContext(ctx, query, threadID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record thread reply: %w", err)
	}
	return nil
}

// RecentReply reports whether the thread was replied to within the last
// cooldownHours. A non-positive cooldown disables the check.
func (s *ActionStore) RecentReply(ctx context.Context, threadID string, cooldownHours int) (bool, error) {
	if cooldownHours <= 0 {
		return false, nil
	}

	var reply models.ThreadReply
	query := `SELECT thread_id, replied_at FROM thread_replies WHERE thread_id = ?`
	err := s.db.GetContext(ctx, &reply, query, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get thread reply: %w", err)
	}

	cooldown := time.Duration(cooldownHours) * time.Hour
	return s.now().Sub(reply.RepliedAt) < cooldown, nil
}

// Get returns the recorded action for a message
func (s *ActionStore) Get(ctx context.Context, messageID string) (*models.ActionRecord, error) {
	var rec models.ActionRecord
	query := `SELECT message_id, acted_at, action, metadata FROM message_actions WHERE message_id = ?`
	err := s.db.GetContext(ctx, &rec, query, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return &rec, nil
}

// Recent returns the latest recorded actions, newest first
func (s *ActionStore) Recent(ctx context.Context, limit int) ([]*models.ActionRecord, error) {
	var records []*models.ActionRecord
	query := `
		SELECT message_id, acted_at, action, metadata FROM message_actions
		ORDER BY acted_at DESC, message_id
		LIMIT ?
	`
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent actions: %w", err)
	}
	return records, nil
}

// CountByAction returns the number of recorded messages per action
func (s *ActionStore) CountByAction(ctx context.Context) (map[models.Action]int, error) {
	var rows []struct {
		Action models.Action `db:"action"`
		Count  int           `db:"cnt"`
	}
	query := `SELECT action, COUNT(*) AS cnt FROM message_actions GROUP BY action`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}

	counts := make(map[models.Action]int, len(rows))
	for _, r := range rows {
		counts[r.Action] = r.Count
	}
	return counts, nil
}
