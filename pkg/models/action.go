package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Action is the terminal outcome recorded for a processed message
type Action string

const (
	ActionReplied            Action = "replied"
	ActionQuietAck           Action = "quiet_ack"
	ActionLabeled            Action = "labeled"
	ActionSkippedNoReplyTo   Action = "skipped_no_reply_to"
	ActionSkippedAutoMessage Action = "skipped_auto_message"
	ActionSkippedCooldown    Action = "skipped_cooldown"
	ActionIgnoredSender      Action = "ignored_sender"
	ActionIgnoredNonSupport  Action = "ignored_non_support"
	ActionLearnedIgnore      Action = "learned_ignore"
	ActionError              Action = "error"
)

// IsValid checks if the action is one of the known actions
func (a Action) IsValid() bool {
	switch a {
	case ActionReplied, ActionQuietAck, ActionLabeled, ActionSkippedNoReplyTo,
		ActionSkippedAutoMessage, ActionSkippedCooldown, ActionIgnoredSender,
		ActionIgnoredNonSupport, ActionLearnedIgnore, ActionError:
		return true
	}
	return false
}

// ActionRecord is the audit row written once per processed message
type ActionRecord struct {
	MessageID string    `db:"message_id" json:"message_id"`
	ActedAt   time.Time `db:"acted_at" json:"acted_at"`
	Action    Action    `db:"action" json:"action"`
	Metadata  Metadata  `db:"metadata" json:"metadata"`
}

// ThreadReply holds the last successful reply time for a thread
type ThreadReply struct {
	ThreadID  string    `db:"thread_id"`
	RepliedAt time.Time `db:"replied_at"`
}

// MetaKey is a recognized diagnostics key
type MetaKey string

// Recognized metadata keys. Which keys appear depends on the action:
//   - skipped_*: thread_id, from, reason
//   - ignored_sender, learned_ignore: email, subject, source
//   - ignored_non_support: classification, source
//   - replied, quiet_ack, labeled: classification, source, order_no,
//     order_status, labels, quiet_hours, duration_ms, reply_message_id
//   - error: thread_id, classification, error
const (
	MetaThreadID       MetaKey = "thread_id"
	MetaEmail          MetaKey = "email"
	MetaFrom           MetaKey = "from"
	MetaSubject        MetaKey = "subject"
	MetaClassification MetaKey = "classification"
	MetaSource         MetaKey = "source"
	MetaOrderNo        MetaKey = "order_no"
	MetaOrderStatus    MetaKey = "order_status"
	MetaLabels         MetaKey = "labels"
	MetaQuietHours     MetaKey = "quiet_hours"
	MetaDurationMS     MetaKey = "duration_ms"
	MetaReplyMessageID MetaKey = "reply_message_id"
	MetaReason         MetaKey = "reason"
	MetaError          MetaKey = "error"
)

// integerKeys are the keys written with Int; Scan restores them as int64
// and leaves every other number as float64
var integerKeys = map[MetaKey]bool{
	MetaDurationMS: true,
}

// Metadata is a closed key/value map of primitives (string, bool, int64, float64)
type Metadata map[MetaKey]any

// NewMetadata creates an empty metadata map
func NewMetadata() Metadata {
	return make(Metadata)
}

// String sets a string value; empty strings are skipped
func (m Metadata) String(key MetaKey, value string) Metadata {
	if value != "" {
		m[key] = value
	}
	return m
}

// Bool sets a bool value
func (m Metadata) Bool(key MetaKey, value bool) Metadata {
	m[key] = value
	return m
}

// Int sets an integer value. Keys set with Int must be listed in integerKeys.
func (m Metadata) Int(key MetaKey, value int64) Metadata {
	m[key] = value
	return m
}

// Float sets a float value
func (m Metadata) Float(key MetaKey, value float64) Metadata {
	m[key] = value
	return m
}

// Get returns the raw value for a key
func (m Metadata) Get(key MetaKey) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// Value implements driver.Valuer. encoding/json sorts map keys, so the
// stored form is deterministic.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	for k, v := range m {
		switch v.(type) {
		case string, bool, int64, float64:
		default:
			return nil, fmt.Errorf("metadata key %q has non-primitive value %T", k, v)
		}
	}
	b, err := json.Marshal(map[MetaKey]any(m))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = NewMetadata()
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}

	decoded := make(map[MetaKey]any)
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	// JSON numbers come back as float64
	for k, v := range decoded {
		if f, ok := v.(float64); ok && integerKeys[k] {
			decoded[k] = int64(f)
		}
	}
	*m = decoded
	return nil
}
