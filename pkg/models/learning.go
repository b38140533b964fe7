package models

import (
	"database/sql"
	"time"
)

// FinalAction is the outcome fed back into rule learning
type FinalAction string

const (
	FinalIgnored FinalAction = "ignored"
	FinalSupport FinalAction = "support"
	FinalOrders  FinalAction = "orders"
)

// RuleScope is what a learned rule matches against
type RuleScope string

const (
	ScopeSenderDomain    RuleScope = "sender_domain"
	ScopeSubjectContains RuleScope = "subject_contains"
	ScopeRegexSubject    RuleScope = "regex_subject"
)

// RuleAction is what a learned rule recommends
type RuleAction string

const (
	RuleIgnore  RuleAction = "ignore"
	RuleSupport RuleAction = "support"
	RuleOrders  RuleAction = "orders"
)

// LearningEvent is an append-only outcome fact
type LearningEvent struct {
	ID           int64          `db:"id"`
	Timestamp    time.Time      `db:"ts"`
	SenderDomain sql.NullString `db:"sender_domain"`
	Subject      string         `db:"subject"`
	FinalAction  FinalAction    `db:"final_action"`
}

// LearnedRule is a derived suppression rule
type LearnedRule struct {
	Pattern  string     `db:"pattern" json:"pattern"`
	Scope    RuleScope  `db:"scope" json:"scope"`
	Action   RuleAction `db:"action" json:"action"`
	Weight   float64    `db:"weight" json:"weight"`
	Hits     int        `db:"hits" json:"hits"`
	LastSeen time.Time  `db:"last_seen" json:"last_seen"`
}

// GroupStat aggregates events for one promotion group
type GroupStat struct {
	Key     string `db:"group_key"`
	Total   int    `db:"total"`
	Ignored int    `db:"ignored"`
}
