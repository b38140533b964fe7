package models

import "time"

// WorkerStatus is a point-in-time view of the poller
type WorkerStatus struct {
	Running       bool      `json:"running"`
	Ticking       bool      `json:"ticking"`
	Processed     int64     `json:"processed_total"`
	Replied       int64     `json:"replied_total"`
	Errors        int64     `json:"errors_total"`
	RulesPromoted int64     `json:"rules_promoted_total"`
	LastTick      time.Time `json:"last_tick,omitempty"`
	LastPromote   time.Time `json:"last_promote,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	QuietHours    bool      `json:"quiet_hours"`
}
