package models

import "time"

// ActivityKind categorizes system activity entries.
type ActivityKind string

const (
	ActivityInfo    ActivityKind = "info"
	ActivitySuccess ActivityKind = "success"
	ActivityWarning ActivityKind = "warning"
	ActivityError   ActivityKind = "error"
)

// ActivityEntry is one line in the append-only system activity feed.
type ActivityEntry struct {
	ID        int64        `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Message   string       `json:"message"`
	Kind      ActivityKind `json:"kind"`
	Source    string       `json:"source"`
}

// ErrorEntry records a failure for later inspection. Dropped notification
// jobs and pipeline faults land here so they stay observable.
type ErrorEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Details   string    `json:"details,omitempty"`
}
