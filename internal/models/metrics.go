package models

import "time"

// MetricsSnapshot is one append-only row of system counters. The latest
// snapshot by timestamp is authoritative; history is kept for trends.
type MetricsSnapshot struct {
	ID                 int64     `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	ProcessedCount     int       `json:"processed_count"`
	AutoProcessedCount int       `json:"auto_processed_count"`
	ErrorCount         int       `json:"error_count"`
	PendingReviews     int       `json:"pending_reviews"`
}

// IntentStat aggregates processing outcomes per intent per calendar day.
// Increments are additive so concurrent updates commute.
type IntentStat struct {
	Date          string `json:"date"` // YYYY-MM-DD
	Intent        string `json:"intent"`
	Count         int    `json:"count"`
	AutoProcessed int    `json:"auto_processed"`
	HumanReviewed int    `json:"human_reviewed"`
}
