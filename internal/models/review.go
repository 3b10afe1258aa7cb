package models

import "time"

// ReviewStatus represents the lifecycle state of a review.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusAccepted ReviewStatus = "accepted"
	ReviewStatusRejected ReviewStatus = "rejected"
	ReviewStatusModified ReviewStatus = "modified"
)

// Terminal reports whether the status is a final state.
func (s ReviewStatus) Terminal() bool {
	return s != ReviewStatusPending
}

// RiskLevel represents the assessed risk of acting on a request without
// human sign-off.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// rank orders risk levels for escalation comparisons.
func (r RiskLevel) rank() int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r is at or above the given level.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

// Max returns the higher of the two levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

// EmailMessage is the immutable snapshot of the customer email that
// triggered a review.
type EmailMessage struct {
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	MessageID string `json:"message_id"`
}

// RiskAssessment carries the fraud-scoring detail attached to reviews of
// monetary reversals. Nil for reviews routed on confidence alone.
type RiskAssessment struct {
	FraudScore  float64  `json:"fraud_score"`
	RiskFactors []string `json:"risk_factors"`
	ChargeID    string   `json:"charge_id,omitempty"`
	AmountCents int64    `json:"amount_cents,omitempty"`
}

// Review is the unit of human adjudication. One is created whenever the
// system declines to act autonomously on a classified email.
type Review struct {
	ID          string            `json:"id"`
	Email       EmailMessage      `json:"email"`
	Intent      string            `json:"intent"`
	Entities    map[string]string `json:"entities"`
	Confidence  float64           `json:"confidence"`
	RiskLevel   RiskLevel         `json:"risk_level"`
	Assessment  *RiskAssessment   `json:"assessment,omitempty"`
	Status      ReviewStatus      `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
	ModifiedAt  *time.Time        `json:"modified_at,omitempty"`
}

// HistoryEntry is one record in the append-only review audit log.
type HistoryEntry struct {
	ID        int64        `json:"id"`
	ReviewID  string       `json:"review_id"`
	Action    ReviewStatus `json:"action"`
	Details   string       `json:"details,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ReviewStats is the aggregate view surfaced to CLI, API, and MCP clients.
type ReviewStats struct {
	TotalPending   int            `json:"total_pending"`
	TotalProcessed int            `json:"total_processed"`
	Accepted       int            `json:"accepted"`
	Rejected       int            `json:"rejected"`
	Modified       int            `json:"modified"`
	HighRisk       int            `json:"high_risk"`
	MediumRisk     int            `json:"medium_risk"`
	LowRisk        int            `json:"low_risk"`
	TodayCount     int            `json:"today_count"`
	IntentCounts   map[string]int `json:"intent_distribution"`
}
