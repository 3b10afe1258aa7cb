package store

import (
	"context"
	"errors"

	"github.com/hunchbank/supportd/internal/models"
)

// Sentinel errors. Callers match with errors.Is.
var (
	ErrNotFound    = errors.New("review not found")
	ErrDuplicateID = errors.New("duplicate review id")
)

// Store defines the persistence interface for supportd.
type Store interface {
	// Reviews
	AddReview(ctx context.Context, r *models.Review) error
	GetReview(ctx context.Context, id string) (*models.Review, error)
	UpdateReview(ctx context.Context, r *models.Review) error
	// CloseReview applies a terminal review update and its audit entry
	// atomically: a review is never closed without a history row.
	CloseReview(ctx context.Context, r *models.Review, h *models.HistoryEntry) error
	PendingReviews(ctx context.Context) ([]*models.Review, error)
	ReviewStats(ctx context.Context) (*models.ReviewStats, error)

	// Audit history
	AddHistory(ctx context.Context, h *models.HistoryEntry) error
	History(ctx context.Context, reviewID string) ([]*models.HistoryEntry, error)

	// Activity feed
	AddActivity(ctx context.Context, a *models.ActivityEntry) error
	RecentActivity(ctx context.Context, limit int) ([]*models.ActivityEntry, error)

	// Metrics
	RecordMetrics(ctx context.Context, m *models.MetricsSnapshot) error
	LatestMetrics(ctx context.Context) (*models.MetricsSnapshot, error)

	// Error log
	LogError(ctx context.Context, e *models.ErrorEntry) error
	RecentErrors(ctx context.Context, limit int) ([]*models.ErrorEntry, error)

	// Intent stats
	BumpIntentStat(ctx context.Context, date, intent string, auto bool) error
	IntentStats(ctx context.Context, days int) ([]*models.IntentStat, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
