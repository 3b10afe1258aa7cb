package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunchbank/supportd/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func testReview(from string) *models.Review {
	return &models.Review{
		Email: models.EmailMessage{
			From:      from,
			Subject:   "Refund please",
			Body:      "I want a refund for order #1234",
			MessageID: "<msg-1@example.com>",
		},
		Intent:     "refund_request",
		Entities:   map[string]string{"amount": "59.99", "order_id": "1234"},
		Confidence: 0.45,
		RiskLevel:  models.RiskHigh,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

func TestReviewRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testReview("alice@example.com")
	r.Assessment = &models.RiskAssessment{
		FraudScore:  0.75,
		RiskFactors: []string{"very_recent_charge", "multiple_recent_refunds"},
		ChargeID:    "ch_123",
		AmountCents: 5999,
	}
	err := s.AddReview(ctx, r)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, models.ReviewStatusPending, r.Status)
	assert.False(t, r.CreatedAt.IsZero())

	got, err := s.GetReview(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Email, got.Email)
	assert.Equal(t, r.Intent, got.Intent)
	assert.Equal(t, r.Entities, got.Entities)
	assert.Equal(t, models.RiskHigh, got.RiskLevel)
	require.NotNil(t, got.Assessment)
	assert.InDelta(t, 0.75, got.Assessment.FraudScore, 1e-9)
	assert.Equal(t, []string{"very_recent_charge", "multiple_recent_refunds"}, got.Assessment.RiskFactors)
	assert.Nil(t, got.ProcessedAt)
}

func TestAddReview_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testReview("alice@example.com")
	require.NoError(t, s.AddReview(ctx, r))

	dup := testReview("bob@example.com")
	dup.ID = r.ID
	err := s.AddReview(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetReview_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetReview(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testReview("alice@example.com")
	require.NoError(t, s.AddReview(ctx, r))

	now := time.Now().UTC()
	r.Status = models.ReviewStatusAccepted
	r.ProcessedAt = &now
	require.NoError(t, s.UpdateReview(ctx, r))

	got, err := s.GetReview(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusAccepted, got.Status)
	require.NotNil(t, got.ProcessedAt)
	assert.False(t, got.ProcessedAt.Before(got.CreatedAt))
}

func TestUpdateReview_NotFound(t *testing.T) {
	s := newTestStore(t)

	r := testReview("alice@example.com")
	r.ID = "missing"
	err := s.UpdateReview(context.Background(), r)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseReview_WritesUpdateAndHistoryTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testReview("alice@example.com")
	require.NoError(t, s.AddReview(ctx, r))

	now := time.Now().UTC()
	r.Status = models.ReviewStatusModified
	r.Intent = "billing_question"
	r.ProcessedAt = &now
	r.ModifiedAt = &now
	h := &models.HistoryEntry{
		ReviewID: r.ID,
		Action:   models.ReviewStatusModified,
		Details:  "Intent changed from refund_request to billing_question",
	}
	require.NoError(t, s.CloseReview(ctx, r, h))
	assert.NotZero(t, h.ID)

	got, err := s.GetReview(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusModified, got.Status)
	assert.Equal(t, "billing_question", got.Intent)

	entries, err := s.History(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ReviewStatusModified, entries[0].Action)
}

func TestCloseReview_UnknownIDWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testReview("alice@example.com")
	r.ID = "missing"
	r.Status = models.ReviewStatusAccepted
	err := s.CloseReview(ctx, r, &models.HistoryEntry{
		ReviewID: r.ID,
		Action:   models.ReviewStatusAccepted,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := s.History(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, entries, "rolled-back close must leave no history row")
}

func TestPendingReviews_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := testReview("old@example.com")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.AddReview(ctx, older))

	newer := testReview("new@example.com")
	require.NoError(t, s.AddReview(ctx, newer))

	closed := testReview("done@example.com")
	require.NoError(t, s.AddReview(ctx, closed))
	now := time.Now().UTC()
	closed.Status = models.ReviewStatusRejected
	closed.ProcessedAt = &now
	require.NoError(t, s.UpdateReview(ctx, closed))

	pending, err := s.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, newer.ID, pending[0].ID)
	assert.Equal(t, older.ID, pending[1].ID)
}

func TestReviewStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	high := testReview("a@example.com")
	require.NoError(t, s.AddReview(ctx, high))

	low := testReview("b@example.com")
	low.Intent = "billing_question"
	low.RiskLevel = models.RiskLow
	require.NoError(t, s.AddReview(ctx, low))

	accepted := testReview("c@example.com")
	require.NoError(t, s.AddReview(ctx, accepted))
	now := time.Now().UTC()
	accepted.Status = models.ReviewStatusAccepted
	accepted.ProcessedAt = &now
	require.NoError(t, s.UpdateReview(ctx, accepted))

	stats, err := s.ReviewStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalPending)
	assert.Equal(t, 1, stats.TotalProcessed)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 0, stats.Rejected)
	assert.Equal(t, 1, stats.HighRisk)
	assert.Equal(t, 1, stats.LowRisk)
	assert.Equal(t, 3, stats.TodayCount)
	assert.Equal(t, map[string]int{"refund_request": 1, "billing_question": 1}, stats.IntentCounts)
}

func TestHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testReview("alice@example.com")
	require.NoError(t, s.AddReview(ctx, r))

	require.NoError(t, s.AddHistory(ctx, &models.HistoryEntry{
		ReviewID: r.ID,
		Action:   models.ReviewStatusModified,
		Details:  "Intent changed from refund_request to billing_question",
	}))

	entries, err := s.History(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ReviewStatusModified, entries[0].Action)
	assert.Contains(t, entries[0].Details, "refund_request")
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestRecentActivity_LimitAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, s.AddActivity(ctx, &models.ActivityEntry{
			Message: "event",
			Source:  "test",
		}))
	}

	entries, err := s.RecentActivity(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 20, "default limit caps the feed at 20")
	assert.Greater(t, entries[0].ID, entries[1].ID, "newest first")
}

func TestLatestMetrics_BootstrapsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testReview("alice@example.com")
	require.NoError(t, s.AddReview(ctx, r))

	m, err := s.LatestMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.PendingReviews)
	assert.Equal(t, 0, m.ProcessedCount)

	// Second read returns the bootstrapped row, no new synthesis.
	m2, err := s.LatestMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.ID, m2.ID)
}

func TestBumpIntentStat_Additive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Now().UTC().Format("2006-01-02")

	require.NoError(t, s.BumpIntentStat(ctx, date, "refund_request", true))
	require.NoError(t, s.BumpIntentStat(ctx, date, "refund_request", false))
	require.NoError(t, s.BumpIntentStat(ctx, date, "refund_request", true))

	stats, err := s.IntentStats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Count)
	assert.Equal(t, 2, stats[0].AutoProcessed)
	assert.Equal(t, 1, stats[0].HumanReviewed)
}

func TestBumpIntentStat_ConcurrentBumpsCommute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Now().UTC().Format("2006-01-02")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		auto := i%2 == 0
		go func() {
			defer wg.Done()
			assert.NoError(t, s.BumpIntentStat(ctx, date, "subscription_cancel", auto))
		}()
	}
	wg.Wait()

	stats, err := s.IntentStats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 10, stats[0].Count)
	assert.Equal(t, 5, stats[0].AutoProcessed)
	assert.Equal(t, 5, stats[0].HumanReviewed)
}

func TestErrorLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogError(ctx, &models.ErrorEntry{
		Kind:    "notification_dropped",
		Message: "queue full",
		Source:  "dispatcher",
	}))

	entries, err := s.RecentErrors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "notification_dropped", entries[0].Kind)
}
