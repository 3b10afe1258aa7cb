// Package review implements the human-review workflow: the pending queue,
// the accept/reject/modify lifecycle, and the System facade every client
// (pipeline, CLI, API, MCP) goes through.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/store"
)

// ErrNotInPending is returned when a decision targets a review that is not
// pending: already decided (double submit, stale dashboard) or unknown.
var ErrNotInPending = errors.New("review is not pending")

// Outcome is what a decision hands back for downstream dispatch: the final
// intent and the extracted entities.
type Outcome struct {
	Review   *models.Review
	Intent   string
	Entities map[string]string
}

// Queue guards the review lifecycle. All transitions happen under one mutex
// so removal from pending and the terminal update are observed atomically;
// the store is the write-through source of truth.
type Queue struct {
	mu    sync.Mutex
	store store.Store
	now   func() time.Time
}

// NewQueue creates a queue backed by the given store.
func NewQueue(st store.Store) *Queue {
	return &Queue{store: st, now: time.Now}
}

// Add persists a new pending review. The review must carry a unique ID.
func (q *Queue) Add(ctx context.Context, r *models.Review) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r.Status = models.ReviewStatusPending
	if err := q.store.AddReview(ctx, r); err != nil {
		return fmt.Errorf("add review: %w", err)
	}
	return nil
}

// Pending returns the open reviews, newest first.
func (q *Queue) Pending(ctx context.Context) ([]*models.Review, error) {
	return q.store.PendingReviews(ctx)
}

// Get returns a single review by ID.
func (q *Queue) Get(ctx context.Context, id string) (*models.Review, error) {
	return q.store.GetReview(ctx, id)
}

// Accept approves the automated action. Returns the intent and entities for
// handler dispatch.
func (q *Queue) Accept(ctx context.Context, id string) (*Outcome, error) {
	return q.close(ctx, id, models.ReviewStatusAccepted, "")
}

// Reject declines the automated action.
func (q *Queue) Reject(ctx context.Context, id string) (*Outcome, error) {
	return q.close(ctx, id, models.ReviewStatusRejected, "")
}

// Modify corrects the intent and approves processing under the new intent.
// The prior intent is recorded in the audit history.
func (q *Queue) Modify(ctx context.Context, id, newIntent string) (*Outcome, error) {
	if newIntent == "" {
		return nil, fmt.Errorf("modify: new intent is required")
	}
	return q.close(ctx, id, models.ReviewStatusModified, newIntent)
}

// close performs one terminal transition. On any failure the stored review
// is left untouched: status, timestamps, and history either all change or
// none do.
func (q *Queue) close(ctx context.Context, id string, status models.ReviewStatus, newIntent string) (*Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, err := q.store.GetReview(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotInPending, id)
		}
		return nil, fmt.Errorf("load review: %w", err)
	}
	if r.Status != models.ReviewStatusPending {
		return nil, fmt.Errorf("%w: %s already %s", ErrNotInPending, id, r.Status)
	}

	details := ""
	priorIntent := r.Intent
	now := q.now().UTC()

	r.Status = status
	r.ProcessedAt = &now
	if status == models.ReviewStatusModified {
		r.Intent = newIntent
		r.ModifiedAt = &now
		details = fmt.Sprintf("Intent changed from %s to %s", priorIntent, newIntent)
	}

	if err := q.store.CloseReview(ctx, r, &models.HistoryEntry{
		ReviewID:  r.ID,
		Action:    status,
		Details:   details,
		Timestamp: now,
	}); err != nil {
		return nil, fmt.Errorf("close review: %w", err)
	}

	return &Outcome{Review: r, Intent: r.Intent, Entities: r.Entities}, nil
}

// Stats returns the aggregate counters for dashboards.
func (q *Queue) Stats(ctx context.Context) (*models.ReviewStats, error) {
	return q.store.ReviewStats(ctx)
}

// History returns the audit trail for one review.
func (q *Queue) History(ctx context.Context, id string) ([]*models.HistoryEntry, error) {
	return q.store.History(ctx, id)
}
