package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hunchbank/supportd/internal/events"
	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/risk"
	"github.com/hunchbank/supportd/internal/store"
)

// Notifier is the dispatcher surface the system needs. Enqueue must not
// block; its errors are logged, never propagated to the caller.
type Notifier interface {
	Enqueue(r *models.Review) error
}

// System is the facade over risk assessment, the queue, notifications, and
// the event bus. Every client goes through it.
type System struct {
	assessor *risk.Assessor
	queue    *Queue
	notifier Notifier
	store    store.Store
	bus      *events.Bus
	logger   *slog.Logger
}

// NewSystem wires the review system together. notifier and bus may be nil
// (CLI one-shot commands run without a dispatcher).
func NewSystem(assessor *risk.Assessor, queue *Queue, notifier Notifier, st store.Store, bus *events.Bus, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		assessor: assessor,
		queue:    queue,
		notifier: notifier,
		store:    st,
		bus:      bus,
		logger:   logger,
	}
}

// Add assesses risk, creates the review, persists it, and kicks off the
// notification. Returns the new review ID.
func (s *System) Add(ctx context.Context, msg models.EmailMessage, intent string, entities map[string]string, confidence float64, assessment *models.RiskAssessment) (string, error) {
	if entities == nil {
		entities = map[string]string{}
	}

	r := &models.Review{
		ID:         store.NewULID(),
		Email:      msg,
		Intent:     intent,
		Entities:   entities,
		Confidence: confidence,
		RiskLevel:  s.assessor.Assess(intent, entities, confidence),
		Assessment: assessment,
		Status:     models.ReviewStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.queue.Add(ctx, r); err != nil {
		return "", err
	}

	s.logActivity(ctx, models.ActivityWarning,
		fmt.Sprintf("Queued %s review for %s (%s risk)", intent, msg.From, r.RiskLevel))

	if s.notifier != nil {
		if err := s.notifier.Enqueue(r); err != nil {
			s.logger.Error("enqueue notification", "review_id", r.ID, "error", err)
		}
	}
	s.publish(events.Event{Type: events.ReviewAdded, Review: r})

	return r.ID, nil
}

// Accept approves the review's automated action.
func (s *System) Accept(ctx context.Context, id string) (*Outcome, error) {
	out, err := s.queue.Accept(ctx, id)
	if err != nil {
		return nil, err
	}
	s.afterClose(ctx, out, "accepted")
	return out, nil
}

// Reject declines the review's automated action.
func (s *System) Reject(ctx context.Context, id string) (*Outcome, error) {
	out, err := s.queue.Reject(ctx, id)
	if err != nil {
		return nil, err
	}
	s.afterClose(ctx, out, "rejected")
	return out, nil
}

// Modify corrects the intent and approves under the new one.
func (s *System) Modify(ctx context.Context, id, newIntent string) (*Outcome, error) {
	out, err := s.queue.Modify(ctx, id, newIntent)
	if err != nil {
		return nil, err
	}
	s.afterClose(ctx, out, "modified")
	return out, nil
}

func (s *System) afterClose(ctx context.Context, out *Outcome, verb string) {
	s.logActivity(ctx, models.ActivitySuccess,
		fmt.Sprintf("Review %s %s (%s)", out.Review.ID, verb, out.Intent))
	s.publish(events.Event{Type: events.ReviewClosed, Review: out.Review})
}

// Pending returns open reviews, newest first.
func (s *System) Pending(ctx context.Context) ([]*models.Review, error) {
	return s.queue.Pending(ctx)
}

// Get returns one review by ID.
func (s *System) Get(ctx context.Context, id string) (*models.Review, error) {
	return s.queue.Get(ctx, id)
}

// Stats returns the aggregate counters.
func (s *System) Stats(ctx context.Context) (*models.ReviewStats, error) {
	return s.queue.Stats(ctx)
}

// History returns the audit trail for one review.
func (s *System) History(ctx context.Context, id string) ([]*models.HistoryEntry, error) {
	return s.queue.History(ctx, id)
}

func (s *System) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func (s *System) logActivity(ctx context.Context, kind models.ActivityKind, msg string) {
	if err := s.store.AddActivity(ctx, &models.ActivityEntry{
		Message: msg,
		Kind:    kind,
		Source:  "review",
	}); err != nil {
		s.logger.Error("record activity", "error", err)
	}
}
