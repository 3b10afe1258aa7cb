package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunchbank/supportd/internal/classifier"
	"github.com/hunchbank/supportd/internal/events"
	"github.com/hunchbank/supportd/internal/handlers"
	"github.com/hunchbank/supportd/internal/mailbox"
	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/payments"
	"github.com/hunchbank/supportd/internal/review"
	"github.com/hunchbank/supportd/internal/risk"
	"github.com/hunchbank/supportd/internal/store"
)

type stubClassifier struct {
	results map[string]*classifier.Result // keyed by message subject
	err     error
}

func (s *stubClassifier) Classify(_ context.Context, subject, _ string) (*classifier.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if r, ok := s.results[subject]; ok {
		return r, nil
	}
	return &classifier.Result{Intent: "other", Entities: map[string]string{}, Confidence: 0.95}, nil
}

type captureNotifier struct {
	mu  sync.Mutex
	got []*models.Review
}

func (c *captureNotifier) Enqueue(r *models.Review) error {
	c.mu.Lock()
	c.got = append(c.got, r)
	c.mu.Unlock()
	return nil
}

func (c *captureNotifier) delivered() []*models.Review {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.Review(nil), c.got...)
}

type fixture struct {
	pipeline *Pipeline
	fetcher  *mailbox.MemoryFetcher
	store    *store.MemoryStore
	payments *payments.FakeClient
	notifier *captureNotifier
	system   *review.System
}

func newFixture(t *testing.T, cls classifier.Classifier) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	st := store.NewMemoryStore()
	bus := events.NewBus()
	notifier := &captureNotifier{}
	sys := review.NewSystem(risk.NewAssessor(risk.DefaultConfig()), review.NewQueue(st), notifier, st, bus, logger)
	pc := payments.NewFakeClient()
	refunds := handlers.NewRefundHandler(pc, risk.NewScorer(), handlers.DefaultRefundConfig(), logger)
	fetcher := mailbox.NewMemoryFetcher()
	p := New(fetcher, cls, sys, refunds, st, bus, DefaultConfig(), logger)
	return &fixture{pipeline: p, fetcher: fetcher, store: st, payments: pc, notifier: notifier, system: sys}
}

// A $15 refund from a clean customer is refunded without a review.
func TestPipeline_SmallCleanRefundAutoApproved(t *testing.T) {
	cls := &stubClassifier{results: map[string]*classifier.Result{
		"refund": {
			Intent:     "refund_request",
			Entities:   map[string]string{"amount": "15", "reason": "item arrived damaged"},
			Confidence: 0.95,
		},
	}}
	f := newFixture(t, cls)
	ctx := context.Background()

	cust := f.payments.AddCustomer("alice@example.com", "Alice")
	f.payments.AddCharge(cust.ID, 1500, time.Now().UTC().Add(-10*24*time.Hour),
		payments.CardChecks{CVC: "pass", AddressLine1: "pass"})

	f.fetcher.Deliver(models.EmailMessage{From: "alice@example.com", Subject: "refund", Body: "broken"})
	f.pipeline.ProcessBatch(ctx)

	pending, err := f.system.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "auto-approved refunds never reach the queue")
	assert.Empty(t, f.notifier.delivered())

	m, err := f.store.LatestMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ProcessedCount)
	assert.Equal(t, 1, m.AutoProcessedCount)

	stats, err := f.store.IntentStats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].AutoProcessed)
}

// A $2,000 refund right after the charge, from a customer with refund
// history, is routed to review as high risk and the reviewers are notified.
func TestPipeline_RiskyLargeRefundRoutedToReview(t *testing.T) {
	cls := &stubClassifier{results: map[string]*classifier.Result{
		"refund": {
			Intent:     "refund_request",
			Entities:   map[string]string{"amount": "2000", "reason": "Customer request"},
			Confidence: 0.95,
		},
	}}
	f := newFixture(t, cls)
	ctx := context.Background()
	now := time.Now().UTC()

	cust := f.payments.AddCustomer("eve@example.com", "Eve")
	ch := f.payments.AddCharge(cust.ID, 200000, now.Add(-2*time.Hour), payments.CardChecks{})
	for i := 0; i < 4; i++ {
		f.payments.AddRefund(cust.ID, ch.ID, 5000, now.Add(-10*24*time.Hour))
	}

	f.fetcher.Deliver(models.EmailMessage{From: "eve@example.com", Subject: "refund", Body: "refund now"})
	f.pipeline.ProcessBatch(ctx)

	pending, err := f.system.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	r := pending[0]
	assert.Equal(t, models.RiskHigh, r.RiskLevel)
	require.NotNil(t, r.Assessment)
	assert.Contains(t, r.Assessment.RiskFactors, risk.FactorVeryRecentCharge)
	assert.Contains(t, r.Assessment.RiskFactors, risk.FactorMultipleRecentRefunds)

	delivered := f.notifier.delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, r.ID, delivered[0].ID)

	stats, err := f.store.IntentStats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].HumanReviewed)
}

func TestPipeline_LowConfidenceGoesToReview(t *testing.T) {
	cls := &stubClassifier{results: map[string]*classifier.Result{
		"hmm": {Intent: "billing_question", Entities: map[string]string{}, Confidence: 0.4},
	}}
	f := newFixture(t, cls)
	ctx := context.Background()

	f.fetcher.Deliver(models.EmailMessage{From: "bob@example.com", Subject: "hmm", Body: "???"})
	f.pipeline.ProcessBatch(ctx)

	pending, err := f.system.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "billing_question", pending[0].Intent)
	assert.Nil(t, pending[0].Assessment)
}

func TestPipeline_ConfidentBenignIntentAutoProcessed(t *testing.T) {
	cls := &stubClassifier{results: map[string]*classifier.Result{
		"where is my order": {Intent: "shipping_status", Entities: map[string]string{}, Confidence: 0.97},
	}}
	f := newFixture(t, cls)
	ctx := context.Background()

	f.fetcher.Deliver(models.EmailMessage{From: "bob@example.com", Subject: "where is my order", Body: "?"})
	f.pipeline.ProcessBatch(ctx)

	pending, err := f.system.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	activity, err := f.store.RecentActivity(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, activity)
	assert.Contains(t, activity[0].Message, "Auto-processed shipping_status")
}

func TestPipeline_HighRiskIntentAlwaysReviewed(t *testing.T) {
	cls := &stubClassifier{results: map[string]*classifier.Result{
		"cancel": {Intent: "subscription_cancel", Entities: map[string]string{}, Confidence: 0.99},
	}}
	f := newFixture(t, cls)
	ctx := context.Background()

	f.fetcher.Deliver(models.EmailMessage{From: "bob@example.com", Subject: "cancel", Body: "cancel it"})
	f.pipeline.ProcessBatch(ctx)

	pending, err := f.system.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "subscription_cancel", pending[0].Intent)
}

func TestPipeline_ClassifierFailureStillQueuesReview(t *testing.T) {
	f := newFixture(t, &stubClassifier{err: errors.New("api down")})
	ctx := context.Background()

	f.fetcher.Deliver(models.EmailMessage{From: "bob@example.com", Subject: "x", Body: "y"})
	f.pipeline.ProcessBatch(ctx)

	pending, err := f.system.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "unclassified", pending[0].Intent)

	errs, err := f.store.RecentErrors(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Equal(t, "classification_failed", errs[0].Kind)
}

func TestPipeline_OneBadMessageDoesNotStopBatch(t *testing.T) {
	cls := &stubClassifier{results: map[string]*classifier.Result{
		"refund": {
			Intent:     "refund_request",
			Entities:   map[string]string{"amount": "not a number"},
			Confidence: 0.95,
		},
		"ok": {Intent: "shipping_status", Entities: map[string]string{}, Confidence: 0.97},
	}}
	f := newFixture(t, cls)
	ctx := context.Background()

	f.fetcher.Deliver(models.EmailMessage{From: "a@example.com", Subject: "refund", Body: "x"})
	f.fetcher.Deliver(models.EmailMessage{From: "b@example.com", Subject: "ok", Body: "y"})
	f.pipeline.ProcessBatch(ctx)

	// The malformed refund was routed to review, the second message was
	// still processed.
	pending, err := f.system.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	m, err := f.store.LatestMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.ProcessedCount)
}
