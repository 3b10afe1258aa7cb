// Package pipeline runs the email-processing loop: fetch unread messages,
// classify them, and either act autonomously or queue a human review.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hunchbank/supportd/internal/classifier"
	"github.com/hunchbank/supportd/internal/events"
	"github.com/hunchbank/supportd/internal/handlers"
	"github.com/hunchbank/supportd/internal/mailbox"
	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/review"
	"github.com/hunchbank/supportd/internal/store"
)

// Config holds the routing knobs.
type Config struct {
	ConfidenceThreshold float64       // below this, everything goes to review
	HighRiskIntents     []string      // these always go to review (unless a handler clears them)
	PollInterval        time.Duration // mailbox poll cadence
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.9,
		HighRiskIntents:     []string{"refund_request", "payment_dispute", "subscription_cancel"},
		PollInterval:        60 * time.Second,
	}
}

// Pipeline is the single-goroutine processing loop. Counters are only
// touched from that goroutine.
type Pipeline struct {
	fetcher    mailbox.Fetcher
	classifier classifier.Classifier
	system     *review.System
	refunds    *handlers.RefundHandler // may be nil
	store      store.Store
	bus        *events.Bus
	cfg        Config
	logger     *slog.Logger

	highRisk map[string]bool

	processed     int
	autoProcessed int
	errorCount    int
}

// New wires a pipeline. refunds and bus may be nil.
func New(f mailbox.Fetcher, c classifier.Classifier, sys *review.System, refunds *handlers.RefundHandler, st store.Store, bus *events.Bus, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	hr := make(map[string]bool, len(cfg.HighRiskIntents))
	for _, intent := range cfg.HighRiskIntents {
		hr[intent] = true
	}
	return &Pipeline{
		fetcher:    f,
		classifier: c,
		system:     sys,
		refunds:    refunds,
		store:      st,
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
		highRisk:   hr,
	}
}

// Run polls the mailbox until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.Info("pipeline started", "poll_interval", p.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopped")
			return ctx.Err()
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch fetches and processes one round of unread messages. One bad
// message never stops the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context) {
	msgs, err := p.fetcher.FetchUnread(ctx)
	if err != nil {
		p.errorCount++
		p.logger.Error("fetch unread", "error", err)
		p.recordError(ctx, "fetch_failed", err.Error(), "")
		return
	}
	if len(msgs) == 0 {
		return
	}

	for _, msg := range msgs {
		p.processOne(ctx, msg)
	}
	p.snapshotMetrics(ctx)
}

func (p *Pipeline) processOne(ctx context.Context, msg models.EmailMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.errorCount++
			p.logger.Error("panic while processing message", "from", msg.From, "panic", r)
			p.recordError(ctx, "panic", fmt.Sprint(r), msg.From)
		}
	}()

	p.processed++

	res, err := p.classifier.Classify(ctx, msg.Subject, msg.Body)
	if err != nil {
		p.errorCount++
		p.logger.Error("classification failed", "from", msg.From, "error", err)
		p.recordError(ctx, "classification_failed", err.Error(), msg.From)
		// Unclassifiable mail still deserves eyes on it.
		p.queueReview(ctx, msg, "unclassified", nil, 0, nil)
		return
	}

	p.logger.Info("classified message",
		"from", msg.From, "intent", res.Intent, "confidence", res.Confidence)

	if res.Confidence < p.cfg.ConfidenceThreshold {
		p.queueReview(ctx, msg, res.Intent, res.Entities, res.Confidence, nil)
		return
	}

	if res.Intent == "refund_request" && p.refunds != nil {
		p.handleRefund(ctx, msg, res)
		return
	}

	if p.highRisk[res.Intent] {
		p.queueReview(ctx, msg, res.Intent, res.Entities, res.Confidence, nil)
		return
	}

	p.autoProcess(ctx, msg, res.Intent)
}

func (p *Pipeline) handleRefund(ctx context.Context, msg models.EmailMessage, res *classifier.Result) {
	d, err := p.refunds.Handle(ctx, msg, res.Entities)
	if err != nil {
		if errors.Is(err, handlers.ErrInvalidAmount) {
			p.recordError(ctx, "invalid_amount", err.Error(), msg.From)
		} else {
			p.errorCount++
			p.recordError(ctx, "refund_handler_failed", err.Error(), msg.From)
		}
		p.queueReview(ctx, msg, res.Intent, res.Entities, res.Confidence, nil)
		return
	}

	if d.AutoApproved {
		p.autoProcessed++
		p.logActivity(ctx, models.ActivitySuccess,
			fmt.Sprintf("Auto-approved refund %s for %s", d.Refund.ID, msg.From))
		p.bumpIntent(ctx, res.Intent, true)
		return
	}

	p.logger.Info("refund routed to review", "from", msg.From, "reason", d.Reason)
	p.queueReview(ctx, msg, res.Intent, res.Entities, res.Confidence, d.Assessment)
}

func (p *Pipeline) autoProcess(ctx context.Context, msg models.EmailMessage, intent string) {
	p.autoProcessed++
	p.logActivity(ctx, models.ActivitySuccess,
		fmt.Sprintf("Auto-processed %s from %s", intent, msg.From))
	p.bumpIntent(ctx, intent, true)
}

func (p *Pipeline) queueReview(ctx context.Context, msg models.EmailMessage, intent string, entities map[string]string, confidence float64, assessment *models.RiskAssessment) {
	if _, err := p.system.Add(ctx, msg, intent, entities, confidence, assessment); err != nil {
		p.errorCount++
		p.logger.Error("queue review", "from", msg.From, "error", err)
		p.recordError(ctx, "queue_review_failed", err.Error(), msg.From)
		return
	}
	p.bumpIntent(ctx, intent, false)
}

func (p *Pipeline) snapshotMetrics(ctx context.Context) {
	stats, err := p.system.Stats(ctx)
	if err != nil {
		p.logger.Error("read stats for metrics", "error", err)
		return
	}
	m := &models.MetricsSnapshot{
		Timestamp:          time.Now().UTC(),
		ProcessedCount:     p.processed,
		AutoProcessedCount: p.autoProcessed,
		ErrorCount:         p.errorCount,
		PendingReviews:     stats.TotalPending,
	}
	if err := p.store.RecordMetrics(ctx, m); err != nil {
		p.logger.Error("record metrics", "error", err)
		return
	}
	if p.bus != nil {
		p.bus.Publish(events.Event{Type: events.MetricsUpdated, Metrics: m})
	}
}

func (p *Pipeline) bumpIntent(ctx context.Context, intent string, auto bool) {
	date := time.Now().UTC().Format("2006-01-02")
	if err := p.store.BumpIntentStat(ctx, date, intent, auto); err != nil {
		p.logger.Error("bump intent stat", "intent", intent, "error", err)
	}
}

func (p *Pipeline) logActivity(ctx context.Context, kind models.ActivityKind, msg string) {
	if err := p.store.AddActivity(ctx, &models.ActivityEntry{
		Message: msg,
		Kind:    kind,
		Source:  "pipeline",
	}); err != nil {
		p.logger.Error("record activity", "error", err)
	}
}

func (p *Pipeline) recordError(ctx context.Context, kind, msg, source string) {
	if err := p.store.LogError(ctx, &models.ErrorEntry{
		Kind:    kind,
		Message: msg,
		Source:  "pipeline",
		Details: source,
	}); err != nil {
		p.logger.Error("record error entry", "error", err)
	}
}
