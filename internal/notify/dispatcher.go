// Package notify delivers reviewer notifications for queued reviews. A
// single worker drains a bounded FIFO queue and fans each job out to the
// configured channels (email, Slack). Delivery is at-least-once; message
// content is idempotent.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/store"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Channel is one delivery mechanism. Channels are independent: one failing
// never blocks another.
type Channel interface {
	Name() string
	Notify(ctx context.Context, r *models.Review) error
}

// Dispatcher owns the notification queue and its worker goroutine.
type Dispatcher struct {
	jobs     chan *models.Review
	channels []Channel
	store    store.Store
	logger   *slog.Logger

	sendTimeout time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given queue capacity. The
// store may be nil; dropped jobs are then only logged.
func NewDispatcher(channels []Channel, st store.Store, logger *slog.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		jobs:        make(chan *models.Review, buffer),
		channels:    channels,
		store:       st,
		logger:      logger,
		sendTimeout: 30 * time.Second,
	}
}

// Start launches the worker goroutine. Safe to call once.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)
}

// Stop shuts the worker down and waits for any in-flight job to finish all
// its channels. Enqueue calls after Stop are rejected.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// Enqueue adds a review to the notification queue without blocking. When
// the queue is full the job is dropped, logged, and recorded in the error
// log; the review itself stays pending and visible.
func (d *Dispatcher) Enqueue(r *models.Review) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	d.mu.Unlock()

	select {
	case d.jobs <- r:
		return nil
	default:
		d.recordDrop(r, "queue full")
		return ErrQueueFull
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-d.jobs:
			d.deliver(r)
		}
	}
}

// deliver attempts every channel for one job. The send context is detached
// from the worker context so shutdown never abandons a job mid-flight.
func (d *Dispatcher) deliver(r *models.Review) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	failed := 0
	for _, ch := range d.channels {
		if err := ch.Notify(ctx, r); err != nil {
			failed++
			d.logger.Error("notification delivery failed",
				"channel", ch.Name(), "review_id", r.ID, "error", err)
		}
	}

	if failed == len(d.channels) && len(d.channels) > 0 {
		d.recordDrop(r, "all channels failed")
	}
}

// recordDrop makes a dropped notification observable: error log entry plus
// structured log line. No requeue.
func (d *Dispatcher) recordDrop(r *models.Review, reason string) {
	d.logger.Error("notification dropped", "review_id", r.ID, "reason", reason)
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.store.LogError(ctx, &models.ErrorEntry{
		Kind:    "notification_dropped",
		Message: reason,
		Source:  "dispatcher",
		Details: fmt.Sprintf("review %s (%s, %s risk)", r.ID, r.Intent, r.RiskLevel),
	})
	if err != nil {
		d.logger.Error("record dropped notification", "error", err)
	}
}

// urgent reports whether a review warrants the urgent targets.
func urgent(r *models.Review) bool {
	return r.RiskLevel == models.RiskHigh
}
