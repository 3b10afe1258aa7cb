package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hunchbank/supportd/internal/models"
)

// MemoryStore is the in-memory fallback used when durable persistence is
// disabled or the database fails to open. Semantics match SQLiteStore;
// contents are lost on exit.
type MemoryStore struct {
	mu       sync.Mutex
	reviews  map[string]*models.Review
	history  []*models.HistoryEntry
	activity []*models.ActivityEntry
	metrics  []*models.MetricsSnapshot
	errorLog []*models.ErrorEntry
	intents  map[string]*models.IntentStat // key: date|intent
	nextID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reviews: make(map[string]*models.Review),
		intents: make(map[string]*models.IntentStat),
	}
}

func (s *MemoryStore) seq() int64 {
	s.nextID++
	return s.nextID
}

func cloneReview(r *models.Review) *models.Review {
	c := *r
	c.Entities = make(map[string]string, len(r.Entities))
	for k, v := range r.Entities {
		c.Entities[k] = v
	}
	if r.Assessment != nil {
		a := *r.Assessment
		a.RiskFactors = append([]string(nil), r.Assessment.RiskFactors...)
		c.Assessment = &a
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		c.ProcessedAt = &t
	}
	if r.ModifiedAt != nil {
		t := *r.ModifiedAt
		c.ModifiedAt = &t
	}
	return &c
}

func (s *MemoryStore) AddReview(_ context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = NewULID()
	}
	if _, exists := s.reviews[r.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = models.ReviewStatusPending
	}
	if r.Entities == nil {
		r.Entities = map[string]string{}
	}
	s.reviews[r.ID] = cloneReview(r)
	return nil
}

func (s *MemoryStore) GetReview(_ context.Context, id string) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneReview(r), nil
}

func (s *MemoryStore) UpdateReview(_ context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.reviews[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	cur.Intent = r.Intent
	cur.Status = r.Status
	cur.ProcessedAt = r.ProcessedAt
	cur.ModifiedAt = r.ModifiedAt
	return nil
}

// CloseReview updates the review and appends its history entry under one
// lock hold.
func (s *MemoryStore) CloseReview(_ context.Context, r *models.Review, h *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.reviews[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	cur.Intent = r.Intent
	cur.Status = r.Status
	cur.ProcessedAt = r.ProcessedAt
	cur.ModifiedAt = r.ModifiedAt

	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	h.ID = s.seq()
	c := *h
	s.history = append(s.history, &c)
	return nil
}

func (s *MemoryStore) PendingReviews(_ context.Context) ([]*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Review
	for _, r := range s.reviews {
		if r.Status == models.ReviewStatusPending {
			out = append(out, cloneReview(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ReviewStats(_ context.Context) (*models.ReviewStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &models.ReviewStats{IntentCounts: map[string]int{}}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	for _, r := range s.reviews {
		switch r.Status {
		case models.ReviewStatusPending:
			stats.TotalPending++
			stats.IntentCounts[r.Intent]++
			switch r.RiskLevel {
			case models.RiskHigh:
				stats.HighRisk++
			case models.RiskMedium:
				stats.MediumRisk++
			case models.RiskLow:
				stats.LowRisk++
			}
		case models.ReviewStatusAccepted:
			stats.Accepted++
		case models.ReviewStatusRejected:
			stats.Rejected++
		case models.ReviewStatusModified:
			stats.Modified++
		}
		if !r.CreatedAt.Before(midnight) {
			stats.TodayCount++
		}
	}
	stats.TotalProcessed = stats.Accepted + stats.Rejected + stats.Modified
	return stats, nil
}

func (s *MemoryStore) AddHistory(_ context.Context, h *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	h.ID = s.seq()
	c := *h
	s.history = append(s.history, &c)
	return nil
}

func (s *MemoryStore) History(_ context.Context, reviewID string) ([]*models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.HistoryEntry
	for _, h := range s.history {
		if h.ReviewID == reviewID {
			c := *h
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddActivity(_ context.Context, a *models.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.Kind == "" {
		a.Kind = models.ActivityInfo
	}
	a.ID = s.seq()
	c := *a
	s.activity = append(s.activity, &c)
	return nil
}

func (s *MemoryStore) RecentActivity(_ context.Context, limit int) ([]*models.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	var out []*models.ActivityEntry
	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		c := *s.activity[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) RecordMetrics(_ context.Context, m *models.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	m.ID = s.seq()
	c := *m
	s.metrics = append(s.metrics, &c)
	return nil
}

func (s *MemoryStore) LatestMetrics(ctx context.Context) (*models.MetricsSnapshot, error) {
	s.mu.Lock()
	if n := len(s.metrics); n > 0 {
		c := *s.metrics[n-1]
		s.mu.Unlock()
		return &c, nil
	}
	s.mu.Unlock()

	stats, err := s.ReviewStats(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	errCount := len(s.errorLog)
	s.mu.Unlock()

	m := &models.MetricsSnapshot{
		Timestamp:      time.Now().UTC(),
		ProcessedCount: stats.TotalProcessed,
		ErrorCount:     errCount,
		PendingReviews: stats.TotalPending,
	}
	if err := s.RecordMetrics(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MemoryStore) LogError(_ context.Context, e *models.ErrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.ID = s.seq()
	c := *e
	s.errorLog = append(s.errorLog, &c)
	return nil
}

func (s *MemoryStore) RecentErrors(_ context.Context, limit int) ([]*models.ErrorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	var out []*models.ErrorEntry
	for i := len(s.errorLog) - 1; i >= 0 && len(out) < limit; i-- {
		c := *s.errorLog[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) BumpIntentStat(_ context.Context, date, intent string, auto bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := date + "|" + intent
	st, ok := s.intents[key]
	if !ok {
		st = &models.IntentStat{Date: date, Intent: intent}
		s.intents[key] = st
	}
	st.Count++
	if auto {
		st.AutoProcessed++
	} else {
		st.HumanReviewed++
	}
	return nil
}

func (s *MemoryStore) IntentStats(_ context.Context, days int) ([]*models.IntentStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	var out []*models.IntentStat
	for _, st := range s.intents {
		if strings.Compare(st.Date, cutoff) >= 0 {
			c := *st
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date == out[j].Date {
			return out[i].Intent < out[j].Intent
		}
		return out[i].Date > out[j].Date
	})
	return out, nil
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
