package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/retry"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db    *sql.DB
	write retry.Policy
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool, so
	// the pipeline, dispatcher, and API server never trip over each other.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, write: retry.Default()}, nil
}

// NewULID generates a new ULID string for review IDs. ULIDs are time-ordered
// with monotonic entropy within a process, so IDs sort by creation time and
// are never reused.
func NewULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// isBusy reports whether err is a transient SQLite contention error.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// exec runs a write statement, retrying on residual lock contention.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.write.Do(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		if err != nil && !isBusy(err) {
			return retry.Permanent(err)
		}
		return err
	})
	return res, err
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Reviews ---

func (s *SQLiteStore) AddReview(ctx context.Context, r *models.Review) error {
	if r.ID == "" {
		r.ID = NewULID()
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

	entities, err := json.Marshal(r.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}

	var assessment any
	if r.Assessment != nil {
		data, err := json.Marshal(r.Assessment)
		if err != nil {
			return fmt.Errorf("marshal assessment: %w", err)
		}
		assessment = string(data)
	}

	_, err = s.exec(ctx,
		`INSERT INTO reviews (id, email_from, email_subject, email_body, email_message_id, intent, entities, confidence, risk_level, assessment, status, created_at, processed_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Email.From, r.Email.Subject, r.Email.Body, r.Email.MessageID,
		r.Intent, string(entities), r.Confidence, string(r.RiskLevel), assessment,
		string(r.Status), r.CreatedAt, r.ProcessedAt, r.ModifiedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		return fmt.Errorf("add review: %w", err)
	}
	return nil
}

const reviewColumns = `id, email_from, email_subject, email_body, email_message_id, intent, entities, confidence, risk_level, assessment, status, created_at, processed_at, modified_at`

func scanReview(row interface{ Scan(...any) error }) (*models.Review, error) {
	r := &models.Review{}
	var entities string
	var assessment sql.NullString
	var processedAt, modifiedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Email.From, &r.Email.Subject, &r.Email.Body, &r.Email.MessageID,
		&r.Intent, &entities, &r.Confidence, (*string)(&r.RiskLevel), &assessment,
		(*string)(&r.Status), &r.CreatedAt, &processedAt, &modifiedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(entities), &r.Entities); err != nil {
		return nil, fmt.Errorf("unmarshal entities: %w", err)
	}
	if r.Entities == nil {
		r.Entities = map[string]string{}
	}
	if assessment.Valid {
		r.Assessment = &models.RiskAssessment{}
		if err := json.Unmarshal([]byte(assessment.String), r.Assessment); err != nil {
			return nil, fmt.Errorf("unmarshal assessment: %w", err)
		}
	}
	if processedAt.Valid {
		t := processedAt.Time
		r.ProcessedAt = &t
	}
	if modifiedAt.Valid {
		t := modifiedAt.Time
		r.ModifiedAt = &t
	}
	return r, nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*models.Review, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateReview(ctx context.Context, r *models.Review) error {
	res, err := s.exec(ctx,
		`UPDATE reviews SET intent = ?, status = ?, processed_at = ?, modified_at = ? WHERE id = ?`,
		r.Intent, string(r.Status), r.ProcessedAt, r.ModifiedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	return nil
}

// CloseReview updates the review and inserts its history entry in one
// transaction.
func (s *SQLiteStore) CloseReview(ctx context.Context, r *models.Review, h *models.HistoryEntry) error {
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}

	// Busy errors bubble out for a retry; everything else is permanent.
	step := func(err error) error {
		if isBusy(err) {
			return err
		}
		return retry.Permanent(err)
	}

	err := s.write.Do(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return step(err)
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx,
			`UPDATE reviews SET intent = ?, status = ?, processed_at = ?, modified_at = ? WHERE id = ?`,
			r.Intent, string(r.Status), r.ProcessedAt, r.ModifiedAt, r.ID,
		)
		if err != nil {
			return step(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return step(err)
		}
		if n == 0 {
			return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, r.ID))
		}

		hres, err := tx.ExecContext(ctx,
			`INSERT INTO review_history (review_id, action, details, timestamp) VALUES (?, ?, ?, ?)`,
			h.ReviewID, string(h.Action), h.Details, h.Timestamp)
		if err != nil {
			return step(err)
		}

		if err := tx.Commit(); err != nil {
			return step(err)
		}
		h.ID, _ = hres.LastInsertId()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("close review: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PendingReviews(ctx context.Context) ([]*models.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE status = ? ORDER BY created_at DESC, id DESC`,
		string(models.ReviewStatusPending))
	if err != nil {
		return nil, fmt.Errorf("pending reviews: %w", err)
	}
	defer rows.Close()

	var out []*models.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("pending reviews: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReviewStats(ctx context.Context) (*models.ReviewStats, error) {
	stats := &models.ReviewStats{IntentCounts: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM reviews GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("review stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("review stats: %w", err)
		}
		switch models.ReviewStatus(status) {
		case models.ReviewStatusPending:
			stats.TotalPending = n
		case models.ReviewStatusAccepted:
			stats.Accepted = n
		case models.ReviewStatusRejected:
			stats.Rejected = n
		case models.ReviewStatusModified:
			stats.Modified = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("review stats: %w", err)
	}
	stats.TotalProcessed = stats.Accepted + stats.Rejected + stats.Modified

	riskRows, err := s.db.QueryContext(ctx,
		`SELECT risk_level, COUNT(*) FROM reviews WHERE status = ? GROUP BY risk_level`,
		string(models.ReviewStatusPending))
	if err != nil {
		return nil, fmt.Errorf("review stats: %w", err)
	}
	defer riskRows.Close()
	for riskRows.Next() {
		var level string
		var n int
		if err := riskRows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("review stats: %w", err)
		}
		switch models.RiskLevel(level) {
		case models.RiskHigh:
			stats.HighRisk = n
		case models.RiskMedium:
			stats.MediumRisk = n
		case models.RiskLow:
			stats.LowRisk = n
		}
	}
	if err := riskRows.Err(); err != nil {
		return nil, fmt.Errorf("review stats: %w", err)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE created_at >= ?`, midnight).Scan(&stats.TodayCount)
	if err != nil {
		return nil, fmt.Errorf("review stats: %w", err)
	}

	intentRows, err := s.db.QueryContext(ctx,
		`SELECT intent, COUNT(*) FROM reviews WHERE status = ? GROUP BY intent`,
		string(models.ReviewStatusPending))
	if err != nil {
		return nil, fmt.Errorf("review stats: %w", err)
	}
	defer intentRows.Close()
	for intentRows.Next() {
		var intent string
		var n int
		if err := intentRows.Scan(&intent, &n); err != nil {
			return nil, fmt.Errorf("review stats: %w", err)
		}
		stats.IntentCounts[intent] = n
	}
	return stats, intentRows.Err()
}

// --- History ---

func (s *SQLiteStore) AddHistory(ctx context.Context, h *models.HistoryEntry) error {
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	res, err := s.exec(ctx,
		`INSERT INTO review_history (review_id, action, details, timestamp) VALUES (?, ?, ?, ?)`,
		h.ReviewID, string(h.Action), h.Details, h.Timestamp)
	if err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	h.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, reviewID string) ([]*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, review_id, action, details, timestamp FROM review_history WHERE review_id = ? ORDER BY id`,
		reviewID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		h := &models.HistoryEntry{}
		if err := rows.Scan(&h.ID, &h.ReviewID, (*string)(&h.Action), &h.Details, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- Activity ---

func (s *SQLiteStore) AddActivity(ctx context.Context, a *models.ActivityEntry) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.Kind == "" {
		a.Kind = models.ActivityInfo
	}
	res, err := s.exec(ctx,
		`INSERT INTO system_activity (timestamp, message, kind, source) VALUES (?, ?, ?, ?)`,
		a.Timestamp, a.Message, string(a.Kind), a.Source)
	if err != nil {
		return fmt.Errorf("add activity: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) RecentActivity(ctx context.Context, limit int) ([]*models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, message, kind, source FROM system_activity ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	var out []*models.ActivityEntry
	for rows.Next() {
		a := &models.ActivityEntry{}
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Message, (*string)(&a.Kind), &a.Source); err != nil {
			return nil, fmt.Errorf("recent activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Metrics ---

func (s *SQLiteStore) RecordMetrics(ctx context.Context, m *models.MetricsSnapshot) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	res, err := s.exec(ctx,
		`INSERT INTO system_metrics (timestamp, processed_count, auto_processed_count, error_count, pending_reviews)
		VALUES (?, ?, ?, ?, ?)`,
		m.Timestamp, m.ProcessedCount, m.AutoProcessedCount, m.ErrorCount, m.PendingReviews)
	if err != nil {
		return fmt.Errorf("record metrics: %w", err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// LatestMetrics returns the most recent snapshot. On a fresh database it
// derives one from current review counts and persists it, so the first
// dashboard read never sees an empty series.
func (s *SQLiteStore) LatestMetrics(ctx context.Context) (*models.MetricsSnapshot, error) {
	m := &models.MetricsSnapshot{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, timestamp, processed_count, auto_processed_count, error_count, pending_reviews
		FROM system_metrics ORDER BY timestamp DESC, id DESC LIMIT 1`,
	).Scan(&m.ID, &m.Timestamp, &m.ProcessedCount, &m.AutoProcessedCount, &m.ErrorCount, &m.PendingReviews)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest metrics: %w", err)
	}

	stats, err := s.ReviewStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap metrics: %w", err)
	}
	var errCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM error_log`).Scan(&errCount); err != nil {
		return nil, fmt.Errorf("bootstrap metrics: %w", err)
	}

	m = &models.MetricsSnapshot{
		Timestamp:      time.Now().UTC(),
		ProcessedCount: stats.TotalProcessed,
		ErrorCount:     errCount,
		PendingReviews: stats.TotalPending,
	}
	if err := s.RecordMetrics(ctx, m); err != nil {
		return nil, fmt.Errorf("bootstrap metrics: %w", err)
	}
	return m, nil
}

// --- Error log ---

func (s *SQLiteStore) LogError(ctx context.Context, e *models.ErrorEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	res, err := s.exec(ctx,
		`INSERT INTO error_log (timestamp, kind, message, source, details) VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp, e.Kind, e.Message, e.Source, e.Details)
	if err != nil {
		return fmt.Errorf("log error: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) RecentErrors(ctx context.Context, limit int) ([]*models.ErrorEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, kind, message, source, details FROM error_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent errors: %w", err)
	}
	defer rows.Close()

	var out []*models.ErrorEntry
	for rows.Next() {
		e := &models.ErrorEntry{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.Message, &e.Source, &e.Details); err != nil {
			return nil, fmt.Errorf("recent errors: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Intent stats ---

// BumpIntentStat increments the per-day counters for an intent. The upsert
// is purely additive so concurrent bumps commute.
func (s *SQLiteStore) BumpIntentStat(ctx context.Context, date, intent string, auto bool) error {
	autoInc, humanInc := 0, 1
	if auto {
		autoInc, humanInc = 1, 0
	}
	_, err := s.exec(ctx,
		`INSERT INTO intent_stats (date, intent, count, auto_processed, human_reviewed)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(date, intent) DO UPDATE SET
			count = count + 1,
			auto_processed = auto_processed + excluded.auto_processed,
			human_reviewed = human_reviewed + excluded.human_reviewed`,
		date, intent, autoInc, humanInc)
	if err != nil {
		return fmt.Errorf("bump intent stat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IntentStats(ctx context.Context, days int) ([]*models.IntentStat, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, intent, count, auto_processed, human_reviewed
		FROM intent_stats WHERE date >= ? ORDER BY date DESC, intent`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("intent stats: %w", err)
	}
	defer rows.Close()

	var out []*models.IntentStat
	for rows.Next() {
		st := &models.IntentStat{}
		if err := rows.Scan(&st.Date, &st.Intent, &st.Count, &st.AutoProcessed, &st.HumanReviewed); err != nil {
			return nil, fmt.Errorf("intent stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
