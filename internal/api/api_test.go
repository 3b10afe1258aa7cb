package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/review"
	"github.com/hunchbank/supportd/internal/risk"
	"github.com/hunchbank/supportd/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *review.System, *store.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	st := store.NewMemoryStore()
	sys := review.NewSystem(risk.NewAssessor(risk.DefaultConfig()), review.NewQueue(st), nil, st, nil, logger)
	srv := httptest.NewServer(NewServer(sys, st, logger).Router())
	t.Cleanup(srv.Close)
	return srv, sys, st
}

func addReview(t *testing.T, sys *review.System) string {
	t.Helper()
	id, err := sys.Add(context.Background(),
		models.EmailMessage{From: "alice@example.com", Subject: "refund"},
		"refund_request", map[string]string{"amount": "600"}, 0.5, nil)
	require.NoError(t, err)
	return id
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestListPending(t *testing.T) {
	srv, sys, _ := newTestServer(t)
	id := addReview(t, sys)

	resp, err := http.Get(srv.URL + "/api/v1/reviews/pending")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Reviews []*models.Review `json:"reviews"`
		Count   int              `json:"count"`
	}
	decode(t, resp, &body)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Reviews, 1)
	assert.Equal(t, id, body.Reviews[0].ID)
	assert.Equal(t, models.RiskHigh, body.Reviews[0].RiskLevel)
}

func TestGetReview_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/reviews/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAcceptReview(t *testing.T) {
	srv, sys, _ := newTestServer(t)
	id := addReview(t, sys)

	resp, err := http.Post(srv.URL+"/api/v1/reviews/"+id+"/accept", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Intent   string            `json:"intent"`
		Entities map[string]string `json:"entities"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "refund_request", body.Intent)
	assert.Equal(t, "600", body.Entities["amount"])

	// Double submit returns 409, not 500.
	resp, err = http.Post(srv.URL+"/api/v1/reviews/"+id+"/accept", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRejectUnknownReview(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/reviews/missing/reject", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestModifyReview(t *testing.T) {
	srv, sys, _ := newTestServer(t)
	id := addReview(t, sys)

	payload, _ := json.Marshal(map[string]string{"intent": "billing_question"})
	resp, err := http.Post(srv.URL+"/api/v1/reviews/"+id+"/modify", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Intent string `json:"intent"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "billing_question", body.Intent)
}

func TestModifyReview_MissingIntent(t *testing.T) {
	srv, sys, _ := newTestServer(t)
	id := addReview(t, sys)

	resp, err := http.Post(srv.URL+"/api/v1/reviews/"+id+"/modify", "application/json",
		bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsAndActivity(t *testing.T) {
	srv, sys, _ := newTestServer(t)
	addReview(t, sys)

	resp, err := http.Get(srv.URL + "/api/v1/stats")
	require.NoError(t, err)
	var stats models.ReviewStats
	decode(t, resp, &stats)
	assert.Equal(t, 1, stats.TotalPending)

	resp, err = http.Get(srv.URL + "/api/v1/activity")
	require.NoError(t, err)
	var activity []*models.ActivityEntry
	decode(t, resp, &activity)
	assert.Len(t, activity, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, sys, _ := newTestServer(t)
	addReview(t, sys)

	resp, err := http.Get(srv.URL + "/api/v1/metrics")
	require.NoError(t, err)
	var m models.MetricsSnapshot
	decode(t, resp, &m)
	assert.Equal(t, 1, m.PendingReviews)
}

func TestIngestEmail(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	st := store.NewMemoryStore()
	sys := review.NewSystem(risk.NewAssessor(risk.DefaultConfig()), review.NewQueue(st), nil, st, nil, logger)

	var got []models.EmailMessage
	apiSrv := NewServer(sys, st, logger)
	apiSrv.SetIngest(func(m models.EmailMessage) { got = append(got, m) })
	srv := httptest.NewServer(apiSrv.Router())
	t.Cleanup(srv.Close)

	payload, _ := json.Marshal(models.EmailMessage{From: "alice@example.com", Subject: "hi", Body: "help"})
	resp, err := http.Post(srv.URL+"/api/v1/emails", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, got, 1)
	assert.Equal(t, "alice@example.com", got[0].From)

	// Missing sender is rejected before it reaches the sink.
	resp, err = http.Post(srv.URL+"/api/v1/emails", "application/json", bytes.NewReader([]byte(`{"subject":"x"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, got, 1)
}

func TestIngestEmail_DisabledWithoutSink(t *testing.T) {
	srv, _, _ := newTestServer(t)

	payload, _ := json.Marshal(models.EmailMessage{From: "alice@example.com"})
	resp, err := http.Post(srv.URL+"/api/v1/emails", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req, err := http.NewRequest("OPTIONS", srv.URL+"/api/v1/reviews/pending", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
