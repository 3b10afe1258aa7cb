package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hunchbank/supportd/internal/models"
)

// SlackConfig configures the Slack webhook channel.
type SlackConfig struct {
	WebhookURL    string
	Channel       string
	UrgentChannel string
}

// SlackChannel posts review notifications to a Slack incoming webhook.
type SlackChannel struct {
	cfg    SlackConfig
	client *http.Client
	logger *slog.Logger
}

// NewSlackChannel creates the Slack channel.
func NewSlackChannel(cfg SlackConfig, logger *slog.Logger) *SlackChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (s *SlackChannel) Name() string { return "slack" }

// Notify posts the review as a Block Kit message. Non-2xx responses are
// errors; the dispatcher logs them and moves on.
func (s *SlackChannel) Notify(ctx context.Context, r *models.Review) error {
	if s.cfg.WebhookURL == "" {
		return fmt.Errorf("webhook not configured")
	}

	payload, err := json.Marshal(s.message(r))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackChannel) message(r *models.Review) map[string]any {
	channel := s.cfg.Channel
	if urgent(r) && s.cfg.UrgentChannel != "" {
		channel = s.cfg.UrgentChannel
	}

	var fields []string
	fields = append(fields,
		fmt.Sprintf("*Customer:* %s", r.Email.From),
		fmt.Sprintf("*Intent:* %s (%.2f)", r.Intent, r.Confidence),
		fmt.Sprintf("*Risk:* %s", r.RiskLevel),
	)
	if r.Assessment != nil {
		fields = append(fields, fmt.Sprintf("*Fraud score:* %.2f (%s)",
			r.Assessment.FraudScore, strings.Join(r.Assessment.RiskFactors, ", ")))
	}

	msg := map[string]any{
		"text": fmt.Sprintf("%s Review needed: %s", riskEmoji(r.RiskLevel), r.Intent),
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("%s Review needed: %s", riskEmoji(r.RiskLevel), r.Intent),
				},
			},
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": strings.Join(fields, "\n"),
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{"type": "mrkdwn", "text": fmt.Sprintf("Review `%s` · %s", r.ID, r.Email.Subject)},
				},
			},
		},
	}
	if channel != "" {
		msg["channel"] = channel
	}
	return msg
}

func riskEmoji(level models.RiskLevel) string {
	switch level {
	case models.RiskHigh:
		return "\U0001F6A8" // rotating light
	case models.RiskMedium:
		return "⚠️" // warning sign
	default:
		return "ℹ️" // information
	}
}
