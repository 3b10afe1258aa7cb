package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/retry"
)

var (
	ErrAuth              = errors.New("smtp authentication rejected")
	ErrRecipientRejected = errors.New("smtp recipient rejected")
)

// SMTPProfile is one mail transport. supportd carries two: a primary and a
// fallback used when the primary exhausts its retries.
type SMTPProfile struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether the profile is usable.
func (p SMTPProfile) Configured() bool {
	return p.Host != "" && p.Port > 0
}

func (p SMTPProfile) addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// EmailConfig configures the email channel.
type EmailConfig struct {
	Primary          SMTPProfile
	Fallback         SMTPProfile
	Recipients       []string
	UrgentRecipients []string
	Retry            retry.Policy
}

// EmailChannel delivers review notifications over SMTP. Transient failures
// are retried with backoff per transport; authentication and recipient
// rejections abort the transport immediately.
type EmailChannel struct {
	cfg    EmailConfig
	logger *slog.Logger

	// send is swappable in tests.
	send func(p SMTPProfile, to []string, msg []byte) error
}

// NewEmailChannel creates the email channel.
func NewEmailChannel(cfg EmailConfig, logger *slog.Logger) *EmailChannel {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	return &EmailChannel{cfg: cfg, logger: logger, send: smtpSend}
}

func (e *EmailChannel) Name() string { return "email" }

// Notify sends the review notification, trying the primary transport first
// and the fallback only after the primary fails.
func (e *EmailChannel) Notify(ctx context.Context, r *models.Review) error {
	to := e.cfg.Recipients
	if urgent(r) && len(e.cfg.UrgentRecipients) > 0 {
		to = e.cfg.UrgentRecipients
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	msg := buildEmail(e.cfg.Primary.From, to, r)

	primaryErr := e.sendVia(ctx, e.cfg.Primary, to, msg)
	if primaryErr == nil {
		return nil
	}

	if !e.cfg.Fallback.Configured() {
		return fmt.Errorf("primary transport: %w", primaryErr)
	}

	fallbackMsg := buildEmail(e.cfg.Fallback.From, to, r)
	if err := e.sendVia(ctx, e.cfg.Fallback, to, fallbackMsg); err != nil {
		return fmt.Errorf("primary: %v; fallback: %w", primaryErr, err)
	}

	// Exactly one line records that delivery went through the fallback.
	e.logger.Warn("delivered via fallback transport",
		"review_id", r.ID, "primary_error", primaryErr)
	return nil
}

func (e *EmailChannel) sendVia(ctx context.Context, p SMTPProfile, to []string, msg []byte) error {
	if !p.Configured() {
		return fmt.Errorf("transport not configured")
	}
	return e.cfg.Retry.Do(ctx, func() error {
		err := e.send(p, to, msg)
		if err == nil {
			return nil
		}
		return classifySMTPError(err)
	})
}

// smtpSend is the real transport.
func smtpSend(p SMTPProfile, to []string, msg []byte) error {
	var auth smtp.Auth
	if p.Username != "" {
		auth = smtp.PlainAuth("", p.Username, p.Password, p.Host)
	}
	return smtp.SendMail(p.addr(), auth, p.From, to, msg)
}

// classifySMTPError marks permanent SMTP failures so the retry policy stops
// immediately. 530/534/535 are authentication rejections; 550/551/553 are
// recipient rejections. Everything else is treated as transient.
func classifySMTPError(err error) error {
	msg := err.Error()
	for _, code := range []string{"530", "534", "535"} {
		if strings.Contains(msg, code+" ") || strings.HasPrefix(msg, code) {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrAuth, err))
		}
	}
	for _, code := range []string{"550", "551", "553"} {
		if strings.Contains(msg, code+" ") || strings.HasPrefix(msg, code) {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrRecipientRejected, err))
		}
	}
	return err
}

// buildEmail renders the multipart notification message. Content is pure a
// function of the review, so redelivery is harmless.
func buildEmail(from string, to []string, r *models.Review) []byte {
	subject := emailSubject(r)

	var plain strings.Builder
	fmt.Fprintf(&plain, "A customer request needs review.\n\n")
	fmt.Fprintf(&plain, "Review ID:  %s\n", r.ID)
	fmt.Fprintf(&plain, "Customer:   %s\n", r.Email.From)
	fmt.Fprintf(&plain, "Subject:    %s\n", r.Email.Subject)
	fmt.Fprintf(&plain, "Intent:     %s (confidence %.2f)\n", r.Intent, r.Confidence)
	fmt.Fprintf(&plain, "Risk level: %s\n", r.RiskLevel)
	if r.Assessment != nil {
		fmt.Fprintf(&plain, "Fraud score: %.2f (%s)\n",
			r.Assessment.FraudScore, strings.Join(r.Assessment.RiskFactors, ", "))
	}
	if len(r.Entities) > 0 {
		fmt.Fprintf(&plain, "\nExtracted details:\n")
		for k, v := range r.Entities {
			fmt.Fprintf(&plain, "  %s: %s\n", k, v)
		}
	}
	fmt.Fprintf(&plain, "\n%s\n", r.Email.Body)

	var html strings.Builder
	fmt.Fprintf(&html, "<h2>Review required: %s</h2>", r.Intent)
	fmt.Fprintf(&html, "<p><b>Review ID:</b> %s<br>", r.ID)
	fmt.Fprintf(&html, "<b>Customer:</b> %s<br>", r.Email.From)
	fmt.Fprintf(&html, "<b>Risk level:</b> %s<br>", r.RiskLevel)
	fmt.Fprintf(&html, "<b>Confidence:</b> %.2f</p>", r.Confidence)
	if r.Assessment != nil {
		fmt.Fprintf(&html, "<p><b>Fraud score:</b> %.2f<br><b>Factors:</b> %s</p>",
			r.Assessment.FraudScore, strings.Join(r.Assessment.RiskFactors, ", "))
	}
	fmt.Fprintf(&html, "<blockquote>%s</blockquote>", r.Email.Body)

	boundary := "supportd-" + r.ID

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, plain.String())
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, html.String())
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return []byte(msg.String())
}

func emailSubject(r *models.Review) string {
	prefix := "[ATTENTION]"
	if urgent(r) {
		prefix = "[URGENT]"
	}
	return fmt.Sprintf("%s Review needed: %s from %s", prefix, r.Intent, r.Email.From)
}
