// Package handlers holds the per-intent automation handlers. RefundHandler
// is the only one with real teeth: it scores refund requests for fraud and
// auto-approves the safe, small ones.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/payments"
	"github.com/hunchbank/supportd/internal/risk"
)

// ErrInvalidAmount is returned when the extracted amount is missing,
// malformed, or exceeds the charge.
var ErrInvalidAmount = errors.New("invalid refund amount")

// Decision is the outcome of handling a refund request.
type Decision struct {
	AutoApproved bool
	Refund       *payments.Refund
	Assessment   *models.RiskAssessment
	Reason       string // why the request was routed to review
}

// RefundConfig holds the auto-approval policy knobs.
type RefundConfig struct {
	AutoApproveScore       float64
	AutoApproveAmountCents int64
	HistoryWindow          time.Duration
}

// DefaultRefundConfig returns the stock policy: auto-approve only when the
// fraud score is at most 0.3 and the amount is at most $20.
func DefaultRefundConfig() RefundConfig {
	return RefundConfig{
		AutoApproveScore:       0.3,
		AutoApproveAmountCents: 2000,
		HistoryWindow:          60 * 24 * time.Hour,
	}
}

// RefundHandler decides whether a refund request can be executed without a
// human. Anything it cannot positively clear is routed to review.
type RefundHandler struct {
	payments payments.Client
	scorer   *risk.Scorer
	cfg      RefundConfig
	logger   *slog.Logger
}

// NewRefundHandler creates a refund handler.
func NewRefundHandler(pc payments.Client, scorer *risk.Scorer, cfg RefundConfig, logger *slog.Logger) *RefundHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 60 * 24 * time.Hour
	}
	return &RefundHandler{payments: pc, scorer: scorer, cfg: cfg, logger: logger}
}

// Handle processes one classified refund request. It returns ErrInvalidAmount
// for unusable amounts; every other uncertainty becomes a route-to-review
// decision rather than an error.
func (h *RefundHandler) Handle(ctx context.Context, msg models.EmailMessage, entities map[string]string) (*Decision, error) {
	amountCents, err := amountToCents(entities["amount"])
	if err != nil {
		return nil, err
	}

	customer, err := h.payments.CustomerByEmail(ctx, msg.From)
	if err != nil {
		if errors.Is(err, payments.ErrCustomerNotFound) {
			return &Decision{Reason: "no customer record for sender"}, nil
		}
		h.logger.Error("customer lookup failed", "email", msg.From, "error", err)
		return &Decision{Reason: "customer lookup unavailable"}, nil
	}

	charge, err := h.resolveCharge(ctx, customer.ID, entities["charge_id"])
	if err != nil {
		return &Decision{Reason: "no matching charge found"}, nil
	}

	if amountCents > charge.AmountCents {
		return nil, fmt.Errorf("%w: refund %d exceeds charge %d cents", ErrInvalidAmount, amountCents, charge.AmountCents)
	}

	since := time.Now().UTC().Add(-h.cfg.HistoryWindow)
	refunds, err := h.payments.Refunds(ctx, customer.ID, since)
	if err != nil {
		h.logger.Error("refund history unavailable", "customer", customer.ID, "error", err)
		return &Decision{Reason: "refund history unavailable"}, nil
	}
	pays, err := h.payments.Payments(ctx, customer.ID, since)
	if err != nil {
		h.logger.Error("payment history unavailable", "customer", customer.ID, "error", err)
		return &Decision{Reason: "payment history unavailable"}, nil
	}

	score, factors := h.scorer.Score(risk.RefundContext{
		Charge:            charge,
		RefundAmountCents: amountCents,
		Reason:            entities["reason"],
		RecentRefunds:     refunds,
		RecentPayments:    pays,
	})

	assessment := &models.RiskAssessment{
		FraudScore:  score,
		RiskFactors: factors,
		ChargeID:    charge.ID,
		AmountCents: amountCents,
	}

	if score <= h.cfg.AutoApproveScore && amountCents <= h.cfg.AutoApproveAmountCents {
		refund, err := h.payments.CreateRefund(ctx, charge.ID, amountCents, entities["reason"])
		if err != nil {
			h.logger.Error("refund creation failed", "charge", charge.ID, "error", err)
			return &Decision{Assessment: assessment, Reason: "refund creation failed"}, nil
		}
		return &Decision{AutoApproved: true, Refund: refund, Assessment: assessment}, nil
	}

	return &Decision{
		Assessment: assessment,
		Reason:     fmt.Sprintf("fraud score %.2f / amount %d cents above auto-approve policy", score, amountCents),
	}, nil
}

func (h *RefundHandler) resolveCharge(ctx context.Context, customerID, chargeID string) (*payments.Charge, error) {
	if chargeID != "" {
		return h.payments.GetCharge(ctx, chargeID)
	}
	charges, err := h.payments.RecentCharges(ctx, customerID, 1)
	if err != nil {
		return nil, err
	}
	if len(charges) == 0 {
		return nil, payments.ErrChargeNotFound
	}
	return charges[0], nil
}

// amountToCents parses a dollar amount entity into integer cents.
func amountToCents(raw string) (int64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("%w: amount missing", ErrInvalidAmount)
	}
	dollars, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || dollars <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return int64(math.Round(dollars * 100)), nil
}
