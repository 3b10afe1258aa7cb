package risk

import (
	"time"

	"github.com/hunchbank/supportd/internal/payments"
)

// Fraud factor labels attached to scored refunds. These flow into review
// assessments and notification bodies, so the spellings are load-bearing.
const (
	FactorVeryRecentCharge      = "very_recent_charge"
	FactorRecentCharge          = "recent_charge"
	FactorOldCharge             = "old_charge"
	FactorNearFullRefund        = "near_full_refund"
	FactorGenericReason         = "generic_reason"
	FactorMultipleRecentRefunds = "multiple_recent_refunds"
	FactorHasRecentRefunds      = "has_recent_refunds"
	FactorHighRefundRatio       = "high_refund_ratio"
	FactorElevatedRefundRatio   = "elevated_refund_ratio"
	FactorCVCCheckFailed        = "cvc_check_failed"
	FactorAddressCheckFailed    = "address_check_failed"
)

// RefundContext is everything the scorer looks at for one refund request.
// History slices cover the trailing 60 days.
type RefundContext struct {
	Charge            *payments.Charge
	RefundAmountCents int64
	Reason            string
	RecentRefunds     []*payments.Refund
	RecentPayments    []*payments.Payment
}

// Scorer computes additive fraud scores for refund requests.
type Scorer struct {
	now func() time.Time
}

// NewScorer creates a Scorer using the wall clock.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Score returns a fraud score in [0, 1] and the list of contributing
// factors. Each heuristic adds a fixed weight; the sum is clamped at 1.
func (s *Scorer) Score(rc RefundContext) (float64, []string) {
	var score float64
	var factors []string

	add := func(weight float64, factor string) {
		score += weight
		factors = append(factors, factor)
	}

	if rc.Charge != nil {
		age := s.now().Sub(rc.Charge.Created)
		switch {
		case age < 24*time.Hour:
			add(0.3, FactorVeryRecentCharge)
		case age < 72*time.Hour:
			add(0.15, FactorRecentCharge)
		case age > 60*24*time.Hour:
			add(0.1, FactorOldCharge)
		}

		// A refund of 90-99% of the charge looks like probing for the
		// largest amount that slips through automated checks.
		if rc.Charge.AmountCents > 0 {
			ratio := float64(rc.RefundAmountCents) / float64(rc.Charge.AmountCents)
			if ratio >= 0.9 && ratio < 1.0 {
				add(0.15, FactorNearFullRefund)
			}
		}

		if rc.Charge.Checks.CVC == "fail" {
			add(0.3, FactorCVCCheckFailed)
		}
		if rc.Charge.Checks.AddressLine1 == "fail" {
			add(0.2, FactorAddressCheckFailed)
		}
	}

	if isGenericReason(rc.Reason) {
		add(0.1, FactorGenericReason)
	}

	switch n := len(rc.RecentRefunds); {
	case n > 3:
		add(0.3, FactorMultipleRecentRefunds)
	case n > 1:
		add(0.1, FactorHasRecentRefunds)
	}

	// Ratio of refund events to payment events. Amounts are irrelevant
	// here: many small refunds against few payments is the pattern.
	if len(rc.RecentRefunds) > 0 && len(rc.RecentPayments) > 0 {
		ratio := float64(len(rc.RecentRefunds)) / float64(len(rc.RecentPayments))
		if ratio > 0.5 {
			add(0.25, FactorHighRefundRatio)
		} else if ratio > 0.3 {
			add(0.1, FactorElevatedRefundRatio)
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, factors
}

// isGenericReason reports whether the stated reason carries no information.
func isGenericReason(reason string) bool {
	switch reason {
	case "", "Customer request", "customer request", "requested_by_customer":
		return true
	}
	return false
}
