// Package payments defines the boundary to the payment processor. The rest
// of the system only depends on these types and the Client interface; the
// actual processor integration lives behind it.
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrChargeNotFound   = errors.New("charge not found")
)

// CardChecks holds the processor's card verification results. Values are
// "pass", "fail", "unavailable", or empty when not reported.
type CardChecks struct {
	CVC          string `json:"cvc"`
	AddressLine1 string `json:"address_line1"`
}

// Customer is a payment-processor customer record.
type Customer struct {
	ID      string    `json:"id"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// Charge is a settled card charge. Amounts are integer cents.
type Charge struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Created     time.Time  `json:"created"`
	Status      string     `json:"status"`
	Checks      CardChecks `json:"checks"`
}

// Payment is a successful payment in the customer's history.
type Payment struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Created     time.Time `json:"created"`
}

// Refund is an issued (or requested) refund against a charge.
type Refund struct {
	ID          string    `json:"id"`
	ChargeID    string    `json:"charge_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	Created     time.Time `json:"created"`
}

// Client is the processor operations supportd needs. Since is a cutoff for
// history queries; implementations return records created at or after it.
type Client interface {
	CustomerByEmail(ctx context.Context, email string) (*Customer, error)
	GetCharge(ctx context.Context, id string) (*Charge, error)
	RecentCharges(ctx context.Context, customerID string, limit int) ([]*Charge, error)
	Payments(ctx context.Context, customerID string, since time.Time) ([]*Payment, error)
	Refunds(ctx context.Context, customerID string, since time.Time) ([]*Refund, error)
	CreateRefund(ctx context.Context, chargeID string, amountCents int64, reason string) (*Refund, error)
}
