package payments

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeClient is an in-memory Client used by tests and by local runs without
// processor credentials.
type FakeClient struct {
	mu        sync.Mutex
	customers map[string]*Customer // by email
	charges   map[string]*Charge
	payments  map[string][]*Payment // by customer ID
	refunds   map[string][]*Refund  // by customer ID
	nextID    int
}

// NewFakeClient creates an empty fake processor.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		customers: make(map[string]*Customer),
		charges:   make(map[string]*Charge),
		payments:  make(map[string][]*Payment),
		refunds:   make(map[string][]*Refund),
	}
}

// AddCustomer registers a customer and returns it.
func (f *FakeClient) AddCustomer(email, name string) *Customer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := &Customer{
		ID:      fmt.Sprintf("cus_%04d", f.nextID),
		Email:   email,
		Name:    name,
		Created: time.Now().UTC(),
	}
	f.customers[email] = c
	return c
}

// AddCharge records a charge for a customer and returns it.
func (f *FakeClient) AddCharge(customerID string, amountCents int64, created time.Time, checks CardChecks) *Charge {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ch := &Charge{
		ID:          fmt.Sprintf("ch_%04d", f.nextID),
		CustomerID:  customerID,
		AmountCents: amountCents,
		Currency:    "usd",
		Created:     created,
		Status:      "succeeded",
		Checks:      checks,
	}
	f.charges[ch.ID] = ch
	f.payments[customerID] = append(f.payments[customerID], &Payment{
		ID:          "py_" + ch.ID,
		AmountCents: amountCents,
		Created:     created,
	})
	return ch
}

// AddRefund records a historical refund for a customer.
func (f *FakeClient) AddRefund(customerID, chargeID string, amountCents int64, created time.Time) *Refund {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r := &Refund{
		ID:          fmt.Sprintf("re_%04d", f.nextID),
		ChargeID:    chargeID,
		AmountCents: amountCents,
		Reason:      "requested_by_customer",
		Created:     created,
	}
	f.refunds[customerID] = append(f.refunds[customerID], r)
	return r
}

func (f *FakeClient) CustomerByEmail(_ context.Context, email string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[email]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, email)
	}
	return c, nil
}

func (f *FakeClient) GetCharge(_ context.Context, id string) (*Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.charges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChargeNotFound, id)
	}
	return ch, nil
}

func (f *FakeClient) RecentCharges(_ context.Context, customerID string, limit int) ([]*Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Charge
	for _, ch := range f.charges {
		if ch.CustomerID == customerID {
			out = append(out, ch)
		}
	}
	// Newest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Created.After(out[i].Created) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeClient) Payments(_ context.Context, customerID string, since time.Time) ([]*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Payment
	for _, p := range f.payments[customerID] {
		if !p.Created.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *FakeClient) Refunds(_ context.Context, customerID string, since time.Time) ([]*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Refund
	for _, r := range f.refunds[customerID] {
		if !r.Created.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FakeClient) CreateRefund(_ context.Context, chargeID string, amountCents int64, reason string) (*Refund, error) {
	f.mu.Lock()
	ch, ok := f.charges[chargeID]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrChargeNotFound, chargeID)
	}
	f.nextID++
	r := &Refund{
		ID:          fmt.Sprintf("re_%04d", f.nextID),
		ChargeID:    chargeID,
		AmountCents: amountCents,
		Reason:      reason,
		Created:     time.Now().UTC(),
	}
	f.refunds[ch.CustomerID] = append(f.refunds[ch.CustomerID], r)
	f.mu.Unlock()
	return r, nil
}
