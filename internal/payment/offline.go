package payment

import (
	"context"
	"fmt"

	"printshop-orders/internal/util"
)

// Offline covers cash on delivery and manual transfers: the order is
// recorded at once and payment is settled outside the system.
type Offline struct {
	ledger Ledger
}

// NewOffline creates the offline method
func NewOffline(ledger Ledger) *Offline {
	return &Offline{ledger: ledger}
}

// Pay records the order with no payment status
func (m *Offline) Pay(ctx context.Context, c *Checkout, _ Widget) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "Offline.Pay")
	defer span.End()

	order, err := m.ledger.CreateOrder(ctx, c.Draft)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return &Result{Outcome: OutcomePending, Order: order}, nil
}
