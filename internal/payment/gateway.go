// Package payment drives a checkout through one payment method and hands
// the result to the order ledger.
package payment

import (
	"context"

	"printshop-orders/internal/models"
	"printshop-orders/internal/pricing"
)

// Outcome is the terminal state of a payment attempt
type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomePending   Outcome = "pending" // awaiting external confirmation
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Checkout is one attempt to pay for a priced cart
type Checkout struct {
	// Reference is the merchant-side id sent to gateways as the receipt
	Reference string
	Draft     models.OrderDraft
	Totals    pricing.Breakdown
}

// Result is returned for paid and pending outcomes
type Result struct {
	Outcome     Outcome       `json:"outcome"`
	Order       *models.Order `json:"order,omitempty"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
}

// OutcomeOf normalizes a (result, error) pair from a Method
func OutcomeOf(res *Result, err error) Outcome {
	if err != nil {
		if IsCancelled(err) {
			return OutcomeCancelled
		}
		return OutcomeFailed
	}
	if res == nil {
		return OutcomeFailed
	}
	return res.Outcome
}

// Ledger is the part of the order ledger a payment method writes to
type Ledger interface {
	CreateOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error)
	AttachPaymentInfo(ctx context.Context, docID string, info models.PaymentInfo) (*models.Order, error)
	TransitionStatus(ctx context.Context, docID string, status models.OrderStatus, note string) (*models.Order, error)
	GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error)
}

// Method is one payment variant. Widget is only consulted by methods that
// need a customer-facing step in-process.
type Method interface {
	Pay(ctx context.Context, c *Checkout, w Widget) (*Result, error)
}

// Intent is a gateway-side order the customer pays against
type Intent struct {
	ExternalOrderID string `json:"external_order_id"`
	AmountMinor     int64  `json:"amount"`
	Currency        string `json:"currency"`
	PublicKey       string `json:"key_id"`
	Reference       string `json:"reference"`
}

// IntentRequest is what the instant gateway needs to open an intent
type IntentRequest struct {
	AmountMinor   int64
	Currency      string
	Reference     string
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
}

// InstantGateway creates intents and checks success signatures
type InstantGateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	VerifySignature(externalOrderID, paymentID, signature string) (bool, error)
}

// LineItem is one row on a hosted checkout page, in major currency units
type LineItem struct {
	Name      string
	UnitPrice int64
	Quantity  int
}

// SessionRequest is what the redirect gateway needs to host a checkout
type SessionRequest struct {
	Reference     string
	CustomerEmail string
	Currency      string
	LineItems     []LineItem
	SuccessURL    string
	CancelURL     string
}

// Session is a hosted checkout page
type Session struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// RedirectGateway creates hosted checkout sessions
type RedirectGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// WidgetStatus is what the customer-facing payment step reported
type WidgetStatus string

const (
	WidgetSucceeded WidgetStatus = "success"
	WidgetDismissed WidgetStatus = "dismissed"
	WidgetFailed    WidgetStatus = "failed"
)

// WidgetResult carries the gateway callback fields back to the server
type WidgetResult struct {
	Status          WidgetStatus `json:"status"`
	PaymentID       string       `json:"payment_id"`
	ExternalOrderID string       `json:"external_order_id"`
	Signature       string       `json:"signature"`
	Reason          string       `json:"reason"`
}

// Widget opens the customer-facing payment step for an intent. An error
// means the widget itself could not be loaded.
type Widget interface {
	Open(ctx context.Context, intent *Intent) (WidgetResult, error)
}

// StaticWidget replays a result captured elsewhere, e.g. by a browser callback
type StaticWidget WidgetResult

// Open returns the captured result
func (w StaticWidget) Open(_ context.Context, _ *Intent) (WidgetResult, error) {
	return WidgetResult(w), nil
}
