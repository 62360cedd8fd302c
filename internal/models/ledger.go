package models

import "errors"

var (
	// ErrNotFound is returned by stores when a document does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a guarded update loses a race
	ErrConflict = errors.New("concurrent update")
)

// OrderDraft carries what the customer submitted at checkout
type OrderDraft struct {
	UserID          string             `json:"user_id"`
	UserEmail       string             `json:"user_email"`
	Items           []OrderItem        `json:"items"`
	ShippingAddress Address            `json:"shipping_address"`
	PaymentMethod   PaymentMethod      `json:"payment_method"`
	Notes           string             `json:"notes"`
	ShippingQuote   *ShippingRateQuote `json:"shipping_quote,omitempty"`

	// Payment, when set, is recorded with the order in the same write
	Payment *PaymentInfo `json:"payment,omitempty"`
}

// PaymentInfo is the narrow set of payment fields the coordinator may change
type PaymentInfo struct {
	PaymentMethod          PaymentMethod `json:"payment_method"`
	PaymentID              string        `json:"payment_id,omitempty"`
	ExternalPaymentOrderID string        `json:"external_payment_order_id,omitempty"`
	PaymentStatus          PaymentStatus `json:"payment_status"`
}
