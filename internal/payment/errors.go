package payment

import (
	"errors"
	"fmt"

	"printshop-orders/internal/models"
)

// Kind classifies why a payment attempt did not reach a paid or pending outcome
type Kind string

const (
	KindConfiguration Kind = "configuration" // gateway credentials missing
	KindValidation    Kind = "validation"    // checkout unusable before any gateway call
	KindLoadFailure   Kind = "load_failure"  // customer-facing widget could not be opened
	KindCancelled     Kind = "cancelled"     // customer dismissed the widget
	KindDeclined      Kind = "declined"      // gateway reported a failed payment
	KindVerification  Kind = "verification"  // gateway success whose signature did not match
	KindUnavailable   Kind = "unavailable"   // gateway unreachable or returned an error
	KindLedgerWrite   Kind = "ledger_write"  // money captured, order not recorded
)

// Error is returned for every failed or cancelled payment attempt
type Error struct {
	Kind   Kind
	Method models.PaymentMethod
	Reason string
	Cause  error

	// Set on KindLedgerWrite so the payment can be reconciled by hand
	PaymentID       string
	ExternalOrderID string

	// Order is the order an attempt left behind, if any
	Order *models.Order
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("payment %s (%s): %s", e.Kind, e.Method, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the Kind of a payment error
func KindOf(err error) (Kind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a payment error of the given kind
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsCancelled reports a customer-dismissed payment
func IsCancelled(err error) bool { return IsKind(err, KindCancelled) }

// IsLedgerWrite reports money captured without a recorded order
func IsLedgerWrite(err error) bool { return IsKind(err, KindLedgerWrite) }

func newError(kind Kind, method models.PaymentMethod, reason string, cause error) *Error {
	return &Error{Kind: kind, Method: method, Reason: reason, Cause: cause}
}

// asGatewayError keeps a typed error from the gateway client, anything else
// is treated as the gateway being unavailable
func asGatewayError(method models.PaymentMethod, reason string, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Method == "" {
			perr.Method = method
		}
		return perr
	}
	return newError(KindUnavailable, method, reason, err)
}
