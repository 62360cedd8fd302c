package payment

import (
	"context"

	"printshop-orders/internal/models"
	"printshop-orders/internal/pricing"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

// Instant pays first and records second: the ledger is only written once a
// success signature has verified.
type Instant struct {
	gateway  InstantGateway
	ledger   Ledger
	currency string
	logger   *zap.Logger
}

// NewInstant creates the instant-gateway method
func NewInstant(gateway InstantGateway, ledger Ledger, currency string) *Instant {
	return &Instant{gateway: gateway, ledger: ledger, currency: currency, logger: util.Named("payment-instant")}
}

// Pay opens an intent, drives the widget and completes the payment
func (m *Instant) Pay(ctx context.Context, c *Checkout, w Widget) (*Result, error) {
	intent, err := m.Begin(ctx, c)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, newError(KindLoadFailure, models.PaymentMethodRazorpay, "payment widget unavailable", nil)
	}
	res, err := w.Open(ctx, intent)
	if err != nil {
		m.logger.Warn("Payment widget failed to load", zap.String("reference", c.Reference), zap.Error(err))
		return nil, newError(KindLoadFailure, models.PaymentMethodRazorpay, "payment widget failed to load", err)
	}
	return m.Complete(ctx, c, intent, res)
}

// Begin creates the gateway intent for the checkout total
func (m *Instant) Begin(ctx context.Context, c *Checkout) (*Intent, error) {
	ctx, span := util.StartSpan(ctx, "Instant.Begin")
	defer span.End()

	if c.Totals.Total <= 0 {
		return nil, newError(KindValidation, models.PaymentMethodRazorpay, "amount must be positive", nil)
	}

	intent, err := m.gateway.CreateIntent(ctx, IntentRequest{
		AmountMinor:   pricing.ToMinorUnits(c.Totals.Total),
		Currency:      m.currency,
		Reference:     c.Reference,
		CustomerEmail: c.Draft.UserEmail,
		CustomerName:  c.Draft.ShippingAddress.FullName,
		CustomerPhone: c.Draft.ShippingAddress.Phone,
	})
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues("razorpay", "error").Inc()
		util.RecordError(span, err)
		return nil, asGatewayError(models.PaymentMethodRazorpay, "could not create payment intent", err)
	}
	util.PaymentIntentsTotal.WithLabelValues("razorpay", "ok").Inc()

	m.logger.Info("Payment intent created",
		zap.String("reference", c.Reference),
		zap.String("external_order_id", intent.ExternalOrderID),
		zap.Int64("amount", intent.AmountMinor))
	return intent, nil
}

// Complete interprets the widget result. The signature is checked against
// the server-held intent id, never the one echoed by the client.
func (m *Instant) Complete(ctx context.Context, c *Checkout, intent *Intent, res WidgetResult) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "Instant.Complete")
	defer span.End()

	switch res.Status {
	case WidgetDismissed:
		m.logger.Info("Payment dismissed", zap.String("reference", c.Reference))
		return nil, newError(KindCancelled, models.PaymentMethodRazorpay, "payment cancelled", nil)
	case WidgetFailed:
		reason := res.Reason
		if reason == "" {
			reason = "payment failed"
		}
		m.logger.Info("Payment declined", zap.String("reference", c.Reference), zap.String("reason", reason))
		return nil, newError(KindDeclined, models.PaymentMethodRazorpay, reason, nil)
	case WidgetSucceeded:
	default:
		return nil, newError(KindValidation, models.PaymentMethodRazorpay, "unknown payment result", nil)
	}

	if res.PaymentID == "" || res.Signature == "" {
		return nil, newError(KindValidation, models.PaymentMethodRazorpay, "missing payment verification fields", nil)
	}

	ok, err := m.gateway.VerifySignature(intent.ExternalOrderID, res.PaymentID, res.Signature)
	if err != nil {
		return nil, asGatewayError(models.PaymentMethodRazorpay, "could not verify payment", err)
	}
	if !ok {
		util.PaymentVerificationFailures.Inc()
		m.logger.Error("Payment signature mismatch",
			zap.Bool("verification_failure", true),
			zap.String("reference", c.Reference),
			zap.String("external_order_id", intent.ExternalOrderID),
			zap.String("payment_id", res.PaymentID))
		return nil, newError(KindVerification, models.PaymentMethodRazorpay, "payment verification failed", nil)
	}

	// the order is written already paid, so a failure leaves either no order
	// or a complete one
	draft := c.Draft
	draft.Payment = &models.PaymentInfo{
		PaymentMethod:          models.PaymentMethodRazorpay,
		PaymentID:              res.PaymentID,
		ExternalPaymentOrderID: intent.ExternalOrderID,
		PaymentStatus:          models.PaymentStatusPaid,
	}
	order, err := m.ledger.CreateOrder(ctx, draft)
	if err != nil {
		return nil, m.ledgerWriteFailed(c, intent, res, err)
	}

	return &Result{Outcome: OutcomePaid, Order: order}, nil
}

func (m *Instant) ledgerWriteFailed(c *Checkout, intent *Intent, res WidgetResult, cause error) error {
	util.LedgerWriteAfterPaymentFailures.Inc()
	m.logger.Error("Payment captured but order not recorded",
		zap.Bool("reconciliation_required", true),
		zap.String("reference", c.Reference),
		zap.String("external_order_id", intent.ExternalOrderID),
		zap.String("payment_id", res.PaymentID),
		zap.Int64("amount", intent.AmountMinor),
		zap.String("user_email", c.Draft.UserEmail),
		zap.Error(cause))

	perr := newError(KindLedgerWrite, models.PaymentMethodRazorpay, "payment captured but order could not be recorded", cause)
	perr.PaymentID = res.PaymentID
	perr.ExternalOrderID = intent.ExternalOrderID
	return perr
}
