package payment

import (
	"context"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

// Coordinator dispatches a checkout to the method the customer chose
type Coordinator struct {
	instant  *Instant
	redirect *Redirect
	offline  *Offline
	logger   *zap.Logger
}

// NewCoordinator wires the three payment variants
func NewCoordinator(instant *Instant, redirect *Redirect, offline *Offline) *Coordinator {
	return &Coordinator{instant: instant, redirect: redirect, offline: offline, logger: util.Named("payment")}
}

// MethodFor returns the variant handling pm
func (c *Coordinator) MethodFor(pm models.PaymentMethod) (Method, error) {
	switch pm {
	case models.PaymentMethodRazorpay:
		if c.instant != nil {
			return c.instant, nil
		}
	case models.PaymentMethodStripe:
		if c.redirect != nil {
			return c.redirect, nil
		}
	case models.PaymentMethodCOD, models.PaymentMethodBank, models.PaymentMethodUPI:
		if c.offline != nil {
			return c.offline, nil
		}
	default:
		return nil, newError(KindValidation, pm, "unsupported payment method", nil)
	}
	return nil, newError(KindConfiguration, pm, "payment method not enabled", nil)
}

// Pay drives checkout to a terminal outcome. Widget is used by the instant
// method only.
func (c *Coordinator) Pay(ctx context.Context, checkout *Checkout, w Widget) (*Result, error) {
	method, err := c.MethodFor(checkout.Draft.PaymentMethod)
	if err != nil {
		return nil, err
	}
	res, err := method.Pay(ctx, checkout, w)
	c.observe(checkout, res, err)
	return res, err
}

// BeginInstant opens an instant-gateway intent without touching the ledger
func (c *Coordinator) BeginInstant(ctx context.Context, checkout *Checkout) (*Intent, error) {
	if c.instant == nil {
		return nil, newError(KindConfiguration, models.PaymentMethodRazorpay, "payment method not enabled", nil)
	}
	intent, err := c.instant.Begin(ctx, checkout)
	if err != nil {
		c.observe(checkout, nil, err)
	}
	return intent, err
}

// CompleteInstant finishes an intent opened by BeginInstant
func (c *Coordinator) CompleteInstant(ctx context.Context, checkout *Checkout, intent *Intent, res WidgetResult) (*Result, error) {
	if c.instant == nil {
		return nil, newError(KindConfiguration, models.PaymentMethodRazorpay, "payment method not enabled", nil)
	}
	out, err := c.instant.Complete(ctx, checkout, intent, res)
	c.observe(checkout, out, err)
	return out, err
}

// VerifyInstant checks a signature without completing a checkout
func (c *Coordinator) VerifyInstant(externalOrderID, paymentID, signature string) (bool, error) {
	if c.instant == nil {
		return false, newError(KindConfiguration, models.PaymentMethodRazorpay, "payment method not enabled", nil)
	}
	return c.instant.gateway.VerifySignature(externalOrderID, paymentID, signature)
}

// ReturnFromRedirect handles the browser coming back from the hosted page
func (c *Coordinator) ReturnFromRedirect(ctx context.Context, orderID, status string) (*Result, error) {
	if c.redirect == nil {
		return nil, newError(KindConfiguration, models.PaymentMethodStripe, "payment method not enabled", nil)
	}
	return c.redirect.Return(ctx, orderID, status)
}

func (c *Coordinator) observe(checkout *Checkout, res *Result, err error) {
	outcome := OutcomeOf(res, err)
	util.CheckoutOutcomesTotal.WithLabelValues(string(checkout.Draft.PaymentMethod), string(outcome)).Inc()
	if err != nil {
		kind, _ := KindOf(err)
		c.logger.Info("Payment attempt ended",
			zap.String("reference", checkout.Reference),
			zap.String("payment_method", string(checkout.Draft.PaymentMethod)),
			zap.String("outcome", string(outcome)),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
