package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

const sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// Redirect records first and pays second: the order exists with a pending
// payment before the customer leaves for the hosted page.
type Redirect struct {
	gateway  RedirectGateway
	ledger   Ledger
	siteURL  string
	currency string
	logger   *zap.Logger
}

// NewRedirect creates the redirect-gateway method. siteURL is where the
// hosted page sends the customer back to.
func NewRedirect(gateway RedirectGateway, ledger Ledger, siteURL, currency string) *Redirect {
	return &Redirect{
		gateway:  gateway,
		ledger:   ledger,
		siteURL:  strings.TrimRight(siteURL, "/"),
		currency: currency,
		logger:   util.Named("payment-redirect"),
	}
}

// Pay creates the pending order and a hosted session referencing it
func (m *Redirect) Pay(ctx context.Context, c *Checkout, _ Widget) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "Redirect.Pay")
	defer span.End()

	if c.Totals.Total <= 0 {
		return nil, newError(KindValidation, models.PaymentMethodStripe, "amount must be positive", nil)
	}

	order, err := m.ledger.CreateOrder(ctx, c.Draft)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	order, err = m.ledger.AttachPaymentInfo(ctx, order.ID, models.PaymentInfo{
		PaymentMethod: models.PaymentMethodStripe,
		PaymentStatus: models.PaymentStatusPending,
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to mark order pending: %w", err)
	}

	session, err := m.gateway.CreateSession(ctx, SessionRequest{
		Reference:     order.OrderID,
		CustomerEmail: order.UserEmail,
		Currency:      m.currency,
		LineItems:     sessionLineItems(order),
		SuccessURL:    m.successURL(order.OrderID),
		CancelURL:     m.cancelURL(order.OrderID),
	})
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues("stripe", "error").Inc()
		util.RecordError(span, err)
		m.abandon(ctx, order, err)
		return nil, asGatewayError(models.PaymentMethodStripe, "could not create checkout session", err)
	}
	util.PaymentIntentsTotal.WithLabelValues("stripe", "ok").Inc()

	if updated, err := m.ledger.AttachPaymentInfo(ctx, order.ID, models.PaymentInfo{
		PaymentMethod:          models.PaymentMethodStripe,
		ExternalPaymentOrderID: session.ID,
		PaymentStatus:          models.PaymentStatusPending,
	}); err != nil {
		m.logger.Warn("Could not record checkout session on order",
			zap.String("order_id", order.OrderID),
			zap.String("session_id", session.ID),
			zap.Error(err))
	} else {
		order = updated
	}

	m.logger.Info("Redirecting to hosted checkout",
		zap.String("order_id", order.OrderID),
		zap.String("session_id", session.ID))

	return &Result{Outcome: OutcomePending, Order: order, RedirectURL: session.URL, SessionID: session.ID}, nil
}

// Return handles the customer landing back from the hosted page. The
// query parameters are trusted as they are; nothing is re-verified with
// the gateway, so the order keeps its pending payment status.
func (m *Redirect) Return(ctx context.Context, orderID, status string) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "Redirect.Return")
	defer span.End()

	if orderID == "" {
		return nil, newError(KindValidation, models.PaymentMethodStripe, "order id required", nil)
	}
	order, err := m.ledger.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != models.PaymentMethodStripe {
		m.logger.Warn("Hosted checkout return for an order paid another way",
			zap.String("order_id", order.OrderID),
			zap.String("payment_method", string(order.PaymentMethod)))
		return nil, newError(KindValidation, models.PaymentMethodStripe, "order was not paid through hosted checkout", nil)
	}
	if order.PaymentStatus == models.PaymentStatusFailed {
		return nil, newError(KindValidation, models.PaymentMethodStripe, "checkout session for this order was never opened", nil)
	}

	switch status {
	case "success":
		m.logger.Warn("Hosted checkout return accepted without gateway verification",
			zap.String("order_id", order.OrderID),
			zap.String("payment_status", string(order.PaymentStatus)))
		return &Result{Outcome: OutcomePending, Order: order}, nil
	case "cancelled":
		m.logger.Info("Hosted checkout cancelled", zap.String("order_id", order.OrderID))
		perr := newError(KindCancelled, models.PaymentMethodStripe, "payment cancelled", nil)
		perr.Order = order
		return nil, perr
	}
	return nil, newError(KindValidation, models.PaymentMethodStripe, "unknown payment status", nil)
}

// abandon marks a pending order whose session could not be created
func (m *Redirect) abandon(ctx context.Context, order *models.Order, cause error) {
	if _, err := m.ledger.AttachPaymentInfo(ctx, order.ID, models.PaymentInfo{
		PaymentMethod: models.PaymentMethodStripe,
		PaymentStatus: models.PaymentStatusFailed,
	}); err != nil {
		m.logger.Error("Could not mark payment failed", zap.String("order_id", order.OrderID), zap.Error(err))
		return
	}
	if _, err := m.ledger.TransitionStatus(ctx, order.ID, models.OrderStatusCancelled,
		"checkout session could not be created"); err != nil {
		m.logger.Error("Could not cancel order", zap.String("order_id", order.OrderID), zap.Error(err))
		return
	}
	m.logger.Warn("Order cancelled after session failure", zap.String("order_id", order.OrderID), zap.Error(cause))
}

func (m *Redirect) successURL(orderID string) string {
	return fmt.Sprintf("%s/checkout?payment=success&session_id=%s&order_id=%s",
		m.siteURL, sessionIDPlaceholder, url.QueryEscape(orderID))
}

func (m *Redirect) cancelURL(orderID string) string {
	return fmt.Sprintf("%s/checkout?payment=cancelled&order_id=%s", m.siteURL, url.QueryEscape(orderID))
}

// sessionLineItems lists the order items plus tax and, when charged,
// shipping, so the hosted total matches the order total
func sessionLineItems(order *models.Order) []LineItem {
	items := make([]LineItem, 0, len(order.Items)+2)
	for _, it := range order.Items {
		items = append(items, LineItem{Name: it.Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	items = append(items, LineItem{Name: "GST (18%)", UnitPrice: order.Tax, Quantity: 1})
	if order.ShippingCost > 0 {
		items = append(items, LineItem{Name: "Shipping", UnitPrice: order.ShippingCost, Quantity: 1})
	}
	return items
}

func expandSessionID(rawURL, sessionID string) string {
	return strings.ReplaceAll(rawURL, sessionIDPlaceholder, sessionID)
}
