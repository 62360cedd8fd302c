package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"printshop-orders/internal/cart"
	"printshop-orders/internal/models"
	"printshop-orders/internal/payment"
	"printshop-orders/internal/pricing"
	"printshop-orders/internal/util"
	"printshop-orders/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrIntentNotFound = errors.New("payment intent not found or expired")
	ErrIntentOwner    = errors.New("payment intent belongs to another user")
)

const (
	intentTTL        = 2 * time.Hour
	intentKeyPrefix  = "intent:checkout:"
	intentDonePrefix = "intent:done:"
	returnNotifyKey  = "notified:redirect:"
	returnNotifyTTL  = 30 * 24 * time.Hour

	intentReconcilePrefix = "intent:reconcile:"
	reconcileTTL          = 30 * 24 * time.Hour

	shippingAddressLabel = "Shipping"
)

// RateRequest asks the carrier aggregator for parcel quotes
type RateRequest struct {
	DeliveryPostalCode string
	WeightKg           float64
	COD                bool
}

// RateSource returns carrier quotes. An empty result means no quote could
// be fetched and the flat shipping rule applies.
type RateSource interface {
	GetRates(ctx context.Context, req RateRequest) []models.ShippingRateQuote
}

// OrderNotifier sends the order confirmation after the ledger write
type OrderNotifier interface {
	OrderConfirmed(ctx context.Context, order *models.Order) error
}

// CartStore is the part of the cart service checkout needs
type CartStore interface {
	Get(ctx context.Context, session string) (*cart.Cart, error)
	Clear(ctx context.Context, session string) error
}

// CheckoutRequest is the customer's checkout form
type CheckoutRequest struct {
	Session        string               `json:"-"`
	UserID         string               `json:"-" validate:"required"`
	IdempotencyKey string               `json:"-"`
	Name           string               `json:"name" validate:"required,max=100"`
	Email          string               `json:"email" validate:"required,email"`
	Phone          string               `json:"phone" validate:"required,min=10,max=15"`
	Address        string               `json:"address" validate:"required,max=300"`
	City           string               `json:"city" validate:"required"`
	State          string               `json:"state" validate:"required"`
	PostalCode     string               `json:"postal_code" validate:"required,len=6,numeric"`
	Notes          string               `json:"notes" validate:"max=1000"`
	PaymentMethod  models.PaymentMethod `json:"payment_method" validate:"required"`
	CourierID      int64                `json:"courier_id"`
}

// Quote is what the confirm step shows before placing the order
type Quote struct {
	Items    []models.OrderItem         `json:"items"`
	Totals   pricing.Breakdown          `json:"totals"`
	Rates    []models.ShippingRateQuote `json:"rates"`
	Selected *models.ShippingRateQuote  `json:"selected,omitempty"`
}

// PlaceResult is returned by Place and Confirm
type PlaceResult struct {
	Outcome     payment.Outcome `json:"outcome"`
	Order       *models.Order   `json:"order,omitempty"`
	Intent      *payment.Intent `json:"intent,omitempty"`
	RedirectURL string          `json:"redirect_url,omitempty"`
	Replayed    bool            `json:"replayed,omitempty"`
}

// pendingIntent is stored between opening an instant payment and the
// browser coming back with its result
type pendingIntent struct {
	UserID         string           `json:"user_id"`
	Session        string           `json:"session"`
	IdempotencyKey string           `json:"idempotency_key"`
	Checkout       payment.Checkout `json:"checkout"`
	Intent         payment.Intent   `json:"intent"`
}

// CheckoutService turns a cart into an order through the payment coordinator
type CheckoutService struct {
	carts       CartStore
	coordinator *payment.Coordinator
	ledger      *Ledger
	profiles    *ProfileService
	guard       *SubmissionGuard
	kv          KeyValueStore
	rates       RateSource
	notifier    OrderNotifier
	weightKg    float64
	logger      *zap.Logger
}

// CheckoutDeps groups the collaborators of CheckoutService
type CheckoutDeps struct {
	Carts       CartStore
	Coordinator *payment.Coordinator
	Ledger      *Ledger
	Profiles    *ProfileService
	Guard       *SubmissionGuard
	KV          KeyValueStore
	Rates       RateSource
	Notifier    OrderNotifier
	WeightKg    float64
}

// NewCheckoutService wires a checkout service
func NewCheckoutService(d CheckoutDeps) *CheckoutService {
	return &CheckoutService{
		carts:       d.Carts,
		coordinator: d.Coordinator,
		ledger:      d.Ledger,
		profiles:    d.Profiles,
		guard:       d.Guard,
		kv:          d.KV,
		rates:       d.Rates,
		notifier:    d.Notifier,
		weightKg:    d.WeightKg,
		logger:      util.Named("checkout"),
	}
}

// Prefill builds a checkout form from the user's profile and default address
func (s *CheckoutService) Prefill(ctx context.Context, userID, email, name string) (*CheckoutRequest, error) {
	req := &CheckoutRequest{UserID: userID, Email: email, Name: name, PaymentMethod: models.PaymentMethodCOD}
	if s.profiles == nil {
		return req, nil
	}
	p, err := s.profiles.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return req, nil
	}
	if err != nil {
		return nil, err
	}
	if p.DisplayName != "" {
		req.Name = p.DisplayName
	}
	if p.Email != "" {
		req.Email = p.Email
	}
	req.Phone = p.Phone
	if p.PreferredPayment.Valid() {
		req.PaymentMethod = p.PreferredPayment
	}
	if addr, ok := p.DefaultAddress(); ok {
		req.Address = addr.SingleLine()
		req.City = addr.City
		req.State = addr.State
		req.PostalCode = addr.PostalCode
	}
	return req, nil
}

// Quote prices the session's cart against live carrier rates
func (s *CheckoutService) Quote(ctx context.Context, session, postalCode string, method models.PaymentMethod, courierID int64) (*Quote, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Quote")
	defer span.End()

	c, err := s.carts.Get(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	items := c.OrderItems()

	var rates []models.ShippingRateQuote
	if postalCode != "" && len(items) > 0 {
		rates = s.lookupRates(ctx, postalCode, method)
	}
	selected := selectQuote(rates, courierID)
	return &Quote{
		Items:    items,
		Totals:   s.ledger.Rules().Price(items, selected),
		Rates:    rates,
		Selected: selected,
	}, nil
}

// Place validates the form and hands the cart to the chosen payment method.
// Instant payments return an intent to be finished with Confirm.
func (s *CheckoutService) Place(ctx context.Context, req CheckoutRequest) (*PlaceResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Place")
	defer span.End()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	existing, release, err := s.guard.Begin(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return s.replay(ctx, existing)
	}
	defer release()

	c, err := s.carts.Get(ctx, req.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if c.IsEmpty() {
		return nil, validation.Field("items", "cart is empty")
	}

	checkout := s.buildCheckout(ctx, req, c.OrderItems())

	if req.PaymentMethod == models.PaymentMethodRazorpay {
		intent, err := s.coordinator.BeginInstant(ctx, checkout)
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		if err := s.savePending(ctx, pendingIntent{
			UserID:         req.UserID,
			Session:        req.Session,
			IdempotencyKey: req.IdempotencyKey,
			Checkout:       *checkout,
			Intent:         *intent,
		}); err != nil {
			return nil, err
		}
		return &PlaceResult{Outcome: payment.OutcomePending, Intent: intent}, nil
	}

	res, err := s.coordinator.Pay(ctx, checkout, nil)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.afterOrder(ctx, req.UserID, req.Session, req.IdempotencyKey, res.Order)
	if req.PaymentMethod.Offline() {
		s.notifyConfirmed(ctx, res.Order)
	}
	return &PlaceResult{Outcome: res.Outcome, Order: res.Order, RedirectURL: res.RedirectURL}, nil
}

// Confirm completes an instant payment with the widget's callback fields
func (s *CheckoutService) Confirm(ctx context.Context, userID string, result payment.WidgetResult) (*PlaceResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Confirm")
	defer span.End()

	if result.ExternalOrderID == "" {
		return nil, validation.Field("external_order_id", "is required")
	}

	// everything below runs under the intent lock so a double submit records
	// at most one order
	releaseIntent, err := s.guard.LockIntent(ctx, result.ExternalOrderID)
	if err != nil {
		return nil, err
	}
	defer releaseIntent()

	if orderID, err := s.kv.Get(ctx, intentDonePrefix+result.ExternalOrderID); err == nil {
		return s.replay(ctx, orderID)
	}
	if paymentID, err := s.kv.Get(ctx, intentReconcilePrefix+result.ExternalOrderID); err == nil {
		return nil, &payment.Error{
			Kind:            payment.KindLedgerWrite,
			Method:          models.PaymentMethodRazorpay,
			Reason:          "payment was captured but the order is awaiting reconciliation",
			PaymentID:       paymentID,
			ExternalOrderID: result.ExternalOrderID,
		}
	}

	pending, err := s.loadPending(ctx, result.ExternalOrderID)
	if err != nil {
		return nil, err
	}
	if pending.UserID != userID {
		return nil, ErrIntentOwner
	}

	_, release, err := s.guard.Begin(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.coordinator.CompleteInstant(ctx, &pending.Checkout, &pending.Intent, result)
	if err != nil {
		util.RecordError(span, err)
		switch {
		case payment.IsKind(err, payment.KindVerification):
			s.dropPending(ctx, result.ExternalOrderID)
		case payment.IsLedgerWrite(err):
			s.holdForReconciliation(ctx, result.ExternalOrderID, err)
		}
		return nil, err
	}

	if err := s.kv.Set(ctx, intentDonePrefix+result.ExternalOrderID, res.Order.OrderID, intentTTL); err != nil {
		s.logger.Warn("Failed to mark intent complete", zap.String("order_id", res.Order.OrderID), zap.Error(err))
	}
	s.dropPending(ctx, result.ExternalOrderID)
	s.afterOrder(ctx, userID, pending.Session, pending.IdempotencyKey, res.Order)
	s.notifyConfirmed(ctx, res.Order)
	return &PlaceResult{Outcome: res.Outcome, Order: res.Order}, nil
}

// ReturnFromRedirect handles the browser landing back from the hosted page
func (s *CheckoutService) ReturnFromRedirect(ctx context.Context, orderID, status string) (*PlaceResult, error) {
	res, err := s.coordinator.ReturnFromRedirect(ctx, orderID, status)
	if err != nil {
		return nil, err
	}
	// reloading the success page must not resend the confirmation
	first, err := s.kv.SetNX(ctx, returnNotifyKey+res.Order.OrderID, "1", returnNotifyTTL)
	if err == nil && first {
		s.notifyConfirmed(ctx, res.Order)
	}
	return &PlaceResult{Outcome: res.Outcome, Order: res.Order}, nil
}

func (s *CheckoutService) buildCheckout(ctx context.Context, req CheckoutRequest, items []models.OrderItem) *payment.Checkout {
	var quote *models.ShippingRateQuote
	if req.CourierID != 0 {
		quote = selectQuote(s.lookupRates(ctx, req.PostalCode, req.PaymentMethod), req.CourierID)
		if quote == nil {
			s.logger.Warn("Selected courier unavailable, using flat shipping",
				zap.Int64("courier_id", req.CourierID), zap.String("postal_code", req.PostalCode))
		}
	}

	draft := models.OrderDraft{
		UserID:    req.UserID,
		UserEmail: req.Email,
		Items:     items,
		ShippingAddress: models.Address{
			Label:        shippingAddressLabel,
			FullName:     req.Name,
			Phone:        req.Phone,
			AddressLine1: req.Address,
			City:         req.City,
			State:        req.State,
			PostalCode:   req.PostalCode,
		},
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		ShippingQuote: quote,
	}
	return &payment.Checkout{
		Reference: "CHK-" + strings.ToUpper(uuid.New().String()[:8]),
		Draft:     draft,
		Totals:    s.ledger.Rules().Price(items, quote),
	}
}

func (s *CheckoutService) lookupRates(ctx context.Context, postalCode string, method models.PaymentMethod) []models.ShippingRateQuote {
	if s.rates == nil {
		return nil
	}
	return s.rates.GetRates(ctx, RateRequest{
		DeliveryPostalCode: postalCode,
		WeightKg:           s.weightKg,
		COD:                method == models.PaymentMethodCOD,
	})
}

// afterOrder clears the cart exactly once the order exists
func (s *CheckoutService) afterOrder(ctx context.Context, userID, session, key string, order *models.Order) {
	if order == nil {
		return
	}
	if err := s.carts.Clear(ctx, session); err != nil {
		s.logger.Warn("Failed to clear cart after order", zap.String("order_id", order.OrderID), zap.Error(err))
	}
	s.guard.Remember(ctx, userID, key, order.OrderID)
}

func (s *CheckoutService) notifyConfirmed(ctx context.Context, order *models.Order) {
	if s.notifier == nil || order == nil {
		return
	}
	if err := s.notifier.OrderConfirmed(ctx, order); err != nil {
		s.logger.Warn("Order confirmation failed", zap.String("order_id", order.OrderID), zap.Error(err))
	}
}

func (s *CheckoutService) replay(ctx context.Context, orderID string) (*PlaceResult, error) {
	order, err := s.ledger.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	outcome := payment.OutcomePending
	if order.PaymentStatus == models.PaymentStatusPaid {
		outcome = payment.OutcomePaid
	}
	return &PlaceResult{Outcome: outcome, Order: order, Replayed: true}, nil
}

func (s *CheckoutService) savePending(ctx context.Context, p pendingIntent) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode intent: %w", err)
	}
	if err := s.kv.Set(ctx, intentKeyPrefix+p.Intent.ExternalOrderID, string(data), intentTTL); err != nil {
		return fmt.Errorf("failed to store intent: %w", err)
	}
	return nil
}

func (s *CheckoutService) loadPending(ctx context.Context, externalOrderID string) (*pendingIntent, error) {
	raw, err := s.kv.Get(ctx, intentKeyPrefix+externalOrderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load intent: %w", err)
	}
	var p pendingIntent
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode intent: %w", err)
	}
	return &p, nil
}

// holdForReconciliation retires an intent whose payment was captured but
// could not be recorded. Retries then fail fast instead of writing again.
func (s *CheckoutService) holdForReconciliation(ctx context.Context, externalOrderID string, cause error) {
	var perr *payment.Error
	if !errors.As(cause, &perr) {
		return
	}
	if err := s.kv.Set(ctx, intentReconcilePrefix+externalOrderID, perr.PaymentID, reconcileTTL); err != nil {
		s.logger.Error("Failed to hold intent for reconciliation",
			zap.String("external_order_id", externalOrderID),
			zap.String("payment_id", perr.PaymentID),
			zap.Error(err))
	}
	s.dropPending(ctx, externalOrderID)
}

func (s *CheckoutService) dropPending(ctx context.Context, externalOrderID string) {
	if err := s.kv.Del(ctx, intentKeyPrefix+externalOrderID); err != nil {
		s.logger.Warn("Failed to drop intent", zap.String("external_order_id", externalOrderID), zap.Error(err))
	}
}

func validateRequest(req CheckoutRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	if !req.PaymentMethod.Valid() {
		return validation.Field("payment_method", "is invalid")
	}
	return nil
}

func selectQuote(rates []models.ShippingRateQuote, courierID int64) *models.ShippingRateQuote {
	if courierID == 0 {
		return nil
	}
	for i := range rates {
		if rates[i].CourierID == courierID {
			q := rates[i]
			return &q
		}
	}
	return nil
}
