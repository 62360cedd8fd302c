package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/pricing"
	"printshop-orders/internal/util"
	"printshop-orders/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrTerminalStatus  = errors.New("order is in a terminal status")
	ErrInvalidStatus   = errors.New("unknown order status")
	ErrNoStatusChange  = errors.New("order already has this status")
	ErrStatusConflict  = errors.New("order status changed concurrently")
	ErrMissingDocument = errors.New("document id is required")
)

const orderPlacedNote = "Order placed"

// Ledger is the single writer of order records. Status history is append
// only and every write goes through one of its methods.
type Ledger struct {
	orders OrderRepository
	events EventPublisher
	rules  pricing.Rules
	now    func() time.Time
	logger *zap.Logger
}

// NewLedger creates a ledger over a repository
func NewLedger(orders OrderRepository, events EventPublisher, rules pricing.Rules) *Ledger {
	if events == nil {
		events = NopPublisher{}
	}
	return &Ledger{
		orders: orders,
		events: events,
		rules:  rules,
		now:    time.Now,
		logger: util.Named("ledger"),
	}
}

// SetClock replaces the time source
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Rules returns the pricing rules used for new orders
func (l *Ledger) Rules() pricing.Rules {
	return l.rules
}

// CreateOrder prices the draft and records it as confirmed
func (l *Ledger) CreateOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.CreateOrder")
	defer span.End()

	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	totals := l.rules.Price(draft.Items, draft.ShippingQuote)
	order := &models.Order{
		ID:              uuid.New().String(),
		OrderID:         newOrderID(now),
		UserID:          draft.UserID,
		UserEmail:       draft.UserEmail,
		Items:           append([]models.OrderItem(nil), draft.Items...),
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		ShippingCost:    totals.ShippingCost,
		Total:           totals.Total,
		Status:          models.OrderStatusConfirmed,
		PaymentMethod:   draft.PaymentMethod,
		ShippingAddress: draft.ShippingAddress,
		Notes:           draft.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusHistory: []models.StatusEntry{{
			Status:    models.OrderStatusConfirmed,
			Timestamp: now,
			Note:      orderPlacedNote,
		}},
	}
	if p := draft.Payment; p != nil {
		order.PaymentMethod = p.PaymentMethod
		order.PaymentID = p.PaymentID
		order.ExternalPaymentOrderID = p.ExternalPaymentOrderID
		order.PaymentStatus = p.PaymentStatus
	}

	if err := l.orders.InsertOrder(ctx, order); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	l.logger.Info("Order created",
		zap.String("order_id", order.OrderID),
		zap.String("doc_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Int64("total", order.Total),
		zap.String("payment_method", string(order.PaymentMethod)))

	l.publish(ctx, "OrderPlaced", l.events.PublishOrderPlaced(ctx, &models.OrderPlacedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderPlaced, now),
		DocID:         order.ID,
		OrderID:       order.OrderID,
		UserID:        order.UserID,
		UserEmail:     order.UserEmail,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
	}))

	return order, nil
}

// TransitionStatus appends a status entry. Orders in delivered or cancelled
// are never moved. A move that is not the next forward step is accepted
// and the note records it as a manual override.
func (l *Ledger) TransitionStatus(ctx context.Context, docID string, status models.OrderStatus, note string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.TransitionStatus")
	defer span.End()

	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	order, err := l.GetOrder(ctx, docID)
	if err != nil {
		return nil, err
	}

	from := order.Status
	if from.Terminal() {
		util.OrderTransitionsRejected.Inc()
		l.logger.Warn("Rejected transition out of terminal status",
			zap.String("order_id", order.OrderID),
			zap.String("from", string(from)),
			zap.String("to", string(status)))
		return nil, fmt.Errorf("%w: %s", ErrTerminalStatus, from)
	}
	if from == status {
		return nil, ErrNoStatusChange
	}

	override := status != models.OrderStatusCancelled && !status.IsNextOf(from)
	note = strings.TrimSpace(note)
	if override {
		prefix := fmt.Sprintf("manual override: %s -> %s", from, status)
		if note == "" {
			note = prefix
		} else {
			note = prefix + "; " + note
		}
	}
	if note == "" {
		note = "Status updated to " + string(status)
	}

	ts := l.now().UTC()
	if last, ok := order.LastStatus(); ok && ts.Before(last.Timestamp) {
		ts = last.Timestamp
	}
	entry := models.StatusEntry{Status: status, Timestamp: ts, Note: note}

	if err := l.orders.AppendStatus(ctx, order.ID, from, entry); err != nil {
		util.RecordError(span, err)
		if errors.Is(err, models.ErrConflict) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("failed to append status: %w", err)
	}

	order.Status = status
	order.StatusHistory = append(order.StatusHistory, entry)
	order.UpdatedAt = ts

	util.OrderTransitionsTotal.WithLabelValues(string(status), strconv.FormatBool(override)).Inc()
	l.logger.Info("Order status changed",
		zap.String("order_id", order.OrderID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.Bool("override", override))

	l.publish(ctx, "OrderStatusChanged", l.events.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderStatusChanged, ts),
		DocID:      order.ID,
		OrderID:    order.OrderID,
		UserEmail:  order.UserEmail,
		Customer:   order.CustomerName(),
		FromStatus: from,
		ToStatus:   status,
		Note:       note,
	}))

	return order, nil
}

// AttachPaymentInfo overwrites only the payment fields of an order
func (l *Ledger) AttachPaymentInfo(ctx context.Context, docID string, info models.PaymentInfo) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.AttachPaymentInfo")
	defer span.End()

	if !info.PaymentMethod.Valid() {
		return nil, validation.Field("payment_method", "is invalid")
	}

	order, err := l.GetOrder(ctx, docID)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	if err := l.orders.UpdatePayment(ctx, order.ID, info, now); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}

	order.PaymentMethod = info.PaymentMethod
	order.PaymentID = info.PaymentID
	order.ExternalPaymentOrderID = info.ExternalPaymentOrderID
	order.PaymentStatus = info.PaymentStatus
	order.UpdatedAt = now

	l.logger.Info("Payment info attached",
		zap.String("order_id", order.OrderID),
		zap.String("payment_status", string(info.PaymentStatus)),
		zap.String("payment_id", info.PaymentID))

	l.publish(ctx, "OrderPaymentRecorded", l.events.PublishOrderPaymentRecorded(ctx, &models.OrderPaymentRecordedEvent{
		BaseEvent:              newBaseEvent(models.EventTypeOrderPaymentRecorded, now),
		DocID:                  order.ID,
		OrderID:                order.OrderID,
		PaymentMethod:          info.PaymentMethod,
		PaymentID:              info.PaymentID,
		ExternalPaymentOrderID: info.ExternalPaymentOrderID,
		PaymentStatus:          info.PaymentStatus,
	}))

	return order, nil
}

// AttachShipment records the carrier shipment id
func (l *Ledger) AttachShipment(ctx context.Context, docID, shipmentID string) (*models.Order, error) {
	order, err := l.GetOrder(ctx, docID)
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	if err := l.orders.SetShipmentID(ctx, order.ID, shipmentID, now); err != nil {
		return nil, fmt.Errorf("failed to set shipment: %w", err)
	}
	order.ShipmentID = shipmentID
	order.UpdatedAt = now
	return order, nil
}

// GetOrder looks an order up by document id
func (l *Ledger) GetOrder(ctx context.Context, docID string) (*models.Order, error) {
	if docID == "" {
		return nil, ErrMissingDocument
	}
	order, err := l.orders.GetOrder(ctx, docID)
	return order, notFound(err)
}

// GetOrderByOrderID looks an order up by its human-readable id
func (l *Ledger) GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := l.orders.GetOrderByOrderID(ctx, strings.TrimSpace(orderID))
	return order, notFound(err)
}

// GetOrderByShipmentID looks an order up by its carrier shipment id
func (l *Ledger) GetOrderByShipmentID(ctx context.Context, shipmentID string) (*models.Order, error) {
	order, err := l.orders.GetOrderByShipmentID(ctx, strings.TrimSpace(shipmentID))
	return order, notFound(err)
}

// ListUserOrders returns a customer's orders, newest first
func (l *Ledger) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := l.orders.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	sortNewestFirst(orders)
	return orders, nil
}

// ListAllOrders returns every order, newest first
func (l *Ledger) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	orders, err := l.orders.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	sortNewestFirst(orders)
	return orders, nil
}

func (l *Ledger) publish(ctx context.Context, name string, err error) {
	if err != nil {
		l.logger.Error("Failed to publish event", zap.String("event", name), zap.Error(err))
	}
}

func validateDraft(draft models.OrderDraft) error {
	if len(draft.Items) == 0 {
		return validation.Field("items", "cart is empty")
	}
	for i, item := range draft.Items {
		if item.ProductID == "" || item.Quantity < 1 || item.UnitPrice < 0 {
			return validation.Field(fmt.Sprintf("items[%d]", i), "is invalid")
		}
	}
	if !draft.PaymentMethod.Valid() {
		return validation.Field("payment_method", "is invalid")
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	return nil
}

func sortNewestFirst(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
}

// newOrderID builds "TS-" + base36 milliseconds + a random suffix
func newOrderID(now time.Time) string {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return "TS-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)) + strings.ToUpper(hex.EncodeToString(b[:]))
}

func newBaseEvent(eventType string, at time.Time) models.BaseEvent {
	return models.BaseEvent{EventID: uuid.New().String(), EventType: eventType, Timestamp: at}
}
