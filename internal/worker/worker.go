package worker

import (
	"context"
	"fmt"

	"printshop-orders/internal/broker"
	"printshop-orders/internal/models"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

// OrderSource is the part of the ledger fulfillment needs
type OrderSource interface {
	GetOrder(ctx context.Context, docID string) (*models.Order, error)
	AttachShipment(ctx context.Context, docID, shipmentID string) (*models.Order, error)
}

// Shipper registers orders with the carrier
type Shipper interface {
	CreateShipment(ctx context.Context, order *models.Order) (string, error)
}

// StatusNotifier mails customers about status changes
type StatusNotifier interface {
	StatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// FulfillmentWorker creates a carrier shipment once an order is shipped
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       OrderSource
	shipper      Shipper
	logger       *zap.Logger
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(consumer *broker.Consumer, orders OrderSource, shipper Shipper) *FulfillmentWorker {
	w := &FulfillmentWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		orders:       orders,
		shipper:      shipper,
		logger:       util.Named("fulfillment-worker"),
	}
	w.eventHandler.OnOrderStatusChanged(w.HandleStatusChanged)
	return w
}

// HandleStatusChanged creates the shipment for an order entering shipped.
// Orders that already carry a shipment id are left alone.
func (w *FulfillmentWorker) HandleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	if event.ToStatus != models.OrderStatusShipped {
		return nil
	}
	ctx, span := util.StartSpan(ctx, "FulfillmentWorker.HandleStatusChanged")
	defer span.End()

	order, err := w.orders.GetOrder(ctx, event.DocID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", event.OrderID, err)
	}
	if order.ShipmentID != "" {
		w.logger.Debug("Shipment already exists", zap.String("order_id", order.OrderID))
		return nil
	}

	shipmentID, err := w.shipper.CreateShipment(ctx, order)
	if err != nil {
		util.RecordError(span, err)
		w.logger.Error("Shipment creation failed", zap.String("order_id", order.OrderID), zap.Error(err))
		return err
	}
	if _, err := w.orders.AttachShipment(ctx, order.ID, shipmentID); err != nil {
		w.logger.Error("Failed to record shipment",
			zap.String("order_id", order.OrderID), zap.String("shipment_id", shipmentID), zap.Error(err))
		return err
	}
	return nil
}

// Start starts the worker
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	w.logger.Info("Stopping fulfillment worker")
	return w.consumer.Close()
}

// NotificationWorker mails the customer on every status change
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	notifier     StatusNotifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier StatusNotifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		notifier:     notifier,
		logger:       util.Named("notification-worker"),
	}
	w.eventHandler.OnOrderStatusChanged(w.HandleStatusChanged)
	return w
}

// HandleStatusChanged sends the status-change mail
func (w *NotificationWorker) HandleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	if err := w.notifier.StatusChanged(ctx, event); err != nil {
		return fmt.Errorf("status mail for %s: %w", event.OrderID, err)
	}
	return nil
}

// Start starts the notification worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the notification worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
