package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type eventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer eventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID string) string { return "order-" + orderID }

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderPaymentRecorded publishes OrderPaymentRecorded event
func (ep *EventPublisher) PublishOrderPaymentRecorded(ctx context.Context, event *models.OrderPaymentRecordedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishTicketCreated publishes TicketCreated event
func (ep *EventPublisher) PublishTicketCreated(ctx context.Context, event *models.TicketCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, "ticket-"+event.TicketID, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Named("event-handler")}
}

// OnOrderStatusChanged registers a handler for OrderStatusChanged events
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onStatusChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderStatusChanged:
		if eh.onStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderStatusChanged event: %w", err)
			}
			eh.logger.Debug("Handling event", zap.String("type", baseEvent.EventType), zap.String("id", baseEvent.EventID))
			return eh.onStatusChanged(ctx, &event)
		}

	default:
		eh.logger.Debug("Ignoring event", zap.String("type", baseEvent.EventType))
	}

	return nil
}
