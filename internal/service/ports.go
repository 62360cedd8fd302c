package service

import (
	"context"
	"time"

	"printshop-orders/internal/models"
)

// OrderRepository persists orders. Lookups return models.ErrNotFound for
// unknown ids; lists are newest first.
type OrderRepository interface {
	InsertOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, docID string) (*models.Order, error)
	GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderByShipmentID(ctx context.Context, shipmentID string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	// AppendStatus returns models.ErrConflict when the stored status is not from
	AppendStatus(ctx context.Context, docID string, from models.OrderStatus, entry models.StatusEntry) error
	UpdatePayment(ctx context.Context, docID string, info models.PaymentInfo, at time.Time) error
	SetShipmentID(ctx context.Context, docID, shipmentID string, at time.Time) error
}

// TicketRepository persists support tickets
type TicketRepository interface {
	InsertTicket(ctx context.Context, ticket *models.SupportTicket) error
	GetTicket(ctx context.Context, docID string) (*models.SupportTicket, error)
	ListTickets(ctx context.Context) ([]models.SupportTicket, error)
	ListTicketsByUser(ctx context.Context, userID string) ([]models.SupportTicket, error)
	UpdateTicketStatus(ctx context.Context, docID string, from, to models.TicketStatus) error
}

// UserRepository persists user profiles
type UserRepository interface {
	GetUser(ctx context.Context, uid string) (*models.UserProfile, error)
	SaveUser(ctx context.Context, profile *models.UserProfile) error
}

// EventPublisher emits domain events. Publishing is best-effort.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderPaymentRecorded(ctx context.Context, event *models.OrderPaymentRecordedEvent) error
	PublishTicketCreated(ctx context.Context, event *models.TicketCreatedEvent) error
}

// KeyValueStore is the expiring key space used for locks, idempotency
// keys and pending payment intents. Get returns models.ErrNotFound.
type KeyValueStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishOrderPlaced(context.Context, *models.OrderPlacedEvent) error { return nil }

func (NopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

func (NopPublisher) PublishOrderPaymentRecorded(context.Context, *models.OrderPaymentRecordedEvent) error {
	return nil
}

func (NopPublisher) PublishTicketCreated(context.Context, *models.TicketCreatedEvent) error { return nil }
