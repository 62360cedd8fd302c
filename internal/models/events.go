package models

import "time"

// Event types
const (
	EventTypeOrderPlaced          = "ORDER_PLACED"
	EventTypeOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventTypeOrderPaymentRecorded = "ORDER_PAYMENT_RECORDED"
	EventTypeTicketCreated        = "TICKET_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published after the ledger records a new order
type OrderPlacedEvent struct {
	BaseEvent
	DocID         string        `json:"doc_id"`
	OrderID       string        `json:"order_id"`
	UserID        string        `json:"user_id"`
	UserEmail     string        `json:"user_email"`
	Total         int64         `json:"total"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
}

// OrderStatusChangedEvent published after every status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	DocID      string      `json:"doc_id"`
	OrderID    string      `json:"order_id"`
	UserEmail  string      `json:"user_email"`
	Customer   string      `json:"customer"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	Note       string      `json:"note"`
}

// OrderPaymentRecordedEvent published after payment fields are attached
type OrderPaymentRecordedEvent struct {
	BaseEvent
	DocID                  string        `json:"doc_id"`
	OrderID                string        `json:"order_id"`
	PaymentMethod          PaymentMethod `json:"payment_method"`
	PaymentID              string        `json:"payment_id,omitempty"`
	ExternalPaymentOrderID string        `json:"external_payment_order_id,omitempty"`
	PaymentStatus          PaymentStatus `json:"payment_status"`
}

// TicketCreatedEvent published when a customer opens a support ticket
type TicketCreatedEvent struct {
	BaseEvent
	DocID     string `json:"doc_id"`
	TicketID  string `json:"ticket_id"`
	UserEmail string `json:"user_email"`
	IssueType string `json:"issue_type"`
}
