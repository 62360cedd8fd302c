package service

import (
	"context"
	"sync"
	"time"

	"printshop-orders/internal/models"
)

type recordingPublisher struct {
	mu            sync.Mutex
	placed        []*models.OrderPlacedEvent
	statusChanged []*models.OrderStatusChangedEvent
	payments      []*models.OrderPaymentRecordedEvent
	tickets       []*models.TicketCreatedEvent
	err           error
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderPaymentRecorded(_ context.Context, e *models.OrderPaymentRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments = append(p.payments, e)
	return p.err
}

func (p *recordingPublisher) PublishTicketCreated(_ context.Context, e *models.TicketCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickets = append(p.tickets, e)
	return p.err
}

// steppedClock advances by step on every call
type steppedClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *steppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func testAddress() models.Address {
	return models.Address{
		FullName:     "Asha Rao",
		Phone:        "9876543210",
		AddressLine1: "12 MG Road",
		City:         "Pune",
		State:        "Maharashtra",
		PostalCode:   "411001",
	}
}

func testDraft(method models.PaymentMethod) models.OrderDraft {
	return models.OrderDraft{
		UserID:          "user-1",
		UserEmail:       "asha@example.com",
		Items:           []models.OrderItem{{ProductID: "vase", Name: "Spiral Vase", UnitPrice: 1200, Quantity: 1}, {ProductID: "lamp", Name: "Moon Lamp", UnitPrice: 500, Quantity: 2}},
		ShippingAddress: testAddress(),
		PaymentMethod:   method,
	}
}
