// Package memstore keeps orders, tickets and profiles in process memory.
// It backs STORE_DRIVER=memory and the service tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"printshop-orders/internal/models"
)

// Store is a mutex-guarded document store
type Store struct {
	mu      sync.RWMutex
	orders  map[string]*models.Order
	tickets map[string]*models.SupportTicket
	users   map[string]*models.UserProfile
}

// New creates an empty store
func New() *Store {
	return &Store{
		orders:  make(map[string]*models.Order),
		tickets: make(map[string]*models.SupportTicket),
		users:   make(map[string]*models.UserProfile),
	}
}

// Ping always succeeds
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	cp.StatusHistory = append([]models.StatusEntry(nil), o.StatusHistory...)
	return &cp
}

// InsertOrder stores a new order
func (s *Store) InsertOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = copyOrder(order)
	return nil
}

// GetOrder returns an order by document id
func (s *Store) GetOrder(_ context.Context, docID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[docID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyOrder(o), nil
}

// GetOrderByOrderID returns an order by its human-readable id
func (s *Store) GetOrderByOrderID(_ context.Context, orderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if strings.EqualFold(o.OrderID, orderID) {
			return copyOrder(o), nil
		}
	}
	return nil, models.ErrNotFound
}

// GetOrderByShipmentID returns the order a shipment was created for
func (s *Store) GetOrderByShipmentID(_ context.Context, shipmentID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ShipmentID != "" && o.ShipmentID == shipmentID {
			return copyOrder(o), nil
		}
	}
	return nil, models.ErrNotFound
}

// ListOrdersByUser returns a user's orders, newest first
func (s *Store) ListOrdersByUser(_ context.Context, userID string) ([]models.Order, error) {
	return s.listOrders(func(o *models.Order) bool { return o.UserID == userID }), nil
}

// ListOrders returns every order, newest first
func (s *Store) ListOrders(_ context.Context) ([]models.Order, error) {
	return s.listOrders(func(*models.Order) bool { return true }), nil
}

func (s *Store) listOrders(keep func(*models.Order) bool) []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *copyOrder(o))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AppendStatus moves an order from `from` to entry.Status
func (s *Store) AppendStatus(_ context.Context, docID string, from models.OrderStatus, entry models.StatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[docID]
	if !ok {
		return models.ErrNotFound
	}
	if o.Status != from {
		return models.ErrConflict
	}
	o.Status = entry.Status
	o.StatusHistory = append(o.StatusHistory, entry)
	o.UpdatedAt = entry.Timestamp
	return nil
}

// UpdatePayment overwrites the payment fields
func (s *Store) UpdatePayment(_ context.Context, docID string, info models.PaymentInfo, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[docID]
	if !ok {
		return models.ErrNotFound
	}
	o.PaymentMethod = info.PaymentMethod
	o.PaymentID = info.PaymentID
	o.ExternalPaymentOrderID = info.ExternalPaymentOrderID
	o.PaymentStatus = info.PaymentStatus
	o.UpdatedAt = at
	return nil
}

// SetShipmentID records the carrier shipment for an order
func (s *Store) SetShipmentID(_ context.Context, docID, shipmentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[docID]
	if !ok {
		return models.ErrNotFound
	}
	o.ShipmentID = shipmentID
	o.UpdatedAt = at
	return nil
}

// InsertTicket stores a new support ticket
func (s *Store) InsertTicket(_ context.Context, ticket *models.SupportTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ticket
	s.tickets[ticket.ID] = &cp
	return nil
}

// GetTicket returns a ticket by document id
func (s *Store) GetTicket(_ context.Context, docID string) (*models.SupportTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[docID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTickets returns every ticket, newest first
func (s *Store) ListTickets(_ context.Context) ([]models.SupportTicket, error) {
	return s.listTickets(func(*models.SupportTicket) bool { return true }), nil
}

// ListTicketsByUser returns a user's tickets, newest first
func (s *Store) ListTicketsByUser(_ context.Context, userID string) ([]models.SupportTicket, error) {
	return s.listTickets(func(t *models.SupportTicket) bool { return t.UserID == userID }), nil
}

func (s *Store) listTickets(keep func(*models.SupportTicket) bool) []models.SupportTicket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SupportTicket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UpdateTicketStatus moves a ticket from `from` to `to`
func (s *Store) UpdateTicketStatus(_ context.Context, docID string, from, to models.TicketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[docID]
	if !ok {
		return models.ErrNotFound
	}
	if t.Status != from {
		return models.ErrConflict
	}
	t.Status = to
	return nil
}

// GetUser returns a profile by uid
func (s *Store) GetUser(_ context.Context, uid string) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[uid]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	cp.Addresses = append([]models.Address(nil), u.Addresses...)
	return &cp, nil
}

// SaveUser upserts a profile
func (s *Store) SaveUser(_ context.Context, profile *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *profile
	cp.Addresses = append([]models.Address(nil), profile.Addresses...)
	s.users[profile.UID] = &cp
	return nil
}
