// Package admin aggregates orders and tickets for operator review and is
// the operator's entry point for status changes.
package admin

import (
	"context"
	"errors"
	"strings"

	"printshop-orders/internal/models"
	"printshop-orders/internal/service"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	Query  string `form:"q"`
	Status string `form:"status"`
}

// Stats summarises the ledger for the dashboard
type Stats struct {
	TotalOrders    int                        `json:"total_orders"`
	OrdersByStatus map[models.OrderStatus]int `json:"orders_by_status"`
	PendingPayment int                        `json:"pending_payment"`
	OpenTickets    int                        `json:"open_tickets"`
	Revenue        int64                      `json:"revenue"`
}

// ViewModel exposes operator reads and transitions
type ViewModel struct {
	ledger  *service.Ledger
	tickets *service.TicketService
	logger  *zap.Logger
}

// NewViewModel creates the operator view
func NewViewModel(ledger *service.Ledger, tickets *service.TicketService) *ViewModel {
	return &ViewModel{ledger: ledger, tickets: tickets, logger: util.Named("admin")}
}

// Orders lists orders matching f, newest first
func (v *ViewModel) Orders(ctx context.Context, f Filter) ([]models.Order, error) {
	orders, err := v.ledger.ListAllOrders(ctx)
	if err != nil {
		return nil, err
	}
	return FilterOrders(orders, f), nil
}

// Tickets lists tickets matching f, newest first
func (v *ViewModel) Tickets(ctx context.Context, f Filter) ([]models.SupportTicket, error) {
	tickets, err := v.tickets.ListTickets(ctx)
	if err != nil {
		return nil, err
	}
	return FilterTickets(tickets, f), nil
}

// Stats computes dashboard counters over every order and ticket
func (v *ViewModel) Stats(ctx context.Context) (*Stats, error) {
	orders, err := v.ledger.ListAllOrders(ctx)
	if err != nil {
		return nil, err
	}
	tickets, err := v.tickets.ListTickets(ctx)
	if err != nil {
		return nil, err
	}
	return Summarise(orders, tickets), nil
}

// TransitionOrder moves an order to status on the operator's behalf. ref may
// be the document id or the business order id.
func (v *ViewModel) TransitionOrder(ctx context.Context, ref string, status models.OrderStatus, note string) (*models.Order, error) {
	order, err := v.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	updated, err := v.ledger.TransitionStatus(ctx, order.ID, status, note)
	if err != nil {
		return nil, err
	}
	v.logger.Info("Operator changed order status",
		zap.String("order_id", updated.OrderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(status)))
	return updated, nil
}

// TransitionTicket moves a support ticket
func (v *ViewModel) TransitionTicket(ctx context.Context, docID string, status models.TicketStatus) (*models.SupportTicket, error) {
	return v.tickets.TransitionTicket(ctx, docID, status)
}

func (v *ViewModel) resolveOrder(ctx context.Context, ref string) (*models.Order, error) {
	order, err := v.ledger.GetOrder(ctx, ref)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, service.ErrOrderNotFound) && !errors.Is(err, service.ErrMissingDocument) {
		return nil, err
	}
	return v.ledger.GetOrderByOrderID(ctx, ref)
}

// FilterOrders keeps orders whose order id or email contains the query
// (case-insensitive) and whose status equals the filter status
func FilterOrders(orders []models.Order, f Filter) []models.Order {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(o.OrderID), q) && !strings.Contains(strings.ToLower(o.UserEmail), q) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// FilterTickets matches on ticket id, email or name, and on status
func FilterTickets(tickets []models.SupportTicket, f Filter) []models.SupportTicket {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]models.SupportTicket, 0, len(tickets))
	for _, t := range tickets {
		if f.Status != "" && string(t.Status) != f.Status {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(t.TicketID), q) &&
			!strings.Contains(strings.ToLower(t.UserEmail), q) &&
			!strings.Contains(strings.ToLower(t.Name), q) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Summarise counts orders per status and sums revenue of non-cancelled orders
func Summarise(orders []models.Order, tickets []models.SupportTicket) *Stats {
	s := &Stats{OrdersByStatus: make(map[models.OrderStatus]int)}
	for _, st := range models.AllOrderStatuses() {
		s.OrdersByStatus[st] = 0
	}
	for _, o := range orders {
		s.TotalOrders++
		s.OrdersByStatus[o.Status]++
		if o.PaymentStatus == models.PaymentStatusPending {
			s.PendingPayment++
		}
		if o.Status != models.OrderStatusCancelled {
			s.Revenue += o.Total
		}
	}
	for _, t := range tickets {
		if t.Status == models.TicketStatusOpen {
			s.OpenTickets++
		}
	}
	return s
}
