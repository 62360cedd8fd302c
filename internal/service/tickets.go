package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"
	"printshop-orders/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrTicketResolved = errors.New("ticket is already resolved")
)

// IssueTypes are the categories a customer can file a ticket under
var IssueTypes = []string{
	"Order Issue",
	"Defective Print",
	"Shipping Delay",
	"Refund Request",
	"Design Help",
	"General Inquiry",
}

func knownIssueType(t string) bool {
	for _, it := range IssueTypes {
		if strings.EqualFold(it, t) {
			return true
		}
	}
	return false
}

// TicketNotifier is told about new tickets after they are stored
type TicketNotifier interface {
	TicketReceived(ctx context.Context, ticket *models.SupportTicket) error
}

// NewTicket is what a customer submits to open a ticket
type NewTicket struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"email" validate:"required,email"`
	Name      string `json:"name" validate:"required,max=100"`
	OrderID   string `json:"order_id" validate:"max=40"`
	IssueType string `json:"issue_type" validate:"required"`
	Message   string `json:"message" validate:"required,min=10,max=5000"`
}

// TicketService opens and moves support tickets
type TicketService struct {
	tickets  TicketRepository
	events   EventPublisher
	notifier TicketNotifier
	now      func() time.Time
	logger   *zap.Logger
}

// NewTicketService creates a ticket service; notifier may be nil
func NewTicketService(tickets TicketRepository, events EventPublisher, notifier TicketNotifier) *TicketService {
	if events == nil {
		events = NopPublisher{}
	}
	return &TicketService{
		tickets:  tickets,
		events:   events,
		notifier: notifier,
		now:      time.Now,
		logger:   util.Named("tickets"),
	}
}

// CreateTicket stores an open ticket and notifies support
func (s *TicketService) CreateTicket(ctx context.Context, in NewTicket) (*models.SupportTicket, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.CreateTicket")
	defer span.End()

	in.Message = strings.TrimSpace(in.Message)
	in.OrderID = strings.TrimSpace(in.OrderID)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if !knownIssueType(in.IssueType) {
		return nil, validation.Field("issue_type", "is invalid")
	}

	now := s.now().UTC()
	ticket := &models.SupportTicket{
		ID:        uuid.New().String(),
		TicketID:  "TK-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)),
		UserID:    in.UserID,
		UserEmail: in.UserEmail,
		Name:      in.Name,
		OrderID:   in.OrderID,
		IssueType: in.IssueType,
		Message:   in.Message,
		Status:    models.TicketStatusOpen,
		CreatedAt: now,
	}
	if err := s.tickets.InsertTicket(ctx, ticket); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to insert ticket: %w", err)
	}

	s.logger.Info("Ticket created", zap.String("ticket_id", ticket.TicketID), zap.String("issue_type", ticket.IssueType))

	if err := s.events.PublishTicketCreated(ctx, &models.TicketCreatedEvent{
		BaseEvent: newBaseEvent(models.EventTypeTicketCreated, now),
		DocID:     ticket.ID,
		TicketID:  ticket.TicketID,
		UserEmail: ticket.UserEmail,
		IssueType: ticket.IssueType,
	}); err != nil {
		s.logger.Error("Failed to publish TicketCreated event", zap.Error(err))
	}

	if s.notifier != nil {
		if err := s.notifier.TicketReceived(ctx, ticket); err != nil {
			s.logger.Warn("Ticket notification failed", zap.String("ticket_id", ticket.TicketID), zap.Error(err))
		}
	}
	return ticket, nil
}

// TransitionTicket moves a ticket; resolved tickets stay resolved
func (s *TicketService) TransitionTicket(ctx context.Context, docID string, status models.TicketStatus) (*models.SupportTicket, error) {
	if !status.Valid() {
		return nil, validation.Field("status", "is invalid")
	}
	ticket, err := s.tickets.GetTicket(ctx, docID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	if ticket.Status == models.TicketStatusResolved {
		return nil, ErrTicketResolved
	}
	if ticket.Status == status {
		return ticket, nil
	}
	if err := s.tickets.UpdateTicketStatus(ctx, docID, ticket.Status, status); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	s.logger.Info("Ticket status changed",
		zap.String("ticket_id", ticket.TicketID),
		zap.String("from", string(ticket.Status)),
		zap.String("to", string(status)))
	ticket.Status = status
	return ticket, nil
}

// ListTickets returns all tickets, newest first
func (s *TicketService) ListTickets(ctx context.Context) ([]models.SupportTicket, error) {
	return s.tickets.ListTickets(ctx)
}

// ListUserTickets returns a customer's tickets, newest first
func (s *TicketService) ListUserTickets(ctx context.Context, userID string) ([]models.SupportTicket, error) {
	return s.tickets.ListTicketsByUser(ctx, userID)
}
