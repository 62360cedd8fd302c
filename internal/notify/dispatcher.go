package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var statusColors = map[models.OrderStatus]string{
	models.OrderStatusConfirmed:  "#3b82f6",
	models.OrderStatusProduction: "#f59e0b",
	models.OrderStatusShipped:    "#8b5cf6",
	models.OrderStatusDelivered:  "#10b981",
	models.OrderStatusCancelled:  "#ef4444",
}

var statusMessages = map[models.OrderStatus]string{
	models.OrderStatusConfirmed:  "Your order has been confirmed.",
	models.OrderStatusProduction: "Your parts are now being printed.",
	models.OrderStatusShipped:    "Your order is on its way.",
	models.OrderStatusDelivered:  "Your order has been delivered. We hope you enjoy it!",
	models.OrderStatusCancelled:  "Your order has been cancelled. Contact support if this is unexpected.",
}

// Dispatcher renders and sends the order and ticket mails
type Dispatcher struct {
	sender   Sender
	operator string
	siteURL  string
	now      func() time.Time
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. operator receives new-ticket notices.
func NewDispatcher(sender Sender, operator, siteURL string) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		operator: operator,
		siteURL:  strings.TrimRight(siteURL, "/"),
		now:      time.Now,
		logger:   util.Named("notify"),
	}
}

type itemLine struct {
	Name     string
	Quantity int
	Price    string
}

// OrderConfirmed mails the customer a summary of a freshly written order
func (d *Dispatcher) OrderConfirmed(ctx context.Context, order *models.Order) error {
	items := make([]itemLine, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, itemLine{Name: it.Name, Quantity: it.Quantity, Price: FormatRupees(it.LineTotal())})
	}
	body, err := render("order_confirmed.html", map[string]interface{}{
		"Name":     displayName(order.CustomerName()),
		"OrderID":  order.OrderID,
		"Date":     order.CreatedAt.Format("02/01/2006"),
		"Items":    items,
		"Tax":      FormatRupees(order.Tax),
		"Shipping": FormatRupees(order.ShippingCost),
		"Total":    FormatRupees(order.Total),
		"TrackURL": d.trackURL(order.OrderID),
	})
	if err != nil {
		return err
	}
	return d.send(ctx, "order_confirmed", Message{
		To:      order.UserEmail,
		Subject: "Order Confirmed - " + order.OrderID,
		HTML:    body,
	})
}

// StatusChanged mails the customer about a status transition
func (d *Dispatcher) StatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	if event.UserEmail == "" {
		return nil
	}
	status := event.ToStatus
	color, ok := statusColors[status]
	if !ok {
		color = "#6b7280"
	}
	msg := statusMessages[status]
	if msg == "" {
		msg = "Your order status was updated to " + string(status) + "."
	}
	body, err := render("status_changed.html", map[string]interface{}{
		"Name":     displayName(event.Customer),
		"OrderID":  event.OrderID,
		"Title":    titleCase(string(status)),
		"Color":    color,
		"Message":  msg,
		"Note":     event.Note,
		"TrackURL": d.trackURL(event.OrderID),
	})
	if err != nil {
		return err
	}
	return d.send(ctx, "status_changed", Message{
		To:      event.UserEmail,
		Subject: fmt.Sprintf("Your order %s is %s", event.OrderID, status),
		HTML:    body,
	})
}

// TicketReceived sends the customer a receipt and the operator a notice
func (d *Dispatcher) TicketReceived(ctx context.Context, ticket *models.SupportTicket) error {
	data := map[string]interface{}{
		"Name":      displayName(ticket.Name),
		"Email":     ticket.UserEmail,
		"TicketID":  ticket.TicketID,
		"IssueType": ticket.IssueType,
		"OrderID":   ticket.OrderID,
		"Message":   ticket.Message,
	}
	body, err := render("ticket_received.html", data)
	if err != nil {
		return err
	}
	if err := d.send(ctx, "ticket_received", Message{
		To:      ticket.UserEmail,
		Subject: fmt.Sprintf("Support Ticket #%s - We're here to help", ticket.TicketID),
		HTML:    body,
	}); err != nil {
		return err
	}

	if d.operator == "" {
		return nil
	}
	adminBody, err := render("ticket_admin.html", data)
	if err != nil {
		return err
	}
	return d.send(ctx, "ticket_admin", Message{
		To:      d.operator,
		Subject: fmt.Sprintf("[New Ticket] %s - %s", ticket.IssueType, ticket.TicketID),
		HTML:    adminBody,
	})
}

func (d *Dispatcher) send(ctx context.Context, kind string, msg Message) error {
	ctx, span := util.StartSpan(ctx, "Notify."+kind)
	defer span.End()

	receipt, err := d.sender.Send(ctx, msg)
	if err != nil {
		util.NotificationsTotal.WithLabelValues(kind, "error").Inc()
		util.RecordError(span, err)
		d.logger.Warn("Notification failed", zap.String("kind", kind), zap.String("to", msg.To), zap.Error(err))
		return err
	}
	util.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
	d.logger.Info("Notification sent", zap.String("kind", kind), zap.String("message_id", receipt.MessageID))
	return nil
}

func (d *Dispatcher) trackURL(orderID string) string {
	return d.siteURL + "/order-tracking?id=" + url.QueryEscape(orderID)
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return name
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// FormatRupees renders whole rupees with Indian digit grouping, e.g. ₹1,23,456
func FormatRupees(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	if len(digits) <= 3 {
		return sign + "₹" + digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var groups []string
	for len(head) > 2 {
		groups = append([]string{head[len(head)-2:]}, groups...)
		head = head[:len(head)-2]
	}
	groups = append([]string{head}, groups...)
	return sign + "₹" + strings.Join(groups, ",") + "," + tail
}
