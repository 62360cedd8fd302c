package models

import (
	"strings"
	"time"
)

// OrderStatus is the fulfilment state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProduction OrderStatus = "production"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// orderProgression is the forward path; cancelled sits outside it.
var orderProgression = []OrderStatus{
	OrderStatusConfirmed,
	OrderStatusProduction,
	OrderStatusShipped,
	OrderStatusDelivered,
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	return s == OrderStatusCancelled || s.rank() >= 0
}

// Terminal reports whether no transition may leave s
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// IsNextOf reports whether s directly follows prev on the forward path
func (s OrderStatus) IsNextOf(prev OrderStatus) bool {
	r := prev.rank()
	return r >= 0 && s.rank() == r+1
}

func (s OrderStatus) rank() int {
	for i, st := range orderProgression {
		if st == s {
			return i
		}
	}
	return -1
}

// AllOrderStatuses lists statuses in display order
func AllOrderStatuses() []OrderStatus {
	return append(append([]OrderStatus{}, orderProgression...), OrderStatusCancelled)
}

// PaymentMethod identifies how the customer pays
type PaymentMethod string

// Payment methods
const (
	PaymentMethodRazorpay PaymentMethod = "razorpay" // domestic instant gateway
	PaymentMethodStripe   PaymentMethod = "stripe"   // international redirect gateway
	PaymentMethodCOD      PaymentMethod = "cod"
	PaymentMethodBank     PaymentMethod = "bank"
	PaymentMethodUPI      PaymentMethod = "upi"
)

// Valid reports whether m is a supported payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodRazorpay, PaymentMethodStripe, PaymentMethodCOD, PaymentMethodBank, PaymentMethodUPI:
		return true
	}
	return false
}

// Offline reports whether m is settled outside any gateway
func (m PaymentMethod) Offline() bool {
	return m == PaymentMethodCOD || m == PaymentMethodBank || m == PaymentMethodUPI
}

// PaymentStatus is the settlement state of an online payment
type PaymentStatus string

// Payment statuses. Offline methods leave the status empty.
const (
	PaymentStatusNone    PaymentStatus = ""
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// TicketStatus is the state of a support ticket
type TicketStatus string

// Ticket statuses
const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in-progress"
	TicketStatusResolved   TicketStatus = "resolved"
)

// Valid reports whether s is a known ticket status
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved:
		return true
	}
	return false
}

// Product is the read-only catalog entry a cart line refers to
type Product struct {
	ID       string `json:"id" bson:"id"`
	Slug     string `json:"slug" bson:"slug"`
	Name     string `json:"name" bson:"name"`
	Material string `json:"material" bson:"material"`
	ImageURL string `json:"image_url" bson:"image_url"`
	Price    int64  `json:"price" bson:"price"`
}

// CartItem is one line of a customer's cart
type CartItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Address is a postal address owned by a user profile
type Address struct {
	Label        string `json:"label" bson:"label" validate:"max=50"`
	FullName     string `json:"full_name" bson:"full_name" validate:"required"`
	Phone        string `json:"phone" bson:"phone" validate:"required"`
	AddressLine1 string `json:"address_line1" bson:"address_line1" validate:"required"`
	AddressLine2 string `json:"address_line2,omitempty" bson:"address_line2,omitempty"`
	City         string `json:"city" bson:"city" validate:"required"`
	State        string `json:"state" bson:"state" validate:"required"`
	PostalCode   string `json:"postal_code" bson:"postal_code" validate:"required"`
	IsDefault    bool   `json:"is_default" bson:"is_default"`
}

// SingleLine joins the street lines the way carriers expect them
func (a Address) SingleLine() string {
	if a.AddressLine2 == "" {
		return a.AddressLine1
	}
	return a.AddressLine1 + ", " + a.AddressLine2
}

// FirstName returns the first word of FullName
func (a Address) FirstName() string {
	parts := strings.Fields(a.FullName)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// LastName returns everything after the first word of FullName
func (a Address) LastName() string {
	parts := strings.Fields(a.FullName)
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[1:], " ")
}

// OrderItem is a frozen snapshot of a product at order time
type OrderItem struct {
	ProductID string `json:"product_id" bson:"product_id"`
	Name      string `json:"name" bson:"name"`
	Material  string `json:"material" bson:"material"`
	ImageURL  string `json:"image_url" bson:"image_url"`
	UnitPrice int64  `json:"unit_price" bson:"unit_price"`
	Quantity  int    `json:"quantity" bson:"quantity"`
}

// LineTotal is UnitPrice * Quantity
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// StatusEntry is one row of an order's status history
type StatusEntry struct {
	Status    OrderStatus `json:"status" bson:"status"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
	Note      string      `json:"note" bson:"note"`
}

// Order is the durable business record of a checkout
type Order struct {
	ID                     string        `json:"id" bson:"_id"`
	OrderID                string        `json:"order_id" bson:"order_id"`
	UserID                 string        `json:"user_id" bson:"user_id"`
	UserEmail              string        `json:"user_email" bson:"user_email"`
	Items                  []OrderItem   `json:"items" bson:"items"`
	Subtotal               int64         `json:"subtotal" bson:"subtotal"`
	Tax                    int64         `json:"tax" bson:"tax"`
	ShippingCost           int64         `json:"shipping_cost" bson:"shipping_cost"`
	Total                  int64         `json:"total" bson:"total"`
	Status                 OrderStatus   `json:"status" bson:"status"`
	PaymentMethod          PaymentMethod `json:"payment_method" bson:"payment_method"`
	PaymentID              string        `json:"payment_id,omitempty" bson:"payment_id,omitempty"`
	ExternalPaymentOrderID string        `json:"external_payment_order_id,omitempty" bson:"external_payment_order_id,omitempty"`
	PaymentStatus          PaymentStatus `json:"payment_status,omitempty" bson:"payment_status,omitempty"`
	ShipmentID             string        `json:"shipment_id,omitempty" bson:"shipment_id,omitempty"`
	ShippingAddress        Address       `json:"shipping_address" bson:"shipping_address"`
	Notes                  string        `json:"notes" bson:"notes"`
	CreatedAt              time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at" bson:"updated_at"`
	StatusHistory          []StatusEntry `json:"status_history" bson:"status_history"`
}

// LastStatus returns the most recent history entry
func (o *Order) LastStatus() (StatusEntry, bool) {
	if len(o.StatusHistory) == 0 {
		return StatusEntry{}, false
	}
	return o.StatusHistory[len(o.StatusHistory)-1], true
}

// CustomerName returns the name on the shipping address
func (o *Order) CustomerName() string {
	return o.ShippingAddress.FullName
}

// SupportTicket is a customer support request
type SupportTicket struct {
	ID        string       `json:"id" bson:"_id" db:"id"`
	TicketID  string       `json:"ticket_id" bson:"ticket_id" db:"ticket_id"`
	UserID    string       `json:"user_id" bson:"user_id" db:"user_id"`
	UserEmail string       `json:"user_email" bson:"user_email" db:"user_email"`
	Name      string       `json:"name" bson:"name" db:"name"`
	OrderID   string       `json:"order_id,omitempty" bson:"order_id,omitempty" db:"order_id"`
	IssueType string       `json:"issue_type" bson:"issue_type" db:"issue_type"`
	Message   string       `json:"message" bson:"message" db:"message"`
	Status    TicketStatus `json:"status" bson:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" bson:"created_at" db:"created_at"`
}

// UserProfile holds a customer's contact details and address book
type UserProfile struct {
	UID              string        `json:"uid" bson:"_id"`
	Email            string        `json:"email" bson:"email"`
	DisplayName      string        `json:"display_name" bson:"display_name"`
	Phone            string        `json:"phone" bson:"phone"`
	PhotoURL         string        `json:"photo_url" bson:"photo_url"`
	Addresses        []Address     `json:"addresses" bson:"addresses"`
	PreferredPayment PaymentMethod `json:"preferred_payment" bson:"preferred_payment"`
	CreatedAt        time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" bson:"updated_at"`
}

// DefaultAddress returns the default address, falling back to the first one
func (p *UserProfile) DefaultAddress() (Address, bool) {
	for _, a := range p.Addresses {
		if a.IsDefault {
			return a, true
		}
	}
	if len(p.Addresses) > 0 {
		return p.Addresses[0], true
	}
	return Address{}, false
}

// ShippingRateQuote is a carrier offer for a single parcel
type ShippingRateQuote struct {
	CourierName           string `json:"courier_name"`
	CourierID             int64  `json:"courier_id"`
	RateAmount            int64  `json:"rate_amount"`
	EstimatedDeliveryDays string `json:"estimated_delivery_days"`
}
