package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"printshop-orders/internal/models"

	"github.com/jmoiron/sqlx"
)

type orderRow struct {
	Doc []byte `db:"doc"`
}

// InsertOrder stores a new order document
func (s *Store) InsertOrder(ctx context.Context, order *models.Order) error {
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, order_id, user_id, user_email, status, shipment_id, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.OrderID, order.UserID, order.UserEmail, order.Status, order.ShipmentID,
		order.CreatedAt, order.UpdatedAt, doc)
	return err
}

// GetOrder retrieves an order by document id
func (s *Store) GetOrder(ctx context.Context, docID string) (*models.Order, error) {
	return s.getOrder(ctx, s.db, "SELECT doc FROM orders WHERE id = $1", docID)
}

// GetOrderByOrderID retrieves an order by business id, ignoring case
func (s *Store) GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	return s.getOrder(ctx, s.db, "SELECT doc FROM orders WHERE LOWER(order_id) = LOWER($1) LIMIT 1", orderID)
}

// GetOrderByShipmentID retrieves the order a shipment belongs to
func (s *Store) GetOrderByShipmentID(ctx context.Context, shipmentID string) (*models.Order, error) {
	if shipmentID == "" {
		return nil, models.ErrNotFound
	}
	return s.getOrder(ctx, s.db, "SELECT doc FROM orders WHERE shipment_id = $1 LIMIT 1", shipmentID)
}

// ListOrdersByUser retrieves a customer's orders, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.listOrders(ctx, "SELECT doc FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
}

// ListOrders retrieves every order, newest first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.listOrders(ctx, "SELECT doc FROM orders ORDER BY created_at DESC")
}

// AppendStatus adds a history entry if the stored status is still from
func (s *Store) AppendStatus(ctx context.Context, docID string, from models.OrderStatus, entry models.StatusEntry) error {
	return s.mutateOrder(ctx, docID, func(o *models.Order) error {
		if o.Status != from {
			return models.ErrConflict
		}
		o.Status = entry.Status
		o.StatusHistory = append(o.StatusHistory, entry)
		o.UpdatedAt = entry.Timestamp
		return nil
	})
}

// UpdatePayment overwrites the payment fields
func (s *Store) UpdatePayment(ctx context.Context, docID string, info models.PaymentInfo, at time.Time) error {
	return s.mutateOrder(ctx, docID, func(o *models.Order) error {
		o.PaymentMethod = info.PaymentMethod
		o.PaymentID = info.PaymentID
		o.ExternalPaymentOrderID = info.ExternalPaymentOrderID
		o.PaymentStatus = info.PaymentStatus
		o.UpdatedAt = at
		return nil
	})
}

// SetShipmentID records the carrier shipment
func (s *Store) SetShipmentID(ctx context.Context, docID, shipmentID string, at time.Time) error {
	return s.mutateOrder(ctx, docID, func(o *models.Order) error {
		o.ShipmentID = shipmentID
		o.UpdatedAt = at
		return nil
	})
}

// mutateOrder applies fn to the locked order document and writes it back
func (s *Store) mutateOrder(ctx context.Context, docID string, fn func(*models.Order) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	order, err := s.getOrder(ctx, tx, "SELECT doc FROM orders WHERE id = $1 FOR UPDATE", docID)
	if err != nil {
		return err
	}
	if err := fn(order); err != nil {
		return err
	}
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, shipment_id = $2, updated_at = $3, doc = $4 WHERE id = $5`,
		order.Status, order.ShipmentID, order.UpdatedAt, doc, docID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return tx.Commit()
}

func (s *Store) getOrder(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*models.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var order models.Order
	if err := json.Unmarshal(row.Doc, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return &order, nil
}

func (s *Store) listOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		var o models.Order
		if err := json.Unmarshal(r.Doc, &o); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}
