// Package docstore persists the ledger in MongoDB using the orders, tickets
// and users collections.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"printshop-orders/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ordersCollection  = "orders"
	ticketsCollection = "tickets"
	usersCollection   = "users"
)

// caseless compares order ids without regard to case
var caseless = &options.Collation{Locale: "en", Strength: 2}

type Store struct {
	client  *mongo.Client
	orders  *mongo.Collection
	tickets *mongo.Collection
	users   *mongo.Collection
}

// Connect opens a client and selects database
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	return &Store{
		client:  client,
		orders:  db.Collection(ordersCollection),
		tickets: db.Collection(ticketsCollection),
		users:   db.Collection(usersCollection),
	}, nil
}

// EnsureIndexes creates the lookup indexes
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_id", Value: 1}}, Options: options.Index().SetUnique(true).SetCollation(caseless)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "shipment_id", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	_, err = s.tickets.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ticket_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create ticket indexes: %w", err)
	}
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}}

// InsertOrder stores a new order document
func (s *Store) InsertOrder(ctx context.Context, order *models.Order) error {
	_, err := s.orders.InsertOne(ctx, order)
	return err
}

// GetOrder retrieves an order by document id
func (s *Store) GetOrder(ctx context.Context, docID string) (*models.Order, error) {
	return s.findOrder(ctx, bson.M{"_id": docID})
}

// GetOrderByOrderID retrieves an order by business id, ignoring case
func (s *Store) GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	return s.findOrder(ctx, bson.M{"order_id": orderID}, options.FindOne().SetCollation(caseless))
}

// GetOrderByShipmentID retrieves the order a shipment belongs to
func (s *Store) GetOrderByShipmentID(ctx context.Context, shipmentID string) (*models.Order, error) {
	if shipmentID == "" {
		return nil, models.ErrNotFound
	}
	return s.findOrder(ctx, bson.M{"shipment_id": shipmentID})
}

// ListOrdersByUser retrieves a customer's orders, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.listOrders(ctx, bson.M{"user_id": userID})
}

// ListOrders retrieves every order, newest first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.listOrders(ctx, bson.M{})
}

// AppendStatus pushes a history entry if the stored status is still from
func (s *Store) AppendStatus(ctx context.Context, docID string, from models.OrderStatus, entry models.StatusEntry) error {
	res, err := s.orders.UpdateOne(ctx,
		bson.M{"_id": docID, "status": from},
		bson.M{
			"$set":  bson.M{"status": entry.Status, "updated_at": entry.Timestamp},
			"$push": bson.M{"status_history": entry},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	return s.missingOrConflict(ctx, s.orders, docID)
}

// UpdatePayment overwrites the payment fields
func (s *Store) UpdatePayment(ctx context.Context, docID string, info models.PaymentInfo, at time.Time) error {
	return s.setOrder(ctx, docID, bson.M{
		"payment_method":            info.PaymentMethod,
		"payment_id":                info.PaymentID,
		"external_payment_order_id": info.ExternalPaymentOrderID,
		"payment_status":            info.PaymentStatus,
		"updated_at":                at,
	})
}

// SetShipmentID records the carrier shipment
func (s *Store) SetShipmentID(ctx context.Context, docID, shipmentID string, at time.Time) error {
	return s.setOrder(ctx, docID, bson.M{"shipment_id": shipmentID, "updated_at": at})
}

func (s *Store) setOrder(ctx context.Context, docID string, fields bson.M) error {
	res, err := s.orders.UpdateOne(ctx, bson.M{"_id": docID}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) findOrder(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.Order, error) {
	var order models.Order
	err := s.orders.FindOne(ctx, filter, opts...).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) listOrders(ctx context.Context, filter bson.M) ([]models.Order, error) {
	cur, err := s.orders.Find(ctx, filter, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, err
	}
	orders := []models.Order{}
	if err := cur.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) missingOrConflict(ctx context.Context, coll *mongo.Collection, docID string) error {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": docID})
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return models.ErrConflict
}

// InsertTicket stores a new support ticket
func (s *Store) InsertTicket(ctx context.Context, ticket *models.SupportTicket) error {
	_, err := s.tickets.InsertOne(ctx, ticket)
	return err
}

// GetTicket retrieves a ticket by document id
func (s *Store) GetTicket(ctx context.Context, docID string) (*models.SupportTicket, error) {
	var t models.SupportTicket
	err := s.tickets.FindOne(ctx, bson.M{"_id": docID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets retrieves every ticket, newest first
func (s *Store) ListTickets(ctx context.Context) ([]models.SupportTicket, error) {
	return s.listTickets(ctx, bson.M{})
}

// ListTicketsByUser retrieves a customer's tickets, newest first
func (s *Store) ListTicketsByUser(ctx context.Context, userID string) ([]models.SupportTicket, error) {
	return s.listTickets(ctx, bson.M{"user_id": userID})
}

func (s *Store) listTickets(ctx context.Context, filter bson.M) ([]models.SupportTicket, error) {
	cur, err := s.tickets.Find(ctx, filter, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, err
	}
	tickets := []models.SupportTicket{}
	if err := cur.All(ctx, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// UpdateTicketStatus moves a ticket if its stored status is still from
func (s *Store) UpdateTicketStatus(ctx context.Context, docID string, from, to models.TicketStatus) error {
	res, err := s.tickets.UpdateOne(ctx,
		bson.M{"_id": docID, "status": from},
		bson.M{"$set": bson.M{"status": to}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	return s.missingOrConflict(ctx, s.tickets, docID)
}

// GetUser retrieves a profile by identity-provider uid
func (s *Store) GetUser(ctx context.Context, uid string) (*models.UserProfile, error) {
	var p models.UserProfile
	err := s.users.FindOne(ctx, bson.M{"_id": uid}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveUser upserts a profile
func (s *Store) SaveUser(ctx context.Context, profile *models.UserProfile) error {
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": profile.UID}, profile, options.Replace().SetUpsert(true))
	return err
}
