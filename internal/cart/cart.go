// Package cart holds a customer's pending line items between visits.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidProduct  = errors.New("product id is required")
)

// Storage persists serialized cart snapshots by session key. Load returns
// nil data and no error when nothing has been stored yet.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// Cart is a snapshot of one session's line items
type Cart struct {
	Session string            `json:"session"`
	Items   []models.CartItem `json:"items"`
}

// TotalItemCount sums quantities across lines
func (c *Cart) TotalItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// TotalPrice sums price times quantity across lines
func (c *Cart) TotalPrice() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Product.Price * int64(item.Quantity)
	}
	return total
}

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// OrderItems freezes the lines into order snapshots
func (c *Cart) OrderItems() []models.OrderItem {
	items := make([]models.OrderItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, models.OrderItem{
			ProductID: item.Product.ID,
			Name:      item.Product.Name,
			Material:  item.Product.Material,
			ImageURL:  item.Product.ImageURL,
			UnitPrice: item.Product.Price,
			Quantity:  item.Quantity,
		})
	}
	return items
}

func (c *Cart) add(product models.Product, qty int) {
	for i := range c.Items {
		if c.Items[i].Product.ID == product.ID {
			c.Items[i].Quantity += qty
			return
		}
	}
	c.Items = append(c.Items, models.CartItem{Product: product, Quantity: qty})
}

func (c *Cart) remove(productID string) {
	kept := c.Items[:0]
	for _, item := range c.Items {
		if item.Product.ID != productID {
			kept = append(kept, item)
		}
	}
	c.Items = kept
}

func (c *Cart) setQuantity(productID string, qty int) {
	if qty < 1 {
		c.remove(productID)
		return
	}
	for i := range c.Items {
		if c.Items[i].Product.ID == productID {
			c.Items[i].Quantity = qty
			return
		}
	}
}

// Service applies cart mutations as load-modify-save cycles, serialized per session
type Service struct {
	storage Storage
	locks   sync.Map
	logger  *zap.Logger
}

// NewService creates a cart service over storage
func NewService(storage Storage) *Service {
	return &Service{
		storage: storage,
		logger:  util.Named("cart"),
	}
}

// Get returns the current cart for session
func (s *Service) Get(ctx context.Context, session string) (*Cart, error) {
	return s.load(ctx, session)
}

// AddItem adds qty of product, merging with an existing line
func (s *Service) AddItem(ctx context.Context, session string, product models.Product, qty int) (*Cart, error) {
	if product.ID == "" {
		return nil, ErrInvalidProduct
	}
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	return s.mutate(ctx, session, func(c *Cart) { c.add(product, qty) })
}

// RemoveItem drops the line for productID; absent lines are ignored
func (s *Service) RemoveItem(ctx context.Context, session, productID string) (*Cart, error) {
	return s.mutate(ctx, session, func(c *Cart) { c.remove(productID) })
}

// UpdateQuantity sets a line's quantity; anything below 1 removes it
func (s *Service) UpdateQuantity(ctx context.Context, session, productID string, qty int) (*Cart, error) {
	return s.mutate(ctx, session, func(c *Cart) { c.setQuantity(productID, qty) })
}

// Clear empties the cart. Checkout calls it once, after the order is written.
func (s *Service) Clear(ctx context.Context, session string) error {
	_, err := s.mutate(ctx, session, func(c *Cart) { c.Items = nil })
	return err
}

func (s *Service) mutate(ctx context.Context, session string, fn func(*Cart)) (*Cart, error) {
	mu := s.lockFor(session)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.load(ctx, session)
	if err != nil {
		return nil, err
	}

	fn(c)

	data, err := json.Marshal(c.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cart: %w", err)
	}
	if err := s.storage.Save(ctx, session, data); err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}
	return c, nil
}

func (s *Service) load(ctx context.Context, session string) (*Cart, error) {
	c := &Cart{Session: session, Items: []models.CartItem{}}

	data, err := s.storage.Load(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(data) == 0 {
		return c, nil
	}

	var items []models.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Warn("Discarding unreadable cart snapshot",
			zap.String("session", session),
			zap.Error(err))
		return c, nil
	}

	// Snapshots written by older clients may carry non-positive quantities.
	for _, item := range items {
		if item.Quantity >= 1 && item.Product.ID != "" {
			c.Items = append(c.Items, item)
		}
	}
	return c, nil
}

func (s *Service) lockFor(session string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(session, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// MemoryStorage keeps snapshots in process memory
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

// Load returns the stored snapshot for key
func (m *MemoryStorage) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data[key]...), nil
}

// Save replaces the snapshot for key
func (m *MemoryStorage) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}
