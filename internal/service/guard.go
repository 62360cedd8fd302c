package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCheckoutInProgress is returned while another attempt holds the user's lock
var ErrCheckoutInProgress = errors.New("a checkout is already in progress")

// SubmissionGuard serializes checkout attempts per user and remembers
// idempotency keys so a retried submission returns the first order.
type SubmissionGuard struct {
	kv      KeyValueStore
	lockTTL time.Duration
	keyTTL  time.Duration
	logger  *zap.Logger
}

// NewSubmissionGuard creates a guard over kv
func NewSubmissionGuard(kv KeyValueStore, lockTTL, keyTTL time.Duration) *SubmissionGuard {
	return &SubmissionGuard{kv: kv, lockTTL: lockTTL, keyTTL: keyTTL, logger: util.Named("checkout-guard")}
}

func lockKey(userID string) string { return "lock:checkout:" + userID }

func intentLockKey(externalOrderID string) string { return "lock:intent:" + externalOrderID }

func idempotencyKey(userID, key string) string { return "idem:checkout:" + userID + ":" + key }

// Begin returns the order id already recorded for key, or takes the user's
// lock and returns a release func. key may be empty.
func (g *SubmissionGuard) Begin(ctx context.Context, userID, key string) (string, func(), error) {
	if key != "" {
		orderID, err := g.kv.Get(ctx, idempotencyKey(userID, key))
		switch {
		case err == nil:
			util.CheckoutDuplicatesTotal.Inc()
			g.logger.Info("Replaying checkout for idempotency key",
				zap.String("user_id", userID), zap.String("order_id", orderID))
			return orderID, nil, nil
		case !errors.Is(err, models.ErrNotFound):
			return "", nil, fmt.Errorf("failed to read idempotency key: %w", err)
		}
	}

	release, err := g.acquire(ctx, lockKey(userID))
	if err != nil {
		return "", nil, err
	}
	return "", release, nil
}

// LockIntent takes the lock for one instant-payment intent. Only the holder
// may record an order for it.
func (g *SubmissionGuard) LockIntent(ctx context.Context, externalOrderID string) (func(), error) {
	return g.acquire(ctx, intentLockKey(externalOrderID))
}

func (g *SubmissionGuard) acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	ok, err := g.kv.SetNX(ctx, key, token, g.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to take checkout lock: %w", err)
	}
	if !ok {
		util.CheckoutDuplicatesTotal.Inc()
		return nil, ErrCheckoutInProgress
	}

	release := func() {
		if err := g.unlock(context.Background(), key, token); err != nil {
			g.logger.Warn("Failed to release checkout lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, nil
}

// compareAndDeleter is implemented by stores that can drop a key atomically
// while it still holds a given value
type compareAndDeleter interface {
	DelIfEquals(ctx context.Context, key, value string) (bool, error)
}

// unlock drops the lock only if it is still ours
func (g *SubmissionGuard) unlock(ctx context.Context, key, token string) error {
	if cad, ok := g.kv.(compareAndDeleter); ok {
		_, err := cad.DelIfEquals(ctx, key, token)
		return err
	}
	current, err := g.kv.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) || (err == nil && current != token) {
		return nil
	}
	if err != nil {
		return err
	}
	return g.kv.Del(ctx, key)
}

// Remember records orderID as the result for key
func (g *SubmissionGuard) Remember(ctx context.Context, userID, key, orderID string) {
	if key == "" {
		return
	}
	if err := g.kv.Set(ctx, idempotencyKey(userID, key), orderID, g.keyTTL); err != nil {
		g.logger.Warn("Failed to remember idempotency key", zap.String("user_id", userID), zap.Error(err))
	}
}
