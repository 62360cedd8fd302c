package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"printshop-orders/internal/models"
)

type entry struct {
	value   string
	expires time.Time
}

// KV is an expiring key-value map standing in for Redis
type KV struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

// NewKV creates an empty KV using the wall clock
func NewKV() *KV {
	return &KV{data: make(map[string]entry), now: time.Now}
}

// NewKVWithClock creates an empty KV driven by now
func NewKVWithClock(now func() time.Time) *KV {
	return &KV{data: make(map[string]entry), now: now}
}

func (k *KV) live(key string) (entry, bool) {
	e, ok := k.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !k.now().Before(e.expires) {
		delete(k.data, key)
		return entry{}, false
	}
	return e, true
}

func (k *KV) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return k.now().Add(ttl)
}

// SetNX stores value only when key is absent
func (k *KV) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.live(key); ok {
		return false, nil
	}
	k.data[key] = entry{value: value, expires: k.expiry(ttl)}
	return true, nil
}

// Get returns models.ErrNotFound for missing or expired keys
func (k *KV) Get(_ context.Context, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.live(key)
	if !ok {
		return "", models.ErrNotFound
	}
	return e.value, nil
}

// Set stores value, replacing any previous one
func (k *KV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = entry{value: value, expires: k.expiry(ttl)}
	return nil
}

// Del removes key
func (k *KV) Del(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

// DelIfEquals removes key only while it holds value
func (k *KV) DelIfEquals(_ context.Context, key, value string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.live(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(k.data, key)
	return true, nil
}

// Load implements cart storage on top of the KV
func (k *KV) Load(ctx context.Context, key string) ([]byte, error) {
	v, err := k.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

// Save implements cart storage on top of the KV
func (k *KV) Save(ctx context.Context, key string, data []byte) error {
	return k.Set(ctx, key, string(data), 0)
}
