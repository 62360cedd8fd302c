package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"printshop-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a running Redis; set REDIS_TEST_ADDR to enable them.
func testClient(t *testing.T) *Client {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test - requires Redis")
	}
	c, err := NewClient(addr, "", 15, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.GetClient().FlushDB(context.Background())
		c.Close()
	})
	return c
}

func TestLockRelease(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock:checkout:u1", "token-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = c.SetNX(ctx, "lock:checkout:u1", "token-b", time.Minute)
	assert.False(t, ok)

	released, err := c.DelIfEquals(ctx, "lock:checkout:u1", "token-b")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = c.DelIfEquals(ctx, "lock:checkout:u1", "token-a")
	require.NoError(t, err)
	assert.True(t, released)

	_, err = c.Get(ctx, "lock:checkout:u1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCartSnapshotTTL(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	data, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, c.Save(ctx, "s1", []byte(`{"items":[]}`)))
	data, err = c.Load(ctx, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(data))

	ttl := c.GetClient().TTL(ctx, "cart:s1").Val()
	assert.Greater(t, ttl, 59*time.Minute)
}
