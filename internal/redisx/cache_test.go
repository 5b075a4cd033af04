package redisx

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

// unreachable points at a port nothing listens on.
func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestDeduperFailsOpen(t *testing.T) {
	d := &Deduper{Redis: unreachable(t), Service: "notify"}
	ctx := context.Background()

	assert.True(t, d.First(ctx, "evt-1"))
	assert.True(t, d.First(ctx, "evt-1"), "a dead redis must not swallow messages")
	d.Forget(ctx, "evt-1")
}

func TestOrderCacheMissesWhenDown(t *testing.T) {
	c := &OrderCache{Redis: unreachable(t)}
	ctx := context.Background()

	c.Put(ctx, &orders.Order{ID: "o1", Status: orders.StatusPending})
	o, ok := c.Get(ctx, "o1")
	assert.False(t, ok)
	assert.Nil(t, o)
}

// live returns a client for REDIS_TEST_ADDR, skipping when it is unset.
func live(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := New(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestOrderCacheKeepsNewestVersion(t *testing.T) {
	rdb := live(t)
	ctx := context.Background()
	c := &OrderCache{Redis: rdb}
	id := "cache-test-" + uuid.NewString()
	t.Cleanup(func() { _ = rdb.Del(ctx, fmt.Sprintf(KeyOrder, id)).Err() })

	c.Put(ctx, &orders.Order{ID: id, Status: orders.StatusFailed, Version: 3})
	// a reader that loaded the order before the commit puts the old state
	c.Put(ctx, &orders.Order{ID: id, Status: orders.StatusAwaitingPayment, Version: 2})

	got, ok := c.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, orders.StatusFailed, got.Status)
	assert.Equal(t, int64(3), got.Version)

	c.Put(ctx, &orders.Order{ID: id, Status: orders.StatusFailed, Version: 4})
	got, ok = c.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, int64(4), got.Version)
}

func TestDeduperClaimsOnce(t *testing.T) {
	rdb := live(t)
	ctx := context.Background()
	d := &Deduper{Redis: rdb, Service: "test-" + uuid.NewString()}

	assert.True(t, d.First(ctx, "o1:receipt"))
	assert.False(t, d.First(ctx, "o1:receipt"))
	d.Forget(ctx, "o1:receipt")
	assert.True(t, d.First(ctx, "o1:receipt"))
	d.Forget(ctx, "o1:receipt")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "order:o1", fmt.Sprintf(KeyOrder, "o1"))
	assert.Equal(t, "dedup:notify:o1:receipt", fmt.Sprintf(KeyDedup, "notify", "o1:receipt"))
}
