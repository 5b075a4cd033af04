package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

// OrderCache keeps order documents in Redis for fast reads. Redis errors
// are logged and treated as misses.
type OrderCache struct {
	Redis redis.Cmdable
	Log   *slog.Logger
}

var _ orders.OrderCache = (*OrderCache)(nil)

func (c *OrderCache) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

func (c *OrderCache) Get(ctx context.Context, id string) (*orders.Order, bool) {
	b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrder, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log().Warn("order cache get", "order_id", id, "error", err)
		}
		return nil, false
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, false
	}
	return &o, true
}

// putNewer stores ARGV[1] unless the cached document carries a higher
// version than ARGV[2].
var putNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, doc = pcall(cjson.decode, cur)
	if ok and type(doc) == 'table' and tonumber(doc['version']) and tonumber(doc['version']) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

func (c *OrderCache) Put(ctx context.Context, o *orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(KeyOrder, o.ID)
	if err := putNewer.Run(ctx, c.Redis, []string{key}, b, o.Version, TTLOrderCache.Milliseconds()).Err(); err != nil {
		c.log().Warn("order cache put", "order_id", o.ID, "error", err)
	}
}

// Deduper remembers processed keys so redelivered messages are skipped.
type Deduper struct {
	Redis   redis.Cmdable
	Service string
}

// First reports whether id is seen for the first time. If Redis is down the
// message is processed anyway.
func (d *Deduper) First(ctx context.Context, id string) bool {
	ok, err := Claim(ctx, d.Redis, fmt.Sprintf(KeyDedup, d.Service, id), TTLDedup)
	if err != nil {
		return true
	}
	return ok
}

// Forget drops id so a failed attempt can be retried.
func (d *Deduper) Forget(ctx context.Context, id string) {
	_ = d.Redis.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}
