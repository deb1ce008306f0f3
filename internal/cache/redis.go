// Package cache keeps read-through order snapshots and idempotency keys in
// Redis. Postgres stays the source of truth; every failure here degrades to a
// miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-orders/internal/order"
)

const (
	// order:{order_id} -> hash {v: updated_at in unix micros, o: order JSON with items}
	KeyOrder = "order:%s"
	// idem:order:create:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"
)

var (
	TTLOrder       = 5 * time.Minute
	TTLIdempotency = 24 * time.Hour
)

// setOrderScript writes the snapshot unless the stored one is newer, so a slow
// reader cannot bring back a status that has already been replaced.
var setOrderScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'o', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

type Redis struct {
	rdb *redis.Client
	log *zap.Logger
}

var _ order.Cache = (*Redis)(nil)

func NewRedis(rdb *redis.Client, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rdb: rdb, log: log}
}

func (c *Redis) GetOrder(ctx context.Context, id string) (*order.Order, bool) {
	b, err := c.rdb.HGet(ctx, fmt.Sprintf(KeyOrder, id), "o").Bytes()
	if err != nil {
		c.miss("get order", err)
		return nil, false
	}
	var o order.Order
	if err := json.Unmarshal(b, &o); err != nil {
		c.log.Warn("cache: bad order entry", zap.String("order_id", id), zap.Error(err))
		return nil, false
	}
	return &o, true
}

// SetOrder stores o unless the cached entry has a newer UpdatedAt.
func (c *Redis) SetOrder(ctx context.Context, o *order.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		c.log.Warn("cache: encode order", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	key := fmt.Sprintf(KeyOrder, o.ID)
	stored, err := setOrderScript.Run(ctx, c.rdb, []string{key},
		o.UpdatedAt.UnixMicro(), b, TTLOrder.Milliseconds()).Int()
	if err != nil {
		c.log.Warn("cache: set order", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	if stored == 0 {
		c.log.Debug("cache: kept newer order entry", zap.String("order_id", o.ID))
	}
}

func (c *Redis) OrderIDForKey(ctx context.Context, key string) (string, bool) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Result()
	if err != nil || id == "" {
		c.miss("get idempotency key", err)
		return "", false
	}
	return id, true
}

func (c *Redis) RememberKey(ctx context.Context, key, orderID string) {
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, TTLIdempotency).Err(); err != nil {
		c.log.Warn("cache: remember idempotency key", zap.Error(err))
	}
}

func (c *Redis) miss(op string, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("cache: "+op, zap.Error(err))
	}
}
