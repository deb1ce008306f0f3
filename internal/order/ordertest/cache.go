package ordertest

import (
	"context"
	"sync"

	"github.com/MikeMC777/storefront-orders/internal/order"
)

// Cache is an in-memory order.Cache. Like the Redis cache it keeps whichever
// snapshot has the newest UpdatedAt.
type Cache struct {
	mu     sync.Mutex
	orders map[string]order.Order
	keys   map[string]string
}

var _ order.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{orders: map[string]order.Order{}, keys: map[string]string{}}
}

func (c *Cache) GetOrder(_ context.Context, id string) (*order.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return nil, false
	}
	return &o, true
}

func (c *Cache) SetOrder(_ context.Context, o *order.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.orders[o.ID]; ok && cur.UpdatedAt.After(o.UpdatedAt) {
		return
	}
	c.orders[o.ID] = *o
}

func (c *Cache) OrderIDForKey(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.keys[key]
	return id, ok
}

func (c *Cache) RememberKey(_ context.Context, key, orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = orderID
}
