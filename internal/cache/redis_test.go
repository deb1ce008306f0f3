package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-orders/internal/order"
)

func newTestCache(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := New(addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("skipping Redis tests: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, zap.NewNop())
}

func TestOrderRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	o := &order.Order{
		ID:          uuid.NewString(),
		TotalAmount: decimal.RequireFromString("30.50"),
		Status:      order.StatusPending,
		UpdatedAt:   time.Now().UTC(),
		Items: []order.Item{{
			ProductID: uuid.NewString(), ProductName: "Widget", Quantity: 2, Price: decimal.RequireFromString("15.25"),
		}},
	}
	if _, ok := c.GetOrder(ctx, o.ID); ok {
		t.Fatal("esperaba miss")
	}
	c.SetOrder(ctx, o)

	got, ok := c.GetOrder(ctx, o.ID)
	if !ok {
		t.Fatal("esperaba hit")
	}
	if !got.TotalAmount.Equal(o.TotalAmount) || len(got.Items) != 1 || got.Items[0].ProductName != "Widget" {
		t.Fatalf("unexpected cached order: %+v", got)
	}
}

func TestSetOrderKeepsNewerEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	id := uuid.NewString()
	t0 := time.Now().UTC().Truncate(time.Microsecond)
	stale := &order.Order{ID: id, Status: order.StatusPending, UpdatedAt: t0}
	fresh := &order.Order{ID: id, Status: order.StatusCancelled, UpdatedAt: t0.Add(time.Second)}

	c.SetOrder(ctx, fresh)
	c.SetOrder(ctx, stale)
	got, ok := c.GetOrder(ctx, id)
	if !ok || got.Status != order.StatusCancelled {
		t.Fatalf("older snapshot replaced newer one: %+v", got)
	}

	newer := &order.Order{ID: id, Status: order.StatusShipped, UpdatedAt: t0.Add(2 * time.Second)}
	c.SetOrder(ctx, newer)
	if got, _ := c.GetOrder(ctx, id); got == nil || got.Status != order.StatusShipped {
		t.Fatalf("newer snapshot not stored: %+v", got)
	}
}

func TestIdempotencyKey(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	key := "test-" + uuid.NewString()
	if _, ok := c.OrderIDForKey(ctx, key); ok {
		t.Fatal("unknown key must miss")
	}
	c.RememberKey(ctx, key, "order-1")
	id, ok := c.OrderIDForKey(ctx, key)
	if !ok || id != "order-1" {
		t.Fatalf("got %q %v", id, ok)
	}
}

func TestUnreachableRedisDegradesToMiss(t *testing.T) {
	// Nothing listens on port 1; every call must fail quietly.
	c := NewRedis(New("127.0.0.1:1"), nil)
	ctx := context.Background()

	c.SetOrder(ctx, &order.Order{ID: "x"})
	if _, ok := c.GetOrder(ctx, "x"); ok {
		t.Fatal("esperaba miss")
	}
	c.RememberKey(ctx, "k", "x")
	if _, ok := c.OrderIDForKey(ctx, "k"); ok {
		t.Fatal("esperaba miss")
	}
}
