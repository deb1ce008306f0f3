package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeMC777/storefront-orders/internal/order"
	"github.com/MikeMC777/storefront-orders/internal/postgres"
	"github.com/MikeMC777/storefront-orders/internal/testutil"
)

func event(orderID string) order.Event {
	return order.Event{
		Topic: order.TopicOrderStatusChanged,
		Key:   orderID,
		Envelope: order.Envelope{
			EventID:      uuid.NewString(),
			EventType:    order.EventOrderStatusChanged,
			EventVersion: 1,
			OccurredAt:   time.Now().UTC(),
			Producer:     "test",
			Payload:      order.StatusChangedPayload{OrderID: orderID, From: order.StatusPending, To: order.StatusShipped},
		},
	}
}

func TestStore_AppendFetchMark(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)
	s := NewStore(pool)

	e1, e2 := event("o-1"), event("o-2")
	if err := s.Append(ctx, e1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, e2); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := s.FetchPending(ctx, 10)
	if err != nil || len(recs) != 2 {
		t.Fatalf("pending: %d %v", len(recs), err)
	}
	if recs[0].EventID != e1.Envelope.EventID || recs[0].Key != "o-1" || recs[0].Topic != order.TopicOrderStatusChanged {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
	var env struct {
		EventType string `json:"event_type"`
		Payload   struct {
			To string `json:"to"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(recs[0].Payload, &env); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if env.EventType != order.EventOrderStatusChanged || env.Payload.To != "shipped" {
		t.Fatalf("payload = %s", recs[0].Payload)
	}

	if err := s.MarkSent(ctx, recs[0].ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	recs, _ = s.FetchPending(ctx, 10)
	if len(recs) != 1 || recs[0].Key != "o-2" {
		t.Fatalf("pending after mark: %+v", recs)
	}
}

func TestStore_AppendJoinsTransaction(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)
	s := NewStore(pool)

	boom := errors.New("boom")
	err := postgres.WithTx(ctx, pool, func(txCtx context.Context) error {
		if err := s.Append(txCtx, event("o-1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if n := testutil.Count(t, ctx, pool, "outbox"); n != 0 {
		t.Fatalf("outbox rows = %d after rollback", n)
	}
}
