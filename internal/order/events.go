package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"

	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

// Event is appended to the outbox inside the order transaction and relayed
// to Kafka after commit. Key is the order id so one order's events stay on
// one partition.
type Event struct {
	Topic    string
	Key      string
	Envelope Envelope
}

type Envelope struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion int       `json:"event_version"`
	OccurredAt   time.Time `json:"occurred_at"`
	Producer     string    `json:"producer"`
	Payload      any       `json:"payload"`
}

type ItemLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	UserID      *string         `json:"user_id,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []ItemLine      `json:"items"`
}

type StatusChangedPayload struct {
	OrderID       string     `json:"order_id"`
	From          Status     `json:"from"`
	To            Status     `json:"to"`
	RestoredItems []ItemLine `json:"restored_items,omitempty"`
}

// EventLog persists events on the transaction carried by ctx.
type EventLog interface {
	Append(ctx context.Context, e Event) error
}

// Cache is a best-effort read cache and idempotency fast path. Failures are
// the implementation's to log; callers never see them.
//
// SetOrder must not replace an entry whose UpdatedAt is newer than o's.
type Cache interface {
	GetOrder(ctx context.Context, id string) (*Order, bool)
	SetOrder(ctx context.Context, o *Order)
	OrderIDForKey(ctx context.Context, key string) (string, bool)
	RememberKey(ctx context.Context, key, orderID string)
}

type noEvents struct{}

func (noEvents) Append(context.Context, Event) error { return nil }

type noCache struct{}

func (noCache) GetOrder(context.Context, string) (*Order, bool)      { return nil, false }
func (noCache) SetOrder(context.Context, *Order)                     {}
func (noCache) OrderIDForKey(context.Context, string) (string, bool) { return "", false }
func (noCache) RememberKey(context.Context, string, string)          {}

func itemLines(items []Item) []ItemLine {
	out := make([]ItemLine, 0, len(items))
	for _, it := range items {
		out = append(out, ItemLine{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	return out
}
