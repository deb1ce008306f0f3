package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-orders/internal/metrics"
	"github.com/MikeMC777/storefront-orders/internal/product"
)

const tracerName = "github.com/MikeMC777/storefront-orders/internal/order"

// Service places orders and moves them through their lifecycle. Stock is
// reserved and restored through the ledger inside the same transaction as
// the order writes.
type Service struct {
	repo    Repository
	ledger  product.Ledger
	events  EventLog
	cache   Cache
	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	producer    string
	strict      bool
	verifyTotal bool
	now         func() time.Time
	newID       func() string
}

type Option func(*Service)

func WithEvents(e EventLog) Option { return func(s *Service) { s.events = e } }

func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithProducer(name string) Option { return func(s *Service) { s.producer = name } }

// WithStrictTransitions enforces the Transitions table on status updates.
func WithStrictTransitions(on bool) Option { return func(s *Service) { s.strict = on } }

// WithTotalCheck rejects orders whose total differs from the sum of lines.
func WithTotalCheck(on bool) Option { return func(s *Service) { s.verifyTotal = on } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, ledger product.Ledger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		ledger:   ledger,
		events:   noEvents{},
		cache:    noCache{},
		log:      zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		producer: "order-service",
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder validates the input, then in one transaction inserts the
// header, checks and decrements stock for every line in the given order, and
// inserts the lines. Any failure rolls back every write.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.create", trace.WithAttributes(
		attribute.Int("order.items", len(in.Items)),
	))
	defer span.End()

	if err := s.validate(in); err != nil {
		s.metrics.OrderRejected("validation")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		o, err := s.replay(ctx, key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if o != nil {
			span.SetAttributes(attribute.Bool("order.replayed", true), attribute.String("order.id", o.ID))
			s.log.Debug("idempotent create replayed",
				zap.String("idempotency_key", key),
				zap.String("order_id", o.ID),
			)
			return o, nil
		}
	}

	now := s.now()
	o := &Order{
		ID:              s.newID(),
		UserID:          normalizeUserID(in.UserID),
		TotalAmount:     in.TotalAmount,
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		ShippingMethod:  strings.TrimSpace(in.ShippingMethod),
		PaymentMethod:   strings.TrimSpace(in.PaymentMethod),
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerEmail:   strings.TrimSpace(in.CustomerEmail),
		CustomerPhone:   strings.TrimSpace(in.CustomerPhone),
		Status:          StatusPending,
		IdempotencyKey:  key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	var items []Item
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		items = items[:0]
		if err := s.repo.Create(txCtx, o); err != nil {
			return err
		}
		for i, line := range in.Items {
			it, err := s.reserveLine(txCtx, o.ID, i, line)
			if err != nil {
				return err
			}
			items = append(items, it)
		}
		return s.events.Append(txCtx, s.event(TopicOrderCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
			OrderID:     o.ID,
			UserID:      o.UserID,
			TotalAmount: o.TotalAmount,
			Items:       itemLines(items),
		}))
	})
	if err != nil {
		if key != "" && errors.Is(err, ErrDuplicateIdempotencyKey) {
			// A concurrent request with the same key committed first.
			existing, gerr := s.repo.GetByIdempotencyKey(ctx, key)
			if gerr != nil {
				gerr = classify("load order by idempotency key", gerr)
				span.RecordError(gerr)
				span.SetStatus(codes.Error, gerr.Error())
				return nil, gerr
			}
			span.SetAttributes(attribute.Bool("order.replayed", true), attribute.String("order.id", existing.ID))
			s.log.Debug("idempotent create lost the race; returning committed order",
				zap.String("idempotency_key", key),
				zap.String("order_id", existing.ID),
				zap.String("discarded_order_id", o.ID),
			)
			s.cache.RememberKey(ctx, key, existing.ID)
			return existing, nil
		}
		err = classify("create order", err)
		s.metrics.OrderRejected(rejectReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logFailure("create order failed", err, zap.String("order_id", o.ID))
		return nil, err
	}

	o.Items = items
	if key != "" {
		s.cache.RememberKey(ctx, key, o.ID)
	}
	s.metrics.OrderCreated()
	s.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.Int("items", len(o.Items)),
		zap.String("total_amount", o.TotalAmount.String()),
	)
	return o, nil
}

// reserveLine locks the product row, checks availability, records the line
// and takes the quantity out of stock.
func (s *Service) reserveLine(ctx context.Context, orderID string, pos int, line CreateOrderItem) (Item, error) {
	productID := strings.TrimSpace(line.ProductID)
	stock, err := s.ledger.StockForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return Item{}, &NotFoundError{Resource: "product", ID: productID}
		}
		return Item{}, err
	}
	if stock < line.Quantity {
		return Item{}, &InsufficientStockError{ProductID: productID, Requested: line.Quantity, Available: stock}
	}

	it := Item{
		ID:        s.newID(),
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  line.Quantity,
		Price:     line.Price,
		Position:  pos,
	}
	if err := s.repo.AddItem(ctx, &it); err != nil {
		return Item{}, err
	}
	if err := s.ledger.DecrementStock(ctx, productID, line.Quantity); err != nil {
		switch {
		case errors.Is(err, product.ErrInsufficientStock):
			return Item{}, &InsufficientStockError{ProductID: productID, Requested: line.Quantity, Available: stock}
		case errors.Is(err, product.ErrNotFound):
			return Item{}, &NotFoundError{Resource: "product", ID: productID}
		}
		return Item{}, err
	}
	return it, nil
}

func (s *Service) validate(in CreateOrderInput) error {
	if len(in.Items) == 0 ||
		!in.TotalAmount.IsPositive() ||
		strings.TrimSpace(in.ShippingAddress) == "" ||
		strings.TrimSpace(in.PaymentMethod) == "" {
		return &ValidationError{Msg: "order information incomplete"}
	}
	if !product.FitsNumeric(in.TotalAmount) {
		return &ValidationError{
			Field: "total_amount",
			Msg:   "total_amount must have at most 2 decimals and be below " + product.MaxAmount.String(),
		}
	}
	sum := decimal.Zero
	for i, it := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.ProductID) == "" {
			return &ValidationError{Field: field, Msg: field + ": product_id is required"}
		}
		if it.Quantity <= 0 {
			return &ValidationError{Field: field, Msg: field + ": quantity must be positive"}
		}
		if it.Price.IsNegative() {
			return &ValidationError{Field: field, Msg: field + ": price must not be negative"}
		}
		if !product.FitsNumeric(it.Price) {
			return &ValidationError{Field: field, Msg: field + ": price must have at most 2 decimals and be below " + product.MaxAmount.String()}
		}
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if s.verifyTotal && !sum.Equal(in.TotalAmount) {
		return &ValidationError{
			Field: "total_amount",
			Msg:   fmt.Sprintf("total_amount %s does not match items total %s", in.TotalAmount, sum),
		}
	}
	return nil
}

// replay returns the order already placed under key, if any.
func (s *Service) replay(ctx context.Context, key string) (*Order, error) {
	if id, ok := s.cache.OrderIDForKey(ctx, key); ok {
		o, err := s.GetOrder(ctx, id)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	o, err := s.repo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, classify("load order by idempotency key", err)
	}
	s.cache.RememberKey(ctx, key, o.ID)
	return o, nil
}

// UpdateStatus writes a new status. Moving into cancelled returns every
// line's quantity to stock in the same transaction as the status write.
func (s *Service) UpdateStatus(ctx context.Context, orderID, status string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.update_status", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", status),
	))
	defer span.End()

	next, err := ParseStatus(status)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var prev Status
	var restored []Item
	var updated *Order
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		restored = nil
		cur, err := s.repo.GetForUpdate(txCtx, orderID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return &NotFoundError{Resource: "order", ID: orderID}
			}
			return err
		}
		prev = cur.Status
		if s.strict && !CanTransition(prev, next) {
			return &InvalidTransitionError{From: prev, To: next}
		}

		if next == StatusCancelled && prev != StatusCancelled {
			items, err := s.repo.GetItems(txCtx, orderID)
			if err != nil {
				return err
			}
			for _, it := range items {
				if err := s.ledger.IncrementStock(txCtx, it.ProductID, it.Quantity); err != nil {
					return fmt.Errorf("restore stock for product %s: %w", it.ProductID, err)
				}
			}
			restored = items
		}

		if err := s.repo.UpdateStatus(txCtx, orderID, next, s.now()); err != nil {
			if errors.Is(err, ErrNotFound) {
				return &NotFoundError{Resource: "order", ID: orderID}
			}
			return err
		}
		if prev != next {
			if err := s.events.Append(txCtx, s.event(TopicOrderStatusChanged, EventOrderStatusChanged, orderID, StatusChangedPayload{
				OrderID:       orderID,
				From:          prev,
				To:            next,
				RestoredItems: itemLines(restored),
			})); err != nil {
				return err
			}
		}
		// Read back under the row lock so the response and the cache entry
		// are exactly what commits.
		updated, err = s.repo.GetByID(txCtx, orderID)
		return err
	})
	if err != nil {
		err = classify("update order status", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logFailure("update order status failed", err, zap.String("order_id", orderID))
		return nil, err
	}
	s.cache.SetOrder(ctx, updated)

	units := 0
	for _, it := range restored {
		units += it.Quantity
	}
	s.metrics.StatusChanged(string(next), units)
	s.log.Info("order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.Int("units_restored", units),
	)
	return updated, nil
}

// GetOrder reads through the cache. The cache keeps the entry with the newest
// UpdatedAt, so a read that loses a race with UpdateStatus cannot put an older
// snapshot back.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	if o, ok := s.cache.GetOrder(ctx, id); ok {
		return o, nil
	}
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Resource: "order", ID: id}
		}
		return nil, classify("get order", err)
	}
	s.cache.SetOrder(ctx, o)
	return o, nil
}

func (s *Service) GetItems(ctx context.Context, orderID string) ([]Item, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Items == nil {
		return []Item{}, nil
	}
	return o.Items, nil
}

func (s *Service) ListOrders(ctx context.Context, limit, offset int) ([]Order, error) {
	out, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, classify("list orders", err)
	}
	return out, nil
}

func (s *Service) ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: "user_id", Msg: "user_id is required"}
	}
	out, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, classify("list user orders", err)
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, classify("order stats", err)
	}
	return st, nil
}

func (s *Service) event(topic, eventType, orderID string, payload any) Event {
	return Event{
		Topic: topic,
		Key:   orderID,
		Envelope: Envelope{
			EventID:      s.newID(),
			EventType:    eventType,
			EventVersion: 1,
			OccurredAt:   s.now(),
			Producer:     s.producer,
			Payload:      payload,
		},
	}
}

func (s *Service) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if errors.Is(err, ErrPersistence) {
		s.log.Error(msg, fields...)
		return
	}
	s.log.Info(msg, fields...)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	default:
		return "persistence"
	}
}

func normalizeUserID(id *string) *string {
	if id == nil {
		return nil
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return nil
	}
	return &v
}
