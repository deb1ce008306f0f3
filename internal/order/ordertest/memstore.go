// Package ordertest provides an in-memory order repository, stock ledger and
// event log with transactional semantics, for tests that should not need
// Postgres.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-orders/internal/order"
	"github.com/MikeMC777/storefront-orders/internal/product"
)

// Store serializes transactions with a single lock and applies their writes
// to a private copy that replaces the committed state only on success.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state

	// Fail, when set, is consulted at the start of every operation; a non-nil
	// result is returned as that operation's error.
	Fail func(op string) error
}

var (
	_ order.Repository = (*Store)(nil)
	_ order.EventLog   = (*Store)(nil)
	_ product.Ledger   = (*Store)(nil)
)

type state struct {
	products map[string]product.Product
	orders   map[string]order.Order
	seq      []string
	items    map[string][]order.Item
	keys     map[string]string
	events   []order.Event
}

type txKey struct{}

type txScope struct {
	store *Store
	st    *state
}

func New() *Store {
	return &Store{st: &state{
		products: map[string]product.Product{},
		orders:   map[string]order.Order{},
		items:    map[string][]order.Item{},
		keys:     map[string]string{},
	}}
}

func (s *state) clone() *state {
	c := &state{
		products: make(map[string]product.Product, len(s.products)),
		orders:   make(map[string]order.Order, len(s.orders)),
		seq:      append([]string(nil), s.seq...),
		items:    make(map[string][]order.Item, len(s.items)),
		keys:     make(map[string]string, len(s.keys)),
		events:   append([]order.Event(nil), s.events...),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]order.Item(nil), v...)
	}
	for k, v := range s.keys {
		c.keys[k] = v
	}
	return c
}

func (s *Store) view(ctx context.Context) (*state, func()) {
	if tx, ok := ctx.Value(txKey{}).(*txScope); ok && tx.store == s {
		return tx.st, func() {}
	}
	s.mu.Lock()
	return s.st, s.mu.Unlock
}

func (s *Store) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

// AddProduct seeds a product. Price is parsed with decimal.RequireFromString.
func (s *Store) AddProduct(id, name, price string, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.st.products[id] = product.Product{
		ID:        id,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Stock returns the committed stock of a product, or -1 if it does not exist.
func (s *Store) Stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok {
		return -1
	}
	return p.Stock
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, items := range s.st.items {
		n += len(items)
	}
	return n
}

// Events returns the committed outbox.
func (s *Store) Events() []order.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]order.Event(nil), s.st.events...)
}

// SetCreatedAt rewrites an order's creation time, for stats tests.
func (s *Store) SetCreatedAt(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.st.orders[id]; ok {
		o.CreatedAt = at
		s.st.orders[id] = o
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey{}).(*txScope); ok && tx.store == s {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := s.fail("begin"); err != nil {
		return err
	}
	s.mu.Lock()
	work := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, &txScope{store: s, st: work})); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fail("commit"); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Create(ctx context.Context, o *order.Order) error {
	if err := s.fail("order.create"); err != nil {
		return err
	}
	st, done := s.view(ctx)
	defer done()
	if o.IdempotencyKey != "" {
		if _, ok := st.keys[o.IdempotencyKey]; ok {
			return order.ErrDuplicateIdempotencyKey
		}
		st.keys[o.IdempotencyKey] = o.ID
	}
	h := *o
	h.Items = nil
	st.orders[o.ID] = h
	st.seq = append(st.seq, o.ID)
	return nil
}

func (s *Store) AddItem(ctx context.Context, it *order.Item) error {
	if err := s.fail("order.add_item"); err != nil {
		return err
	}
	st, done := s.view(ctx)
	defer done()
	st.items[it.OrderID] = append(st.items[it.OrderID], *it)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*order.Order, error) {
	if err := s.fail("order.get"); err != nil {
		return nil, err
	}
	st, done := s.view(ctx)
	defer done()
	o, ok := st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.Items = st.itemsOf(id)
	return &o, nil
}

func (s *Store) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	if err := s.fail("order.get_for_update"); err != nil {
		return nil, err
	}
	st, done := s.view(ctx)
	defer done()
	o, ok := st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	st, done := s.view(ctx)
	id, ok := st.keys[key]
	done()
	if !ok {
		return nil, order.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]order.Order, error) {
	st, done := s.view(ctx)
	defer done()
	return st.page(func(order.Order) bool { return true }, limit, offset, false), nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]order.Order, error) {
	st, done := s.view(ctx)
	defer done()
	return st.page(func(o order.Order) bool {
		return o.UserID != nil && *o.UserID == userID
	}, limit, offset, true), nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status order.Status, at time.Time) error {
	if err := s.fail("order.update_status"); err != nil {
		return err
	}
	st, done := s.view(ctx)
	defer done()
	o, ok := st.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	if !at.After(o.UpdatedAt) {
		at = o.UpdatedAt.Add(time.Microsecond)
	}
	o.UpdatedAt = at
	st.orders[id] = o
	return nil
}

func (s *Store) GetItems(ctx context.Context, orderID string) ([]order.Item, error) {
	if err := s.fail("order.get_items"); err != nil {
		return nil, err
	}
	st, done := s.view(ctx)
	defer done()
	return st.itemsOf(orderID), nil
}

func (s *Store) Stats(ctx context.Context) (*order.Stats, error) {
	st, done := s.view(ctx)
	defer done()

	out := &order.Stats{Revenue: decimal.Zero, OrderCount: len(st.orders)}
	byStatus := map[order.Status]int{}
	byMonth := map[string]*order.MonthRevenue{}
	type sold struct {
		qty     int
		revenue decimal.Decimal
	}
	products := map[string]*sold{}
	since := time.Now().UTC().AddDate(0, -6, 0)

	for id, o := range st.orders {
		byStatus[o.Status]++
		if o.Status == order.StatusCancelled {
			continue
		}
		out.Revenue = out.Revenue.Add(o.TotalAmount)
		if !o.CreatedAt.Before(since) {
			m := o.CreatedAt.UTC().Format("2006-01")
			if byMonth[m] == nil {
				byMonth[m] = &order.MonthRevenue{Month: m, Revenue: decimal.Zero}
			}
			byMonth[m].Revenue = byMonth[m].Revenue.Add(o.TotalAmount)
			byMonth[m].OrderCount++
		}
		for _, it := range st.items[id] {
			p := products[it.ProductID]
			if p == nil {
				p = &sold{revenue: decimal.Zero}
				products[it.ProductID] = p
			}
			p.qty += it.Quantity
			p.revenue = p.revenue.Add(it.Subtotal())
		}
	}

	for status, n := range byStatus {
		out.ByStatus = append(out.ByStatus, order.StatusCount{Status: status, Count: n})
	}
	sort.Slice(out.ByStatus, func(i, j int) bool { return out.ByStatus[i].Status < out.ByStatus[j].Status })

	for _, m := range byMonth {
		out.RevenueByMonth = append(out.RevenueByMonth, *m)
	}
	sort.Slice(out.RevenueByMonth, func(i, j int) bool { return out.RevenueByMonth[i].Month < out.RevenueByMonth[j].Month })

	for id, p := range products {
		prod := st.products[id]
		out.TopProducts = append(out.TopProducts, order.TopProduct{
			ProductID:    id,
			Name:         prod.Name,
			Price:        prod.Price,
			TotalSold:    p.qty,
			TotalRevenue: p.revenue,
		})
	}
	sort.Slice(out.TopProducts, func(i, j int) bool {
		a, b := out.TopProducts[i], out.TopProducts[j]
		if a.TotalSold != b.TotalSold {
			return a.TotalSold > b.TotalSold
		}
		return a.Name < b.Name
	})
	if len(out.TopProducts) > 5 {
		out.TopProducts = out.TopProducts[:5]
	}
	return out, nil
}

func (s *Store) Append(ctx context.Context, e order.Event) error {
	if err := s.fail("outbox.append"); err != nil {
		return err
	}
	st, done := s.view(ctx)
	defer done()
	st.events = append(st.events, e)
	return nil
}

func (s *Store) StockForUpdate(ctx context.Context, productID string) (int, error) {
	if err := s.fail("stock.read"); err != nil {
		return 0, err
	}
	st, done := s.view(ctx)
	defer done()
	p, ok := st.products[productID]
	if !ok {
		return 0, product.ErrNotFound
	}
	return p.Stock, nil
}

func (s *Store) DecrementStock(ctx context.Context, productID string, amount int) error {
	if err := s.fail("stock.decrement"); err != nil {
		return err
	}
	if amount <= 0 {
		return product.ErrInvalidAmount
	}
	st, done := s.view(ctx)
	defer done()
	p, ok := st.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	if p.Stock < amount {
		return product.ErrInsufficientStock
	}
	p.Stock -= amount
	st.products[productID] = p
	return nil
}

func (s *Store) IncrementStock(ctx context.Context, productID string, amount int) error {
	if err := s.fail("stock.increment"); err != nil {
		return err
	}
	if amount <= 0 {
		return product.ErrInvalidAmount
	}
	st, done := s.view(ctx)
	defer done()
	p, ok := st.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	p.Stock += amount
	st.products[productID] = p
	return nil
}

func (st *state) itemsOf(orderID string) []order.Item {
	src := st.items[orderID]
	out := make([]order.Item, 0, len(src))
	for _, it := range src {
		it.ProductName = st.products[it.ProductID].Name
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (st *state) page(keep func(order.Order) bool, limit, offset int, withItems bool) []order.Order {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var matched []order.Order
	for i := len(st.seq) - 1; i >= 0; i-- {
		o := st.orders[st.seq[i]]
		if !keep(o) {
			continue
		}
		if withItems {
			o.Items = st.itemsOf(o.ID)
		}
		matched = append(matched, o)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	out := []order.Order{}
	if offset >= len(matched) {
		return out
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return append(out, matched[offset:end]...)
}
