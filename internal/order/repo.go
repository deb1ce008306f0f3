package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-orders/internal/postgres"
)

// Repository persists orders. Methods called with a context returned by
// WithTx run on that transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, o *Order) error
	AddItem(ctx context.Context, it *Item) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	List(ctx context.Context, limit, offset int) ([]Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
	GetItems(ctx context.Context, orderID string) ([]Item, error)
	Stats(ctx context.Context) (*Stats, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return postgres.WithTx(ctx, r.db, fn)
}

const orderColumns = `id::text, user_id, total_amount::text, shipping_address, shipping_method,
	payment_method, customer_name, customer_email, customer_phone, status,
	COALESCE(idempotency_key, ''), created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, o *Order) error {
	var key *string
	if o.IdempotencyKey != "" {
		key = &o.IdempotencyKey
	}
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO orders (id, user_id, total_amount, shipping_address, shipping_method,
			payment_method, customer_name, customer_email, customer_phone, status,
			idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, o.ID, o.UserID, o.TotalAmount.String(), o.ShippingAddress, o.ShippingMethod,
		o.PaymentMethod, o.CustomerName, o.CustomerEmail, o.CustomerPhone, string(o.Status),
		key, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *PGRepo) AddItem(ctx context.Context, it *Item) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO order_items (id, order_id, product_id, quantity, price, position)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, it.ID, it.OrderID, it.ProductID, it.Quantity, it.Price.String(), it.Position)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	items, err := r.GetItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// GetForUpdate locks the order row; items are not loaded.
func (r *PGRepo) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
}

func (r *PGRepo) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	o, err := r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key=$1`, key)
	if err != nil {
		return nil, err
	}
	items, err := r.GetItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	limit, offset = page(limit, offset)
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return collectOrders(rows)
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	limit, offset = page(limit, offset)
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	out, err := collectOrders(rows)
	if err != nil || len(out) == 0 {
		return out, err
	}

	ids := make([]string, 0, len(out))
	byID := make(map[string]int, len(out))
	for i, o := range out {
		ids = append(ids, o.ID)
		byID[o.ID] = i
	}
	itemRows, err := postgres.Conn(ctx, r.db).Query(ctx, `
		SELECT oi.id::text, oi.order_id::text, oi.product_id::text, p.name, oi.quantity, oi.price::text, oi.position
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id::text = ANY($1)
		ORDER BY oi.order_id, oi.position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list user order items: %w", err)
	}
	items, err := collectItems(itemRows)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		i := byID[it.OrderID]
		out[i].Items = append(out[i].Items, it)
	}
	return out, nil
}

// UpdateStatus keeps updated_at strictly increasing per row even when the
// caller's clock is behind, since cache entries are versioned by it.
func (r *PGRepo) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = GREATEST($3, updated_at + interval '1 microsecond')
		WHERE id = $1
	`, id, string(status), at)
	if err != nil {
		if postgres.IsInvalidUUID(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) GetItems(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, `
		SELECT oi.id::text, oi.order_id::text, oi.product_id::text, p.name, oi.quantity, oi.price::text, oi.position
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.position
	`, orderID)
	if err != nil {
		if postgres.IsInvalidUUID(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order items: %w", err)
	}
	return collectItems(rows)
}

func (r *PGRepo) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	db := postgres.Conn(ctx, r.db)
	var st Stats
	var revenue string
	if err := db.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount) FILTER (WHERE status <> 'cancelled'), 0)::text, COUNT(*)
		FROM orders
	`).Scan(&revenue, &st.OrderCount); err != nil {
		return nil, fmt.Errorf("stats totals: %w", err)
	}
	st.Revenue = decimal.RequireFromString(revenue)

	rows, err := db.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	st.ByStatus, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusCount, error) {
		var sc StatusCount
		var s string
		err := row.Scan(&s, &sc.Count)
		sc.Status = Status(s)
		return sc, err
	})
	if err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}

	rows, err = db.Query(ctx, `
		SELECT to_char(date_trunc('month', created_at), 'YYYY-MM') AS month,
		       SUM(total_amount)::text, COUNT(*)
		FROM orders
		WHERE status <> 'cancelled' AND created_at >= NOW() - INTERVAL '6 months'
		GROUP BY month
		ORDER BY month
	`)
	if err != nil {
		return nil, fmt.Errorf("stats by month: %w", err)
	}
	st.RevenueByMonth, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (MonthRevenue, error) {
		var m MonthRevenue
		var rev string
		if err := row.Scan(&m.Month, &rev, &m.OrderCount); err != nil {
			return m, err
		}
		d, err := decimal.NewFromString(rev)
		m.Revenue = d
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("stats by month: %w", err)
	}

	rows, err = db.Query(ctx, `
		SELECT p.id::text, p.name, p.price::text,
		       SUM(oi.quantity) AS total_sold,
		       SUM(oi.quantity * oi.price)::text
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		JOIN orders o ON o.id = oi.order_id
		WHERE o.status <> 'cancelled'
		GROUP BY p.id, p.name, p.price
		ORDER BY total_sold DESC, p.name
		LIMIT 5
	`)
	if err != nil {
		return nil, fmt.Errorf("stats top products: %w", err)
	}
	st.TopProducts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (TopProduct, error) {
		var tp TopProduct
		var price, rev string
		if err := row.Scan(&tp.ProductID, &tp.Name, &price, &tp.TotalSold, &rev); err != nil {
			return tp, err
		}
		tp.Price = decimal.RequireFromString(price)
		d, err := decimal.NewFromString(rev)
		tp.TotalRevenue = d
		return tp, err
	})
	if err != nil {
		return nil, fmt.Errorf("stats top products: %w", err)
	}
	return &st, nil
}

func (r *PGRepo) getOne(ctx context.Context, sql string, arg any) (*Order, error) {
	o, err := scanOrder(postgres.Conn(ctx, r.db).QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || postgres.IsInvalidUUID(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var total, status string
	if err := row.Scan(&o.ID, &o.UserID, &total, &o.ShippingAddress, &o.ShippingMethod,
		&o.PaymentMethod, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone, &status,
		&o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, err
	}
	o.TotalAmount = d
	o.Status = Status(status)
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		var price string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &price, &it.Position); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, err
		}
		it.Price = d
		items = append(items, it)
	}
	return items, rows.Err()
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
