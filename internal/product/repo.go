// Package product provides the catalog reads and the stock ledger used by
// order placement.
package product

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-orders/internal/postgres"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidAmount     = errors.New("stock amount must be positive")
)

type Query struct {
	Q      string
	Limit  int
	Offset int
}

type Repository interface {
	Create(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context, q Query) ([]Product, error)
}

// Ledger is the authoritative stock count. Every method runs on the
// transaction carried by ctx when there is one.
type Ledger interface {
	StockForUpdate(ctx context.Context, productID string) (int, error)
	DecrementStock(ctx context.Context, productID string, amount int) error
	IncrementStock(ctx context.Context, productID string, amount int) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Create(ctx context.Context, p *Product) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := postgres.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO products (id, name, description, price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.Description, p.Price.String(), p.Stock).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := postgres.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT id::text, name, description, price::text, stock, created_at, updated_at
		FROM products WHERE id=$1
	`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || postgres.IsInvalidUUID(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *PGRepo) List(ctx context.Context, q Query) ([]Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	search := strings.TrimSpace(q.Q)

	rows, err := postgres.Conn(ctx, r.db).Query(ctx, `
		SELECT id::text, name, description, price::text, stock, created_at, updated_at
		FROM products
		WHERE ($1 = '' OR name ILIKE '%'||$1||'%' OR description ILIKE '%'||$1||'%')
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, search, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// StockForUpdate reads the stock and locks the row until the surrounding
// transaction ends. Without a transaction the lock is released immediately.
func (r *PGRepo) StockForUpdate(ctx context.Context, productID string) (int, error) {
	var stock int
	err := postgres.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || postgres.IsInvalidUUID(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("lock stock: %w", err)
	}
	return stock, nil
}

func (r *PGRepo) DecrementStock(ctx context.Context, productID string, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`, productID, amount)
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return ErrInsufficientStock
		}
		return fmt.Errorf("decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.StockForUpdate(ctx, productID); err != nil {
			return err
		}
		return ErrInsufficientStock
	}
	return nil
}

func (r *PGRepo) IncrementStock(ctx context.Context, productID string, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
	`, productID, amount)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	var price string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, err
	}
	p.Price = d
	return &p, nil
}
