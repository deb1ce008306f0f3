package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID              string          `json:"id"`
	UserID          *string         `json:"user_id"`
	TotalAmount     decimal.Decimal `json:"total_amount" swaggertype:"string" example:"250.00"`
	ShippingAddress string          `json:"shipping_address"`
	ShippingMethod  string          `json:"shipping_method"`
	PaymentMethod   string          `json:"payment_method"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   string          `json:"customer_phone"`
	Status          Status          `json:"status" swaggertype:"string" example:"pending"`
	IdempotencyKey  string          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []Item          `json:"items,omitempty"`
}

// Item is a line of an order. Price is the unit price captured when the order
// was placed, independent of the product's current price.
type Item struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price" swaggertype:"string" example:"100.00"`
	Position    int             `json:"-"`
}

func (it Item) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type StatusCount struct {
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

type MonthRevenue struct {
	Month      string          `json:"month"`
	Revenue    decimal.Decimal `json:"revenue" swaggertype:"string"`
	OrderCount int             `json:"order_count"`
}

type TopProduct struct {
	ProductID    string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price" swaggertype:"string"`
	TotalSold    int             `json:"total_sold"`
	TotalRevenue decimal.Decimal `json:"total_revenue" swaggertype:"string"`
}

// Stats aggregates orders; cancelled orders never count as revenue.
type Stats struct {
	Revenue        decimal.Decimal `json:"revenue" swaggertype:"string"`
	OrderCount     int             `json:"order_count"`
	ByStatus       []StatusCount   `json:"orders_by_status"`
	RevenueByMonth []MonthRevenue  `json:"revenue_by_month"`
	TopProducts    []TopProduct    `json:"top_products"`
}
