package order

import "github.com/shopspring/decimal"

// CreateOrderItem payload de ítem.
// swagger:model CreateOrderItem
type CreateOrderItem struct {
	ProductID string          `json:"product_id" example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	Quantity  int             `json:"quantity"   example:"2"`
	Price     decimal.Decimal `json:"price"      swaggertype:"string" example:"100.00"`
}

// CreateOrderRequest payload de creación de orden.
// swagger:model CreateOrderRequest
type CreateOrderRequest struct {
	UserID          *string           `json:"user_id"          example:"b2f5ff47-2b1e-4f22-8a96-5f3c1f2f2e7b"`
	Items           []CreateOrderItem `json:"items"`
	TotalAmount     decimal.Decimal   `json:"total_amount"     swaggertype:"string" example:"250.00"`
	ShippingAddress string            `json:"shipping_address" example:"12 Nguyen Hue, District 1"`
	ShippingMethod  string            `json:"shipping_method"  example:"standard"`
	PaymentMethod   string            `json:"payment_method"   example:"cod"`
	CustomerName    string            `json:"customer_name"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerPhone   string            `json:"customer_phone"`
}

// UpdateStatusRequest payload de cambio de estado.
// swagger:model UpdateStatusRequest
type UpdateStatusRequest struct {
	Status string `json:"status" example:"processing"`
}

// CreateOrderInput is what the coordinator consumes; the HTTP layer adds the
// idempotency key from the request header.
type CreateOrderInput struct {
	CreateOrderRequest
	IdempotencyKey string
}

// ListResponse is a page of orders.
// swagger:model OrderListResponse
type ListResponse struct {
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Items  []Order `json:"items"`
}
