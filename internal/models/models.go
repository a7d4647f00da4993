package models

import (
	"encoding/json"
)

// Record is a collection element with an integer id.
type Record[T any] interface {
	RecordID() int
	WithID(id int) T
}

// NextID returns max(existing ids)+1, or 1 for an empty collection.
func NextID[T Record[T]](records []T) int {
	max := 0
	for _, r := range records {
		if id := r.RecordID(); id > max {
			max = id
		}
	}
	return max + 1
}

// Role of a user account.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleCustomer Role = "customer"
)

// User is a storefront account. Passwords are stored as given.
type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

func (u User) RecordID() int { return u.ID }
func (u User) WithID(id int) User { u.ID = id; return u }

// Product is a catalog entry.
type Product struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Stock       int     `json:"stock"`
	Image       string  `json:"image"`
}

func (p Product) RecordID() int { return p.ID }
func (p Product) WithID(id int) Product { p.ID = id; return p }

// CartItem is one line of a cart or an order.
type CartItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// ISOTime is the order date layout, millisecond precision in UTC.
const ISOTime = "2006-01-02T15:04:05.000Z07:00"

// Order status values
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusShipping  = "shipping"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Order is a placed order. ShippingInfo and PaymentInfo are passed through
// untouched.
type Order struct {
	ID           int             `json:"id"`
	UserID       int             `json:"userId"`
	Items        []CartItem      `json:"items"`
	Total        float64         `json:"total"`
	Date         string          `json:"date"`
	Status       string          `json:"status"`
	OrderNumber  string          `json:"orderNumber,omitempty"`
	ShippingInfo json.RawMessage `json:"shippingInfo,omitempty"`
	PaymentInfo  json.RawMessage `json:"paymentInfo,omitempty"`
}

func (o Order) RecordID() int { return o.ID }
func (o Order) WithID(id int) Order { o.ID = id; return o }

// StockRequest asks for quantity units of one product.
type StockRequest struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}
