package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ID represents a unique identifier
type ID string

// GenerateUUID creates a new UUID
func GenerateUUID() ID {
	return ID(uuid.New().String())
}

// NewID creates an ID from string
func NewID(id string) (ID, error) {
	_, err := uuid.Parse(id)
	if err != nil {
		return "", err
	}
	return ID(id), nil
}

// String returns string representation
func (id ID) String() string {
	return string(id)
}

// OrderStatus represents the lifecycle status of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// CartItem is a single purchasable item in a cart
type CartItem struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Cart is an ordered list of items
type Cart []CartItem

// Total sums the item prices, rounded to cents
func (c Cart) Total() float64 {
	var total float64
	for _, item := range c {
		total += item.Price
	}
	return math.Round(total*100) / 100
}

// Validate checks the cart is usable for an order
func (c Cart) Validate() error {
	if len(c) == 0 {
		return errors.New("validation: cart is empty")
	}
	for _, item := range c {
		if item.Price < 0 {
			return errors.Errorf("validation: item %d has negative price", item.ID)
		}
	}
	return nil
}

// Normalize trims item names and drops empty entries
func (c Cart) Normalize() Cart {
	normalized := make(Cart, 0, len(c))
	for _, item := range c {
		item.Name = strings.TrimSpace(item.Name)
		if item.ID == 0 && item.Name == "" && item.Price == 0 {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}

// OrderData carries the full order through the saga. It is built once at
// saga start and never mutated in place; each step derives a fresh copy.
type OrderData struct {
	OrderID   string      `json:"orderId"`
	Cart      Cart        `json:"cart"`
	UserID    string      `json:"userId"`
	Total     float64     `json:"total"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Validate checks the invariants required before the order enters the saga.
// The total is always recomputed from the cart, never trusted from the caller.
func (o OrderData) Validate() error {
	if o.OrderID == "" {
		return errors.New("validation: order ID is required")
	}
	if o.UserID == "" {
		return errors.New("validation: user ID is required")
	}
	if err := o.Cart.Validate(); err != nil {
		return err
	}
	if o.Cart.Total() <= 0 {
		return errors.New("validation: order total must be positive")
	}
	return nil
}

// WithStatus returns a copy of the order with the given status and the
// total recomputed from the cart.
func (o OrderData) WithStatus(status OrderStatus) OrderData {
	o.Status = status
	o.Total = o.Cart.Total()
	return o
}

// PaymentData projects the order fields the payment step needs
func (o OrderData) PaymentData() PaymentData {
	return PaymentData{
		OrderID: o.OrderID,
		Cart:    o.Cart,
		UserID:  o.UserID,
		Total:   o.Total,
	}
}

// PaymentData is the projection of an order handed to the payment service
type PaymentData struct {
	OrderID string  `json:"orderId"`
	Cart    Cart    `json:"cart"`
	UserID  string  `json:"userId"`
	Total   float64 `json:"total"`
}

// EmailType classifies outbound notification emails
type EmailType string

const (
	EmailTypeOrderConfirmation    EmailType = "order_confirmation"
	EmailTypePaymentConfirmation  EmailType = "payment_confirmation"
	EmailTypeShippingNotification EmailType = "shipping_notification"
)

// EmailData describes a notification email to send for an order
type EmailData struct {
	OrderID string    `json:"orderId"`
	UserID  string    `json:"userId"`
	Email   string    `json:"email"`
	Type    EmailType `json:"type"`
}
