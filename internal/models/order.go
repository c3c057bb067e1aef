package models

import "github.com/google/uuid"

// OrderItem is a single cart line inside an OrderContext.
type OrderItem struct {
	ID         uuid.UUID `json:"id"`
	CategoryID uuid.UUID `json:"category_id"`
	Price      float64   `json:"price"`
	Quantity   int       `json:"quantity"`
}

// OrderContext is the ephemeral cart/order snapshot evaluated against a
// promotion. CustomerID is nil for guest checkouts.
type OrderContext struct {
	StoreID      uuid.UUID    `json:"store_id"`
	CustomerID   *uuid.UUID   `json:"customer_id,omitempty"`
	DeliveryType DeliveryType `json:"delivery_type"`
	Subtotal     float64      `json:"subtotal"`
	DeliveryFee  float64      `json:"delivery_fee"`
	Items        []OrderItem  `json:"items"`
}

// Product carries the fields needed to compare a product's own offer price
// against a promotion-derived price.
type Product struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Price      float64   `json:"price"`
	OfferPrice float64   `json:"offer_price"`
	IsOnOffer  bool      `json:"is_on_offer"`
}
