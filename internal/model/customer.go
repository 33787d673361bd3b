package model

import (
	"time"

	"github.com/google/uuid"
)

// Customer is a loyalty card holder scoped to one restaurant. It carries no
// points column: balances always come from the ledger.
type Customer struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	RestaurantID *uuid.UUID `db:"restaurant_id" json:"restaurant_id,omitempty"`
	UserID       *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	FullName     *string    `db:"full_name" json:"full_name,omitempty"`
	Email        *string    `db:"email" json:"email,omitempty"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	QRCode       string     `db:"qr_code" json:"qr_code"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// CustomerSummary is a customer row joined with its ledger-derived balance.
type CustomerSummary struct {
	Customer
	Balance int64 `db:"balance" json:"balance"`
}

// Profile is the caller supplied part of a new customer.
type Profile struct {
	FullName string     `json:"full_name"`
	Email    string     `json:"email"`
	Phone    string     `json:"phone"`
	UserID   *uuid.UUID `json:"user_id,omitempty"`
}

func (c *Customer) BelongsTo(restaurantID uuid.UUID) bool {
	return c.RestaurantID != nil && *c.RestaurantID == restaurantID
}
