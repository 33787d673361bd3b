package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ReasonWelcome             = "welcome"
	ReasonStaffAward          = "staff-award"
	ReasonDashboardAdjustment = "dashboard-adjustment"
	ReasonOrder               = "order"
)

// LedgerEntry is one immutable row of loyalty_transactions. Seq is the
// insertion order and breaks ties between equal CreatedAt values.
type LedgerEntry struct {
	Seq          int64      `db:"seq" json:"-"`
	ID           uuid.UUID  `db:"id" json:"id"`
	CustomerID   uuid.UUID  `db:"customer_id" json:"customer_id"`
	RestaurantID *uuid.UUID `db:"restaurant_id" json:"restaurant_id,omitempty"`
	PointsDelta  int64      `db:"points_delta" json:"points_delta"`
	Reason       string     `db:"reason" json:"reason"`
	RequestID    *string    `db:"request_id" json:"request_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

func ParseOrder(s string) Order {
	if s == "asc" || s == "oldest" {
		return OldestFirst
	}
	return NewestFirst
}
