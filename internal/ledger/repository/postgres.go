package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/fekuna/omnipos-loyalty-service/internal/model"
)

// Cursor marks the last entry of a history page.
type Cursor struct {
	CreatedAt time.Time
	Seq       int64
}

// Repository is the append-only store behind the ledger. There is no update
// or delete method by construction.
type Repository interface {
	// CustomerRestaurant reports whether the customer exists and which
	// restaurant owns it.
	CustomerRestaurant(ctx context.Context, customerID uuid.UUID) (*uuid.UUID, bool, error)
	// Append inserts entry and returns the balance including it, in one
	// transaction. When entry.RequestID was already used for this customer the
	// stored entry is copied into entry, nothing is inserted and replayed is true.
	Append(ctx context.Context, entry *model.LedgerEntry) (balance int64, replayed bool, err error)
	Balance(ctx context.Context, customerID uuid.UUID) (int64, error)
	// Page returns up to limit entries after cursor (nil = from the start) in
	// the given order.
	Page(ctx context.Context, customerID uuid.UUID, order model.Order, after *Cursor, limit int) ([]model.LedgerEntry, error)
}

type pgRepository struct {
	db *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) Repository {
	return &pgRepository{db: db}
}

func (r *pgRepository) CustomerRestaurant(ctx context.Context, customerID uuid.UUID) (*uuid.UUID, bool, error) {
	var restaurantID *uuid.UUID
	query := `SELECT restaurant_id FROM customers WHERE id = $1`
	if err := r.db.GetContext(ctx, &restaurantID, query, customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return restaurantID, true, nil
}

const sumQuery = `SELECT COALESCE(SUM(points_delta), 0) FROM loyalty_transactions WHERE customer_id = $1`

func (r *pgRepository) Append(ctx context.Context, e *model.LedgerEntry) (int64, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO loyalty_transactions (id, customer_id, restaurant_id, points_delta, reason, request_id, created_at)
		VALUES (:id, :customer_id, :restaurant_id, :points_delta, :reason, :request_id, :created_at)
		ON CONFLICT (customer_id, request_id) DO NOTHING
		RETURNING seq
	`
	query, args, err := tx.BindNamed(insert, e)
	if err != nil {
		return 0, false, err
	}

	replayed := false
	if err := tx.GetContext(ctx, &e.Seq, query, args...); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, false, errors.Wrap(err, "insert entry")
		}
		// Only reachable through the request_id conflict.
		existing := `SELECT * FROM loyalty_transactions WHERE customer_id = $1 AND request_id = $2`
		if err := tx.GetContext(ctx, e, existing, e.CustomerID, e.RequestID); err != nil {
			return 0, false, errors.Wrap(err, "load replayed entry")
		}
		replayed = true
	}

	var balance int64
	if err := tx.GetContext(ctx, &balance, sumQuery, e.CustomerID); err != nil {
		return 0, false, errors.Wrap(err, "sum entries")
	}

	if err := tx.Commit(); err != nil {
		return 0, false, errors.Wrap(err, "commit")
	}
	return balance, replayed, nil
}

func (r *pgRepository) Balance(ctx context.Context, customerID uuid.UUID) (int64, error) {
	var balance int64
	if err := r.db.GetContext(ctx, &balance, sumQuery, customerID); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *pgRepository) Page(ctx context.Context, customerID uuid.UUID, order model.Order, after *Cursor, limit int) ([]model.LedgerEntry, error) {
	cmp, dir := "<", "DESC"
	if order == model.OldestFirst {
		cmp, dir = ">", "ASC"
	}

	args := []interface{}{customerID}
	query := `SELECT * FROM loyalty_transactions WHERE customer_id = $1`
	if after != nil {
		query += ` AND (created_at, seq) ` + cmp + ` ($2, $3)`
		args = append(args, after.CreatedAt, after.Seq)
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, seq %s LIMIT $%d", dir, dir, len(args)+1)
	args = append(args, limit)

	entries := []model.LedgerEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}
