package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/fekuna/omnipos-loyalty-service/internal/model"
)

// ErrDuplicate is returned by Create when a unique constraint rejects the row.
var ErrDuplicate = errors.New("customer already exists")

const (
	SortPoints    = "points"
	SortCreatedAt = "created_at"
	SortFullName  = "full_name"
)

type ListParams struct {
	Page     int
	PageSize int
	Search   string
	Sort     string
}

type Repository interface {
	Create(ctx context.Context, customer *model.Customer) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	GetByQRCode(ctx context.Context, token string) (*model.Customer, error)
	GetByUser(ctx context.Context, restaurantID, userID uuid.UUID) (*model.Customer, error)
	List(ctx context.Context, restaurantID uuid.UUID, params ListParams) ([]*model.CustomerSummary, int, error)
	// FinalizeQRCode replaces a placeholder token. It reports false when the
	// row no longer holds a placeholder.
	FinalizeQRCode(ctx context.Context, id uuid.UUID, token string) (bool, error)
	// ListIncomplete returns customers created before cutoff whose QR token is
	// still a placeholder or whose welcome entry is missing.
	ListIncomplete(ctx context.Context, cutoff time.Time, limit int) ([]*model.Customer, error)
}

type pgRepository struct {
	db *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) Repository {
	return &pgRepository{db: db}
}

func (r *pgRepository) Create(ctx context.Context, c *model.Customer) error {
	query := `
		INSERT INTO customers (id, restaurant_id, user_id, full_name, email, phone, qr_code, created_at)
		VALUES (:id, :restaurant_id, :user_id, :full_name, :email, :phone, :qr_code, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errors.Wrap(ErrDuplicate, pgErr.ConstraintName)
		}
		return err
	}
	return nil
}

func (r *pgRepository) get(ctx context.Context, query string, args ...interface{}) (*model.Customer, error) {
	var c model.Customer
	if err := r.db.GetContext(ctx, &c, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *pgRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	return r.get(ctx, `SELECT * FROM customers WHERE id = $1`, id)
}

func (r *pgRepository) GetByQRCode(ctx context.Context, token string) (*model.Customer, error) {
	return r.get(ctx, `SELECT * FROM customers WHERE qr_code = $1`, token)
}

func (r *pgRepository) GetByUser(ctx context.Context, restaurantID, userID uuid.UUID) (*model.Customer, error) {
	return r.get(ctx, `SELECT * FROM customers WHERE restaurant_id = $1 AND user_id = $2`, restaurantID, userID)
}

var orderBy = map[string]string{
	SortPoints:    "balance DESC, c.created_at DESC",
	SortCreatedAt: "c.created_at DESC",
	SortFullName:  "c.full_name ASC NULLS LAST, c.created_at DESC",
}

func (r *pgRepository) List(ctx context.Context, restaurantID uuid.UUID, p ListParams) ([]*model.CustomerSummary, int, error) {
	offset := (p.Page - 1) * p.PageSize
	customers := []*model.CustomerSummary{}
	var total int

	query := `
		SELECT c.*, COALESCE(l.balance, 0) AS balance
		FROM customers c
		LEFT JOIN (
			SELECT customer_id, SUM(points_delta) AS balance
			FROM loyalty_transactions
			GROUP BY customer_id
		) l ON l.customer_id = c.id
		WHERE c.restaurant_id = $1`
	countQuery := `SELECT COUNT(*) FROM customers c WHERE c.restaurant_id = $1`
	args := []interface{}{restaurantID}

	if p.Search != "" {
		filter := fmt.Sprintf(" AND (c.full_name ILIKE $%d OR c.email ILIKE $%d OR c.phone ILIKE $%d)", len(args)+1, len(args)+1, len(args)+1)
		query += filter
		countQuery += filter
		args = append(args, "%"+p.Search+"%")
	}

	order, ok := orderBy[p.Sort]
	if !ok {
		order = orderBy[SortPoints]
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", order, len(args)+1, len(args)+2)
	argsList := append(append([]interface{}{}, args...), p.PageSize, offset)

	if err := r.db.SelectContext(ctx, &customers, query, argsList...); err != nil {
		return nil, 0, err
	}
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}
	return customers, total, nil
}

func (r *pgRepository) FinalizeQRCode(ctx context.Context, id uuid.UUID, token string) (bool, error) {
	query := `UPDATE customers SET qr_code = $1 WHERE id = $2 AND qr_code LIKE 'pending:%'`
	res, err := r.db.ExecContext(ctx, query, token, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *pgRepository) ListIncomplete(ctx context.Context, cutoff time.Time, limit int) ([]*model.Customer, error) {
	customers := []*model.Customer{}
	query := `
		SELECT c.* FROM customers c
		WHERE c.created_at < $1
		  AND (
			c.qr_code LIKE 'pending:%'
			OR NOT EXISTS (
				SELECT 1 FROM loyalty_transactions t
				WHERE t.customer_id = c.id AND t.request_id = 'welcome:' || c.id::text
			)
		  )
		ORDER BY c.created_at
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &customers, query, cutoff, limit); err != nil {
		return nil, err
	}
	return customers, nil
}
