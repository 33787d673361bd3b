package tenant

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/fekuna/omnipos-loyalty-service/internal/model"
)

type Repository interface {
	GetBySlug(ctx context.Context, slug string) (*model.Restaurant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Restaurant, error)
}

type pgRepository struct {
	db *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) Repository {
	return &pgRepository{db: db}
}

func (r *pgRepository) GetBySlug(ctx context.Context, slug string) (*model.Restaurant, error) {
	var rest model.Restaurant
	query := `SELECT id, name, slug, created_at FROM restaurants WHERE slug = $1`
	if err := r.db.GetContext(ctx, &rest, query, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rest, nil
}

func (r *pgRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Restaurant, error) {
	var rest model.Restaurant
	query := `SELECT id, name, slug, created_at FROM restaurants WHERE id = $1`
	if err := r.db.GetContext(ctx, &rest, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rest, nil
}
