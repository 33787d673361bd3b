package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/fekuna/omnipos-loyalty-service/internal/model"
)

var ErrDuplicateEmail = errors.New("email already registered")

type Repository interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetStaffProfile(ctx context.Context, userID uuid.UUID) (*model.StaffProfile, error)
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error
}

type pgRepository struct {
	db *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) Repository {
	return &pgRepository{db: db}
}

func (r *pgRepository) CreateUser(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (:id, :email, :password_hash, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, u); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (r *pgRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE email = $1`, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *pgRepository) GetStaffProfile(ctx context.Context, userID uuid.UUID) (*model.StaffProfile, error) {
	var p model.StaffProfile
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM staff_profiles WHERE user_id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *pgRepository) CreateSession(ctx context.Context, s *model.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES (:id, :user_id, :created_at, :expires_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, s)
	return err
}

func (r *pgRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	var s model.Session
	if err := r.db.GetContext(ctx, &s, `SELECT * FROM sessions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *pgRepository) RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, at, id)
	return err
}
