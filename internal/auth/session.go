// Package auth is the authentication provider: accounts, sign in/out, and the
// per-request Session value that replaces ambient "current user" lookups.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
)

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleOwner    = "owner"
)

// Session is acquired at request start by middleware and dropped with the
// request context.
type Session struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Email        string
	Role         string
	RestaurantID *uuid.UUID
	ExpiresAt    time.Time
}

func (s *Session) IsStaff() bool {
	return s.RestaurantID != nil && (s.Role == RoleStaff || s.Role == RoleOwner)
}

// StaffRestaurant returns the restaurant a staff session may operate on.
func (s *Session) StaffRestaurant() (uuid.UUID, error) {
	if !s.IsStaff() {
		return uuid.Nil, errors.Wrap(apperror.ErrForbidden, "staff session required")
	}
	return *s.RestaurantID, nil
}

type sessionKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// Require returns the request session or ErrUnauthorized.
func Require(ctx context.Context) (*Session, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, errors.Wrap(apperror.ErrUnauthorized, "no session")
	}
	return s, nil
}
