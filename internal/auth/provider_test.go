package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/auth"
	"github.com/fekuna/omnipos-loyalty-service/internal/memstore"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newProvider(t *testing.T) (*auth.Provider, *memstore.Store, *clock) {
	t.Helper()
	store := memstore.New()
	clk := &clock{now: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	p := auth.NewProvider(store.Auth(), auth.Config{
		SecretKey:  "test-secret",
		Issuer:     "loyalty-test",
		TTL:        time.Hour,
		BcryptCost: bcrypt.MinCost,
		Now:        clk.Now,
	}, logger.NewNop())
	return p, store, clk
}

func TestSignUpAndSignIn(t *testing.T) {
	p, _, _ := newProvider(t)
	ctx := context.Background()

	u, err := p.SignUp(ctx, "  Ana@Example.com ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)

	token, session, err := p.SignIn(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, u.ID, session.UserID)
	assert.Equal(t, auth.RoleCustomer, session.Role)
	assert.False(t, session.IsStaff())

	current, err := p.CurrentSession(ctx, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, session.ID, current.ID)
	assert.Equal(t, "ana@example.com", current.Email)
}

func TestSignUpRejects(t *testing.T) {
	p, store, _ := newProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "not-an-email", "correct-horse")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = p.SignUp(ctx, "ana@example.com", "short")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = p.SignUp(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)
	_, err = p.SignUp(ctx, "ANA@example.com", "another-pass")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	store.FailNext("CreateUser", 1, errors.New("disk full"))
	_, err = p.SignUp(ctx, "bob@example.com", "correct-horse")
	assert.ErrorIs(t, err, apperror.ErrPersistence)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	p, _, _ := newProvider(t)
	ctx := context.Background()
	_, err := p.SignUp(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)

	_, _, err = p.SignIn(ctx, "ana@example.com", "wrong-horse")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, _, err = p.SignIn(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestStaffSession(t *testing.T) {
	p, store, _ := newProvider(t)
	ctx := context.Background()

	u, err := p.SignUp(ctx, "staff@morsi.test", "correct-horse")
	require.NoError(t, err)
	restaurantID := uuid.New()
	store.AddStaff(u.ID, restaurantID, auth.RoleOwner)

	_, session, err := p.SignIn(ctx, "staff@morsi.test", "correct-horse")
	require.NoError(t, err)
	assert.True(t, session.IsStaff())

	got, err := session.StaffRestaurant()
	require.NoError(t, err)
	assert.Equal(t, restaurantID, got)
}

func TestCurrentSessionRejects(t *testing.T) {
	p, _, clk := newProvider(t)
	ctx := context.Background()
	_, err := p.SignUp(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)
	token, session, err := p.SignIn(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)

	_, err = p.CurrentSession(ctx, "")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: session.ID.String()},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = p.CurrentSession(ctx, forged)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	clk.now = clk.now.Add(2 * time.Hour)
	_, err = p.CurrentSession(ctx, token)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestSignOutRevokes(t *testing.T) {
	p, _, _ := newProvider(t)
	ctx := context.Background()
	_, err := p.SignUp(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)
	token, session, err := p.SignIn(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, p.SignOut(ctx, session))

	_, err = p.CurrentSession(ctx, token)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	assert.ErrorIs(t, p.SignOut(ctx, nil), apperror.ErrUnauthorized)
}

func TestSessionContext(t *testing.T) {
	_, err := auth.Require(context.Background())
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	s := &auth.Session{ID: uuid.New(), Role: auth.RoleCustomer}
	ctx := auth.WithSession(context.Background(), s)
	got, err := auth.Require(ctx)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = got.StaffRestaurant()
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}
