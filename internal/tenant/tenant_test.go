package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

var rules = Rules{DevSlug: "morsiburger", MinLabels: 3, Reserved: []string{"www", "api"}}

func TestResolve(t *testing.T) {
	cases := []struct {
		host string
		slug string
		ok   bool
	}{
		{"morsiburger.mangialoqui.com", "morsiburger", true},
		{"MorsiBurger.Mangialoqui.com:443", "morsiburger", true},
		{"pizza.eu.mangialoqui.com", "pizza", true},
		{"mangialoqui.com", "", false},
		{"www.mangialoqui.com", "", false},
		{"api.mangialoqui.com", "", false},
		{"localhost:3000", "morsiburger", true},
		{"127.0.0.1:8080", "morsiburger", true},
		{"10.0.0.4", "", false},
		{"bad_slug.mangialoqui.com", "", false},
		{"-x.mangialoqui.com", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		slug, ok := rules.Resolve(tc.host)
		assert.Equal(t, tc.ok, ok, tc.host)
		assert.Equal(t, tc.slug, slug, tc.host)
	}
}

func TestResolveWithoutDevSlug(t *testing.T) {
	_, ok := Rules{MinLabels: 3}.Resolve("localhost")
	assert.False(t, ok)
}

type memRepo struct {
	bySlug map[string]*model.Restaurant
	err    error
}

func (m *memRepo) GetBySlug(_ context.Context, slug string) (*model.Restaurant, error) {
	return m.bySlug[slug], m.err
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Restaurant, error) {
	for _, r := range m.bySlug {
		if r.ID == id {
			return r, m.err
		}
	}
	return nil, m.err
}

func TestServiceResolveTenant(t *testing.T) {
	rest := &model.Restaurant{ID: uuid.New(), Name: "Morsi Burger", Slug: "morsiburger"}
	svc := NewService(rules, &memRepo{bySlug: map[string]*model.Restaurant{"morsiburger": rest}}, logger.NewNop())
	ctx := context.Background()

	got, err := svc.ResolveTenant(ctx, "morsiburger.mangialoqui.com")
	require.NoError(t, err)
	assert.Equal(t, rest.ID, got.ID)

	_, err = svc.ResolveTenant(ctx, "unknown.mangialoqui.com")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = svc.ResolveTenant(ctx, "mangialoqui.com")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestServiceResolveTenantStoreFailure(t *testing.T) {
	svc := NewService(rules, &memRepo{err: errors.New("connection refused")}, logger.NewNop())

	_, err := svc.ResolveTenant(context.Background(), "morsiburger.mangialoqui.com")
	assert.ErrorIs(t, err, apperror.ErrPersistence)
}
