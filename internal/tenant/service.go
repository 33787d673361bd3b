package tenant

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

type Service struct {
	rules  Rules
	repo   Repository
	logger logger.ZapLogger
}

func NewService(rules Rules, repo Repository, logger logger.ZapLogger) *Service {
	return &Service{rules: rules, repo: repo, logger: logger}
}

// ResolveTenant maps a request host to its restaurant.
func (s *Service) ResolveTenant(ctx context.Context, hostname string) (*model.Restaurant, error) {
	slug, ok := s.rules.Resolve(hostname)
	if !ok {
		return nil, errors.Wrapf(apperror.ErrNotFound, "no restaurant for host %q", hostname)
	}

	rest, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		s.logger.Error("Failed to load restaurant", zap.String("slug", slug), zap.Error(err))
		return nil, apperror.Persistence(err, "get restaurant by slug")
	}
	if rest == nil {
		return nil, errors.Wrapf(apperror.ErrNotFound, "restaurant %q not configured", slug)
	}
	return rest, nil
}

func (s *Service) Restaurant(ctx context.Context, id uuid.UUID) (*model.Restaurant, error) {
	rest, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Persistence(err, "get restaurant")
	}
	if rest == nil {
		return nil, errors.Wrap(apperror.ErrNotFound, "restaurant not found")
	}
	return rest, nil
}
