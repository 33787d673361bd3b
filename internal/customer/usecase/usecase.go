package usecase

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/customer/repository"
	ledger "github.com/fekuna/omnipos-loyalty-service/internal/ledger/usecase"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/internal/qrtoken"
	"github.com/fekuna/omnipos-loyalty-service/internal/tenant"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

// Enrollment is a freshly created (or, for CreateCard, already existing) card
// with its current balance.
type Enrollment struct {
	Customer *model.Customer
	Balance  int64
	Created  bool
}

type UseCase interface {
	EnrollCustomer(ctx context.Context, restaurantID uuid.UUID, profile model.Profile) (*Enrollment, error)
	// CreateCard enrolls profile.UserID unless that user already holds a card
	// in the restaurant, in which case the existing card is returned.
	CreateCard(ctx context.Context, restaurantID uuid.UUID, profile model.Profile) (*Enrollment, error)
	GetCustomer(ctx context.Context, restaurantID, id uuid.UUID) (*model.Customer, error)
	GetCustomerByUser(ctx context.Context, restaurantID, userID uuid.UUID) (*model.Customer, error)
	LookupByQR(ctx context.Context, restaurantID uuid.UUID, token string) (*model.Customer, error)
	ListCustomers(ctx context.Context, restaurantID uuid.UUID, params repository.ListParams) ([]*model.CustomerSummary, int, error)
	// FinalizePending repairs enrollments older than grace that still hold a
	// placeholder token or lack their welcome entry.
	FinalizePending(ctx context.Context, grace time.Duration) (int, error)
}

type Options struct {
	WelcomeBonus     int64
	FinalizeAttempts int
	Timeout          time.Duration
	Now              func() time.Time
	// RetryBackoff is the pause before the n-th finalize retry, multiplied by n.
	RetryBackoff time.Duration
}

type customerUseCase struct {
	repo        repository.Repository
	restaurants tenant.Repository
	ledger      ledger.UseCase
	logger      logger.ZapLogger
	opts        Options
}

func NewCustomerUseCase(repo repository.Repository, restaurants tenant.Repository, ledgerUC ledger.UseCase, logger logger.ZapLogger, opts Options) UseCase {
	if opts.WelcomeBonus == 0 {
		opts.WelcomeBonus = 5
	}
	if opts.FinalizeAttempts <= 0 {
		opts.FinalizeAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 50 * time.Millisecond
	}
	return &customerUseCase{repo: repo, restaurants: restaurants, ledger: ledgerUC, logger: logger, opts: opts}
}

func welcomeRequestID(customerID uuid.UUID) string {
	return "welcome:" + customerID.String()
}

func (uc *customerUseCase) EnrollCustomer(ctx context.Context, restaurantID uuid.UUID, profile model.Profile) (*Enrollment, error) {
	profile, err := normalizeProfile(profile)
	if err != nil {
		return nil, err
	}

	if err := uc.withTimeout(ctx, func(ctx context.Context) error {
		rest, err := uc.restaurants.GetByID(ctx, restaurantID)
		if err != nil {
			return apperror.Persistence(err, "get restaurant")
		}
		if rest == nil {
			return errors.Wrapf(apperror.ErrNotFound, "restaurant %s", restaurantID)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	now := uc.opts.Now().UTC()
	c := &model.Customer{
		ID:           uuid.New(),
		RestaurantID: &restaurantID,
		UserID:       profile.UserID,
		FullName:     optional(profile.FullName),
		Email:        optional(profile.Email),
		Phone:        optional(profile.Phone),
		QRCode:       qrtoken.NewPlaceholder(now),
		CreatedAt:    now,
	}

	if err := uc.withTimeout(ctx, func(ctx context.Context) error {
		return uc.repo.Create(ctx, c)
	}); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, errors.Wrap(apperror.ErrConflict, "customer already enrolled")
		}
		uc.logger.Error("Failed to create customer", zap.Error(err))
		return nil, apperror.Persistence(err, "create customer")
	}

	if err := uc.finalizeQR(ctx, c); err != nil {
		uc.logger.Error("QR finalization failed, left for repair",
			zap.String("customer_id", c.ID.String()),
			zap.Error(err),
		)
		return nil, apperror.Persistence(err, "finalize qr code")
	}

	award, err := uc.ledger.AwardPoints(ctx, c.ID, uc.opts.WelcomeBonus, model.ReasonWelcome, welcomeRequestID(c.ID))
	if err != nil {
		uc.logger.Error("Welcome bonus failed, left for repair",
			zap.String("customer_id", c.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	uc.logger.Info("Customer enrolled",
		zap.String("customer_id", c.ID.String()),
		zap.String("restaurant_id", restaurantID.String()),
	)
	return &Enrollment{Customer: c, Balance: award.Balance, Created: true}, nil
}

// finalizeQR swaps the placeholder for cust:<id>, retrying transient failures.
func (uc *customerUseCase) finalizeQR(ctx context.Context, c *model.Customer) error {
	token := qrtoken.Finalize(c.ID)

	var lastErr error
	for attempt := 1; attempt <= uc.opts.FinalizeAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * uc.opts.RetryBackoff):
			}
		}

		var updated bool
		lastErr = uc.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			updated, err = uc.repo.FinalizeQRCode(ctx, c.ID, token)
			return err
		})
		if lastErr != nil {
			uc.logger.Warn("QR finalization attempt failed",
				zap.String("customer_id", c.ID.String()),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			continue
		}
		if !updated {
			// Someone else finalized it; confirm instead of trusting it.
			current, err := uc.get(ctx, c.ID)
			if err != nil {
				return err
			}
			if current.QRCode != token {
				return errors.Errorf("unexpected qr code state for %s", c.ID)
			}
		}
		c.QRCode = token
		return nil
	}
	return lastErr
}

func (uc *customerUseCase) CreateCard(ctx context.Context, restaurantID uuid.UUID, profile model.Profile) (*Enrollment, error) {
	if profile.UserID == nil {
		return nil, errors.Wrap(apperror.ErrUnauthorized, "card requires a signed in user")
	}

	existing, err := uc.GetCustomerByUser(ctx, restaurantID, *profile.UserID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return uc.existingCard(ctx, existing)
	}

	enrollment, err := uc.EnrollCustomer(ctx, restaurantID, profile)
	if !errors.Is(err, apperror.ErrConflict) {
		return enrollment, err
	}

	// Lost a race with a concurrent CreateCard for the same user.
	existing, err = uc.GetCustomerByUser(ctx, restaurantID, *profile.UserID)
	if err != nil {
		return nil, err
	}
	return uc.existingCard(ctx, existing)
}

// existingCard returns a card only once it is complete, finishing an
// enrollment that stopped half way.
func (uc *customerUseCase) existingCard(ctx context.Context, c *model.Customer) (*Enrollment, error) {
	balance, err := uc.completeEnrollment(ctx, c)
	if err != nil {
		uc.logger.Error("Could not complete existing card",
			zap.String("customer_id", c.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return &Enrollment{Customer: c, Balance: balance}, nil
}

// completeEnrollment finalizes a placeholder token and ensures the welcome
// entry exists. Both steps are no-ops on a complete card.
func (uc *customerUseCase) completeEnrollment(ctx context.Context, c *model.Customer) (int64, error) {
	if qrtoken.IsPlaceholder(c.QRCode) {
		if err := uc.finalizeQR(ctx, c); err != nil {
			return 0, apperror.Persistence(err, "finalize qr code")
		}
	}
	award, err := uc.ledger.AwardPoints(ctx, c.ID, uc.opts.WelcomeBonus, model.ReasonWelcome, welcomeRequestID(c.ID))
	if err != nil {
		return 0, err
	}
	return award.Balance, nil
}

func (uc *customerUseCase) get(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	var c *model.Customer
	err := uc.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		c, err = uc.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		uc.logger.Error("Failed to get customer", zap.Error(err))
		return nil, apperror.Persistence(err, "get customer")
	}
	if c == nil {
		return nil, errors.Wrapf(apperror.ErrNotFound, "customer %s", id)
	}
	return c, nil
}

func (uc *customerUseCase) GetCustomer(ctx context.Context, restaurantID, id uuid.UUID) (*model.Customer, error) {
	c, err := uc.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.BelongsTo(restaurantID) {
		return nil, errors.Wrapf(apperror.ErrNotFound, "customer %s", id)
	}
	return c, nil
}

func (uc *customerUseCase) GetCustomerByUser(ctx context.Context, restaurantID, userID uuid.UUID) (*model.Customer, error) {
	var c *model.Customer
	err := uc.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		c, err = uc.repo.GetByUser(ctx, restaurantID, userID)
		return err
	})
	if err != nil {
		uc.logger.Error("Failed to get customer by user", zap.Error(err))
		return nil, apperror.Persistence(err, "get customer by user")
	}
	if c == nil {
		return nil, errors.Wrap(apperror.ErrNotFound, "no card for user")
	}
	return c, nil
}

func (uc *customerUseCase) LookupByQR(ctx context.Context, restaurantID uuid.UUID, token string) (*model.Customer, error) {
	token = strings.TrimSpace(token)
	if _, _, err := qrtoken.Parse(token); err != nil {
		return nil, err
	}

	var c *model.Customer
	err := uc.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		c, err = uc.repo.GetByQRCode(ctx, token)
		return err
	})
	if err != nil {
		uc.logger.Error("Failed to look up qr code", zap.Error(err))
		return nil, apperror.Persistence(err, "get customer by qr code")
	}
	if c == nil || !c.BelongsTo(restaurantID) {
		return nil, errors.Wrap(apperror.ErrNotFound, "no customer for qr code")
	}
	return c, nil
}

func (uc *customerUseCase) ListCustomers(ctx context.Context, restaurantID uuid.UUID, params repository.ListParams) ([]*model.CustomerSummary, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 10
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}
	switch params.Sort {
	case "":
		params.Sort = repository.SortPoints
	case repository.SortPoints, repository.SortCreatedAt, repository.SortFullName:
	default:
		return nil, 0, errors.Wrapf(apperror.ErrInvalidInput, "unknown sort %q", params.Sort)
	}
	params.Search = strings.TrimSpace(params.Search)

	var (
		customers []*model.CustomerSummary
		total     int
	)
	err := uc.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		customers, total, err = uc.repo.List(ctx, restaurantID, params)
		return err
	})
	if err != nil {
		uc.logger.Error("Failed to list customers", zap.Error(err))
		return nil, 0, apperror.Persistence(err, "list customers")
	}
	return customers, total, nil
}

func (uc *customerUseCase) FinalizePending(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := uc.opts.Now().UTC().Add(-grace)

	var pending []*model.Customer
	err := uc.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		pending, err = uc.repo.ListIncomplete(ctx, cutoff, 100)
		return err
	})
	if err != nil {
		return 0, apperror.Persistence(err, "list incomplete customers")
	}

	repaired := 0
	for _, c := range pending {
		if _, err := uc.completeEnrollment(ctx, c); err != nil {
			uc.logger.Warn("Repair could not complete enrollment", zap.String("customer_id", c.ID.String()), zap.Error(err))
			continue
		}
		repaired++
	}
	return repaired, nil
}

func (uc *customerUseCase) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, uc.opts.Timeout)
	defer cancel()
	return fn(ctx)
}

func normalizeProfile(p model.Profile) (model.Profile, error) {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Phone = strings.TrimSpace(p.Phone)

	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return p, errors.Wrap(apperror.ErrInvalidInput, "invalid email")
		}
	}
	if len(p.FullName) > 200 || len(p.Phone) > 32 {
		return p, errors.Wrap(apperror.ErrInvalidInput, "profile field too long")
	}
	return p, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
