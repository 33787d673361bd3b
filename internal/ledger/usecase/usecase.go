package usecase

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/ledger/repository"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

const maxReasonLen = 64

type Award struct {
	Entry   model.LedgerEntry
	Balance int64
	// Replayed is set when RequestID matched an earlier award and nothing new
	// was written.
	Replayed bool
}

// UseCase is the only path that changes or reads a balance.
type UseCase interface {
	AwardPoints(ctx context.Context, customerID uuid.UUID, delta int64, reason string, requestID string) (*Award, error)
	GetBalance(ctx context.Context, customerID uuid.UUID) (int64, error)
	GetHistory(ctx context.Context, customerID uuid.UUID, order model.Order) iter.Seq2[model.LedgerEntry, error]
	ListHistory(ctx context.Context, customerID uuid.UUID, order model.Order) ([]model.LedgerEntry, error)
}

// EventPublisher receives committed awards. Failures never undo an award.
type EventPublisher interface {
	PointsAwarded(ctx context.Context, award *Award) error
}

type Options struct {
	Timeout  time.Duration
	PageSize int
	Now      func() time.Time
}

type ledgerUseCase struct {
	repo      repository.Repository
	publisher EventPublisher
	logger    logger.ZapLogger
	timeout   time.Duration
	pageSize  int
	now       func() time.Time
}

func NewLedgerUseCase(repo repository.Repository, publisher EventPublisher, logger logger.ZapLogger, opts Options) UseCase {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ledgerUseCase{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		timeout:   opts.Timeout,
		pageSize:  opts.PageSize,
		now:       opts.Now,
	}
}

func (uc *ledgerUseCase) AwardPoints(ctx context.Context, customerID uuid.UUID, delta int64, reason string, requestID string) (*Award, error) {
	if delta == 0 {
		return nil, errors.Wrap(apperror.ErrInvalidAmount, "points delta must be non-zero")
	}
	if delta > int64(maxInt32) || delta < int64(minInt32) {
		return nil, errors.Wrapf(apperror.ErrInvalidAmount, "points delta %d out of range", delta)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" || len(reason) > maxReasonLen {
		return nil, errors.Wrap(apperror.ErrInvalidInput, "reason must be 1-64 characters")
	}

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	restaurantID, found, err := uc.repo.CustomerRestaurant(ctx, customerID)
	if err != nil {
		uc.logger.Error("Failed to look up customer", zap.String("customer_id", customerID.String()), zap.Error(err))
		return nil, apperror.Persistence(err, "look up customer")
	}
	if !found {
		return nil, errors.Wrapf(apperror.ErrNotFound, "customer %s", customerID)
	}
	// Every entry belongs to exactly one restaurant.
	if restaurantID == nil {
		return nil, errors.Wrapf(apperror.ErrNotFound, "customer %s has no restaurant", customerID)
	}

	entry := model.LedgerEntry{
		ID:           uuid.New(),
		CustomerID:   customerID,
		RestaurantID: restaurantID,
		PointsDelta:  delta,
		Reason:       reason,
		CreatedAt:    uc.now().UTC(),
	}
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		entry.RequestID = &requestID
	}

	balance, replayed, err := uc.repo.Append(ctx, &entry)
	if err != nil {
		uc.logger.Error("Failed to append ledger entry",
			zap.String("customer_id", customerID.String()),
			zap.Int64("points_delta", delta),
			zap.Error(err),
		)
		return nil, apperror.Persistence(err, "append ledger entry")
	}

	award := &Award{Entry: entry, Balance: balance, Replayed: replayed}
	if replayed {
		uc.logger.Info("Ledger award replayed",
			zap.String("customer_id", customerID.String()),
			zap.String("request_id", requestID),
		)
		return award, nil
	}

	uc.logger.Info("Ledger entry appended",
		zap.String("customer_id", customerID.String()),
		zap.Int64("points_delta", delta),
		zap.String("reason", reason),
		zap.Int64("balance", balance),
	)

	if uc.publisher != nil {
		if err := uc.publisher.PointsAwarded(context.WithoutCancel(ctx), award); err != nil {
			uc.logger.Warn("Failed to publish points awarded event", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
	}
	return award, nil
}

func (uc *ledgerUseCase) GetBalance(ctx context.Context, customerID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	if err := uc.ensureCustomer(ctx, customerID); err != nil {
		return 0, err
	}

	balance, err := uc.repo.Balance(ctx, customerID)
	if err != nil {
		uc.logger.Error("Failed to sum ledger", zap.String("customer_id", customerID.String()), zap.Error(err))
		return 0, apperror.Persistence(err, "sum ledger")
	}
	return balance, nil
}

// GetHistory yields the customer's entries page by page. Each range over the
// returned sequence starts again from the first entry. An error is yielded
// once and ends the sequence.
func (uc *ledgerUseCase) GetHistory(ctx context.Context, customerID uuid.UUID, order model.Order) iter.Seq2[model.LedgerEntry, error] {
	return func(yield func(model.LedgerEntry, error) bool) {
		if err := uc.withTimeout(ctx, func(ctx context.Context) error {
			return uc.ensureCustomer(ctx, customerID)
		}); err != nil {
			yield(model.LedgerEntry{}, err)
			return
		}

		var cursor *repository.Cursor
		for {
			var page []model.LedgerEntry
			err := uc.withTimeout(ctx, func(ctx context.Context) error {
				var err error
				page, err = uc.repo.Page(ctx, customerID, order, cursor, uc.pageSize)
				return err
			})
			if err != nil {
				uc.logger.Error("Failed to page ledger", zap.String("customer_id", customerID.String()), zap.Error(err))
				yield(model.LedgerEntry{}, apperror.Persistence(err, "page ledger"))
				return
			}

			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < uc.pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &repository.Cursor{CreatedAt: last.CreatedAt, Seq: last.Seq}
		}
	}
}

func (uc *ledgerUseCase) ListHistory(ctx context.Context, customerID uuid.UUID, order model.Order) ([]model.LedgerEntry, error) {
	entries := []model.LedgerEntry{}
	for e, err := range uc.GetHistory(ctx, customerID, order) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (uc *ledgerUseCase) ensureCustomer(ctx context.Context, customerID uuid.UUID) error {
	_, found, err := uc.repo.CustomerRestaurant(ctx, customerID)
	if err != nil {
		return apperror.Persistence(err, "look up customer")
	}
	if !found {
		return errors.Wrapf(apperror.ErrNotFound, "customer %s", customerID)
	}
	return nil
}

func (uc *ledgerUseCase) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()
	return fn(ctx)
}

const (
	maxInt32 = 1<<31 - 1
	minInt32 = -1 << 31
)
