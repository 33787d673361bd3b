package listener

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	ledger "github.com/fekuna/omnipos-loyalty-service/internal/ledger/usecase"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

// PointsPerCurrencyUnit converts an order total into points: one point per
// ten currency units, rounded down.
const PointsPerCurrencyUnit = 10.0

// MessageReader fetches without committing, so an offset only moves once the
// order it carries has been handled.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type OrderListener struct {
	consumer MessageReader
	ledger   ledger.UseCase
	logger   logger.ZapLogger
	backoff  time.Duration
}

func NewOrderListener(consumer MessageReader, ledgerUC ledger.UseCase, logger logger.ZapLogger) *OrderListener {
	return &OrderListener{
		consumer: consumer,
		ledger:   ledgerUC,
		logger:   logger,
		backoff:  time.Second,
	}
}

// Start consumes order events until ctx is done.
func (l *OrderListener) Start(ctx context.Context) {
	l.logger.Info("Starting order Kafka listener")
	for {
		msg, err := l.consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("Stopping order Kafka listener")
				return
			}
			l.logger.Error("Failed to read kafka message", zap.Error(err))
			if !l.wait(ctx) {
				return
			}
			continue
		}
		if !l.handle(ctx, msg) {
			l.logger.Info("Stopping order Kafka listener")
			return
		}
		if err := l.consumer.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			l.logger.Error("Failed to commit kafka offset",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// handle processes msg until it succeeds or fails for good. Store failures are
// retried; anything else is logged and skipped. It reports false when ctx ends
// before the message is settled.
func (l *OrderListener) handle(ctx context.Context, msg kafka.Message) bool {
	for {
		err := l.processMessage(ctx, msg.Value)
		if err == nil {
			return true
		}
		if !errors.Is(err, apperror.ErrPersistence) {
			l.logger.Error("Skipping order event",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return true
		}
		l.logger.Warn("Order event failed, retrying",
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		if !l.wait(ctx) {
			return false
		}
	}
}

func (l *OrderListener) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(l.backoff):
		return true
	}
}

type OrderCreatedEvent struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Payload   OrderPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

type OrderPayload struct {
	ID          string  `json:"id"`
	CustomerID  *string `json:"customer_id"`
	TotalAmount float64 `json:"total_amount"`
}

func (l *OrderListener) processMessage(ctx context.Context, value []byte) error {
	var event OrderCreatedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return errors.Wrap(err, "unmarshal event")
	}

	if event.EventType != "OrderCreated" {
		return nil
	}
	if event.Payload.CustomerID == nil || *event.Payload.CustomerID == "" {
		// Guest order, no loyalty points
		return nil
	}

	customerID, err := uuid.Parse(*event.Payload.CustomerID)
	if err != nil {
		return errors.Wrap(apperror.ErrInvalidInput, "customer id")
	}
	if math.IsNaN(event.Payload.TotalAmount) || math.IsInf(event.Payload.TotalAmount, 0) {
		return errors.Wrap(apperror.ErrInvalidAmount, "order total")
	}

	units := math.Floor(event.Payload.TotalAmount / PointsPerCurrencyUnit)
	if units <= 0 {
		return nil
	}
	if units > math.MaxInt32 {
		return errors.Wrapf(apperror.ErrInvalidAmount, "order total %g", event.Payload.TotalAmount)
	}
	points := int64(units)

	award, err := l.ledger.AwardPoints(ctx, customerID, points, model.ReasonOrder, "order:"+event.Payload.ID)
	if err != nil {
		return errors.Wrapf(err, "award %d points to %s", points, customerID)
	}

	l.logger.Info("Loyalty points added for order",
		zap.String("order_id", event.Payload.ID),
		zap.String("customer_id", customerID.String()),
		zap.Int64("points", points),
		zap.Bool("replayed", award.Replayed),
	)
	return nil
}
