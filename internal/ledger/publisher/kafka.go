package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fekuna/omnipos-loyalty-service/internal/ledger/usecase"
)

const EventPointsAwarded = "LoyaltyPointsAwarded"

type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type PointsAwardedEvent struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Payload   AwardedPayload `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

type AwardedPayload struct {
	EntryID      string  `json:"entry_id"`
	CustomerID   string  `json:"customer_id"`
	RestaurantID *string `json:"restaurant_id,omitempty"`
	PointsDelta  int64   `json:"points_delta"`
	Reason       string  `json:"reason"`
	Balance      int64   `json:"balance"`
}

// KafkaPublisher emits ledger events keyed by customer id, so every event for
// one customer keeps its order on a single partition.
type KafkaPublisher struct {
	producer Producer
	timeout  time.Duration
}

func NewKafkaPublisher(producer Producer, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{producer: producer, timeout: timeout}
}

func (p *KafkaPublisher) PointsAwarded(ctx context.Context, award *usecase.Award) error {
	e := award.Entry
	payload := AwardedPayload{
		EntryID:     e.ID.String(),
		CustomerID:  e.CustomerID.String(),
		PointsDelta: e.PointsDelta,
		Reason:      e.Reason,
		Balance:     award.Balance,
	}
	if e.RestaurantID != nil {
		rid := e.RestaurantID.String()
		payload.RestaurantID = &rid
	}

	body, err := json.Marshal(PointsAwardedEvent{
		EventID:   uuid.NewString(),
		EventType: EventPointsAwarded,
		Payload:   payload,
		Timestamp: e.CreatedAt,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.producer.Publish(ctx, payload.CustomerID, body)
}
