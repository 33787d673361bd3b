package usecase_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/ledger/usecase"
	"github.com/fekuna/omnipos-loyalty-service/internal/memstore"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	awards []*usecase.Award
	err    error
}

func (p *recordingPublisher) PointsAwarded(_ context.Context, a *usecase.Award) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.awards = append(p.awards, a)
	return p.err
}

type fixture struct {
	store     *memstore.Store
	clock     *fixedClock
	publisher *recordingPublisher
	uc        usecase.UseCase
	customer  uuid.UUID
	rest      uuid.UUID
}

func setup(t *testing.T, pageSize int) *fixture {
	t.Helper()
	store := memstore.New()
	rest := store.AddRestaurant("Morsi Burger", "morsiburger")
	customerID := uuid.New()
	store.PutCustomer(model.Customer{ID: customerID, RestaurantID: &rest.ID, QRCode: "cust:" + customerID.String()})

	clock := &fixedClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	uc := usecase.NewLedgerUseCase(store.Ledger(), pub, logger.NewNop(), usecase.Options{
		Timeout:  time.Second,
		PageSize: pageSize,
		Now:      clock.Now,
	})
	return &fixture{store: store, clock: clock, publisher: pub, uc: uc, customer: customerID, rest: rest.ID}
}

func TestAwardPointsScenario(t *testing.T) {
	f := setup(t, 100)
	ctx := context.Background()

	_, err := f.uc.AwardPoints(ctx, f.customer, 5, model.ReasonWelcome, "")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.uc.AwardPoints(ctx, f.customer, 10, model.ReasonStaffAward, "")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	award, err := f.uc.AwardPoints(ctx, f.customer, -3, model.ReasonDashboardAdjustment, "")
	require.NoError(t, err)
	assert.Equal(t, int64(12), award.Balance)
	assert.Equal(t, f.rest, *award.Entry.RestaurantID)

	balance, err := f.uc.GetBalance(ctx, f.customer)
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)

	history, err := f.uc.ListHistory(ctx, f.customer, model.NewestFirst)
	require.NoError(t, err)
	require.Len(t, history, 3)

	var deltas []int64
	var sum int64
	for _, e := range history {
		deltas = append(deltas, e.PointsDelta)
		sum += e.PointsDelta
	}
	assert.Equal(t, []int64{-3, 10, 5}, deltas)
	assert.Equal(t, balance, sum)
	assert.Len(t, f.publisher.awards, 3)
}

func TestAwardPointsRejectsZero(t *testing.T) {
	f := setup(t, 100)

	_, err := f.uc.AwardPoints(context.Background(), f.customer, 0, "x", "")
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)
	assert.Empty(t, f.store.Entries(f.customer))
}

func TestAwardPointsRejectsOutOfRange(t *testing.T) {
	f := setup(t, 100)

	_, err := f.uc.AwardPoints(context.Background(), f.customer, 1<<40, "x", "")
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)
}

func TestAwardPointsRejectsBlankReason(t *testing.T) {
	f := setup(t, 100)

	_, err := f.uc.AwardPoints(context.Background(), f.customer, 5, "   ", "")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestAwardPointsUnknownCustomer(t *testing.T) {
	f := setup(t, 100)

	_, err := f.uc.AwardPoints(context.Background(), uuid.New(), 5, "x", "")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestAwardPointsRequiresRestaurant(t *testing.T) {
	f := setup(t, 100)
	orphan := uuid.New()
	f.store.PutCustomer(model.Customer{ID: orphan, QRCode: "cust:" + orphan.String()})

	_, err := f.uc.AwardPoints(context.Background(), orphan, 5, "x", "")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Empty(t, f.store.Entries(orphan))
}

func TestAwardPointsPersistenceFailureLeavesBalance(t *testing.T) {
	f := setup(t, 100)
	ctx := context.Background()

	_, err := f.uc.AwardPoints(ctx, f.customer, 7, model.ReasonStaffAward, "")
	require.NoError(t, err)

	f.store.FailNext("Append", 1, errors.New("connection reset"))
	_, err = f.uc.AwardPoints(ctx, f.customer, 100, model.ReasonStaffAward, "")
	assert.ErrorIs(t, err, apperror.ErrPersistence)

	balance, err := f.uc.GetBalance(ctx, f.customer)
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)
	assert.Len(t, f.publisher.awards, 1)
}

func TestAwardPointsPublishFailureKeepsEntry(t *testing.T) {
	f := setup(t, 100)
	f.publisher.err = errors.New("broker down")

	award, err := f.uc.AwardPoints(context.Background(), f.customer, 4, model.ReasonStaffAward, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), award.Balance)
	assert.Len(t, f.store.Entries(f.customer), 1)
}

func TestAwardPointsIdempotentRequestID(t *testing.T) {
	f := setup(t, 100)
	ctx := context.Background()

	first, err := f.uc.AwardPoints(ctx, f.customer, 10, model.ReasonOrder, "order:42")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := f.uc.AwardPoints(ctx, f.customer, 10, model.ReasonOrder, "order:42")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Entry.ID, again.Entry.ID)
	assert.Equal(t, int64(10), again.Balance)
	assert.Len(t, f.store.Entries(f.customer), 1)
	assert.Len(t, f.publisher.awards, 1)
}

func TestConcurrentAwardsSumCommittedDeltas(t *testing.T) {
	f := setup(t, 100)
	ctx := context.Background()

	deltas := make([]int64, 200)
	var want int64
	for i := range deltas {
		deltas[i] = int64(rand.Intn(41) - 20)
		if deltas[i] == 0 {
			deltas[i] = 1
		}
		want += deltas[i]
	}

	var wg sync.WaitGroup
	for _, d := range deltas {
		wg.Add(1)
		go func(d int64) {
			defer wg.Done()
			_, err := f.uc.AwardPoints(ctx, f.customer, d, model.ReasonStaffAward, "")
			assert.NoError(t, err)
		}(d)
	}
	wg.Wait()

	balance, err := f.uc.GetBalance(ctx, f.customer)
	require.NoError(t, err)
	assert.Equal(t, want, balance)
	assert.Len(t, f.store.Entries(f.customer), len(deltas))
}

func TestGetBalanceDefaultsToZero(t *testing.T) {
	f := setup(t, 100)

	balance, err := f.uc.GetBalance(context.Background(), f.customer)
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = f.uc.GetBalance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestGetHistoryPagesAndRestarts(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()

	// Equal timestamps fall back to insertion order.
	for i := int64(1); i <= 5; i++ {
		_, err := f.uc.AwardPoints(ctx, f.customer, i, model.ReasonStaffAward, "")
		require.NoError(t, err)
	}

	seq := f.uc.GetHistory(ctx, f.customer, model.NewestFirst)
	collect := func() []int64 {
		var out []int64
		for e, err := range seq {
			require.NoError(t, err)
			out = append(out, e.PointsDelta)
		}
		return out
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, collect())
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, collect())

	oldest, err := f.uc.ListHistory(ctx, f.customer, model.OldestFirst)
	require.NoError(t, err)
	require.Len(t, oldest, 5)
	assert.Equal(t, int64(1), oldest[0].PointsDelta)
}

func TestGetHistoryStopsEarly(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		_, err := f.uc.AwardPoints(ctx, f.customer, i, model.ReasonStaffAward, "")
		require.NoError(t, err)
	}

	n := 0
	for range f.uc.GetHistory(ctx, f.customer, model.NewestFirst) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestGetHistoryErrors(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()

	_, err := f.uc.ListHistory(ctx, uuid.New(), model.NewestFirst)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	f.store.FailNext("Page", 1, errors.New("timeout"))
	_, err = f.uc.ListHistory(ctx, f.customer, model.NewestFirst)
	assert.ErrorIs(t, err, apperror.ErrPersistence)
}
