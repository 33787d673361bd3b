package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customer "github.com/fekuna/omnipos-loyalty-service/internal/customer/usecase"
	ledger "github.com/fekuna/omnipos-loyalty-service/internal/ledger/usecase"
	"github.com/fekuna/omnipos-loyalty-service/internal/memstore"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/internal/qrtoken"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

type countingFinalizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *countingFinalizer) FinalizePending(context.Context, time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0, f.err
}

func (f *countingFinalizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	f := &countingFinalizer{err: errors.New("db down")}
	s := NewSweeper(f, 5*time.Millisecond, time.Second, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return f.count() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepRepairsStuckEnrollment(t *testing.T) {
	store := memstore.New()
	rest := store.AddRestaurant("Morsi Burger", "morsiburger")
	log := logger.NewNop()

	ledgerUC := ledger.NewLedgerUseCase(store.Ledger(), nil, log, ledger.Options{})
	customerUC := customer.NewCustomerUseCase(store.Customers(), store.Restaurants(), ledgerUC, log, customer.Options{
		RetryBackoff: time.Millisecond,
	})

	id := uuid.New()
	created := time.Now().UTC().Add(-time.Hour)
	store.PutCustomer(model.Customer{
		ID:           id,
		RestaurantID: &rest.ID,
		QRCode:       qrtoken.NewPlaceholder(created),
		CreatedAt:    created,
	})

	s := NewSweeper(customerUC, time.Minute, 30*time.Second, log)
	s.sweep(context.Background())
	s.sweep(context.Background())

	c, err := customerUC.GetCustomer(context.Background(), rest.ID, id)
	require.NoError(t, err)
	assert.Equal(t, qrtoken.Finalize(id), c.QRCode)

	entries := store.Entries(id)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ReasonWelcome, entries[0].Reason)
	assert.Equal(t, int64(5), entries[0].PointsDelta)
}
