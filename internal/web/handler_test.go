package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fekuna/omnipos-loyalty-service/internal/auth"
	customer "github.com/fekuna/omnipos-loyalty-service/internal/customer/usecase"
	ledger "github.com/fekuna/omnipos-loyalty-service/internal/ledger/usecase"
	"github.com/fekuna/omnipos-loyalty-service/internal/memstore"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/internal/tenant"
	"github.com/fekuna/omnipos-loyalty-service/internal/web"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

const (
	morsiHost = "morsiburger.loyalty.test"
	pizzaHost = "pizzanord.loyalty.test"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type fixture struct {
	store  *memstore.Store
	db     *pinger
	router http.Handler
}

func setup(t *testing.T, ratePerMinute int) *fixture {
	t.Helper()
	log := logger.NewNop()
	store := memstore.New()
	store.AddRestaurant("Morsi Burger", "morsiburger")
	store.AddRestaurant("Pizza Nord", "pizzanord")

	ledgerUC := ledger.NewLedgerUseCase(store.Ledger(), nil, log, ledger.Options{})
	customerUC := customer.NewCustomerUseCase(store.Customers(), store.Restaurants(), ledgerUC, log, customer.Options{
		RetryBackoff: time.Millisecond,
	})
	provider := auth.NewProvider(store.Auth(), auth.Config{
		SecretKey:  "test-secret",
		Issuer:     "loyalty-test",
		BcryptCost: bcrypt.MinCost,
	}, log)
	tenants := tenant.NewService(tenant.Rules{
		DevSlug:   "morsiburger",
		MinLabels: 3,
		Reserved:  []string{"www", "api", "app", "admin", "dashboard"},
	}, store.Restaurants(), log)

	db := &pinger{}
	h := web.NewHandler(tenants, provider, customerUC, ledgerUC, db, log, web.Options{AuthRatePerMinute: ratePerMinute})
	return &fixture{store: store, db: db, router: h.Router()}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	Data    json.RawMessage `json:"data"`
}

type card struct {
	Customer model.Customer      `json:"customer"`
	Balance  int64               `json:"balance"`
	History  []model.LedgerEntry `json:"history"`
}

type session struct {
	Token string `json:"token"`
	Card  *card  `json:"card"`
}

func (f *fixture) do(t *testing.T, method, host, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Host = host
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) (envelope, T) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var data T
	if len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, &data))
	}
	return env, data
}

func (f *fixture) signUp(t *testing.T, host, email string) session {
	t.Helper()
	rec := f.do(t, http.MethodPost, host, "/auth/signup", "", map[string]string{
		"email": email, "password": "correct-horse", "full_name": "Ana Souza",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	_, s := decode[session](t, rec)
	return s
}

func TestSignUpEnrollsWithWelcomeBonus(t *testing.T) {
	f := setup(t, 100)

	s := f.signUp(t, morsiHost, "ana@example.com")
	require.NotNil(t, s.Card)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, int64(5), s.Card.Balance)
	assert.Equal(t, "cust:"+s.Card.Customer.ID.String(), s.Card.Customer.QRCode)

	rec := f.do(t, http.MethodGet, morsiHost, "/card", s.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, c := decode[card](t, rec)
	assert.Equal(t, int64(5), c.Balance)
	require.Len(t, c.History, 1)
	assert.Equal(t, model.ReasonWelcome, c.History[0].Reason)
}

func TestSignUpValidation(t *testing.T) {
	f := setup(t, 100)
	f.signUp(t, morsiHost, "ana@example.com")

	rec := f.do(t, http.MethodPost, morsiHost, "/auth/signup", "", map[string]string{
		"email": "ana@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, morsiHost, "/auth/signup", "", map[string]string{
		"email": "bob@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env, _ := decode[struct{}](t, rec)
	assert.Equal(t, "INVALID_INPUT", env.Reason)

	rec = f.do(t, http.MethodPost, morsiHost, "/auth/signup", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantResolution(t *testing.T) {
	f := setup(t, 100)

	for _, host := range []string{"unknown.loyalty.test", "www.loyalty.test", "loyalty.test"} {
		rec := f.do(t, http.MethodPost, host, "/auth/signin", "", map[string]string{"email": "a@b.c", "password": "x"})
		assert.Equal(t, http.StatusNotFound, rec.Code, host)
	}

	s := f.signUp(t, "localhost:8087", "dev@example.com")
	rec := f.do(t, http.MethodGet, morsiHost, "/card", s.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCardRequiresSession(t *testing.T) {
	f := setup(t, 100)

	rec := f.do(t, http.MethodGet, morsiHost, "/card", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, morsiHost, "/card", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignInAndSignOut(t *testing.T) {
	f := setup(t, 100)
	f.signUp(t, morsiHost, "ana@example.com")

	rec := f.do(t, http.MethodPost, morsiHost, "/auth/signin", "", map[string]string{
		"email": "ana@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, morsiHost, "/auth/signin", "", map[string]string{
		"email": "ANA@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	_, s := decode[session](t, rec)
	assert.NotEmpty(t, rec.Header().Get("Set-Cookie"))

	rec = f.do(t, http.MethodPost, morsiHost, "/auth/signout", s.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, morsiHost, "/card", s.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionCookie(t *testing.T) {
	f := setup(t, 100)
	s := f.signUp(t, morsiHost, "ana@example.com")

	req := httptest.NewRequest(http.MethodGet, "/card", nil)
	req.Host = morsiHost
	req.AddCookie(&http.Cookie{Name: web.SessionCookie, Value: s.Token})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A stale cookie does not block signing in again.
	req = httptest.NewRequest(http.MethodPost, "/auth/signin",
		bytes.NewBufferString(`{"email":"ana@example.com","password":"correct-horse"}`))
	req.Host = morsiHost
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: web.SessionCookie, Value: "expired"})
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateCardPerRestaurant(t *testing.T) {
	f := setup(t, 100)
	s := f.signUp(t, morsiHost, "ana@example.com")

	rec := f.do(t, http.MethodPost, morsiHost, "/card", s.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, existing := decode[card](t, rec)
	assert.Equal(t, s.Card.Customer.ID, existing.Customer.ID)

	rec = f.do(t, http.MethodGet, pizzaHost, "/card", s.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, pizzaHost, "/card", s.Token, map[string]string{"full_name": "Ana S."})
	require.Equal(t, http.StatusCreated, rec.Code)
	_, created := decode[card](t, rec)
	assert.NotEqual(t, s.Card.Customer.ID, created.Customer.ID)
	assert.Equal(t, int64(5), created.Balance)
}

func TestCardQR(t *testing.T) {
	f := setup(t, 100)
	s := f.signUp(t, morsiHost, "ana@example.com")

	rec := f.do(t, http.MethodGet, morsiHost, "/card/qr.png", s.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestCardQRNotReady(t *testing.T) {
	f := setup(t, 100)
	s := f.signUp(t, morsiHost, "ana@example.com")

	stuck := s.Card.Customer
	stuck.QRCode = "pending:1700000000000-abcdefgh"
	f.store.PutCustomer(stuck)

	rec := f.do(t, http.MethodGet, morsiHost, "/card/qr.png", s.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	env, _ := decode[struct{}](t, rec)
	assert.Equal(t, "QR_NOT_READY", env.Reason)
}

func TestAuthRateLimit(t *testing.T) {
	f := setup(t, 2)
	creds := map[string]string{"email": "nobody@example.com", "password": "whatever-it-is"}

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, morsiHost, "/auth/signin", "", creds)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(t, http.MethodPost, morsiHost, "/auth/signin", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealth(t *testing.T) {
	f := setup(t, 100)

	rec := f.do(t, http.MethodGet, "anything", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.db.err = errors.New("connection refused")
	rec = f.do(t, http.MethodGet, "anything", "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPersistenceFailureIsUnavailable(t *testing.T) {
	f := setup(t, 100)
	s := f.signUp(t, morsiHost, "ana@example.com")

	f.store.FailNext("Balance", 1, errors.New("connection reset"))
	rec := f.do(t, http.MethodGet, morsiHost, "/card", s.Token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env, _ := decode[struct{}](t, rec)
	assert.Equal(t, "PERSISTENCE_ERROR", env.Reason)
	assert.NotContains(t, env.Message, "connection reset")
}

func TestCreateCardAfterFailedSignUp(t *testing.T) {
	f := setup(t, 100)

	f.store.FailNext("FinalizeQRCode", 3, errors.New("db blip"))
	rec := f.do(t, http.MethodPost, morsiHost, "/auth/signup", "", map[string]string{
		"email": "ana@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodPost, morsiHost, "/auth/signin", "", map[string]string{
		"email": "ana@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	_, s := decode[session](t, rec)

	rec = f.do(t, http.MethodPost, morsiHost, "/card", s.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, c := decode[card](t, rec)
	assert.Equal(t, "cust:"+c.Customer.ID.String(), c.Customer.QRCode)
	assert.Equal(t, int64(5), c.Balance)

	rec = f.do(t, http.MethodGet, morsiHost, "/card/qr.png", s.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
