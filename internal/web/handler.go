// Package web is the customer-facing HTTP API. Every route except /healthz is
// scoped to the restaurant named by the request host.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fekuna/omnipos-loyalty-service/internal/auth"
	customer "github.com/fekuna/omnipos-loyalty-service/internal/customer/usecase"
	ledger "github.com/fekuna/omnipos-loyalty-service/internal/ledger/usecase"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/internal/qrtoken"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

type TenantResolver interface {
	ResolveTenant(ctx context.Context, hostname string) (*model.Restaurant, error)
}

type SessionSource interface {
	CurrentSession(ctx context.Context, token string) (*auth.Session, error)
}

// Accounts is the subset of the auth provider the HTTP API drives.
type Accounts interface {
	SessionSource
	SignUp(ctx context.Context, email, password string) (*model.User, error)
	SignIn(ctx context.Context, email, password string) (string, *auth.Session, error)
	SignOut(ctx context.Context, s *auth.Session) error
}

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Options struct {
	AuthRatePerMinute int
	QRSize            int
	SecureCookies     bool
}

type Handler struct {
	tenants   TenantResolver
	accounts  Accounts
	customers customer.UseCase
	ledger    ledger.UseCase
	db        Pinger
	logger    logger.ZapLogger
	opts      Options
}

func NewHandler(tenants TenantResolver, accounts Accounts, customers customer.UseCase, ledgerUC ledger.UseCase, db Pinger, logger logger.ZapLogger, opts Options) *Handler {
	if opts.QRSize <= 0 {
		opts.QRSize = 256
	}
	return &Handler{
		tenants:   tenants,
		accounts:  accounts,
		customers: customers,
		ledger:    ledgerUC,
		db:        db,
		logger:    logger,
		opts:      opts,
	}
}

func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.logger))

	r.GET("/healthz", h.Health)

	site := r.Group("/", Tenant(h.tenants), Session(h.accounts))

	limiter := NewRateLimiter(h.opts.AuthRatePerMinute)
	authGroup := site.Group("/auth")
	authGroup.POST("/signup", limiter.Limit(), h.SignUp)
	authGroup.POST("/signin", limiter.Limit(), h.SignIn)
	authGroup.POST("/signout", RequireSession(), h.SignOut)

	card := site.Group("/card", RequireSession())
	card.GET("", h.GetCard)
	card.POST("", h.CreateCard)
	card.GET("/qr.png", h.CardQR)

	return r
}

func (h *Handler) Health(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.Error(err))
			RespondJSON(c, http.StatusServiceUnavailable, "database unavailable", nil)
			return
		}
	}
	RespondJSON(c, http.StatusOK, "ok", nil)
}

type signUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type profileRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

type cardResponse struct {
	Customer *model.Customer     `json:"customer"`
	Balance  int64               `json:"balance"`
	History  []model.LedgerEntry `json:"history,omitempty"`
}

type sessionResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Card      *cardResponse `json:"card,omitempty"`
}

// SignUp creates the account, signs it in and enrolls it at the current
// restaurant in one step.
func (h *Handler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := bindJSON(c, &req); err != nil {
		RespondError(c, err)
		return
	}
	rest := restaurantFrom(c)
	ctx := c.Request.Context()

	user, err := h.accounts.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		RespondError(c, err)
		return
	}
	token, session, err := h.accounts.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		RespondError(c, err)
		return
	}

	enrollment, err := h.customers.CreateCard(ctx, rest.ID, model.Profile{
		FullName: req.FullName,
		Email:    user.Email,
		Phone:    req.Phone,
		UserID:   &user.ID,
	})
	if err != nil {
		h.logger.Error("Signup enrollment failed",
			zap.String("user_id", user.ID.String()),
			zap.String("restaurant", rest.Slug),
			zap.Error(err),
		)
		RespondError(c, err)
		return
	}

	h.setSessionCookie(c, token, session.ExpiresAt)
	RespondJSON(c, http.StatusCreated, "account created", sessionResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		Card:      &cardResponse{Customer: enrollment.Customer, Balance: enrollment.Balance},
	})
}

func (h *Handler) SignIn(c *gin.Context) {
	var req credentialsRequest
	if err := bindJSON(c, &req); err != nil {
		RespondError(c, err)
		return
	}

	token, session, err := h.accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondError(c, err)
		return
	}
	h.setSessionCookie(c, token, session.ExpiresAt)
	RespondJSON(c, http.StatusOK, "signed in", sessionResponse{Token: token, ExpiresAt: session.ExpiresAt})
}

func (h *Handler) SignOut(c *gin.Context) {
	session, err := auth.Require(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	if err := h.accounts.SignOut(c.Request.Context(), session); err != nil {
		RespondError(c, err)
		return
	}
	c.SetCookie(SessionCookie, "", -1, "/", "", h.opts.SecureCookies, true)
	RespondJSON(c, http.StatusOK, "signed out", nil)
}

func (h *Handler) GetCard(c *gin.Context) {
	session, _ := auth.FromContext(c.Request.Context())
	rest := restaurantFrom(c)
	ctx := c.Request.Context()

	cust, err := h.customers.GetCustomerByUser(ctx, rest.ID, session.UserID)
	if err != nil {
		RespondError(c, err)
		return
	}
	balance, err := h.ledger.GetBalance(ctx, cust.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	history, err := h.ledger.ListHistory(ctx, cust.ID, model.ParseOrder(c.Query("order")))
	if err != nil {
		RespondError(c, err)
		return
	}

	RespondJSON(c, http.StatusOK, "ok", cardResponse{Customer: cust, Balance: balance, History: history})
}

// CreateCard enrolls the signed in user at this restaurant, or returns the
// card they already hold.
func (h *Handler) CreateCard(c *gin.Context) {
	session, _ := auth.FromContext(c.Request.Context())
	rest := restaurantFrom(c)

	var req profileRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			RespondError(c, err)
			return
		}
	}

	enrollment, err := h.customers.CreateCard(c.Request.Context(), rest.ID, model.Profile{
		FullName: req.FullName,
		Email:    session.Email,
		Phone:    req.Phone,
		UserID:   &session.UserID,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	code, message := http.StatusOK, "card exists"
	if enrollment.Created {
		code, message = http.StatusCreated, "card created"
	}
	RespondJSON(c, code, message, cardResponse{Customer: enrollment.Customer, Balance: enrollment.Balance})
}

func (h *Handler) CardQR(c *gin.Context) {
	session, _ := auth.FromContext(c.Request.Context())
	rest := restaurantFrom(c)

	cust, err := h.customers.GetCustomerByUser(c.Request.Context(), rest.ID, session.UserID)
	if err != nil {
		RespondError(c, err)
		return
	}
	png, err := qrtoken.PNG(cust.QRCode, h.opts.QRSize)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) setSessionCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, maxAge, "/", "", h.opts.SecureCookies, true)
}
