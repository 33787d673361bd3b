package web

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/auth"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

const (
	SessionCookie = "loyalty_session"
	restaurantKey = "restaurant"
)

func RequestLogger(log logger.ZapLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("HTTP request", fields...)
			return
		}
		log.Info("HTTP request", fields...)
	}
}

// Tenant resolves the restaurant from the Host header and aborts when none
// matches.
func Tenant(resolver TenantResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		rest, err := resolver.ResolveTenant(c.Request.Context(), c.Request.Host)
		if err != nil {
			RespondError(c, err)
			return
		}
		c.Set(restaurantKey, rest)
		c.Next()
	}
}

func restaurantFrom(c *gin.Context) *model.Restaurant {
	return c.MustGet(restaurantKey).(*model.Restaurant)
}

// Session attaches the caller's session to the request context when a bearer
// token or session cookie is present. An invalid bearer token is rejected; a
// stale cookie is dropped so the caller can sign in again.
func Session(sessions SessionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, fromCookie := credentials(c)
		if token == "" {
			c.Next()
			return
		}

		session, err := sessions.CurrentSession(c.Request.Context(), token)
		if err != nil {
			if fromCookie && errors.Is(err, apperror.ErrUnauthorized) {
				c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
				c.Next()
				return
			}
			RespondError(c, err)
			return
		}
		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), session))
		c.Next()
	}
}

func credentials(c *gin.Context) (token string, fromCookie bool) {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), false
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

// RequireSession aborts requests that carry no session.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.Require(c.Request.Context()); err != nil {
			RespondError(c, err)
			return
		}
		c.Next()
	}
}

// RateLimiter keeps one token bucket per client IP.
// TODO: evict idle clients, the map grows with every distinct IP.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*rate.Limiter
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &RateLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		clients: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.clients[ip]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients[ip] = l
	}
	return l
}

func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, JSONResponse{
				Status:  false,
				Message: "too many attempts, try again later",
				Reason:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return errors.Wrap(apperror.ErrInvalidInput, "malformed request body")
	}
	return nil
}
