package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

const minPasswordLen = 8

type Config struct {
	SecretKey  string
	Issuer     string
	TTL        time.Duration
	BcryptCost int
	Now        func() time.Time
}

type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Provider struct {
	repo   Repository
	cfg    Config
	logger logger.ZapLogger
}

func NewProvider(repo Repository, cfg Config, logger logger.ZapLogger) *Provider {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{repo: repo, cfg: cfg, logger: logger}
}

func (p *Provider) SignUp(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errors.Wrap(apperror.ErrInvalidInput, "invalid email")
	}
	if len(password) < minPasswordLen {
		return nil, errors.Wrapf(apperror.ErrInvalidInput, "password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.cfg.Now().UTC(),
	}
	if err := p.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, errors.Wrap(apperror.ErrConflict, "email already registered")
		}
		p.logger.Error("Failed to create user", zap.Error(err))
		return nil, apperror.Persistence(err, "create user")
	}
	return u, nil
}

// SignIn verifies credentials and opens a session. The returned token is a
// signed JWT whose ID is the session id, so SignOut can revoke it.
func (p *Provider) SignIn(ctx context.Context, email, password string) (string, *Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := p.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, apperror.Persistence(err, "get user")
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, errors.Wrap(apperror.ErrUnauthorized, "invalid credentials")
	}

	now := p.cfg.Now().UTC()
	row := &model.Session{
		ID:        uuid.New(),
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(p.cfg.TTL),
	}
	if err := p.repo.CreateSession(ctx, row); err != nil {
		p.logger.Error("Failed to create session", zap.Error(err))
		return "", nil, apperror.Persistence(err, "create session")
	}

	claims := &Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        row.ID.String(),
			Subject:   u.ID.String(),
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(row.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.cfg.SecretKey))
	if err != nil {
		return "", nil, err
	}

	session, err := p.session(ctx, row, u.Email)
	if err != nil {
		return "", nil, err
	}
	return token, session, nil
}

func (p *Provider) SignOut(ctx context.Context, s *Session) error {
	if s == nil {
		return errors.Wrap(apperror.ErrUnauthorized, "no session")
	}
	if err := p.repo.RevokeSession(ctx, s.ID, p.cfg.Now().UTC()); err != nil {
		return apperror.Persistence(err, "revoke session")
	}
	return nil
}

// CurrentSession validates token and returns the live session behind it.
func (p *Provider) CurrentSession(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, errors.Wrap(apperror.ErrUnauthorized, "missing token")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(p.cfg.SecretKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.cfg.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, errors.Wrap(apperror.ErrUnauthorized, "invalid or expired token")
	}

	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, errors.Wrap(apperror.ErrUnauthorized, "invalid token id")
	}

	row, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperror.Persistence(err, "get session")
	}
	if row == nil || row.RevokedAt != nil || !p.cfg.Now().Before(row.ExpiresAt) {
		return nil, errors.Wrap(apperror.ErrUnauthorized, "session ended")
	}
	return p.session(ctx, row, claims.Email)
}

func (p *Provider) session(ctx context.Context, row *model.Session, email string) (*Session, error) {
	s := &Session{
		ID:        row.ID,
		UserID:    row.UserID,
		Email:     email,
		Role:      RoleCustomer,
		ExpiresAt: row.ExpiresAt,
	}

	profile, err := p.repo.GetStaffProfile(ctx, row.UserID)
	if err != nil {
		return nil, apperror.Persistence(err, "get staff profile")
	}
	if profile != nil {
		rid := profile.RestaurantID
		s.RestaurantID = &rid
		s.Role = profile.Role
	}
	return s, nil
}
