package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// SessionClaims are embedded in every token this API signs.
type SessionClaims struct {
	Role  models.Role `json:"role"`
	Email string      `json:"email"`
	Type  string      `json:"typ"`
	jwt.RegisteredClaims
}

// AccountID parses the subject claim.
func (c SessionClaims) AccountID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.ErrInvalidToken
	}
	return uint(id), nil
}

// TokenServiceConfig holds signing keys and lifetimes.
type TokenServiceConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenService issues and verifies session tokens.
type TokenService interface {
	IssueAccess(account models.Account) (string, time.Time, error)
	IssueRefresh(account models.Account) (string, time.Time, error)
	Verify(ctx context.Context, token string) (*SessionClaims, error)
	VerifyRefresh(token string) (*SessionClaims, error)
	Revoke(ctx context.Context, token string)
}

type tokenService struct {
	cfg       TokenServiceConfig
	blacklist repository.TokenBlacklist
	logger    zerolog.Logger
	now       func() time.Time
}

// NewTokenService constructs a JWT-backed token service. A nil blacklist disables revocation.
func NewTokenService(cfg TokenServiceConfig, blacklist repository.TokenBlacklist, logger zerolog.Logger) TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &tokenService{
		cfg:       cfg,
		blacklist: blacklist,
		logger:    logger.With().Str("component", "token_service").Logger(),
		now:       time.Now,
	}
}

func (s *tokenService) IssueAccess(account models.Account) (string, time.Time, error) {
	return s.issue(account, tokenTypeAccess, s.cfg.AccessSecret, s.cfg.AccessTTL)
}

func (s *tokenService) IssueRefresh(account models.Account) (string, time.Time, error) {
	return s.issue(account, tokenTypeRefresh, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
}

func (s *tokenService) issue(account models.Account, tokenType, secret string, ttl time.Duration) (string, time.Time, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(ttl)

	claims := SessionClaims{
		Role:  account.Role,
		Email: account.Email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(account.ID), 10),
			Issuer:    s.cfg.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry, token type and the shared blacklist, in that order.
func (s *tokenService) Verify(ctx context.Context, token string) (*SessionClaims, error) {
	claims, err := s.parse(token, s.cfg.AccessSecret, tokenTypeAccess)
	if err != nil {
		s.reject(err)
		return nil, err
	}

	if s.blacklist != nil {
		listed, err := s.blacklist.Contains(ctx, token)
		if err != nil {
			s.logger.Warn().Err(err).Msg("blacklist lookup failed")
		}
		if listed {
			s.reject(apperror.ErrTokenBlacklisted)
			return nil, apperror.ErrTokenBlacklisted
		}
	}

	return claims, nil
}

func (s *tokenService) VerifyRefresh(token string) (*SessionClaims, error) {
	return s.parse(token, s.cfg.RefreshSecret, tokenTypeRefresh)
}

// Revoke blacklists the token until its own expiry. Failures are logged and swallowed.
func (s *tokenService) Revoke(ctx context.Context, token string) {
	if s.blacklist == nil || token == "" {
		return
	}

	claims, err := s.parse(token, s.cfg.AccessSecret, tokenTypeAccess)
	if err != nil || claims.ExpiresAt == nil {
		return
	}

	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if err := s.blacklist.Add(ctx, token, ttl); err != nil {
		s.logger.Warn().Err(err).Str("jti", claims.ID).Msg("failed to blacklist token")
	}
}

func (s *tokenService) parse(token, secret, expectedType string) (*SessionClaims, error) {
	if token == "" {
		return nil, apperror.ErrInvalidToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.ErrTokenExpired
		}
		return nil, apperror.ErrInvalidToken
	}
	if !parsed.Valid || claims.Type != expectedType {
		return nil, apperror.ErrInvalidToken
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *tokenService) reject(err error) {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		observability.TokenRejections().WithLabelValues(appErr.Code).Inc()
	}
}
