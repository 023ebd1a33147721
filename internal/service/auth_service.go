package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
	"github.com/noah-isme/gema-exam-api/pkg/identity"
)

// AuthService owns registration, password login, token refresh and session verification.
type AuthService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error)
	Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error)
	Authenticate(ctx context.Context, token string) (models.Account, error)
	Refresh(ctx context.Context, req dto.RefreshRequest) (dto.AuthResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	LoginWithIdentity(ctx context.Context, profile identity.Profile) (dto.AuthResponse, error)
}

type authService struct {
	accounts  repository.AccountRepository
	refreshes repository.RefreshTokenRepository
	tokens    TokenService
	hasher    PasswordHasher
	guard     AccountGuard
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewAuthService constructs the authentication workflow.
func NewAuthService(
	accounts repository.AccountRepository,
	refreshes repository.RefreshTokenRepository,
	tokens TokenService,
	hasher PasswordHasher,
	guard AccountGuard,
	validate *validator.Validate,
	logger zerolog.Logger,
) AuthService {
	return &authService{
		accounts:  accounts,
		refreshes: refreshes,
		tokens:    tokens,
		hasher:    hasher,
		guard:     guard,
		validator: validate,
		logger:    logger.With().Str("component", "auth_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-exam-api/internal/service/auth"),
		now:       time.Now,
	}
}

func (s *authService) Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "auth.register")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return dto.AuthResponse{}, apperror.FromValidation(err)
	}

	name := req.DisplayName()
	if len(name) < 2 {
		return dto.AuthResponse{}, apperror.Validation("name", "name or first_name and last_name are required")
	}

	role := models.RoleStudent
	if req.Role != "" {
		parsed, ok := models.ParseRole(req.Role)
		if !ok || parsed == models.RoleAdmin {
			return dto.AuthResponse{}, apperror.Validation("role", "role must be student or teacher")
		}
		role = parsed
	}

	email := models.NormalizeEmail(req.Email)
	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return dto.AuthResponse{}, apperror.ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		return dto.AuthResponse{}, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		span.RecordError(err)
		return dto.AuthResponse{}, err
	}

	account := models.Account{
		Name:         name,
		Email:        email,
		PasswordHash: &hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.accounts.Create(ctx, &account); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.AuthResponse{}, apperror.ErrUserExists
		}
		span.RecordError(err)
		return dto.AuthResponse{}, err
	}

	span.SetAttributes(attribute.Int("auth.account_id", int(account.ID)), attribute.String("auth.role", role.String()))
	s.logger.Info().Uint("account_id", account.ID).Str("email", maskEmailAddress(email)).Str("role", role.String()).Msg("account registered")

	return s.issueSession(ctx, account)
}

// Login verifies a password under the account guard. The lock check runs before
// the password is looked at so a locked account never reveals whether the password was right.
func (s *authService) Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "auth.login")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, apperror.FromValidation(err)
	}

	account, err := s.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.LoginAttempts().WithLabelValues("password", "unknown_account").Inc()
			return dto.AuthResponse{}, apperror.ErrInvalidCredentials
		}
		span.RecordError(err)
		return dto.AuthResponse{}, err
	}

	now := s.now()
	if err := s.guard.Check(account, now); err != nil {
		observability.LoginAttempts().WithLabelValues("password", "locked").Inc()
		span.SetStatus(codes.Error, "account locked")
		return dto.AuthResponse{}, err
	}

	if !account.HasPassword() {
		observability.LoginAttempts().WithLabelValues("password", "no_password").Inc()
		return dto.AuthResponse{}, apperror.ErrInvalidCredentials
	}

	if !s.hasher.Compare(*account.PasswordHash, req.Password) {
		return dto.AuthResponse{}, s.recordFailure(ctx, account, now)
	}

	if !account.IsActive {
		observability.LoginAttempts().WithLabelValues("password", "deactivated").Inc()
		return dto.AuthResponse{}, apperror.ErrAccountDeactivated
	}

	state := s.guard.RecordSuccess(now)
	if err := s.accounts.SaveLoginState(ctx, account.ID, state); err != nil {
		span.RecordError(err)
		return dto.AuthResponse{}, err
	}
	account.FailedLoginAttempts = state.FailedLoginAttempts
	account.LockedUntil = nil
	account.LastLoginAt = state.LastLoginAt

	observability.LoginAttempts().WithLabelValues("password", "success").Inc()
	span.SetStatus(codes.Ok, "authenticated")

	return s.issueSession(ctx, account)
}

func (s *authService) recordFailure(ctx context.Context, account models.Account, now time.Time) error {
	state, locked := s.guard.RecordFailure(account, now)
	if err := s.accounts.SaveLoginState(ctx, account.ID, state); err != nil {
		s.logger.Error().Err(err).Uint("account_id", account.ID).Msg("failed to persist login failure")
		return err
	}

	if locked {
		observability.LoginAttempts().WithLabelValues("password", "locked").Inc()
		observability.AccountLockouts().Inc()
		s.logger.Warn().
			Uint("account_id", account.ID).
			Str("email", maskEmailAddress(account.Email)).
			Time("lock_until", *state.LockedUntil).
			Msg("account locked after repeated failures")
		return apperror.ErrAccountLocked.WithDetail("lock_until", state.LockedUntil.UTC())
	}

	observability.LoginAttempts().WithLabelValues("password", "invalid_password").Inc()
	remaining := s.guard.threshold - state.FailedLoginAttempts
	return apperror.ErrInvalidCredentials.WithDetail("attempts_remaining", remaining)
}

// Authenticate runs the per-request pipeline: token checks, then account state.
func (s *authService) Authenticate(ctx context.Context, token string) (models.Account, error) {
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return models.Account{}, err
	}

	accountID, err := claims.AccountID()
	if err != nil {
		return models.Account{}, err
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Account{}, apperror.ErrInvalidToken
		}
		return models.Account{}, err
	}

	if !account.IsActive {
		return models.Account{}, apperror.ErrAccountDeactivated
	}
	if claims.Role != account.Role {
		observability.TokenRejections().WithLabelValues(apperror.ErrTokenRoleMismatch.Code).Inc()
		return models.Account{}, apperror.ErrTokenRoleMismatch.
			WithDetail("token_role", claims.Role).
			WithDetail("current_role", account.Role)
	}

	return account, nil
}

// Refresh rotates the refresh token. Presenting an already revoked token revokes
// every outstanding refresh token of the account.
func (s *authService) Refresh(ctx context.Context, req dto.RefreshRequest) (dto.AuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "auth.refresh")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, apperror.FromValidation(err)
	}

	claims, err := s.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		return dto.AuthResponse{}, err
	}
	accountID, err := claims.AccountID()
	if err != nil {
		return dto.AuthResponse{}, err
	}

	now := s.now()
	hash := repository.HashToken(req.RefreshToken)
	stored, err := s.refreshes.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AuthResponse{}, apperror.ErrInvalidToken
		}
		return dto.AuthResponse{}, err
	}
	if stored.AccountID != accountID || !stored.IsUsable(now) {
		if stored.RevokedAt != nil {
			s.revokeAll(ctx, stored.AccountID, now)
		}
		return dto.AuthResponse{}, apperror.ErrInvalidToken
	}

	rotated, err := s.refreshes.Revoke(ctx, hash, now)
	if err != nil {
		return dto.AuthResponse{}, err
	}
	if !rotated {
		s.revokeAll(ctx, stored.AccountID, now)
		return dto.AuthResponse{}, apperror.ErrInvalidToken
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AuthResponse{}, apperror.ErrInvalidToken
		}
		return dto.AuthResponse{}, err
	}
	if !account.IsActive {
		return dto.AuthResponse{}, apperror.ErrAccountDeactivated
	}
	if claims.Role != account.Role {
		return dto.AuthResponse{}, apperror.ErrTokenRoleMismatch
	}

	return s.issueSession(ctx, account)
}

func (s *authService) revokeAll(ctx context.Context, accountID uint, now time.Time) {
	s.logger.Warn().Uint("account_id", accountID).Msg("refresh token reuse detected")
	if err := s.refreshes.RevokeAllForAccount(ctx, accountID, now); err != nil {
		s.logger.Error().Err(err).Uint("account_id", accountID).Msg("failed to revoke refresh tokens")
	}
}

func (s *authService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	s.tokens.Revoke(ctx, accessToken)

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	if _, err := s.refreshes.Revoke(ctx, repository.HashToken(refreshToken), s.now()); err != nil {
		return err
	}
	return nil
}

// LoginWithIdentity maps a verified provider identity to a local account:
// provider subject first, then email link, otherwise a new student account.
// Profiles whose email the provider has not verified are refused outright.
// The account guard is not consulted and lock counters are left untouched.
func (s *authService) LoginWithIdentity(ctx context.Context, profile identity.Profile) (dto.AuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "auth.login_identity")
	defer span.End()

	if profile.Subject == "" || profile.Email == "" {
		return dto.AuthResponse{}, apperror.ErrOAuthIdentity
	}
	if !profile.EmailVerified {
		observability.LoginAttempts().WithLabelValues("google", "unverified").Inc()
		return dto.AuthResponse{}, apperror.ErrOAuthUnverified
	}

	account, err := s.resolveIdentity(ctx, profile)
	if err != nil {
		span.RecordError(err)
		return dto.AuthResponse{}, err
	}

	if !account.IsActive {
		observability.LoginAttempts().WithLabelValues("google", "deactivated").Inc()
		return dto.AuthResponse{}, apperror.ErrAccountDeactivated
	}

	now := s.now()
	state := repository.LoginState{
		FailedLoginAttempts: account.FailedLoginAttempts,
		LockedUntil:         account.LockedUntil,
		LastLoginAt:         &now,
	}
	if err := s.accounts.SaveLoginState(ctx, account.ID, state); err != nil {
		return dto.AuthResponse{}, err
	}
	account.LastLoginAt = &now

	observability.LoginAttempts().WithLabelValues("google", "success").Inc()
	return s.issueSession(ctx, account)
}

func (s *authService) resolveIdentity(ctx context.Context, profile identity.Profile) (models.Account, error) {
	account, err := s.accounts.GetByGoogleID(ctx, profile.Subject)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Account{}, err
	}

	subject := profile.Subject
	account, err = s.accounts.GetByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		if err := s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{"google_id": subject, "email_verified": true}); err != nil {
			return models.Account{}, err
		}
		account.GoogleID = &subject
		account.EmailVerified = true
		s.logger.Info().Uint("account_id", account.ID).Msg("linked google identity to existing account")
		return account, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return models.Account{}, err
	}

	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = strings.SplitN(profile.Email, "@", 2)[0]
	}
	account = models.Account{
		Name:          name,
		Email:         profile.Email,
		GoogleID:      &subject,
		Role:          models.RoleStudent,
		IsActive:      true,
		EmailVerified: true,
	}
	if err := s.accounts.Create(ctx, &account); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.Account{}, apperror.ErrUserExists
		}
		return models.Account{}, err
	}
	s.logger.Info().Uint("account_id", account.ID).Str("email", maskEmailAddress(account.Email)).Msg("account created from google identity")
	return account, nil
}

func (s *authService) issueSession(ctx context.Context, account models.Account) (dto.AuthResponse, error) {
	access, accessExpiry, err := s.tokens.IssueAccess(account)
	if err != nil {
		return dto.AuthResponse{}, err
	}

	refresh, refreshExpiry, err := s.tokens.IssueRefresh(account)
	if err != nil {
		return dto.AuthResponse{}, err
	}

	record := models.RefreshToken{
		AccountID: account.ID,
		TokenHash: repository.HashToken(refresh),
		ExpiresAt: refreshExpiry,
	}
	if err := s.refreshes.Create(ctx, &record); err != nil {
		return dto.AuthResponse{}, err
	}

	return dto.AuthResponse{
		Token:            access,
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresAt:        accessExpiry,
		RefreshToken:     refresh,
		RefreshExpiresAt: &refreshExpiry,
		User:             dto.NewUserResponse(account),
	}, nil
}
