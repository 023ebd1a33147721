package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
	"github.com/noah-isme/gema-exam-api/pkg/identity"
)

const oauthStateTTL = 10 * time.Minute

// IdentityProvider is the third-party login collaborator.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (identity.Profile, error)
	VerifyIDToken(ctx context.Context, rawIDToken string) (identity.Profile, error)
}

// OAuthService drives the provider redirect flow and hands verified identities to AuthService.
type OAuthService interface {
	Begin(ctx context.Context) (dto.GoogleLoginResponse, error)
	Callback(ctx context.Context, code, state string) (dto.AuthResponse, error)
	LoginWithIDToken(ctx context.Context, req dto.GoogleTokenRequest) (dto.AuthResponse, error)
}

type oauthService struct {
	provider  IdentityProvider
	states    repository.OAuthStateStore
	auth      AuthService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewOAuthService builds the service. A nil provider makes every call return OAUTH_DISABLED.
func NewOAuthService(provider IdentityProvider, states repository.OAuthStateStore, auth AuthService, validate *validator.Validate, logger zerolog.Logger) OAuthService {
	return &oauthService{
		provider:  provider,
		states:    states,
		auth:      auth,
		validator: validate,
		logger:    logger.With().Str("component", "oauth_service").Logger(),
	}
}

func (s *oauthService) Begin(ctx context.Context) (dto.GoogleLoginResponse, error) {
	if s.provider == nil {
		return dto.GoogleLoginResponse{}, apperror.ErrOAuthDisabled
	}

	state := uuid.NewString()
	if err := s.states.Save(ctx, state, oauthStateTTL); err != nil {
		return dto.GoogleLoginResponse{}, err
	}

	return dto.GoogleLoginResponse{URL: s.provider.AuthCodeURL(state), State: state}, nil
}

func (s *oauthService) Callback(ctx context.Context, code, state string) (dto.AuthResponse, error) {
	if s.provider == nil {
		return dto.AuthResponse{}, apperror.ErrOAuthDisabled
	}

	ok, err := s.states.Consume(ctx, state)
	if err != nil {
		return dto.AuthResponse{}, err
	}
	if !ok {
		observability.LoginAttempts().WithLabelValues("google", "invalid_state").Inc()
		return dto.AuthResponse{}, apperror.ErrOAuthState
	}

	profile, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return dto.AuthResponse{}, s.rejected(err)
	}

	return s.auth.LoginWithIdentity(ctx, profile)
}

func (s *oauthService) LoginWithIDToken(ctx context.Context, req dto.GoogleTokenRequest) (dto.AuthResponse, error) {
	if s.provider == nil {
		return dto.AuthResponse{}, apperror.ErrOAuthDisabled
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, apperror.FromValidation(err)
	}

	profile, err := s.provider.VerifyIDToken(ctx, req.IDToken)
	if err != nil {
		return dto.AuthResponse{}, s.rejected(err)
	}

	return s.auth.LoginWithIdentity(ctx, profile)
}

func (s *oauthService) rejected(err error) error {
	observability.LoginAttempts().WithLabelValues("google", "rejected").Inc()
	if errors.Is(err, identity.ErrIdentityRejected) {
		s.logger.Warn().Err(err).Msg("identity provider rejected login")
		return apperror.ErrOAuthIdentity
	}
	return err
}
