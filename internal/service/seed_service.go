package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

var (
	// ErrSeedDisabled indicates the seeding tools are disabled by configuration.
	ErrSeedDisabled = errors.New("seeding is disabled")
	// ErrSeedUnauthorized indicates the provided token is invalid.
	ErrSeedUnauthorized = errors.New("invalid seed token")
)

// SeedConfig holds the bootstrap admin and the seed endpoint token.
type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
	Token         string
}

// SeedService bootstraps the admin account and loads starter question banks.
type SeedService interface {
	SeedAdmin(ctx context.Context) (bool, error)
	SeedQuestions(ctx context.Context, token string, items []dto.QuestionCreateRequest) (int64, error)
}

type seedService struct {
	accounts  repository.AccountRepository
	hasher    PasswordHasher
	questions QuestionService
	cfg       SeedConfig
	logger    zerolog.Logger
}

// NewSeedService constructs a seeding service.
func NewSeedService(accounts repository.AccountRepository, hasher PasswordHasher, questions QuestionService, cfg SeedConfig, logger zerolog.Logger) SeedService {
	cfg.AdminEmail = models.NormalizeEmail(cfg.AdminEmail)
	return &seedService{
		accounts:  accounts,
		hasher:    hasher,
		questions: questions,
		cfg:       cfg,
		logger:    logger.With().Str("component", "seed_service").Logger(),
	}
}

// SeedAdmin creates the configured admin account when it does not exist yet.
// It reports whether an account was created.
func (s *seedService) SeedAdmin(ctx context.Context) (bool, error) {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		return false, nil
	}

	_, err := s.accounts.GetByEmail(ctx, s.cfg.AdminEmail)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	hash, err := s.hasher.Hash(s.cfg.AdminPassword)
	if err != nil {
		return false, err
	}

	name := strings.TrimSpace(s.cfg.AdminName)
	if name == "" {
		name = "Administrator"
	}

	account := models.Account{
		Name:          name,
		Email:         s.cfg.AdminEmail,
		PasswordHash:  &hash,
		Role:          models.RoleAdmin,
		IsActive:      true,
		EmailVerified: true,
	}
	if err := s.accounts.Create(ctx, &account); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}

	s.logger.Info().Uint("account_id", account.ID).Str("email", maskEmailAddress(account.Email)).Msg("admin account seeded")
	return true, nil
}

// SeedQuestions creates bank questions owned by the seeded admin. Every item goes
// through the regular question rules; the first invalid item aborts the batch.
func (s *seedService) SeedQuestions(ctx context.Context, token string, items []dto.QuestionCreateRequest) (int64, error) {
	if strings.TrimSpace(s.cfg.Token) == "" || s.cfg.AdminEmail == "" {
		return 0, ErrSeedDisabled
	}
	if !s.validateToken(token) {
		return 0, ErrSeedUnauthorized
	}

	admin, err := s.accounts.GetByEmail(ctx, s.cfg.AdminEmail)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrSeedDisabled
		}
		return 0, err
	}

	actor := authz.Identity{ID: admin.ID, Role: admin.Role, Email: admin.Email}
	var affected int64
	for _, item := range items {
		if _, err := s.questions.Create(ctx, actor, item); err != nil {
			return affected, err
		}
		affected++
	}

	s.logger.Info().Int64("affected", affected).Msg("questions seeded")
	return affected, nil
}

func (s *seedService) validateToken(token string) bool {
	expected := strings.TrimSpace(s.cfg.Token)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(token))) == 1
}
