package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

// AccountService covers self-service profile edits and admin account management.
type AccountService interface {
	Get(ctx context.Context, id uint) (dto.UserResponse, error)
	UpdateProfile(ctx context.Context, id uint, req dto.ProfileUpdateRequest) (dto.UserResponse, error)
	ChangePassword(ctx context.Context, id uint, req dto.PasswordChangeRequest) error
	List(ctx context.Context, req dto.UserListRequest) (dto.UserListResponse, error)
	UpdateRole(ctx context.Context, actorID, id uint, req dto.RoleUpdateRequest) (dto.UserResponse, error)
	UpdateStatus(ctx context.Context, actorID, id uint, req dto.StatusUpdateRequest) (dto.UserResponse, error)
	Delete(ctx context.Context, actorID, id uint) error
}

type accountService struct {
	accounts  repository.AccountRepository
	refreshes repository.RefreshTokenRepository
	hasher    PasswordHasher
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAccountService constructs the account management service.
func NewAccountService(accounts repository.AccountRepository, refreshes repository.RefreshTokenRepository, hasher PasswordHasher, validate *validator.Validate, logger zerolog.Logger) AccountService {
	return &accountService{
		accounts:  accounts,
		refreshes: refreshes,
		hasher:    hasher,
		validator: validate,
		logger:    logger.With().Str("component", "account_service").Logger(),
		now:       time.Now,
	}
}

func (s *accountService) Get(ctx context.Context, id uint) (dto.UserResponse, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return dto.UserResponse{}, notFound(err, apperror.ErrUserNotFound)
	}
	return dto.NewUserResponse(account), nil
}

func (s *accountService) UpdateProfile(ctx context.Context, id uint, req dto.ProfileUpdateRequest) (dto.UserResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return dto.UserResponse{}, apperror.FromValidation(err)
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return dto.UserResponse{}, notFound(err, apperror.ErrUserNotFound)
	}

	account.Name = req.Name
	if err := s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{"name": account.Name}); err != nil {
		return dto.UserResponse{}, err
	}
	return dto.NewUserResponse(account), nil
}

// ChangePassword requires the current password and revokes every refresh token.
func (s *accountService) ChangePassword(ctx context.Context, id uint, req dto.PasswordChangeRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return apperror.FromValidation(err)
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return notFound(err, apperror.ErrUserNotFound)
	}

	if account.HasPassword() && !s.hasher.Compare(*account.PasswordHash, req.CurrentPassword) {
		return apperror.ErrInvalidCredentials.WithMessage("current password is incorrect")
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	account.PasswordHash = &hash
	if err := s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{"password_hash": hash}); err != nil {
		return err
	}

	if err := s.refreshes.RevokeAllForAccount(ctx, account.ID, s.now()); err != nil {
		s.logger.Warn().Err(err).Uint("account_id", account.ID).Msg("failed to revoke refresh tokens after password change")
	}
	s.logger.Info().Uint("account_id", account.ID).Msg("password changed")
	return nil
}

func (s *accountService) List(ctx context.Context, req dto.UserListRequest) (dto.UserListResponse, error) {
	page, pageSize := dto.NormalizePage(req.Page, req.PageSize)

	filter := repository.AccountFilter{Search: strings.TrimSpace(req.Search), Page: page, PageSize: pageSize}
	if req.Role != "" {
		role, ok := models.ParseRole(req.Role)
		if !ok {
			return dto.UserListResponse{}, apperror.Validation("role", "role must be student, teacher or admin")
		}
		filter.Role = role
	}

	accounts, total, err := s.accounts.List(ctx, filter)
	if err != nil {
		return dto.UserListResponse{}, err
	}

	return dto.UserListResponse{
		Items:      dto.NewUserResponseSlice(accounts),
		Pagination: dto.NewPaginationMeta(page, pageSize, total),
	}, nil
}

// UpdateRole changes the role; tokens issued under the old role stop verifying.
func (s *accountService) UpdateRole(ctx context.Context, actorID, id uint, req dto.RoleUpdateRequest) (dto.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.UserResponse{}, apperror.FromValidation(err)
	}
	if actorID == id {
		return dto.UserResponse{}, apperror.ErrSelfModification
	}

	role, _ := models.ParseRole(req.Role)
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return dto.UserResponse{}, notFound(err, apperror.ErrUserNotFound)
	}

	previous := account.Role
	account.Role = role
	if err := s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{"role": role}); err != nil {
		return dto.UserResponse{}, err
	}

	s.logger.Info().Uint("actor_id", actorID).Uint("account_id", id).Str("from", previous.String()).Str("to", role.String()).Msg("account role changed")
	return dto.NewUserResponse(account), nil
}

func (s *accountService) UpdateStatus(ctx context.Context, actorID, id uint, req dto.StatusUpdateRequest) (dto.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.UserResponse{}, apperror.FromValidation(err)
	}
	if actorID == id {
		return dto.UserResponse{}, apperror.ErrSelfModification
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return dto.UserResponse{}, notFound(err, apperror.ErrUserNotFound)
	}

	account.IsActive = *req.IsActive
	if err := s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{"is_active": account.IsActive}); err != nil {
		return dto.UserResponse{}, err
	}

	if !account.IsActive {
		if err := s.refreshes.RevokeAllForAccount(ctx, account.ID, s.now()); err != nil {
			s.logger.Warn().Err(err).Uint("account_id", account.ID).Msg("failed to revoke refresh tokens on deactivation")
		}
	}

	s.logger.Info().Uint("actor_id", actorID).Uint("account_id", id).Bool("is_active", account.IsActive).Msg("account status changed")
	return dto.NewUserResponse(account), nil
}

// Delete removes the account permanently.
func (s *accountService) Delete(ctx context.Context, actorID, id uint) error {
	if actorID == id {
		return apperror.ErrSelfModification
	}
	if err := s.accounts.Delete(ctx, id); err != nil {
		return notFound(err, apperror.ErrUserNotFound)
	}
	s.logger.Info().Uint("actor_id", actorID).Uint("account_id", id).Msg("account deleted")
	return nil
}
