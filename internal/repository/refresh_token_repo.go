package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// RefreshTokenRepository persists hashed refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (models.RefreshToken, error)
	// Revoke marks the token revoked and reports whether this call performed the transition.
	Revoke(ctx context.Context, hash string, at time.Time) (bool, error)
	RevokeAllForAccount(ctx context.Context, accountID uint, at time.Time) error
}

type refreshTokenRepository struct {
	db *gorm.DB
}

// NewRefreshTokenRepository instantiates a GORM-backed repository.
func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *refreshTokenRepository) GetByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	var token models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&token).Error; err != nil {
		return models.RefreshToken{}, err
	}
	return token, nil
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, hash string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Update("revoked_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *refreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("account_id = ? AND revoked_at IS NULL", accountID).
		Update("revoked_at", at).Error
}
