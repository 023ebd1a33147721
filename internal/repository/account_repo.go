package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// AccountFilter describes pagination & filter options for admin listings.
type AccountFilter struct {
	Role     models.Role
	Search   string
	Page     int
	PageSize int
}

// LoginState is the subset of account columns touched by a login attempt.
type LoginState struct {
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
}

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uint) (models.Account, error)
	GetByEmail(ctx context.Context, email string) (models.Account, error)
	GetByGoogleID(ctx context.Context, googleID string) (models.Account, error)
	List(ctx context.Context, filter AccountFilter) ([]models.Account, int64, error)
	Update(ctx context.Context, account *models.Account) error
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	SaveLoginState(ctx context.Context, id uint, state LoginState) error
	Delete(ctx context.Context, id uint) error
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository instantiates a GORM-backed repository.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	account.Email = models.NormalizeEmail(account.Email)
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepository) GetByID(ctx context.Context, id uint) (models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Where("email = ?", models.NormalizeEmail(email)).
		First(&account).Error
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (r *accountRepository) GetByGoogleID(ctx context.Context, googleID string) (models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("google_id = ?", googleID).First(&account).Error; err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (r *accountRepository) List(ctx context.Context, filter AccountFilter) ([]models.Account, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Account{})

	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if filter.Search != "" {
		pattern := "%" + models.NormalizeEmail(filter.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR email LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = paginate(query.Order("created_at DESC, id DESC"), filter.Page, filter.PageSize)

	var accounts []models.Account
	if err := query.Find(&accounts).Error; err != nil {
		return nil, 0, err
	}

	return accounts, total, nil
}

func (r *accountRepository) Update(ctx context.Context, account *models.Account) error {
	account.Email = models.NormalizeEmail(account.Email)
	return r.db.WithContext(ctx).Save(account).Error
}

// UpdateFields writes only the named columns. Admin and profile edits go
// through here so they never replay stale lockout counters.
func (r *accountRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	columns := make([]string, 0, len(fields))
	for column := range fields {
		columns = append(columns, column)
	}

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Select(columns).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SaveLoginState writes only the lockout bookkeeping so a concurrent profile edit is not clobbered.
func (r *accountRepository) SaveLoginState(ctx context.Context, id uint, state LoginState) error {
	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Select("failed_login_attempts", "locked_until", "last_login_at").
		Updates(map[string]interface{}{
			"failed_login_attempts": state.FailedLoginAttempts,
			"locked_until":          state.LockedUntil,
			"last_login_at":         state.LastLoginAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *accountRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Account{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func paginate(query *gorm.DB, page, pageSize int) *gorm.DB {
	if pageSize <= 0 {
		return query
	}
	if page <= 0 {
		page = 1
	}
	return query.Offset((page - 1) * pageSize).Limit(pageSize)
}
