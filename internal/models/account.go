package models

import (
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole normalises user input into a Role, reporting whether it is known.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

func (r Role) String() string {
	return string(r)
}

// Account is a registered user of the platform.
type Account struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Name                string     `gorm:"size:255;not null" json:"name"`
	Email               string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash        *string    `gorm:"size:255" json:"-"`
	GoogleID            *string    `gorm:"size:255;uniqueIndex" json:"-"`
	Role                Role       `gorm:"size:16;not null;index" json:"role"`
	IsActive            bool       `gorm:"not null;default:true" json:"is_active"`
	EmailVerified       bool       `gorm:"not null;default:false" json:"email_verified"`
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NormalizeEmail produces the canonical, case-insensitive form used for uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasPassword reports whether the account can log in with a password.
func (a Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// IsLocked reports whether the lock window is still open at the reference time.
func (a Account) IsLocked(reference time.Time) bool {
	return a.LockedUntil != nil && reference.Before(*a.LockedUntil)
}

// RefreshToken stores the hash of an issued refresh token so it can be rotated or revoked.
type RefreshToken struct {
	ID        uint       `gorm:"primaryKey"`
	AccountID uint       `gorm:"not null;index"`
	TokenHash string     `gorm:"size:64;uniqueIndex;not null"`
	ExpiresAt time.Time  `gorm:"not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// IsUsable reports whether the refresh token may still be exchanged.
func (t RefreshToken) IsUsable(reference time.Time) bool {
	return t.RevokedAt == nil && reference.Before(t.ExpiresAt)
}
