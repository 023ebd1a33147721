package dto

import (
	"strings"
	"time"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// RegisterRequest accepts either a full name or first and last name.
type RegisterRequest struct {
	Name      string `json:"name" validate:"omitempty,min=2,max=255"`
	FirstName string `json:"first_name" validate:"omitempty,max=120"`
	LastName  string `json:"last_name" validate:"omitempty,max=120"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	Role      string `json:"role" validate:"omitempty,oneof=student teacher"`
}

// DisplayName resolves the name fields into a single display name.
func (r RegisterRequest) DisplayName() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

// LoginRequest is the password login payload.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest exchanges a refresh token for a new token pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally carries the refresh token to revoke alongside the session.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// GoogleTokenRequest carries an id_token obtained by the client directly from Google.
type GoogleTokenRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

// GoogleLoginResponse tells the client where to send the user.
type GoogleLoginResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// AuthResponse is returned by every endpoint that establishes a session.
// Token mirrors AccessToken for clients of the {token, user} contract.
type AuthResponse struct {
	Token            string       `json:"token"`
	AccessToken      string       `json:"access_token"`
	TokenType        string       `json:"token_type"`
	ExpiresAt        time.Time    `json:"expires_at"`
	RefreshToken     string       `json:"refresh_token,omitempty"`
	RefreshExpiresAt *time.Time   `json:"refresh_expires_at,omitempty"`
	User             UserResponse `json:"user"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID            uint        `json:"id"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Role          models.Role `json:"role"`
	IsActive      bool        `json:"is_active"`
	EmailVerified bool        `json:"email_verified"`
	LastLoginAt   *time.Time  `json:"last_login_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewUserResponse converts an account into its public view.
func NewUserResponse(account models.Account) UserResponse {
	return UserResponse{
		ID:            account.ID,
		Name:          account.Name,
		Email:         account.Email,
		Role:          account.Role,
		IsActive:      account.IsActive,
		EmailVerified: account.EmailVerified,
		LastLoginAt:   account.LastLoginAt,
		CreatedAt:     account.CreatedAt,
	}
}

// NewUserResponseSlice converts accounts into DTOs.
func NewUserResponseSlice(accounts []models.Account) []UserResponse {
	responses := make([]UserResponse, 0, len(accounts))
	for _, account := range accounts {
		responses = append(responses, NewUserResponse(account))
	}
	return responses
}
