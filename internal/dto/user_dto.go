package dto

// ProfileUpdateRequest edits the caller's own profile.
type ProfileUpdateRequest struct {
	Name string `json:"name" validate:"required,min=2,max=255"`
}

// PasswordChangeRequest rotates the caller's password.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

// RoleUpdateRequest is the admin payload for changing a role.
type RoleUpdateRequest struct {
	Role string `json:"role" validate:"required,oneof=student teacher admin"`
}

// StatusUpdateRequest is the admin payload for activating or deactivating an account.
type StatusUpdateRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// UserListRequest defines admin listing filters.
type UserListRequest struct {
	Role     string
	Search   string
	Page     int
	PageSize int
}

// UserListResponse wraps a paginated account listing.
type UserListResponse struct {
	Items      []UserResponse `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}
