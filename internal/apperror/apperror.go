// Package apperror defines the domain error type rendered by every handler.
//
// An Error carries the HTTP status, a stable machine-readable code that clients
// branch on, a human-readable message and optional contextual details. Two
// errors are considered equal by errors.Is when their codes match, so sentinel
// values can be decorated with details without breaking comparisons.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error is a domain failure with a stable code.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]interface{}
}

// New builds an Error.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code so decorated copies still compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of the error carrying an extra detail entry.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value

	return &Error{Status: e.Status, Code: e.Code, Message: e.Message, Details: details}
}

// WithMessage returns a copy of the error with a more specific message.
func (e *Error) WithMessage(message string) *Error {
	return &Error{Status: e.Status, Code: e.Code, Message: message, Details: e.Details}
}

// Validation builds a VALIDATION_FAILED error for a single field.
func Validation(field, message string) *Error {
	return ErrValidation.WithMessage(message).WithDetail(field, message)
}

// FromValidation converts validator failures into VALIDATION_FAILED with a
// field -> rule details map. Other errors pass through untouched.
func FromValidation(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	details := make(map[string]interface{}, len(validationErrors))
	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		name := fieldErr.Field()
		rule := fieldErr.Tag()
		if fieldErr.Param() != "" {
			rule = rule + "=" + fieldErr.Param()
		}
		details[name] = rule
		fields = append(fields, name)
	}

	return &Error{
		Status:  ErrValidation.Status,
		Code:    ErrValidation.Code,
		Message: "invalid fields: " + strings.Join(fields, ", "),
		Details: details,
	}
}

// Stable codes shared across packages.
var (
	ErrValidation   = New(http.StatusBadRequest, "VALIDATION_FAILED", "request validation failed")
	ErrInvalidInput = New(http.StatusBadRequest, "INVALID_INPUT", "invalid request payload")
	ErrInternal     = New(http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")

	ErrUnauthenticated    = New(http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "authentication required")
	ErrInvalidToken       = New(http.StatusUnauthorized, "INVALID_TOKEN", "invalid token")
	ErrTokenExpired       = New(http.StatusUnauthorized, "TOKEN_EXPIRED", "token has expired")
	ErrTokenBlacklisted   = New(http.StatusUnauthorized, "TOKEN_BLACKLISTED", "token has been revoked")
	ErrTokenRoleMismatch  = New(http.StatusUnauthorized, "TOKEN_ROLE_MISMATCH", "account role changed since the token was issued")
	ErrInvalidCredentials = New(http.StatusBadRequest, "INVALID_CREDENTIALS", "invalid email or password")
	ErrAccountLocked      = New(http.StatusLocked, "ACCOUNT_LOCKED", "account is temporarily locked")
	ErrAccountDeactivated = New(http.StatusForbidden, "ACCOUNT_DEACTIVATED", "account has been deactivated")
	ErrUserExists         = New(http.StatusBadRequest, "USER_EXISTS", "an account with this email already exists")
	ErrOAuthDisabled      = New(http.StatusServiceUnavailable, "OAUTH_DISABLED", "oauth login is not configured")
	ErrOAuthState         = New(http.StatusBadRequest, "INVALID_OAUTH_STATE", "oauth state is missing or expired")
	ErrOAuthIdentity      = New(http.StatusUnauthorized, "INVALID_OAUTH_IDENTITY", "identity provider rejected the login")
	ErrOAuthUnverified    = New(http.StatusForbidden, "OAUTH_EMAIL_UNVERIFIED", "identity provider has not verified this email")

	ErrInsufficientRole = New(http.StatusForbidden, "INSUFFICIENT_ROLE", "insufficient permissions")
	ErrSelfModification = New(http.StatusForbidden, "SELF_MODIFICATION", "administrators cannot change their own role, status or account")

	ErrUserNotFound     = New(http.StatusNotFound, "USER_NOT_FOUND", "user not found")
	ErrExamNotFound     = New(http.StatusNotFound, "EXAM_NOT_FOUND", "exam not found")
	ErrQuestionNotFound = New(http.StatusNotFound, "QUESTION_NOT_FOUND", "question not found")
	ErrResultNotFound   = New(http.StatusNotFound, "RESULT_NOT_FOUND", "result not found")

	ErrQuestionInUse           = New(http.StatusConflict, "QUESTION_IN_USE", "question belongs to an exam that has already started")
	ErrAttemptAlreadySubmitted = New(http.StatusConflict, "ATTEMPT_ALREADY_SUBMITTED", "attempt has already been submitted")
	ErrAttemptNotInProgress    = New(http.StatusConflict, "ATTEMPT_NOT_IN_PROGRESS", "attempt is not in progress")

	ErrUploadDisabled   = New(http.StatusServiceUnavailable, "UPLOAD_DISABLED", "file uploads are not configured")
	ErrUploadTooLarge   = New(http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "file exceeds maximum allowed size")
	ErrUploadNotAllowed = New(http.StatusUnsupportedMediaType, "UPLOAD_TYPE_NOT_ALLOWED", "only image uploads are allowed")
)
