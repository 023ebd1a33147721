package utils

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
)

// APIResponse describes the common structure for API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// OK sends a 200 payload with optional pagination metadata.
func OK(c *fiber.Ctx, data interface{}, message string, meta interface{}) error {
	if message == "" {
		message = "success"
	}

	return c.Status(fiber.StatusOK).JSON(APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	})
}

// SendSuccess sends a successful JSON response with a message.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus sends a success payload using the provided HTTP status code.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}
	if status == 0 {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// Fail sends an error payload with optional details.
func Fail(c *fiber.Ctx, status int, message string, details interface{}) error {
	return FailWithCode(c, status, "", message, details)
}

// FailWithCode sends an error payload carrying a stable machine-readable code.
func FailWithCode(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	if message == "" {
		message = "error"
	}

	return c.Status(status).JSON(APIResponse{
		Success: false,
		Message: message,
		Code:    code,
		Details: details,
	})
}

// SendError sends an error JSON response with the given status code.
func SendError(c *fiber.Ctx, status int, message string) error {
	return Fail(c, status, message, nil)
}

// FailError renders err using its apperror status and code. Errors without a
// code become INTERNAL_ERROR; their text is only sent when expose is true.
func FailError(c *fiber.Ctx, err error, expose bool) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		var details interface{}
		if len(appErr.Details) > 0 {
			details = appErr.Details
		}
		return FailWithCode(c, appErr.Status, appErr.Code, appErr.Message, details)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return FailWithCode(c, fiberErr.Code, "", fiberErr.Message, nil)
	}

	message := apperror.ErrInternal.Message
	if expose && err != nil {
		message = err.Error()
	}
	return FailWithCode(c, apperror.ErrInternal.Status, apperror.ErrInternal.Code, message, nil)
}
