package service

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
)

func maskEmailAddress(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return "***"
	}
	local := parts[0]
	domain := parts[1]
	if len(local) <= 2 {
		local = local[:1] + "***"
	} else {
		local = local[:1] + "***" + local[len(local)-1:]
	}
	return local + "@" + domain
}

// notFound swaps gorm.ErrRecordNotFound for the entity's domain error.
func notFound(err error, domain *apperror.Error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain
	}
	return err
}
