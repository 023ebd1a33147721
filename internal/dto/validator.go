package dto

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator builds the request validator; errors report json field names.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return validate
}
