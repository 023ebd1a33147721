package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// errorRenderer is embedded by every handler. Domain errors are rendered with
// their code; anything else is logged and reported as INTERNAL_ERROR, with the
// original text only outside production.
type errorRenderer struct {
	logger zerolog.Logger
	expose bool
}

func (r errorRenderer) handleError(c *fiber.Ctx, err error) error {
	var appErr *apperror.Error
	var fiberErr *fiber.Error
	if !errors.As(err, &appErr) && !errors.As(err, &fiberErr) {
		requestLogger(r.logger, c).Error().Err(err).Str("path", c.Path()).Msg("internal server error")
	}
	return utils.FailError(c, err, r.expose)
}

func (r errorRenderer) invalidPayload(c *fiber.Ctx, err error) error {
	requestLogger(r.logger, c).Debug().Err(err).Msg("invalid request payload")
	return utils.FailError(c, apperror.ErrInvalidInput, false)
}

func identityFromContext(c *fiber.Ctx) (authz.Identity, error) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return authz.Identity{}, apperror.ErrUnauthenticated
	}
	return identity, nil
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	parsed, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || parsed == 0 {
		return 0, apperror.Validation(name, "invalid identifier")
	}
	return uint(parsed), nil
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, apperror.Validation(key, "must be an integer")
	}
	return parsed, nil
}

func pageQuery(c *fiber.Ctx) (int, int, error) {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return 0, 0, err
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}
