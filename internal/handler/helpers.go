package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/session"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

const (
	retryMessage = "the request could not be completed, please retry"
	retryAfter   = 2 * time.Second
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

// paramReader is satisfied by both *fiber.Ctx and *websocket.Conn.
type paramReader interface {
	Params(key string, defaultValue ...string) string
}

func parseUintParam(c paramReader, key string) (uint, error) {
	value := strings.TrimSpace(c.Params(key))
	if value == "" {
		return 0, errors.New("missing " + key)
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid " + key)
	}
	return uint(parsed), nil
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

func actorFromContext(c *fiber.Ctx) service.Actor {
	return service.Actor{
		ID:   userIDFromContext(c),
		Role: userRoleFromContext(c),
	}
}

// requestContext carries the request's correlation id into service calls.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
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

func validationDetails(errs validator.ValidationErrors) []models.FieldError {
	details := make([]models.FieldError, 0, len(errs))
	for _, fe := range errs {
		details = append(details, models.FieldError{Field: fe.Namespace(), Message: "failed " + fe.Tag()})
	}
	return details
}

// respondError maps service errors onto HTTP responses. Unknown errors are
// logged and reported as 500.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var validationErrors validator.ValidationErrors
	var definitionErrors *models.ValidationError

	switch {
	case errors.As(err, &validationErrors):
		return utils.Fail(c, fiber.StatusBadRequest, "invalid request", validationDetails(validationErrors))
	case errors.As(err, &definitionErrors):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, "validation failed", definitionErrors.Errors)

	case errors.Is(err, service.ErrAssessmentNotFound),
		errors.Is(err, service.ErrAttemptNotFound),
		errors.Is(err, service.ErrSuggestionNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return utils.SendError(c, fiber.StatusNotFound, notFoundMessage(err))

	case errors.Is(err, service.ErrCourseAccessDenied):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrPastDue):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())

	case errors.Is(err, service.ErrNotPublished),
		errors.Is(err, service.ErrAssessmentClosed),
		errors.Is(err, service.ErrInvalidStatusTransition),
		errors.Is(err, service.ErrAttemptLimitExceeded),
		errors.Is(err, service.ErrSuggestionResolved),
		errors.Is(err, session.ErrNotInProgress),
		errors.Is(err, session.ErrDeadlinePassed),
		errors.Is(err, session.ErrNotGradable),
		errors.Is(err, session.ErrAlreadyStarted),
		errors.Is(err, repository.ErrAttemptConflict):
		return utils.SendError(c, fiber.StatusConflict, err.Error())

	case errors.Is(err, session.ErrUnknownQuestion),
		errors.Is(err, session.ErrScoreOutOfRange),
		errors.Is(err, service.ErrGradeOutOfRange),
		errors.Is(err, service.ErrEmptyNotification),
		errors.Is(err, models.ErrAnswerTypeMismatch),
		errors.Is(err, models.ErrChoiceOutOfRange),
		errors.Is(err, models.ErrInvalidTruthValue):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, service.ErrSuggestionsDisabled):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrAttemptUnavailable):
		requestLogger(logger, c).Warn().Err(err).Msg("attempt persistence failed")
		return utils.SendRetryable(c, retryAfter, retryMessage)

	default:
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrAssessmentNotFound):
		return service.ErrAssessmentNotFound.Error()
	case errors.Is(err, service.ErrAttemptNotFound):
		return service.ErrAttemptNotFound.Error()
	case errors.Is(err, service.ErrSuggestionNotFound):
		return service.ErrSuggestionNotFound.Error()
	default:
		return "resource not found"
	}
}
