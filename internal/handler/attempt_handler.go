package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

const defaultCountdownInterval = time.Second

// AttemptHandler serves the student side of an attempt: start, answer,
// submit and the countdown channel.
type AttemptHandler struct {
	service  service.AttemptService
	logger   zerolog.Logger
	interval time.Duration

	answerLimit  int
	answerWindow time.Duration
}

// AttemptHandlerOptions tunes the countdown push interval and answer rate limit.
type AttemptHandlerOptions struct {
	CountdownInterval time.Duration
	AnswerRateLimit   int
	AnswerRateWindow  time.Duration
}

// NewAttemptHandler builds an attempt handler instance.
func NewAttemptHandler(service service.AttemptService, opts AttemptHandlerOptions, logger zerolog.Logger) *AttemptHandler {
	interval := opts.CountdownInterval
	if interval <= 0 {
		interval = defaultCountdownInterval
	}
	return &AttemptHandler{
		service:      service,
		logger:       logger.With().Str("component", "attempt_handler").Logger(),
		interval:     interval,
		answerLimit:  opts.AnswerRateLimit,
		answerWindow: opts.AnswerRateWindow,
	}
}

// Register attaches the routes to the versioned API group.
func (h *AttemptHandler) Register(router fiber.Router) {
	member := middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true}

	router.Post("/assessments/:id/attempts", middleware.WithAuth(h.start, member))
	router.Get("/attempts", middleware.WithAuth(h.list, member))
	router.Get("/attempts/:id", middleware.WithAuth(h.get, member))
	router.Put("/attempts/:id/answers/:questionId",
		middleware.RateLimit("attempt-answers", h.answerLimit, h.answerWindow),
		middleware.WithAuth(h.saveAnswer, member),
	)
	router.Post("/attempts/:id/submit", middleware.WithAuth(h.submit, member))
	router.Get("/attempts/:id/time-remaining", middleware.WithAuth(h.timeRemaining, member))

	router.Use("/attempts/:id/countdown", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if c.Locals("user_id") == nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		c.Locals("request_ctx", requestContext(c))
		c.Locals("actor", actorFromContext(c))
		return c.Next()
	})
	router.Get("/attempts/:id/countdown", websocket.New(h.countdown))
}

func (h *AttemptHandler) start(c *fiber.Ctx) error {
	assessmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	attempt, err := h.service.Start(requestContext(c), actorFromContext(c), assessmentID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "attempt started", attempt)
}

func (h *AttemptHandler) list(c *fiber.Ctx) error {
	var req dto.AttemptListRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	result, err := h.service.List(requestContext(c), actorFromContext(c), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.OK(c, result.Items, "attempts retrieved", result.Pagination)
}

func (h *AttemptHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	attempt, err := h.service.Get(requestContext(c), actorFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "attempt retrieved", attempt)
}

func (h *AttemptHandler) saveAnswer(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	questionID, err := parseUintParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.AnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	attempt, err := h.service.SaveAnswer(requestContext(c), actorFromContext(c), id, questionID, req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "answer saved", attempt)
}

func (h *AttemptHandler) submit(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	attempt, err := h.service.Submit(requestContext(c), actorFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "attempt submitted", attempt)
}

func (h *AttemptHandler) timeRemaining(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	remaining, err := h.service.TimeRemaining(requestContext(c), actorFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "time remaining", remaining)
}

// countdown pushes the remaining time every interval and a last frame once
// the attempt leaves in_progress.
func (h *AttemptHandler) countdown(conn *websocket.Conn) {
	defer conn.Close()

	attemptID, err := parseUintParam(conn, "id")
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, err.Error()))
		return
	}
	actor, _ := conn.Locals("actor").(service.Actor)
	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := h.logger.With().Uint("attempt_id", attemptID).Uint("user_id", actor.ID).Logger()
	logger.Debug().Msg("countdown connected")

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		remaining, err := h.service.TimeRemaining(ctx, actor, attemptID)
		if err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			return
		}
		if err := conn.WriteJSON(remaining); err != nil {
			logger.Debug().Err(err).Msg("countdown write failed")
			return
		}
		if remaining.State != string(models.AttemptStateInProgress) || remaining.Unlimited {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, remaining.State))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
