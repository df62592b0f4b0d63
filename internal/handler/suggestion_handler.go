package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// SuggestionHandler lets staff request, review and resolve assistant drafts.
type SuggestionHandler struct {
	service service.SuggestionService
	logger  zerolog.Logger
}

// NewSuggestionHandler builds a suggestion handler instance.
func NewSuggestionHandler(service service.SuggestionService, logger zerolog.Logger) *SuggestionHandler {
	return &SuggestionHandler{
		service: service,
		logger:  logger.With().Str("component", "suggestion_handler").Logger(),
	}
}

// Register attaches the routes to the versioned API group. Every route is staff-only.
func (h *SuggestionHandler) Register(router fiber.Router) {
	staffOnly := middleware.RequireRole(middleware.StaffRoles...)

	router.Get("/courses/:courseId/suggestions", staffOnly, h.list)
	router.Post("/courses/:courseId/suggestions/assessments", staffOnly, h.draftAssessment)
	router.Post("/attempts/:id/suggestions/grade", staffOnly, h.draftGrade)
	router.Post("/suggestions/:id/confirm", staffOnly, h.confirm)
	router.Post("/suggestions/:id/reject", staffOnly, h.reject)
}

func (h *SuggestionHandler) list(c *fiber.Ctx) error {
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	drafts, err := h.service.List(requestContext(c), actorFromContext(c), courseID, c.Query("status"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "suggestions retrieved", drafts)
}

func (h *SuggestionHandler) draftAssessment(c *fiber.Ctx) error {
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.AssessmentSuggestionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	draft, err := h.service.DraftAssessment(requestContext(c), actorFromContext(c), courseID, req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assessment draft created", draft)
}

func (h *SuggestionHandler) draftGrade(c *fiber.Ctx) error {
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	draft, err := h.service.DraftGrade(requestContext(c), actorFromContext(c), attemptID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "grade draft created", draft)
}

func (h *SuggestionHandler) confirm(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.SuggestionConfirmRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	draft, err := h.service.Confirm(requestContext(c), actorFromContext(c), id, req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "suggestion confirmed", draft)
}

func (h *SuggestionHandler) reject(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	draft, err := h.service.Reject(requestContext(c), actorFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "suggestion rejected", draft)
}
