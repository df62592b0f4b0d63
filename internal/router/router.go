package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/handler"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssessmentHandler   *handler.AssessmentHandler
	AttemptHandler      *handler.AttemptHandler
	GradingHandler      *handler.GradingHandler
	GradebookHandler    *handler.GradebookHandler
	NotificationHandler *handler.NotificationHandler
	SuggestionHandler   *handler.SuggestionHandler
	ActivityHandler     *handler.ActivityHandler
	JWTMiddleware       fiber.Handler
	HealthProbes        []handler.Probe
	ExposeMetrics       bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	if deps.ExposeMetrics {
		app.Get("/metrics", observability.MetricsHandler())
	}

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	v2 := app.Group("/api/v2", jwtMiddleware)

	// Authoring and attempts
	if deps.AssessmentHandler != nil {
		deps.AssessmentHandler.Register(v2)
	}
	if deps.AttemptHandler != nil {
		deps.AttemptHandler.Register(v2)
	}

	// Grading
	if deps.GradingHandler != nil {
		deps.GradingHandler.Register(v2)
	}
	if deps.SuggestionHandler != nil {
		deps.SuggestionHandler.Register(v2)
	}
	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(v2)
	}

	// Gradebook
	if deps.GradebookHandler != nil {
		deps.GradebookHandler.Register(v2)
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(v2.Group("/notifications"))
	}
}
