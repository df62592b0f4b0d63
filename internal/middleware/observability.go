package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-assessment-api/internal/observability"
)

const slowRequestThreshold = time.Second

// Observability opens a server span per API request, records Prometheus
// request metrics and emits one structured log line per request. Countdown
// sockets and notification streams stay open for minutes, so they are traced
// but kept out of the latency histogram.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()
	tracer := otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/middleware")

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Path(), "/api/") {
			return c.Next()
		}

		ctx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Method()),
				attribute.String("correlation_id", GetCorrelationID(c)),
			),
		)
		defer span.End()
		c.SetUserContext(ctx)

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		route := routeTemplate(c)
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if status < fiber.StatusBadRequest {
				status = fiber.StatusInternalServerError
			}
		}

		span.SetName(c.Method() + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)
		if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, strconv.Itoa(status))
		}
		if err != nil {
			span.RecordError(err)
		}

		if longLived(c) {
			return err
		}

		statusLabel := strconv.Itoa(status)
		observability.HTTPRequests().WithLabelValues(c.Method(), route, statusLabel).Inc()
		observability.HTTPLatency().WithLabelValues(c.Method(), route).Observe(elapsed.Seconds())
		if status >= fiber.StatusBadRequest {
			observability.HTTPErrors().WithLabelValues(c.Method(), route, statusLabel).Inc()
		}

		event := requestEvent(logger, status, elapsed)
		event = event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("method", c.Method()).
			Str("route", route).
			Int("status", status).
			Dur("latency", elapsed)
		if userID, ok := c.Locals("user_id").(uint); ok && userID != 0 {
			event = event.Uint("user_id", userID)
		}
		if attemptID := attemptParam(c, route); attemptID != "" {
			event = event.Str("attempt_id", attemptID)
		}
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("request completed")

		return err
	}
}

func requestEvent(logger zerolog.Logger, status int, elapsed time.Duration) *zerolog.Event {
	switch {
	case status >= fiber.StatusInternalServerError:
		return logger.Error()
	case status >= fiber.StatusBadRequest:
		return logger.Warn()
	case elapsed >= slowRequestThreshold:
		return logger.Warn().Bool("slow", true)
	default:
		return logger.Info()
	}
}

func longLived(c *fiber.Ctx) bool {
	if strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket") {
		return true
	}
	path := c.Path()
	return strings.HasSuffix(path, "/stream") || strings.HasSuffix(path, "/countdown")
}

// attemptParam returns the :id of routes under /attempts.
func attemptParam(c *fiber.Ctx, route string) string {
	if !strings.Contains(route, "/attempts/:id") {
		return ""
	}
	return c.Params("id")
}

func routeTemplate(c *fiber.Ctx) string {
	if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
		return r.Path
	}
	return c.Path()
}
