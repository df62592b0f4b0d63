package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/pkg/events"
)

// publishEvent hands an event to the broker. Failures are logged and counted;
// the originating write has already been committed.
func publishEvent(ctx context.Context, publisher events.Publisher, logger zerolog.Logger, event events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		observability.DomainEventsPublished().WithLabelValues(event.Type, "error").Inc()
		logger.Warn().Err(err).Str("event_type", event.Type).Str("event_id", event.ID).Msg("failed to publish domain event")
		return
	}
	observability.DomainEventsPublished().WithLabelValues(event.Type, "ok").Inc()
}

func attemptEvent(eventType string, attempt models.Attempt) events.Event {
	event := events.New(eventType, attempt.CourseID)
	event.AssessmentID = attempt.AssessmentID
	event.AttemptID = attempt.ID
	event.StudentID = attempt.StudentID
	event.State = string(attempt.State)
	event.Points = attempt.PointsPossible
	if attempt.Released && attempt.Score != nil {
		score := *attempt.Score
		event.Score = &score
	}
	return event
}
