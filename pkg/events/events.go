// Package events carries assessment domain events to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types double as routing keys.
const (
	TypeAttemptSubmitted    = "attempt.submitted"
	TypeAttemptReleased     = "attempt.released"
	TypeAttemptRegraded     = "attempt.regraded"
	TypeAssessmentPublished = "assessment.published"
	TypeGradeRecorded       = "grade.recorded"
)

// Event is the JSON envelope published for every domain event.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	CourseID     uint      `json:"course_id"`
	AssessmentID uint      `json:"assessment_id,omitempty"`
	AttemptID    uint      `json:"attempt_id,omitempty"`
	StudentID    uint      `json:"student_id,omitempty"`
	State        string    `json:"state,omitempty"`
	Score        *float64  `json:"score,omitempty"`
	Points       float64   `json:"points_possible,omitempty"`
}

// New stamps an event with an id and the current time.
func New(eventType string, courseID uint) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		CourseID:   courseID,
	}
}

// Publisher hands events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type nopPublisher struct{}

// NopPublisher discards events. It is used when no broker is configured.
func NopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

func (nopPublisher) Close() error { return nil }
