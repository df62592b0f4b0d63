package dto

import (
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// ActivityListRequest filters the grading audit trail of a course.
type ActivityListRequest struct {
	CourseID   uint   `query:"-"`
	ActorID    uint   `query:"actor_id"`
	Action     string `query:"action" validate:"omitempty,max=64"`
	EntityType string `query:"entity_type" validate:"omitempty,max=64"`
	EntityID   uint   `query:"entity_id"`
	Since      string `query:"since" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Until      string `query:"until" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Page       int    `query:"page" validate:"omitempty,min=1"`
	PageSize   int    `query:"page_size" validate:"omitempty,min=1,max=100"`
}

// ActivityResponse represents an audit entry.
type ActivityResponse struct {
	ID            uint                   `json:"id"`
	CourseID      uint                   `json:"course_id"`
	ActorID       uint                   `json:"actor_id"`
	ActorRole     string                 `json:"actor_role"`
	Action        string                 `json:"action"`
	EntityType    string                 `json:"entity_type"`
	EntityID      *uint                  `json:"entity_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewActivityResponse converts an activity log model.
func NewActivityResponse(model models.ActivityLog) ActivityResponse {
	return ActivityResponse{
		ID:            model.ID,
		CourseID:      model.CourseID,
		ActorID:       model.ActorID,
		ActorRole:     model.ActorRole,
		Action:        model.Action,
		EntityType:    model.EntityType,
		EntityID:      model.EntityID,
		CorrelationID: model.CorrelationID,
		Metadata:      map[string]interface{}(model.Metadata),
		CreatedAt:     model.CreatedAt,
	}
}

// ActivityListResponse is a page of audit entries.
type ActivityListResponse struct {
	Items      []ActivityResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}
