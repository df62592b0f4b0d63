package dto

import (
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// NotificationCreateRequest describes the payload to create a notification.
type NotificationCreateRequest struct {
	UserID   uint   `json:"user_id" validate:"required"`
	CourseID uint   `json:"course_id"`
	Type     string `json:"type" validate:"required,max=64"`
	Message  string `json:"message" validate:"required,min=1,max=2000"`
}

// NotificationListRequest pages through a user's notifications, optionally
// for one course or one kind.
type NotificationListRequest struct {
	CourseID   uint   `query:"course_id"`
	Type       string `query:"type" validate:"omitempty,oneof=assessment.published attempt.submitted grade.released"`
	UnreadOnly bool   `query:"unread"`
	Limit      int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset     int    `query:"offset" validate:"omitempty,min=0"`
}

// NotificationReadAllRequest clears the unread flag of a user's inbox.
type NotificationReadAllRequest struct {
	CourseID uint `query:"course_id"`
}

// NotificationReadAllResponse reports how many notifications changed.
type NotificationReadAllResponse struct {
	Updated int64 `json:"updated"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"user_id"`
	CourseID  uint      `json:"course_id,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		CourseID:  model.CourseID,
		Type:      model.Type,
		Message:   model.Message,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// NotificationListResponse is a page of notifications plus the unread count.
type NotificationListResponse struct {
	Items  []NotificationResponse `json:"items"`
	Unread int64                  `json:"unread"`
}
