package models

import "time"

// Notification kinds emitted by the assessment engine.
const (
	NotificationKindPublished = "assessment.published"
	NotificationKindSubmitted = "attempt.submitted"
	NotificationKindReleased  = "grade.released"
)

// Notification is a message addressed to a single user.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	CourseID  uint      `gorm:"index" json:"course_id"`
	Type      string    `gorm:"size:64;not null" json:"type"`
	Message   string    `gorm:"type:text" json:"message"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
