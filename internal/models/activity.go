package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog is one entry in a course's grading audit trail: releases,
// regrades, external grades, weight changes and suggestion decisions.
type ActivityLog struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	CourseID      uint              `gorm:"not null;index:idx_activity_course_created,priority:1" json:"course_id"`
	ActorID       uint              `gorm:"not null;index" json:"actor_id"`
	ActorRole     string            `gorm:"size:32;not null" json:"actor_role"`
	Action        string            `gorm:"size:64;not null;index" json:"action"`
	EntityType    string            `gorm:"size:64;not null" json:"entity_type"`
	EntityID      *uint             `json:"entity_id"`
	CorrelationID string            `gorm:"size:64" json:"correlation_id,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time         `gorm:"index:idx_activity_course_created,priority:2" json:"created_at"`
}

// TableName pins the audit table name.
func (ActivityLog) TableName() string {
	return "grading_activity_logs"
}
