package models

import (
	"time"

	"gorm.io/datatypes"
)

// SuggestionKind distinguishes what a content suggestion proposes.
type SuggestionKind string

const (
	SuggestionKindAssessment SuggestionKind = "assessment"
	SuggestionKindGrade      SuggestionKind = "grade"
)

// SuggestionStatus tracks the human review of a draft.
type SuggestionStatus string

const (
	SuggestionStatusPending   SuggestionStatus = "pending"
	SuggestionStatusConfirmed SuggestionStatus = "confirmed"
	SuggestionStatusRejected  SuggestionStatus = "rejected"
)

// SuggestionDraft stores an untrusted generated proposal until staff confirm or reject it.
type SuggestionDraft struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	CourseID    uint             `gorm:"not null;index" json:"course_id"`
	Kind        SuggestionKind   `gorm:"size:32;not null" json:"kind"`
	AttemptID   *uint            `gorm:"index" json:"attempt_id"`
	RequestedBy uint             `gorm:"not null" json:"requested_by"`
	Status      SuggestionStatus `gorm:"size:16;not null;index" json:"status"`
	Payload     datatypes.JSON   `json:"payload"`
	ResolvedBy  *uint            `json:"resolved_by"`
	ResolvedAt  *time.Time       `json:"resolved_at"`
	ResultID    *uint            `json:"result_id"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
