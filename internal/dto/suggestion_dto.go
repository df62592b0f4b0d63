package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// AssessmentSuggestionRequest asks the assistant for a draft assessment.
type AssessmentSuggestionRequest struct {
	Topic         string   `json:"topic" validate:"required,max=500"`
	CourseContext string   `json:"course_context" validate:"max=2000"`
	QuestionCount int      `json:"question_count" validate:"omitempty,min=1,max=30"`
	QuestionTypes []string `json:"question_types" validate:"omitempty,dive,oneof=multiple_choice true_false short_answer"`
}

// SuggestionConfirmRequest accepts a draft, optionally with staff edits.
// Assessment drafts need a due date; Assessment replaces the draft entirely
// when present. Grade drafts take Score and Feedback overrides.
type SuggestionConfirmRequest struct {
	DueAt      *time.Time         `json:"due_at"`
	Assessment *AssessmentRequest `json:"assessment" validate:"omitempty"`
	Score      *float64           `json:"score" validate:"omitempty,gte=0"`
	Feedback   *string            `json:"feedback" validate:"omitempty,max=5000"`
}

// SuggestionResponse is a stored draft and its review outcome.
type SuggestionResponse struct {
	ID          uint            `json:"id"`
	CourseID    uint            `json:"course_id"`
	Kind        string          `json:"kind"`
	AttemptID   *uint           `json:"attempt_id,omitempty"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	RequestedBy uint            `json:"requested_by"`
	ResolvedBy  *uint           `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	ResultID    *uint           `json:"result_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewSuggestionResponse converts a stored draft.
func NewSuggestionResponse(draft models.SuggestionDraft) SuggestionResponse {
	return SuggestionResponse{
		ID:          draft.ID,
		CourseID:    draft.CourseID,
		Kind:        string(draft.Kind),
		AttemptID:   draft.AttemptID,
		Status:      string(draft.Status),
		Payload:     json.RawMessage(draft.Payload),
		RequestedBy: draft.RequestedBy,
		ResolvedBy:  draft.ResolvedBy,
		ResolvedAt:  draft.ResolvedAt,
		ResultID:    draft.ResultID,
		CreatedAt:   draft.CreatedAt,
	}
}
