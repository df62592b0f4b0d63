package models

import (
	"time"

	"gorm.io/datatypes"
)

// AttemptState is the lifecycle state of an attempt.
type AttemptState string

const (
	AttemptStateNotStarted          AttemptState = "not_started"
	AttemptStateInProgress          AttemptState = "in_progress"
	AttemptStateSubmitted           AttemptState = "submitted"
	AttemptStateTimedOut            AttemptState = "timed_out"
	AttemptStateAutoGraded          AttemptState = "auto_graded"
	AttemptStatePendingManualReview AttemptState = "pending_manual_review"
	AttemptStateReleased            AttemptState = "released"
)

// Scored reports whether the attempt has left the in-progress phase and been scored.
func (s AttemptState) Scored() bool {
	switch s {
	case AttemptStateAutoGraded, AttemptStatePendingManualReview, AttemptStateReleased:
		return true
	default:
		return false
	}
}

// SubmitReason records which path closed the attempt.
type SubmitReason string

const (
	SubmitReasonManual  SubmitReason = "manual"
	SubmitReasonTimeout SubmitReason = "timeout"
)

// Attempt is one student's pass at an assessment. Selection is frozen at start.
type Attempt struct {
	ID                uint                                `gorm:"primaryKey" json:"id"`
	AssessmentID      uint                                `gorm:"not null;uniqueIndex:idx_attempt_number" json:"assessment_id"`
	StudentID         uint                                `gorm:"not null;uniqueIndex:idx_attempt_number;index" json:"student_id"`
	AttemptNumber     int                                 `gorm:"not null;uniqueIndex:idx_attempt_number" json:"attempt_number"`
	CourseID          uint                                `gorm:"not null;index" json:"course_id"`
	Seed              int64                               `gorm:"not null" json:"-"`
	Selection         datatypes.JSONType[[]Question]      `json:"-"`
	Answers           datatypes.JSONType[AnswerSheet]     `json:"-"`
	State             AttemptState                        `gorm:"size:32;not null;index" json:"state"`
	SubmitReason      SubmitReason                        `gorm:"size:16" json:"submit_reason,omitempty"`
	AutoScore         float64                             `gorm:"not null;default:0" json:"auto_score"`
	PointsPossible    float64                             `gorm:"not null;default:0" json:"points_possible"`
	Score             *float64                            `json:"score"`
	NeedsManualReview bool                                `gorm:"not null;default:false" json:"needs_manual_review"`
	Released          bool                                `gorm:"not null;default:false" json:"released"`
	Feedback          string                              `gorm:"type:text" json:"feedback"`
	StartedAt         time.Time                           `gorm:"not null" json:"started_at"`
	DeadlineAt        *time.Time                          `json:"deadline_at"`
	SubmittedAt       *time.Time                          `json:"submitted_at"`
	GradedBy          *uint                               `json:"graded_by"`
	GradedAt          *time.Time                          `json:"graded_at"`
	Version           int                                 `gorm:"not null;default:1" json:"version"`
	CreatedAt         time.Time                           `json:"created_at"`
	UpdatedAt         time.Time                           `json:"updated_at"`
}

// FrozenSelection returns the question snapshot captured at start.
func (a Attempt) FrozenSelection() []Question {
	return a.Selection.Data()
}

// AnswerSheet returns a copy of the buffered answers.
func (a Attempt) AnswerSheet() AnswerSheet {
	sheet := a.Answers.Data()
	if sheet == nil {
		return AnswerSheet{}
	}
	return sheet.Clone()
}

// Question looks up a question of the frozen selection by id.
func (a Attempt) Question(id uint) (Question, bool) {
	for _, question := range a.Selection.Data() {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Clone returns a copy whose answer buffer can be mutated independently.
func (a Attempt) Clone() Attempt {
	out := a
	out.Answers = datatypes.NewJSONType(a.AnswerSheet())
	if a.Score != nil {
		score := *a.Score
		out.Score = &score
	}
	return out
}

// RemainingAt returns the time left before the deadline, zero when expired or unlimited.
func (a Attempt) RemainingAt(reference time.Time) time.Duration {
	if a.DeadlineAt == nil {
		return 0
	}
	remaining := a.DeadlineAt.Sub(reference)
	if remaining < 0 {
		return 0
	}
	return remaining
}
