package dto

import (
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/scoring"
)

// AnswerRequest carries one answer. Kind selects which field is read.
type AnswerRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=choice bool text"`
	Choice *int   `json:"choice"`
	Value  string `json:"value" validate:"max=5"`
	Text   string `json:"text" validate:"max=10000"`
}

// ToModel converts the request into a domain answer.
func (r AnswerRequest) ToModel() models.Answer {
	switch models.AnswerKind(r.Kind) {
	case models.AnswerKindChoice:
		answer := models.Answer{Kind: models.AnswerKindChoice}
		if r.Choice != nil {
			index := *r.Choice
			answer.Choice = &index
		}
		return answer
	case models.AnswerKindBool:
		return models.BoolAnswer(models.TruthValue(r.Value))
	default:
		return models.TextAnswer(r.Text)
	}
}

// AttemptListRequest filters attempt listings.
type AttemptListRequest struct {
	CourseID     uint   `query:"course_id"`
	AssessmentID uint   `query:"assessment_id"`
	StudentID    uint   `query:"student_id"`
	State        string `query:"state" validate:"omitempty,oneof=in_progress auto_graded pending_manual_review released"`
	Page         int    `query:"page" validate:"omitempty,min=1"`
	PageSize     int    `query:"page_size" validate:"omitempty,min=1,max=100"`
}

// AttemptQuestionResponse is a question as served inside an attempt.
type AttemptQuestionResponse struct {
	QuestionResponse
	Answer  *models.Answer  `json:"answer,omitempty"`
	Awarded *float64        `json:"awarded,omitempty"`
	Outcome scoring.Outcome `json:"outcome,omitempty"`
}

// AttemptResponse describes an attempt. Scores and keys are withheld from
// students until the attempt is released.
type AttemptResponse struct {
	ID                uint                      `json:"id"`
	AssessmentID      uint                      `json:"assessment_id"`
	CourseID          uint                      `json:"course_id"`
	StudentID         uint                      `json:"student_id"`
	AttemptNumber     int                       `json:"attempt_number"`
	State             string                    `json:"state"`
	SubmitReason      string                    `json:"submit_reason,omitempty"`
	StartedAt         time.Time                 `json:"started_at"`
	DeadlineAt        *time.Time                `json:"deadline_at,omitempty"`
	SubmittedAt       *time.Time                `json:"submitted_at,omitempty"`
	RemainingSeconds  *int64                    `json:"remaining_seconds,omitempty"`
	PointsPossible    float64                   `json:"points_possible"`
	AutoScore         *float64                  `json:"auto_score,omitempty"`
	Score             *float64                  `json:"score"`
	NeedsManualReview bool                      `json:"needs_manual_review"`
	Released          bool                      `json:"released"`
	Feedback          string                    `json:"feedback,omitempty"`
	GradedBy          *uint                     `json:"graded_by,omitempty"`
	GradedAt          *time.Time                `json:"graded_at,omitempty"`
	Version           int                       `json:"version"`
	Questions         []AttemptQuestionResponse `json:"questions"`
}

// NewAttemptResponse renders an attempt for a student (staff=false) or a grader.
func NewAttemptResponse(attempt models.Attempt, now time.Time, staff bool) AttemptResponse {
	response := AttemptResponse{
		ID:                attempt.ID,
		AssessmentID:      attempt.AssessmentID,
		CourseID:          attempt.CourseID,
		StudentID:         attempt.StudentID,
		AttemptNumber:     attempt.AttemptNumber,
		State:             string(attempt.State),
		SubmitReason:      string(attempt.SubmitReason),
		StartedAt:         attempt.StartedAt,
		DeadlineAt:        attempt.DeadlineAt,
		SubmittedAt:       attempt.SubmittedAt,
		PointsPossible:    attempt.PointsPossible,
		NeedsManualReview: attempt.NeedsManualReview,
		Released:          attempt.Released,
		Version:           attempt.Version,
	}

	if attempt.State == models.AttemptStateInProgress && attempt.DeadlineAt != nil {
		remaining := int64(attempt.RemainingAt(now).Seconds())
		response.RemainingSeconds = &remaining
	}

	revealed := staff || attempt.Released
	if revealed {
		response.Score = attempt.Score
		response.Feedback = attempt.Feedback
		response.GradedBy = attempt.GradedBy
		response.GradedAt = attempt.GradedAt
	}
	if staff && attempt.State.Scored() {
		autoScore := attempt.AutoScore
		response.AutoScore = &autoScore
	}

	selection := attempt.FrozenSelection()
	answers := attempt.AnswerSheet()
	var outcomes map[uint]scoring.QuestionResult
	if revealed && attempt.State.Scored() {
		result := scoring.Score(selection, answers)
		outcomes = make(map[uint]scoring.QuestionResult, len(result.Questions))
		for _, question := range result.Questions {
			outcomes[question.QuestionID] = question
		}
	}

	response.Questions = make([]AttemptQuestionResponse, 0, len(selection))
	for i, question := range selection {
		item := AttemptQuestionResponse{QuestionResponse: NewQuestionResponse(question, revealed && attempt.State.Scored())}
		item.Position = i
		if answer, ok := answers[question.ID]; ok {
			answer := answer
			item.Answer = &answer
		}
		if outcome, ok := outcomes[question.ID]; ok {
			awarded := outcome.Awarded
			item.Awarded = &awarded
			item.Outcome = outcome.Outcome
		}
		response.Questions = append(response.Questions, item)
	}

	return response
}

// AttemptListResponse is a page of attempts.
type AttemptListResponse struct {
	Items      []AttemptResponse `json:"items"`
	Pagination PaginationMeta    `json:"pagination"`
}

// TimeRemainingResponse reports an attempt's countdown.
type TimeRemainingResponse struct {
	AttemptID        uint       `json:"attempt_id"`
	State            string     `json:"state"`
	Unlimited        bool       `json:"unlimited"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	DeadlineAt       *time.Time `json:"deadline_at,omitempty"`
}

// GradeReleaseRequest is a staff score and feedback for an attempt as a whole.
type GradeReleaseRequest struct {
	Score    *float64 `json:"score" validate:"required,gte=0"`
	Feedback string   `json:"feedback" validate:"max=5000"`
}
