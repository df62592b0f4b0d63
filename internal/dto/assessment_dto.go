package dto

import (
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/pool"
)

// QuestionInput describes one bank question in an authoring request.
type QuestionInput struct {
	Type            string   `json:"type" validate:"required,oneof=multiple_choice true_false short_answer"`
	Prompt          string   `json:"prompt" validate:"required,max=4000"`
	Points          float64  `json:"points" validate:"gte=0,lte=1000"`
	Options         []string `json:"options" validate:"omitempty,max=20,dive,max=1000"`
	CorrectIndex    *int     `json:"correct_index"`
	Correct         string   `json:"correct"`
	ReferenceAnswer string   `json:"reference_answer" validate:"omitempty,max=4000"`
}

// ToModel converts the input into a question with the typed record of its kind.
func (q QuestionInput) ToModel(position int) models.Question {
	question := models.Question{
		Position: position,
		Type:     models.QuestionType(q.Type),
		Prompt:   q.Prompt,
		Points:   q.Points,
	}

	switch question.Type {
	case models.QuestionTypeMultipleChoice:
		spec := &models.ChoiceSpec{Options: append([]string(nil), q.Options...), CorrectIndex: -1}
		if q.CorrectIndex != nil {
			spec.CorrectIndex = *q.CorrectIndex
		}
		question.Choice = spec
	case models.QuestionTypeTrueFalse:
		question.TrueFalse = &models.TrueFalseSpec{Correct: models.TruthValue(q.Correct)}
	case models.QuestionTypeShortAnswer:
		question.ShortAnswer = &models.ShortAnswerSpec{ReferenceAnswer: q.ReferenceAnswer}
	}

	return question
}

// AssessmentRequest is the authoring payload used to create or replace an assessment.
type AssessmentRequest struct {
	Title            string          `json:"title" validate:"required,max=255"`
	Description      string          `json:"description" validate:"max=10000"`
	Category         string          `json:"category" validate:"omitempty,max=64"`
	DueAt            time.Time       `json:"due_at" validate:"required"`
	TimeLimitMinutes int             `json:"time_limit_minutes" validate:"gte=0,lte=1440"`
	AttemptsAllowed  *int            `json:"attempts_allowed" validate:"omitempty,gte=1"`
	RandomizeOrder   bool            `json:"randomize_order"`
	PoolEnabled      bool            `json:"pool_enabled"`
	PoolSize         int             `json:"pool_size" validate:"gte=0"`
	Questions        []QuestionInput `json:"questions" validate:"required,min=1,max=500,dive"`
}

// ToModel builds an unsaved assessment for the course.
func (r AssessmentRequest) ToModel(courseID, authorID uint) models.Assessment {
	assessment := models.Assessment{
		CourseID:         courseID,
		Title:            r.Title,
		Description:      r.Description,
		Category:         r.Category,
		DueAt:            r.DueAt.UTC(),
		TimeLimitMinutes: r.TimeLimitMinutes,
		AttemptsAllowed:  r.AttemptsAllowed,
		RandomizeOrder:   r.RandomizeOrder,
		PoolEnabled:      r.PoolEnabled,
		PoolSize:         r.PoolSize,
		CreatedBy:        authorID,
		Questions:        make([]models.Question, 0, len(r.Questions)),
	}
	for i, input := range r.Questions {
		assessment.Questions = append(assessment.Questions, input.ToModel(i))
	}
	return assessment
}

// AssessmentListRequest filters a course's assessments.
type AssessmentListRequest struct {
	CourseID uint   `query:"-"`
	Status   string `query:"status" validate:"omitempty,oneof=draft published closed"`
	Page     int    `query:"page" validate:"omitempty,min=1"`
	PageSize int    `query:"page_size" validate:"omitempty,min=1,max=100"`
}

// QuestionResponse is a bank question. Keys are only present in the staff view.
type QuestionResponse struct {
	ID              uint     `json:"id"`
	Position        int      `json:"position"`
	Type            string   `json:"type"`
	Prompt          string   `json:"prompt"`
	Points          float64  `json:"points"`
	Options         []string `json:"options,omitempty"`
	CorrectIndex    *int     `json:"correct_index,omitempty"`
	Correct         string   `json:"correct,omitempty"`
	ReferenceAnswer string   `json:"reference_answer,omitempty"`
}

// NewQuestionResponse converts a question, optionally including its answer key.
func NewQuestionResponse(question models.Question, includeKey bool) QuestionResponse {
	response := QuestionResponse{
		ID:       question.ID,
		Position: question.Position,
		Type:     string(question.Type),
		Prompt:   question.Prompt,
		Points:   question.Points,
	}
	if question.Choice != nil {
		response.Options = append([]string(nil), question.Choice.Options...)
	}
	if !includeKey {
		return response
	}

	switch {
	case question.Choice != nil:
		index := question.Choice.CorrectIndex
		response.CorrectIndex = &index
	case question.TrueFalse != nil:
		response.Correct = string(question.TrueFalse.Correct)
	case question.ShortAnswer != nil:
		response.ReferenceAnswer = question.ShortAnswer.ReferenceAnswer
	}
	return response
}

// AssessmentResponse describes an assessment. Students never receive the bank.
type AssessmentResponse struct {
	ID               uint               `json:"id"`
	CourseID         uint               `json:"course_id"`
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	Category         string             `json:"category"`
	Status           string             `json:"status"`
	DueAt            time.Time          `json:"due_at"`
	TimeLimitMinutes int                `json:"time_limit_minutes"`
	AttemptsAllowed  *int               `json:"attempts_allowed"`
	RandomizeOrder   bool               `json:"randomize_order"`
	PoolEnabled      bool               `json:"pool_enabled"`
	PoolSize         int                `json:"pool_size,omitempty"`
	QuestionCount    int                `json:"question_count"`
	ExpectedPoints   float64            `json:"expected_points"`
	PublishedAt      *time.Time         `json:"published_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	Questions        []QuestionResponse `json:"questions,omitempty"`
}

// NewAssessmentResponse converts an assessment. The staff view includes the
// bank with answer keys.
func NewAssessmentResponse(assessment models.Assessment, staff bool) AssessmentResponse {
	served := len(assessment.Questions)
	if assessment.PoolEnabled && assessment.PoolSize > 0 && assessment.PoolSize < served {
		served = assessment.PoolSize
	}

	response := AssessmentResponse{
		ID:               assessment.ID,
		CourseID:         assessment.CourseID,
		Title:            assessment.Title,
		Description:      assessment.Description,
		Category:         assessment.GradebookCategory(),
		Status:           string(assessment.Status),
		DueAt:            assessment.DueAt,
		TimeLimitMinutes: assessment.TimeLimitMinutes,
		AttemptsAllowed:  assessment.AttemptsAllowed,
		RandomizeOrder:   assessment.RandomizeOrder,
		PoolEnabled:      assessment.PoolEnabled,
		PoolSize:         assessment.PoolSize,
		QuestionCount:    served,
		ExpectedPoints:   pool.ExpectedPoints(assessment.Questions, assessment.PoolEnabled, assessment.PoolSize),
		PublishedAt:      assessment.PublishedAt,
		CreatedAt:        assessment.CreatedAt,
		UpdatedAt:        assessment.UpdatedAt,
	}

	if staff {
		response.QuestionCount = len(assessment.Questions)
		response.Questions = make([]QuestionResponse, 0, len(assessment.Questions))
		for _, question := range assessment.Questions {
			response.Questions = append(response.Questions, NewQuestionResponse(question, true))
		}
	}
	return response
}

// AssessmentListResponse is a page of assessments.
type AssessmentListResponse struct {
	Items      []AssessmentResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}
