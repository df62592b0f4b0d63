package ai

import "context"

// AssessmentRequest asks for a draft quiz on a topic.
type AssessmentRequest struct {
	Topic         string
	CourseContext string
	QuestionCount int
	QuestionTypes []string
}

// DraftQuestion is one proposed question. Only the fields of its type are set.
type DraftQuestion struct {
	Type            string   `json:"type"`
	Prompt          string   `json:"prompt"`
	Points          float64  `json:"points"`
	Options         []string `json:"options,omitempty"`
	CorrectIndex    *int     `json:"correct_index,omitempty"`
	Correct         string   `json:"correct,omitempty"`
	ReferenceAnswer string   `json:"reference_answer,omitempty"`
}

// AssessmentDraft is a proposed assessment awaiting staff review.
type AssessmentDraft struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Questions   []DraftQuestion `json:"questions"`
}

// GradeRequest asks for a draft score of a short-answer attempt.
type GradeRequest struct {
	Questions []GradeQuestion
	MaxPoints float64
}

// GradeQuestion pairs a short-answer prompt with the student's answer.
type GradeQuestion struct {
	Prompt          string
	ReferenceAnswer string
	StudentAnswer   string
	Points          float64
}

// GradeDraft is a proposed whole-attempt score and feedback.
type GradeDraft struct {
	Score     float64 `json:"score"`
	Feedback  string  `json:"feedback"`
	Rationale string  `json:"rationale,omitempty"`
}

// Suggester proposes content for staff to confirm, edit or reject.
type Suggester interface {
	DraftAssessment(ctx context.Context, req AssessmentRequest) (AssessmentDraft, error)
	DraftGrade(ctx context.Context, req GradeRequest) (GradeDraft, error)
}
