package models

import (
	"strings"
	"time"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
)

// AutoGradable reports whether the type can be scored without human judgment.
func (t QuestionType) AutoGradable() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeTrueFalse
}

// Valid reports whether the type is one of the supported kinds.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeTrueFalse, QuestionTypeShortAnswer:
		return true
	default:
		return false
	}
}

// TruthValue is the textual boolean used by true/false questions.
type TruthValue string

const (
	TruthTrue  TruthValue = "True"
	TruthFalse TruthValue = "False"
)

// Valid reports whether the value is exactly "True" or "False".
func (v TruthValue) Valid() bool {
	return v == TruthTrue || v == TruthFalse
}

// ChoiceSpec holds the options and key of a multiple-choice question.
type ChoiceSpec struct {
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
}

// TrueFalseSpec holds the key of a true/false question.
type TrueFalseSpec struct {
	Correct TruthValue `json:"correct"`
}

// ShortAnswerSpec holds the optional reference answer shown to graders.
type ShortAnswerSpec struct {
	ReferenceAnswer string `json:"reference_answer,omitempty"`
}

// Question is one entry of an assessment's bank. Exactly one of the typed
// specs is populated, matching Type.
type Question struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	AssessmentID uint             `gorm:"not null;index" json:"assessment_id"`
	Position     int              `gorm:"not null" json:"position"`
	Type         QuestionType     `gorm:"size:32;not null" json:"type"`
	Prompt       string           `gorm:"type:text;not null" json:"prompt"`
	Points       float64          `gorm:"not null" json:"points"`
	Choice       *ChoiceSpec      `gorm:"type:text;serializer:json" json:"choice,omitempty"`
	TrueFalse    *TrueFalseSpec   `gorm:"type:text;serializer:json" json:"true_false,omitempty"`
	ShortAnswer  *ShortAnswerSpec `gorm:"type:text;serializer:json" json:"short_answer,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Validate checks the question's definition-time invariants.
func (q Question) Validate() error {
	verr := &ValidationError{}
	q.collectErrors(verr, "question")
	return verr.OrNil()
}

func (q Question) collectErrors(verr *ValidationError, prefix string) {
	if strings.TrimSpace(q.Prompt) == "" {
		verr.Add(prefix+".prompt", "is required")
	}
	if q.Points < 0 {
		verr.Add(prefix+".points", "must not be negative")
	}

	switch q.Type {
	case QuestionTypeMultipleChoice:
		if q.Choice == nil {
			verr.Add(prefix+".choice", "is required for multiple choice questions")
			return
		}
		nonEmpty := 0
		for _, option := range q.Choice.Options {
			if strings.TrimSpace(option) != "" {
				nonEmpty++
			}
		}
		if nonEmpty != len(q.Choice.Options) {
			verr.Add(prefix+".choice.options", "must not contain empty options")
		}
		if len(q.Choice.Options) < 2 {
			verr.Add(prefix+".choice.options", "at least two options are required")
		}
		if q.Choice.CorrectIndex < 0 || q.Choice.CorrectIndex >= len(q.Choice.Options) {
			verr.Addf(prefix+".choice.correct_index", "must be between 0 and %d", len(q.Choice.Options)-1)
		}
	case QuestionTypeTrueFalse:
		if q.TrueFalse == nil || !q.TrueFalse.Correct.Valid() {
			verr.Add(prefix+".true_false.correct", `must be "True" or "False"`)
		}
	case QuestionTypeShortAnswer:
	default:
		verr.Addf(prefix+".type", "unsupported question type %q", q.Type)
	}
}

// Snapshot returns a deep copy that shares no mutable state with the bank.
func (q Question) Snapshot() Question {
	out := q
	if q.Choice != nil {
		choice := *q.Choice
		choice.Options = append([]string(nil), q.Choice.Options...)
		out.Choice = &choice
	}
	if q.TrueFalse != nil {
		tf := *q.TrueFalse
		out.TrueFalse = &tf
	}
	if q.ShortAnswer != nil {
		sa := *q.ShortAnswer
		out.ShortAnswer = &sa
	}
	return out
}

// SnapshotQuestions deep copies a question slice.
func SnapshotQuestions(questions []Question) []Question {
	out := make([]Question, len(questions))
	for i, question := range questions {
		out[i] = question.Snapshot()
	}
	return out
}
