package models

import (
	"errors"
	"fmt"
)

var (
	// ErrAnswerTypeMismatch indicates an answer kind that does not fit the question type.
	ErrAnswerTypeMismatch = errors.New("answer does not match question type")
	// ErrChoiceOutOfRange indicates a multiple-choice index outside the option list.
	ErrChoiceOutOfRange = errors.New("choice index out of range")
	// ErrInvalidTruthValue indicates a true/false answer other than "True" or "False".
	ErrInvalidTruthValue = errors.New(`true/false answers must be "True" or "False"`)
)

// AnswerKind tags the variant held by an Answer.
type AnswerKind string

const (
	AnswerKindChoice AnswerKind = "choice"
	AnswerKindBool   AnswerKind = "bool"
	AnswerKindText   AnswerKind = "text"
)

// Answer is a tagged union: ChoiceIndex, BoolValue or Text, keyed by Kind.
type Answer struct {
	Kind   AnswerKind `json:"kind"`
	Choice *int       `json:"choice,omitempty"`
	Value  TruthValue `json:"value,omitempty"`
	Text   string     `json:"text,omitempty"`
}

// AnswerSheet maps question ids to the latest submitted answer.
type AnswerSheet map[uint]Answer

// ChoiceAnswer builds a multiple-choice answer.
func ChoiceAnswer(index int) Answer {
	return Answer{Kind: AnswerKindChoice, Choice: &index}
}

// BoolAnswer builds a true/false answer.
func BoolAnswer(value TruthValue) Answer {
	return Answer{Kind: AnswerKindBool, Value: value}
}

// TextAnswer builds a free-text answer.
func TextAnswer(text string) Answer {
	return Answer{Kind: AnswerKindText, Text: text}
}

// ExpectedAnswerKind returns the answer variant a question type accepts.
func (t QuestionType) ExpectedAnswerKind() AnswerKind {
	switch t {
	case QuestionTypeMultipleChoice:
		return AnswerKindChoice
	case QuestionTypeTrueFalse:
		return AnswerKindBool
	default:
		return AnswerKindText
	}
}

// AcceptAnswer validates an answer against the question's declared type.
func (q Question) AcceptAnswer(answer Answer) error {
	expected := q.Type.ExpectedAnswerKind()
	if answer.Kind != expected {
		return fmt.Errorf("%w: question %d expects %s", ErrAnswerTypeMismatch, q.ID, expected)
	}

	switch answer.Kind {
	case AnswerKindChoice:
		if answer.Choice == nil {
			return fmt.Errorf("%w: choice is required", ErrAnswerTypeMismatch)
		}
		options := 0
		if q.Choice != nil {
			options = len(q.Choice.Options)
		}
		if *answer.Choice < 0 || *answer.Choice >= options {
			return ErrChoiceOutOfRange
		}
	case AnswerKindBool:
		if !answer.Value.Valid() {
			return ErrInvalidTruthValue
		}
	}

	return nil
}

// Clone returns an independent copy of the sheet.
func (s AnswerSheet) Clone() AnswerSheet {
	out := make(AnswerSheet, len(s))
	for id, answer := range s {
		if answer.Choice != nil {
			index := *answer.Choice
			answer.Choice = &index
		}
		out[id] = answer
	}
	return out
}
