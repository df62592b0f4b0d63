// Package scoring computes the objective score of a submitted attempt.
package scoring

import "github.com/noah-isme/gema-assessment-api/internal/models"

// Outcome explains how a single question was scored.
type Outcome string

const (
	OutcomeCorrect    Outcome = "correct"
	OutcomeIncorrect  Outcome = "incorrect"
	OutcomeUnanswered Outcome = "unanswered"
	OutcomeManual     Outcome = "manual_review"
)

// QuestionResult is the per-question breakdown of a score.
type QuestionResult struct {
	QuestionID uint                `json:"question_id"`
	Type       models.QuestionType `json:"type"`
	Awarded    float64             `json:"awarded"`
	MaxPoints  float64             `json:"max_points"`
	Outcome    Outcome             `json:"outcome"`
}

// Result is the outcome of auto-scoring an attempt.
type Result struct {
	AutoScore         float64          `json:"auto_score"`
	PointsPossible    float64          `json:"points_possible"`
	NeedsManualReview bool             `json:"needs_manual_review"`
	Questions         []QuestionResult `json:"questions"`
}

// Score grades every question of the frozen selection against the answers.
// Multiple choice and true/false questions earn full points or nothing;
// short answers earn nothing here and flag the attempt for manual review.
// Missing answers score zero. Score has no side effects.
func Score(selection []models.Question, answers models.AnswerSheet) Result {
	result := Result{Questions: make([]QuestionResult, 0, len(selection))}

	for _, question := range selection {
		qr := QuestionResult{
			QuestionID: question.ID,
			Type:       question.Type,
			MaxPoints:  question.Points,
		}
		result.PointsPossible += question.Points

		answer, answered := answers[question.ID]

		switch question.Type {
		case models.QuestionTypeMultipleChoice:
			qr.Outcome = scoreChoice(question, answer, answered)
		case models.QuestionTypeTrueFalse:
			qr.Outcome = scoreTrueFalse(question, answer, answered)
		default:
			qr.Outcome = OutcomeManual
			result.NeedsManualReview = true
		}

		if qr.Outcome == OutcomeCorrect {
			qr.Awarded = question.Points
			result.AutoScore += question.Points
		}

		result.Questions = append(result.Questions, qr)
	}

	return result
}

func scoreChoice(question models.Question, answer models.Answer, answered bool) Outcome {
	if !answered || answer.Kind != models.AnswerKindChoice || answer.Choice == nil {
		return OutcomeUnanswered
	}
	if question.Choice != nil && *answer.Choice == question.Choice.CorrectIndex {
		return OutcomeCorrect
	}
	return OutcomeIncorrect
}

func scoreTrueFalse(question models.Question, answer models.Answer, answered bool) Outcome {
	if !answered || answer.Kind != models.AnswerKindBool || answer.Value == "" {
		return OutcomeUnanswered
	}
	if question.TrueFalse != nil && string(answer.Value) == string(question.TrueFalse.Correct) {
		return OutcomeCorrect
	}
	return OutcomeIncorrect
}
