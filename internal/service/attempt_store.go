package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/gradebook"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/internal/session"
)

// attemptStore persists session writes and keeps the student's gradebook row
// for the assessment in the same transaction.
type attemptStore struct {
	attempts    repository.AttemptRepository
	assessments repository.AssessmentRepository
	policy      string
}

func (st *attemptStore) CreateAttempt(ctx context.Context, attempt *models.Attempt) error {
	return st.attempts.Create(ctx, attempt)
}

// SaveAttempt reports version conflicts as session.ErrStale while keeping
// repository.ErrAttemptConflict in the chain for the HTTP mapping.
func (st *attemptStore) SaveAttempt(ctx context.Context, attempt *models.Attempt) error {
	grade, err := st.gradedItem(ctx, *attempt)
	if err != nil {
		return err
	}
	if err := st.attempts.Save(ctx, attempt, grade); err != nil {
		if errors.Is(err, repository.ErrAttemptConflict) {
			return fmt.Errorf("%w: %w", session.ErrStale, err)
		}
		return err
	}
	return nil
}

func (st *attemptStore) LoadAttempt(ctx context.Context, id uint) (models.Attempt, error) {
	return st.attempts.FindByID(ctx, id)
}

// gradedItem returns the row the gradebook should hold after the attempt is
// saved, or nil when the row must stay as it is.
func (st *attemptStore) gradedItem(ctx context.Context, attempt models.Attempt) (*models.GradedItem, error) {
	if !attempt.State.Scored() {
		return nil, nil
	}

	source := attempt
	switch st.policy {
	case config.ScorePolicyHighest:
		best, err := st.attempts.BestReleased(ctx, attempt.AssessmentID, attempt.StudentID, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("find best attempt: %w", err)
		}
		if best != nil && !(attempt.Released && attempt.Score != nil && *attempt.Score >= *best.Score) {
			source = *best
		}
	default:
		newer, err := st.newerScoredAttempt(ctx, attempt)
		if err != nil {
			return nil, err
		}
		if newer {
			return nil, nil
		}
	}

	assessment, err := st.assessments.FindByID(ctx, attempt.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("load assessment for gradebook: %w", err)
	}

	gradedAt := source.GradedAt
	if gradedAt == nil {
		gradedAt = source.SubmittedAt
	}

	item := &models.GradedItem{
		CourseID:       attempt.CourseID,
		StudentID:      attempt.StudentID,
		SourceType:     models.GradedItemSourceAssessment,
		SourceID:       attempt.AssessmentID,
		Title:          assessment.Title,
		Category:       gradebook.NormalizeCategory(assessment.GradebookCategory()),
		PointsPossible: source.PointsPossible,
		Released:       source.Released,
		GradedBy:       source.GradedBy,
		GradedAt:       gradedAt,
	}
	if source.Released && source.Score != nil {
		score := *source.Score
		item.Score = &score
	}
	return item, nil
}

// newerScoredAttempt reports whether a later attempt already owns the
// gradebook row under the latest policy.
func (st *attemptStore) newerScoredAttempt(ctx context.Context, attempt models.Attempt) (bool, error) {
	attempts, _, err := st.attempts.List(ctx, repository.AttemptFilter{
		AssessmentID: attempt.AssessmentID,
		StudentID:    attempt.StudentID,
		States: []models.AttemptState{
			models.AttemptStateAutoGraded,
			models.AttemptStatePendingManualReview,
			models.AttemptStateReleased,
		},
	})
	if err != nil {
		return false, fmt.Errorf("list scored attempts: %w", err)
	}
	for _, other := range attempts {
		if other.AttemptNumber > attempt.AttemptNumber {
			return true, nil
		}
	}
	return false, nil
}
