package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

func newAttempt(assessmentID, studentID uint, number int) models.Attempt {
	questions := []models.Question{
		{ID: 1, Type: models.QuestionTypeMultipleChoice, Prompt: "q", Points: 2, Choice: &models.ChoiceSpec{Options: []string{"a", "b"}, CorrectIndex: 0}},
	}
	return models.Attempt{
		AssessmentID:  assessmentID,
		StudentID:     studentID,
		CourseID:      5,
		AttemptNumber: number,
		Seed:          99,
		State:         models.AttemptStateInProgress,
		StartedAt:     time.Now(),
		Selection:     datatypes.NewJSONType(questions),
		Answers:       datatypes.NewJSONType(models.AnswerSheet{}),
	}
}

func TestAttemptRepositoryVersionedSave(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	attempt := newAttempt(1, 2, 1)
	require.NoError(t, repo.Create(ctx, &attempt))
	require.Equal(t, 1, attempt.Version)

	stale := attempt.Clone()

	attempt.Answers = datatypes.NewJSONType(models.AnswerSheet{1: models.ChoiceAnswer(0)})
	require.NoError(t, repo.Save(ctx, &attempt, nil))
	require.Equal(t, 2, attempt.Version)

	stale.State = models.AttemptStateSubmitted
	require.ErrorIs(t, repo.Save(ctx, &stale, nil), ErrAttemptConflict)
	require.Equal(t, 1, stale.Version)

	stored, err := repo.FindByID(ctx, attempt.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStateInProgress, stored.State)
	require.Equal(t, 2, stored.Version)
	require.Equal(t, 0, *stored.AnswerSheet()[1].Choice)
	require.Equal(t, "q", stored.FrozenSelection()[0].Prompt)
}

func TestAttemptRepositoryRejectsDuplicateNumber(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	first := newAttempt(1, 2, 1)
	require.NoError(t, repo.Create(ctx, &first))
	duplicate := newAttempt(1, 2, 1)
	require.ErrorIs(t, repo.Create(ctx, &duplicate), ErrAttemptConflict)

	count, err := repo.CountByStudent(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestAttemptRepositorySaveWithGrade(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)
	grades := NewGradeRepository(db)
	ctx := context.Background()

	attempt := newAttempt(1, 2, 1)
	require.NoError(t, repo.Create(ctx, &attempt))

	score := 2.0
	attempt.State = models.AttemptStateAutoGraded
	attempt.Score = &score
	attempt.Released = true
	item := &models.GradedItem{CourseID: 5, StudentID: 2, SourceType: models.GradedItemSourceAssessment, SourceID: 1, Category: "quizzes", PointsPossible: 2, Score: &score, Released: true}
	require.NoError(t, repo.Save(ctx, &attempt, item))

	stored, err := grades.FindBySource(ctx, 2, models.GradedItemSourceAssessment, 1)
	require.NoError(t, err)
	require.Equal(t, 2.0, *stored.Score)

	// a conflicting save must not write the grade either
	stale := attempt.Clone()
	stale.Version = 1
	lower := 0.0
	staleItem := &models.GradedItem{CourseID: 5, StudentID: 2, SourceType: models.GradedItemSourceAssessment, SourceID: 1, Category: "quizzes", PointsPossible: 2, Score: &lower, Released: true}
	require.ErrorIs(t, repo.Save(ctx, &stale, staleItem), ErrAttemptConflict)

	stored, err = grades.FindBySource(ctx, 2, models.GradedItemSourceAssessment, 1)
	require.NoError(t, err)
	require.Equal(t, 2.0, *stored.Score)
}

func TestAttemptRepositoryListingAndBest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	first := newAttempt(1, 2, 1)
	second := newAttempt(1, 2, 2)
	pending := newAttempt(1, 3, 1)
	require.NoError(t, repo.Create(ctx, &first))
	require.NoError(t, repo.Create(ctx, &second))
	require.NoError(t, repo.Create(ctx, &pending))

	high, low := 2.0, 1.0
	first.State, first.Released, first.Score = models.AttemptStateAutoGraded, true, &high
	second.State, second.Released, second.Score = models.AttemptStateAutoGraded, true, &low
	pending.State = models.AttemptStatePendingManualReview
	require.NoError(t, repo.Save(ctx, &first, nil))
	require.NoError(t, repo.Save(ctx, &second, nil))
	require.NoError(t, repo.Save(ctx, &pending, nil))

	best, err := repo.BestReleased(ctx, 1, 2, second.ID)
	require.NoError(t, err)
	require.NotNil(t, best)
	require.Equal(t, first.ID, best.ID)

	none, err := repo.BestReleased(ctx, 1, 3, 0)
	require.NoError(t, err)
	require.Nil(t, none)

	review, total, err := repo.List(ctx, AttemptFilter{CourseID: 5, States: []models.AttemptState{models.AttemptStatePendingManualReview}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, pending.ID, review[0].ID)

	running, err := repo.ListInProgress(ctx)
	require.NoError(t, err)
	require.Empty(t, running)
}
