package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Assessment{},
		&models.Question{},
		&models.Attempt{},
		&models.GradedItem{},
		&models.CategoryWeight{},
		&models.CourseMember{},
		&models.SuggestionDraft{},
		&models.Notification{},
		&models.ActivityLog{},
	))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func sampleAssessment(courseID uint) models.Assessment {
	return models.Assessment{
		CourseID:         courseID,
		Title:            "Cells",
		Category:         "quizzes",
		Status:           models.AssessmentStatusDraft,
		DueAt:            time.Now().Add(48 * time.Hour),
		TimeLimitMinutes: 15,
		CreatedBy:        1,
		Questions: []models.Question{
			{Type: models.QuestionTypeMultipleChoice, Prompt: "Powerhouse?", Points: 2, Choice: &models.ChoiceSpec{Options: []string{"nucleus", "mitochondria"}, CorrectIndex: 1}},
			{Type: models.QuestionTypeTrueFalse, Prompt: "Plants have walls", Points: 1, TrueFalse: &models.TrueFalseSpec{Correct: models.TruthTrue}},
			{Type: models.QuestionTypeShortAnswer, Prompt: "Explain osmosis", Points: 3, ShortAnswer: &models.ShortAnswerSpec{ReferenceAnswer: "water moves"}},
		},
	}
}

func TestAssessmentRepositoryCreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAssessmentRepository(db)
	ctx := context.Background()

	assessment := sampleAssessment(5)
	require.NoError(t, repo.Create(ctx, &assessment))
	require.NotZero(t, assessment.ID)

	found, err := repo.FindByID(ctx, assessment.ID)
	require.NoError(t, err)
	require.Len(t, found.Questions, 3)
	require.Equal(t, 1, found.Questions[0].Position)
	require.Equal(t, models.QuestionTypeShortAnswer, found.Questions[2].Type)
	require.Equal(t, []string{"nucleus", "mitochondria"}, found.Questions[0].Choice.Options)
	require.Equal(t, models.TruthTrue, found.Questions[1].TrueFalse.Correct)

	_, err = repo.FindByID(ctx, 999)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAssessmentRepositoryUpdateReplacesBank(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAssessmentRepository(db)
	ctx := context.Background()

	assessment := sampleAssessment(5)
	require.NoError(t, repo.Create(ctx, &assessment))

	assessment.Title = "Cells v2"
	assessment.Questions = assessment.Questions[:1]
	require.NoError(t, repo.Update(ctx, &assessment))

	found, err := repo.FindByID(ctx, assessment.ID)
	require.NoError(t, err)
	require.Equal(t, "Cells v2", found.Title)
	require.Len(t, found.Questions, 1)

	var questionCount int64
	require.NoError(t, db.Model(&models.Question{}).Count(&questionCount).Error)
	require.Equal(t, int64(1), questionCount)

	missing := sampleAssessment(5)
	missing.ID = 404
	require.ErrorIs(t, repo.Update(ctx, &missing), gorm.ErrRecordNotFound)
}

func TestAssessmentRepositoryListAndStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAssessmentRepository(db)
	ctx := context.Background()

	first := sampleAssessment(5)
	second := sampleAssessment(5)
	other := sampleAssessment(6)
	require.NoError(t, repo.Create(ctx, &first))
	require.NoError(t, repo.Create(ctx, &second))
	require.NoError(t, repo.Create(ctx, &other))

	now := time.Now()
	require.NoError(t, repo.UpdateStatus(ctx, second.ID, models.AssessmentStatusPublished, &now))

	all, total, err := repo.List(ctx, AssessmentFilter{CourseID: 5})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, all, 2)

	published, total, err := repo.List(ctx, AssessmentFilter{CourseID: 5, Status: models.AssessmentStatusPublished})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, second.ID, published[0].ID)
	require.NotNil(t, published[0].PublishedAt)

	require.ErrorIs(t, repo.UpdateStatus(ctx, 999, models.AssessmentStatusClosed, nil), gorm.ErrRecordNotFound)
}
