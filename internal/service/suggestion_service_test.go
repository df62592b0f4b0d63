package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/pkg/ai"
)

type stubSuggester struct {
	assessment ai.AssessmentDraft
	grade      ai.GradeDraft
	err        error
	graded     ai.GradeRequest
}

func (s *stubSuggester) DraftAssessment(context.Context, ai.AssessmentRequest) (ai.AssessmentDraft, error) {
	return s.assessment, s.err
}

func (s *stubSuggester) DraftGrade(_ context.Context, req ai.GradeRequest) (ai.GradeDraft, error) {
	s.graded = req
	return s.grade, s.err
}

func setupSuggestionService(t *testing.T, suggester ai.Suggester) (SuggestionService, *attemptFixture, *recordingActivity) {
	t.Helper()
	f := newAttemptFixture(t, config.ScorePolicyLatest)
	validate := validator.New(validator.WithRequiredStructEnabled())
	assessments := NewAssessmentService(f.assessments, f.access, f.notifier, f.publisher, validate, testLogger())
	activity := &recordingActivity{}

	svc := NewSuggestionService(
		repository.NewSuggestionRepository(f.db),
		suggester,
		f.attempts,
		assessments,
		f.service,
		f.access,
		activity,
		validate,
		testLogger(),
	)
	return svc, f, activity
}

func draftQuiz() ai.AssessmentDraft {
	correct := 0
	return ai.AssessmentDraft{
		Title:       "Cell organelles",
		Description: "Generated draft",
		Questions: []ai.DraftQuestion{
			{Type: "multiple_choice", Prompt: "Which makes ATP?", Points: 2, Options: []string{"Mitochondria", "Ribosome"}, CorrectIndex: &correct},
			{Type: "true_false", Prompt: "Ribosomes make proteins", Points: 1, Correct: "True"},
		},
	}
}

func TestSuggestionServiceDisabledWithoutSuggester(t *testing.T) {
	svc, _, _ := setupSuggestionService(t, nil)

	_, err := svc.DraftAssessment(context.Background(), teacher, testCourseID, dto.AssessmentSuggestionRequest{Topic: "Cells"})
	require.ErrorIs(t, err, ErrSuggestionsDisabled)
}

func TestSuggestionServiceConfirmAssessmentDraft(t *testing.T) {
	svc, f, activity := setupSuggestionService(t, &stubSuggester{assessment: draftQuiz()})
	ctx := context.Background()

	_, err := svc.DraftAssessment(ctx, student, testCourseID, dto.AssessmentSuggestionRequest{Topic: "Cells"})
	require.ErrorIs(t, err, ErrCourseAccessDenied)

	draft, err := svc.DraftAssessment(ctx, teacher, testCourseID, dto.AssessmentSuggestionRequest{Topic: "Cells", QuestionCount: 2})
	require.NoError(t, err)
	require.Equal(t, string(models.SuggestionStatusPending), draft.Status)
	require.Equal(t, string(models.SuggestionKindAssessment), draft.Kind)

	// Nothing is created until the draft is confirmed.
	list, _, err := f.assessments.List(ctx, repository.AssessmentFilter{CourseID: testCourseID})
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = svc.Confirm(ctx, teacher, draft.ID, dto.SuggestionConfirmRequest{})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))

	due := time.Date(2024, time.April, 1, 12, 0, 0, 0, time.UTC)
	confirmed, err := svc.Confirm(ctx, teacher, draft.ID, dto.SuggestionConfirmRequest{DueAt: &due})
	require.NoError(t, err)
	require.Equal(t, string(models.SuggestionStatusConfirmed), confirmed.Status)
	require.NotNil(t, confirmed.ResultID)

	created, err := f.assessments.FindByID(ctx, *confirmed.ResultID)
	require.NoError(t, err)
	require.Equal(t, "Cell organelles", created.Title)
	require.Equal(t, models.AssessmentStatusDraft, created.Status)
	require.Len(t, created.Questions, 2)

	_, err = svc.Confirm(ctx, teacher, draft.ID, dto.SuggestionConfirmRequest{DueAt: &due})
	require.ErrorIs(t, err, ErrSuggestionResolved)
	require.Contains(t, activity.actions(), ActivityDraftConfirmed)
}

func TestSuggestionServiceGradeDraftAppliesThroughRelease(t *testing.T) {
	suggester := &stubSuggester{grade: ai.GradeDraft{Score: 2, Feedback: "Mentions water movement"}}
	svc, f, _ := setupSuggestionService(t, suggester)
	ctx := context.Background()

	assessment := f.assessment(t, func(a *models.Assessment) {
		a.Questions = append(a.Questions, models.Question{
			Type:        models.QuestionTypeShortAnswer,
			Prompt:      "Explain osmosis",
			Points:      3,
			ShortAnswer: &models.ShortAnswerSpec{ReferenceAnswer: "water moves"},
		})
	})
	started, err := f.service.Start(ctx, student, assessment.ID)
	require.NoError(t, err)
	f.answerAll(t, started, true)
	_, err = f.service.Submit(ctx, student, started.ID)
	require.NoError(t, err)

	draft, err := svc.DraftGrade(ctx, teacher, started.ID)
	require.NoError(t, err)
	require.Len(t, suggester.graded.Questions, 1)
	require.Equal(t, "water moves across a membrane", suggester.graded.Questions[0].StudentAnswer)
	require.InDelta(t, 3.0, suggester.graded.MaxPoints, 1e-9)

	var payload gradeSuggestion
	require.NoError(t, json.Unmarshal(draft.Payload, &payload))
	require.InDelta(t, 5.0, payload.Score, 1e-9)

	// The attempt stays pending until staff confirm.
	pending, err := f.attempts.FindByID(ctx, started.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatePendingManualReview, pending.State)

	override := "Good, expand on pressure"
	_, err = svc.Confirm(ctx, teacher, draft.ID, dto.SuggestionConfirmRequest{Feedback: &override})
	require.NoError(t, err)

	released, err := f.attempts.FindByID(ctx, started.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStateReleased, released.State)
	require.InDelta(t, 5.0, *released.Score, 1e-9)
	require.Equal(t, override, released.Feedback)
}

func TestSuggestionServiceRejectLeavesStateUntouched(t *testing.T) {
	svc, f, activity := setupSuggestionService(t, &stubSuggester{assessment: draftQuiz()})
	ctx := context.Background()

	draft, err := svc.DraftAssessment(ctx, teacher, testCourseID, dto.AssessmentSuggestionRequest{Topic: "Cells"})
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, teacher, draft.ID)
	require.NoError(t, err)
	require.Equal(t, string(models.SuggestionStatusRejected), rejected.Status)
	require.Nil(t, rejected.ResultID)

	list, _, err := f.assessments.List(ctx, repository.AssessmentFilter{CourseID: testCourseID})
	require.NoError(t, err)
	require.Empty(t, list)

	pending, err := svc.List(ctx, teacher, testCourseID, string(models.SuggestionStatusPending))
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = svc.Reject(ctx, teacher, 999)
	require.ErrorIs(t, err, ErrSuggestionNotFound)
	require.Contains(t, activity.actions(), ActivityDraftRejected)
}
