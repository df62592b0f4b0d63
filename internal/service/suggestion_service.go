package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/internal/session"
	"github.com/noah-isme/gema-assessment-api/pkg/ai"
)

var (
	// ErrSuggestionNotFound indicates the draft does not exist.
	ErrSuggestionNotFound = errors.New("suggestion not found")
	// ErrSuggestionsDisabled indicates no suggestion backend is configured.
	ErrSuggestionsDisabled = errors.New("content suggestions are disabled")
	// ErrSuggestionResolved indicates the draft was already confirmed or rejected.
	ErrSuggestionResolved = errors.New("suggestion already resolved")
)

// SuggestionService stores generated drafts and applies them only after staff confirm.
type SuggestionService interface {
	DraftAssessment(ctx context.Context, actor Actor, courseID uint, req dto.AssessmentSuggestionRequest) (dto.SuggestionResponse, error)
	DraftGrade(ctx context.Context, actor Actor, attemptID uint) (dto.SuggestionResponse, error)
	Confirm(ctx context.Context, actor Actor, id uint, req dto.SuggestionConfirmRequest) (dto.SuggestionResponse, error)
	Reject(ctx context.Context, actor Actor, id uint) (dto.SuggestionResponse, error)
	List(ctx context.Context, actor Actor, courseID uint, status string) ([]dto.SuggestionResponse, error)
}

// gradeSuggestion is the stored payload of a grade draft. Score covers the
// whole attempt: the automatic part plus the suggested short answer points.
type gradeSuggestion struct {
	Score          float64 `json:"score"`
	AutoScore      float64 `json:"auto_score"`
	SuggestedScore float64 `json:"suggested_score"`
	PointsPossible float64 `json:"points_possible"`
	Feedback       string  `json:"feedback"`
	Rationale      string  `json:"rationale,omitempty"`
}

type suggestionService struct {
	repo        repository.SuggestionRepository
	suggester   ai.Suggester
	attempts    repository.AttemptRepository
	assessments AssessmentService
	grading     AttemptService
	access      CourseAccess
	activity    ActivityRecorder
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSuggestionService constructs the draft workflow. A nil suggester
// disables draft generation while review of stored drafts keeps working.
func NewSuggestionService(
	repo repository.SuggestionRepository,
	suggester ai.Suggester,
	attempts repository.AttemptRepository,
	assessments AssessmentService,
	grading AttemptService,
	access CourseAccess,
	activity ActivityRecorder,
	validate *validator.Validate,
	logger zerolog.Logger,
) SuggestionService {
	return &suggestionService{
		repo:        repo,
		suggester:   suggester,
		attempts:    attempts,
		assessments: assessments,
		grading:     grading,
		access:      access,
		activity:    activity,
		validator:   validate,
		logger:      logger.With().Str("component", "suggestion_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/suggestion"),
		now:         time.Now,
	}
}

func (s *suggestionService) DraftAssessment(ctx context.Context, actor Actor, courseID uint, req dto.AssessmentSuggestionRequest) (dto.SuggestionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "suggestions.assessment", trace.WithAttributes(
		attribute.Int64("suggestion.course_id", int64(courseID)),
	))
	defer span.End()

	if s.suggester == nil {
		return dto.SuggestionResponse{}, ErrSuggestionsDisabled
	}
	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SuggestionResponse{}, err
	}
	if err := requireStaff(ctx, s.access, actor, courseID); err != nil {
		return dto.SuggestionResponse{}, err
	}

	draft, err := s.suggester.DraftAssessment(ctx, ai.AssessmentRequest{
		Topic:         strings.TrimSpace(req.Topic),
		CourseContext: strings.TrimSpace(req.CourseContext),
		QuestionCount: req.QuestionCount,
		QuestionTypes: req.QuestionTypes,
	})
	if err != nil {
		observability.Suggestions().WithLabelValues(string(models.SuggestionKindAssessment), "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "suggester_failed")
		return dto.SuggestionResponse{}, err
	}

	return s.store(ctx, models.SuggestionDraft{
		CourseID:    courseID,
		Kind:        models.SuggestionKindAssessment,
		RequestedBy: actor.ID,
	}, draft)
}

// DraftGrade proposes a score for the short answer questions of an attempt
// waiting for review.
func (s *suggestionService) DraftGrade(ctx context.Context, actor Actor, attemptID uint) (dto.SuggestionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "suggestions.grade", trace.WithAttributes(
		attribute.Int64("suggestion.attempt_id", int64(attemptID)),
	))
	defer span.End()

	if s.suggester == nil {
		return dto.SuggestionResponse{}, ErrSuggestionsDisabled
	}

	attempt, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SuggestionResponse{}, ErrAttemptNotFound
		}
		return dto.SuggestionResponse{}, err
	}
	if err := requireStaff(ctx, s.access, actor, attempt.CourseID); err != nil {
		return dto.SuggestionResponse{}, err
	}
	if attempt.State != models.AttemptStatePendingManualReview {
		return dto.SuggestionResponse{}, session.ErrNotGradable
	}

	request := shortAnswerRequest(attempt)
	if len(request.Questions) == 0 {
		return dto.SuggestionResponse{}, session.ErrNotGradable
	}

	draft, err := s.suggester.DraftGrade(ctx, request)
	if err != nil {
		observability.Suggestions().WithLabelValues(string(models.SuggestionKindGrade), "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "suggester_failed")
		return dto.SuggestionResponse{}, err
	}

	total := math.Min(attempt.AutoScore+draft.Score, attempt.PointsPossible)
	payload := gradeSuggestion{
		Score:          total,
		AutoScore:      attempt.AutoScore,
		SuggestedScore: draft.Score,
		PointsPossible: attempt.PointsPossible,
		Feedback:       draft.Feedback,
		Rationale:      draft.Rationale,
	}

	return s.store(ctx, models.SuggestionDraft{
		CourseID:    attempt.CourseID,
		Kind:        models.SuggestionKindGrade,
		AttemptID:   &attempt.ID,
		RequestedBy: actor.ID,
	}, payload)
}

// Confirm applies a pending draft through the regular authoring or grading
// path, so every domain rule still applies to generated content.
func (s *suggestionService) Confirm(ctx context.Context, actor Actor, id uint, req dto.SuggestionConfirmRequest) (dto.SuggestionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "suggestions.confirm", trace.WithAttributes(
		attribute.Int64("suggestion.id", int64(id)),
	))
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.SuggestionResponse{}, err
	}

	draft, err := s.pending(ctx, actor, id)
	if err != nil {
		return dto.SuggestionResponse{}, err
	}

	var resultID uint
	switch draft.Kind {
	case models.SuggestionKindAssessment:
		resultID, err = s.confirmAssessment(ctx, actor, draft, req)
	case models.SuggestionKindGrade:
		resultID, err = s.confirmGrade(ctx, actor, draft, req)
	default:
		err = fmt.Errorf("unknown suggestion kind %q", draft.Kind)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm_failed")
		return dto.SuggestionResponse{}, err
	}

	draft.Status = models.SuggestionStatusConfirmed
	draft.ResultID = &resultID
	return s.resolve(ctx, actor, draft, ActivityDraftConfirmed)
}

func (s *suggestionService) Reject(ctx context.Context, actor Actor, id uint) (dto.SuggestionResponse, error) {
	draft, err := s.pending(ctx, actor, id)
	if err != nil {
		return dto.SuggestionResponse{}, err
	}
	draft.Status = models.SuggestionStatusRejected
	return s.resolve(ctx, actor, draft, ActivityDraftRejected)
}

func (s *suggestionService) List(ctx context.Context, actor Actor, courseID uint, status string) ([]dto.SuggestionResponse, error) {
	if err := requireStaff(ctx, s.access, actor, courseID); err != nil {
		return nil, err
	}
	drafts, err := s.repo.ListByCourse(ctx, courseID, models.SuggestionStatus(status))
	if err != nil {
		return nil, err
	}
	responses := make([]dto.SuggestionResponse, 0, len(drafts))
	for _, draft := range drafts {
		responses = append(responses, dto.NewSuggestionResponse(draft))
	}
	return responses, nil
}

func (s *suggestionService) store(ctx context.Context, draft models.SuggestionDraft, payload interface{}) (dto.SuggestionResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return dto.SuggestionResponse{}, fmt.Errorf("encode suggestion: %w", err)
	}
	draft.Status = models.SuggestionStatusPending
	draft.Payload = datatypes.JSON(raw)

	if err := s.repo.Create(ctx, &draft); err != nil {
		return dto.SuggestionResponse{}, err
	}

	observability.Suggestions().WithLabelValues(string(draft.Kind), "drafted").Inc()
	s.logger.Info().
		Uint("suggestion_id", draft.ID).
		Uint("course_id", draft.CourseID).
		Str("kind", string(draft.Kind)).
		Msg("suggestion drafted")
	return dto.NewSuggestionResponse(draft), nil
}

func (s *suggestionService) pending(ctx context.Context, actor Actor, id uint) (models.SuggestionDraft, error) {
	draft, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.SuggestionDraft{}, ErrSuggestionNotFound
		}
		return models.SuggestionDraft{}, err
	}
	if err := requireStaff(ctx, s.access, actor, draft.CourseID); err != nil {
		return models.SuggestionDraft{}, err
	}
	if draft.Status != models.SuggestionStatusPending {
		return models.SuggestionDraft{}, ErrSuggestionResolved
	}
	return draft, nil
}

func (s *suggestionService) resolve(ctx context.Context, actor Actor, draft models.SuggestionDraft, action string) (dto.SuggestionResponse, error) {
	now := s.now().UTC()
	draft.ResolvedBy = &actor.ID
	draft.ResolvedAt = &now

	if err := s.repo.Resolve(ctx, &draft); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SuggestionResponse{}, ErrSuggestionResolved
		}
		return dto.SuggestionResponse{}, err
	}

	observability.Suggestions().WithLabelValues(string(draft.Kind), string(draft.Status)).Inc()
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		CourseID:   draft.CourseID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: "suggestion",
		EntityID:   &draft.ID,
		Metadata: map[string]interface{}{
			"kind":      string(draft.Kind),
			"result_id": draft.ResultID,
		},
	})
	return dto.NewSuggestionResponse(draft), nil
}

func (s *suggestionService) confirmAssessment(ctx context.Context, actor Actor, draft models.SuggestionDraft, req dto.SuggestionConfirmRequest) (uint, error) {
	var request dto.AssessmentRequest
	if req.Assessment != nil {
		request = *req.Assessment
	} else {
		var proposal ai.AssessmentDraft
		if err := json.Unmarshal(draft.Payload, &proposal); err != nil {
			return 0, fmt.Errorf("decode assessment suggestion: %w", err)
		}
		if req.DueAt == nil {
			verr := &models.ValidationError{}
			verr.Add("due_at", "is required to confirm a suggested assessment")
			return 0, verr
		}
		request = assessmentRequestFromDraft(proposal, *req.DueAt)
	}

	created, err := s.assessments.Create(ctx, actor, draft.CourseID, request)
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

func (s *suggestionService) confirmGrade(ctx context.Context, actor Actor, draft models.SuggestionDraft, req dto.SuggestionConfirmRequest) (uint, error) {
	if draft.AttemptID == nil {
		return 0, fmt.Errorf("grade suggestion %d has no attempt", draft.ID)
	}

	var proposal gradeSuggestion
	if err := json.Unmarshal(draft.Payload, &proposal); err != nil {
		return 0, fmt.Errorf("decode grade suggestion: %w", err)
	}

	score := proposal.Score
	if req.Score != nil {
		score = *req.Score
	}
	feedback := proposal.Feedback
	if req.Feedback != nil {
		feedback = *req.Feedback
	}

	released, err := s.grading.GradeAndRelease(ctx, actor, *draft.AttemptID, dto.GradeReleaseRequest{
		Score:    &score,
		Feedback: feedback,
	})
	if err != nil {
		return 0, err
	}
	return released.ID, nil
}

func shortAnswerRequest(attempt models.Attempt) ai.GradeRequest {
	answers := attempt.AnswerSheet()
	request := ai.GradeRequest{}
	for _, question := range attempt.FrozenSelection() {
		if question.Type != models.QuestionTypeShortAnswer {
			continue
		}
		item := ai.GradeQuestion{
			Prompt: question.Prompt,
			Points: question.Points,
		}
		if question.ShortAnswer != nil {
			item.ReferenceAnswer = question.ShortAnswer.ReferenceAnswer
		}
		if answer, ok := answers[question.ID]; ok {
			item.StudentAnswer = answer.Text
		}
		request.Questions = append(request.Questions, item)
		request.MaxPoints += question.Points
	}
	return request
}

func assessmentRequestFromDraft(draft ai.AssessmentDraft, dueAt time.Time) dto.AssessmentRequest {
	request := dto.AssessmentRequest{
		Title:       draft.Title,
		Description: draft.Description,
		Category:    draft.Category,
		DueAt:       dueAt,
		Questions:   make([]dto.QuestionInput, 0, len(draft.Questions)),
	}
	for _, question := range draft.Questions {
		request.Questions = append(request.Questions, dto.QuestionInput{
			Type:            question.Type,
			Prompt:          question.Prompt,
			Points:          question.Points,
			Options:         question.Options,
			CorrectIndex:    question.CorrectIndex,
			Correct:         question.Correct,
			ReferenceAnswer: question.ReferenceAnswer,
		})
	}
	return request
}
