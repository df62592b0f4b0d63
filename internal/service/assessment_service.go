package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/gradebook"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/pool"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/pkg/events"
)

var (
	// ErrAssessmentNotFound indicates the assessment does not exist or is hidden from the actor.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrAssessmentClosed indicates an edit to a closed assessment.
	ErrAssessmentClosed = errors.New("assessment is closed")
	// ErrInvalidStatusTransition indicates a publish or close from a state that does not allow it.
	ErrInvalidStatusTransition = errors.New("assessment status change not allowed")
)

// AssessmentService manages authoring and publication of assessments.
type AssessmentService interface {
	Create(ctx context.Context, actor Actor, courseID uint, req dto.AssessmentRequest) (dto.AssessmentResponse, error)
	Update(ctx context.Context, actor Actor, id uint, req dto.AssessmentRequest) (dto.AssessmentResponse, error)
	Get(ctx context.Context, actor Actor, id uint) (dto.AssessmentResponse, error)
	List(ctx context.Context, actor Actor, req dto.AssessmentListRequest) (dto.AssessmentListResponse, error)
	Publish(ctx context.Context, actor Actor, id uint) (dto.AssessmentResponse, error)
	Close(ctx context.Context, actor Actor, id uint) (dto.AssessmentResponse, error)
}

type assessmentService struct {
	repo      repository.AssessmentRepository
	access    CourseAccess
	notifier  Notifier
	publisher events.Publisher
	validator *validator.Validate
	strict    *bluemonday.Policy
	rich      *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewAssessmentService constructs the authoring service.
func NewAssessmentService(repo repository.AssessmentRepository, access CourseAccess, notifier Notifier, publisher events.Publisher, validate *validator.Validate, logger zerolog.Logger) AssessmentService {
	return &assessmentService{
		repo:      repo,
		access:    access,
		notifier:  notifier,
		publisher: publisher,
		validator: validate,
		strict:    bluemonday.StrictPolicy(),
		rich:      bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "assessment_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/assessment"),
		now:       time.Now,
	}
}

func (s *assessmentService) Create(ctx context.Context, actor Actor, courseID uint, req dto.AssessmentRequest) (dto.AssessmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assessments.create", trace.WithAttributes(
		attribute.Int64("assessment.course_id", int64(courseID)),
	))
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.AssessmentResponse{}, err
	}
	if err := requireStaff(ctx, s.access, actor, courseID); err != nil {
		return dto.AssessmentResponse{}, err
	}

	assessment := s.sanitize(req.ToModel(courseID, actor.ID))
	assessment.Status = models.AssessmentStatusDraft
	if err := validateDefinition(assessment); err != nil {
		span.SetStatus(codes.Error, "definition_invalid")
		return dto.AssessmentResponse{}, err
	}

	if err := s.repo.Create(ctx, &assessment); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment_create_failed")
		return dto.AssessmentResponse{}, err
	}

	s.logger.Info().Uint("assessment_id", assessment.ID).Uint("course_id", courseID).Int("questions", len(assessment.Questions)).Msg("assessment created")
	return dto.NewAssessmentResponse(assessment, true), nil
}

// Update replaces the definition and bank. Attempts already started keep
// their frozen selection.
func (s *assessmentService) Update(ctx context.Context, actor Actor, id uint, req dto.AssessmentRequest) (dto.AssessmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assessments.update", trace.WithAttributes(
		attribute.Int64("assessment.id", int64(id)),
	))
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.AssessmentResponse{}, err
	}

	current, err := s.find(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if err := requireStaff(ctx, s.access, actor, current.CourseID); err != nil {
		return dto.AssessmentResponse{}, err
	}
	if current.Status == models.AssessmentStatusClosed {
		return dto.AssessmentResponse{}, ErrAssessmentClosed
	}

	next := s.sanitize(req.ToModel(current.CourseID, current.CreatedBy))
	next.ID = current.ID
	next.Status = current.Status
	next.PublishedAt = current.PublishedAt
	next.CreatedAt = current.CreatedAt
	if err := validateDefinition(next); err != nil {
		span.SetStatus(codes.Error, "definition_invalid")
		return dto.AssessmentResponse{}, err
	}

	if err := s.repo.Update(ctx, &next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment_update_failed")
		return dto.AssessmentResponse{}, err
	}

	updated, err := s.find(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	s.logger.Info().Uint("assessment_id", id).Uint("actor_id", actor.ID).Msg("assessment updated")
	return dto.NewAssessmentResponse(updated, true), nil
}

func (s *assessmentService) Get(ctx context.Context, actor Actor, id uint) (dto.AssessmentResponse, error) {
	assessment, err := s.find(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}

	staff, err := s.access.IsStaff(ctx, actor, assessment.CourseID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if staff {
		return dto.NewAssessmentResponse(assessment, true), nil
	}

	member, err := s.access.IsMember(ctx, actor, assessment.CourseID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if !member {
		return dto.AssessmentResponse{}, ErrCourseAccessDenied
	}
	if assessment.Status == models.AssessmentStatusDraft {
		return dto.AssessmentResponse{}, ErrAssessmentNotFound
	}
	return dto.NewAssessmentResponse(assessment, false), nil
}

func (s *assessmentService) List(ctx context.Context, actor Actor, req dto.AssessmentListRequest) (dto.AssessmentListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AssessmentListResponse{}, err
	}

	staff, err := s.access.IsStaff(ctx, actor, req.CourseID)
	if err != nil {
		return dto.AssessmentListResponse{}, err
	}
	if !staff {
		member, err := s.access.IsMember(ctx, actor, req.CourseID)
		if err != nil {
			return dto.AssessmentListResponse{}, err
		}
		if !member {
			return dto.AssessmentListResponse{}, ErrCourseAccessDenied
		}
	}

	filter := repository.AssessmentFilter{
		CourseID: req.CourseID,
		Status:   models.AssessmentStatus(req.Status),
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if !staff && (filter.Status == "" || filter.Status == models.AssessmentStatusDraft) {
		filter.Status = models.AssessmentStatusPublished
	}

	assessments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return dto.AssessmentListResponse{}, err
	}

	items := make([]dto.AssessmentResponse, 0, len(assessments))
	for _, assessment := range assessments {
		response := dto.NewAssessmentResponse(assessment, staff)
		response.Questions = nil
		items = append(items, response)
	}

	return dto.AssessmentListResponse{
		Items:      items,
		Pagination: dto.NewPaginationMeta(req.Page, req.PageSize, total),
	}, nil
}

// Publish opens a draft for attempts and tells enrolled students. Publishing
// an already published assessment is a no-op.
func (s *assessmentService) Publish(ctx context.Context, actor Actor, id uint) (dto.AssessmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assessments.publish", trace.WithAttributes(
		attribute.Int64("assessment.id", int64(id)),
	))
	defer span.End()

	assessment, err := s.find(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if err := requireStaff(ctx, s.access, actor, assessment.CourseID); err != nil {
		return dto.AssessmentResponse{}, err
	}

	switch assessment.Status {
	case models.AssessmentStatusPublished:
		return dto.NewAssessmentResponse(assessment, true), nil
	case models.AssessmentStatusClosed:
		return dto.AssessmentResponse{}, fmt.Errorf("%w: closed assessments cannot be republished", ErrInvalidStatusTransition)
	}

	if err := validateDefinition(assessment); err != nil {
		return dto.AssessmentResponse{}, err
	}

	publishedAt := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, models.AssessmentStatusPublished, &publishedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment_publish_failed")
		return dto.AssessmentResponse{}, err
	}
	assessment.Status = models.AssessmentStatusPublished
	assessment.PublishedAt = &publishedAt

	s.announce(ctx, assessment)
	event := events.New(events.TypeAssessmentPublished, assessment.CourseID)
	event.AssessmentID = assessment.ID
	event.State = string(assessment.Status)
	publishEvent(ctx, s.publisher, s.logger, event)

	s.logger.Info().Uint("assessment_id", id).Uint("actor_id", actor.ID).Msg("assessment published")
	return dto.NewAssessmentResponse(assessment, true), nil
}

// Close stops new attempts. Attempts in progress run to their own deadline.
func (s *assessmentService) Close(ctx context.Context, actor Actor, id uint) (dto.AssessmentResponse, error) {
	assessment, err := s.find(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if err := requireStaff(ctx, s.access, actor, assessment.CourseID); err != nil {
		return dto.AssessmentResponse{}, err
	}

	switch assessment.Status {
	case models.AssessmentStatusClosed:
		return dto.NewAssessmentResponse(assessment, true), nil
	case models.AssessmentStatusDraft:
		return dto.AssessmentResponse{}, fmt.Errorf("%w: drafts must be published before closing", ErrInvalidStatusTransition)
	}

	if err := s.repo.UpdateStatus(ctx, id, models.AssessmentStatusClosed, assessment.PublishedAt); err != nil {
		return dto.AssessmentResponse{}, err
	}
	assessment.Status = models.AssessmentStatusClosed

	s.logger.Info().Uint("assessment_id", id).Uint("actor_id", actor.ID).Msg("assessment closed")
	return dto.NewAssessmentResponse(assessment, true), nil
}

func (s *assessmentService) announce(ctx context.Context, assessment models.Assessment) {
	if s.notifier == nil {
		return
	}
	students, err := s.access.ListStudents(ctx, assessment.CourseID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("course_id", assessment.CourseID).Msg("failed to list students for publish notification")
		return
	}
	message := fmt.Sprintf("New assessment %q is open until %s.", assessment.Title, assessment.DueAt.UTC().Format(time.RFC1123))
	for _, studentID := range students {
		s.notifier.Notify(ctx, studentID, assessment.CourseID, models.NotificationKindPublished, message)
	}
}

func (s *assessmentService) find(ctx context.Context, id uint) (models.Assessment, error) {
	assessment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assessment{}, ErrAssessmentNotFound
		}
		return models.Assessment{}, err
	}
	return assessment, nil
}

func (s *assessmentService) sanitize(assessment models.Assessment) models.Assessment {
	assessment.Title = strings.TrimSpace(s.strict.Sanitize(assessment.Title))
	assessment.Description = strings.TrimSpace(s.rich.Sanitize(assessment.Description))
	assessment.Category = gradebook.NormalizeCategory(s.strict.Sanitize(assessment.Category))
	for i := range assessment.Questions {
		question := &assessment.Questions[i]
		question.Prompt = strings.TrimSpace(s.rich.Sanitize(question.Prompt))
		if question.Choice != nil {
			for j, option := range question.Choice.Options {
				question.Choice.Options[j] = strings.TrimSpace(s.strict.Sanitize(option))
			}
		}
		if question.ShortAnswer != nil {
			question.ShortAnswer.ReferenceAnswer = strings.TrimSpace(s.strict.Sanitize(question.ShortAnswer.ReferenceAnswer))
		}
	}
	return assessment
}

// validateDefinition reports the assessment's field errors and its pooling
// errors together.
func validateDefinition(assessment models.Assessment) error {
	verr := &models.ValidationError{}
	if err := assessment.Validate(); err != nil {
		if !errors.As(err, &verr) {
			return err
		}
	}
	if err := pool.Validate(len(assessment.Questions), assessment.PoolEnabled, assessment.PoolSize); err != nil {
		verr.AddErr("pool_size", err)
	}
	return verr.OrNil()
}
