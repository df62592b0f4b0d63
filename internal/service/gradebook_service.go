package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/gradebook"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/pkg/events"
)

// ErrGradeOutOfRange indicates a recorded score above the item's points possible.
var ErrGradeOutOfRange = errors.New("score exceeds points possible")

// GradebookService derives course grades from graded items and manages weights.
type GradebookService interface {
	StudentView(ctx context.Context, actor Actor, courseID, studentID uint) (dto.GradebookResponse, error)
	CourseOverview(ctx context.Context, actor Actor, courseID uint) ([]dto.GradebookResponse, error)
	ListWeights(ctx context.Context, actor Actor, courseID uint) ([]dto.WeightResponse, error)
	SaveWeights(ctx context.Context, actor Actor, courseID uint, req dto.WeightsRequest) ([]dto.WeightResponse, error)
	RecordGrade(ctx context.Context, actor Actor, courseID uint, req dto.ExternalGradeRequest) (dto.GradedItemResponse, error)
	Invalidate(ctx context.Context, courseID, studentID uint)
}

// GradebookConfig tunes aggregation and caching.
type GradebookConfig struct {
	Policy          gradebook.Policy
	WeightTolerance float64
	CacheTTL        time.Duration
}

type gradebookService struct {
	grades    repository.GradeRepository
	weights   repository.CategoryWeightRepository
	access    CourseAccess
	notifier  Notifier
	publisher events.Publisher
	activity  ActivityRecorder
	cache     *redis.Client
	config    GradebookConfig
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewGradebookService constructs the gradebook service. cache may be nil.
func NewGradebookService(
	grades repository.GradeRepository,
	weights repository.CategoryWeightRepository,
	access CourseAccess,
	notifier Notifier,
	publisher events.Publisher,
	activity ActivityRecorder,
	cache *redis.Client,
	config GradebookConfig,
	validate *validator.Validate,
	logger zerolog.Logger,
) GradebookService {
	if config.Policy == "" {
		config.Policy = gradebook.PolicyRenormalize
	}
	if config.WeightTolerance <= 0 {
		config.WeightTolerance = gradebook.DefaultWeightTolerance
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 2 * time.Minute
	}
	return &gradebookService{
		grades:    grades,
		weights:   weights,
		access:    access,
		notifier:  notifier,
		publisher: publisher,
		activity:  activity,
		cache:     cache,
		config:    config,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "gradebook_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/gradebook"),
		now:       time.Now,
	}
}

func (s *gradebookService) StudentView(ctx context.Context, actor Actor, courseID, studentID uint) (dto.GradebookResponse, error) {
	ctx, span := s.tracer.Start(ctx, "gradebook.student_view", trace.WithAttributes(
		attribute.Int64("gradebook.course_id", int64(courseID)),
		attribute.Int64("gradebook.student_id", int64(studentID)),
	))
	defer span.End()

	staff, err := s.access.IsStaff(ctx, actor, courseID)
	if err != nil {
		span.RecordError(err)
		return dto.GradebookResponse{}, err
	}
	if !staff {
		if actor.ID != studentID {
			return dto.GradebookResponse{}, ErrCourseAccessDenied
		}
		member, err := s.access.IsMember(ctx, actor, courseID)
		if err != nil {
			return dto.GradebookResponse{}, err
		}
		if !member {
			return dto.GradebookResponse{}, ErrCourseAccessDenied
		}
	}

	key := gradebookCacheKey(courseID, studentID, staff)
	if cached, ok := s.readCache(ctx, key); ok {
		observability.GradebookViews().WithLabelValues("hit").Inc()
		return cached, nil
	}

	items, err := s.grades.ListByStudent(ctx, studentID, courseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grades_lookup_failed")
		return dto.GradebookResponse{}, err
	}
	weights, err := s.weights.ListByCourse(ctx, courseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weights_lookup_failed")
		return dto.GradebookResponse{}, err
	}

	summary := gradebook.Aggregate(items, weights, s.config.Policy)
	response := dto.NewGradebookResponse(courseID, studentID, summary, items, staff)

	observability.GradebookViews().WithLabelValues("miss").Inc()
	s.writeCache(ctx, key, response)
	return response, nil
}

func (s *gradebookService) CourseOverview(ctx context.Context, actor Actor, courseID uint) ([]dto.GradebookResponse, error) {
	ctx, span := s.tracer.Start(ctx, "gradebook.course_overview", trace.WithAttributes(
		attribute.Int64("gradebook.course_id", int64(courseID)),
	))
	defer span.End()

	if err := requireStaff(ctx, s.access, actor, courseID); err != nil {
		return nil, err
	}

	items, err := s.grades.ListByCourse(ctx, courseID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	weights, err := s.weights.ListByCourse(ctx, courseID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	students, err := s.access.ListStudents(ctx, courseID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	byStudent := make(map[uint][]models.GradedItem, len(students))
	for _, studentID := range students {
		byStudent[studentID] = nil
	}
	for _, item := range items {
		byStudent[item.StudentID] = append(byStudent[item.StudentID], item)
	}

	ids := make([]uint, 0, len(byStudent))
	for id := range byStudent {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]dto.GradebookResponse, 0, len(ids))
	for _, id := range ids {
		summary := gradebook.Aggregate(byStudent[id], weights, s.config.Policy)
		out = append(out, dto.NewGradebookResponse(courseID, id, summary, byStudent[id], true))
	}
	observability.GradebookViews().WithLabelValues("course").Inc()
	return out, nil
}

func (s *gradebookService) ListWeights(ctx context.Context, actor Actor, courseID uint) ([]dto.WeightResponse, error) {
	member, err := s.access.IsMember(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrCourseAccessDenied
	}

	weights, err := s.weights.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return dto.NewWeightResponses(weights), nil
}

func (s *gradebookService) SaveWeights(ctx context.Context, actor Actor, courseID uint, req dto.WeightsRequest) ([]dto.WeightResponse, error) {
	ctx, span := s.tracer.Start(ctx, "gradebook.save_weights", trace.WithAttributes(
		attribute.Int64("gradebook.course_id", int64(courseID)),
	))
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return nil, err
	}
	if err := requireStaff(ctx, s.access, actor, courseID); err != nil {
		return nil, err
	}

	inputs := req.Inputs()
	if err := gradebook.ValidateWeights(inputs, s.config.WeightTolerance); err != nil {
		span.SetStatus(codes.Error, "weights_invalid")
		return nil, err
	}

	weights := gradebook.ToCategoryWeights(courseID, inputs)
	if err := s.weights.Replace(ctx, courseID, weights); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weights_save_failed")
		return nil, err
	}

	s.invalidateCourse(ctx, courseID)
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		CourseID:   courseID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     ActivityWeightsUpdated,
		EntityType: "course",
		EntityID:   &courseID,
		Metadata:   map[string]interface{}{"categories": len(weights)},
	})

	s.logger.Info().Uint("course_id", courseID).Int("categories", len(weights)).Msg("gradebook weights replaced")
	return dto.NewWeightResponses(weights), nil
}

func (s *gradebookService) RecordGrade(ctx context.Context, actor Actor, courseID uint, req dto.ExternalGradeRequest) (dto.GradedItemResponse, error) {
	ctx, span := s.tracer.Start(ctx, "gradebook.record_grade", trace.WithAttributes(
		attribute.Int64("gradebook.course_id", int64(courseID)),
		attribute.Int64("gradebook.source_id", int64(req.SourceID)),
	))
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.GradedItemResponse{}, err
	}
	if err := requireStaff(ctx, s.access, actor, courseID); err != nil {
		return dto.GradedItemResponse{}, err
	}
	if req.Score != nil && *req.Score > req.PointsPossible {
		return dto.GradedItemResponse{}, ErrGradeOutOfRange
	}

	now := s.now().UTC()
	grader := actor.ID
	item := models.GradedItem{
		CourseID:       courseID,
		StudentID:      req.StudentID,
		SourceType:     models.GradedItemSourceAssignment,
		SourceID:       req.SourceID,
		Title:          s.sanitizer.Sanitize(req.Title),
		Category:       gradebook.NormalizeCategory(req.Category),
		PointsPossible: req.PointsPossible,
		Score:          req.Score,
		Released:       req.Released && req.Score != nil,
	}
	if req.Score != nil {
		item.GradedBy = &grader
		item.GradedAt = &now
	}

	if err := s.grades.Upsert(ctx, &item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade_save_failed")
		return dto.GradedItemResponse{}, err
	}

	s.Invalidate(ctx, courseID, req.StudentID)

	event := events.New(events.TypeGradeRecorded, courseID)
	event.StudentID = req.StudentID
	event.Points = item.PointsPossible
	if item.Released {
		event.Score = item.Score
	}
	publishEvent(ctx, s.publisher, s.logger, event)

	if item.Released && s.notifier != nil {
		s.notifier.Notify(ctx, req.StudentID, courseID, models.NotificationKindReleased,
			fmt.Sprintf("A grade for %q has been released.", displayTitle(item.Title)))
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		CourseID:   courseID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     ActivityGradeRecorded,
		EntityType: "graded_item",
		EntityID:   &item.ID,
		Metadata: map[string]interface{}{
			"student_id": req.StudentID,
			"source_id":  req.SourceID,
			"released":   item.Released,
		},
	})

	return dto.NewGradedItemResponse(item, true), nil
}

func (s *gradebookService) Invalidate(ctx context.Context, courseID, studentID uint) {
	if s.cache == nil {
		return
	}
	keys := []string{gradebookCacheKey(courseID, studentID, false), gradebookCacheKey(courseID, studentID, true)}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("course_id", courseID).Uint("student_id", studentID).Msg("failed to invalidate gradebook cache")
	}
}

func (s *gradebookService) invalidateCourse(ctx context.Context, courseID uint) {
	if s.cache == nil {
		return
	}
	iter := s.cache.Scan(ctx, 0, fmt.Sprintf("gradebook:%d:*", courseID), 100).Iterator()
	for iter.Next(ctx) {
		if err := s.cache.Del(ctx, iter.Val()).Err(); err != nil {
			s.logger.Warn().Err(err).Str("key", iter.Val()).Msg("failed to invalidate gradebook cache")
		}
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn().Err(err).Uint("course_id", courseID).Msg("failed to scan gradebook cache")
	}
}

func (s *gradebookService) readCache(ctx context.Context, key string) (dto.GradebookResponse, bool) {
	if s.cache == nil {
		return dto.GradebookResponse{}, false
	}
	cached, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read gradebook cache")
		}
		return dto.GradebookResponse{}, false
	}
	var response dto.GradebookResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		s.logger.Warn().Err(err).Msg("discarding unreadable gradebook cache entry")
		return dto.GradebookResponse{}, false
	}
	return response, true
}

func (s *gradebookService) writeCache(ctx context.Context, key string, response dto.GradebookResponse) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.config.CacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store gradebook cache")
	}
}

func gradebookCacheKey(courseID, studentID uint, staff bool) string {
	view := "student"
	if staff {
		view = "staff"
	}
	return fmt.Sprintf("gradebook:%d:%d:%s", courseID, studentID, view)
}

func displayTitle(title string) string {
	if title == "" {
		return "untitled work"
	}
	return title
}
