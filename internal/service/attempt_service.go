package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
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
	"github.com/noah-isme/gema-assessment-api/internal/pool"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/internal/session"
	"github.com/noah-isme/gema-assessment-api/pkg/events"
)

var (
	// ErrAttemptNotFound indicates the attempt does not exist or belongs to someone else.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrNotPublished indicates a start on an assessment that is not accepting attempts.
	ErrNotPublished = errors.New("assessment is not published")
	// ErrAttemptLimitExceeded indicates the student used every allowed attempt.
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	// ErrPastDue indicates a start after the due date by a non-staff user.
	ErrPastDue = errors.New("assessment is past due")
	// ErrAttemptUnavailable indicates the attempt could not be persisted; the caller may retry.
	ErrAttemptUnavailable = errors.New("attempt could not be saved, please retry")
)

// GradebookInvalidator drops derived gradebook views after a grade changes.
type GradebookInvalidator interface {
	Invalidate(ctx context.Context, courseID, studentID uint)
}

// AttemptService runs attempts from start to release.
type AttemptService interface {
	Start(ctx context.Context, actor Actor, assessmentID uint) (dto.AttemptResponse, error)
	SaveAnswer(ctx context.Context, actor Actor, attemptID, questionID uint, req dto.AnswerRequest) (dto.AttemptResponse, error)
	Submit(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error)
	Get(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error)
	List(ctx context.Context, actor Actor, req dto.AttemptListRequest) (dto.AttemptListResponse, error)
	ListPendingReview(ctx context.Context, actor Actor, courseID uint, page, pageSize int) (dto.AttemptListResponse, error)
	TimeRemaining(ctx context.Context, actor Actor, attemptID uint) (dto.TimeRemainingResponse, error)
	GradeAndRelease(ctx context.Context, actor Actor, attemptID uint, req dto.GradeReleaseRequest) (dto.AttemptResponse, error)
	Regrade(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error)
	ResumeInProgress(ctx context.Context) (int, error)
}

// AttemptConfig tunes the attempt lifecycle.
type AttemptConfig struct {
	ScorePolicy    string
	SessionOptions session.Options
	Clock          session.Clock
}

type attemptService struct {
	attempts    repository.AttemptRepository
	assessments repository.AssessmentRepository
	access      CourseAccess
	gradebook   GradebookInvalidator
	notifier    Notifier
	publisher   events.Publisher
	activity    ActivityRecorder
	manager     *session.Manager
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	seed        func() int64
}

// NewAttemptService wires the attempt lifecycle to persistence and the
// notification side effects.
func NewAttemptService(
	attempts repository.AttemptRepository,
	assessments repository.AssessmentRepository,
	access CourseAccess,
	gradebook GradebookInvalidator,
	notifier Notifier,
	publisher events.Publisher,
	activity ActivityRecorder,
	config AttemptConfig,
	validate *validator.Validate,
	logger zerolog.Logger,
) AttemptService {
	store := &attemptStore{attempts: attempts, assessments: assessments, policy: config.ScorePolicy}
	svc := &attemptService{
		attempts:    attempts,
		assessments: assessments,
		access:      access,
		gradebook:   gradebook,
		notifier:    notifier,
		publisher:   publisher,
		activity:    activity,
		manager:     session.NewManager(store, config.Clock, config.SessionOptions, logger),
		validator:   validate,
		sanitizer:   bluemonday.UGCPolicy(),
		logger:      logger.With().Str("component", "attempt_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/attempt"),
		seed:        rand.Int64,
	}
	svc.manager.Observe(svc.observe)
	return svc
}

// Start opens a new attempt, or returns the student's attempt that is still
// in progress for the assessment.
func (s *attemptService) Start(ctx context.Context, actor Actor, assessmentID uint) (dto.AttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempts.start", trace.WithAttributes(
		attribute.Int64("attempt.assessment_id", int64(assessmentID)),
		attribute.Int64("attempt.student_id", int64(actor.ID)),
	))
	defer span.End()

	assessment, err := s.assessments.FindByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AttemptResponse{}, ErrAssessmentNotFound
		}
		span.RecordError(err)
		return dto.AttemptResponse{}, err
	}

	staff, err := s.access.IsStaff(ctx, actor, assessment.CourseID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}
	if !staff {
		member, err := s.access.IsMember(ctx, actor, assessment.CourseID)
		if err != nil {
			return dto.AttemptResponse{}, err
		}
		if !member {
			return dto.AttemptResponse{}, ErrCourseAccessDenied
		}
	}

	if !assessment.IsPublished() {
		span.SetStatus(codes.Error, "not_published")
		return dto.AttemptResponse{}, ErrNotPublished
	}

	now := s.manager.Clock().Now()
	open, _, err := s.attempts.List(ctx, repository.AttemptFilter{
		AssessmentID: assessmentID,
		StudentID:    actor.ID,
		States:       []models.AttemptState{models.AttemptStateInProgress},
	})
	if err != nil {
		return dto.AttemptResponse{}, err
	}
	if len(open) > 0 {
		current, err := s.session(ctx, open[0]).Current(ctx)
		if err != nil {
			span.RecordError(err)
			return dto.AttemptResponse{}, classifyAttemptError(err)
		}
		if current.State == models.AttemptStateInProgress {
			return dto.NewAttemptResponse(current, now, false), nil
		}
	}

	used, err := s.attempts.CountByStudent(ctx, assessmentID, actor.ID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}
	if assessment.AttemptLimitReached(used) {
		span.SetStatus(codes.Error, "attempt_limit")
		return dto.AttemptResponse{}, ErrAttemptLimitExceeded
	}
	if !staff && assessment.IsPastDue(now) {
		span.SetStatus(codes.Error, "past_due")
		return dto.AttemptResponse{}, ErrPastDue
	}

	seed := s.seed()
	number := int(used) + 1
	selection := pool.Select(assessment.Questions, assessment.PoolEnabled, assessment.PoolSize, assessment.RandomizeOrder, pool.NewRand(seed, number))

	attempt := models.Attempt{
		AssessmentID:   assessment.ID,
		StudentID:      actor.ID,
		CourseID:       assessment.CourseID,
		AttemptNumber:  number,
		Seed:           seed,
		Selection:      datatypes.NewJSONType(selection),
		Answers:        datatypes.NewJSONType(models.AnswerSheet{}),
		PointsPossible: pool.PointsPossible(selection),
	}

	sess, err := s.manager.Start(ctx, attempt, assessment.TimeLimit())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt_start_failed")
		return dto.AttemptResponse{}, classifyAttemptError(err)
	}

	observability.AttemptsStarted().WithLabelValues(strconv.FormatBool(assessment.TimeLimit() > 0)).Inc()
	return dto.NewAttemptResponse(sess.Snapshot(), s.manager.Clock().Now(), false), nil
}

func (s *attemptService) SaveAnswer(ctx context.Context, actor Actor, attemptID, questionID uint, req dto.AnswerRequest) (dto.AttemptResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AttemptResponse{}, err
	}

	attempt, err := s.ownAttempt(ctx, actor, attemptID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	defer s.manager.Forget(attemptID)
	sess := s.session(ctx, attempt)
	if err := sess.Answer(ctx, questionID, req.ToModel()); err != nil {
		return dto.AttemptResponse{}, classifyAttemptError(err)
	}
	return dto.NewAttemptResponse(sess.Snapshot(), s.manager.Clock().Now(), false), nil
}

// Submit closes the attempt. Submitting twice returns the stored outcome.
func (s *attemptService) Submit(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempts.submit", trace.WithAttributes(
		attribute.Int64("attempt.id", int64(attemptID)),
	))
	defer span.End()

	attempt, err := s.ownAttempt(ctx, actor, attemptID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	result, err := s.session(ctx, attempt).Submit(ctx)
	s.manager.Forget(attemptID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt_submit_failed")
		return dto.AttemptResponse{}, classifyAttemptError(err)
	}
	return dto.NewAttemptResponse(result, s.manager.Clock().Now(), false), nil
}

func (s *attemptService) Get(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error) {
	attempt, staff, err := s.visibleAttempt(ctx, actor, attemptID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}
	attempt = s.current(attempt)
	return dto.NewAttemptResponse(attempt, s.manager.Clock().Now(), staff), nil
}

// List returns the actor's own attempts, or any attempts of a course the
// actor teaches.
func (s *attemptService) List(ctx context.Context, actor Actor, req dto.AttemptListRequest) (dto.AttemptListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AttemptListResponse{}, err
	}

	courseID := req.CourseID
	if courseID == 0 && req.AssessmentID != 0 {
		assessment, err := s.assessments.FindByID(ctx, req.AssessmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dto.AttemptListResponse{}, ErrAssessmentNotFound
			}
			return dto.AttemptListResponse{}, err
		}
		courseID = assessment.CourseID
	}

	staff := false
	if courseID != 0 {
		var err error
		if staff, err = s.access.IsStaff(ctx, actor, courseID); err != nil {
			return dto.AttemptListResponse{}, err
		}
	}

	filter := repository.AttemptFilter{
		CourseID:     courseID,
		AssessmentID: req.AssessmentID,
		StudentID:    req.StudentID,
		Page:         req.Page,
		PageSize:     req.PageSize,
	}
	if !staff {
		filter.StudentID = actor.ID
	}
	if req.State != "" {
		filter.States = []models.AttemptState{models.AttemptState(req.State)}
	}

	return s.list(ctx, filter, staff)
}

func (s *attemptService) ListPendingReview(ctx context.Context, actor Actor, courseID uint, page, pageSize int) (dto.AttemptListResponse, error) {
	if err := requireStaff(ctx, s.access, actor, courseID); err != nil {
		return dto.AttemptListResponse{}, err
	}
	return s.list(ctx, repository.AttemptFilter{
		CourseID: courseID,
		States:   []models.AttemptState{models.AttemptStatePendingManualReview},
		Page:     page,
		PageSize: pageSize,
	}, true)
}

func (s *attemptService) TimeRemaining(ctx context.Context, actor Actor, attemptID uint) (dto.TimeRemainingResponse, error) {
	attempt, _, err := s.visibleAttempt(ctx, actor, attemptID)
	if err != nil {
		return dto.TimeRemainingResponse{}, err
	}

	now := s.manager.Clock().Now()
	attempt = s.current(attempt)

	response := dto.TimeRemainingResponse{
		AttemptID:  attempt.ID,
		State:      string(attempt.State),
		Unlimited:  attempt.DeadlineAt == nil,
		DeadlineAt: attempt.DeadlineAt,
	}
	if attempt.State == models.AttemptStateInProgress {
		response.RemainingSeconds = int64(attempt.RemainingAt(now) / time.Second)
	}
	return response, nil
}

// GradeAndRelease records a staff score for the whole attempt and makes it
// visible to the student.
func (s *attemptService) GradeAndRelease(ctx context.Context, actor Actor, attemptID uint, req dto.GradeReleaseRequest) (dto.AttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempts.grade_release", trace.WithAttributes(
		attribute.Int64("attempt.id", int64(attemptID)),
		attribute.Int64("attempt.grader_id", int64(actor.ID)),
	))
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.AttemptResponse{}, err
	}

	attempt, err := s.load(ctx, attemptID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}
	if err := requireStaff(ctx, s.access, actor, attempt.CourseID); err != nil {
		return dto.AttemptResponse{}, err
	}

	previous := attempt.State
	result, err := s.session(ctx, attempt).GradeAndRelease(ctx, session.GradeInput{
		Score:    *req.Score,
		Feedback: strings.TrimSpace(s.sanitizer.Sanitize(req.Feedback)),
		GraderID: actor.ID,
	})
	s.manager.Forget(attemptID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade_release_failed")
		return dto.AttemptResponse{}, classifyAttemptError(err)
	}

	path := "manual"
	if previous == models.AttemptStateReleased || previous == models.AttemptStateAutoGraded {
		path = "override"
	}
	observability.GradeReleases().WithLabelValues(path).Inc()
	publishEvent(ctx, s.publisher, s.logger, attemptEvent(events.TypeAttemptReleased, result))
	if s.notifier != nil {
		s.notifier.Notify(ctx, result.StudentID, result.CourseID, models.NotificationKindReleased,
			fmt.Sprintf("Your grade for attempt %d has been released.", result.AttemptNumber))
	}
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		CourseID:   result.CourseID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     ActivityGradeReleased,
		EntityType: "attempt",
		EntityID:   &result.ID,
		Metadata: map[string]interface{}{
			"score":          *result.Score,
			"previous_state": string(previous),
			"student_id":     result.StudentID,
		},
	})

	return dto.NewAttemptResponse(result, s.manager.Clock().Now(), true), nil
}

// Regrade recomputes the score from the attempt's frozen selection and its
// answers. The selection, its answer keys and the attempt number never change.
func (s *attemptService) Regrade(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempts.regrade", trace.WithAttributes(
		attribute.Int64("attempt.id", int64(attemptID)),
	))
	defer span.End()

	attempt, err := s.load(ctx, attemptID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}
	if err := requireStaff(ctx, s.access, actor, attempt.CourseID); err != nil {
		return dto.AttemptResponse{}, err
	}

	previousScore := attempt.AutoScore
	result, err := s.session(ctx, attempt).Regrade(ctx, actor.ID)
	s.manager.Forget(attemptID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "regrade_failed")
		return dto.AttemptResponse{}, classifyAttemptError(err)
	}

	publishEvent(ctx, s.publisher, s.logger, attemptEvent(events.TypeAttemptRegraded, result))
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		CourseID:   result.CourseID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     ActivityAttemptRegraded,
		EntityType: "attempt",
		EntityID:   &result.ID,
		Metadata: map[string]interface{}{
			"previous_auto_score": previousScore,
			"auto_score":          result.AutoScore,
			"state":               string(result.State),
		},
	})

	return dto.NewAttemptResponse(result, s.manager.Clock().Now(), true), nil
}

// ResumeInProgress re-arms the countdown of every attempt left in progress
// by a previous process. Expired ones are submitted as timeouts.
func (s *attemptService) ResumeInProgress(ctx context.Context) (int, error) {
	attempts, err := s.attempts.ListInProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("list in-progress attempts: %w", err)
	}
	resumed := s.manager.Resume(ctx, attempts)
	observability.AttemptsActive().Add(float64(resumed))
	s.logger.Info().Int("found", len(attempts)).Int("resumed", resumed).Msg("in-progress attempts resumed")
	return resumed, nil
}

// observe turns persisted transitions into metrics, notifications and events.
// It runs outside the session lock and never calls back into the manager.
func (s *attemptService) observe(ctx context.Context, transition session.Transition) {
	attempt := transition.Attempt

	switch {
	case transition.From == models.AttemptStateNotStarted:
		observability.AttemptsActive().Inc()
	case transition.From == models.AttemptStateInProgress:
		observability.AttemptsActive().Dec()
		observability.AttemptsFinalized().WithLabelValues(string(attempt.SubmitReason), string(attempt.State)).Inc()
		publishEvent(ctx, s.publisher, s.logger, attemptEvent(events.TypeAttemptSubmitted, attempt))
		message := fmt.Sprintf("Attempt %d was submitted.", attempt.AttemptNumber)
		if attempt.SubmitReason == models.SubmitReasonTimeout {
			message = fmt.Sprintf("Time ran out on attempt %d, your saved answers were submitted.", attempt.AttemptNumber)
		}
		s.notify(ctx, attempt.StudentID, attempt.CourseID, models.NotificationKindSubmitted, message)
	case transition.From != models.AttemptStateSubmitted && transition.From != models.AttemptStateTimedOut:
		// Manual grading and regrades report their own side effects.
	case transition.To == models.AttemptStateAutoGraded:
		observability.GradeReleases().WithLabelValues("auto").Inc()
		publishEvent(ctx, s.publisher, s.logger, attemptEvent(events.TypeAttemptReleased, attempt))
		s.notify(ctx, attempt.StudentID, attempt.CourseID, models.NotificationKindReleased,
			fmt.Sprintf("Attempt %d was graded automatically.", attempt.AttemptNumber))
	case transition.To == models.AttemptStatePendingManualReview:
		s.notifyStaff(ctx, attempt)
	}

	if attempt.State.Scored() && s.gradebook != nil {
		s.gradebook.Invalidate(ctx, attempt.CourseID, attempt.StudentID)
	}
}

func (s *attemptService) notify(ctx context.Context, userID, courseID uint, kind, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, courseID, kind, message)
}

func (s *attemptService) notifyStaff(ctx context.Context, attempt models.Attempt) {
	if s.notifier == nil {
		return
	}
	staff, err := s.access.ListStaff(ctx, attempt.CourseID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("course_id", attempt.CourseID).Msg("failed to list staff for review notification")
		return
	}
	message := fmt.Sprintf("Attempt %d by student %d is waiting for review.", attempt.ID, attempt.StudentID)
	for _, userID := range staff {
		s.notifier.Notify(ctx, userID, attempt.CourseID, models.NotificationKindSubmitted, message)
	}
}

// current returns the stored attempt as this node's live session sees it.
// A stored version ahead of the session is adopted by the session first.
func (s *attemptService) current(stored models.Attempt) models.Attempt {
	live, ok := s.manager.Lookup(stored.ID)
	if !ok {
		return stored
	}
	live.Sync(stored)
	return live.Snapshot()
}

// session returns the live session for the attempt. An in-progress attempt
// not yet registered is resumed so its countdown is running.
func (s *attemptService) session(ctx context.Context, attempt models.Attempt) *session.Session {
	if live, ok := s.manager.Lookup(attempt.ID); ok {
		live.Sync(attempt)
		return live
	}
	if attempt.State == models.AttemptStateInProgress {
		if s.manager.Resume(ctx, []models.Attempt{attempt}) > 0 {
			observability.AttemptsActive().Inc()
		}
		if live, ok := s.manager.Lookup(attempt.ID); ok {
			return live
		}
		if reloaded, err := s.attempts.FindByID(ctx, attempt.ID); err == nil {
			attempt = reloaded
		}
	}
	return s.manager.Acquire(attempt)
}

func (s *attemptService) load(ctx context.Context, attemptID uint) (models.Attempt, error) {
	attempt, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, ErrAttemptNotFound
		}
		return models.Attempt{}, err
	}
	return attempt, nil
}

// ownAttempt loads an attempt that only its student may write to.
func (s *attemptService) ownAttempt(ctx context.Context, actor Actor, attemptID uint) (models.Attempt, error) {
	attempt, err := s.load(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, err
	}
	if attempt.StudentID != actor.ID {
		return models.Attempt{}, ErrAttemptNotFound
	}
	return attempt, nil
}

// visibleAttempt loads an attempt readable by its student or course staff.
func (s *attemptService) visibleAttempt(ctx context.Context, actor Actor, attemptID uint) (models.Attempt, bool, error) {
	attempt, err := s.load(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, false, err
	}
	staff, err := s.access.IsStaff(ctx, actor, attempt.CourseID)
	if err != nil {
		return models.Attempt{}, false, err
	}
	if !staff && attempt.StudentID != actor.ID {
		return models.Attempt{}, false, ErrAttemptNotFound
	}
	return attempt, staff, nil
}

func (s *attemptService) list(ctx context.Context, filter repository.AttemptFilter, staff bool) (dto.AttemptListResponse, error) {
	attempts, total, err := s.attempts.List(ctx, filter)
	if err != nil {
		return dto.AttemptListResponse{}, err
	}

	now := s.manager.Clock().Now()
	items := make([]dto.AttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		attempt = s.current(attempt)
		items = append(items, dto.NewAttemptResponse(attempt, now, staff))
	}
	return dto.AttemptListResponse{
		Items:      items,
		Pagination: dto.NewPaginationMeta(filter.Page, filter.PageSize, total),
	}, nil
}

var knownAttemptErrors = []error{
	session.ErrNotInProgress,
	session.ErrDeadlinePassed,
	session.ErrUnknownQuestion,
	session.ErrNotGradable,
	session.ErrScoreOutOfRange,
	session.ErrAlreadyStarted,
	models.ErrAnswerTypeMismatch,
	models.ErrChoiceOutOfRange,
	models.ErrInvalidTruthValue,
	repository.ErrAttemptConflict,
}

// classifyAttemptError keeps domain errors as they are and marks anything
// else as a retryable persistence failure.
func classifyAttemptError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range knownAttemptErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrAttemptUnavailable, err)
}
