// Package session owns the lifecycle of a single assessment attempt: the
// countdown, buffered answers, submission and grading transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/scoring"
)

var (
	// ErrNotInProgress indicates the attempt no longer accepts answers or submission.
	ErrNotInProgress = errors.New("attempt is not in progress")
	// ErrDeadlinePassed indicates an answer arrived after the time limit.
	ErrDeadlinePassed = errors.New("attempt time limit has expired")
	// ErrUnknownQuestion indicates an answer for a question outside the frozen selection.
	ErrUnknownQuestion = errors.New("question is not part of this attempt")
	// ErrNotGradable indicates a grading action on an attempt that has not been scored.
	ErrNotGradable = errors.New("attempt is not ready for grading")
	// ErrScoreOutOfRange indicates a manual score outside 0..points possible.
	ErrScoreOutOfRange = errors.New("score must be between 0 and the attempt's points possible")
	// ErrAlreadyStarted indicates Start on an attempt that left not_started.
	ErrAlreadyStarted = errors.New("attempt already started")
	// ErrStale is returned by a Store when the stored version no longer
	// matches the one being saved.
	ErrStale = errors.New("attempt record changed since it was loaded")
)

// Store persists attempt records. Implementations must apply the optimistic
// version check: on success the stored version is attempt.Version+1 and the
// passed attempt reflects it; on a mismatch the error wraps ErrStale.
type Store interface {
	CreateAttempt(ctx context.Context, attempt *models.Attempt) error
	SaveAttempt(ctx context.Context, attempt *models.Attempt) error
	LoadAttempt(ctx context.Context, id uint) (models.Attempt, error)
}

// Transition describes one accepted state change.
type Transition struct {
	From    models.AttemptState
	To      models.AttemptState
	Actor   uint
	Attempt models.Attempt
}

// Observer receives transitions after they are persisted. It runs outside the
// session lock and must not block for long.
type Observer func(ctx context.Context, transition Transition)

// GradeInput is a staff decision on an attempt.
type GradeInput struct {
	Score    float64
	Feedback string
	GraderID uint
}

// Options tunes the timeout retry loop.
type Options struct {
	SaveRetries  int
	RetryBackoff time.Duration
}

// DefaultOptions returns the retry settings used when none are configured.
func DefaultOptions() Options {
	return Options{SaveRetries: 5, RetryBackoff: 2 * time.Second}
}

// Session serializes every write to one attempt. The timer and the manual
// submit funnel into finalize; whichever acquires the lock first wins.
type Session struct {
	mu       sync.Mutex
	attempt  models.Attempt
	store    Store
	clock    Clock
	observer Observer
	options  Options
	logger   zerolog.Logger

	timer Timer
	// pending holds answers accepted here but not yet persisted.
	pending models.AnswerSheet
	done    chan struct{}
	onClose func(id uint)
	// closedElsewhere is set when a reload finds the attempt closed by
	// another writer; unlock then drops the session from its registry.
	closedElsewhere bool
}

func newSession(attempt models.Attempt, store Store, clock Clock, observer Observer, options Options, logger zerolog.Logger) *Session {
	s := &Session{
		attempt:  attempt.Clone(),
		store:    store,
		clock:    clock,
		observer: observer,
		options:  options,
		logger:   logger,
		pending:  models.AnswerSheet{},
		done:     make(chan struct{}),
	}
	if attempt.State != models.AttemptStateInProgress && attempt.State != models.AttemptStateNotStarted {
		close(s.done)
	}
	return s
}

// Snapshot returns a copy of the current attempt, unsaved answers included.
func (s *Session) Snapshot() models.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withPendingLocked(s.attempt)
}

// Current returns the attempt after closing it as a timeout when its deadline
// has passed and the countdown has not managed to save the submission yet.
func (s *Session) Current(ctx context.Context) (models.Attempt, error) {
	s.mu.Lock()
	expired := s.attempt.State == models.AttemptStateInProgress && s.expiredLocked()
	if !expired {
		current := s.withPendingLocked(s.attempt)
		s.mu.Unlock()
		return current, nil
	}
	s.mu.Unlock()
	return s.finalize(ctx, models.SubmitReasonTimeout)
}

// Remaining returns the time left on the countdown and whether one is running.
func (s *Session) Remaining() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt.State != models.AttemptStateInProgress || s.attempt.DeadlineAt == nil {
		return 0, false
	}
	return s.attempt.RemainingAt(s.clock.Now()), true
}

// Done is closed once the attempt leaves in_progress.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start moves a not_started attempt to in_progress, creating its record, and
// arms the countdown when a time limit applies.
func (s *Session) Start(ctx context.Context, timeLimit time.Duration) error {
	s.mu.Lock()

	if s.attempt.State != models.AttemptStateNotStarted {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	next := s.attempt.Clone()
	now := s.clock.Now()
	next.State = models.AttemptStateInProgress
	next.StartedAt = now
	if timeLimit > 0 {
		deadline := now.Add(timeLimit)
		next.DeadlineAt = &deadline
	}

	if err := s.store.CreateAttempt(ctx, &next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create attempt: %w", err)
	}

	s.attempt = next
	s.armLocked(timeLimit)
	transition := Transition{From: models.AttemptStateNotStarted, To: next.State, Actor: next.StudentID, Attempt: next.Clone()}
	s.mu.Unlock()

	s.logger.Info().Uint("attempt_id", next.ID).Int("attempt_number", next.AttemptNumber).Msg("attempt started")
	s.emit(ctx, transition)
	return nil
}

// resume re-arms the countdown for an attempt loaded from storage. An
// attempt whose deadline has already passed is finalized immediately.
func (s *Session) resume(ctx context.Context) error {
	s.mu.Lock()
	if s.attempt.State != models.AttemptStateInProgress || s.attempt.DeadlineAt == nil {
		s.mu.Unlock()
		return nil
	}
	remaining := s.attempt.RemainingAt(s.clock.Now())
	if remaining > 0 {
		s.armLocked(remaining)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err := s.finalize(ctx, models.SubmitReasonTimeout)
	return err
}

// Answer buffers the answer for a question, replacing any earlier value, and
// persists the buffer. On a persistence failure the answer stays buffered and
// is written with the next successful save.
func (s *Session) Answer(ctx context.Context, questionID uint, answer models.Answer) error {
	s.mu.Lock()
	defer s.unlock()

	if s.attempt.State != models.AttemptStateInProgress {
		return ErrNotInProgress
	}
	if s.expiredLocked() {
		return ErrDeadlinePassed
	}

	question, ok := s.attempt.Question(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if err := question.AcceptAnswer(answer); err != nil {
		return err
	}
	s.pending[questionID] = answer

	saved, err := s.commitLocked(ctx, func(current models.Attempt) (models.Attempt, error) {
		if current.State != models.AttemptStateInProgress {
			return models.Attempt{}, ErrNotInProgress
		}
		return s.withPendingLocked(current), nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotInProgress) {
			s.logger.Warn().Err(err).Uint("attempt_id", s.attempt.ID).Msg("answer buffered but not persisted")
		}
		return fmt.Errorf("save answer: %w", err)
	}
	s.attempt = saved
	s.pending = models.AnswerSheet{}
	return nil
}

// Unsaved reports whether buffered answers are waiting for a successful save.
func (s *Session) Unsaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Submit closes the attempt on the student's request. A submit that arrives
// after the deadline is recorded as a timeout. Submitting an attempt that is
// already closed is a no-op and returns the stored outcome.
func (s *Session) Submit(ctx context.Context) (models.Attempt, error) {
	return s.finalize(ctx, models.SubmitReasonManual)
}

func (s *Session) onTimer() {
	s.timeout(0)
}

// timeout finalizes on behalf of the countdown. A failed save re-arms a
// backoff alarm instead of blocking the timer goroutine.
func (s *Session) timeout(try int) {
	_, err := s.finalize(context.Background(), models.SubmitReasonTimeout)
	if err == nil {
		return
	}
	if try >= s.options.SaveRetries {
		s.logger.Error().Err(err).Uint("attempt_id", s.attemptID()).Msg("timeout submission abandoned after retries")
		return
	}
	s.logger.Warn().Err(err).Uint("attempt_id", s.attemptID()).Int("retry", try+1).Msg("timeout submission failed, retrying")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt.State != models.AttemptStateInProgress {
		return
	}
	s.timer = s.clock.AfterFunc(s.options.RetryBackoff*time.Duration(try+1), func() { s.timeout(try + 1) })
}

func (s *Session) finalize(ctx context.Context, reason models.SubmitReason) (models.Attempt, error) {
	s.mu.Lock()

	if s.attempt.State == models.AttemptStateNotStarted {
		s.unlock()
		return models.Attempt{}, ErrNotInProgress
	}
	if s.attempt.State != models.AttemptStateInProgress {
		current := s.attempt.Clone()
		s.unlock()
		return current, nil
	}

	if reason == models.SubmitReasonManual && s.expiredLocked() {
		reason = models.SubmitReasonTimeout
	}
	closed := models.AttemptStateSubmitted
	if reason == models.SubmitReasonTimeout {
		closed = models.AttemptStateTimedOut
	}

	next, err := s.commitLocked(ctx, func(current models.Attempt) (models.Attempt, error) {
		if current.State != models.AttemptStateInProgress {
			return models.Attempt{}, ErrNotInProgress
		}
		return s.closeAttempt(current, reason), nil
	})
	if errors.Is(err, ErrNotInProgress) {
		// Another writer closed the attempt first; its outcome stands.
		current := s.attempt.Clone()
		s.unlock()
		return current, nil
	}
	if err != nil {
		s.unlock()
		return models.Attempt{}, fmt.Errorf("save submission: %w", err)
	}

	s.attempt = next
	s.pending = models.AnswerSheet{}
	s.stopLocked()

	snapshot := next.Clone()
	transitions := []Transition{
		{From: models.AttemptStateInProgress, To: closed, Actor: next.StudentID, Attempt: snapshot},
		{From: closed, To: next.State, Actor: next.StudentID, Attempt: snapshot},
	}
	onClose := s.onClose
	s.unlock()

	s.logger.Info().
		Uint("attempt_id", next.ID).
		Str("reason", string(reason)).
		Str("state", string(next.State)).
		Float64("auto_score", next.AutoScore).
		Msg("attempt submitted")

	for _, transition := range transitions {
		s.emit(ctx, transition)
	}
	if onClose != nil {
		onClose(next.ID)
	}
	return snapshot, nil
}

// closeAttempt scores current with the buffered answers and moves it to its
// post-submission state.
func (s *Session) closeAttempt(current models.Attempt, reason models.SubmitReason) models.Attempt {
	next := s.withPendingLocked(current)
	now := s.clock.Now()
	next.SubmitReason = reason
	next.SubmittedAt = &now

	result := scoring.Score(next.FrozenSelection(), next.AnswerSheet())
	applyScore(&next, result)
	if result.NeedsManualReview {
		next.State = models.AttemptStatePendingManualReview
		next.Score = nil
		next.Released = false
	} else {
		next.State = models.AttemptStateAutoGraded
		score := result.AutoScore
		next.Score = &score
		next.Released = true
	}
	return next
}

// GradeAndRelease records a staff score and feedback and releases the
// attempt. It applies to attempts pending review and, as an override, to
// attempts that were already scored.
func (s *Session) GradeAndRelease(ctx context.Context, input GradeInput) (models.Attempt, error) {
	s.mu.Lock()

	current := s.attempt
	if current.State == models.AttemptStateReleased && current.Score != nil &&
		*current.Score == input.Score && current.Feedback == input.Feedback &&
		current.GradedBy != nil && *current.GradedBy == input.GraderID {
		snapshot := current.Clone()
		s.unlock()
		return snapshot, nil
	}

	next, err := s.commitLocked(ctx, func(base models.Attempt) (models.Attempt, error) {
		if !base.State.Scored() {
			return models.Attempt{}, ErrNotGradable
		}
		if input.Score < 0 || input.Score > base.PointsPossible {
			return models.Attempt{}, ErrScoreOutOfRange
		}
		current = base
		next := base.Clone()
		now := s.clock.Now()
		score := input.Score
		grader := input.GraderID
		next.Score = &score
		next.Feedback = input.Feedback
		next.GradedBy = &grader
		next.GradedAt = &now
		next.Released = true
		next.State = models.AttemptStateReleased
		return next, nil
	})
	if errors.Is(err, ErrNotGradable) || errors.Is(err, ErrScoreOutOfRange) {
		s.unlock()
		return models.Attempt{}, err
	}
	if err != nil {
		s.unlock()
		return models.Attempt{}, fmt.Errorf("save grade: %w", err)
	}

	s.attempt = next
	snapshot := next.Clone()
	transition := Transition{From: current.State, To: next.State, Actor: input.GraderID, Attempt: snapshot}
	s.unlock()

	s.logger.Info().Uint("attempt_id", next.ID).Uint("grader_id", input.GraderID).Float64("score", input.Score).Msg("attempt released")
	s.emit(ctx, transition)
	return snapshot, nil
}

// Regrade re-runs scoring on the frozen selection and buffered answers. The
// selection and attempt number never change. A released attempt keeps the
// staff score, grader and feedback; only its score is capped to the points
// possible.
func (s *Session) Regrade(ctx context.Context, actor uint) (models.Attempt, error) {
	s.mu.Lock()

	var previous models.AttemptState
	next, err := s.commitLocked(ctx, func(current models.Attempt) (models.Attempt, error) {
		if !current.State.Scored() {
			return models.Attempt{}, ErrNotGradable
		}
		previous = current.State
		return regraded(current), nil
	})
	if errors.Is(err, ErrNotGradable) {
		s.unlock()
		return models.Attempt{}, err
	}
	if err != nil {
		s.unlock()
		return models.Attempt{}, fmt.Errorf("save regrade: %w", err)
	}

	s.attempt = next
	snapshot := next.Clone()
	transition := Transition{From: previous, To: next.State, Actor: actor, Attempt: snapshot}
	s.unlock()

	s.logger.Info().Uint("attempt_id", next.ID).Uint("actor_id", actor).Float64("auto_score", next.AutoScore).Msg("attempt regraded")
	s.emit(ctx, transition)
	return snapshot, nil
}

func regraded(current models.Attempt) models.Attempt {
	next := current.Clone()
	result := scoring.Score(next.FrozenSelection(), next.AnswerSheet())
	applyScore(&next, result)

	switch {
	case current.State == models.AttemptStateReleased:
		if next.Score != nil && *next.Score > next.PointsPossible {
			capped := next.PointsPossible
			next.Score = &capped
		}
	case !result.NeedsManualReview:
		score := result.AutoScore
		next.Score = &score
		next.Released = true
		next.State = models.AttemptStateAutoGraded
	default:
		next.State = models.AttemptStatePendingManualReview
		next.Score = nil
		next.Released = false
	}
	return next
}

// commitLocked builds the next record from the current one and saves it.
// When the stored record moved on, the session adopts it and builds once
// more on top of it, so buffered answers and staff decisions are reapplied
// to the fresh version.
func (s *Session) commitLocked(ctx context.Context, build func(current models.Attempt) (models.Attempt, error)) (models.Attempt, error) {
	next, err := build(s.attempt)
	if err != nil {
		return models.Attempt{}, err
	}
	err = s.store.SaveAttempt(ctx, &next)
	if err == nil || !errors.Is(err, ErrStale) {
		return next, err
	}

	if reloadErr := s.reloadLocked(ctx); reloadErr != nil {
		s.logger.Warn().Err(reloadErr).Uint("attempt_id", s.attempt.ID).Msg("failed to reload stale attempt")
		return models.Attempt{}, err
	}
	next, err = build(s.attempt)
	if err != nil {
		return models.Attempt{}, err
	}
	if err := s.store.SaveAttempt(ctx, &next); err != nil {
		return models.Attempt{}, err
	}
	return next, nil
}

// Sync adopts a stored record newer than the cached one, as written by
// another node. Unsaved answers stay buffered for the next save.
func (s *Session) Sync(stored models.Attempt) {
	s.mu.Lock()
	if stored.ID != s.attempt.ID || stored.Version <= s.attempt.Version {
		s.mu.Unlock()
		return
	}
	s.adoptLocked(stored)
	s.unlock()
}

func (s *Session) reloadLocked(ctx context.Context) error {
	fresh, err := s.store.LoadAttempt(ctx, s.attempt.ID)
	if err != nil {
		return err
	}
	s.adoptLocked(fresh)
	return nil
}

// adoptLocked replaces the cached record. A record that another writer
// already closed ends this session's countdown.
func (s *Session) adoptLocked(fresh models.Attempt) {
	s.attempt = fresh.Clone()
	if fresh.State != models.AttemptStateInProgress && fresh.State != models.AttemptStateNotStarted {
		s.pending = models.AnswerSheet{}
		s.stopLocked()
		s.closedElsewhere = true
		s.logger.Info().Uint("attempt_id", fresh.ID).Str("state", string(fresh.State)).Msg("attempt closed by another writer")
	}
}

// stopLocked cancels the countdown and closes done once.
func (s *Session) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// unlock releases the session and drops it from its registry when a reload
// found it closed elsewhere.
func (s *Session) unlock() {
	forget := s.closedElsewhere && s.onClose != nil
	s.closedElsewhere = false
	id, onClose := s.attempt.ID, s.onClose
	s.mu.Unlock()
	if forget {
		onClose(id)
	}
}

func (s *Session) withPendingLocked(current models.Attempt) models.Attempt {
	next := current.Clone()
	if len(s.pending) == 0 {
		return next
	}
	sheet := next.AnswerSheet()
	for questionID, answer := range s.pending {
		sheet[questionID] = answer
	}
	next.Answers = datatypes.NewJSONType(sheet)
	return next
}

func (s *Session) armLocked(d time.Duration) {
	if d <= 0 {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(d, s.onTimer)
}

func (s *Session) expiredLocked() bool {
	if s.attempt.DeadlineAt == nil {
		return false
	}
	return !s.clock.Now().Before(*s.attempt.DeadlineAt)
}

func (s *Session) attemptID() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.ID
}

func (s *Session) emit(ctx context.Context, transition Transition) {
	if s.observer == nil {
		return
	}
	s.observer(ctx, transition)
}

func applyScore(attempt *models.Attempt, result scoring.Result) {
	attempt.AutoScore = result.AutoScore
	attempt.PointsPossible = result.PointsPossible
	attempt.NeedsManualReview = result.NeedsManualReview
}
