package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// Manager keeps one Session per attempt so all writers of an attempt share a
// lock. Closed sessions are dropped once their final transition is saved.
type Manager struct {
	mu       sync.Mutex
	sessions map[uint]*Session
	store    Store
	clock    Clock
	options  Options
	logger   zerolog.Logger

	observerMu sync.RWMutex
	observers  []Observer
}

// NewManager constructs a session registry.
func NewManager(store Store, clock Clock, options Options, logger zerolog.Logger) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	if options.SaveRetries < 0 {
		options.SaveRetries = 0
	}
	return &Manager{
		sessions: make(map[uint]*Session),
		store:    store,
		clock:    clock,
		options:  options,
		logger:   logger.With().Str("component", "attempt_session").Logger(),
	}
}

// Observe registers a callback for every persisted transition.
func (m *Manager) Observe(observer Observer) {
	if observer == nil {
		return
	}
	m.observerMu.Lock()
	defer m.observerMu.Unlock()
	m.observers = append(m.observers, observer)
}

// Clock returns the clock sessions run on.
func (m *Manager) Clock() Clock {
	return m.clock
}

// Start creates the attempt record in_progress and registers its session.
// Nothing is registered when the record cannot be created, or when the
// attempt already closed before registration.
func (m *Manager) Start(ctx context.Context, attempt models.Attempt, timeLimit time.Duration) (*Session, error) {
	attempt.State = models.AttemptStateNotStarted
	s := m.newSession(attempt)
	if err := s.Start(ctx, timeLimit); err != nil {
		return nil, err
	}
	id := s.attemptID()

	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-s.done:
	default:
		m.sessions[id] = s
	}
	return s, nil
}

// Acquire returns the live session for the attempt, wrapping the stored
// record when none is registered.
func (m *Manager) Acquire(attempt models.Attempt) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[attempt.ID]; ok {
		return existing
	}
	s := m.newSession(attempt)
	m.sessions[attempt.ID] = s
	return s
}

// Lookup returns the live session for an attempt id.
func (m *Manager) Lookup(attemptID uint) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[attemptID]
	return s, ok
}

// Resume registers in-progress attempts loaded at startup and re-arms their
// countdowns. Attempts past their deadline are submitted as timeouts.
func (m *Manager) Resume(ctx context.Context, attempts []models.Attempt) int {
	resumed := 0
	for _, attempt := range attempts {
		if attempt.State != models.AttemptStateInProgress {
			continue
		}
		s := m.Acquire(attempt)
		if err := s.resume(ctx); err != nil {
			m.logger.Error().Err(err).Uint("attempt_id", attempt.ID).Msg("failed to resume attempt")
			continue
		}
		resumed++
	}
	return resumed
}

// Forget drops a registered session. Sessions still in progress are kept.
func (m *Manager) Forget(attemptID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[attemptID]
	if !ok {
		return
	}
	select {
	case <-s.done:
		delete(m.sessions, attemptID)
	default:
	}
}

// Active returns the number of registered sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) newSession(attempt models.Attempt) *Session {
	s := newSession(attempt, m.store, m.clock, m.notify, m.options, m.logger)
	s.onClose = m.Forget
	return s
}

func (m *Manager) notify(ctx context.Context, transition Transition) {
	m.observerMu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.observerMu.RUnlock()

	for _, observer := range observers {
		observer(ctx, transition)
	}
}
