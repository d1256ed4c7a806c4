package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpstream/streamcore/eventstore"
)

const (
	// DefaultIdleTTL is how long a session may sit idle before it is reaped
	// together with its event log.
	DefaultIdleTTL = 30 * time.Minute
	// DefaultSweepInterval is how often the reaper scans for idle sessions.
	DefaultSweepInterval = time.Minute
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIdleTTL overrides the idle timeout. ttl <= 0 disables reaping.
func WithIdleTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTTL = ttl }
}

// WithSweepInterval overrides the reaper's scan interval.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.sweepInterval = d }
}

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// Manager owns all live sessions. Closing or reaping a session drops its
// event log from the store; a later lookup of the same ID reports
// ErrSessionNotFound rather than silently creating a fresh session.
type Manager struct {
	store         eventstore.Store
	log           *slog.Logger
	idleTTL       time.Duration
	sweepInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a Manager on top of the given event store.
func NewManager(store eventstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		log:           slog.Default(),
		idleTTL:       DefaultIdleTTL,
		sweepInterval: DefaultSweepInterval,
		sessions:      make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create allocates a new active session with an opaque UUID identifier.
func (m *Manager) Create(ctx context.Context, protocolVersion string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &Session{
		id:              uuid.NewString(),
		createdAt:       now,
		protocolVersion: protocolVersion,
		state:           StateActive,
		lastAccess:      now,
		cancels:         make(map[string]context.CancelFunc),
	}
	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()
	m.log.InfoContext(ctx, "session.create", slog.String("session_id", sess.id))
	return sess, nil
}

// Get looks up a live session and refreshes its idle clock.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || sess.State() != StateActive {
		return nil, ErrSessionNotFound
	}
	sess.touch()
	return sess, nil
}

// Close terminates the session, cancels in-flight work, and drops its event
// log. Closing an unknown session returns ErrSessionNotFound.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.close()
	if err := m.store.Drop(context.WithoutCancel(ctx), sessionID); err != nil {
		m.log.ErrorContext(ctx, "session.drop.fail", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		return err
	}
	m.log.InfoContext(ctx, "session.close", slog.String("session_id", sessionID))
	return nil
}

// Run drives the idle reaper until ctx ends. Callers start it once,
// typically alongside the HTTP handler.
func (m *Manager) Run(ctx context.Context) error {
	if m.idleTTL <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.reap(ctx)
		}
	}
}

func (m *Manager) reap(ctx context.Context) {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.RLock()
	var expired []string
	for id, sess := range m.sessions {
		if sess.LastAccess().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		if err := m.Close(ctx, id); err != nil {
			continue
		}
		m.log.InfoContext(ctx, "session.reap", slog.String("session_id", id))
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
