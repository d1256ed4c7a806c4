// Package sessions tracks the logical MCP sessions behind the streamable
// HTTP transport: identity, liveness, per-session request serialization, and
// cooperative cancellation of in-flight requests.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a session's liveness state.
type State string

const (
	StateActive  State = "active"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

var (
	// ErrSessionNotFound distinguishes an unknown or expired session from
	// other failures so clients know to re-initialize instead of resuming.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrSessionBusy is returned when a session already has a request in
	// flight. Concurrent requests on one session are rejected, not queued.
	ErrSessionBusy = errors.New("sessions: request already in flight")
)

// Session is the server-side state for one logical client connection. It is
// owned by the Manager and safe for concurrent use.
type Session struct {
	id              string
	createdAt       time.Time
	protocolVersion string

	mu         sync.Mutex
	state      State
	lastAccess time.Time
	inflightID string
	inflight   bool
	cancels    map[string]context.CancelFunc
}

func (s *Session) ID() string              { return s.id }
func (s *Session) CreatedAt() time.Time    { return s.createdAt }
func (s *Session) ProtocolVersion() string { return s.protocolVersion }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastAccess reports when the session last served traffic.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// BeginRequest claims the session's single request slot and registers the
// request's cancel function so a later cancel notification can reach it.
func (s *Session) BeginRequest(requestID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return ErrSessionNotFound
	}
	if s.inflight {
		return ErrSessionBusy
	}
	s.inflight = true
	s.inflightID = requestID
	s.lastAccess = time.Now()
	if cancel != nil {
		s.cancels[requestID] = cancel
	}
	return nil
}

// EndRequest releases the request slot. Safe to call for requests that never
// claimed it.
func (s *Session) EndRequest(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, requestID)
	if s.inflight && s.inflightID == requestID {
		s.inflight = false
		s.inflightID = ""
	}
	s.lastAccess = time.Now()
}

// CancelRequest cancels the identified in-flight request. It reports whether
// a request was actually cancelled. Events the handler already emitted stay
// valid history.
func (s *Session) CancelRequest(requestID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[requestID]
	if ok {
		delete(s.cancels, requestID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// close marks the session closed and cancels anything in flight.
func (s *Session) close() {
	s.mu.Lock()
	s.state = StateClosed
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}
