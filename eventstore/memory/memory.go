// Package memory provides the default in-memory eventstore.Store. It is
// suitable for single-node deployments and tests; state does not survive the
// process.
package memory

import (
	"context"
	"sync"

	"github.com/mcpstream/streamcore/eventstore"
)

// DefaultMaxEventsPerSession bounds each session's retained log. Once the
// bound is exceeded the oldest events are evicted and resumption below the
// floor reports an explicit gap.
const DefaultMaxEventsPerSession = 1024

// Option configures the store.
type Option func(*Store)

// WithMaxEventsPerSession overrides the per-session retention bound.
// n <= 0 means unbounded.
func WithMaxEventsPerSession(n int) Option {
	return func(s *Store) { s.maxEvents = n }
}

// Store implements eventstore.Store with per-session in-memory logs.
type Store struct {
	mu        sync.Mutex
	logs      map[string]*sessionLog
	maxEvents int
}

// sessionLog holds one session's retained events. events[i].Seq is
// firstSeq+i; the retained range is [firstSeq, nextSeq-1].
type sessionLog struct {
	mu       sync.Mutex
	cond     *sync.Cond
	events   []eventstore.Event
	firstSeq uint64
	nextSeq  uint64
	dropped  bool
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		logs:      make(map[string]*sessionLog),
		maxEvents: DefaultMaxEventsPerSession,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) log(sessionID string, create bool) *sessionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[sessionID]
	if !ok && create {
		l = &sessionLog{firstSeq: 1, nextSeq: 1}
		l.cond = sync.NewCond(&l.mu)
		s.logs[sessionID] = l
	}
	return l
}

func (s *Store) Append(ctx context.Context, sessionID string, ev eventstore.Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l := s.log(sessionID, true)

	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Seq = l.nextSeq
	ev.Payload = append([]byte(nil), ev.Payload...)
	l.nextSeq++
	l.events = append(l.events, ev)
	if s.maxEvents > 0 && len(l.events) > s.maxEvents {
		over := len(l.events) - s.maxEvents
		l.events = append(l.events[:0:0], l.events[over:]...)
		l.firstSeq += uint64(over)
	}
	l.cond.Broadcast()
	return ev.Seq, nil
}

func (s *Store) ReplayFrom(ctx context.Context, sessionID string, afterSeq uint64, fn eventstore.EventFunc) error {
	l := s.log(sessionID, true)

	l.mu.Lock()
	if afterSeq+1 < l.firstSeq {
		floor := l.firstSeq
		l.mu.Unlock()
		return &eventstore.TrimmedError{EarliestRetained: floor}
	}
	backlog := snapshotAfter(l, afterSeq)
	l.mu.Unlock()

	for _, ev := range backlog {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, sessionID string, afterSeq uint64, fn eventstore.EventFunc) error {
	l := s.log(sessionID, true)

	// Wake the cond wait when the subscriber's context ends.
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	cursor := afterSeq
	l.mu.Lock()
	if cursor+1 < l.firstSeq {
		floor := l.firstSeq
		l.mu.Unlock()
		return &eventstore.TrimmedError{EarliestRetained: floor}
	}
	for {
		for ctx.Err() == nil && !l.dropped && cursor+1 >= l.nextSeq {
			l.cond.Wait()
		}
		if err := ctx.Err(); err != nil {
			l.mu.Unlock()
			return err
		}
		if l.dropped {
			l.mu.Unlock()
			return nil
		}
		// A slow subscriber can fall behind eviction while delivering.
		if cursor+1 < l.firstSeq {
			floor := l.firstSeq
			l.mu.Unlock()
			return &eventstore.TrimmedError{EarliestRetained: floor}
		}
		batch := snapshotAfter(l, cursor)
		l.mu.Unlock()

		for _, ev := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, ev); err != nil {
				return err
			}
			cursor = ev.Seq
		}
		l.mu.Lock()
	}
}

func (s *Store) Head(ctx context.Context, sessionID string) (uint64, error) {
	l := s.log(sessionID, false)
	if l == nil {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq - 1, nil
}

func (s *Store) Drop(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	l, ok := s.logs[sessionID]
	if ok {
		delete(s.logs, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	l.mu.Lock()
	l.dropped = true
	l.events = nil
	l.cond.Broadcast()
	l.mu.Unlock()
	return nil
}

// snapshotAfter copies the retained events with Seq > afterSeq. Caller holds
// l.mu and has already ruled out a trimmed gap.
func snapshotAfter(l *sessionLog, afterSeq uint64) []eventstore.Event {
	if afterSeq+1 >= l.nextSeq {
		return nil
	}
	start := int(afterSeq + 1 - l.firstSeq)
	out := make([]eventstore.Event, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

var _ eventstore.Store = (*Store)(nil)
