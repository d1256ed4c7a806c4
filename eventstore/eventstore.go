// Package eventstore defines the per-session ordered event log backing
// notification streaming and reconnect resumability. Implementations assign
// strictly increasing, gapless sequence numbers per session and can replay
// any retained suffix of the log without duplication.
package eventstore

import (
	"context"
	"fmt"
)

// Kind classifies a stored event.
type Kind string

const (
	// KindLog carries a notifications/message payload.
	KindLog Kind = "log"
	// KindProgress carries a notifications/progress payload.
	KindProgress Kind = "progress"
	// KindCustom carries an application-defined notification payload.
	KindCustom Kind = "custom"
	// KindResult carries the terminal JSON-RPC response of a streamed
	// request. Storing results alongside notifications lets a client that
	// dropped mid-stream resume and still receive its response.
	KindResult Kind = "result"
)

// Event is one immutable entry in a session's log. Payload is a complete
// serialized JSON-RPC message; transports replay it verbatim as an SSE data
// frame with Seq as the SSE event ID.
type Event struct {
	// Seq is the session-scoped sequence number, assigned by Append.
	// Sequences start at 1 and are strictly increasing with no gaps.
	Seq uint64 `json:"seq"`
	// RequestID correlates the event with the request whose handler emitted
	// it. Empty for events not tied to a request.
	RequestID string `json:"requestId,omitempty"`
	Kind      Kind   `json:"kind"`
	Payload   []byte `json:"payload"`
}

// EventFunc receives events during replay and live delivery. Returning an
// error stops delivery and propagates out of ReplayFrom or Subscribe.
type EventFunc func(ctx context.Context, ev Event) error

// TrimmedError reports that a requested resume point predates the retained
// history. Callers surface this to the client as an explicit gap instead of
// silently skipping events.
type TrimmedError struct {
	// EarliestRetained is the lowest sequence still available for replay.
	EarliestRetained uint64
}

func (e *TrimmedError) Error() string {
	return fmt.Sprintf("eventstore: history trimmed, earliest retained sequence is %d", e.EarliestRetained)
}

// Store is the resumability capability the dispatcher and transport build
// on. Implementations must serialize Append per session so that concurrent
// emitters never observe duplicate or out-of-order sequences.
type Store interface {
	// Append stores ev under sessionID, assigns the next sequence number,
	// and returns it. The Seq field of ev is ignored on input. Append wakes
	// any live subscriber of the session.
	Append(ctx context.Context, sessionID string, ev Event) (uint64, error)

	// ReplayFrom invokes fn for every retained event with Seq > afterSeq in
	// sequence order, then returns. It returns *TrimmedError when afterSeq
	// is below the retention floor.
	ReplayFrom(ctx context.Context, sessionID string, afterSeq uint64, fn EventFunc) error

	// Subscribe replays events with Seq > afterSeq and then follows the live
	// feed, invoking fn for each event in sequence order with no gap and no
	// duplicate at the replay/live boundary. It blocks until ctx is done,
	// the session is dropped, or fn returns an error. Like ReplayFrom it
	// returns *TrimmedError when afterSeq is below the retention floor.
	Subscribe(ctx context.Context, sessionID string, afterSeq uint64, fn EventFunc) error

	// Head returns the highest assigned sequence for the session, or 0 when
	// nothing has been appended.
	Head(ctx context.Context, sessionID string) (uint64, error)

	// Drop discards the session's log and terminates its subscribers.
	// Dropping an unknown session is a no-op.
	Drop(ctx context.Context, sessionID string) error
}
