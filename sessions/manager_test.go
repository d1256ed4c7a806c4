package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcpstream/streamcore/eventstore"
	"github.com/mcpstream/streamcore/eventstore/memory"
)

func TestManager_CreateAndGet(t *testing.T) {
	m := NewManager(memory.New())
	ctx := context.Background()

	sess, err := m.Create(ctx, "2024-11-05")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID() == "" {
		t.Fatal("expected non-empty session id")
	}
	if sess.State() != StateActive {
		t.Fatalf("expected active state, got %s", sess.State())
	}

	got, err := m.Get(ctx, sess.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID() != sess.ID() {
		t.Fatalf("expected session %s, got %s", sess.ID(), got.ID())
	}
	if got.ProtocolVersion() != "2024-11-05" {
		t.Fatalf("unexpected protocol version %q", got.ProtocolVersion())
	}
}

func TestManager_GetUnknownSession(t *testing.T) {
	m := NewManager(memory.New())

	_, err := m.Get(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_CloseDropsEventLog(t *testing.T) {
	store := memory.New()
	m := NewManager(store)
	ctx := context.Background()

	sess, err := m.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Append(ctx, sess.ID(), eventstore.Event{Kind: eventstore.KindLog, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := m.Close(ctx, sess.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := m.Get(ctx, sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after close, got %v", err)
	}
	head, err := store.Head(ctx, sess.ID())
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 0 {
		t.Fatalf("expected event log dropped, head is %d", head)
	}

	if err := m.Close(ctx, sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on double close, got %v", err)
	}
}

func TestSession_SerializesRequests(t *testing.T) {
	m := NewManager(memory.New())
	sess, err := m.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := sess.BeginRequest("1", nil); err != nil {
		t.Fatalf("begin first request: %v", err)
	}
	if err := sess.BeginRequest("2", nil); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	sess.EndRequest("1")
	if err := sess.BeginRequest("2", nil); err != nil {
		t.Fatalf("begin after release: %v", err)
	}
}

func TestSession_CancelRequest(t *testing.T) {
	m := NewManager(memory.New())
	sess, err := m.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sess.BeginRequest("7", cancel); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if !sess.CancelRequest("7") {
		t.Fatal("expected cancel to find the request")
	}
	if ctx.Err() == nil {
		t.Fatal("expected request context to be cancelled")
	}
	if sess.CancelRequest("7") {
		t.Fatal("second cancel should be a no-op")
	}
}

func TestManager_ReapsIdleSessions(t *testing.T) {
	store := memory.New()
	m := NewManager(store,
		WithIdleTTL(50*time.Millisecond),
		WithSweepInterval(10*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sess, err := m.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := m.Get(ctx, sess.ID()); errors.Is(err, ErrSessionNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("idle session was never reaped")
		}
		// Get refreshes the idle clock, so only poll occasionally.
		time.Sleep(100 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
}
