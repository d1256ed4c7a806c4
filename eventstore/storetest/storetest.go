// Package storetest is a reusable conformance suite for eventstore.Store
// implementations. Backend test packages provide a factory and run the whole
// suite, so every backend proves the same ordering and resumability
// guarantees.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mcpstream/streamcore/eventstore"
)

// Factory creates a fresh store whose per-session retention is bounded to
// maxEvents (<= 0 for unbounded).
type Factory func(t *testing.T, maxEvents int) eventstore.Store

// Run executes the complete conformance suite against the factory.
func Run(t *testing.T, factory Factory) {
	t.Run("AppendAssignsGaplessSequences", func(t *testing.T) { testAppendSequences(t, factory) })
	t.Run("ReplayReproducesEmissionOrder", func(t *testing.T) { testReplayOrder(t, factory) })
	t.Run("SubscribeBridgesReplayAndLive", func(t *testing.T) { testSubscribeBridge(t, factory) })
	t.Run("ConcurrentAppendsNeverCollide", func(t *testing.T) { testConcurrentAppends(t, factory) })
	t.Run("SessionsAreIsolated", func(t *testing.T) { testSessionIsolation(t, factory) })
	t.Run("ResumeBelowFloorReportsGap", func(t *testing.T) { testTrimmedResume(t, factory) })
	t.Run("DropEndsSubscribers", func(t *testing.T) { testDrop(t, factory) })
	t.Run("SubscribeHonorsContext", func(t *testing.T) { testSubscribeContext(t, factory) })
}

func appendN(t *testing.T, s eventstore.Store, sessionID string, n int) []uint64 {
	t.Helper()
	ctx := context.Background()
	seqs := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		seq, err := s.Append(ctx, sessionID, eventstore.Event{
			RequestID: "req-1",
			Kind:      eventstore.KindLog,
			Payload:   []byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"notifications/message","params":{"data":"n%d"}}`, i)),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		seqs = append(seqs, seq)
	}
	return seqs
}

func testAppendSequences(t *testing.T, factory Factory) {
	s := factory(t, 0)
	seqs := appendN(t, s, "sess-a", 5)
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, seq)
		}
	}
	head, err := s.Head(context.Background(), "sess-a")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 5 {
		t.Fatalf("expected head 5, got %d", head)
	}
}

func testReplayOrder(t *testing.T, factory Factory) {
	s := factory(t, 0)
	appendN(t, s, "sess-replay", 10)

	var got []uint64
	err := s.ReplayFrom(context.Background(), "sess-replay", 0, func(ctx context.Context, ev eventstore.Event) error {
		got = append(got, ev.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 events, got %d", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Fatalf("replay out of order at %d: got seq %d", i, seq)
		}
	}
}

func testSubscribeBridge(t *testing.T, factory Factory) {
	s := factory(t, 0)
	const sessionID = "sess-bridge"
	appendN(t, s, sessionID, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []uint64
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, sessionID, 2, func(ctx context.Context, ev eventstore.Event) error {
			mu.Lock()
			got = append(got, ev.Seq)
			n := len(got)
			mu.Unlock()
			if n == 3 {
				cancel()
			}
			return nil
		})
	}()

	// Live events appended while the subscriber drains the backlog.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	})
	appendN(t, s, sessionID, 2)

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("subscribe returned %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []uint64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func testConcurrentAppends(t *testing.T, factory Factory) {
	s := factory(t, 0)
	const (
		sessionID = "sess-conc"
		producers = 8
		perEach   = 25
	)

	var wg sync.WaitGroup
	seen := make(chan uint64, producers*perEach)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perEach; i++ {
				seq, err := s.Append(context.Background(), sessionID, eventstore.Event{
					Kind:    eventstore.KindProgress,
					Payload: []byte(`{}`),
				})
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				seen <- seq
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for seq := range seen {
		if unique[seq] {
			t.Fatalf("sequence %d assigned twice", seq)
		}
		unique[seq] = true
	}
	if len(unique) != producers*perEach {
		t.Fatalf("expected %d unique sequences, got %d", producers*perEach, len(unique))
	}
	head, err := s.Head(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != uint64(producers*perEach) {
		t.Fatalf("expected head %d, got %d", producers*perEach, head)
	}
}

func testSessionIsolation(t *testing.T, factory Factory) {
	s := factory(t, 0)
	appendN(t, s, "sess-one", 3)
	appendN(t, s, "sess-two", 1)

	var got []uint64
	err := s.ReplayFrom(context.Background(), "sess-two", 0, func(ctx context.Context, ev eventstore.Event) error {
		got = append(got, ev.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected [1], got %v", got)
	}
}

func testTrimmedResume(t *testing.T, factory Factory) {
	s := factory(t, 4)
	appendN(t, s, "sess-trim", 10)

	err := s.ReplayFrom(context.Background(), "sess-trim", 0, func(ctx context.Context, ev eventstore.Event) error {
		return nil
	})
	var trimmed *eventstore.TrimmedError
	if !errors.As(err, &trimmed) {
		t.Fatalf("expected TrimmedError, got %v", err)
	}
	if trimmed.EarliestRetained != 7 {
		t.Fatalf("expected earliest retained 7, got %d", trimmed.EarliestRetained)
	}

	// Resuming from within retention still works.
	var got []uint64
	err = s.ReplayFrom(context.Background(), "sess-trim", trimmed.EarliestRetained-1, func(ctx context.Context, ev eventstore.Event) error {
		got = append(got, ev.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("replay from floor: %v", err)
	}
	if len(got) != 4 || got[0] != 7 || got[3] != 10 {
		t.Fatalf("expected [7..10], got %v", got)
	}
}

func testDrop(t *testing.T, factory Factory) {
	s := factory(t, 0)
	const sessionID = "sess-drop"
	appendN(t, s, sessionID, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		var once sync.Once
		done <- s.Subscribe(ctx, sessionID, 0, func(ctx context.Context, ev eventstore.Event) error {
			once.Do(func() { close(started) })
			return nil
		})
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received backlog")
	}

	if err := s.Drop(context.Background(), sessionID); err != nil {
		t.Fatalf("drop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("subscribe after drop returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not end after drop")
	}

	head, err := s.Head(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 0 {
		t.Fatalf("expected head 0 after drop, got %d", head)
	}
}

func testSubscribeContext(t *testing.T, factory Factory) {
	s := factory(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, "sess-ctx", 0, func(ctx context.Context, ev eventstore.Event) error {
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscribe did not observe cancellation")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
