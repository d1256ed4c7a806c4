package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcpstream/streamcore/eventstore"
	"github.com/mcpstream/streamcore/eventstore/memory"
	"github.com/mcpstream/streamcore/internal/jsonrpc"
	"github.com/mcpstream/streamcore/mcp"
	"github.com/mcpstream/streamcore/sessions"
)

type echoArgs struct {
	Message string `json:"message"`
}

func newTestDispatcher(t *testing.T, regs ...Registration) (*Dispatcher, *sessions.Manager, eventstore.Store) {
	t.Helper()
	store := memory.New()
	reg := NewRegistry()
	for _, r := range regs {
		if err := reg.Register(r); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return NewDispatcher(reg, store), sessions.NewManager(store), store
}

func newTestSession(t *testing.T, m *sessions.Manager) *sessions.Session {
	t.Helper()
	sess, err := m.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func request(id any, method string, params string) *jsonrpc.Request {
	req := &jsonrpc.Request{Version: jsonrpc.Version, Method: method, ID: jsonrpc.NewRequestID(id)}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

func TestDispatch_UnknownMethod(t *testing.T) {
	d, m, _ := newTestDispatcher(t)
	sess := newTestSession(t, m)

	resp := d.Dispatch(context.Background(), sess, request(1, "no/such/method", ""))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected -32601, got %+v", resp.Error)
	}

	// Method resolution is independent of session state: a busy session
	// still reports method-not-found.
	if err := sess.BeginRequest("held", nil); err != nil {
		t.Fatalf("begin: %v", err)
	}
	resp = d.Dispatch(context.Background(), sess, request(2, "no/such/method", ""))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected -32601 on busy session, got %+v", resp.Error)
	}
}

func TestDispatch_InvalidParamsBeforeHandler(t *testing.T) {
	var ran atomic.Bool
	method := NewMethod("echo", "", func(ctx context.Context, rc *RequestContext, args echoArgs) (any, error) {
		ran.Store(true)
		return args.Message, nil
	})
	d, m, _ := newTestDispatcher(t, method)
	sess := newTestSession(t, m)

	for _, params := range []string{
		`{"message":42}`,
		`{"message":"hi","bogus":true}`,
		`[1,2,3]`,
	} {
		resp := d.Dispatch(context.Background(), sess, request(1, "echo", params))
		if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidParams {
			t.Fatalf("params %s: expected -32602, got %+v", params, resp.Error)
		}
	}
	if ran.Load() {
		t.Fatal("handler must not execute on invalid params")
	}

	resp := d.Dispatch(context.Background(), sess, request(1, "echo", `{"message":"hi"}`))
	if resp.Error != nil {
		t.Fatalf("valid params rejected: %+v", resp.Error)
	}
	if string(resp.Result) != `"hi"` {
		t.Fatalf("unexpected result %s", resp.Result)
	}
}

func TestDispatch_HandlerErrorsBecomeInternal(t *testing.T) {
	failing := NewRawMethod("fail", "", func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, error) {
		return nil, fmt.Errorf("database on fire")
	})
	panicking := NewRawMethod("panic", "", func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, error) {
		panic("boom")
	})
	d, m, _ := newTestDispatcher(t, failing, panicking)
	sess := newTestSession(t, m)

	resp := d.Dispatch(context.Background(), sess, request(1, "fail", ""))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInternalError {
		t.Fatalf("expected -32603, got %+v", resp.Error)
	}
	if resp.Error.Message != "database on fire" {
		t.Fatalf("expected diagnostic message, got %q", resp.Error.Message)
	}

	resp = d.Dispatch(context.Background(), sess, request(2, "panic", ""))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInternalError {
		t.Fatalf("expected -32603 after panic, got %+v", resp.Error)
	}

	// The session is still usable afterwards.
	resp = d.Dispatch(context.Background(), sess, request(3, "fail", ""))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInternalError {
		t.Fatalf("session unusable after failure: %+v", resp.Error)
	}
}

func TestDispatch_SessionBusyRejected(t *testing.T) {
	blocked := make(chan struct{})
	slow := NewRawMethod("slow", "", func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, error) {
		<-blocked
		return "done", nil
	})
	d, m, _ := newTestDispatcher(t, slow)
	sess := newTestSession(t, m)

	first := make(chan *jsonrpc.Response, 1)
	go func() { first <- d.Dispatch(context.Background(), sess, request(1, "slow", "")) }()

	deadline := time.Now().Add(2 * time.Second)
	for sess.State() == sessions.StateActive {
		if err := sess.BeginRequest("probe", nil); err != nil {
			break // in flight, as expected
		}
		sess.EndRequest("probe")
		if time.Now().After(deadline) {
			t.Fatal("first request never claimed the slot")
		}
		time.Sleep(time.Millisecond)
	}

	resp := d.Dispatch(context.Background(), sess, request(2, "slow", ""))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeSessionBusy {
		t.Fatalf("expected session-busy error, got %+v", resp.Error)
	}

	close(blocked)
	if resp := <-first; resp.Error != nil {
		t.Fatalf("first request failed: %+v", resp.Error)
	}
}

func TestDispatch_RequestTimeout(t *testing.T) {
	hang := NewRawMethod("hang", "", func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	store := memory.New()
	reg := NewRegistry()
	reg.MustRegister(hang)
	d := NewDispatcher(reg, store, WithRequestTimeout(20*time.Millisecond))
	sess := newTestSession(t, sessions.NewManager(store))

	resp := d.Dispatch(context.Background(), sess, request(1, "hang", ""))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeRequestTimeout {
		t.Fatalf("expected timeout error, got %+v", resp.Error)
	}
}

func TestDispatch_CancelNotificationStopsHandler(t *testing.T) {
	started := make(chan struct{})
	hang := NewRawMethod("hang", "", func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d, m, _ := newTestDispatcher(t, hang)
	sess := newTestSession(t, m)

	done := make(chan *jsonrpc.Response, 1)
	go func() { done <- d.Dispatch(context.Background(), sess, request(9, "hang", "")) }()
	<-started

	d.DispatchNotification(context.Background(), sess, request(nil, mcp.CancelledNotificationMethod, `{"requestId":9}`))

	select {
	case resp := <-done:
		if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInternalError {
			t.Fatalf("expected cancelled-request error, got %+v", resp.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not observe cancellation")
	}
}

func TestDispatch_NotificationsKeepEmissionOrder(t *testing.T) {
	streamer := NewMethod("stream", "", func(ctx context.Context, rc *RequestContext, args struct {
		Count int `json:"count"`
	}) (any, error) {
		for i := 1; i <= args.Count; i++ {
			if _, err := rc.Info(ctx, fmt.Sprintf("message %d", i)); err != nil {
				return nil, err
			}
		}
		return "sent", nil
	})
	d, m, store := newTestDispatcher(t, streamer)
	sess := newTestSession(t, m)

	resp := d.Dispatch(context.Background(), sess, request(5, "stream", `{"count":3}`))
	if resp.Error != nil {
		t.Fatalf("dispatch: %+v", resp.Error)
	}

	var events []eventstore.Event
	err := store.ReplayFrom(context.Background(), sess.ID(), 0, func(ctx context.Context, ev eventstore.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has sequence %d", i, ev.Seq)
		}
		if ev.RequestID != "5" {
			t.Fatalf("event %d not correlated to request: %q", i, ev.RequestID)
		}
		var msg jsonrpc.Request
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if msg.Method != mcp.LogNotificationMethod {
			t.Fatalf("event %d method %q", i, msg.Method)
		}
	}
}

func TestRegistry_DuplicateAndTools(t *testing.T) {
	reg := NewRegistry()
	echo := NewMethod("echo", "Echo a message", func(ctx context.Context, rc *RequestContext, args echoArgs) (any, error) {
		return args.Message, nil
	})
	if err := reg.Register(echo); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(echo); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	reg.MustRegister(NewRawMethod("ping", "", func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, error) {
		return struct{}{}, nil
	}))

	tools := reg.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "echo" || tools[1].Name != "ping" {
		t.Fatalf("tools not sorted: %v", tools)
	}
	if tools[0].InputSchema == nil {
		t.Fatal("typed method should expose an input schema")
	}

	b, err := json.Marshal(tools[0].InputSchema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(b, &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["message"]; !ok {
		t.Fatalf("schema missing message property: %s", b)
	}
}

func TestDispatch_ErrorsAreNotFatal(t *testing.T) {
	d, m, _ := newTestDispatcher(t)
	sessA := newTestSession(t, m)
	sessB := newTestSession(t, m)

	if resp := d.Dispatch(context.Background(), sessA, request(1, "missing", "")); resp.Error == nil {
		t.Fatal("expected error response")
	}
	// Failure on one session leaves others untouched.
	if _, err := m.Get(context.Background(), sessB.ID()); err != nil {
		t.Fatalf("other session affected: %v", err)
	}
	if errors.Is(sessB.BeginRequest("1", nil), sessions.ErrSessionBusy) {
		t.Fatal("other session should be idle")
	}
}
