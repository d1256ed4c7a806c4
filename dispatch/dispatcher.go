package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcpstream/streamcore/eventstore"
	"github.com/mcpstream/streamcore/internal/jsonrpc"
	"github.com/mcpstream/streamcore/mcp"
	"github.com/mcpstream/streamcore/sessions"
)

// DefaultRequestTimeout bounds a single request's handler execution.
const DefaultRequestTimeout = 2 * time.Minute

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRequestTimeout overrides the per-request deadline. d <= 0 disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.requestTimeout = d }
}

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(disp *Dispatcher) { disp.log = log }
}

// Dispatcher resolves and executes JSON-RPC requests against the registry.
// All protocol failures surface as JSON-RPC error envelopes; nothing a
// handler does can take down the transport.
type Dispatcher struct {
	reg            *Registry
	store          eventstore.Store
	log            *slog.Logger
	requestTimeout time.Duration
}

// NewDispatcher builds a Dispatcher over the registry and event store.
func NewDispatcher(reg *Registry, store eventstore.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:            reg,
		store:          store,
		log:            slog.Default(),
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one request on the session and always returns a
// response envelope for the request's ID.
//
// Per-session serialization is enforced here: a session with a request in
// flight rejects further requests with the session-busy error code rather
// than queuing them.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	reg, ok := d.reg.Resolve(req.Method)
	if !ok {
		d.log.InfoContext(ctx, "rpc.method.miss", slog.String("method", req.Method))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}

	if d.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rid := req.ID.String()
	if err := sess.BeginRequest(rid, cancel); err != nil {
		if errors.Is(err, sessions.ErrSessionBusy) {
			d.log.InfoContext(ctx, "rpc.session.busy", slog.String("method", req.Method))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeSessionBusy, "session has a request in flight", nil)
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "session unavailable", nil)
	}
	defer sess.EndRequest(rid)

	rc := &RequestContext{Session: sess, RequestID: rid, store: d.store}
	result, err := d.invoke(ctx, reg, rc, req.Params)
	if err != nil {
		return d.errorResponse(ctx, req, err)
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		d.log.ErrorContext(ctx, "rpc.result.marshal.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}

// invoke runs the handler with panic containment.
func (d *Dispatcher) invoke(ctx context.Context, reg *Registration, rc *RequestContext, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.ErrorContext(ctx, "rpc.handler.panic", slog.String("method", reg.name), slog.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return reg.handler(ctx, rc, params)
}

func (d *Dispatcher) errorResponse(ctx context.Context, req *jsonrpc.Request, err error) *jsonrpc.Response {
	var invalid *InvalidParamsError
	switch {
	case errors.As(err, &invalid):
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, invalid.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		d.log.WarnContext(ctx, "rpc.request.timeout", slog.String("method", req.Method))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeRequestTimeout, "request timed out", nil)
	case errors.Is(err, context.Canceled):
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "request cancelled", nil)
	default:
		d.log.ErrorContext(ctx, "rpc.handler.fail", slog.String("method", req.Method), slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
}

// DispatchNotification handles a client-to-server notification. Unknown
// notifications are logged and dropped; notifications never produce a
// response envelope.
func (d *Dispatcher) DispatchNotification(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) {
	switch req.Method {
	case mcp.CancelledNotificationMethod:
		var params mcp.CancelledNotificationParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			d.log.WarnContext(ctx, "notification.cancelled.params.fail", slog.String("err", err.Error()))
			return
		}
		rid := requestIDString(params.RequestID)
		if sess.CancelRequest(rid) {
			d.log.InfoContext(ctx, "rpc.request.cancelled", slog.String("request_id", rid))
		}
	default:
		d.log.DebugContext(ctx, "notification.ignored", slog.String("method", req.Method))
	}
}

// requestIDString renders a request ID received as JSON (string or number)
// the same way jsonrpc.RequestID does, so cancellation keys line up.
func requestIDString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%g", id)
	default:
		return fmt.Sprintf("%v", id)
	}
}
