package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpstream/streamcore/eventstore"
	"github.com/mcpstream/streamcore/internal/jsonrpc"
	"github.com/mcpstream/streamcore/mcp"
	"github.com/mcpstream/streamcore/sessions"
)

// RequestContext bundles everything a handler may need: the session, the
// originating request ID, and the emit side channel into the session's event
// log. Handlers receive it explicitly instead of digging values out of an
// ambient object.
//
// Emit methods are safe to call concurrently and while the dispatcher is
// still awaiting the handler's return value.
type RequestContext struct {
	Session   *sessions.Session
	RequestID string

	store eventstore.Store
}

// Log appends a notifications/message event and returns its sequence.
func (rc *RequestContext) Log(ctx context.Context, level, logger string, data any) (uint64, error) {
	return rc.Emit(ctx, eventstore.KindLog, mcp.LogNotificationMethod, mcp.LogMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

// Info is shorthand for Log with level "info".
func (rc *RequestContext) Info(ctx context.Context, data any) (uint64, error) {
	return rc.Log(ctx, "info", "", data)
}

// Debug is shorthand for Log with level "debug".
func (rc *RequestContext) Debug(ctx context.Context, data any) (uint64, error) {
	return rc.Log(ctx, "debug", "", data)
}

// Progress appends a notifications/progress event correlated to the request
// and returns its sequence.
func (rc *RequestContext) Progress(ctx context.Context, progress, total float64, message string) (uint64, error) {
	return rc.Emit(ctx, eventstore.KindProgress, mcp.ProgressNotificationMethod, mcp.ProgressNotificationParams{
		ProgressToken: rc.RequestID,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// Emit appends an arbitrary notification event. The payload is a complete
// JSON-RPC notification built from method and params.
func (rc *RequestContext) Emit(ctx context.Context, kind eventstore.Kind, method string, params any) (uint64, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("marshal %s params: %w", method, err)
	}
	msg, err := json.Marshal(&jsonrpc.Request{Version: jsonrpc.Version, Method: method, Params: b})
	if err != nil {
		return 0, fmt.Errorf("marshal %s notification: %w", method, err)
	}
	return rc.store.Append(ctx, rc.Session.ID(), eventstore.Event{
		RequestID: rc.RequestID,
		Kind:      kind,
		Payload:   msg,
	})
}
