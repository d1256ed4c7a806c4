package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/mcpstream/streamcore/dispatch"
	"github.com/mcpstream/streamcore/eventstore"
	"github.com/mcpstream/streamcore/internal/jsonrpc"
	"github.com/mcpstream/streamcore/internal/logctx"
	"github.com/mcpstream/streamcore/mcp"
	"github.com/mcpstream/streamcore/sessions"
)

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	acceptableMediaTypes = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
)

const (
	// Use canonical header names for clarity; Go matches headers case-insensitively.
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
)

// gapEventName is the SSE event name of the frame emitted when a client
// resumes from a sequence that has been trimmed out of retention.
const gapEventName = "gap"

// errStreamDone signals that the terminal response for a streamed request has
// been delivered and the SSE channel can close normally.
var errStreamDone = errors.New("stream complete")

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC message exchange is possible. We do NOT claim JSON-RPC framing
// here; this is transport-level. Shape:
// {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger       *slog.Logger
	serverInfo   mcp.ImplementationInfo
	instructions string
	jsonResponse bool
}

// WithLogger sets the slog logger used by the handler. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.logger = log }
}

// WithServerInfo sets the implementation info advertised in initialize
// results.
func WithServerInfo(name, version string) Option {
	return func(c *newConfig) { c.serverInfo = mcp.ImplementationInfo{Name: name, Version: version} }
}

// WithInstructions sets the usage instructions advertised in initialize
// results.
func WithInstructions(instructions string) Option {
	return func(c *newConfig) { c.instructions = strings.TrimSpace(instructions) }
}

// WithJSONResponse forces buffered application/json responses for all POST
// requests, even when the client would accept an event stream. Notifications
// emitted during such requests remain available on the GET stream.
func WithJSONResponse(enabled bool) Option {
	return func(c *newConfig) { c.jsonResponse = enabled }
}

// Handler implements the streamable HTTP transport endpoint: POST for
// inbound JSON-RPC, GET for the resumable event stream, DELETE for explicit
// session termination.
type Handler struct {
	mux *http.ServeMux
	log *slog.Logger

	sessions   *sessions.Manager
	dispatcher *dispatch.Dispatcher
	store      eventstore.Store

	serverInfo   mcp.ImplementationInfo
	instructions string
	jsonResponse bool
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an
// optional context. It serializes concurrent writes/flushes and avoids
// writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a Handler serving the MCP endpoint at path.
//
// Required:
//   - path: the endpoint path, e.g. "/mcp"
//   - mgr: the session manager; run its reaper alongside the HTTP server
//   - disp: the request dispatcher holding the method registry
//   - store: the event store shared with mgr and disp
func New(path string, mgr *sessions.Manager, disp *dispatch.Dispatcher, store eventstore.Store, opts ...Option) (*Handler, error) {
	if mgr == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if disp == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("endpoint path %q must start with /", path)
	}

	cfg := &newConfig{
		logger:     slog.Default(),
		serverInfo: mcp.ImplementationInfo{Name: "streamcore"},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		log:          slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		sessions:     mgr,
		dispatcher:   disp,
		store:        store,
		serverInfo:   cfg.serverInfo,
		instructions: cfg.instructions,
		jsonResponse: cfg.jsonResponse,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", path), h.handlePostMCP)
	mux.HandleFunc(fmt.Sprintf("GET %s", path), h.handleGetMCP)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", path), h.handleDeleteMCP)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handlePostMCP handles the POST endpoint, which is used by the client to
// send MCP messages to the server and to establish a session.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	// Streamed responses are the default; fall back to buffered JSON only
	// when the client's Accept excludes text/event-stream but admits
	// application/json. No acceptable match at all is a negotiation failure.
	wantsStream := !h.jsonResponse
	if r.Header.Get("Accept") != "" {
		mt, _, err := contenttype.GetAcceptableMediaType(r, acceptableMediaTypes)
		if err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "accept must include application/json or text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
			return
		}
		if mt.Matches(jsonMediaType) {
			if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{eventStreamMediaType}); err != nil {
				wantsStream = false
			}
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{Method: msg.Method, ID: msg.ID.String()})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.handleInitialize(ctx, w, r, &msg, start)
		return
	}

	sess, err := h.sessions.Get(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		State:     string(sess.State()),
	})

	req := msg.AsRequest()
	if req != nil && req.Method == mcp.InitializeMethod {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	clientPV := r.Header.Get(mcpProtocolVersionHeader)
	if clientPV != "" && sess.ProtocolVersion() != "" && clientPV != sess.ProtocolVersion() {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", clientPV))
		return
	}

	if req != nil {
		if req.IsNotification() {
			h.dispatcher.DispatchNotification(ctx, sess, req)
			if spv := sess.ProtocolVersion(); spv != "" {
				w.Header().Set(mcpProtocolVersionHeader, spv)
			}
			w.WriteHeader(http.StatusAccepted)
			h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
			return
		}

		if !wantsStream {
			resp := h.dispatcher.Dispatch(ctx, sess, req)
			if spv := sess.ProtocolVersion(); spv != "" {
				w.Header().Set(mcpProtocolVersionHeader, spv)
			}
			w.Header().Set("Content-Type", jsonMediaType.String())
			w.WriteHeader(http.StatusOK)
			if err := json.NewEncoder(w).Encode(resp); err != nil {
				h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
			return
		}

		h.streamRequest(ctx, wf, w, sess, req, start)
		return
	}

	// A bare response envelope: this server never issues server-to-client
	// requests, so there is nothing to correlate it with. Accept and drop.
	if res := msg.AsResponse(); res != nil {
		h.log.DebugContext(ctx, "response.inbound.ignored", slog.String("id", res.ID.String()))
		if spv := sess.ProtocolVersion(); spv != "" {
			w.Header().Set(mcpProtocolVersionHeader, spv)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	h.log.WarnContext(ctx, "jsonrpc.message.unrecognized", slog.Duration("dur", time.Since(start)))
	writeJSONError(w, http.StatusBadRequest, "unrecognized JSON-RPC message")
}

// handleInitialize creates a session for a POST arriving without a session
// header. Any other method without a session is rejected.
func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, r *http.Request, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != mcp.InitializeMethod {
		writeJSONError(w, http.StatusNotFound, "expected initialize request")
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
			h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
	}

	pv := initReq.ProtocolVersion
	if pv == "" {
		pv = mcp.LatestProtocolVersion
	}

	sess, err := h.sessions.Create(ctx, pv)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), State: string(sess.State())})

	initRes := &mcp.InitializeResult{
		ProtocolVersion: pv,
		Capabilities: mcp.ServerCapabilities{
			Logging: &struct{}{},
			Tools:   &mcp.ToolsCapability{},
		},
		ServerInfo:   h.serverInfo,
		Instructions: h.instructions,
	}
	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID())
	w.Header().Set(mcpProtocolVersionHeader, pv)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// streamRequest executes one request and streams its notifications and
// terminal response as SSE frames.
//
// The dispatch runs detached from the HTTP request context: if the client
// disconnects mid-stream, the handler keeps executing and its events,
// including the final response, land in the event log where a reconnecting
// GET can replay them. Explicit cancellation still reaches the handler via
// notifications/cancelled.
func (h *Handler) streamRequest(ctx context.Context, wf *lockedWriteFlusher, w http.ResponseWriter, sess *sessions.Session, req *jsonrpc.Request, start time.Time) {
	baseline, err := h.store.Head(ctx, sess.ID())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read event log")
		h.log.ErrorContext(ctx, "eventstore.head.fail", slog.String("err", err.Error()))
		return
	}

	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	rid := req.ID.String()
	go func() {
		dctx := context.WithoutCancel(ctx)
		resp := h.dispatcher.Dispatch(dctx, sess, req)
		b, err := json.Marshal(resp)
		if err != nil {
			h.log.ErrorContext(dctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
			return
		}
		if _, err := h.store.Append(dctx, sess.ID(), eventstore.Event{
			RequestID: rid,
			Kind:      eventstore.KindResult,
			Payload:   b,
		}); err != nil {
			h.log.ErrorContext(dctx, "rpc.response.append.fail", slog.String("err", err.Error()))
		}
	}()

	afterSeq := baseline
	for {
		err = h.store.Subscribe(ctx, sess.ID(), afterSeq, func(cbCtx context.Context, ev eventstore.Event) error {
			if err := writeSSEEvent(wf, "", strconv.FormatUint(ev.Seq, 10), ev.Payload); err != nil {
				return err
			}
			if ev.Kind == eventstore.KindResult && ev.RequestID == rid {
				return errStreamDone
			}
			return nil
		})

		// Retention can overtake a slow consumer mid-request. Announce the
		// gap and pick the stream back up; the result event still arrives.
		var trimmed *eventstore.TrimmedError
		if errors.As(err, &trimmed) {
			if gapErr := h.writeGapEvent(wf, trimmed.EarliestRetained); gapErr != nil {
				h.log.ErrorContext(ctx, "sse.gap.write.fail", slog.String("err", gapErr.Error()))
				return
			}
			h.log.InfoContext(ctx, "sse.stream.gap",
				slog.Uint64("after_seq", afterSeq),
				slog.Uint64("earliest_retained", trimmed.EarliestRetained))
			afterSeq = trimmed.EarliestRetained - 1
			continue
		}

		switch {
		case err == nil || errors.Is(err, errStreamDone):
			h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
		case errors.Is(err, context.Canceled):
			h.log.InfoContext(ctx, "sse.client.gone", slog.Duration("dur", time.Since(start)))
		default:
			h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		}
		return
	}
}

// handleGetMCP handles the GET endpoint, which is used to consume the
// session's event stream, optionally resuming from a previous position.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{eventStreamMediaType}); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		h.log.WarnContext(ctx, "http.get.not_acceptable")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, err := h.sessions.Get(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), State: string(sess.State())})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" {
		if spv := sess.ProtocolVersion(); spv != "" && pv != spv {
			w.WriteHeader(http.StatusPreconditionFailed)
			h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
			return
		}
	}

	var afterSeq uint64
	if lastID := r.Header.Get(lastEventIDHeader); lastID != "" {
		afterSeq, err = strconv.ParseUint(lastID, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			h.log.WarnContext(ctx, "last_event_id.invalid", slog.String("last_event_id", lastID))
			return
		}
	}

	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start", slog.Uint64("after_seq", afterSeq))

	deliver := func(cbCtx context.Context, ev eventstore.Event) error {
		return writeSSEEvent(wf, "", strconv.FormatUint(ev.Seq, 10), ev.Payload)
	}

	for {
		err = h.store.Subscribe(ctx, sess.ID(), afterSeq, deliver)

		var trimmed *eventstore.TrimmedError
		if errors.As(err, &trimmed) {
			// The requested position predates retention. Tell the client
			// what survived, then resume from the retention floor.
			if gapErr := h.writeGapEvent(wf, trimmed.EarliestRetained); gapErr != nil {
				h.log.ErrorContext(ctx, "sse.gap.write.fail", slog.String("err", gapErr.Error()))
				return
			}
			h.log.InfoContext(ctx, "sse.stream.gap",
				slog.Uint64("after_seq", afterSeq),
				slog.Uint64("earliest_retained", trimmed.EarliestRetained))
			afterSeq = trimmed.EarliestRetained - 1
			continue
		}

		switch {
		case err == nil:
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
		case errors.Is(err, context.Canceled):
			h.log.InfoContext(ctx, "sse.client.gone", slog.Duration("dur", time.Since(start)))
		default:
			h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		}
		return
	}
}

// handleDeleteMCP handles the DELETE endpoint, which terminates an existing
// session. On success the session's event log and in-flight work are gone.
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID})

	if err := h.sessions.Close(ctx, sessID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// writeGapEvent emits the named gap frame carrying the earliest retained
// sequence so the client knows history before it is unrecoverable.
func (h *Handler) writeGapEvent(wf *lockedWriteFlusher, earliestRetained uint64) error {
	payload, err := json.Marshal(map[string]uint64{"earliestRetained": earliestRetained})
	if err != nil {
		return err
	}
	return writeSSEEvent(wf, gapEventName, "", payload)
}

// writeSSEEvent writes a Server-Sent Event to the response writer with the
// given event name, ID, and payload. It automatically flushes the response
// after writing.
func writeSSEEvent(wf *lockedWriteFlusher, event, msgID string, payload []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(wf, "event: %s\n", event); err != nil {
			return fmt.Errorf("failed to write SSE event name: %w", err)
		}
	}
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
