// Package streaminghttp implements the MCP streamable HTTP transport. It
// mounts as a standard net/http handler and carries single JSON-RPC envelopes
// over POST plus long-lived Server-Sent Event streams for notifications and
// reconnect replay.
//
// Responsibilities
//   - Session creation via initialize and validation via the Mcp-Session-Id
//     header (sessions.Manager)
//   - Content negotiation between buffered application/json responses and
//     text/event-stream channels
//   - Ordered delivery of handler-emitted notifications with the event-store
//     sequence as the SSE event ID
//   - Resumption from Last-Event-ID, including an explicit gap frame when the
//     requested position has been trimmed from retention
//
// Construction
//
//	h, err := streaminghttp.New(
//	    "/mcp",     // endpoint path
//	    manager,    // *sessions.Manager
//	    dispatcher, // *dispatch.Dispatcher
//	    store,      // eventstore.Store shared with both of the above
//	)
//
// # Streamed requests
//
// A POST whose Accept includes text/event-stream receives its response as an
// SSE stream: every notification the handler emits arrives as an id/data
// frame, and the terminal JSON-RPC response closes the stream. The response
// itself is appended to the session's event log, so a client that
// disconnects mid-request can reconnect with GET plus Last-Event-ID and
// still receive both the missed notifications and the result.
//
// # Error Handling
//
// Transport-level rejections (bad media types, missing or unknown sessions,
// malformed envelopes) map to HTTP status codes before any JSON-RPC exchange
// happens. Once a message is dispatched, failures surface as JSON-RPC error
// responses and never tear down the session.
//
// Example (mount in net/http):
//
//	mux := http.NewServeMux()
//	mux.Handle("/mcp", h)
//	http.ListenAndServe(":8080", mux)
package streaminghttp
