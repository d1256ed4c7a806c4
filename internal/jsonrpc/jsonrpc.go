// Package jsonrpc implements the JSON-RPC 2.0 message framing used by the
// streamable HTTP transport. Batch requests are intentionally unsupported;
// the transport rejects them before messages reach this package.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version this package accepts or emits.
const Version = "2.0"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates the server received invalid JSON.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates a structurally invalid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method is not registered.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates the params failed validation.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates a handler failure.
	ErrorCodeInternalError ErrorCode = -32603

	// ErrorCodeRequestTimeout is an implementation-defined code reported when
	// a request exceeds its processing deadline.
	ErrorCodeRequestTimeout ErrorCode = -32001
	// ErrorCodeSessionBusy is an implementation-defined code reported when a
	// session already has a request in flight.
	ErrorCodeSessionBusy ErrorCode = -32002
)

// Error is the JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Request is a JSON-RPC request, or a notification when ID is absent.
type Request struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no ID and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return r.ID.IsNil()
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	Version string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      *RequestID      `json:"id,omitempty"`
}

// NewResultResponse marshals result into a successful response for id.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{Version: Version, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		Version: Version,
		Error:   &Error{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

// AnyMessage is a request, notification, or response whose shape has not yet
// been determined. UnmarshalJSON enforces JSON-RPC 2.0 structure so that
// downstream code can rely on exactly one interpretation being valid.
type AnyMessage struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      *RequestID      `json:"id,omitempty"`
}

func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type plain AnyMessage
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.Version != Version {
		return fmt.Errorf("unsupported jsonrpc version %q", raw.Version)
	}

	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil
	switch {
	case hasMethod && (hasResult || hasError):
		return fmt.Errorf("request must not carry result or error")
	case !hasMethod && hasResult && hasError:
		return fmt.Errorf("response must not carry both result and error")
	case !hasMethod && !hasResult && !hasError:
		return fmt.Errorf("message is neither a request nor a response")
	}

	*m = AnyMessage(raw)
	return nil
}

// AsRequest returns the request view of the message, or nil when the message
// is a response.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{Version: m.Version, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns the response view of the message, or nil when the
// message is a request or notification.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{Version: m.Version, Result: m.Result, Error: m.Error, ID: m.ID}
}
