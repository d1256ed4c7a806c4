// Package mcp defines the subset of Model Context Protocol wire types the
// streamable HTTP core needs: session initialization, tool metadata, and the
// notification payloads emitted by handlers.
package mcp

// LatestProtocolVersion is the newest protocol revision this server speaks.
// Initialize echoes the client's requested version when it is non-empty.
const LatestProtocolVersion = "2025-03-26"

// Method names handled by the core.
const (
	InitializeMethod = "initialize"
	PingMethod       = "ping"
	ToolsListMethod  = "tools/list"

	LogNotificationMethod       = "notifications/message"
	ProgressNotificationMethod  = "notifications/progress"
	CancelledNotificationMethod = "notifications/cancelled"
)

// ImplementationInfo names one side of the protocol exchange.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ClientCapabilities is accepted opaquely; the core does not act on client
// capability flags.
type ClientCapabilities map[string]any

// ServerCapabilities advertises what this server supports.
type ServerCapabilities struct {
	Logging *struct{}        `json:"logging,omitempty"`
	Tools   *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability advertises the tools surface.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeRequest is the params payload of the initialize method.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities,omitempty"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult is the result payload of the initialize method.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// LogMessageParams is the params payload of notifications/message.
type LogMessageParams struct {
	Level  string `json:"level"`
	Logger string `json:"logger,omitempty"`
	Data   any    `json:"data"`
}

// ProgressNotificationParams is the params payload of notifications/progress.
// ProgressToken correlates the notification with the originating request.
type ProgressNotificationParams struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// CancelledNotificationParams is the params payload of notifications/cancelled.
type CancelledNotificationParams struct {
	RequestID any    `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// Tool describes a registered method for tools/list responses.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result payload of tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}
