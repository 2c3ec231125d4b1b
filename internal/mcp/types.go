// Package mcp provides the MCP (Model Context Protocol) client used to talk
// to the upstream memory-graph server over HTTP, SSE or a stdio subprocess.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned when a call is made on a closed transport.
	ErrNotConnected = errors.New("not connected to MCP server")

	// ErrCircuitOpen is returned while a server's breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// ServerStatus represents the connection status of an MCP server.
type ServerStatus string

const (
	ServerStatusUnknown      ServerStatus = "unknown"
	ServerStatusConnecting   ServerStatus = "connecting"
	ServerStatusConnected    ServerStatus = "connected"
	ServerStatusDisconnected ServerStatus = "disconnected"
	ServerStatusError        ServerStatus = "error"
)

// Protocol represents the MCP transport protocol.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolStdio Protocol = "stdio"
	ProtocolSSE   Protocol = "sse"
)

// MCPServerConfig describes how to reach one MCP server.
type MCPServerConfig struct {
	ID                string            `json:"id"`
	Enabled           bool              `json:"enabled"`
	Protocol          string            `json:"protocol"`
	BaseURL           string            `json:"base_url"`
	Endpoint          string            `json:"endpoint,omitempty"` // For stdio protocol
	Timeout           string            `json:"timeout"`
	Headers           map[string]string `json:"headers,omitempty"`
	AutoConnect       bool              `json:"auto_connect"`
	AutoDiscoverTools bool              `json:"auto_discover_tools"`
}

// MCPServer represents a known MCP server.
type MCPServer struct {
	ID            string       `json:"server_id"`
	Name          string       `json:"name"`
	Version       string       `json:"version"`
	Endpoint      string       `json:"endpoint"`
	Protocol      Protocol     `json:"protocol"`
	Status        ServerStatus `json:"status"`
	Capabilities  []string     `json:"capabilities"`
	DiscoveredAt  time.Time    `json:"discovered_at"`
	LastConnected time.Time    `json:"last_connected"`
	LastPing      time.Time    `json:"last_ping"`
	RetryCount    int          `json:"retry_count"`
}

// MCPTool represents a tool discovered from an MCP server.
type MCPTool struct {
	// Identity
	ToolID   string `json:"tool_id"`
	ServerID string `json:"server_id"`
	Name     string `json:"name"`

	// Schema (from MCP server)
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`

	// Usage statistics
	UsageCount   int64     `json:"usage_count"`
	SuccessCount int64     `json:"success_count"`
	AvgLatencyMs int       `json:"avg_latency_ms"`
	LastUsed     time.Time `json:"last_used,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`

	// Runtime state (not persisted)
	ServerStatus ServerStatus `json:"-"`
}

// MCPToolSchema represents the raw tool schema from an MCP server.
type MCPToolSchema struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// MCPCapabilities represents server capabilities from the MCP protocol.
// Servers advertise each capability as an object (possibly empty); a
// present, non-null, non-false value counts as supported.
type MCPCapabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
	Logging   bool `json:"logging"`
}

// UnmarshalJSON accepts both `{"tools": {}}` and `{"tools": true}`.
func (c *MCPCapabilities) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Tools = advertised(raw["tools"])
	c.Resources = advertised(raw["resources"])
	c.Prompts = advertised(raw["prompts"])
	c.Logging = advertised(raw["logging"])
	return nil
}

// List returns the names of supported capabilities.
func (c MCPCapabilities) List() []string {
	var out []string
	if c.Tools {
		out = append(out, "tools")
	}
	if c.Resources {
		out = append(out, "resources")
	}
	if c.Prompts {
		out = append(out, "prompts")
	}
	if c.Logging {
		out = append(out, "logging")
	}
	return out
}

func advertised(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false":
		return false
	}
	return true
}

// MCPCallResult represents the result of calling an MCP tool.
// Output holds the raw JSON-RPC result of tools/call when Success is true.
type MCPCallResult struct {
	Success   bool            `json:"success"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode int             `json:"error_code,omitempty"`
	LatencyMs int64           `json:"latency_ms"`
}

// MCPTransport defines the interface for MCP protocol transports.
//
// CallTool returns an error only when the server could not be reached or
// its reply could not be read. A JSON-RPC error reply is reported as a
// result with Success false.
type MCPTransport interface {
	// Connect establishes connection to the MCP server.
	Connect(ctx context.Context) error

	// Disconnect closes the connection.
	Disconnect() error

	// ListTools retrieves available tools from the server.
	ListTools(ctx context.Context) ([]MCPToolSchema, error)

	// CallTool invokes a tool on the MCP server.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPCallResult, error)

	// GetCapabilities returns server capabilities.
	GetCapabilities(ctx context.Context) (*MCPCapabilities, error)

	// Ping checks if the server is responsive.
	Ping(ctx context.Context) error

	// IsConnected returns current connection status.
	IsConnected() bool
}

// BreakerConfig tunes the per-server circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the breaker settings used when none are given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}
