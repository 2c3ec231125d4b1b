package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	jsonRPCVersion  = "2.0"
	protocolVersion = "2024-11-05"
	clientName      = "graphmem"
	clientVersion   = "0.1.0"

	// maxMessageSize bounds a single line or event read from a server.
	maxMessageSize = 16 * 1024 * 1024
)

// mcpRequest represents a JSON-RPC style MCP request.
type mcpRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// mcpNotification is a request without an id; servers never answer it.
type mcpNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// mcpResponse represents a JSON-RPC style MCP response.
type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
}

// mcpError represents an error in MCP response.
type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *mcpError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// initializeResult is the reply to the initialize handshake.
type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    MCPCapabilities `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
	Instructions string `json:"instructions,omitempty"`
}

func initializeParams() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]string{
			"name":    clientName,
			"version": clientVersion,
		},
	}
}

func initializedNotification() mcpNotification {
	return mcpNotification{JSONRPC: jsonRPCVersion, Method: "notifications/initialized"}
}

// parseInitializeResult decodes the handshake reply. Some servers answer
// with a bare capabilities object, which is accepted too.
func parseInitializeResult(raw json.RawMessage) (*initializeResult, error) {
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		var simple MCPCapabilities
		if err2 := json.Unmarshal(raw, &simple); err2 != nil {
			return nil, fmt.Errorf("failed to parse capabilities: %w", err)
		}
		return &initializeResult{Capabilities: simple}, nil
	}
	return &result, nil
}

func parseToolList(raw json.RawMessage) ([]MCPToolSchema, error) {
	var result struct {
		Tools []MCPToolSchema `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools response: %w", err)
	}
	return result.Tools, nil
}

func toolCallParams(name string, args map[string]interface{}) map[string]interface{} {
	if args == nil {
		args = map[string]interface{}{}
	}
	return map[string]interface{}{
		"name":      name,
		"arguments": args,
	}
}

// toolCallResult turns the outcome of a tools/call round trip into a
// result. JSON-RPC errors become an unsuccessful result; anything else that
// went wrong is returned as an error.
func toolCallResult(resp *mcpResponse, err error, start time.Time) (*MCPCallResult, error) {
	latencyMs := time.Since(start).Milliseconds()

	var rpcErr *mcpError
	if errors.As(err, &rpcErr) {
		return &MCPCallResult{
			Success:   false,
			Error:     rpcErr.Message,
			ErrorCode: rpcErr.Code,
			LatencyMs: latencyMs,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &MCPCallResult{
		Success:   true,
		Output:    resp.Result,
		LatencyMs: latencyMs,
	}, nil
}

// readEvents parses a text/event-stream body and calls handle once per
// event. It stops when handle returns false or the stream ends.
func readEvents(r io.Reader, handle func(eventType, data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	eventType := "message"
	var eventData bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if eventData.Len() > 0 {
				data := strings.TrimSuffix(eventData.String(), "\n")
				if !handle(eventType, data) {
					return nil
				}
			}
			eventType = "message"
			eventData.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line, "data:")
			eventData.WriteString(strings.TrimPrefix(data, " "))
			eventData.WriteByte('\n')
		}
	}
	return scanner.Err()
}
