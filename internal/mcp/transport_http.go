package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"graphmem/internal/logging"
)

const sessionHeader = "Mcp-Session-Id"

// HTTPTransport implements MCPTransport over HTTP POST. Replies may come
// back as a JSON body or as a short event stream.
type HTTPTransport struct {
	mu sync.RWMutex

	baseURL    string
	headers    map[string]string
	timeout    time.Duration
	client     *http.Client
	connected  bool
	serverInfo *MCPCapabilities
	sessionID  string

	nextID atomic.Int64
}

// NewHTTPTransport creates a new HTTP transport for MCP communication.
func NewHTTPTransport(baseURL string, timeout time.Duration, headers map[string]string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		headers: headers,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Connect performs the initialize handshake.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	resp, hdr, err := t.roundTripLocked(ctx, "initialize", initializeParams())
	if err != nil {
		t.connected = false
		return fmt.Errorf("failed to connect to MCP server at %s: %w", t.baseURL, err)
	}
	if sid := hdr.Get(sessionHeader); sid != "" {
		t.sessionID = sid
	}

	result, err := parseInitializeResult(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to connect to MCP server at %s: %w", t.baseURL, err)
	}

	if err := t.notifyLocked(ctx, initializedNotification()); err != nil {
		logging.Get(logging.CategoryTools).Warn("initialized notification to %s failed: %v", t.baseURL, err)
	}

	t.serverInfo = &result.Capabilities
	t.connected = true
	logging.Get(logging.CategoryTools).Info("MCP HTTP transport connected to %s (%s %s)", t.baseURL, result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}

// Disconnect closes the connection.
func (t *HTTPTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
	t.serverInfo = nil
	t.sessionID = ""
	t.client.CloseIdleConnections()
	logging.Get(logging.CategoryTools).Info("MCP HTTP transport disconnected from %s", t.baseURL)
	return nil
}

// ListTools retrieves available tools from the server.
func (t *HTTPTransport) ListTools(ctx context.Context) ([]MCPToolSchema, error) {
	resp, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools, err := parseToolList(resp.Result)
	if err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryTools).Debug("MCP server returned %d tools", len(tools))
	return tools, nil
}

// CallTool invokes a tool on the MCP server.
func (t *HTTPTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPCallResult, error) {
	start := time.Now()
	resp, err := t.call(ctx, "tools/call", toolCallParams(name, args))
	return toolCallResult(resp, err, start)
}

// GetCapabilities returns server capabilities.
func (t *HTTPTransport) GetCapabilities(ctx context.Context) (*MCPCapabilities, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.serverInfo == nil {
		return nil, ErrNotConnected
	}
	caps := *t.serverInfo
	return &caps, nil
}

// Ping checks if the server is responsive.
func (t *HTTPTransport) Ping(ctx context.Context) error {
	_, err := t.call(ctx, "ping", nil)
	if err != nil {
		// Try a simple HTTP GET as fallback
		req, err2 := http.NewRequestWithContext(ctx, "GET", strings.TrimSuffix(t.baseURL, "/")+"/health", nil)
		if err2 != nil {
			return err
		}
		resp, err2 := t.client.Do(req)
		if err2 != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
	}
	return nil
}

// IsConnected returns current connection status.
func (t *HTTPTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// call makes a JSON-RPC call to the MCP server.
func (t *HTTPTransport) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected {
		return nil, ErrNotConnected
	}
	resp, _, err := t.roundTripLocked(ctx, method, params)
	return resp, err
}

// roundTripLocked makes a JSON-RPC call (must hold at least read lock).
func (t *HTTPTransport) roundTripLocked(ctx context.Context, method string, params interface{}) (*mcpResponse, http.Header, error) {
	id := int(t.nextID.Add(1))
	req := mcpRequest{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}

	httpResp, err := t.post(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		return nil, nil, fmt.Errorf("server returned status %d: %s", httpResp.StatusCode, string(bodyBytes))
	}

	var resp *mcpResponse
	mediaType, _, _ := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		resp, err = awaitStreamedResponse(httpResp.Body, id)
	} else {
		resp = &mcpResponse{}
		err = json.NewDecoder(httpResp.Body).Decode(resp)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.Error != nil {
		return resp, httpResp.Header, resp.Error
	}
	return resp, httpResp.Header, nil
}

// notifyLocked sends a notification and discards any reply body.
func (t *HTTPTransport) notifyLocked(ctx context.Context, n mcpNotification) error {
	httpResp, err := t.post(ctx, n)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, httpResp.Body)
	if httpResp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", httpResp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if t.sessionID != "" {
		httpReq.Header.Set(sessionHeader, t.sessionID)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return httpResp, nil
}

// awaitStreamedResponse reads message events until the reply for id arrives.
func awaitStreamedResponse(body io.Reader, id int) (*mcpResponse, error) {
	var found *mcpResponse
	var decodeErr error
	err := readEvents(body, func(eventType, data string) bool {
		if eventType != "message" {
			return true
		}
		var resp mcpResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			decodeErr = err
			return true
		}
		if resp.ID != id {
			return true
		}
		found = &resp
		return false
	})
	if found != nil {
		return found, nil
	}
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return nil, fmt.Errorf("stream ended without a reply to request %d", id)
}

// Ensure HTTPTransport implements MCPTransport.
var _ MCPTransport = (*HTTPTransport)(nil)
