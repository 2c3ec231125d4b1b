package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"graphmem/internal/logging"
)

// SSETransport implements MCPTransport over SSE (Server-Sent Events).
// Requests are POSTed to the endpoint announced on the event stream and
// replies arrive as message events.
type SSETransport struct {
	mu sync.RWMutex

	baseURL    string
	postURL    string
	headers    map[string]string
	timeout    time.Duration
	client     *http.Client // requests, bounded by timeout
	stream     *http.Client // event stream, unbounded
	connected  bool
	serverInfo *MCPCapabilities

	// SSE specific
	sseResp    *http.Response
	cancel     context.CancelFunc
	readDone   chan struct{}
	pending    map[int]chan *mcpResponse
	nextID     int
	initSignal chan struct{}
	initOnce   *sync.Once
}

// NewSSETransport creates a new SSE transport for MCP communication.
func NewSSETransport(baseURL string, timeout time.Duration, headers map[string]string) *SSETransport {
	return &SSETransport{
		baseURL: baseURL,
		headers: headers,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
		stream:     &http.Client{},
		pending:    make(map[int]chan *mcpResponse),
		nextID:     1,
		initSignal: make(chan struct{}),
		initOnce:   &sync.Once{},
	}
}

// Connect opens the event stream, waits for the endpoint event and
// performs the initialize handshake.
func (t *SSETransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	readCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(readCtx, "GET", t.baseURL, nil)
	if err != nil {
		cancel()
		t.mu.Unlock()
		return fmt.Errorf("failed to create request: %w", err)
	}
	t.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.stream.Do(req)
	if err != nil {
		cancel()
		t.mu.Unlock()
		return fmt.Errorf("failed to connect to SSE endpoint %s: %w", t.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.mu.Unlock()
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	t.sseResp = resp
	t.cancel = cancel
	t.readDone = make(chan struct{})
	t.initSignal = make(chan struct{})
	t.initOnce = &sync.Once{}

	go t.readLoop(resp.Body, t.readDone)
	initSignal := t.initSignal
	t.mu.Unlock()

	logging.Get(logging.CategoryTools).Debug("SSE connection established to %s, waiting for endpoint", t.baseURL)

	select {
	case <-initSignal:
	case <-ctx.Done():
		t.Disconnect()
		return ctx.Err()
	case <-time.After(t.timeout):
		t.Disconnect()
		return fmt.Errorf("timeout waiting for endpoint event")
	}

	initResp, err := t.call(ctx, "initialize", initializeParams())
	if err != nil {
		t.Disconnect()
		return fmt.Errorf("failed to initialize: %w", err)
	}
	result, err := parseInitializeResult(initResp.Result)
	if err != nil {
		t.Disconnect()
		return err
	}
	if err := t.notify(ctx, initializedNotification()); err != nil {
		logging.Get(logging.CategoryTools).Warn("initialized notification to %s failed: %v", t.baseURL, err)
	}

	t.mu.Lock()
	t.serverInfo = &result.Capabilities
	t.connected = true
	t.mu.Unlock()

	logging.Get(logging.CategoryTools).Info("MCP SSE transport connected to %s (%s %s)", t.baseURL, result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}

// Disconnect closes the connection and waits for the reader to exit.
func (t *SSETransport) Disconnect() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.sseResp != nil {
		t.sseResp.Body.Close()
		t.sseResp = nil
	}
	wasConnected := t.connected
	t.connected = false
	t.serverInfo = nil
	t.postURL = ""
	t.failPendingLocked()
	readDone := t.readDone
	t.mu.Unlock()

	if readDone != nil {
		select {
		case <-readDone:
		case <-time.After(time.Second):
			logging.Get(logging.CategoryTools).Warn("Timeout waiting for SSE reader to exit")
		}
	}
	t.client.CloseIdleConnections()
	t.stream.CloseIdleConnections()

	if wasConnected {
		logging.Get(logging.CategoryTools).Info("MCP SSE transport disconnected from %s", t.baseURL)
	}
	return nil
}

// failPendingLocked closes any pending channels to unblock callers.
func (t *SSETransport) failPendingLocked() {
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// readLoop reads SSE events from the response body.
func (t *SSETransport) readLoop(body io.ReadCloser, done chan struct{}) {
	defer close(done)
	defer body.Close()

	err := readEvents(body, func(eventType, data string) bool {
		t.handleEvent(eventType, data)
		return true
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		if err != nil {
			logging.Get(logging.CategoryTools).Warn("SSE read error: %v", err)
		}
		t.connected = false
		logging.Get(logging.CategoryTools).Warn("SSE connection lost")
	}
	t.failPendingLocked()
}

func (t *SSETransport) handleEvent(eventType, data string) {
	switch eventType {
	case "endpoint":
		t.mu.Lock()
		t.postURL = data
		initOnce, initSignal := t.initOnce, t.initSignal
		t.mu.Unlock()

		initOnce.Do(func() {
			close(initSignal)
		})
		logging.Get(logging.CategoryTools).Debug("Received SSE endpoint: %s", data)

	case "message":
		var resp mcpResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			logging.Get(logging.CategoryTools).Warn("Failed to unmarshal SSE message: %v. Data: %s", err, data)
			return
		}

		t.mu.RLock()
		ch, ok := t.pending[resp.ID]
		if ok {
			select {
			case ch <- &resp:
			default:
				logging.Get(logging.CategoryTools).Warn("Response channel full for ID %d", resp.ID)
			}
		}
		t.mu.RUnlock()

		if !ok {
			logging.Get(logging.CategoryTools).Debug("Received unsolicited message ID %d", resp.ID)
		}

	default:
		logging.Get(logging.CategoryTools).Debug("Ignored SSE event type: %s", eventType)
	}
}

// call makes a JSON-RPC call and waits for the reply on the stream.
func (t *SSETransport) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	t.mu.Lock()
	postURL := t.postURL
	if postURL == "" {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := t.nextID
	t.nextID++
	ch := make(chan *mcpResponse, 1)
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := mcpRequest{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := t.post(ctx, postURL, req); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(t.timeout):
		return nil, fmt.Errorf("timeout waiting for response")
	}
}

func (t *SSETransport) notify(ctx context.Context, n mcpNotification) error {
	t.mu.RLock()
	postURL := t.postURL
	t.mu.RUnlock()
	if postURL == "" {
		return ErrNotConnected
	}
	return t.post(ctx, postURL, n)
}

func (t *SSETransport) post(ctx context.Context, postURL string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.resolveURL(postURL), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	t.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("server returned status %d: %s", httpResp.StatusCode, string(bodyBytes))
	}
	// The reply itself arrives on the event stream.
	_, _ = io.Copy(io.Discard, httpResp.Body)
	return nil
}

func (t *SSETransport) setHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

func (t *SSETransport) resolveURL(u string) string {
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return u
	}
	ref, err := url.Parse(u)
	if err != nil {
		return u
	}
	return base.ResolveReference(ref).String()
}

// GetCapabilities returns server capabilities.
func (t *SSETransport) GetCapabilities(ctx context.Context) (*MCPCapabilities, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.serverInfo == nil {
		return nil, ErrNotConnected
	}
	caps := *t.serverInfo
	return &caps, nil
}

// ListTools retrieves available tools from the server.
func (t *SSETransport) ListTools(ctx context.Context) ([]MCPToolSchema, error) {
	resp, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return parseToolList(resp.Result)
}

// CallTool invokes a tool on the MCP server.
func (t *SSETransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPCallResult, error) {
	start := time.Now()
	resp, err := t.call(ctx, "tools/call", toolCallParams(name, args))
	return toolCallResult(resp, err, start)
}

// Ping checks if the server is responsive.
func (t *SSETransport) Ping(ctx context.Context) error {
	_, err := t.call(ctx, "ping", nil)
	return err
}

// IsConnected returns current connection status.
func (t *SSETransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Ensure SSETransport implements MCPTransport.
var _ MCPTransport = (*SSETransport)(nil)
