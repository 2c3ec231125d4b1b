package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"graphmem/internal/logging"
)

// StdioTransport implements MCPTransport over a subprocess speaking
// newline-delimited JSON-RPC on stdin/stdout.
type StdioTransport struct {
	mu sync.RWMutex

	command string
	args    []string
	timeout time.Duration
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser

	connected  bool
	serverInfo *MCPCapabilities

	pendingReqs map[int]chan *mcpResponse
	nextID      int

	wg sync.WaitGroup
}

// NewStdioTransport creates a new Stdio transport. endpoint is the command
// line of the server process.
func NewStdioTransport(endpoint string, timeout time.Duration) *StdioTransport {
	parts := strings.Fields(endpoint)
	var cmd string
	var args []string
	if len(parts) > 0 {
		cmd = parts[0]
		args = parts[1:]
	}

	return &StdioTransport{
		command:     cmd,
		args:        args,
		timeout:     timeout,
		pendingReqs: make(map[int]chan *mcpResponse),
		nextID:      1,
	}
}

// Connect starts the subprocess and the reader loops, then performs the
// initialize handshake.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	if t.command == "" {
		t.mu.Unlock()
		return fmt.Errorf("empty command for stdio transport")
	}

	t.cmd = exec.Command(t.command, t.args...)

	var err error
	if t.stdin, err = t.cmd.StdinPipe(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	if t.stdout, err = t.cmd.StdoutPipe(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if t.stderr, err = t.cmd.StderrPipe(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := t.cmd.Start(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to start command %s: %w", t.command, err)
	}

	t.connected = true

	t.wg.Add(2)
	go t.readStderr()
	go t.readStdout()
	t.mu.Unlock()

	// The lock must be released here: readStdout needs it to dispatch the
	// initialize reply.
	initCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.call(initCtx, "initialize", initializeParams())
	if err != nil {
		_ = t.Disconnect()
		return fmt.Errorf("failed to initialize %s: %w", t.command, err)
	}
	result, err := parseInitializeResult(resp.Result)
	if err != nil {
		_ = t.Disconnect()
		return err
	}
	if err := t.writeMessage(initializedNotification()); err != nil {
		_ = t.Disconnect()
		return err
	}

	t.mu.Lock()
	t.serverInfo = &result.Capabilities
	t.mu.Unlock()

	logging.Get(logging.CategoryTools).Info("MCP stdio transport started %s (%s %s)", t.command, result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}

// Disconnect kills the process and cleans up.
func (t *StdioTransport) Disconnect() error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = false
	t.serverInfo = nil

	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}

	for id, ch := range t.pendingReqs {
		close(ch)
		delete(t.pendingReqs, id)
	}
	cmd := t.cmd
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		if cmd != nil {
			_ = cmd.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		logging.Get(logging.CategoryTools).Warn("Timeout waiting for stdio transport goroutines to exit")
	}

	logging.Get(logging.CategoryTools).Info("MCP stdio transport stopped %s", t.command)
	return nil
}

// readStderr forwards the server's stderr to the debug log.
func (t *StdioTransport) readStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		logging.ToolsDebug("[%s stderr] %s", t.command, scanner.Text())
	}
}

// readStdout reads JSON-RPC messages from stdout.
func (t *StdioTransport) readStdout() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var head struct {
			ID     *int   `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			logging.Get(logging.CategoryTools).Warn("Failed to parse JSON from stdout: %v", err)
			continue
		}
		if head.ID == nil || head.Method != "" {
			logging.ToolsDebug("Ignoring server message: %s", truncate(string(line), 200))
			continue
		}

		var resp mcpResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			logging.Get(logging.CategoryTools).Warn("Failed to unmarshal response: %v", err)
			continue
		}

		t.mu.Lock()
		ch, exists := t.pendingReqs[resp.ID]
		if exists {
			delete(t.pendingReqs, resp.ID)
			ch <- &resp
		} else {
			logging.Get(logging.CategoryTools).Warn("Received response for unknown ID: %d", resp.ID)
		}
		t.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		t.mu.RLock()
		connected := t.connected
		t.mu.RUnlock()
		if connected {
			logging.Get(logging.CategoryTools).Error("Error reading stdout: %v", err)
		}
	}
}

// call sends a request and waits for a response.
func (t *StdioTransport) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}

	id := t.nextID
	t.nextID++

	ch := make(chan *mcpResponse, 1)
	t.pendingReqs[id] = ch

	if err := t.writeLocked(mcpRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		delete(t.pendingReqs, id)
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, fmt.Errorf("connection closed")
		}
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pendingReqs, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (t *StdioTransport) writeMessage(msg interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	return t.writeLocked(msg)
}

// writeLocked writes one line to the server's stdin (must hold lock).
func (t *StdioTransport) writeLocked(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to stdin: %w", err)
	}
	return nil
}

// ListTools retrieves available tools from the server.
func (t *StdioTransport) ListTools(ctx context.Context) ([]MCPToolSchema, error) {
	resp, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return parseToolList(resp.Result)
}

// CallTool invokes a tool on the MCP server.
func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPCallResult, error) {
	start := time.Now()
	resp, err := t.call(ctx, "tools/call", toolCallParams(name, args))
	return toolCallResult(resp, err, start)
}

// GetCapabilities returns server capabilities.
func (t *StdioTransport) GetCapabilities(ctx context.Context) (*MCPCapabilities, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.serverInfo == nil {
		return nil, ErrNotConnected
	}
	caps := *t.serverInfo
	return &caps, nil
}

// Ping checks if the server is responsive.
func (t *StdioTransport) Ping(ctx context.Context) error {
	_, err := t.call(ctx, "ping", nil)
	return err
}

// IsConnected returns current connection status.
func (t *StdioTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Ensure StdioTransport implements MCPTransport.
var _ MCPTransport = (*StdioTransport)(nil)
