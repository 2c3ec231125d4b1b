package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"graphmem/internal/logging"
)

// MCPClientManager manages connections to MCP servers. Every server gets
// its own circuit breaker around tool calls.
type MCPClientManager struct {
	mu sync.RWMutex

	servers  map[string]*MCPServerConnection
	store    *MCPToolStore
	config   map[string]MCPServerConfig
	breaker  BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker

	// Callbacks
	onToolDiscovered func(tool *MCPTool)
	onServerStatus   func(serverID string, status ServerStatus)

	// background usage recording
	bg sync.WaitGroup
}

// MCPServerConnection holds the connection state for a single MCP server.
type MCPServerConnection struct {
	Server    *MCPServer
	Transport MCPTransport
	Tools     []*MCPTool
}

// NewMCPClientManager creates a new MCP client manager. store may be nil.
func NewMCPClientManager(store *MCPToolStore, config map[string]MCPServerConfig) *MCPClientManager {
	return &MCPClientManager{
		servers:  make(map[string]*MCPServerConnection),
		store:    store,
		config:   config,
		breaker:  DefaultBreakerConfig(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// SetBreakerConfig replaces the breaker settings. Breakers already created
// keep their old settings.
func (m *MCPClientManager) SetBreakerConfig(cfg BreakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaker = cfg
}

// SetOnToolDiscovered sets the callback for when a new tool is discovered.
func (m *MCPClientManager) SetOnToolDiscovered(fn func(tool *MCPTool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onToolDiscovered = fn
}

// SetOnServerStatus sets the callback for server status changes.
func (m *MCPClientManager) SetOnServerStatus(fn func(serverID string, status ServerStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onServerStatus = fn
}

// ConnectAll connects to all configured servers with auto_connect=true.
func (m *MCPClientManager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	configs := make([]MCPServerConfig, 0)
	for _, cfg := range m.config {
		if cfg.AutoConnect && cfg.Enabled {
			configs = append(configs, cfg)
		}
	}
	m.mu.RUnlock()

	var lastErr error
	for _, cfg := range configs {
		if err := m.Connect(ctx, cfg.ID); err != nil {
			logging.Get(logging.CategoryTools).Warn("Failed to connect to MCP server %s: %v", cfg.ID, err)
			lastErr = err
		}
	}
	return lastErr
}

// newTransport builds the transport for a server config.
func newTransport(cfg MCPServerConfig) (MCPTransport, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch Protocol(cfg.Protocol) {
	case ProtocolHTTP:
		return NewHTTPTransport(cfg.BaseURL, timeout, cfg.Headers), nil
	case ProtocolSSE:
		return NewSSETransport(cfg.BaseURL, timeout, cfg.Headers), nil
	case ProtocolStdio:
		return NewStdioTransport(cfg.Endpoint, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}
}

// Connect establishes connection to a specific MCP server and, when the
// config asks for it, discovers its tools before returning.
func (m *MCPClientManager) Connect(ctx context.Context, serverID string) error {
	m.mu.Lock()
	cfg, ok := m.config[serverID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown MCP server: %s", serverID)
	}

	// Check if already connected
	if conn, exists := m.servers[serverID]; exists && conn.Transport.IsConnected() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}

	m.updateServerStatus(ctx, serverID, ServerStatusConnecting)
	if err := transport.Connect(ctx); err != nil {
		m.updateServerStatus(ctx, serverID, ServerStatusError)
		return err
	}

	caps, err := transport.GetCapabilities(ctx)
	if err != nil {
		logging.Get(logging.CategoryTools).Warn("Failed to get capabilities from %s: %v", serverID, err)
	}

	endpoint := cfg.BaseURL
	if Protocol(cfg.Protocol) == ProtocolStdio {
		endpoint = cfg.Endpoint
	}
	now := time.Now()
	server := &MCPServer{
		ID:            serverID,
		Name:          serverID,
		Endpoint:      endpoint,
		Protocol:      Protocol(cfg.Protocol),
		Status:        ServerStatusConnected,
		DiscoveredAt:  now,
		LastConnected: now,
	}
	if caps != nil {
		server.Capabilities = caps.List()
	}

	conn := &MCPServerConnection{
		Server:    server,
		Transport: transport,
	}

	m.mu.Lock()
	m.servers[serverID] = conn
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveServer(ctx, server); err != nil {
			logging.Get(logging.CategoryTools).Warn("Failed to persist server %s: %v", serverID, err)
		}
	}
	m.updateServerStatus(ctx, serverID, ServerStatusConnected)

	if cfg.AutoDiscoverTools {
		if err := m.DiscoverTools(ctx, serverID); err != nil {
			logging.Get(logging.CategoryTools).Warn("Failed to discover tools from %s: %v", serverID, err)
		}
	}

	logging.Get(logging.CategoryTools).Info("Connected to MCP server %s at %s", serverID, endpoint)
	return nil
}

// Disconnect closes connection to a specific MCP server.
func (m *MCPClientManager) Disconnect(serverID string) error {
	m.mu.Lock()
	conn, ok := m.servers[serverID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("server not connected: %s", serverID)
	}
	delete(m.servers, serverID)
	m.mu.Unlock()

	if err := conn.Transport.Disconnect(); err != nil {
		return err
	}

	m.updateServerStatus(context.Background(), serverID, ServerStatusDisconnected)
	logging.Get(logging.CategoryTools).Info("Disconnected from MCP server %s", serverID)
	return nil
}

// DisconnectAll closes all server connections.
func (m *MCPClientManager) DisconnectAll() {
	m.mu.Lock()
	servers := make([]string, 0, len(m.servers))
	for id := range m.servers {
		servers = append(servers, id)
	}
	m.mu.Unlock()

	for _, id := range servers {
		if err := m.Disconnect(id); err != nil {
			logging.Get(logging.CategoryTools).Warn("Error disconnecting from %s: %v", id, err)
		}
	}
}

// Close disconnects everything and waits for pending usage writes.
func (m *MCPClientManager) Close() {
	m.DisconnectAll()
	m.bg.Wait()
}

// DiscoverTools lists and persists the tools of an MCP server.
func (m *MCPClientManager) DiscoverTools(ctx context.Context, serverID string) error {
	m.mu.RLock()
	conn, ok := m.servers[serverID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("server not connected: %s", serverID)
	}

	schemas, err := conn.Transport.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	logging.Get(logging.CategoryTools).Info("Discovered %d tools from %s", len(schemas), serverID)

	tools := make([]*MCPTool, 0, len(schemas))
	for _, schema := range schemas {
		tool := m.processToolSchema(ctx, serverID, schema)
		tools = append(tools, tool)

		m.mu.RLock()
		cb := m.onToolDiscovered
		m.mu.RUnlock()
		if cb != nil {
			cb(tool)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	m.mu.Lock()
	if conn, ok := m.servers[serverID]; ok {
		conn.Tools = tools
	}
	m.mu.Unlock()

	return nil
}

// processToolSchema turns a schema into a tool and persists it.
func (m *MCPClientManager) processToolSchema(ctx context.Context, serverID string, schema MCPToolSchema) *MCPTool {
	toolID := fmt.Sprintf("%s/%s", serverID, schema.Name)

	tool := &MCPTool{
		ToolID:       toolID,
		ServerID:     serverID,
		Name:         schema.Name,
		Description:  schema.Description,
		InputSchema:  schema.InputSchema,
		OutputSchema: schema.OutputSchema,
		RegisteredAt: time.Now(),
		ServerStatus: ServerStatusConnected,
	}

	if m.store != nil {
		if existing, err := m.store.GetTool(ctx, toolID); err == nil && existing != nil {
			tool.RegisteredAt = existing.RegisteredAt
			tool.UsageCount = existing.UsageCount
			tool.SuccessCount = existing.SuccessCount
			tool.AvgLatencyMs = existing.AvgLatencyMs
			tool.LastUsed = existing.LastUsed
		}
		if err := m.store.SaveTool(ctx, tool); err != nil {
			logging.Get(logging.CategoryTools).Warn("Failed to persist tool %s: %v", toolID, err)
		}
	}

	return tool
}

// CallTool invokes a tool on an MCP server. toolID is "server/tool".
//
// A reply carrying a JSON-RPC error comes back as a result with Success
// false. Transport failures are returned as errors and count against the
// server's circuit breaker; while it is open calls fail fast with
// ErrCircuitOpen.
func (m *MCPClientManager) CallTool(ctx context.Context, toolID string, args map[string]interface{}) (*MCPCallResult, error) {
	serverID, toolName := parseToolID(toolID)
	if serverID == "" || toolName == "" {
		return nil, fmt.Errorf("invalid tool ID: %s", toolID)
	}

	m.mu.RLock()
	conn, ok := m.servers[serverID]
	m.mu.RUnlock()

	if !ok || !conn.Transport.IsConnected() {
		return nil, fmt.Errorf("MCP server %s: %w", serverID, ErrNotConnected)
	}

	out, err := m.breakerFor(serverID).Execute(func() (interface{}, error) {
		return conn.Transport.CallTool(ctx, toolName, args)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("MCP server %s: %w", serverID, ErrCircuitOpen)
	}
	if err != nil {
		return nil, err
	}
	result := out.(*MCPCallResult)

	if m.store != nil {
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			_ = m.store.RecordToolUsage(context.Background(), toolID, result.Success, result.LatencyMs)
		}()
	}

	return result, nil
}

// breakerFor returns the server's breaker, creating it on first use.
func (m *MCPClientManager) breakerFor(serverID string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[serverID]; ok {
		return cb
	}

	cfg := m.breaker
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultBreakerConfig().FailureThreshold
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        serverID,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Get(logging.CategoryTools).Warn("Circuit breaker for %s: %s -> %s", name, from, to)
		},
	})
	m.breakers[serverID] = cb
	return cb
}

// BreakerState reports the breaker state of a server ("closed" if it has
// never been called).
func (m *MCPClientManager) BreakerState(serverID string) string {
	m.mu.RLock()
	cb, ok := m.breakers[serverID]
	m.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// Ping checks that a connected server still answers.
func (m *MCPClientManager) Ping(ctx context.Context, serverID string) error {
	m.mu.RLock()
	conn, ok := m.servers[serverID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("MCP server %s: %w", serverID, ErrNotConnected)
	}
	if err := conn.Transport.Ping(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	conn.Server.LastPing = time.Now()
	m.mu.Unlock()
	return nil
}

// GetServer returns the connection for a specific server.
func (m *MCPClientManager) GetServer(serverID string) (*MCPServerConnection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.servers[serverID]
	return conn, ok
}

// GetConnectedServers returns a sorted list of connected server IDs.
func (m *MCPClientManager) GetConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]string, 0, len(m.servers))
	for id, conn := range m.servers {
		if conn.Transport.IsConnected() {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}

// GetAllTools returns all tools from all connected servers.
func (m *MCPClientManager) GetAllTools() []*MCPTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []*MCPTool
	for _, conn := range m.servers {
		tools = append(tools, conn.Tools...)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ToolID < tools[j].ToolID })
	return tools
}

// HasTool reports whether a connected server advertised the tool.
func (m *MCPClientManager) HasTool(serverID, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.servers[serverID]
	if !ok {
		return false
	}
	for _, t := range conn.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// updateServerStatus updates server status and notifies callback.
func (m *MCPClientManager) updateServerStatus(ctx context.Context, serverID string, status ServerStatus) {
	m.mu.Lock()
	if conn, ok := m.servers[serverID]; ok {
		conn.Server.Status = status
	}
	cb := m.onServerStatus
	m.mu.Unlock()

	if cb != nil {
		cb(serverID, status)
	}

	if m.store != nil {
		if err := m.store.UpdateServerStatus(ctx, serverID, status); err != nil {
			logging.ToolsDebug("Failed to update server status: %v", err)
		}
	}
}

// parseToolID parses a tool ID into server ID and tool name.
func parseToolID(toolID string) (serverID, toolName string) {
	for i := len(toolID) - 1; i >= 0; i-- {
		if toolID[i] == '/' {
			return toolID[:i], toolID[i+1:]
		}
	}
	return "", toolID
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
