package mcp

import (
	"context"
	"fmt"
)

// ServerAdapter binds a manager to one server so callers can address tools
// by bare name.
type ServerAdapter struct {
	manager  *MCPClientManager
	serverID string
}

// NewServerAdapter creates a new adapter for a specific MCP server.
func NewServerAdapter(manager *MCPClientManager, serverID string) *ServerAdapter {
	return &ServerAdapter{
		manager:  manager,
		serverID: serverID,
	}
}

// ServerID returns the bound server.
func (a *ServerAdapter) ServerID() string {
	return a.serverID
}

// CallTool calls tool on the bound server.
func (a *ServerAdapter) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*MCPCallResult, error) {
	if a.manager == nil {
		return nil, fmt.Errorf("MCP manager not configured")
	}
	return a.manager.CallTool(ctx, a.serverID+"/"+tool, args)
}

// HasTool reports whether the bound server advertised tool.
func (a *ServerAdapter) HasTool(tool string) bool {
	return a.manager != nil && a.manager.HasTool(a.serverID, tool)
}

// Tools returns the bound server's discovered tools.
func (a *ServerAdapter) Tools() []*MCPTool {
	conn, ok := a.manager.GetServer(a.serverID)
	if !ok {
		return nil
	}
	a.manager.mu.RLock()
	defer a.manager.mu.RUnlock()
	return append([]*MCPTool(nil), conn.Tools...)
}

// Ping checks the bound server.
func (a *ServerAdapter) Ping(ctx context.Context) error {
	return a.manager.Ping(ctx, a.serverID)
}

// BreakerState reports the bound server's breaker state.
func (a *ServerAdapter) BreakerState() string {
	return a.manager.BreakerState(a.serverID)
}
