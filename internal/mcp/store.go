package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"graphmem/internal/logging"
)

// MCPToolStore persists known MCP servers and their discovered tools.
// It shares the journal's database handle and never closes it.
type MCPToolStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewMCPToolStore creates the tool tables on db if needed.
func NewMCPToolStore(db *sql.DB) (*MCPToolStore, error) {
	store := &MCPToolStore{db: db}
	if err := store.initialize(); err != nil {
		return nil, err
	}
	return store, nil
}

// initialize creates the database schema.
func (s *MCPToolStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS mcp_servers (
			server_id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL,
			protocol TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			version TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'unknown',
			capabilities TEXT NOT NULL DEFAULT '[]',
			discovered_at INTEGER NOT NULL DEFAULT 0,
			last_connected INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create mcp_servers table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS mcp_tools (
			tool_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			input_schema TEXT NOT NULL DEFAULT '',
			output_schema TEXT NOT NULL DEFAULT '',
			usage_count INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			avg_latency_ms INTEGER NOT NULL DEFAULT 0,
			last_used INTEGER NOT NULL DEFAULT 0,
			registered_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create mcp_tools table: %w", err)
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_mcp_tools_server ON mcp_tools(server_id)`)
	return nil
}

// Close is a no-op; the database belongs to the journal.
func (s *MCPToolStore) Close() error {
	return nil
}

// SaveServer persists an MCP server to the database.
func (s *MCPToolStore) SaveServer(ctx context.Context, server *MCPServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	capsJSON, _ := json.Marshal(server.Capabilities)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (server_id, endpoint, protocol, name, version, status, capabilities, discovered_at, last_connected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			endpoint = excluded.endpoint,
			protocol = excluded.protocol,
			name = excluded.name,
			version = excluded.version,
			status = excluded.status,
			capabilities = excluded.capabilities,
			last_connected = excluded.last_connected
	`,
		server.ID, server.Endpoint, string(server.Protocol), server.Name, server.Version,
		string(server.Status), string(capsJSON), toMillis(server.DiscoveredAt), toMillis(server.LastConnected),
	)
	return err
}

// UpdateServerStatus updates the status of an MCP server.
func (s *MCPToolStore) UpdateServerStatus(ctx context.Context, serverID string, status ServerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE mcp_servers SET status = ? WHERE server_id = ?`
	args := []interface{}{string(status), serverID}
	if status == ServerStatusConnected {
		query = `UPDATE mcp_servers SET status = ?, last_connected = ? WHERE server_id = ?`
		args = []interface{}{string(status), time.Now().UnixMilli(), serverID}
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

const serverColumns = `server_id, endpoint, protocol, name, version, status, capabilities, discovered_at, last_connected`

// GetServer retrieves an MCP server by ID. It returns nil, nil when the
// server is unknown.
func (s *MCPToolStore) GetServer(ctx context.Context, serverID string) (*MCPServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM mcp_servers WHERE server_id = ?`, serverID)
	server, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return server, err
}

// GetAllServers retrieves all MCP servers.
func (s *MCPToolStore) GetAllServers(ctx context.Context) ([]*MCPServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM mcp_servers ORDER BY server_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []*MCPServer
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// SaveTool persists an MCP tool. Usage statistics of an existing row are
// kept.
func (s *MCPToolStore) SaveTool(ctx context.Context, tool *MCPTool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_tools (tool_id, server_id, name, description, input_schema, output_schema, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tool_id) DO UPDATE SET
			description = excluded.description,
			input_schema = excluded.input_schema,
			output_schema = excluded.output_schema
	`,
		tool.ToolID, tool.ServerID, tool.Name, tool.Description,
		string(tool.InputSchema), string(tool.OutputSchema), toMillis(tool.RegisteredAt),
	)
	return err
}

const toolColumns = `tool_id, server_id, name, description, input_schema, output_schema,
	usage_count, success_count, avg_latency_ms, last_used, registered_at`

// GetTool retrieves an MCP tool by ID. It returns nil, nil when the tool is
// unknown.
func (s *MCPToolStore) GetTool(ctx context.Context, toolID string) (*MCPTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+toolColumns+` FROM mcp_tools WHERE tool_id = ?`, toolID)
	tool, err := scanTool(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tool, err
}

// GetAllTools retrieves all MCP tools.
func (s *MCPToolStore) GetAllTools(ctx context.Context) ([]*MCPTool, error) {
	return s.queryTools(ctx, `SELECT `+toolColumns+` FROM mcp_tools ORDER BY tool_id`)
}

// GetToolsByServer retrieves all tools for a specific server.
func (s *MCPToolStore) GetToolsByServer(ctx context.Context, serverID string) ([]*MCPTool, error) {
	return s.queryTools(ctx, `SELECT `+toolColumns+` FROM mcp_tools WHERE server_id = ? ORDER BY name`, serverID)
}

func (s *MCPToolStore) queryTools(ctx context.Context, query string, args ...interface{}) ([]*MCPTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []*MCPTool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

// RecordToolUsage records a tool usage event.
func (s *MCPToolStore) RecordToolUsage(ctx context.Context, toolID string, success bool, latencyMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	successInc := 0
	if success {
		successInc = 1
	}

	// Update counts and running average latency
	_, err := s.db.ExecContext(ctx, `
		UPDATE mcp_tools SET
			usage_count = usage_count + 1,
			success_count = success_count + ?,
			avg_latency_ms = ((avg_latency_ms * usage_count) + ?) / (usage_count + 1),
			last_used = ?
		WHERE tool_id = ?
	`, successInc, latencyMs, time.Now().UnixMilli(), toolID)
	if err != nil {
		logging.ToolsDebug("Failed to record usage of %s: %v", toolID, err)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanServer(row rowScanner) (*MCPServer, error) {
	var server MCPServer
	var protocol, status, capsJSON string
	var discoveredAt, lastConnected int64
	if err := row.Scan(&server.ID, &server.Endpoint, &protocol, &server.Name, &server.Version,
		&status, &capsJSON, &discoveredAt, &lastConnected); err != nil {
		return nil, err
	}
	server.Protocol = Protocol(protocol)
	server.Status = ServerStatus(status)
	if capsJSON != "" {
		_ = json.Unmarshal([]byte(capsJSON), &server.Capabilities)
	}
	server.DiscoveredAt = fromMillis(discoveredAt)
	server.LastConnected = fromMillis(lastConnected)
	return &server, nil
}

func scanTool(row rowScanner) (*MCPTool, error) {
	var tool MCPTool
	var inputSchema, outputSchema string
	var lastUsed, registeredAt int64
	if err := row.Scan(&tool.ToolID, &tool.ServerID, &tool.Name, &tool.Description,
		&inputSchema, &outputSchema, &tool.UsageCount, &tool.SuccessCount,
		&tool.AvgLatencyMs, &lastUsed, &registeredAt); err != nil {
		return nil, err
	}
	if inputSchema != "" {
		tool.InputSchema = json.RawMessage(inputSchema)
	}
	if outputSchema != "" {
		tool.OutputSchema = json.RawMessage(outputSchema)
	}
	tool.LastUsed = fromMillis(lastUsed)
	tool.RegisteredAt = fromMillis(registeredAt)
	return &tool, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
