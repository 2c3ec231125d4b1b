package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphmem/internal/store"
)

func newTestStore(t *testing.T) *MCPToolStore {
	t.Helper()
	db, err := store.OpenDB(store.DriverModernc, filepath.Join(t.TempDir(), "tools.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewMCPToolStore(db)
	require.NoError(t, err)
	return s
}

func TestMCPToolStoreServerAndToolLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	server := &MCPServer{
		ID:            "graph",
		Endpoint:      "http://localhost:8000/sse",
		Protocol:      ProtocolSSE,
		Name:          "Graph",
		Version:       "1.0.0",
		Status:        ServerStatusConnected,
		Capabilities:  []string{"tools"},
		DiscoveredAt:  time.Now(),
		LastConnected: time.Now(),
	}
	require.NoError(t, s.SaveServer(ctx, server))

	got, err := s.GetServer(ctx, "graph")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Graph", got.Name)
	assert.Equal(t, ProtocolSSE, got.Protocol)
	assert.Equal(t, []string{"tools"}, got.Capabilities)
	assert.Equal(t, server.DiscoveredAt.UnixMilli(), got.DiscoveredAt.UnixMilli())

	require.NoError(t, s.UpdateServerStatus(ctx, "graph", ServerStatusError))
	got, err = s.GetServer(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, ServerStatusError, got.Status)

	missing, err := s.GetServer(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	tool := &MCPTool{
		ToolID:       "graph/search_memory_nodes",
		ServerID:     "graph",
		Name:         "search_memory_nodes",
		Description:  "Search nodes",
		InputSchema:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
		RegisteredAt: time.Now(),
	}
	require.NoError(t, s.SaveTool(ctx, tool))
	require.NoError(t, s.RecordToolUsage(ctx, tool.ToolID, true, 100))
	require.NoError(t, s.RecordToolUsage(ctx, tool.ToolID, false, 300))

	gotTool, err := s.GetTool(ctx, tool.ToolID)
	require.NoError(t, err)
	require.NotNil(t, gotTool)
	assert.JSONEq(t, string(tool.InputSchema), string(gotTool.InputSchema))
	assert.Nil(t, gotTool.OutputSchema)
	assert.Equal(t, int64(2), gotTool.UsageCount)
	assert.Equal(t, int64(1), gotTool.SuccessCount)
	assert.Equal(t, 200, gotTool.AvgLatencyMs)
	assert.False(t, gotTool.LastUsed.IsZero())

	// Re-saving after rediscovery keeps usage stats.
	tool.Description = "Search entity nodes"
	require.NoError(t, s.SaveTool(ctx, tool))
	gotTool, err = s.GetTool(ctx, tool.ToolID)
	require.NoError(t, err)
	assert.Equal(t, "Search entity nodes", gotTool.Description)
	assert.Equal(t, int64(2), gotTool.UsageCount)

	require.NoError(t, s.SaveTool(ctx, &MCPTool{ToolID: "other/x", ServerID: "other", Name: "x"}))

	all, err := s.GetAllTools(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "graph/search_memory_nodes", all[0].ToolID)

	byServer, err := s.GetToolsByServer(ctx, "graph")
	require.NoError(t, err)
	require.Len(t, byServer, 1)

	servers, err := s.GetAllServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
}

func TestMCPToolStoreSharesDatabase(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	// Close leaves the shared handle usable.
	_, err := s.GetAllTools(context.Background())
	assert.NoError(t, err)

	// Schema creation is idempotent.
	_, err = NewMCPToolStore(s.db)
	assert.NoError(t, err)
}
