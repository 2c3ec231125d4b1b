package mcp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitiesUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want MCPCapabilities
	}{
		{"objects", `{"tools":{"listChanged":true},"prompts":{}}`, MCPCapabilities{Tools: true, Prompts: true}},
		{"booleans", `{"tools":true,"resources":false}`, MCPCapabilities{Tools: true}},
		{"null", `{"logging":null}`, MCPCapabilities{}},
		{"empty", `{}`, MCPCapabilities{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got MCPCapabilities
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, []string{"tools", "prompts"}, MCPCapabilities{Tools: true, Prompts: true}.List())
}

func TestParseInitializeResult(t *testing.T) {
	res, err := parseInitializeResult(json.RawMessage(`{
		"protocolVersion": "2024-11-05",
		"capabilities": {"tools": {}},
		"serverInfo": {"name": "graph", "version": "0.4"},
		"instructions": "use group ids"
	}`))
	require.NoError(t, err)
	assert.True(t, res.Capabilities.Tools)
	assert.Equal(t, "graph", res.ServerInfo.Name)
	assert.Equal(t, "use group ids", res.Instructions)

	_, err = parseInitializeResult(json.RawMessage(`"nope"`))
	assert.Error(t, err)
}

func TestToolCallResult(t *testing.T) {
	start := time.Now()

	res, err := toolCallResult(&mcpResponse{Result: json.RawMessage(`{"content":[]}`)}, nil, start)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.JSONEq(t, `{"content":[]}`, string(res.Output))

	rpcErr := &mcpError{Code: -32602, Message: "bad params"}
	res, err = toolCallResult(&mcpResponse{Error: rpcErr}, rpcErr, start)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "bad params", res.Error)
	assert.Equal(t, -32602, res.ErrorCode)

	transportErr := errors.New("connection refused")
	res, err = toolCallResult(nil, transportErr, start)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, transportErr)
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		": comment",
		"",
		"event: endpoint",
		"data: /messages?session=1",
		"",
		"data: {\"a\":",
		"data:1}",
		"",
		"event: message",
		"data: last",
		"",
		"data: never reached",
		"",
	}, "\n")

	type ev struct{ typ, data string }
	var got []ev
	err := readEvents(strings.NewReader(stream), func(eventType, data string) bool {
		got = append(got, ev{eventType, data})
		return data != "last"
	})
	require.NoError(t, err)
	assert.Equal(t, []ev{
		{"endpoint", "/messages?session=1"},
		{"message", "{\"a\":\n1}"},
		{"message", "last"},
	}, got)
}

func TestAwaitStreamedResponseSkipsOtherIDs(t *testing.T) {
	body := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":7,\"result\":{}}\n\n" +
		"event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":8,\"result\":{\"ok\":true}}\n\n"

	resp, err := awaitStreamedResponse(strings.NewReader(body), 8)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))

	_, err = awaitStreamedResponse(strings.NewReader(body), 9)
	assert.ErrorContains(t, err, "without a reply")
}

func TestParseToolID(t *testing.T) {
	server, tool := parseToolID("graph/add_memory")
	assert.Equal(t, "graph", server)
	assert.Equal(t, "add_memory", tool)

	server, tool = parseToolID("a/b/c")
	assert.Equal(t, "a/b", server)
	assert.Equal(t, "c", tool)

	server, _ = parseToolID("bare")
	assert.Empty(t, server)

	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "ab", truncate("abcdefghij", 2))
}

func TestRenderer(t *testing.T) {
	tools := []*MCPTool{
		{ToolID: "graph/add_memory", ServerID: "graph", Name: "add_memory", Description: "Add an episode.\nMore detail.",
			InputSchema: json.RawMessage(`{"type":"object"}`), UsageCount: 3, SuccessCount: 2, AvgLatencyMs: 40},
		{ToolID: "graph/clear_graph", ServerID: "graph", Name: "clear_graph"},
	}

	r := NewToolRenderer()
	r.SetIncludeStats(true)
	md := r.Render(tools)
	assert.Contains(t, md, "## Available MCP Tools (2)")
	assert.Equal(t, 1, strings.Count(md, "### graph"))
	assert.Contains(t, md, "**Usage:** 3 calls, 2 ok, avg 40ms")
	assert.Contains(t, md, "\"type\": \"object\"")

	assert.Equal(t, "graph/add_memory: Add an episode.\ngraph/clear_graph\n", r.RenderCompact(tools))

	r.SetIncludeSchemas(false)
	out, err := r.RenderJSON(tools)
	require.NoError(t, err)
	var entries []ToolJSONEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].InputSchema)
	assert.Equal(t, int64(3), entries[0].UsageCount)
}
