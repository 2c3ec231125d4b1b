package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphmem/internal/customtypes"
	"graphmem/internal/episode"
	"graphmem/internal/mcp"
	"graphmem/internal/memgraph"
)

type upstreamCall struct {
	tool string
	args map[string]interface{}
}

// fakeGraph stands in for the upstream memory server.
type fakeGraph struct {
	mu      sync.Mutex
	calls   []upstreamCall
	replies map[string]string
	pingErr error
}

func (f *fakeGraph) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*mcp.MCPCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, upstreamCall{tool, args})
	text, ok := f.replies[tool]
	if !ok {
		text = `{"message":"ok"}`
	}
	out, _ := json.Marshal(map[string]interface{}{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	return &mcp.MCPCallResult{Success: true, Output: out}, nil
}

func (f *fakeGraph) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeGraph) BreakerState() string { return "closed" }

func (f *fakeGraph) callsTo(tool string) []upstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []upstreamCall
	for _, c := range f.calls {
		if c.tool == tool {
			out = append(out, c)
		}
	}
	return out
}

const defaultTypes = `{
	"entity_types": {"Person": {"fields": {"role": "str"}, "docstring": "A human"}},
	"edge_types": {"Knows": {"fields": {}}},
	"edge_type_map": {"('Person', 'Person')": ["Knows"]}
}`

func newTestServer(t *testing.T, fg *fakeGraph, types *customtypes.TypeSet) *Server {
	t.Helper()
	graph, err := memgraph.New(fg, memgraph.Options{Defaults: episode.Defaults{GroupID: "team"}})
	require.NoError(t, err)
	t.Cleanup(graph.Close)

	s, err := New(Options{Graph: graph, Upstream: fg, GroupID: "team", Types: types, TypesName: "default"})
	require.NoError(t, err)
	return s
}

func mustTypes(t *testing.T, doc string) *customtypes.TypeSet {
	t.Helper()
	set, err := customtypes.ParseTypeSet([]byte(doc))
	require.NoError(t, err)
	return set
}

func callRequest(args map[string]interface{}) mcpgo.CallToolRequest {
	var req mcpgo.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestNewRequiresGraph(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestAddMemoryAppliesDefaultTypes(t *testing.T) {
	fg := &fakeGraph{replies: map[string]string{"add_memory": `{"message":"Episode 'standup' queued"}`}}
	s := newTestServer(t, fg, mustTypes(t, defaultTypes))

	res, err := s.handleAddMemory(context.Background(), callRequest(map[string]interface{}{
		"name":         "standup",
		"episode_body": "Alice met Bob.",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))
	assert.JSONEq(t, `{"message":"Episode 'standup' queued"}`, resultText(t, res))

	calls := fg.callsTo("add_memory")
	require.Len(t, calls, 1)
	assert.Equal(t, "team", calls[0].args["group_id"])
	assert.Contains(t, calls[0].args, "entity_types")
	assert.Contains(t, calls[0].args, "edge_type_map")
}

func TestAddMemoryExplicitTypesWin(t *testing.T) {
	fg := &fakeGraph{}
	s := newTestServer(t, fg, mustTypes(t, defaultTypes))

	res, err := s.handleAddMemory(context.Background(), callRequest(map[string]interface{}{
		"name":         "deploy",
		"episode_body": "Service v2 shipped.",
		"entity_types": `{"Service": {"fields": {"version": "str"}}}`,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	calls := fg.callsTo("add_memory")
	require.Len(t, calls, 1)
	entities, ok := calls[0].args["entity_types"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, entities, "Service")
	assert.NotContains(t, entities, "Person")
}

func TestAddMemoryRejectsLocally(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{
			name: "protected field",
			args: map[string]interface{}{
				"name": "x", "episode_body": "y",
				"entity_types": map[string]interface{}{"Person": map[string]interface{}{"fields": map[string]interface{}{"uuid": "str"}}},
			},
			want: "protected attribute",
		},
		{
			name: "bad json body",
			args: map[string]interface{}{"name": "x", "episode_body": "{", "source": "json"},
			want: "invalid episode body",
		},
		{
			name: "unknown source",
			args: map[string]interface{}{"name": "x", "episode_body": "y", "source": "audio"},
			want: "invalid episode source",
		},
		{
			name: "missing name",
			args: map[string]interface{}{"episode_body": "y"},
			want: "name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := &fakeGraph{}
			s := newTestServer(t, fg, nil)

			res, err := s.handleAddMemory(context.Background(), callRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.want)
			assert.Empty(t, fg.callsTo("add_memory"))
		})
	}
}

func TestSearchTools(t *testing.T) {
	fg := &fakeGraph{replies: map[string]string{
		"search_memory_nodes": `{"nodes":[{"uuid":"n1","name":"Alice","created_at":"2025-03-01T10:00:00Z"}]}`,
		"search_memory_facts": `{"facts":[]}`,
	}}
	s := newTestServer(t, fg, nil)
	ctx := context.Background()

	res, err := s.handleSearchNodes(ctx, callRequest(map[string]interface{}{
		"query":     "Alice",
		"group_ids": []interface{}{"team", "ops"},
		"max_nodes": float64(3),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var nodes struct {
		Message string `json:"message"`
		Nodes   []struct {
			UUID string `json:"uuid"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &nodes))
	assert.Equal(t, "Nodes retrieved successfully", nodes.Message)
	require.Len(t, nodes.Nodes, 1)

	args := fg.callsTo("search_memory_nodes")[0].args
	assert.Equal(t, []string{"team", "ops"}, args["group_ids"])
	assert.Equal(t, 3, args["max_nodes"])

	res, err = s.handleSearchFacts(ctx, callRequest(map[string]interface{}{"query": "Alice"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No relevant facts found")

	res, err = s.handleSearchFacts(ctx, callRequest(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestGetEpisodesTool(t *testing.T) {
	fg := &fakeGraph{replies: map[string]string{"get_episodes": `[{"uuid":"ep1","name":"standup"}]`}}
	s := newTestServer(t, fg, nil)

	res, err := s.handleGetEpisodes(context.Background(), callRequest(map[string]interface{}{"last_n": float64(1)}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"standup"`)

	args := fg.callsTo("get_episodes")[0].args
	assert.Equal(t, 1, args["last_n"])
	assert.Equal(t, "team", args["group_id"])
}

func TestValidateCustomTypesTool(t *testing.T) {
	s := newTestServer(t, &fakeGraph{}, nil)
	ctx := context.Background()

	res, err := s.handleValidateTypes(ctx, callRequest(map[string]interface{}{
		"entity_types":  map[string]interface{}{"Person": map[string]interface{}{"fields": map[string]interface{}{"age": "int"}}},
		"edge_type_map": map[string]interface{}{"('Person', 'Robot')": []interface{}{"Builds"}},
	}))
	require.NoError(t, err)

	var report validationReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, []string{"Person"}, report.EntityTypes)
	assert.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Schema, "entity_types")

	res, err = s.handleValidateTypes(ctx, callRequest(map[string]interface{}{
		"entity_types": map[string]interface{}{"Person": map[string]interface{}{"fields": map[string]interface{}{"summary": "str"}}},
	}))
	require.NoError(t, err)
	report = validationReport{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &report))
	assert.False(t, report.Valid)
	assert.Contains(t, report.Reason, "protected attribute")

	res, err = s.handleValidateTypes(ctx, callRequest(map[string]interface{}{}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"valid":false`)
}

func TestGuidanceToolTracksTypes(t *testing.T) {
	s := newTestServer(t, &fakeGraph{}, nil)
	ctx := context.Background()

	res, err := s.handleGuidance(ctx, callRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No custom types are loaded")

	s.SetTypes(mustTypes(t, defaultTypes))
	res, err = s.handleGuidance(ctx, callRequest(map[string]interface{}{"include_schemas": true}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "**Person**: A human")
	assert.Contains(t, text, "```json")
}

func TestInstructionsStayCurrentAfterTypesReload(t *testing.T) {
	s := newTestServer(t, &fakeGraph{}, nil)
	s.SetTypes(mustTypes(t, defaultTypes))

	resp := s.MCPServer().HandleMessage(context.Background(), json.RawMessage(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"cli","version":"1"}}}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"instructions"`)
	assert.Contains(t, string(data), "memory_guidance")
	assert.NotContains(t, string(data), "No custom types are loaded")

	res, err := s.handleGuidance(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "**Person**: A human")
}

func TestValidateCustomTypesChecksEdgesAndAttributes(t *testing.T) {
	s := newTestServer(t, &fakeGraph{}, mustTypes(t, defaultTypes))
	ctx := context.Background()

	res, err := s.handleValidateTypes(ctx, callRequest(map[string]interface{}{
		"source":     "Person",
		"target":     "Person",
		"check_type": "Person",
		"attributes": map[string]interface{}{"role": "engineer"},
	}))
	require.NoError(t, err)
	var report validationReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, []string{"Person"}, report.EntityTypes)
	assert.Equal(t, []string{"Knows"}, report.AllowedEdges)
	require.NotNil(t, report.Attributes)
	assert.True(t, report.Attributes.Valid)

	res, err = s.handleValidateTypes(ctx, callRequest(map[string]interface{}{
		"check_type": "Person",
		"attributes": map[string]interface{}{"role": 3, "team": "core"},
	}))
	require.NoError(t, err)
	report = validationReport{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &report))
	require.NotNil(t, report.Attributes)
	assert.False(t, report.Attributes.Valid)
	assert.Contains(t, report.Attributes.Reason, "invalid attributes")
	assert.Contains(t, report.Attributes.Reason, "field 'team' is not declared")

	res, err = s.handleValidateTypes(ctx, callRequest(map[string]interface{}{"check_type": "Robot"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "unknown type 'Robot'")
}

func TestHealthAndMetrics(t *testing.T) {
	fg := &fakeGraph{}
	s := newTestServer(t, fg, mustTypes(t, defaultTypes))
	ts := httptest.NewServer(s.Router(nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var report healthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, healthReport{Status: "ok", Upstream: "ok", Breaker: "closed", EntityTypes: 1, EdgeTypes: 1}, report)

	fg.pingErr = errors.New("connection refused")
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Request metrics are recorded after the response is written.
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		text := string(body)
		return strings.Contains(text, `graphmem_http_requests_total{method="GET",route="/healthz",status="200"} 1`) &&
			strings.Contains(text, `graphmem_http_requests_total{method="GET",route="/healthz",status="503"} 1`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSSEEndToEnd(t *testing.T) {
	fg := &fakeGraph{replies: map[string]string{
		"search_memory_nodes": `{"nodes":[{"uuid":"n1","name":"Alice"}]}`,
	}}
	s := newTestServer(t, fg, nil)
	ts := httptest.NewServer(s.Router(server.NewSSEServer(s.MCPServer())))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := mcp.NewSSETransport(ts.URL+"/sse", 2*time.Second, nil)
	require.NoError(t, tr.Connect(ctx))
	defer tr.Disconnect()

	tools, err := tr.ListTools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"add_memory", "search_memory_nodes", "search_memory_facts",
		"get_episodes", "validate_custom_types", "memory_guidance",
	}, names)

	res, err := tr.CallTool(ctx, "search_memory_nodes", map[string]interface{}{"query": "Alice"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, string(res.Output), "Alice")
}
