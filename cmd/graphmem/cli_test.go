package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphmem/internal/episode"
)

const teamTypes = `entity_types:
  Person:
    docstring: A human being.
    fields:
      role: str
  Company:
    fields:
      industry: str
edge_types:
  WorksFor:
    fields:
      title: str
edge_type_map:
  "('Person', 'Company')": [WorksFor]
`

// graphServer is an in-process memory server speaking MCP over SSE.
type graphServer struct {
	mu   sync.Mutex
	adds []map[string]interface{}
	url  string
}

func newGraphServer(t *testing.T) *graphServer {
	t.Helper()
	gs := &graphServer{}

	s := server.NewMCPServer("fake-graph", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcpgo.NewTool("add_memory",
		mcpgo.WithDescription("Add an episode to memory"),
		mcpgo.WithString("name", mcpgo.Required()),
		mcpgo.WithString("episode_body", mcpgo.Required()),
	), func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		gs.mu.Lock()
		gs.adds = append(gs.adds, req.GetArguments())
		gs.mu.Unlock()
		return mcpgo.NewToolResultText(`{"message": "Episode 'standup' queued for processing"}`), nil
	})
	s.AddTool(mcpgo.NewTool("search_memory_nodes",
		mcpgo.WithDescription("Search entity nodes"),
		mcpgo.WithString("query", mcpgo.Required()),
	), func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return mcpgo.NewToolResultText(`{"message": "Nodes retrieved successfully", "nodes": [
			{"uuid": "n1", "name": "Alice", "summary": "Staff engineer", "labels": ["Entity", "Person"], "created_at": "2024-05-01T10:00:00Z"}
		]}`), nil
	})
	s.AddTool(mcpgo.NewTool("get_episodes",
		mcpgo.WithDescription("List recent episodes"),
	), func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return mcpgo.NewToolResultText(`{"episodes": [
			{"uuid": "e1", "name": "standup", "source": "text", "created_at": "2024-05-01T10:00:00Z"}
		]}`), nil
	})

	ts := server.NewTestServer(s)
	t.Cleanup(ts.Close)
	gs.url = ts.URL + "/sse"
	return gs
}

func (gs *graphServer) added() []map[string]interface{} {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return append([]map[string]interface{}(nil), gs.adds...)
}

// writeConfig writes a config pointing at serverURL with its journal in
// a temp dir, and returns the config path.
func writeConfig(t *testing.T, serverURL string) string {
	t.Helper()
	dir := t.TempDir()
	doc := fmt.Sprintf(`server:
  id: graph
  protocol: sse
  base_url: %s
  timeout: 5s
defaults:
  group_id: team_a
database:
  path: %s
logging:
  level: error
`, serverURL, filepath.Join(dir, "journal.db"))
	path := filepath.Join(dir, "graphmem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// runCLI executes the root command with args and returns its output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default so runs do not leak into
// each other through the package-level flag variables.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestTypesCommands(t *testing.T) {
	cfgPath := writeConfig(t, "http://localhost:8000/sse")
	typesPath := writeFile(t, "types.yaml", teamTypes)

	out, err := runCLI(t, "-c", cfgPath, "types", "validate", typesPath)
	require.NoError(t, err)
	assert.Contains(t, out, "valid (2 entity types, 1 edge types, 1 edge map entries)")
	assert.NotContains(t, out, "warning:")

	out, err = runCLI(t, "-c", cfgPath, "types", "schema", typesPath)
	require.NoError(t, err)
	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Contains(t, out, "Person")
	assert.Contains(t, out, "WorksFor")

	out, err = runCLI(t, "-c", cfgPath, "types", "register", "team", typesPath, "--description", "Team types")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered type set team (2 entity types, 1 edge types)")

	out, err = runCLI(t, "-c", cfgPath, "types", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "team")
	assert.Contains(t, out, "Team types")

	out, err = runCLI(t, "-c", cfgPath, "--json", "types", "list")
	require.NoError(t, err)
	var sets []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &sets))
	require.Len(t, sets, 1)
	assert.Equal(t, "team", sets[0]["name"])

	_, err = runCLI(t, "-c", cfgPath, "types", "delete", "team")
	require.NoError(t, err)
	out, err = runCLI(t, "-c", cfgPath, "types", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No type sets registered.")
}

func TestTypesValidateRejectsProtectedField(t *testing.T) {
	cfgPath := writeConfig(t, "http://localhost:8000/sse")
	typesPath := writeFile(t, "types.yaml", "entity_types:\n  Person:\n    fields:\n      uuid: str\n")

	_, err := runCLI(t, "-c", cfgPath, "types", "validate", typesPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected attribute")
}

func TestGuideCommand(t *testing.T) {
	cfgPath := writeConfig(t, "http://localhost:8000/sse")

	out, err := runCLI(t, "-c", cfgPath, "guide")
	require.NoError(t, err)
	assert.Contains(t, out, "# Memory graph usage")
	assert.Contains(t, out, "No custom types are loaded")

	typesPath := writeFile(t, "types.yaml", teamTypes)
	out, err = runCLI(t, "-c", cfgPath, "guide", "--types", typesPath, "--schemas")
	require.NoError(t, err)
	assert.Contains(t, out, "### Entity types")
	assert.Contains(t, out, "**Person**: A human being.")
	assert.Contains(t, out, "- ('Person', 'Company'): WorksFor")
	assert.Contains(t, out, "```json")
}

func TestAddSearchAndJournal(t *testing.T) {
	gs := newGraphServer(t)
	cfgPath := writeConfig(t, gs.url)
	typesPath := writeFile(t, "types.yaml", teamTypes)

	out, err := runCLI(t, "-c", cfgPath, "add", "--name", "standup",
		"--body", "Alice joined Acme as staff engineer.", "--types", typesPath)
	require.NoError(t, err)
	assert.Contains(t, out, "queued for processing")

	adds := gs.added()
	require.Len(t, adds, 1)
	assert.Equal(t, "standup", adds[0]["name"])
	assert.Equal(t, "team_a", adds[0]["group_id"])
	assert.Equal(t, "text", adds[0]["source"])
	entityTypes, ok := adds[0]["entity_types"].(map[string]interface{})
	require.True(t, ok, "entity_types missing from %v", adds[0])
	assert.Contains(t, entityTypes, "Person")
	assert.Contains(t, entityTypes, "Company")

	out, err = runCLI(t, "-c", cfgPath, "episodes", "log")
	require.NoError(t, err)
	assert.Contains(t, out, "standup")
	assert.Contains(t, out, "1 sent, 0 pending, 0 failed")

	out, err = runCLI(t, "-c", cfgPath, "search", "nodes", "Alice")
	require.NoError(t, err)
	assert.Contains(t, out, "- Alice [Entity,Person] n1")
	assert.Contains(t, out, "Staff engineer")

	out, err = runCLI(t, "-c", cfgPath, "--json", "search", "nodes", "Alice")
	require.NoError(t, err)
	var nodes []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "Alice", nodes[0]["name"])

	out, err = runCLI(t, "-c", cfgPath, "episodes", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "e1")
	assert.Contains(t, out, "standup")

	out, err = runCLI(t, "-c", cfgPath, "tools", "--compact")
	require.NoError(t, err)
	assert.Contains(t, out, "add_memory")
	assert.Contains(t, out, "search_memory_nodes")
	assert.Contains(t, out, "breaker: closed")
}

func TestAddRejectsInvalidBodyBeforeSending(t *testing.T) {
	gs := newGraphServer(t)
	cfgPath := writeConfig(t, gs.url)

	_, err := runCLI(t, "-c", cfgPath, "add", "--name", "order", "--source", "json", "--body", "not json")
	require.Error(t, err)
	assert.ErrorIs(t, err, episode.ErrInvalidBody)
	assert.Empty(t, gs.added())

	out, err := runCLI(t, "-c", cfgPath, "episodes", "log")
	require.NoError(t, err)
	assert.Contains(t, out, "Journal is empty.")
}

func TestAddRequiresBody(t *testing.T) {
	cfgPath := writeConfig(t, "http://localhost:8000/sse")

	_, err := runCLI(t, "-c", cfgPath, "add", "--name", "standup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--body")
}

func TestClearRequiresConfirmation(t *testing.T) {
	cfgPath := writeConfig(t, "http://localhost:8000/sse")

	_, err := runCLI(t, "-c", cfgPath, "clear")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path := writeFile(t, "graphmem.yaml", "defaults:\n  group_id: \"bad group!\"\n")

	_, err := runCLI(t, "-c", path, "guide")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestAddHTMLBody(t *testing.T) {
	gs := newGraphServer(t)
	cfgPath := writeConfig(t, gs.url)
	page := writeFile(t, "runbook.html", `<html><body><nav>menu</nav><h2>Runbook</h2><p>Restart the billing worker first</p></body></html>`)

	_, err := runCLI(t, "-c", cfgPath, "add", "--name", "runbook", "--html", "--body-file", page)
	require.NoError(t, err)

	adds := gs.added()
	require.Len(t, adds, 1)
	assert.Equal(t, "Runbook\n\nRestart the billing worker first", adds[0]["episode_body"])
	assert.Equal(t, "text", adds[0]["source"])

	_, err = runCLI(t, "-c", cfgPath, "add", "--name", "runbook", "--html", "--source", "json", "--body", "<p>x</p>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--html")
	assert.Len(t, gs.added(), 1)
}
