package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"graphmem/internal/customtypes"
	"graphmem/internal/episode"
	"graphmem/internal/guidance"
	"graphmem/internal/logging"
	"graphmem/internal/memgraph"
)

const typesHelp = "Object mapping type names to {\"fields\": {name: type}, \"docstring\": text}. May also be sent as a JSON string."

func (s *Server) registerTools() {
	s.mcp.AddTool(mcpgo.NewTool("add_memory",
		mcpgo.WithDescription("Add an episode to the memory graph. Entities and facts are extracted asynchronously. "+
			"Custom types are validated before the episode is forwarded; omit them to use the server's default set."),
		mcpgo.WithString("name", mcpgo.Required(), mcpgo.Description("Name of the episode")),
		mcpgo.WithString("episode_body", mcpgo.Required(), mcpgo.Description("Content of the episode. A JSON document when source is json")),
		mcpgo.WithString("source", mcpgo.Enum("text", "json", "message"), mcpgo.Description("How to interpret the body (default text)")),
		mcpgo.WithString("source_description", mcpgo.Description("Where the content came from")),
		mcpgo.WithString("group_id", mcpgo.Description("Graph namespace; defaults to the configured group")),
		mcpgo.WithString("uuid", mcpgo.Description("Optional episode UUID")),
		mcpgo.WithObject("entity_types", mcpgo.Description("Custom entity types. "+typesHelp)),
		mcpgo.WithObject("edge_types", mcpgo.Description("Custom edge types. "+typesHelp)),
		mcpgo.WithObject("edge_type_map", mcpgo.Description("Allowed edges: \"('Source', 'Target')\" -> [edge type names]")),
	), s.handleAddMemory)

	s.mcp.AddTool(mcpgo.NewTool("search_memory_nodes",
		mcpgo.WithDescription("Search the memory graph for entity nodes: people, projects, preferences, procedures."),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("Search query")),
		mcpgo.WithArray("group_ids", mcpgo.Items(map[string]interface{}{"type": "string"}), mcpgo.Description("Groups to search")),
		mcpgo.WithNumber("max_nodes", mcpgo.Description("Maximum nodes to return")),
		mcpgo.WithString("center_node_uuid", mcpgo.Description("Rank results by distance from this node")),
		mcpgo.WithString("entity", mcpgo.Description("Only return nodes of this entity type")),
	), s.handleSearchNodes)

	s.mcp.AddTool(mcpgo.NewTool("search_memory_facts",
		mcpgo.WithDescription("Search the memory graph for facts: relationships between entities with their validity window."),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("Search query")),
		mcpgo.WithArray("group_ids", mcpgo.Items(map[string]interface{}{"type": "string"}), mcpgo.Description("Groups to search")),
		mcpgo.WithNumber("max_facts", mcpgo.Description("Maximum facts to return")),
		mcpgo.WithString("center_node_uuid", mcpgo.Description("Rank results by distance from this node")),
	), s.handleSearchFacts)

	s.mcp.AddTool(mcpgo.NewTool("get_episodes",
		mcpgo.WithDescription("Get the most recent episodes of a group."),
		mcpgo.WithString("group_id", mcpgo.Description("Group to read; defaults to the configured group")),
		mcpgo.WithNumber("last_n", mcpgo.Description("Number of episodes (default 10)")),
	), s.handleGetEpisodes)

	s.mcp.AddTool(mcpgo.NewTool("validate_custom_types",
		mcpgo.WithDescription("Check custom entity and edge type definitions without adding anything to the graph."),
		mcpgo.WithObject("entity_types", mcpgo.Description("Custom entity types. "+typesHelp)),
		mcpgo.WithObject("edge_types", mcpgo.Description("Custom edge types. "+typesHelp)),
		mcpgo.WithObject("edge_type_map", mcpgo.Description("Allowed edges: \"('Source', 'Target')\" -> [edge type names]")),
		mcpgo.WithString("source", mcpgo.Description("With target, report the edge types allowed from this entity type")),
		mcpgo.WithString("target", mcpgo.Description("With source, report the edge types allowed to this entity type")),
		mcpgo.WithString("check_type", mcpgo.Description("Check attributes against this entity or edge type")),
		mcpgo.WithObject("attributes", mcpgo.Description("Attribute values to check against check_type")),
	), s.handleValidateTypes)

	s.mcp.AddTool(mcpgo.NewTool("memory_guidance",
		mcpgo.WithDescription("How to use the memory graph, including the custom types currently in effect."),
		mcpgo.WithBoolean("include_schemas", mcpgo.Description("Include a JSON schema for each custom type")),
	), s.handleGuidance)
}

func (s *Server) handleAddMemory(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	ep, err := episode.FromArguments(req.GetArguments())
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	var opts []memgraph.AddOption
	if ep.Types == nil {
		if def := s.Types(); !def.IsEmpty() {
			ep.Types = def
			opts = append(opts, memgraph.WithTypeSetName(s.typesName))
		}
	}

	msg, err := s.graph.AddMemory(ctx, ep, opts...)
	if err != nil {
		logging.Get(logging.CategoryProxy).Warn("add_memory %q rejected: %v", ep.Name, err)
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"message": msg})
}

func (s *Server) handleSearchNodes(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := req.GetArguments()
	q := memgraph.NodeQuery{
		Query:          stringArg(args, "query"),
		GroupIDs:       stringsArg(args, "group_ids"),
		MaxNodes:       intArg(args, "max_nodes"),
		CenterNodeUUID: stringArg(args, "center_node_uuid"),
		EntityType:     stringArg(args, "entity"),
	}
	nodes, err := s.graph.SearchNodes(ctx, q)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	msg := "Nodes retrieved successfully"
	if len(nodes) == 0 {
		msg = "No relevant nodes found"
	}
	return jsonResult(map[string]interface{}{"message": msg, "nodes": nodes})
}

func (s *Server) handleSearchFacts(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := req.GetArguments()
	q := memgraph.FactQuery{
		Query:          stringArg(args, "query"),
		GroupIDs:       stringsArg(args, "group_ids"),
		MaxFacts:       intArg(args, "max_facts"),
		CenterNodeUUID: stringArg(args, "center_node_uuid"),
	}
	facts, err := s.graph.SearchFacts(ctx, q)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	msg := "Facts retrieved successfully"
	if len(facts) == 0 {
		msg = "No relevant facts found"
	}
	return jsonResult(map[string]interface{}{"message": msg, "facts": facts})
}

func (s *Server) handleGetEpisodes(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := req.GetArguments()
	episodes, err := s.graph.GetEpisodes(ctx, stringArg(args, "group_id"), intArg(args, "last_n"))
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"message": fmt.Sprintf("%d episodes", len(episodes)), "episodes": episodes})
}

// validationReport is the validate_custom_types reply.
type validationReport struct {
	Valid        bool                   `json:"valid"`
	Reason       string                 `json:"reason,omitempty"`
	EntityTypes  []string               `json:"entity_types,omitempty"`
	EdgeTypes    []string               `json:"edge_types,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	Schema       map[string]interface{} `json:"schema,omitempty"`
	AllowedEdges []string               `json:"allowed_edges,omitempty"`
	Attributes   *attributeReport       `json:"attributes,omitempty"`
}

type attributeReport struct {
	Type   string `json:"type"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// handleValidateTypes checks the given definitions, or the default set
// when the call carries none.
func (s *Server) handleValidateTypes(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := req.GetArguments()
	set, err := typesFromArguments(args)
	if err == nil && set.IsEmpty() {
		set = s.Types()
		if set.IsEmpty() {
			err = fmt.Errorf("%w: no entity_types, edge_types or edge_type_map given", customtypes.ErrInvalidDefinition)
		}
	}
	if err != nil {
		return jsonResult(validationReport{Valid: false, Reason: err.Error()})
	}

	report := validationReport{
		Valid:       true,
		EntityTypes: set.EntityNames(),
		EdgeTypes:   set.EdgeNames(),
		Warnings:    set.Lint(),
		Schema:      set.JSONSchema(),
	}
	if source, target := stringArg(args, "source"), stringArg(args, "target"); source != "" && target != "" {
		report.AllowedEdges = set.EdgeMap.Allowed(source, target)
	}
	if name := stringArg(args, "check_type"); name != "" {
		report.Attributes = checkAttributes(set, name, args["attributes"])
	}
	return jsonResult(report)
}

func checkAttributes(set *customtypes.TypeSet, name string, raw interface{}) *attributeReport {
	out := &attributeReport{Type: name}
	def, ok := set.Entities[name]
	if !ok {
		def, ok = set.Edges[name]
	}
	if !ok {
		out.Reason = fmt.Sprintf("unknown type '%s'", name)
		return out
	}
	attrs, _ := raw.(map[string]interface{})
	if err := def.ValidateAttributes(attrs); err != nil {
		out.Reason = err.Error()
		return out
	}
	out.Valid = true
	return out
}

func (s *Server) handleGuidance(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	includeSchemas, _ := req.GetArguments()["include_schemas"].(bool)
	guide, err := guidance.Render(guidance.Options{
		GroupID:        s.groupID,
		Types:          s.Types(),
		IncludeSchemas: includeSchemas,
	})
	if err != nil {
		return nil, err
	}
	return mcpgo.NewToolResultText(guide), nil
}

// typesFromArguments decodes and validates the type keys of a tool call.
func typesFromArguments(args map[string]interface{}) (*customtypes.TypeSet, error) {
	typed := make(map[string]interface{}, 3)
	for _, key := range []string{"entity_types", "edge_types", "edge_type_map"} {
		if v, ok := args[key]; ok {
			typed[key] = v
		}
	}
	ep, err := episode.FromArguments(typed)
	if err != nil {
		return nil, err
	}
	if err := ep.Types.Validate(); err != nil {
		return nil, err
	}
	return ep.Types, nil
}

func jsonResult(v interface{}) (*mcpgo.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcpgo.NewToolResultText(string(data)), nil
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 && v < math.MaxInt32 {
			return int(v)
		}
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func stringsArg(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
