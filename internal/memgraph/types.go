// Package memgraph is a typed client for a temporal knowledge-graph memory
// server reached over MCP.
//
// The server does the extraction and search; this package turns tool calls
// into Go values, caches searches and journals what was sent.
package memgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"graphmem/internal/mcp"
)

// ErrServer wraps errors reported by the memory server itself.
var ErrServer = errors.New("memory server error")

// Caller invokes a tool on the memory server. mcp.ServerAdapter satisfies it.
type Caller interface {
	CallTool(ctx context.Context, tool string, args map[string]interface{}) (*mcp.MCPCallResult, error)
}

// ToolNames maps graphmem operations to upstream tool names.
type ToolNames struct {
	AddMemory        string
	SearchNodes      string
	SearchFacts      string
	GetEpisodes      string
	DeleteEpisode    string
	GetEntityEdge    string
	DeleteEntityEdge string
	ClearGraph       string
}

// DefaultToolNames returns the tool names of the reference server.
func DefaultToolNames() ToolNames {
	return ToolNames{
		AddMemory:        "add_memory",
		SearchNodes:      "search_memory_nodes",
		SearchFacts:      "search_memory_facts",
		GetEpisodes:      "get_episodes",
		DeleteEpisode:    "delete_episode",
		GetEntityEdge:    "get_entity_edge",
		DeleteEntityEdge: "delete_entity_edge",
		ClearGraph:       "clear_graph",
	}
}

// withDefaults fills empty names from DefaultToolNames.
func (t ToolNames) withDefaults() ToolNames {
	d := DefaultToolNames()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.AddMemory, d.AddMemory)
	fill(&t.SearchNodes, d.SearchNodes)
	fill(&t.SearchFacts, d.SearchFacts)
	fill(&t.GetEpisodes, d.GetEpisodes)
	fill(&t.DeleteEpisode, d.DeleteEpisode)
	fill(&t.GetEntityEdge, d.GetEntityEdge)
	fill(&t.DeleteEntityEdge, d.DeleteEntityEdge)
	fill(&t.ClearGraph, d.ClearGraph)
	return t
}

// Time is a timestamp that accepts the formats graph servers emit:
// RFC 3339 with or without a zone, and SQL-style "2006-01-02 15:04:05".
// null and "" decode to the zero time.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses s with the layouts Time accepts.
func ParseTime(s string) (Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Time{t}, nil
		}
	}
	return Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Node is an entity node returned by a node search.
type Node struct {
	UUID       string                 `json:"uuid"`
	Name       string                 `json:"name"`
	Summary    string                 `json:"summary,omitempty"`
	Labels     []string               `json:"labels,omitempty"`
	GroupID    string                 `json:"group_id,omitempty"`
	CreatedAt  Time                   `json:"created_at"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Fact is an entity edge: a relationship between two nodes with its
// validity window.
type Fact struct {
	UUID           string                 `json:"uuid"`
	Name           string                 `json:"name"`
	Fact           string                 `json:"fact"`
	SourceNodeUUID string                 `json:"source_node_uuid"`
	TargetNodeUUID string                 `json:"target_node_uuid"`
	GroupID        string                 `json:"group_id,omitempty"`
	CreatedAt      Time                   `json:"created_at"`
	ValidAt        Time                   `json:"valid_at"`
	InvalidAt      Time                   `json:"invalid_at"`
	ExpiredAt      Time                   `json:"expired_at"`
	Episodes       []string               `json:"episodes,omitempty"`
	Attributes     map[string]interface{} `json:"attributes,omitempty"`
}

func cloneNodes(nodes []Node) []Node {
	out := slices.Clone(nodes)
	for i := range out {
		out[i].Labels = slices.Clone(out[i].Labels)
		out[i].Attributes = maps.Clone(out[i].Attributes)
	}
	return out
}

func cloneFacts(facts []Fact) []Fact {
	out := slices.Clone(facts)
	for i := range out {
		out[i].Episodes = slices.Clone(out[i].Episodes)
		out[i].Attributes = maps.Clone(out[i].Attributes)
	}
	return out
}

// Current reports whether the fact holds at t.
func (f *Fact) Current(t time.Time) bool {
	if !f.ExpiredAt.IsZero() && !f.ExpiredAt.After(t) {
		return false
	}
	if !f.ValidAt.IsZero() && f.ValidAt.After(t) {
		return false
	}
	return f.InvalidAt.IsZero() || f.InvalidAt.After(t)
}

// Episode is a stored episode as returned by get_episodes.
type Episode struct {
	UUID              string   `json:"uuid"`
	Name              string   `json:"name"`
	GroupID           string   `json:"group_id,omitempty"`
	Source            string   `json:"source,omitempty"`
	SourceDescription string   `json:"source_description,omitempty"`
	Content           string   `json:"content,omitempty"`
	CreatedAt         Time     `json:"created_at"`
	ValidAt           Time     `json:"valid_at"`
	EntityEdges       []string `json:"entity_edges,omitempty"`
}

// NodeQuery parameterizes SearchNodes.
type NodeQuery struct {
	Query          string   `json:"query"`
	GroupIDs       []string `json:"group_ids,omitempty"`
	MaxNodes       int      `json:"max_nodes,omitempty"`
	CenterNodeUUID string   `json:"center_node_uuid,omitempty"`
	EntityType     string   `json:"entity,omitempty"`
}

func (q NodeQuery) arguments() map[string]interface{} {
	args := map[string]interface{}{
		"query":     q.Query,
		"max_nodes": q.MaxNodes,
	}
	if len(q.GroupIDs) > 0 {
		args["group_ids"] = q.GroupIDs
	}
	if q.CenterNodeUUID != "" {
		args["center_node_uuid"] = q.CenterNodeUUID
	}
	if q.EntityType != "" {
		args["entity"] = q.EntityType
	}
	return args
}

// FactQuery parameterizes SearchFacts.
type FactQuery struct {
	Query          string   `json:"query"`
	GroupIDs       []string `json:"group_ids,omitempty"`
	MaxFacts       int      `json:"max_facts,omitempty"`
	CenterNodeUUID string   `json:"center_node_uuid,omitempty"`
}

func (q FactQuery) arguments() map[string]interface{} {
	args := map[string]interface{}{
		"query":     q.Query,
		"max_facts": q.MaxFacts,
	}
	if len(q.GroupIDs) > 0 {
		args["group_ids"] = q.GroupIDs
	}
	if q.CenterNodeUUID != "" {
		args["center_node_uuid"] = q.CenterNodeUUID
	}
	return args
}

// Recollection is the combined result of Recall.
type Recollection struct {
	Query string `json:"query"`
	Nodes []Node `json:"nodes"`
	Facts []Fact `json:"facts"`
}
