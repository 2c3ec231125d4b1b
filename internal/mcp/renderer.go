package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolRenderer renders discovered tools for people and agents.
type ToolRenderer struct {
	includeSchemas bool
	includeStats   bool
	maxSchemaLen   int
}

// NewToolRenderer creates a new tool renderer.
func NewToolRenderer() *ToolRenderer {
	return &ToolRenderer{
		includeSchemas: true,
		maxSchemaLen:   500,
	}
}

// SetIncludeSchemas sets whether to include JSON schemas in full tool output.
func (r *ToolRenderer) SetIncludeSchemas(include bool) {
	r.includeSchemas = include
}

// SetIncludeStats sets whether usage statistics are shown.
func (r *ToolRenderer) SetIncludeStats(include bool) {
	r.includeStats = include
}

// SetMaxSchemaLen sets the maximum length for JSON schemas.
func (r *ToolRenderer) SetMaxSchemaLen(maxLen int) {
	r.maxSchemaLen = maxLen
}

// Render renders tools as markdown, grouped by server in input order.
func (r *ToolRenderer) Render(tools []*MCPTool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Available MCP Tools (%d)\n\n", len(tools)))

	currentServer := ""
	for _, t := range tools {
		if t.ServerID != currentServer {
			currentServer = t.ServerID
			sb.WriteString(fmt.Sprintf("### %s\n\n", currentServer))
		}
		r.renderFullTool(&sb, t)
	}

	return sb.String()
}

// renderFullTool renders a full tool description.
func (r *ToolRenderer) renderFullTool(sb *strings.Builder, tool *MCPTool) {
	sb.WriteString(fmt.Sprintf("#### %s\n", tool.Name))

	if tool.Description != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", tool.Description))
	}

	if r.includeStats && tool.UsageCount > 0 {
		sb.WriteString(fmt.Sprintf("**Usage:** %d calls, %d ok, avg %dms\n", tool.UsageCount, tool.SuccessCount, tool.AvgLatencyMs))
	}

	if r.includeSchemas && len(tool.InputSchema) > 0 {
		schema := r.formatSchema(tool.InputSchema)
		if schema != "" {
			sb.WriteString(fmt.Sprintf("\n**Parameters:**\n```json\n%s\n```\n", schema))
		}
	}

	sb.WriteString("\n")
}

// formatSchema formats a JSON schema for display.
func (r *ToolRenderer) formatSchema(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}

	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}

	result := string(formatted)
	if r.maxSchemaLen > 0 && len(result) > r.maxSchemaLen {
		result = result[:r.maxSchemaLen] + "\n  ...(truncated)"
	}

	return result
}

// RenderCompact renders one line per tool.
func (r *ToolRenderer) RenderCompact(tools []*MCPTool) string {
	var sb strings.Builder
	for _, t := range tools {
		desc := strings.SplitN(strings.TrimSpace(t.Description), "\n", 2)[0]
		if desc == "" {
			sb.WriteString(t.ToolID + "\n")
			continue
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", t.ToolID, truncate(desc, 80)))
	}
	return sb.String()
}

// ToolJSONEntry represents a tool in JSON output.
type ToolJSONEntry struct {
	ToolID       string          `json:"tool_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	UsageCount   int64           `json:"usage_count,omitempty"`
	SuccessCount int64           `json:"success_count,omitempty"`
	AvgLatencyMs int             `json:"avg_latency_ms,omitempty"`
}

// RenderJSON renders tools as indented JSON.
func (r *ToolRenderer) RenderJSON(tools []*MCPTool) (string, error) {
	entries := make([]ToolJSONEntry, 0, len(tools))
	for _, t := range tools {
		e := ToolJSONEntry{
			ToolID:      t.ToolID,
			Name:        t.Name,
			Description: t.Description,
		}
		if r.includeSchemas {
			e.InputSchema = t.InputSchema
		}
		if r.includeStats {
			e.UsageCount = t.UsageCount
			e.SuccessCount = t.SuccessCount
			e.AvgLatencyMs = t.AvgLatencyMs
		}
		entries = append(entries, e)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
