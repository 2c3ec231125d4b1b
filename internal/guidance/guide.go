// Package guidance renders the usage guide handed to agents that write to
// and read from the memory graph.
package guidance

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"graphmem/internal/customtypes"
	"graphmem/internal/episode"
)

// Options selects what the guide covers.
type Options struct {
	// GroupID is the default namespace episodes land in.
	GroupID string

	// Types is the type set applied by default; nil means none.
	Types *customtypes.TypeSet

	// IncludeSchemas adds a JSON schema per custom type.
	IncludeSchemas bool

	// TypesTool, when set, replaces the type listing with a pointer to the
	// tool that reports the types currently in effect. Types is ignored.
	TypesTool string
}

type typeView struct {
	Name        string
	Description string
	Fields      []customtypes.Field
	Schema      string
}

type edgeView struct {
	Key    string
	Labels string
}

type guideData struct {
	GroupID   string
	Sources   []episode.Source
	Protected string
	Kinds     string
	Entities  []typeView
	Edges     []typeView
	EdgeMap   []edgeView
	Warnings  []string
	HasTypes  bool
	AddTool   string
	NodesTool string
	FactsTool string
	TypesTool string
	Schemas   bool
}

var guideTemplate = template.Must(template.New("guide").Parse(`# Memory graph usage

The memory graph stores what you learn as episodes. The server extracts
entities (nodes) and relationships (facts) from each episode and keeps
track of when each fact became true and when it stopped being true.

## Before you start a task

1. Search nodes with {{.NodesTool}} for the people, projects and preferences involved.
2. Search facts with {{.FactsTool}} for relationships and constraints.
3. Prefer what the graph returns over assumptions. Facts with an invalid_at
   or expired_at time are history, not the current state.

## Recording memory

Call {{.AddTool}} as soon as you learn something worth keeping: requirements,
preferences, decisions, procedures. Split long content into focused episodes.
{{- if .GroupID}}
Episodes default to group "{{.GroupID}}"; pass group_id to write elsewhere.
{{- end}}

Episode sources:
{{- range .Sources}}
- {{.}}
{{- end}}

Use "json" only when episode_body is a JSON document, and "message" for
conversation transcripts ("speaker: text" per line).

## Custom types

Custom entity and edge types steer extraction. Field types: {{.Kinds}}.
These attribute names are reserved and may not be used as fields:
{{.Protected}}.
{{- if .TypesTool}}

The default custom types can change while you work. Call {{.TypesTool}}
for the entity types, edge types and allowed edges currently in effect.
{{- else if not .HasTypes}}

No custom types are loaded; the server uses its built-in types.
{{- else}}
{{- if .Entities}}

### Entity types
{{range .Entities}}
- **{{.Name}}**{{if .Description}}: {{.Description}}{{end}}
{{- range .Fields}}
  - {{.Name}} ({{.Kind}})
{{- end}}
{{- if $.Schemas}}

` + "```json" + `
{{.Schema}}
` + "```" + `
{{- end}}
{{- end}}
{{- end}}
{{- if .Edges}}

### Edge types
{{range .Edges}}
- **{{.Name}}**{{if .Description}}: {{.Description}}{{end}}
{{- range .Fields}}
  - {{.Name}} ({{.Kind}})
{{- end}}
{{- if $.Schemas}}

` + "```json" + `
{{.Schema}}
` + "```" + `
{{- end}}
{{- end}}
{{- end}}
{{- if .EdgeMap}}

### Allowed edges
{{range .EdgeMap}}
- {{.Key}}: {{.Labels}}
{{- end}}
{{- end}}
{{- if .Warnings}}

### Warnings
{{range .Warnings}}
- {{.}}
{{- end}}
{{- end}}
{{- end}}
`))

// Render returns the guide as markdown.
func Render(opts Options) (string, error) {
	data := guideData{
		GroupID:   opts.GroupID,
		Sources:   []episode.Source{episode.SourceText, episode.SourceJSON, episode.SourceMessage},
		Protected: strings.Join(customtypes.ProtectedAttributes(), ", "),
		Kinds:     kindNames(),
		HasTypes:  opts.TypesTool == "" && !opts.Types.IsEmpty(),
		AddTool:   "add_memory",
		NodesTool: "search_memory_nodes",
		FactsTool: "search_memory_facts",
		TypesTool: opts.TypesTool,
		Schemas:   opts.IncludeSchemas,
	}

	if data.HasTypes {
		var err error
		if data.Entities, err = views(opts.Types.EntityNames(), opts.Types.Entities); err != nil {
			return "", err
		}
		if data.Edges, err = views(opts.Types.EdgeNames(), opts.Types.Edges); err != nil {
			return "", err
		}
		for _, key := range opts.Types.EdgeMap.Keys() {
			data.EdgeMap = append(data.EdgeMap, edgeView{
				Key:    key.String(),
				Labels: strings.Join(opts.Types.EdgeMap[key], ", "),
			})
		}
		data.Warnings = opts.Types.Lint()
	}

	var b strings.Builder
	if err := guideTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render guide: %w", err)
	}
	return b.String(), nil
}

func views(names []string, defs map[string]*customtypes.TypeDef) ([]typeView, error) {
	out := make([]typeView, 0, len(names))
	for _, name := range names {
		def := defs[name]
		schema, err := json.MarshalIndent(def.JSONSchema(), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to render schema for %s: %w", name, err)
		}
		out = append(out, typeView{
			Name:        def.Name,
			Description: def.Description,
			Fields:      def.Fields,
			Schema:      string(schema),
		})
	}
	return out, nil
}

func kindNames() string {
	kinds := customtypes.SupportedKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
