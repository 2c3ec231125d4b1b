package guidance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphmem/internal/customtypes"
)

const types = `{
	"entity_types": {
		"Person": {"fields": {"age": "int"}, "docstring": "A human being"},
		"Company": {"fields": {"industry": "str"}}
	},
	"edge_types": {
		"WorksFor": {"fields": {"role": "str"}, "docstring": "Employment"},
		"Unused": {"fields": {}}
	},
	"edge_type_map": {
		"('Person', 'Company')": ["WorksFor"]
	}
}`

func TestRenderWithoutTypes(t *testing.T) {
	out, err := Render(Options{GroupID: "team"})
	require.NoError(t, err)

	assert.Contains(t, out, "# Memory graph usage")
	assert.Contains(t, out, `Episodes default to group "team"`)
	assert.Contains(t, out, "- text\n- json\n- message")
	assert.Contains(t, out, "uuid, name, group_id, labels, created_at, name_embedding, summary, attributes")
	assert.Contains(t, out, "List[str]")
	assert.Contains(t, out, "No custom types are loaded")
	assert.NotContains(t, out, "### Entity types")
}

func TestRenderWithTypes(t *testing.T) {
	set, err := customtypes.ParseTypeSet([]byte(types))
	require.NoError(t, err)

	out, err := Render(Options{Types: set})
	require.NoError(t, err)

	assert.NotContains(t, out, "Episodes default to group")
	assert.NotContains(t, out, "No custom types are loaded")
	assert.Contains(t, out, "### Entity types")
	assert.Contains(t, out, "- **Person**: A human being\n  - age (int)")
	assert.Contains(t, out, "- **Company**\n  - industry (str)")
	assert.Contains(t, out, "- **WorksFor**: Employment\n  - role (str)")
	assert.Contains(t, out, "- ('Person', 'Company'): WorksFor")
	assert.Contains(t, out, "edge type 'Unused' is not used by any edge map entry")
	assert.NotContains(t, out, "```json")

	// Entities are listed in name order.
	assert.Less(t, strings.Index(out, "**Company**"), strings.Index(out, "**Person**"))
}

func TestRenderWithSchemas(t *testing.T) {
	set, err := customtypes.ParseTypeSet([]byte(types))
	require.NoError(t, err)

	out, err := Render(Options{Types: set, IncludeSchemas: true})
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(out, "```json"))
	assert.Contains(t, out, `"title": "Person"`)
	assert.Contains(t, out, `"additionalProperties": false`)
}

func TestRenderPointsToTypesTool(t *testing.T) {
	set, err := customtypes.ParseTypeSet([]byte(types))
	require.NoError(t, err)

	out, err := Render(Options{Types: set, TypesTool: "memory_guidance"})
	require.NoError(t, err)

	assert.Contains(t, out, "Call memory_guidance")
	assert.Contains(t, out, "List[str]")
	assert.NotContains(t, out, "No custom types are loaded")
	assert.NotContains(t, out, "**Person**")
}
