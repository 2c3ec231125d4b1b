package episode

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphmem/internal/customtypes"
	"graphmem/internal/validation"
)

func TestParseSource(t *testing.T) {
	tests := map[string]Source{"": SourceText, "text": SourceText, "JSON": SourceJSON, " message ": SourceMessage}
	for in, want := range tests {
		got, err := ParseSource(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseSource("xml")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestBuildAppliesDefaults(t *testing.T) {
	r := &Request{Name: "standup", Body: "Alice joined Acme."}
	args, err := r.Build(Defaults{GroupID: "team"})
	require.NoError(t, err)

	want := map[string]interface{}{
		"name":               "standup",
		"episode_body":       "Alice joined Acme.",
		"source":             "text",
		"source_description": "",
		"group_id":           "team",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildWithTypes(t *testing.T) {
	set, err := customtypes.ParseTypeSet([]byte(`{
		"entity_types": {"Person": {"fields": {"age": "int"}}},
		"edge_type_map": {"('Person', 'Entity')": ["Knows"]}
	}`))
	require.NoError(t, err)

	r := &Request{
		Name:   "profile",
		Body:   `{"name": "Alice", "age": 30}`,
		Source: SourceJSON,
		UUID:   "3f2504e0-4f89-11d3-9a0c-0305e82c3301",
		Types:  set,
	}
	args, err := r.Build(Defaults{})
	require.NoError(t, err)

	assert.Equal(t, "json", args["source"])
	assert.Equal(t, "3f2504e0-4f89-11d3-9a0c-0305e82c3301", args["uuid"])
	assert.NotContains(t, args, "group_id")
	assert.Contains(t, args, "entity_types")
	assert.NotContains(t, args, "edge_types")
	assert.Equal(t, map[string]interface{}{"('Person', 'Entity')": []string{"Knows"}}, args["edge_type_map"])
}

func TestBuildRejects(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"invalid json body", Request{Name: "n", Body: "{oops", Source: SourceJSON}, ErrInvalidBody},
		{"protected field", Request{Name: "n", Body: "b", Types: &customtypes.TypeSet{
			Entities: map[string]*customtypes.TypeDef{
				"Person": {Name: "Person", Role: customtypes.RoleEntity, Fields: []customtypes.Field{{Name: "group_id", Kind: customtypes.KindString}}},
			},
		}}, customtypes.ErrProtectedAttribute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Build(Defaults{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuildStructValidation(t *testing.T) {
	r := &Request{Body: "b", GroupID: "has space", UUID: "not-a-uuid", Source: "xml"}
	_, err := r.Build(Defaults{})
	require.Error(t, err)

	var verrs validation.Errors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"Request.name", "Request.source", "Request.group_id", "Request.uuid"}, fields)
}

func TestFromArguments(t *testing.T) {
	args := map[string]interface{}{
		"name":         "chat",
		"episode_body": "user: hi",
		"source":       "message",
		"group_id":     "g1",
		"entity_types": `{"Person": {"fields": {"age": "int"}}}`,
		"edge_type_map": map[string]interface{}{
			"('Person', 'Person')": []interface{}{"Knows"},
		},
	}
	r, err := FromArguments(args)
	require.NoError(t, err)
	assert.Equal(t, SourceMessage, r.Source)
	assert.Equal(t, "g1", r.GroupID)
	require.NotNil(t, r.Types)
	assert.Equal(t, []string{"Person"}, r.Types.EntityNames())

	_, err = FromArguments(map[string]interface{}{"name": 3})
	assert.Error(t, err)

	_, err = FromArguments(map[string]interface{}{
		"entity_types": map[string]interface{}{"Person": map[string]interface{}{"fields": map[string]interface{}{"summary": "str"}}},
	})
	assert.ErrorIs(t, err, ErrInvalidTypes)
	assert.ErrorIs(t, err, customtypes.ErrProtectedAttribute)

	_, err = FromArguments(map[string]interface{}{"edge_types": "{not json"})
	assert.ErrorIs(t, err, customtypes.ErrInvalidJSON)
}
