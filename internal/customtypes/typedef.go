// Package customtypes parses and validates custom entity and edge type
// definitions for the memory graph, and the edge map that says which edge
// types may connect which entity types.
//
// The wire format is the one the graph's add_memory tool accepts:
//
//	{"Person": {"fields": {"age": "int"}, "docstring": "A human being"}}
//
// Every definition is checked against the protected attribute list before it
// leaves the process.
package customtypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"graphmem/internal/logging"
)

// Role says whether a definition describes nodes or edges.
type Role string

const (
	RoleEntity Role = "entity"
	RoleEdge   Role = "edge"
)

// Field is a single declared field of a custom type.
type Field struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"type"`
}

// TypeDef is a validated custom type definition.
type TypeDef struct {
	Name        string
	Description string
	Role        Role
	Fields      []Field // sorted by name
}

// wireDef is the on-the-wire shape of a single definition.
type wireDef struct {
	Fields    map[string]string `json:"fields" yaml:"fields"`
	Docstring string            `json:"docstring,omitempty" yaml:"docstring,omitempty"`
}

// Field looks up a declared field by name.
func (d *TypeDef) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the declared field names in order.
func (d *TypeDef) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

func (d *TypeDef) wire() wireDef {
	fields := make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		fields[f.Name] = string(f.Kind)
	}
	return wireDef{Fields: fields, Docstring: d.Description}
}

// MarshalJSON renders the definition in wire format.
func (d *TypeDef) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.wire())
}

// Validate re-checks a definition that may have been assembled by hand.
func (d *TypeDef) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: type name must not be empty", ErrInvalidDefinition)
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if err := CheckFieldName(f.Name); err != nil {
			return fmt.Errorf("%s '%s': %w", d.Role, d.Name, err)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: %s '%s' declares field '%s' twice", ErrInvalidDefinition, d.Role, d.Name, f.Name)
		}
		seen[f.Name] = true
		if _, err := ParseFieldKind(string(f.Kind)); err != nil {
			return fmt.Errorf("%w for field '%s' in %s '%s'", err, f.Name, d.Role, d.Name)
		}
	}
	return nil
}

// ValidateAttributes checks attribute values against the declared fields.
// Every declared field is required and undeclared keys are rejected.
func (d *TypeDef) ValidateAttributes(attrs map[string]interface{}) error {
	var errs []error
	for _, f := range d.Fields {
		v, ok := attrs[f.Name]
		if !ok {
			errs = append(errs, fmt.Errorf("field '%s' is required", f.Name))
			continue
		}
		if err := f.Kind.Check(v); err != nil {
			errs = append(errs, fmt.Errorf("field '%s': %w", f.Name, err))
		}
	}
	extra := make([]string, 0)
	for k := range attrs {
		if _, ok := d.Field(k); !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		errs = append(errs, fmt.Errorf("field '%s' is not declared", k))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w for %s '%s': %w", ErrInvalidAttributes, d.Role, d.Name, errors.Join(errs...))
}

// ParseEntityTypes decodes a JSON document of entity type definitions.
func ParseEntityTypes(data []byte) (map[string]*TypeDef, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w for entity types: %v", ErrInvalidJSON, err)
	}
	return EntityTypesFromMap(raw)
}

// EntityTypesFromMap builds entity type definitions from decoded data.
func EntityTypesFromMap(raw map[string]interface{}) (map[string]*TypeDef, error) {
	return typesFromMap(RoleEntity, raw)
}

// ParseEdgeTypes decodes a JSON document of edge type definitions.
// Edge types share the entity definition format.
func ParseEdgeTypes(data []byte) (map[string]*TypeDef, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("parse edge types: %w: %v", ErrInvalidJSON, err)
	}
	return EdgeTypesFromMap(raw)
}

// EdgeTypesFromMap builds edge type definitions from decoded data.
func EdgeTypesFromMap(raw map[string]interface{}) (map[string]*TypeDef, error) {
	defs, err := typesFromMap(RoleEdge, raw)
	if err != nil {
		return nil, fmt.Errorf("parse edge types: %w", err)
	}
	return defs, nil
}

func decodeObject(data []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("expected a JSON object")
	}
	return raw, nil
}

func typesFromMap(role Role, raw map[string]interface{}) (map[string]*TypeDef, error) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make(map[string]*TypeDef, len(raw))
	for _, name := range names {
		def, err := buildTypeDef(role, name, raw[name])
		if err != nil {
			return nil, err
		}
		defs[name] = def
		logging.Get(logging.CategoryTypes).Info("Created custom %s type: %s", role, name)
	}
	return defs, nil
}

func buildTypeDef(role Role, name string, cfg interface{}) (*TypeDef, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: %s type name must not be empty", ErrInvalidDefinition, role)
	}

	config, ok := cfg.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s '%s' must have 'fields' key", ErrInvalidDefinition, role, name)
	}
	rawFields, ok := config["fields"]
	if !ok {
		return nil, fmt.Errorf("%w: %s '%s' must have 'fields' key", ErrInvalidDefinition, role, name)
	}
	fields, ok := rawFields.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: 'fields' of %s '%s' must be an object, got %T", ErrInvalidDefinition, role, name, rawFields)
	}

	description, err := descriptionOf(config)
	if err != nil {
		return nil, fmt.Errorf("%s '%s': %w", role, name, err)
	}

	def := &TypeDef{Name: name, Description: description, Role: role, Fields: make([]Field, 0, len(fields))}
	fieldNames := make([]string, 0, len(fields))
	for fieldName := range fields {
		fieldNames = append(fieldNames, fieldName)
	}
	sort.Strings(fieldNames)

	for _, fieldName := range fieldNames {
		if err := CheckFieldName(fieldName); err != nil {
			return nil, fmt.Errorf("%s '%s': %w", role, name, err)
		}
		typeName, ok := fields[fieldName].(string)
		if !ok {
			return nil, fmt.Errorf("%w %v for field '%s' in %s '%s'. Supported types: %s",
				ErrUnsupportedFieldType, fields[fieldName], fieldName, role, name, supportedKindNames())
		}
		kind, err := ParseFieldKind(typeName)
		if err != nil {
			return nil, fmt.Errorf("%w for field '%s' in %s '%s'. Supported types: %s",
				err, fieldName, role, name, supportedKindNames())
		}
		def.Fields = append(def.Fields, Field{Name: fieldName, Kind: kind})
	}
	return def, nil
}

// descriptionOf reads "docstring", falling back to "description".
func descriptionOf(config map[string]interface{}) (string, error) {
	for _, key := range []string{"docstring", "description"} {
		v, ok := config[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%w: '%s' must be a string, got %T", ErrInvalidDefinition, key, v)
		}
		if s != "" {
			return s, nil
		}
	}
	return "", nil
}
