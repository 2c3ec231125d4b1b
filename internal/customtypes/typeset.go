package customtypes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TypeSet bundles the custom types sent with an episode.
type TypeSet struct {
	Entities map[string]*TypeDef
	Edges    map[string]*TypeDef
	EdgeMap  EdgeMap
}

// WireTypeSet is the serialized form of a TypeSet.
type WireTypeSet struct {
	EntityTypes map[string]wireDef  `json:"entity_types,omitempty" yaml:"entity_types,omitempty"`
	EdgeTypes   map[string]wireDef  `json:"edge_types,omitempty" yaml:"edge_types,omitempty"`
	EdgeTypeMap map[string][]string `json:"edge_type_map,omitempty" yaml:"edge_type_map,omitempty"`
}

var typeSetKeys = map[string]bool{"entity_types": true, "edge_types": true, "edge_type_map": true}

// IsEmpty reports whether the set defines nothing.
func (s *TypeSet) IsEmpty() bool {
	return s == nil || (len(s.Entities) == 0 && len(s.Edges) == 0 && len(s.EdgeMap) == 0)
}

// EntityNames returns the entity type names sorted.
func (s *TypeSet) EntityNames() []string {
	return sortedNames(s.Entities)
}

// EdgeNames returns the edge type names sorted.
func (s *TypeSet) EdgeNames() []string {
	return sortedNames(s.Edges)
}

func sortedNames(m map[string]*TypeDef) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate re-checks every definition in the set.
func (s *TypeSet) Validate() error {
	if s == nil {
		return nil
	}
	for _, name := range s.EntityNames() {
		if err := s.Entities[name].Validate(); err != nil {
			return err
		}
	}
	for _, name := range s.EdgeNames() {
		if err := s.Edges[name].Validate(); err != nil {
			return fmt.Errorf("parse edge types: %w", err)
		}
	}
	for _, key := range s.EdgeMap.Keys() {
		if key.Source == "" || key.Target == "" {
			return fmt.Errorf("%w: empty entity name in %s", ErrInvalidEdgeMapKey, key)
		}
	}
	return nil
}

// Lint reports references in the edge map that point at nothing defined.
// The graph tolerates them, so these are warnings rather than errors.
func (s *TypeSet) Lint() []string {
	if s == nil {
		return nil
	}
	var warnings []string
	for _, key := range s.EdgeMap.Keys() {
		for _, name := range []string{key.Source, key.Target} {
			if name == GenericEntity {
				continue
			}
			if _, ok := s.Entities[name]; !ok {
				warnings = append(warnings, fmt.Sprintf("edge map %s references undefined entity type '%s'", key, name))
			}
		}
		for _, label := range s.EdgeMap[key] {
			if _, ok := s.Edges[label]; !ok {
				warnings = append(warnings, fmt.Sprintf("edge map %s allows '%s', which is not a defined edge type", key, label))
			}
		}
	}
	for _, name := range s.EdgeNames() {
		if !s.edgeMapped(name) {
			warnings = append(warnings, fmt.Sprintf("edge type '%s' is not used by any edge map entry", name))
		}
	}
	return warnings
}

func (s *TypeSet) edgeMapped(label string) bool {
	for _, labels := range s.EdgeMap {
		for _, l := range labels {
			if l == label {
				return true
			}
		}
	}
	return false
}

// Wire converts the set to its serialized form.
func (s *TypeSet) Wire() WireTypeSet {
	var w WireTypeSet
	if s == nil {
		return w
	}
	if len(s.Entities) > 0 {
		w.EntityTypes = make(map[string]wireDef, len(s.Entities))
		for name, def := range s.Entities {
			w.EntityTypes[name] = def.wire()
		}
	}
	if len(s.Edges) > 0 {
		w.EdgeTypes = make(map[string]wireDef, len(s.Edges))
		for name, def := range s.Edges {
			w.EdgeTypes[name] = def.wire()
		}
	}
	if len(s.EdgeMap) > 0 {
		w.EdgeTypeMap = s.EdgeMap.Wire()
	}
	return w
}

// Arguments returns the set as plain maps, ready to merge into MCP tool
// arguments. Empty sections are omitted.
func (s *TypeSet) Arguments() map[string]interface{} {
	args := make(map[string]interface{})
	w := s.Wire()
	if len(w.EntityTypes) > 0 {
		args["entity_types"] = wireDefsToMap(w.EntityTypes)
	}
	if len(w.EdgeTypes) > 0 {
		args["edge_types"] = wireDefsToMap(w.EdgeTypes)
	}
	if len(w.EdgeTypeMap) > 0 {
		m := make(map[string]interface{}, len(w.EdgeTypeMap))
		for k, v := range w.EdgeTypeMap {
			m[k] = v
		}
		args["edge_type_map"] = m
	}
	return args
}

func wireDefsToMap(defs map[string]wireDef) map[string]interface{} {
	out := make(map[string]interface{}, len(defs))
	for name, d := range defs {
		fields := make(map[string]interface{}, len(d.Fields))
		for k, v := range d.Fields {
			fields[k] = v
		}
		entry := map[string]interface{}{"fields": fields}
		if d.Docstring != "" {
			entry["docstring"] = d.Docstring
		}
		out[name] = entry
	}
	return out
}

// MarshalJSON renders the set in wire format.
func (s *TypeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Wire())
}

// UnmarshalJSON parses and validates the wire format.
func (s *TypeSet) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTypeSet(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// ParseTypeSet decodes a JSON type-set document.
func ParseTypeSet(data []byte) (*TypeSet, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w for type set: %v", ErrInvalidJSON, err)
	}
	return TypeSetFromMap(raw)
}

// TypeSetFromMap builds a TypeSet from decoded data with the keys
// entity_types, edge_types and edge_type_map, all optional.
func TypeSetFromMap(raw map[string]interface{}) (*TypeSet, error) {
	for k := range raw {
		if !typeSetKeys[k] {
			return nil, fmt.Errorf("%w: unknown type set key '%s'", ErrInvalidDefinition, k)
		}
	}

	set := &TypeSet{
		Entities: map[string]*TypeDef{},
		Edges:    map[string]*TypeDef{},
		EdgeMap:  EdgeMap{},
	}

	if v, ok := raw["entity_types"]; ok && v != nil {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: entity_types must be an object, got %T", ErrInvalidDefinition, v)
		}
		defs, err := EntityTypesFromMap(m)
		if err != nil {
			return nil, err
		}
		set.Entities = defs
	}
	if v, ok := raw["edge_types"]; ok && v != nil {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: edge_types must be an object, got %T", ErrInvalidDefinition, v)
		}
		defs, err := EdgeTypesFromMap(m)
		if err != nil {
			return nil, err
		}
		set.Edges = defs
	}
	if v, ok := raw["edge_type_map"]; ok && v != nil {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: edge_type_map must be an object, got %T", ErrInvalidEdgeMapKey, v)
		}
		em, err := EdgeMapFromMap(m)
		if err != nil {
			return nil, err
		}
		set.EdgeMap = em
	}
	return set, nil
}

// LoadFile reads a type-set document. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func LoadFile(path string) (*TypeSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read type set: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse type set %s: %w", path, err)
		}
		if raw == nil {
			return &TypeSet{Entities: map[string]*TypeDef{}, Edges: map[string]*TypeDef{}, EdgeMap: EdgeMap{}}, nil
		}
		return TypeSetFromMap(raw)
	default:
		set, err := ParseTypeSet(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return set, nil
	}
}
