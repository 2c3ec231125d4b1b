package customtypes

// JSONSchema returns an object schema for the type's attributes. All
// declared fields are required and no other properties are allowed.
func (d *TypeDef) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(d.Fields))
	required := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		props[f.Name] = f.Kind.Schema()
		required = append(required, f.Name)
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"title":                d.Name,
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	if d.Description != "" {
		schema["description"] = d.Description
	}
	return schema
}

// JSONSchema returns one schema per defined type, grouped by role, plus the
// edge map in wire form.
func (s *TypeSet) JSONSchema() map[string]interface{} {
	entities := make(map[string]interface{}, len(s.Entities))
	for _, name := range s.EntityNames() {
		entities[name] = s.Entities[name].JSONSchema()
	}
	edges := make(map[string]interface{}, len(s.Edges))
	for _, name := range s.EdgeNames() {
		edges[name] = s.Edges[name].JSONSchema()
	}
	return map[string]interface{}{
		"entity_types":  entities,
		"edge_types":    edges,
		"edge_type_map": s.EdgeMap.Wire(),
	}
}
