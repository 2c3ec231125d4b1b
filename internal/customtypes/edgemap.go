package customtypes

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"graphmem/internal/logging"
)

// GenericEntity is the label every node carries. An edge map entry keyed
// on it applies to any entity type.
const GenericEntity = "Entity"

// EdgeKey identifies an ordered pair of entity types.
type EdgeKey struct {
	Source string
	Target string
}

// String renders the key in the wire format, e.g. ('Person', 'Company').
func (k EdgeKey) String() string {
	return fmt.Sprintf("('%s', '%s')", k.Source, k.Target)
}

// ParseEdgeKey parses a key of the form ('Source', 'Target').
func ParseEdgeKey(s string) (EdgeKey, error) {
	if len(s) < 4 || !strings.HasPrefix(s, "('") || !strings.HasSuffix(s, "')") {
		return EdgeKey{}, fmt.Errorf("%w: '%s'. Expected format: \"('Source', 'Target')\"", ErrInvalidEdgeMapKey, s)
	}

	content := s[2 : len(s)-2]
	parts := strings.Split(content, "',")
	if len(parts) != 2 {
		return EdgeKey{}, fmt.Errorf("%w: edge mapping key must have exactly 2 entities: '%s'", ErrInvalidEdgeMapKey, s)
	}
	for i, p := range parts {
		parts[i] = strings.Trim(p, " \t'\"")
	}
	if parts[0] == "" || parts[1] == "" {
		return EdgeKey{}, fmt.Errorf("%w: empty entity name in '%s'", ErrInvalidEdgeMapKey, s)
	}
	return EdgeKey{Source: parts[0], Target: parts[1]}, nil
}

// EdgeMap maps entity type pairs to the edge labels allowed between them.
type EdgeMap map[EdgeKey][]string

// ParseEdgeMap decodes a JSON edge map document.
func ParseEdgeMap(data []byte) (EdgeMap, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w for edge mappings: %v", ErrInvalidJSON, err)
	}
	return EdgeMapFromMap(raw)
}

// EdgeMapFromMap converts decoded data with string keys into an EdgeMap.
func EdgeMapFromMap(raw map[string]interface{}) (EdgeMap, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := make(EdgeMap, len(raw))
	for _, keyStr := range keys {
		key, err := ParseEdgeKey(keyStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse edge mapping key '%s': %w", keyStr, err)
		}
		labels, err := edgeLabels(keyStr, raw[keyStr])
		if err != nil {
			return nil, fmt.Errorf("failed to parse edge mapping key '%s': %w", keyStr, err)
		}
		m[key] = labels
		logging.Get(logging.CategoryTypes).Info("Created edge mapping: %s -> %v", key, labels)
	}
	return m, nil
}

func edgeLabels(key string, v interface{}) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: item %d for key '%s' must be a string, got %T", ErrInvalidEdgeList, i, key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: edge list for key '%s' must be a list, got %T", ErrInvalidEdgeList, key, v)
	}
}

// Keys returns the map's keys sorted by source then target.
func (m EdgeMap) Keys() []EdgeKey {
	keys := make([]EdgeKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Target < keys[j].Target
	})
	return keys
}

// Allowed returns the edge labels permitted from source to target,
// including entries keyed on GenericEntity. The result is sorted and
// deduplicated.
func (m EdgeMap) Allowed(source, target string) []string {
	seen := make(map[string]bool)
	for _, s := range []string{source, GenericEntity} {
		for _, t := range []string{target, GenericEntity} {
			for _, label := range m[EdgeKey{Source: s, Target: t}] {
				seen[label] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Wire returns the map with string keys.
func (m EdgeMap) Wire() map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k.String()] = v
	}
	return out
}

// MarshalJSON renders the map in wire format.
func (m EdgeMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Wire())
}

// UnmarshalJSON parses the wire format.
func (m *EdgeMap) UnmarshalJSON(data []byte) error {
	parsed, err := ParseEdgeMap(data)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
