package customtypes

import "fmt"

// protectedAttributes are the base entity fields owned by the memory graph.
// A custom type that declares any of them is rejected by the server, so we
// reject it first.
var protectedAttributes = []string{
	"uuid",
	"name",
	"group_id",
	"labels",
	"created_at",
	"name_embedding",
	"summary",
	"attributes",
}

var protectedSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(protectedAttributes))
	for _, name := range protectedAttributes {
		m[name] = struct{}{}
	}
	return m
}()

// IsProtected reports whether name is a reserved base attribute.
// The comparison is exact; the graph's schema is case-sensitive.
func IsProtected(name string) bool {
	_, ok := protectedSet[name]
	return ok
}

// ProtectedAttributes returns the reserved attribute names in schema order.
func ProtectedAttributes() []string {
	out := make([]string, len(protectedAttributes))
	copy(out, protectedAttributes)
	return out
}

// CheckFieldName validates a single custom field name.
func CheckFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: field name must not be empty", ErrInvalidDefinition)
	}
	if IsProtected(name) {
		return fmt.Errorf("%w: field %q redefines a base attribute (reserved: %v)", ErrProtectedAttribute, name, protectedAttributes)
	}
	return nil
}
