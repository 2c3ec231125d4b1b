package customtypes

import "errors"

var (
	// ErrInvalidJSON is returned when a definition document is not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON format")

	// ErrInvalidDefinition covers structural problems in a type definition.
	ErrInvalidDefinition = errors.New("invalid type definition")

	// ErrUnsupportedFieldType is returned for field type names outside the catalogue.
	ErrUnsupportedFieldType = errors.New("unsupported field type")

	// ErrProtectedAttribute is returned when a custom field redefines a base attribute.
	ErrProtectedAttribute = errors.New("protected attribute")

	// ErrInvalidEdgeMapKey is returned for edge map keys not shaped like ('Source', 'Target').
	ErrInvalidEdgeMapKey = errors.New("invalid edge mapping key format")

	// ErrInvalidEdgeList is returned when an edge map value is not a list of labels.
	ErrInvalidEdgeList = errors.New("invalid edge list")

	// ErrInvalidAttributes is returned when attribute values do not match a type.
	ErrInvalidAttributes = errors.New("invalid attributes")
)
