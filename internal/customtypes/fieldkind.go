package customtypes

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// FieldKind is the declared type of a custom field, spelled the way the
// memory graph's definition format spells it.
type FieldKind string

const (
	KindString     FieldKind = "str"
	KindInt        FieldKind = "int"
	KindFloat      FieldKind = "float"
	KindBool       FieldKind = "bool"
	KindList       FieldKind = "list"
	KindDict       FieldKind = "dict"
	KindStringList FieldKind = "List[str]"
	KindIntList    FieldKind = "List[int]"
	KindFloatList  FieldKind = "List[float]"
	KindAnyMap     FieldKind = "Dict[str, Any]"
	KindStringMap  FieldKind = "Dict[str, str]"
	KindIntMap     FieldKind = "Dict[str, int]"
)

var supportedKinds = []FieldKind{
	KindString, KindInt, KindFloat, KindBool, KindList, KindDict,
	KindStringList, KindIntList, KindFloatList,
	KindAnyMap, KindStringMap, KindIntMap,
}

// SupportedKinds returns the field type catalogue.
func SupportedKinds() []FieldKind {
	out := make([]FieldKind, len(supportedKinds))
	copy(out, supportedKinds)
	return out
}

func supportedKindNames() string {
	names := make([]string, len(supportedKinds))
	for i, k := range supportedKinds {
		names[i] = string(k)
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// ParseFieldKind resolves a type name. Only exact catalogue spellings are accepted.
func ParseFieldKind(s string) (FieldKind, error) {
	for _, k := range supportedKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w '%s'", ErrUnsupportedFieldType, s)
}

// Schema returns the JSON Schema fragment for values of this kind.
func (k FieldKind) Schema() map[string]interface{} {
	switch k {
	case KindString:
		return map[string]interface{}{"type": "string"}
	case KindInt:
		return map[string]interface{}{"type": "integer"}
	case KindFloat:
		return map[string]interface{}{"type": "number"}
	case KindBool:
		return map[string]interface{}{"type": "boolean"}
	case KindList:
		return map[string]interface{}{"type": "array"}
	case KindStringList:
		return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}}
	case KindIntList:
		return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "integer"}}
	case KindFloatList:
		return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "number"}}
	case KindDict, KindAnyMap:
		return map[string]interface{}{"type": "object"}
	case KindStringMap:
		return map[string]interface{}{"type": "object", "additionalProperties": map[string]interface{}{"type": "string"}}
	case KindIntMap:
		return map[string]interface{}{"type": "object", "additionalProperties": map[string]interface{}{"type": "integer"}}
	}
	return map[string]interface{}{}
}

// Check validates a decoded value against the kind. Values are expected in
// the shapes encoding/json produces, but native Go ints and typed slices
// and maps are accepted too.
func (k FieldKind) Check(v interface{}) error {
	switch k {
	case KindString:
		if _, ok := v.(string); !ok {
			return kindMismatch(k, v)
		}
	case KindInt:
		if !isInteger(v) {
			return kindMismatch(k, v)
		}
	case KindFloat:
		if !isNumber(v) {
			return kindMismatch(k, v)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return kindMismatch(k, v)
		}
	case KindList:
		if _, ok := sliceElems(v); !ok {
			return kindMismatch(k, v)
		}
	case KindDict, KindAnyMap:
		if _, ok := mapValues(v); !ok {
			return kindMismatch(k, v)
		}
	case KindStringList, KindIntList, KindFloatList:
		elems, ok := sliceElems(v)
		if !ok {
			return kindMismatch(k, v)
		}
		elem := map[FieldKind]FieldKind{KindStringList: KindString, KindIntList: KindInt, KindFloatList: KindFloat}[k]
		for i, e := range elems {
			if err := elem.Check(e); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	case KindStringMap, KindIntMap:
		vals, ok := mapValues(v)
		if !ok {
			return kindMismatch(k, v)
		}
		elem := KindString
		if k == KindIntMap {
			elem = KindInt
		}
		for key, e := range vals {
			if err := elem.Check(e); err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
		}
	default:
		return fmt.Errorf("%w '%s'", ErrUnsupportedFieldType, k)
	}
	return nil
}

func kindMismatch(k FieldKind, v interface{}) error {
	return fmt.Errorf("expected %s, got %T", k, v)
}

func isNumber(v interface{}) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case bool, nil:
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isInteger(v interface{}) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	case float32:
		f := float64(n)
		return f == math.Trunc(f) && !math.IsInf(f, 0)
	}
	if !isNumber(v) {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k != reflect.Float32 && k != reflect.Float64
}

func sliceElems(v interface{}) ([]interface{}, bool) {
	if s, ok := v.([]interface{}); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func mapValues(v interface{}) (map[string]interface{}, bool) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
