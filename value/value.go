// Package value implements the tagged value store spec.md §9 calls for in
// place of a dynamic "dict of anything": Context and templated parameters are
// one of {string, number, bool, null, list, map, opaque(handle)}. Opaque
// values (service instances, events, persistent-context handles) live in a
// side-table keyed by handle id rather than inside the tagged value itself,
// so Value stays trivially JSON/YAML round-trippable.
package value

import (
	"fmt"
	"sort"
)

// Kind discriminates the tagged value variants.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
	KindOpaque
)

// Value is an immutable tagged union. Zero value is Null.
type Value struct {
	kind   Kind
	str    string
	num    float64
	boo    bool
	list   []Value
	mp     map[string]Value
	handle string
}

// Null is the canonical null value.
var Null = Value{kind: KindNull}

func String(s string) Value  { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value      { return Value{kind: KindBool, boo: b} }
func List(items []Value) Value {
	return Value{kind: KindList, list: items}
}
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, mp: m}
}

// Opaque wraps a handle id referencing a side-table entry (§9: "opaque values
// ... live in side-tables keyed by handle id").
func Opaque(handle string) Value { return Value{kind: KindOpaque, handle: handle} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.boo, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.mp, true
}

func (v Value) AsHandle() (string, bool) {
	if v.kind != KindOpaque {
		return "", false
	}
	return v.handle, true
}

// Truthy implements the template engine's boolean coercion rules: null and
// false are falsy, zero number and empty string/list/map are falsy, anything
// else (including opaque handles) is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.boo
	case KindNumber:
		return v.num != 0
	case KindString:
		return v.str != ""
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return len(v.mp) > 0
	case KindOpaque:
		return true
	default:
		return false
	}
}

// FromGo converts a plain Go value (as decoded from YAML/JSON) into a Value.
// Unrecognized types are rendered as their fmt.Sprint string form rather than
// failing, matching the source's permissive "dict of anything" ingestion.
func FromGo(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case float64:
		return Number(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromGo(e)
		}
		return List(out)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromGo(e)
		}
		return Map(out)
	case map[any]any: // gopkg.in/yaml.v3 decodes nested maps as map[string]any already in v3, kept for v2-style inputs
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = FromGo(e)
		}
		return Map(out)
	default:
		return String(fmt.Sprint(t))
	}
}

// ToGo converts a Value back to a plain Go value suitable for JSON/YAML
// marshaling or for handing to an action's formal parameters.
func ToGo(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.boo
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = ToGo(e)
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.mp))
		for k, e := range v.mp {
			out[k] = ToGo(e)
		}
		return out
	case KindOpaque:
		return v.handle
	default:
		return nil
	}
}

// SortedKeys returns the map's keys in sorted order, used wherever iteration
// order must be deterministic (e.g. rendering params for debug output).
func SortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
