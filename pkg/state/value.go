package state

import (
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

// Kind enumerates the closed set of SnapshotValue variants.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindBytes
	KindArray
	KindMap
)

// Value is a SnapshotValue: a closed sum type every leaf and container
// ultimately reduces to. It is intentionally a value type (not an
// interface) so equality and encoding are cheap and total.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	d     float64
	s     string
	bytes []byte
	arr   []Value
	m     map[string]Value
	// keys lists the map's keys in Go map-iteration order, not insertion
	// order; canonical encoding always re-sorts by key regardless of this
	// slice.
	keys []string
}

// Null returns the null SnapshotValue.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a bool leaf.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps a 64-bit integer leaf.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Double wraps a float64 leaf.
func Double(d float64) Value { return Value{kind: KindDouble, d: d} }

// String wraps a string leaf.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes wraps an opaque byte-slice leaf.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }

// Array builds an ordered-array SnapshotValue.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Map builds a string-keyed map SnapshotValue. Its keys slice is filled in
// Go map-iteration order, so it records no insertion order.
func Map(m map[string]Value) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return Value{kind: KindMap, m: m, keys: keys}
}

// Kind reports the Value's variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolValue returns the bool payload; zero value if v is not KindBool.
func (v Value) BoolValue() bool { return v.b }

// IntValue returns the int64 payload; zero value if v is not KindInt.
func (v Value) IntValue() int64 { return v.i }

// DoubleValue returns the float64 payload; zero value if v is not KindDouble.
func (v Value) DoubleValue() float64 { return v.d }

// StringValue returns the string payload; empty if v is not KindString.
func (v Value) StringValue() string { return v.s }

// BytesValue returns the byte-slice payload; nil if v is not KindBytes.
func (v Value) BytesValue() []byte { return v.bytes }

// ArrayValue returns the element slice; nil if v is not KindArray.
func (v Value) ArrayValue() []Value { return v.arr }

// MapValue returns the underlying map; nil if v is not KindMap.
func (v Value) MapValue() map[string]Value { return v.m }

// Leaf is implemented by any value that knows how to convert itself into a
// SnapshotValue. Every leaf type that may appear in state must provide a
// total implementation: it must never panic, and on an
// unsupported shape must return an error so the caller can fall back to a
// `set null` patch rather than dropping the mutation.
type Leaf interface {
	ToSnapshotValue() (Value, error)
}

// FromAny converts a plain Go value into a SnapshotValue, recursing into
// slices and string-keyed maps. It is the fallback used by containers for
// fields that don't implement Leaf themselves (primitives, plain structs
// reachable through encoding/json-like shapes). Unsupported shapes return
// an error; callers are expected to record a `set null` fallback patch and
// log rather than propagate a crash.
func FromAny(v any) (Value, error) {
	if v == nil {
		return Null(), nil
	}
	if leaf, ok := v.(Leaf); ok {
		return leaf.ToSnapshotValue()
	}

	switch t := v.(type) {
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Int(int64(t)), nil
	case float32:
		return Double(float64(t)), nil
	case float64:
		return Double(t), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return Null(), fmt.Errorf("state: array element %d: %w", i, err)
			}
			out[i] = elem
		}
		return Array(out...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Null(), fmt.Errorf("state: unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]Value, rv.Len())
		for _, key := range rv.MapKeys() {
			elem, err := FromAny(rv.MapIndex(key).Interface())
			if err != nil {
				return Null(), fmt.Errorf("state: map value at key %q: %w", key.String(), err)
			}
			out[key.String()] = elem
		}
		return Map(out), nil
	case reflect.Struct:
		return structToValue(rv)
	}

	return Null(), fmt.Errorf("state: unsupported leaf type %T", v)
}

// structToValue converts an arbitrary struct via its exported fields into a
// SnapshotValue map, keyed by the field's `state` tag if present, else its
// Go name. It's the last-resort path for plain data structs that don't
// implement Leaf.
func structToValue(rv reflect.Value) (Value, error) {
	t := rv.Type()
	out := make(map[string]Value, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		name := field.Tag.Get("state")
		if name == "" {
			name = field.Name
		}
		if name == "-" {
			continue
		}
		val, err := FromAny(rv.Field(i).Interface())
		if err != nil {
			return Null(), fmt.Errorf("state: field %s: %w", field.Name, err)
		}
		out[name] = val
	}
	return Map(out), nil
}

// ToNative reduces v to a plain Go value built only from primitives, []any,
// and map[string]any — the shape the wire codecs expect to json.Marshal or
// msgpack.Marshal directly as a PatchWire.Value or StateUpdateWire.Snapshot.
// Unlike CanonicalEncode, key order is not normalized: wire encodings don't
// need it, only hashing does.
func ToNative(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindDouble:
		return v.d
	case KindString:
		return v.s
	case KindBytes:
		return v.bytes
	case KindArray:
		out := make([]any, len(v.arr))
		for i, elem := range v.arr {
			out[i] = ToNative(elem)
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, elem := range v.m {
			out[k] = ToNative(elem)
		}
		return out
	default:
		return nil
	}
}

// MustFromAny converts v or logs and falls back to null, mirroring the
// "never drop the patch or crash" failure mode required by It is
// the helper containers call from their mutation paths.
func MustFromAny(v any, context string) Value {
	val, err := FromAny(v)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "MustFromAny",
			"context":  context,
			"error":    err.Error(),
		}).Warn("state: snapshot conversion failed, recording null fallback")
		return Null()
	}
	return val
}
