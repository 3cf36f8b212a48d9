package state

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// CanonicalEncode produces a byte-identical encoding for byte-identical
// Values: map keys are sorted lexicographically at every level before
// encoding, so two Values built from the same logical content but a
// different map-insertion order encode identically. This is the
// representation both the replay hash and the dirty-snapshot-diff
// full-state hash are computed over.
func CanonicalEncode(v Value) ([]byte, error) {
	enc := canonicalEncoder{}
	native, err := enc.toNative(v)
	if err != nil {
		return nil, fmt.Errorf("state: canonicalize: %w", err)
	}
	out, err := msgpack.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("state: canonical msgpack encode: %w", err)
	}
	return out, nil
}

// Hash returns the canonical xxhash of v's canonical encoding. Equal Values
// (by canonical content) always hash equal; this is the per-tick state hash
// the replay verifier chains.
func Hash(v Value) (uint64, error) {
	data, err := CanonicalEncode(v)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

type canonicalEncoder struct{}

// toNative converts a Value tree into a tree of native Go values
// (map[string]any with sorted key iteration achieved by using an ordered
// slice-of-pairs representation), ready for a deterministic msgpack
// encoding. msgpack's default map encoder does not guarantee key order, so
// maps are represented as an ordered slice of [key, value] pairs instead —
// this is what actually makes the encoding canonical.
func (e canonicalEncoder) toNative(v Value) (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindInt:
		return v.i, nil
	case KindDouble:
		return v.d, nil
	case KindString:
		return v.s, nil
	case KindBytes:
		return v.bytes, nil
	case KindArray:
		out := make([]any, len(v.arr))
		for i, elem := range v.arr {
			nv, err := e.toNative(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = nv
		}
		return out, nil
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([][2]any, 0, len(keys))
		for _, k := range keys {
			nv, err := e.toNative(v.m[k])
			if err != nil {
				return nil, fmt.Errorf("map[%q]: %w", k, err)
			}
			pairs = append(pairs, [2]any{k, nv})
		}
		return pairs, nil
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

// OrderElements returns vs sorted by each element's canonical encoding in
// byte order. This is the "documented total order" requires for
// hashing reactive-set contents, and works uniformly across set element
// types (int, string, bytes) without a type-specific comparator.
func OrderElements(vs []Value) ([]Value, error) {
	type keyed struct {
		key []byte
		val Value
	}
	ks := make([]keyed, len(vs))
	for i, v := range vs {
		enc, err := CanonicalEncode(v)
		if err != nil {
			return nil, fmt.Errorf("state: order element %d: %w", i, err)
		}
		ks[i] = keyed{key: enc, val: v}
	}
	sort.Slice(ks, func(i, j int) bool {
		return string(ks[i].key) < string(ks[j].key)
	})
	out := make([]Value, len(ks))
	for i, k := range ks {
		out[i] = k.val
	}
	return out, nil
}
