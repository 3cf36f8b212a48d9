package syncengine

import (
	"strings"

	"landkeeper/pkg/state"
	"landkeeper/pkg/wire"
)

// computedPatch is a diff-synthesized patch. It carries no scope: the
// snapshots it is computed from were already filtered for the receiving
// player by filterVisible.
type computedPatch struct {
	Path  string
	Op    wire.PatchOp
	Value state.Value
}

// diffValues walks old and next in lock-step and returns the patches needed
// to turn old into next, rooted at path. Arrays (used only for reactive-set
// snapshots) have no stable per-element identity, so a changed array is
// replaced wholesale rather than diffed element-by-element.
func diffValues(old, next state.Value, path string) ([]computedPatch, error) {
	if old.IsNull() && next.IsNull() {
		return nil, nil
	}
	if old.IsNull() && !next.IsNull() {
		return []computedPatch{{Path: path, Op: wire.PatchSet, Value: next}}, nil
	}
	if !old.IsNull() && next.IsNull() {
		return []computedPatch{{Path: path, Op: wire.PatchRemove}}, nil
	}
	if old.Kind() != next.Kind() {
		return []computedPatch{{Path: path, Op: wire.PatchSet, Value: next}}, nil
	}

	switch next.Kind() {
	case state.KindMap:
		return diffMaps(old.MapValue(), next.MapValue(), path)
	default:
		same, err := valuesEqual(old, next)
		if err != nil {
			return nil, err
		}
		if same {
			return nil, nil
		}
		return []computedPatch{{Path: path, Op: wire.PatchSet, Value: next}}, nil
	}
}

func diffMaps(old, next map[string]state.Value, path string) ([]computedPatch, error) {
	var out []computedPatch
	for k, nv := range next {
		childPath := state.JoinPath(path, k)
		ov, ok := old[k]
		if !ok {
			out = append(out, computedPatch{Path: childPath, Op: wire.PatchSet, Value: nv})
			continue
		}
		sub, err := diffValues(ov, nv, childPath)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	for k := range old {
		if _, ok := next[k]; !ok {
			out = append(out, computedPatch{Path: state.JoinPath(path, k), Op: wire.PatchRemove})
		}
	}
	return out, nil
}

func valuesEqual(a, b state.Value) (bool, error) {
	ea, err := state.CanonicalEncode(a)
	if err != nil {
		return false, err
	}
	eb, err := state.CanonicalEncode(b)
	if err != nil {
		return false, err
	}
	return string(ea) == string(eb), nil
}

// valueAtPath navigates an absolute slash path into a Value tree built only
// of KindMap nodes at each level (Container and ReactiveMap both reduce this
// way). It returns ok=false if any segment doesn't resolve cleanly — in
// particular when it passes through a reactive-set's KindArray
// representation, which has no per-element lookup by path.
func valueAtPath(root state.Value, path string) (state.Value, bool) {
	if path == "" || path == "/" {
		return root, true
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := root
	for _, seg := range segments {
		if cur.Kind() != state.KindMap {
			return state.Null(), false
		}
		key := state.UnescapePathSegment(seg)
		v, ok := cur.MapValue()[key]
		if !ok {
			return state.Null(), false
		}
		cur = v
	}
	return cur, true
}

func setValueAtPath(root state.Value, path string, val state.Value) state.Value {
	if path == "" || path == "/" {
		return val
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	return setRecursive(root, segments, val)
}

func setRecursive(cur state.Value, segments []string, val state.Value) state.Value {
	key := state.UnescapePathSegment(segments[0])
	m := map[string]state.Value{}
	if cur.Kind() == state.KindMap {
		for k, v := range cur.MapValue() {
			m[k] = v
		}
	}
	if len(segments) == 1 {
		m[key] = val
	} else {
		child, ok := m[key]
		if !ok || child.Kind() != state.KindMap {
			child = state.Map(map[string]state.Value{})
		}
		m[key] = setRecursive(child, segments[1:], val)
	}
	return state.Map(m)
}

func removeValueAtPath(root state.Value, path string) state.Value {
	if path == "" || path == "/" {
		return state.Null()
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	return removeRecursive(root, segments)
}

func removeRecursive(cur state.Value, segments []string) state.Value {
	if cur.Kind() != state.KindMap {
		return cur
	}
	m := map[string]state.Value{}
	for k, v := range cur.MapValue() {
		m[k] = v
	}
	key := state.UnescapePathSegment(segments[0])
	if len(segments) == 1 {
		delete(m, key)
	} else if child, ok := m[key]; ok {
		m[key] = removeRecursive(child, segments[1:])
	}
	return state.Map(m)
}

func patchBytes(path string, v state.Value) int {
	n := len(path)
	if enc, err := state.CanonicalEncode(v); err == nil {
		n += len(enc)
	}
	return n
}

func sumBytes(patches []computedPatch) int {
	n := 0
	for _, p := range patches {
		n += patchBytes(p.Path, p.Value)
	}
	return n
}

func toWirePatches(patches []computedPatch) []wire.PatchWire {
	out := make([]wire.PatchWire, len(patches))
	for i, p := range patches {
		pw := wire.PatchWire{Path: p.Path, Op: p.Op}
		if p.Op != wire.PatchRemove {
			pw.Value = state.ToNative(p.Value)
		}
		out[i] = pw
	}
	return out
}

// filterVisible reduces a fully-scoped snapshot to the subset visible to
// playerID, using scopes to decide, at every path, whether to keep or drop a
// node. A PerPlayer scope entry with an empty PerPlayerKey is a pass-through
// container (a reactive map/set field itself, not one of its entries) and is
// never gated directly — its children carry their own, correctly-keyed,
// scope entries.
func filterVisible(v state.Value, scopes map[string]state.ScopeInfo, path string, playerID string) state.Value {
	if v.Kind() != state.KindMap {
		return v
	}
	out := make(map[string]state.Value)
	for k, child := range v.MapValue() {
		childPath := state.JoinPath(path, k)
		info, known := scopes[childPath]
		if known {
			switch info.Scope {
			case state.Internal:
				continue
			case state.PerPlayer:
				if info.PerPlayerKey != "" && info.PerPlayerKey != playerID {
					continue
				}
			}
		}
		out[k] = filterVisible(child, scopes, childPath, playerID)
	}
	return state.Map(out)
}

// pathRoot returns the top-level segment of an absolute path (used to
// collapse a tick's dirty entries into a minimal set of subtrees to rebuild
// for dirty-snapshot-diff).
func pathRoot(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.Index(trimmed, "/"); i >= 0 {
		return "/" + trimmed[:i]
	}
	return "/" + trimmed
}
