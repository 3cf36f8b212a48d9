package state

import "fmt"

// ScopeInfo is the resolved (post-propagation) visibility of a single
// absolute path in a state tree at the moment a ScopedSnapshot was taken.
type ScopeInfo struct {
	Scope        SyncPolicy
	PerPlayerKey string
}

// scopedSnapshotter is implemented by Container, Map, and Set: it reduces
// the node to a Value exactly like Snapshot, but additionally records the
// resolved scope of every path it owns into scopes. The Sync Engine uses
// this to know which visibility rule applies to a patch synthesized by
// diffing two snapshots, since those patches don't carry a
// Scope the way incrementally-recorded Patch values do.
type scopedSnapshotter interface {
	scopedSnapshot(scopes map[string]ScopeInfo) (Value, error)
}

// ownPolicyProvider is implemented by Map and Set so a parent Container can
// ask for the policy actually governing a field, instead of the struct
// tag's declared policy (which for Map/Set fields is only honored when it
// says "internal").
type ownPolicyProvider interface {
	declaredPolicy() SyncPolicy
}

// ScopedSnapshot reduces n to a SnapshotValue and returns a parallel index
// of every reachable absolute path's resolved scope.
func ScopedSnapshot(n Node) (Value, map[string]ScopeInfo, error) {
	scopes := make(map[string]ScopeInfo)
	if ss, ok := n.(scopedSnapshotter); ok {
		v, err := ss.scopedSnapshot(scopes)
		if err != nil {
			return Null(), nil, fmt.Errorf("state: scoped snapshot: %w", err)
		}
		return v, scopes, nil
	}
	v, err := n.Snapshot()
	if err != nil {
		return Null(), nil, err
	}
	return v, scopes, nil
}

func (m *ReactiveMap[V]) declaredPolicy() SyncPolicy { return m.policy }
func (s *Set[T]) declaredPolicy() SyncPolicy { return s.policy }

func (c *Container) scopedSnapshot(scopes map[string]ScopeInfo) (Value, error) {
	out := make(map[string]Value, len(c.meta.fields))
	elem := c.storage.Elem()
	for _, f := range c.meta.fields {
		fv := elem.Field(f.Index)
		if !fv.CanInterface() {
			continue
		}
		val := fv.Interface()
		childCtx := childContextFor(c.ctx, f.Name, f.Policy, val)
		declared := f.Policy
		if p, ok := val.(ownPolicyProvider); ok {
			declared = p.declaredPolicy()
		}
		eff := childCtx.effectivePolicy(declared)
		path := JoinPath(c.ctx.ParentPath, f.Name)
		perPlayerKey := ""
		if eff == PerPlayer {
			perPlayerKey = childCtx.PerPlayerKey
		}
		scopes[path] = ScopeInfo{Scope: eff, PerPlayerKey: perPlayerKey}

		snap, err := snapshotValueOf(val, isNilValue(fv), scopes)
		if err != nil {
			return Null(), fmt.Errorf("field %q: %w", f.Name, err)
		}
		out[f.Name] = snap
	}
	return Map(out), nil
}

func (m *ReactiveMap[V]) scopedSnapshot(scopes map[string]ScopeInfo) (Value, error) {
	out := make(map[string]Value, len(m.storage))
	effective := m.ctx.effectivePolicy(m.policy)
	for _, k := range m.Keys() {
		v := m.storage[k]
		perPlayerKey := ""
		if effective == PerPlayer {
			perPlayerKey = k
		}
		path := JoinPath(m.ctx.ParentPath, k)
		scopes[path] = ScopeInfo{Scope: effective, PerPlayerKey: perPlayerKey}

		var (
			snap Value
			err  error
		)
		if ss, ok := any(v).(scopedSnapshotter); ok {
			snap, err = ss.scopedSnapshot(scopes)
		} else if node, ok := any(v).(Node); ok {
			snap, err = node.Snapshot()
		} else {
			snap, err = FromAny(v)
		}
		if err != nil {
			return Null(), fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = snap
	}
	return Map(out), nil
}

func (s *Set[T]) scopedSnapshot(scopes map[string]ScopeInfo) (Value, error) {
	effective := s.ctx.effectivePolicy(s.policy)
	vals := make([]Value, 0, len(s.storage))
	for elem := range s.storage {
		v, err := FromAny(elem)
		if err != nil {
			return Null(), err
		}
		enc, err := CanonicalEncode(v)
		if err != nil {
			return Null(), err
		}
		perPlayerKey := ""
		if effective == PerPlayer {
			perPlayerKey = string(enc)
		}
		scopes[JoinPath(s.ctx.ParentPath, string(enc))] = ScopeInfo{Scope: effective, PerPlayerKey: perPlayerKey}
		vals = append(vals, v)
	}
	ordered, err := OrderElements(vals)
	if err != nil {
		return Null(), err
	}
	return Array(ordered...), nil
}

func snapshotValueOf(val any, isNil bool, scopes map[string]ScopeInfo) (Value, error) {
	if ss, ok := val.(scopedSnapshotter); ok && !isNil {
		return ss.scopedSnapshot(scopes)
	}
	if node, ok := val.(Node); ok && !isNil {
		return node.Snapshot()
	}
	return FromAny(val)
}
