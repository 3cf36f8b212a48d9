package state

import (
	"sort"

	"landkeeper/pkg/wire"
)

// ReactiveMap is a reactive string-keyed map. Its
// element policy is fixed at construction — most commonly Broadcast or
// PerPlayer, where PerPlayer means "each entry is visible only to the player
// named by its key".
type ReactiveMap[V any] struct {
	policy  SyncPolicy
	storage map[string]V
	ctx     MountContext
}

// NewMap constructs an empty reactive map whose entries carry the given
// sync policy.
func NewMap[V any](policy SyncPolicy) *ReactiveMap[V] {
	return &ReactiveMap[V]{policy: policy, storage: make(map[string]V)}
}

// NewBroadcastMap is sugar for NewMap[V](Broadcast).
func NewBroadcastMap[V any]() *ReactiveMap[V] { return NewMap[V](Broadcast) }

// NewPerPlayerMap is sugar for NewMap[V](PerPlayer): every entry and
// everything nested beneath it is visible only to the player named by its
// key.
func NewPerPlayerMap[V any]() *ReactiveMap[V] { return NewMap[V](PerPlayer) }

func (m *ReactiveMap[V]) isMapLike() {}

func (m *ReactiveMap[V]) remount(ctx MountContext) {
	m.ctx = ctx
	for key, v := range m.storage {
		if mv, ok := any(v).(mountable); ok {
			mv.remount(m.childContext(key))
		}
	}
}

func (m *ReactiveMap[V]) childContext(key string) MountContext {
	effective := m.ctx.effectivePolicy(m.policy)
	out := MountContext{
		ParentPath: JoinPath(m.ctx.ParentPath, key),
		Patches:    m.ctx.Patches,
		Dirty:      m.ctx.Dirty,
	}
	switch effective {
	case PerPlayer:
		p := PerPlayer
		out.InheritedScope = &p
		out.PerPlayerKey = key
	case Internal:
		i := Internal
		out.InheritedScope = &i
	default:
		out.InheritedScope = m.ctx.InheritedScope
		out.PerPlayerKey = m.ctx.PerPlayerKey
	}
	return out
}

// Set inserts or updates key, recording a patch and marking it dirty. If
// value is itself a reactive node it is mounted with this entry's context
// before being returned by subsequent Get calls.
func (m *ReactiveMap[V]) Set(key string, value V) {
	m.storage[key] = value
	if mv, ok := any(value).(mountable); ok {
		mv.remount(m.childContext(key))
	}
	snap := MustFromAny(value, "Map.Set:"+key)
	m.recordForKey(key, wire.PatchSet, snap)
}

// Delete removes key, recording a `remove` patch if it was present.
func (m *ReactiveMap[V]) Delete(key string) {
	if _, ok := m.storage[key]; !ok {
		return
	}
	delete(m.storage, key)
	m.recordForKey(key, wire.PatchRemove, Null())
}

func (m *ReactiveMap[V]) recordForKey(key string, op wire.PatchOp, snap Value) {
	effective := m.ctx.effectivePolicy(m.policy)
	path := JoinPath(m.ctx.ParentPath, key)
	perPlayerKey := ""
	if effective == PerPlayer {
		perPlayerKey = key
	}
	m.ctx.Dirty.Mark(path, effective, perPlayerKey)
	m.ctx.Patches.Record(Patch{Path: path, Op: op, Value: snap, Scope: effective, PerPlayerKey: perPlayerKey})
}

// Get returns the value at key and whether it was present, mounting it
// first if it implements mountable.
func (m *ReactiveMap[V]) Get(key string) (V, bool) {
	v, ok := m.storage[key]
	if ok {
		if mv, ok2 := any(v).(mountable); ok2 {
			mv.remount(m.childContext(key))
		}
	}
	return v, ok
}

// Keys returns the map's keys in sorted order (a stable, documented order;
// requires visiting maps in key order for hashing).
func (m *ReactiveMap[V]) Keys() []string {
	keys := make([]string, 0, len(m.storage))
	for k := range m.storage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of entries.
func (m *ReactiveMap[V]) Len() int { return len(m.storage) }

// Snapshot reduces the map to a SnapshotValue map of its entries, visiting
// keys in sorted order.
func (m *ReactiveMap[V]) Snapshot() (Value, error) {
	out := make(map[string]Value, len(m.storage))
	for _, k := range m.Keys() {
		v := m.storage[k]
		if node, ok := any(v).(Node); ok {
			snap, err := node.Snapshot()
			if err != nil {
				return Null(), err
			}
			out[k] = snap
			continue
		}
		snap, err := FromAny(v)
		if err != nil {
			return Null(), err
		}
		out[k] = snap
	}
	return Map(out), nil
}
