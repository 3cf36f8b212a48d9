package state

import "landkeeper/pkg/wire"

// MountContext is injected into a container/map/set when a caller reads it
// out of its parent, so that mutations performed through the returned view
// record patches with the correct absolute path and scope — clone-and-inject,
// never stored parent pointers. The Land Keeper constructs the root
// MountContext with ParentPath "" and its own PatchRecorder/DirtyTracker;
// every container appends its own escaped key segment as it hands out
// child views.
type MountContext struct {
	ParentPath string
	Patches    *PatchRecorder
	Dirty      *DirtyTracker

	// InheritedScope, when non-nil, forces every field/element beneath this
	// point to the given policy regardless of its own declared annotation.
	// This is how a perPlayer or internal container propagates its scope to
	// its children: the policy propagates by containment.
	InheritedScope *SyncPolicy
	// PerPlayerKey is the nearest enclosing perPlayer map's key; meaningful
	// only when InheritedScope points at PerPlayer.
	PerPlayerKey string
}

// Root returns the MountContext a Land Keeper attaches to its top-level
// state container: empty path, the tick's recorder and tracker, no scope
// override.
func Root(rec *PatchRecorder, dirty *DirtyTracker) MountContext {
	return MountContext{ParentPath: "", Patches: rec, Dirty: dirty}
}

// Child derives the MountContext for a field/key named childKey living
// beneath this context, given that field's own declared policy. It
// implements the containment-propagation rule in one place so every
// container type (Container, Map, Set) calls it identically.
func (ctx MountContext) Child(childKey string, declared SyncPolicy) MountContext {
	effective := ctx.effectivePolicy(declared)

	out := MountContext{
		ParentPath: JoinPath(ctx.ParentPath, childKey),
		Patches:    ctx.Patches,
		Dirty:      ctx.Dirty,
	}

	switch effective {
	case PerPlayer:
		p := PerPlayer
		out.InheritedScope = &p
		if ctx.InheritedScope != nil && *ctx.InheritedScope == PerPlayer {
			out.PerPlayerKey = ctx.PerPlayerKey
		} else {
			out.PerPlayerKey = childKey
		}
	case Internal:
		i := Internal
		out.InheritedScope = &i
	default:
		out.InheritedScope = ctx.InheritedScope
		out.PerPlayerKey = ctx.PerPlayerKey
	}
	return out
}

// effectivePolicy resolves a node's own scope given its declared policy and
// any inherited override from its ancestors.
func (ctx MountContext) effectivePolicy(declared SyncPolicy) SyncPolicy {
	if ctx.InheritedScope != nil {
		return *ctx.InheritedScope
	}
	return declared
}

// EffectivePolicy is the exported form of effectivePolicy, used by
// container implementations when recording a patch for themselves (as
// opposed to deriving a child context).
func (ctx MountContext) EffectivePolicy(declared SyncPolicy) SyncPolicy {
	return ctx.effectivePolicy(declared)
}

// recordPatch is a small helper shared by Container/Map/Set: it appends a
// patch to ctx.Patches and marks ctx.Dirty for the same path, using the
// effective (post-propagation) scope.
func (ctx MountContext) recordPatch(childKey string, declared SyncPolicy, op wire.PatchOp, value Value) {
	path := JoinPath(ctx.ParentPath, childKey)
	scope := ctx.effectivePolicy(declared)
	perPlayerKey := ""
	if scope == PerPlayer {
		perPlayerKey = childKey
		if ctx.InheritedScope != nil && *ctx.InheritedScope == PerPlayer {
			perPlayerKey = ctx.PerPlayerKey
		}
	}
	ctx.Dirty.Mark(path, scope, perPlayerKey)
	ctx.Patches.Record(Patch{Path: path, Op: op, Value: value, Scope: scope, PerPlayerKey: perPlayerKey})
}

// Node is implemented by any state-tree node (Container, Map, Set, or a
// bare Leaf) that can reduce itself to a SnapshotValue. The Sync Engine and
// the firstSync path both call Snapshot to build full or partial snapshots.
type Node interface {
	Snapshot() (Value, error)
}
