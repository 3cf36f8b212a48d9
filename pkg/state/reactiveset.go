package state

import "landkeeper/pkg/wire"

// Set is a reactive set: tracks inserted and
// removed elements. Elements must be comparable so membership is a plain Go
// map lookup; snapshotting visits elements in the documented total order
// from OrderElements.
type Set[T comparable] struct {
	policy  SyncPolicy
	storage map[T]struct{}
	ctx     MountContext
}

// NewSet constructs an empty reactive set with the given sync policy.
func NewSet[T comparable](policy SyncPolicy) *Set[T] {
	return &Set[T]{policy: policy, storage: make(map[T]struct{})}
}

func (s *Set[T]) isSetLike() {}

func (s *Set[T]) remount(ctx MountContext) {
	s.ctx = ctx
}

// Insert adds elem if absent, recording an `add` patch.
func (s *Set[T]) Insert(elem T) {
	if _, ok := s.storage[elem]; ok {
		return
	}
	s.storage[elem] = struct{}{}
	snap := MustFromAny(elem, "Set.Insert")
	s.record(elem, wire.PatchAdd, snap)
}

// Remove deletes elem if present, recording a `remove` patch.
func (s *Set[T]) Remove(elem T) {
	if _, ok := s.storage[elem]; !ok {
		return
	}
	delete(s.storage, elem)
	s.record(elem, wire.PatchRemove, Null())
}

// Contains reports set membership.
func (s *Set[T]) Contains(elem T) bool {
	_, ok := s.storage[elem]
	return ok
}

// Len reports the number of elements.
func (s *Set[T]) Len() int { return len(s.storage) }

func (s *Set[T]) record(elem T, op wire.PatchOp, snap Value) {
	effective := s.ctx.effectivePolicy(s.policy)
	elemSnap := MustFromAny(elem, "Set.record")
	enc, err := CanonicalEncode(elemSnap)
	key := ""
	if err == nil {
		key = string(enc)
	}
	path := JoinPath(s.ctx.ParentPath, key)
	perPlayerKey := ""
	if effective == PerPlayer {
		perPlayerKey = key
	}
	s.ctx.Dirty.Mark(path, effective, perPlayerKey)
	s.ctx.Patches.Record(Patch{Path: path, Op: op, Value: snap, Scope: effective, PerPlayerKey: perPlayerKey})
}

// Snapshot reduces the set to an ordered SnapshotValue array, in the
// documented total byte order over each element's canonical encoding.
func (s *Set[T]) Snapshot() (Value, error) {
	vals := make([]Value, 0, len(s.storage))
	for elem := range s.storage {
		v, err := FromAny(elem)
		if err != nil {
			return Null(), err
		}
		vals = append(vals, v)
	}
	ordered, err := OrderElements(vals)
	if err != nil {
		return Null(), err
	}
	return Array(ordered...), nil
}
