package state

import (
	"strings"

	"landkeeper/pkg/wire"
)

// SyncPolicy is the visibility annotation attached to every field or
// container element. It propagates by containment: a perPlayer
// map's children are perPlayer regardless of their own annotation.
type SyncPolicy int

const (
	// Broadcast is visible to every joined player.
	Broadcast SyncPolicy = iota
	// PerPlayer is visible only to the player keyed by the containing
	// reactive map's key.
	PerPlayer
	// Internal is never sent to any client.
	Internal
)

func (p SyncPolicy) String() string {
	switch p {
	case Broadcast:
		return "broadcast"
	case PerPlayer:
		return "perPlayer"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Patch is a single recorded mutation: an absolute path, an operation, and
// (for set/add) the new value already converted to a SnapshotValue. Scope
// and PerPlayerKey let the Sync Engine apply the visibility rule without
// re-walking the state tree at send time.
type Patch struct {
	Path         string
	Op           wire.PatchOp
	Value        Value
	Scope        SyncPolicy
	PerPlayerKey string // set iff Scope == PerPlayer; the enclosing map key
}

// EscapePathSegment applies JSON-Pointer-style escaping (~0 for ~, ~1 for /)
// to a single path segment before it is joined into an absolute path.
func EscapePathSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "~", "~0")
	segment = strings.ReplaceAll(segment, "/", "~1")
	return segment
}

// UnescapePathSegment reverses EscapePathSegment.
func UnescapePathSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "~1", "/")
	segment = strings.ReplaceAll(segment, "~0", "~")
	return segment
}

// JoinPath appends an escaped child segment to a parent absolute path.
func JoinPath(parent, childKey string) string {
	return parent + "/" + EscapePathSegment(childKey)
}

// PatchRecorder is the per-tick scratch buffer every mutation appends to
// when attached ( Lifecycles: "created at tick start, drained at
// sync time, cleared on successful send"). A nil *PatchRecorder is valid
// and simply means "not currently recording" (e.g. during initial-state
// construction before a Keeper attaches one).
type PatchRecorder struct {
	patches []Patch
}

// NewPatchRecorder returns an empty recorder ready to accept patches.
func NewPatchRecorder() *PatchRecorder {
	return &PatchRecorder{}
}

// Record appends a patch. Safe to call on a nil receiver (no-op), which
// lets containers unconditionally call rec.Record(...) without a nil check
// at every call site.
func (r *PatchRecorder) Record(p Patch) {
	if r == nil {
		return
	}
	r.patches = append(r.patches, p)
}

// Drain returns the accumulated patches and clears the recorder, matching
// the "drained at sync time, cleared on successful send" lifecycle. If send
// fails for a given session the Sync Engine is expected to keep its own
// per-player fallback state rather than re-draining this recorder.
func (r *PatchRecorder) Drain() []Patch {
	if r == nil || len(r.patches) == 0 {
		return nil
	}
	out := r.patches
	r.patches = nil
	return out
}

// Len reports the number of patches currently buffered.
func (r *PatchRecorder) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patches)
}
