package state

// DirtyEntry records that something changed at Path during the current
// tick, independent of whether a patch was actually recorded for it. The
// Sync Engine uses the accumulated entries as a safety check: every
// broadcast-dirty field and every dirty per-player-container key must be
// covered by at least one recorded patch before the incremental path is
// taken.
type DirtyEntry struct {
	Path         string
	Scope        SyncPolicy
	PerPlayerKey string
}

// DirtyTracker accumulates DirtyEntry values for one tick. Like
// PatchRecorder, a nil *DirtyTracker is valid and a no-op, and it is
// retained (not cleared) by mutations regardless of whether a
// PatchRecorder is also attached.
type DirtyTracker struct {
	entries []DirtyEntry
	seen    map[string]struct{}
}

// NewDirtyTracker returns an empty tracker.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{seen: make(map[string]struct{})}
}

// Mark records that path changed this tick. Duplicate marks for the same
// path are coalesced.
func (d *DirtyTracker) Mark(path string, scope SyncPolicy, perPlayerKey string) {
	if d == nil {
		return
	}
	if d.seen == nil {
		d.seen = make(map[string]struct{})
	}
	if _, ok := d.seen[path]; ok {
		return
	}
	d.seen[path] = struct{}{}
	d.entries = append(d.entries, DirtyEntry{Path: path, Scope: scope, PerPlayerKey: perPlayerKey})
}

// Drain returns the accumulated entries and resets the tracker for the next
// tick.
func (d *DirtyTracker) Drain() []DirtyEntry {
	if d == nil || len(d.entries) == 0 {
		return nil
	}
	out := d.entries
	d.entries = nil
	d.seen = make(map[string]struct{})
	return out
}

// Len reports how many distinct paths are currently marked dirty.
func (d *DirtyTracker) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}
