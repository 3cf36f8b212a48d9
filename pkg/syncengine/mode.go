package syncengine

// Mode is the strategy the engine used to compute a given tick's updates.
type Mode int

const (
	// ModeIncremental emits exactly the recorded patches, filtered by
	// visibility. Always the smallest payload when its precondition holds.
	ModeIncremental Mode = iota
	// ModeDirtySnapshotDiff takes a full scoped snapshot, then diffs only the
	// top-level subtrees that contain this pass's dirty paths against the
	// player's last-acknowledged snapshot.
	ModeDirtySnapshotDiff
	// ModeFullDiff snapshots the whole state and diffs against the player's
	// last-acknowledged snapshot.
	ModeFullDiff
)

func (m Mode) String() string {
	switch m {
	case ModeIncremental:
		return "incremental"
	case ModeDirtySnapshotDiff:
		return "dirty-snapshot-diff"
	case ModeFullDiff:
		return "full-diff"
	default:
		return "unknown"
	}
}

// AdaptiveConfig tunes the adaptive dirty-tracking disable/re-enable switch.
// Zero value disables adaptation (dirty tracking always stays on).
type AdaptiveConfig struct {
	Enabled bool
	// DisableAfterSamples is how many consecutive ticks in which
	// dirty-snapshot-diff emitted fewer bytes than incremental before the
	// engine disables dirty tracking (falling back to full diff every tick).
	DisableAfterSamples int
	// ReenableAfterSamples is the same counter in reverse: consecutive ticks
	// where incremental would have won before dirty tracking is turned back
	// on.
	ReenableAfterSamples int
}

// adaptiveState is the engine's running bookkeeping for the adaptive switch.
type adaptiveState struct {
	dirtyTrackingDisabled bool
	diffWinStreak         int
	incrementalWinStreak  int
}

func (a *adaptiveState) recordSample(cfg AdaptiveConfig, incrementalBytes, diffBytes int, incrementalApplicable bool) {
	if !cfg.Enabled {
		return
	}
	if !a.dirtyTrackingDisabled {
		if incrementalApplicable && diffBytes < incrementalBytes {
			a.diffWinStreak++
			a.incrementalWinStreak = 0
		} else {
			a.diffWinStreak = 0
		}
		if cfg.DisableAfterSamples > 0 && a.diffWinStreak >= cfg.DisableAfterSamples {
			a.dirtyTrackingDisabled = true
			a.diffWinStreak = 0
		}
		return
	}
	if incrementalApplicable && incrementalBytes <= diffBytes {
		a.incrementalWinStreak++
		a.diffWinStreak = 0
	} else {
		a.incrementalWinStreak = 0
	}
	if cfg.ReenableAfterSamples > 0 && a.incrementalWinStreak >= cfg.ReenableAfterSamples {
		a.dirtyTrackingDisabled = false
		a.incrementalWinStreak = 0
	}
}
